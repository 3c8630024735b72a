package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transmental/xterm/internal/app"
	"github.com/transmental/xterm/internal/tokenstore"
	"github.com/transmental/xterm/internal/xapi"
)

func TestParseShellLine(t *testing.T) {
	tests := []struct {
		line string
		want []string
	}{
		{"", nil},
		{"   ", nil},
		{"whoami", []string{"whoami"}},
		{"post hello   world", []string{"post", "hello", "world"}},
		{`post "hello   world"`, []string{"post", "hello   world"}},
		{`post-media 'my pic.png' caption here`, []string{"post-media", "my pic.png", "caption", "here"}},
		{`post it\'s fine`, []string{"post", "it's", "fine"}},
		{`post 'no \escape'`, []string{"post", `no \escape`}},
		{`post ""`, []string{"post", ""}},
		{"\tstatus\t", []string{"status"}},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, err := parseShellLine(tt.line)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseShellLine_Errors(t *testing.T) {
	for _, line := range []string{`post "unterminated`, `post 'x`, `post trailing\`} {
		_, err := parseShellLine(line)
		assert.Error(t, err, line)
		assert.Equal(t, "usage", errorKind(err))
	}
}

type shellEnv struct {
	console *console
	app     *app.App
	store   *tokenstore.Store
	out     *bytes.Buffer
	errOut  *bytes.Buffer

	mu     sync.Mutex
	posted []string
}

func (e *shellEnv) postedTexts() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.posted...)
}

func newShellEnv(t *testing.T) *shellEnv {
	t.Helper()

	env := &shellEnv{out: &bytes.Buffer{}, errOut: &bytes.Buffer{}}

	apiSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/2/users/me":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"data": map[string]any{"id": "42", "name": "Ada", "username": "ada"},
			})
		case r.Method == http.MethodPost && r.URL.Path == "/2/tweets":
			var body struct {
				Text string `json:"text"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			env.mu.Lock()
			env.posted = append(env.posted, body.Text)
			env.mu.Unlock()
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"data": map[string]any{"id": "1001", "text": body.Text},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(apiSrv.Close)

	dir := t.TempDir()
	cfg := &app.Config{
		Storage: app.StorageConfig{Dir: dir},
		API:     app.APIConfig{BaseURL: apiSrv.URL},
	}
	require.NoError(t, cfg.ApplyDefaults())

	a, err := app.New(cfg, app.WithClientOptions(xapi.WithRetry(0, time.Millisecond, time.Millisecond)))
	require.NoError(t, err)
	env.app = a

	env.store, err = tokenstore.NewFileStore(dir)
	require.NoError(t, err)

	env.console = &console{
		in:      io.NopCloser(&bytes.Buffer{}),
		out:     env.out,
		errOut:  env.errOut,
		environ: func() []string { return nil },
		now:     time.Now,
	}
	return env
}

func (e *shellEnv) login(t *testing.T) {
	t.Helper()
	require.NoError(t, e.store.SaveTokens(context.Background(), tokenstore.TokenSet{
		AccessToken:  "at",
		RefreshToken: "rt",
		ExpiresAt:    time.Now().Add(time.Hour),
	}))
}

func TestShell_ExitAndHelp(t *testing.T) {
	env := newShellEnv(t)
	ctx := context.Background()

	assert.True(t, env.console.execute(ctx, env.app, "exit"))
	assert.True(t, env.console.execute(ctx, env.app, "  quit "))
	assert.False(t, env.console.execute(ctx, env.app, ""))

	assert.False(t, env.console.execute(ctx, env.app, "help"))
	assert.Contains(t, env.out.String(), "post-media <path> <text>")
}

func TestShell_ErrorsDoNotStopTheShell(t *testing.T) {
	env := newShellEnv(t)
	ctx := context.Background()

	assert.False(t, env.console.execute(ctx, env.app, "whoami"))
	assert.Contains(t, env.errOut.String(), "xterm: not_logged_in:")

	env.errOut.Reset()
	assert.False(t, env.console.execute(ctx, env.app, "post"))
	assert.Contains(t, env.errOut.String(), "xterm: usage: post <text>")

	env.errOut.Reset()
	assert.False(t, env.console.execute(ctx, env.app, "frobnicate"))
	assert.Contains(t, env.errOut.String(), `unknown command "frobnicate"`)

	env.errOut.Reset()
	assert.False(t, env.console.execute(ctx, env.app, `post "open`))
	assert.Contains(t, env.errOut.String(), "unterminated quote")
}

func TestShell_WhoamiAndPost(t *testing.T) {
	env := newShellEnv(t)
	env.login(t)
	ctx := context.Background()

	env.console.execute(ctx, env.app, "whoami")
	assert.Equal(t, "Ada (@ada) id=42\n", env.out.String())

	env.out.Reset()
	env.console.execute(ctx, env.app, `post "hello   there" world`)
	assert.Equal(t, "Posted: id=1001\n", env.out.String())
	assert.Equal(t, []string{"hello   there world"}, env.postedTexts())
	assert.Empty(t, env.errOut.String())
}

func TestShell_PostMediaRejectsUnsupportedFile(t *testing.T) {
	env := newShellEnv(t)
	env.login(t)

	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("plain text is not media"), 0o600))

	env.console.execute(context.Background(), env.app, "post-media "+path+" caption")
	assert.Contains(t, env.errOut.String(), "xterm: unsupported_media:")
	assert.Empty(t, env.postedTexts())
}

func TestShell_PostMediaMissingFile(t *testing.T) {
	env := newShellEnv(t)
	env.login(t)

	env.console.execute(context.Background(), env.app, "post-media /does/not/exist.png caption")
	assert.Contains(t, env.errOut.String(), "failed to read media file")
}

func TestShell_StatusAndLogout(t *testing.T) {
	env := newShellEnv(t)
	env.login(t)
	ctx := context.Background()

	env.console.execute(ctx, env.app, "status")
	assert.Contains(t, env.out.String(), "Logged in")
	assert.Contains(t, env.out.String(), "yes")

	env.out.Reset()
	env.console.execute(ctx, env.app, "logout")
	assert.Equal(t, "Logged out.\n", env.out.String())

	_, ok := env.store.LoadTokens(ctx)
	assert.False(t, ok)
}

func TestShell_LogoutTakesEffectImmediately(t *testing.T) {
	env := newShellEnv(t)
	env.login(t)
	ctx := context.Background()

	env.console.execute(ctx, env.app, "whoami")
	assert.Equal(t, "Ada (@ada) id=42\n", env.out.String())

	env.console.execute(ctx, env.app, "logout")
	require.Empty(t, env.errOut.String())

	env.console.execute(ctx, env.app, "whoami")
	assert.Contains(t, env.errOut.String(), "xterm: not_logged_in:")
}
