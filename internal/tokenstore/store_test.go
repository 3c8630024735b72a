package tokenstore

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), ".xterm")
	store, err := NewFileStore(dir)
	require.NoError(t, err)
	return store, dir
}

func TestStore_TokensRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	tests := []TokenSet{
		{AccessToken: "access", RefreshToken: "refresh", ExpiresAt: time.UnixMilli(1_700_000_000_123)},
		{AccessToken: "a-with-üñíçødé", RefreshToken: "r/+=", ExpiresAt: time.UnixMilli(1)},
	}

	for _, want := range tests {
		require.NoError(t, store.SaveTokens(ctx, want))

		got, ok := store.LoadTokens(ctx)
		require.True(t, ok)
		assert.Equal(t, want.AccessToken, got.AccessToken)
		assert.Equal(t, want.RefreshToken, got.RefreshToken)
		assert.True(t, want.ExpiresAt.Equal(got.ExpiresAt), "expiresAt %v != %v", want.ExpiresAt, got.ExpiresAt)
	}
}

func TestStore_SaveTokens_Validation(t *testing.T) {
	ctx := context.Background()
	store, dir := newTestStore(t)
	expires := time.Now().Add(time.Hour)

	err := store.SaveTokens(ctx, TokenSet{AccessToken: "a", ExpiresAt: expires})
	require.ErrorIs(t, err, ErrMissingRefreshToken)

	err = store.SaveTokens(ctx, TokenSet{RefreshToken: "r", ExpiresAt: expires})
	require.ErrorIs(t, err, ErrInvalidTokenSet)

	err = store.SaveTokens(ctx, TokenSet{AccessToken: "a", RefreshToken: "r"})
	require.ErrorIs(t, err, ErrInvalidTokenSet)

	// Rejected sets must not be written
	_, statErr := os.Stat(filepath.Join(dir, TokensFile))
	assert.True(t, os.IsNotExist(statErr))
}

func TestStore_SaveTokens_RejectionKeepsPreviousSet(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	valid := TokenSet{AccessToken: "a", RefreshToken: "r", ExpiresAt: time.UnixMilli(42_000)}
	require.NoError(t, store.SaveTokens(ctx, valid))
	require.Error(t, store.SaveTokens(ctx, TokenSet{AccessToken: "b", ExpiresAt: time.UnixMilli(43_000)}))

	got, ok := store.LoadTokens(ctx)
	require.True(t, ok)
	assert.Equal(t, "a", got.AccessToken)
}

func TestStore_LoadTokens_Absent(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		content string
		mode    os.FileMode
	}{
		{name: "malformed json", content: "{not json", mode: 0600},
		{name: "empty file", content: "", mode: 0600},
		{name: "missing refresh token", content: `{"accessToken":"a","expiresAt":1700000000000}`, mode: 0600},
		{name: "missing access token", content: `{"refreshToken":"r","expiresAt":1700000000000}`, mode: 0600},
		{name: "missing expiry", content: `{"accessToken":"a","refreshToken":"r"}`, mode: 0600},
		{name: "wrong types", content: `{"accessToken":1,"refreshToken":"r","expiresAt":"soon"}`, mode: 0600},
		{name: "world writable", content: `{"accessToken":"a","refreshToken":"r","expiresAt":1}`, mode: 0666},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, dir := newTestStore(t)
			require.NoError(t, os.MkdirAll(dir, 0700))
			path := filepath.Join(dir, TokensFile)
			require.NoError(t, os.WriteFile(path, []byte(tt.content), tt.mode))
			require.NoError(t, os.Chmod(path, tt.mode))

			got, ok := store.LoadTokens(ctx)
			assert.False(t, ok)
			assert.Nil(t, got)
		})
	}

	t.Run("missing file", func(t *testing.T) {
		store, _ := newTestStore(t)
		got, ok := store.LoadTokens(ctx)
		assert.False(t, ok)
		assert.Nil(t, got)
	})
}

func TestStore_ReadsLegacyDocuments(t *testing.T) {
	ctx := context.Background()
	store, dir := newTestStore(t)
	require.NoError(t, os.MkdirAll(dir, 0700))

	// Documents as written by earlier releases: pretty-printed, no attempt/createdAt,
	// default umask permissions
	tokens := "{\n  \"accessToken\": \"at\",\n  \"refreshToken\": \"rt\",\n  \"expiresAt\": 1700000000000\n}"
	pending := "{\n  \"codeVerifier\": \"v1\",\n  \"state\": \"s1\"\n}"
	for name, content := range map[string]string{TokensFile: tokens, PendingFile: pending} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
		require.NoError(t, os.Chmod(path, 0644))
	}

	ts, ok := store.LoadTokens(ctx)
	require.True(t, ok)
	assert.Equal(t, int64(1700000000000), ts.ExpiresAt.UnixMilli())

	p, ok := store.LoadPending(ctx)
	require.True(t, ok)
	assert.Equal(t, "v1", p.CodeVerifier)
	assert.Equal(t, "s1", p.State)
	assert.True(t, p.CreatedAt.IsZero())
	assert.Empty(t, p.Attempt)
}

func TestStore_PendingLifecycle(t *testing.T) {
	ctx := context.Background()
	store, dir := newTestStore(t)

	_, ok := store.LoadPending(ctx)
	assert.False(t, ok)

	first := PendingAuthorization{CodeVerifier: "v1", State: "s1", CreatedAt: time.UnixMilli(1000), Attempt: "a1"}
	require.NoError(t, store.SavePending(ctx, first))

	// Directory is created on first save with owner-only permissions
	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0700), info.Mode().Perm())

	got, ok := store.LoadPending(ctx)
	require.True(t, ok)
	assert.Equal(t, first.CodeVerifier, got.CodeVerifier)
	assert.Equal(t, first.State, got.State)
	assert.Equal(t, first.Attempt, got.Attempt)
	assert.True(t, first.CreatedAt.Equal(got.CreatedAt))

	// A new attempt overwrites the previous one
	second := PendingAuthorization{CodeVerifier: "v2", State: "s2", Attempt: "a2"}
	require.NoError(t, store.SavePending(ctx, second))
	got, ok = store.LoadPending(ctx)
	require.True(t, ok)
	assert.Equal(t, "s2", got.State)

	require.NoError(t, store.ClearPending(ctx))
	_, ok = store.LoadPending(ctx)
	assert.False(t, ok)

	// Clearing twice is fine
	require.NoError(t, store.ClearPending(ctx))
}

func TestStore_SavePending_Validation(t *testing.T) {
	store, _ := newTestStore(t)

	err := store.SavePending(context.Background(), PendingAuthorization{State: "s"})
	require.ErrorIs(t, err, ErrInvalidPending)

	err = store.SavePending(context.Background(), PendingAuthorization{CodeVerifier: "v"})
	require.ErrorIs(t, err, ErrInvalidPending)
}

func TestStore_LoadPending_Malformed(t *testing.T) {
	ctx := context.Background()
	store, dir := newTestStore(t)
	require.NoError(t, os.MkdirAll(dir, 0700))

	for _, content := range []string{"[]", `{"state":"s1"}`, `{"codeVerifier":"v1"}`, "garbage"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, PendingFile), []byte(content), 0600))
		_, ok := store.LoadPending(ctx)
		assert.False(t, ok, "content %q", content)
	}
}

func TestStore_Clear(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	require.NoError(t, store.SaveTokens(ctx, TokenSet{AccessToken: "a", RefreshToken: "r", ExpiresAt: time.UnixMilli(1)}))
	require.NoError(t, store.SavePending(ctx, PendingAuthorization{CodeVerifier: "v", State: "s"}))

	require.NoError(t, store.Clear(ctx))

	_, ok := store.LoadTokens(ctx)
	assert.False(t, ok)
	_, ok = store.LoadPending(ctx)
	assert.False(t, ok)
}

func TestStore_WritesCompatibleJSON(t *testing.T) {
	ctx := context.Background()
	store, dir := newTestStore(t)

	require.NoError(t, store.SaveTokens(ctx, TokenSet{AccessToken: "a", RefreshToken: "r", ExpiresAt: time.UnixMilli(1234)}))

	data, err := os.ReadFile(filepath.Join(dir, TokensFile))
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, map[string]any{"accessToken": "a", "refreshToken": "r", "expiresAt": float64(1234)}, raw)
}

func TestKeyringStore(t *testing.T) {
	keyring.MockInit()
	ctx := context.Background()

	store, err := NewKeyringStore("xterm-test", "alice")
	require.NoError(t, err)

	_, ok := store.LoadTokens(ctx)
	assert.False(t, ok)

	want := TokenSet{AccessToken: "a", RefreshToken: "r", ExpiresAt: time.UnixMilli(99)}
	require.NoError(t, store.SaveTokens(ctx, want))
	require.NoError(t, store.SavePending(ctx, PendingAuthorization{CodeVerifier: "v", State: "s"}))

	got, ok := store.LoadTokens(ctx)
	require.True(t, ok)
	assert.Equal(t, "r", got.RefreshToken)

	p, ok := store.LoadPending(ctx)
	require.True(t, ok)
	assert.Equal(t, "s", p.State)

	require.NoError(t, store.Clear(ctx))
	_, ok = store.LoadTokens(ctx)
	assert.False(t, ok)
	_, ok = store.LoadPending(ctx)
	assert.False(t, ok)
}

func TestNew_RequiresBackends(t *testing.T) {
	b, err := NewFileBackend(filepath.Join(t.TempDir(), "f"))
	require.NoError(t, err)

	_, err = New(nil, b)
	assert.Error(t, err)
	_, err = New(b, nil)
	assert.Error(t, err)
	_, err = NewFileStore("")
	assert.Error(t, err)
}
