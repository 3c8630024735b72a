package xapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"
)

func newTestClient(t *testing.T, handler http.Handler, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	opts = append([]Option{
		WithBaseURL(srv.URL),
		WithRetry(2, time.Millisecond, 5*time.Millisecond),
	}, opts...)
	c, err := New(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "at", TokenType: "Bearer"}), opts...)
	require.NoError(t, err)
	c.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return c
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestMe(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/2/users/me", r.URL.Path)
		assert.Equal(t, "Bearer at", r.Header.Get("Authorization"))
		writeJSON(w, http.StatusOK, map[string]any{
			"data": map[string]any{"id": "42", "name": "Ada", "username": "ada"},
		})
	}))

	user, err := c.Me(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &User{ID: "42", Name: "Ada", Username: "ada"}, user)
}

func TestPostText(t *testing.T) {
	var payload []byte
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/2/tweets", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		payload, _ = io.ReadAll(r.Body)
		writeJSON(w, http.StatusCreated, map[string]any{
			"data": map[string]any{"id": "1", "text": "hello \"world\""},
		})
	}))

	post, err := c.PostText(context.Background(), "hello \"world\"")
	require.NoError(t, err)
	assert.Equal(t, "1", post.ID)
	assert.Equal(t, "hello \"world\"", gjson.GetBytes(payload, "text").String())
	assert.False(t, gjson.GetBytes(payload, "media").Exists())
}

func TestPostText_Empty(t *testing.T) {
	c := newTestClient(t, http.NotFoundHandler())
	_, err := c.PostText(context.Background(), "  ")
	assert.Error(t, err)
}

func TestAPIError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusForbidden, map[string]any{
			"title":  "Forbidden",
			"detail": "You are not allowed to create a Tweet with duplicate content.",
			"status": 403,
		})
	}))

	_, err := c.PostText(context.Background(), "dup")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.Status)
	assert.Equal(t, "Forbidden", apiErr.Title)
	assert.Contains(t, apiErr.Error(), "duplicate content")
}

func TestNewAPIError(t *testing.T) {
	assert.Equal(t, &APIError{Status: 400, Detail: "bad media id"},
		newAPIError(400, []byte(`{"errors":[{"message":"bad media id"}]}`)))
	assert.Equal(t, &APIError{Status: 502}, newAPIError(502, []byte("<html>bad gateway</html>")))
	assert.Equal(t, "x api: 502 Bad Gateway", newAPIError(502, nil).Error())
}

func TestRetryPolicy(t *testing.T) {
	t.Run("GET is retried on 5xx", func(t *testing.T) {
		var calls atomic.Int32
		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) == 1 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{"id": "42"}})
		}))

		_, err := c.Me(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int32(2), calls.Load())
	})

	t.Run("POST is not retried on 5xx", func(t *testing.T) {
		var calls atomic.Int32
		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusInternalServerError)
		}))

		_, err := c.PostText(context.Background(), "once")
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusInternalServerError, apiErr.Status)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("POST is retried on 429", func(t *testing.T) {
		var calls atomic.Int32
		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) == 1 {
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			writeJSON(w, http.StatusCreated, map[string]any{"data": map[string]any{"id": "1", "text": "t"}})
		}))

		_, err := c.PostText(context.Background(), "t")
		require.NoError(t, err)
		assert.Equal(t, int32(2), calls.Load())
	})

	t.Run("exhausted 429 surfaces as APIError", func(t *testing.T) {
		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusTooManyRequests, map[string]any{"title": "Too Many Requests"})
		}))

		_, err := c.Me(context.Background())
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusTooManyRequests, apiErr.Status)
	})
}

type failingTokenSource struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (s *failingTokenSource) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return nil, s.err
}

func TestTokenErrorIsNotRetried(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request must not reach the server without a token")
	}))
	defer srv.Close()

	cause := errors.New("not logged in")
	ts := &failingTokenSource{err: cause}
	c, err := New(ts, WithBaseURL(srv.URL), WithRetry(3, time.Millisecond, time.Millisecond))
	require.NoError(t, err)

	_, err = c.Me(context.Background())
	var tokenErr *TokenError
	require.ErrorAs(t, err, &tokenErr)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, 1, ts.calls)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)

	_, err = New(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "at"}), WithChunkSize(0))
	assert.Error(t, err)
}
