package xapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"golang.org/x/oauth2"
)

const (
	// DefaultBaseURL is the X API host.
	DefaultBaseURL = "https://api.x.com"
	// DefaultTimeout bounds a single HTTP attempt.
	DefaultTimeout = 30 * time.Second
	// DefaultRetryMax is the number of retries for idempotent requests and 429s.
	DefaultRetryMax = 3

	maxResponseBytes = 4 << 20
)

// Option configures a Client.
type Option func(*clientConfig)

type clientConfig struct {
	baseURL       string
	baseTransport http.RoundTripper
	timeout       time.Duration
	retryMax      int
	retryWaitMin  time.Duration
	retryWaitMax  time.Duration
	chunkSize     int
	logger        *slog.Logger
	sleep         func(ctx context.Context, d time.Duration) error
}

// WithBaseURL points the client at another host, e.g. a test server.
func WithBaseURL(baseURL string) Option {
	return func(c *clientConfig) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithTransport sets the base transport below the OAuth2 transport.
func WithTransport(transport http.RoundTripper) Option {
	return func(c *clientConfig) {
		c.baseTransport = transport
	}
}

// WithTimeout overrides DefaultTimeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *clientConfig) {
		c.timeout = timeout
	}
}

// WithRetry overrides the retry count and the backoff bounds.
func WithRetry(retryMax int, waitMin, waitMax time.Duration) Option {
	return func(c *clientConfig) {
		c.retryMax = retryMax
		c.retryWaitMin = waitMin
		c.retryWaitMax = waitMax
	}
}

// WithChunkSize overrides DefaultChunkSize for media uploads.
func WithChunkSize(size int) Option {
	return func(c *clientConfig) {
		c.chunkSize = size
	}
}

// WithLogger sets the logger for retry diagnostics. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *clientConfig) {
		c.logger = logger
	}
}

// Client calls the X API v2 on behalf of the logged in user.
type Client struct {
	baseURL   string
	http      *retryablehttp.Client
	chunkSize int
	sleep     func(ctx context.Context, d time.Duration) error
}

// New creates a Client. Every request is authorized with a token from ts.
func New(ts oauth2.TokenSource, opts ...Option) (*Client, error) {
	if ts == nil {
		return nil, errors.New("missing token source")
	}

	cfg := &clientConfig{
		baseURL:       DefaultBaseURL,
		baseTransport: http.DefaultTransport,
		timeout:       DefaultTimeout,
		retryMax:      DefaultRetryMax,
		retryWaitMin:  500 * time.Millisecond,
		retryWaitMax:  10 * time.Second,
		chunkSize:     DefaultChunkSize,
		logger:        slog.Default(),
		sleep:         sleepContext,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.chunkSize <= 0 {
		return nil, fmt.Errorf("invalid chunk size %d", cfg.chunkSize)
	}

	rc := retryablehttp.NewClient()
	rc.HTTPClient = &http.Client{
		Timeout: cfg.timeout,
		Transport: &oauth2.Transport{
			Source: tokenSource{ts},
			Base:   cfg.baseTransport,
		},
	}
	rc.Logger = cfg.logger
	rc.RetryMax = cfg.retryMax
	rc.RetryWaitMin = cfg.retryWaitMin
	rc.RetryWaitMax = cfg.retryWaitMax
	rc.CheckRetry = checkRetry
	// Hand the last response back so non-2xx bodies become APIErrors.
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Client{
		baseURL:   cfg.baseURL,
		http:      rc,
		chunkSize: cfg.chunkSize,
		sleep:     cfg.sleep,
	}, nil
}

// User is the authenticated account.
type User struct {
	ID       string
	Name     string
	Username string
}

// Post is a created post.
type Post struct {
	ID   string
	Text string
}

// Me returns the authenticated user.
func (c *Client) Me(ctx context.Context) (*User, error) {
	body, err := c.do(ctx, http.MethodGet, "/2/users/me", "", nil)
	if err != nil {
		return nil, err
	}

	data := gjson.GetBytes(body, "data")
	if !data.Get("id").Exists() {
		return nil, fmt.Errorf("unexpected users/me response: missing data.id")
	}
	return &User{
		ID:       data.Get("id").String(),
		Name:     data.Get("name").String(),
		Username: data.Get("username").String(),
	}, nil
}

// PostText creates a text-only post.
func (c *Client) PostText(ctx context.Context, text string) (*Post, error) {
	return c.createPost(ctx, text, nil)
}

// PostWithMedia uploads data and creates a post with it attached.
func (c *Client) PostWithMedia(ctx context.Context, text string, data []byte) (*Post, error) {
	mediaID, err := c.UploadMedia(ctx, data)
	if err != nil {
		return nil, err
	}
	return c.createPost(ctx, text, []string{mediaID})
}

func (c *Client) createPost(ctx context.Context, text string, mediaIDs []string) (*Post, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("post text cannot be empty")
	}

	payload, err := sjson.SetBytes([]byte(`{}`), "text", text)
	if err != nil {
		return nil, fmt.Errorf("encoding post: %w", err)
	}
	if len(mediaIDs) > 0 {
		payload, err = sjson.SetBytes(payload, "media.media_ids", mediaIDs)
		if err != nil {
			return nil, fmt.Errorf("encoding post media: %w", err)
		}
	}

	body, err := c.do(ctx, http.MethodPost, "/2/tweets", "application/json", payload)
	if err != nil {
		return nil, err
	}

	data := gjson.GetBytes(body, "data")
	if !data.Get("id").Exists() {
		return nil, fmt.Errorf("unexpected tweets response: missing data.id")
	}
	return &Post{
		ID:   data.Get("id").String(),
		Text: data.Get("text").String(),
	}, nil
}

// do sends one API request and returns the response body of a 2xx reply.
func (c *Client) do(ctx context.Context, method, path, contentType string, body []byte) ([]byte, error) {
	if method == http.MethodGet || method == http.MethodHead {
		ctx = context.WithValue(ctx, idempotentKey{}, true)
	}

	var raw any
	if body != nil {
		raw = body
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL+path, raw)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		var tokenErr *TokenError
		if errors.As(err, &tokenErr) {
			return nil, tokenErr
		}
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading %s response: %w", path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newAPIError(resp.StatusCode, respBody)
	}
	return respBody, nil
}

type idempotentKey struct{}

// checkRetry retries 429s for any method; everything else is retried only
// for idempotent requests, so a post is never created twice.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}

	var tokenErr *TokenError
	if errors.As(err, &tokenErr) {
		return false, nil
	}

	if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
		return true, nil
	}

	if idempotent, _ := ctx.Value(idempotentKey{}).(bool); !idempotent {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

// TokenError reports that no access token could be obtained for a request.
// It is never retried.
type TokenError struct {
	Err error
}

func (e *TokenError) Error() string {
	return fmt.Sprintf("obtaining access token: %v", e.Err)
}

func (e *TokenError) Unwrap() error {
	return e.Err
}

// tokenSource marks token failures so checkRetry can tell them from
// transport errors.
type tokenSource struct {
	src oauth2.TokenSource
}

func (s tokenSource) Token() (*oauth2.Token, error) {
	t, err := s.src.Token()
	if err != nil {
		return nil, &TokenError{Err: err}
	}
	return t, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

