package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	"github.com/transmental/xterm/internal/pkce"
	"github.com/transmental/xterm/internal/tokenstore"
)

const listenerShutdownTimeout = 5 * time.Second

// AuthorizationClient builds the authorization URL and performs the
// authorization code grant.
type AuthorizationClient interface {
	AuthCodeURL(codes *pkce.Codes) string
	Exchange(ctx context.Context, code, codeVerifier string) (*oauth2.Token, error)
}

// Store is the part of tokenstore.Store used by the login flow.
type Store interface {
	PendingLoader
	SavePending(ctx context.Context, p tokenstore.PendingAuthorization) error
	ClearPending(ctx context.Context) error
	SaveTokens(ctx context.Context, t tokenstore.TokenSet) error
}

// FlowConfig configures the callback side of a login.
type FlowConfig struct {
	// RedirectURI must match the URI registered with the provider.
	RedirectURI string
	// Port overrides the redirect URI's port for binding. Zero means unset.
	Port uint16
	// Timeout bounds the wait for the callback. Zero waits until ctx is done.
	Timeout time.Duration
}

// Flow runs the authorization code login with PKCE.
type Flow struct {
	client AuthorizationClient
	store  Store
	cfg    FlowConfig
	opts   *options
}

// NewFlow creates a login flow. Recognized options: WithClock,
// WithBrowserOpener, WithAuthURLHandler, WithBrowserErrorHandler.
func NewFlow(client AuthorizationClient, store Store, cfg FlowConfig, opts ...Option) (*Flow, error) {
	if client == nil {
		return nil, errors.New("missing authorization client")
	}
	if store == nil {
		return nil, errors.New("missing token store")
	}
	if cfg.RedirectURI == "" {
		return nil, errors.New("redirect uri cannot be empty")
	}
	if cfg.Timeout < 0 {
		return nil, errors.New("callback timeout cannot be negative")
	}

	return &Flow{
		client: client,
		store:  store,
		cfg:    cfg,
		opts:   applyOptions(opts),
	}, nil
}

// Login binds the callback listener, records the pending authorization,
// sends the user to the provider and waits for the redirect. On success the
// new token set is persisted and returned.
//
// Only one login can run per callback port: a second one fails to bind with
// ErrListenFailed instead of overwriting the first one's pending record.
func (f *Flow) Login(ctx context.Context) (*tokenstore.TokenSet, error) {
	addr, path, err := CallbackAddress(f.cfg.RedirectURI, f.cfg.Port)
	if err != nil {
		return nil, newError(ErrListenFailed, "invalid callback address", err)
	}

	attempt := uuid.NewString()

	listener, err := NewListener(ListenerConfig{
		Addr:    addr,
		Path:    path,
		Attempt: attempt,
	}, f.store, f.exchange)
	if err != nil {
		return nil, fmt.Errorf("failed to create callback listener: %w", err)
	}

	// Bind before anything is persisted.
	if _, err := listener.Start(ctx); err != nil {
		return nil, err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), listenerShutdownTimeout)
		defer cancel()
		if err := listener.Shutdown(shutdownCtx); err != nil {
			slog.WarnContext(shutdownCtx, "callback listener shutdown failed", "error", err)
		}
	}()

	codes, err := pkce.Generate()
	if err != nil {
		return nil, fmt.Errorf("failed to generate PKCE values: %w", err)
	}

	err = f.store.SavePending(ctx, tokenstore.PendingAuthorization{
		CodeVerifier: codes.Verifier,
		State:        codes.State,
		CreatedAt:    f.opts.now(),
		Attempt:      attempt,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save pending authorization: %w", err)
	}

	authURL := f.client.AuthCodeURL(codes)
	slog.InfoContext(ctx, "waiting for OAuth callback", "callback", listener.URL(), "attempt", attempt)

	waitCtx := ctx
	if f.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, f.cfg.Timeout)
		defer cancel()
	}

	// The browser launcher may block; the callback can arrive before it returns.
	g, gCtx := errgroup.WithContext(waitCtx)
	g.Go(func() error {
		f.announce(gCtx, authURL)
		return nil
	})

	var tokens *tokenstore.TokenSet
	g.Go(func() error {
		var err error
		tokens, err = listener.Wait(gCtx)
		return err
	})

	if err := g.Wait(); err != nil {
		if f.cfg.Timeout > 0 && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, newError(ErrCallbackTimeout, fmt.Sprintf("no OAuth callback within %s", f.cfg.Timeout), err)
		}
		if errors.Is(err, ErrExchangeFailed) {
			// The verifier was spent on the failed exchange.
			f.clearPending(ctx)
		}
		return nil, err
	}

	if err := f.store.SaveTokens(ctx, *tokens); err != nil {
		return nil, fmt.Errorf("failed to save tokens: %w", err)
	}
	f.clearPending(ctx)

	slog.InfoContext(ctx, "login completed", "expires_at", tokens.ExpiresAt)
	return tokens, nil
}

// exchange is the listener's ExchangeFunc. A response without a refresh
// token is an exchange failure since it could never be persisted.
func (f *Flow) exchange(ctx context.Context, code, codeVerifier string) (*tokenstore.TokenSet, error) {
	token, err := f.client.Exchange(ctx, code, codeVerifier)
	if err != nil {
		return nil, newError(ErrExchangeFailed, "", err)
	}
	if token.AccessToken == "" {
		return nil, newError(ErrExchangeFailed, "token response did not include an access token", nil)
	}
	if token.RefreshToken == "" {
		return nil, newError(ErrExchangeFailed, "token response did not include a refresh token", tokenstore.ErrMissingRefreshToken)
	}

	ts := tokenSetFrom(token, f.opts.now())
	return &ts, nil
}

// announce reports the URL and launches the browser. Launch failures are
// never fatal.
func (f *Flow) announce(ctx context.Context, authURL string) {
	if f.opts.onAuthURL != nil {
		f.opts.onAuthURL(authURL)
	}
	if f.opts.openBrowser == nil {
		return
	}
	if err := f.opts.openBrowser(ctx, authURL); err != nil {
		slog.WarnContext(ctx, "failed to open browser", "error", err)
		if f.opts.onBrowser != nil {
			f.opts.onBrowser(authURL, err)
		}
	}
}

func (f *Flow) clearPending(ctx context.Context) {
	if err := f.store.ClearPending(context.WithoutCancel(ctx)); err != nil {
		slog.WarnContext(ctx, "failed to clear pending authorization", "error", err)
	}
}
