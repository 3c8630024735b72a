package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/transmental/xterm/internal/auth"
	"github.com/transmental/xterm/internal/provider"
	"github.com/transmental/xterm/internal/tokenstore"
	"github.com/transmental/xterm/internal/xapi"
)

// App wires the configured components together.
type App struct {
	cfg       *Config
	store     *tokenstore.Store
	provider  *provider.Provider
	refresher *auth.Refresher
	tokens    *PersistentTokenSource
	client    *xapi.Client

	providerOpts []provider.Option
	clientOpts   []xapi.Option
	authOpts     []auth.Option
}

// Option customizes App construction, mostly for tests.
type Option func(*App)

// WithProviderOptions passes extra options to provider.New.
func WithProviderOptions(opts ...provider.Option) Option {
	return func(a *App) { a.providerOpts = append(a.providerOpts, opts...) }
}

// WithClientOptions passes extra options to xapi.New.
func WithClientOptions(opts ...xapi.Option) Option {
	return func(a *App) { a.clientOpts = append(a.clientOpts, opts...) }
}

// WithAuthOptions passes extra options to the login flow and the refresher.
func WithAuthOptions(opts ...auth.Option) Option {
	return func(a *App) { a.authOpts = append(a.authOpts, opts...) }
}

// New creates a new App instance. No I/O is performed.
func New(cfg *Config, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	a := &App{cfg: cfg}
	for _, opt := range opts {
		opt(a)
	}

	store, err := cfg.Storage.NewTokenStore()
	if err != nil {
		return nil, fmt.Errorf("failed to create token store: %w", err)
	}
	a.store = store

	a.provider, err = provider.New(provider.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURI:  cfg.RedirectURI,
	}, a.providerOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider: %w", err)
	}

	a.refresher, err = auth.NewRefresher(a.provider, a.authOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create refresher: %w", err)
	}

	// I/O deferred to first Token() call
	a.tokens, err = NewPersistentTokenSource(store, a.refresher)
	if err != nil {
		return nil, fmt.Errorf("failed to create token source: %w", err)
	}

	clientOpts := append([]xapi.Option{
		xapi.WithBaseURL(cfg.API.BaseURL),
		xapi.WithTimeout(cfg.API.Timeout),
		xapi.WithRetry(cfg.API.RetryMax, 500*time.Millisecond, 10*time.Second),
	}, a.clientOpts...)
	a.client, err = xapi.New(a.tokens, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create API client: %w", err)
	}

	return a, nil
}

// Config returns the configuration the app was built from.
func (a *App) Config() *Config {
	return a.cfg
}

// Client returns the X API client. Its requests load and refresh the stored
// tokens on demand.
func (a *App) Client() *xapi.Client {
	return a.client
}

// Login runs the browser login and stores the resulting tokens. opts are
// appended to the app's auth options (URL and browser callbacks).
func (a *App) Login(ctx context.Context, opts ...auth.Option) (*tokenstore.TokenSet, error) {
	flowOpts := append(append([]auth.Option{}, a.authOpts...), opts...)
	if a.cfg.NoBrowser {
		flowOpts = append(flowOpts, auth.WithBrowserOpener(nil))
	}

	flow, err := auth.NewFlow(a.provider, a.store, auth.FlowConfig{
		RedirectURI: a.cfg.RedirectURI,
		Port:        a.cfg.Port,
		Timeout:     a.cfg.Callback.Timeout,
	}, flowOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create login flow: %w", err)
	}

	slog.InfoContext(ctx, "starting login", "storage", string(a.cfg.Storage.Type))
	return flow.Login(ctx)
}

// Status describes the stored credential without contacting the provider.
type Status struct {
	LoggedIn     bool
	ExpiresAt    time.Time
	Fresh        bool
	PendingLogin bool
	PendingSince time.Time
	Storage      TokenStorageType
	Location     string
}

// Status reports the stored credential state.
func (a *App) Status(ctx context.Context) Status {
	st := Status{
		Storage:  a.cfg.Storage.Type,
		Location: a.cfg.Storage.Location(),
	}
	if tokens, ok := a.store.LoadTokens(ctx); ok {
		st.LoggedIn = true
		st.ExpiresAt = tokens.ExpiresAt
		st.Fresh = a.refresher.IsFresh(*tokens)
	}
	if pending, ok := a.store.LoadPending(ctx); ok {
		st.PendingLogin = true
		st.PendingSince = pending.CreatedAt
	}
	return st
}

// Logout removes the stored tokens and any pending authorization.
func (a *App) Logout(ctx context.Context) error {
	if err := a.store.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear credentials: %w", err)
	}
	slog.InfoContext(ctx, "credentials removed")
	return nil
}
