package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/transmental/xterm/internal/pkce"
)

// DefaultTimeout bounds each token endpoint round trip.
const DefaultTimeout = 30 * time.Second

// Option configures a Provider.
type Option func(*providerConfig)

// providerConfig holds configuration for New.
type providerConfig struct {
	baseTransport http.RoundTripper
	timeout       time.Duration
	endpoint      oauth2.Endpoint
	scopes        []string
}

// WithTransport sets a custom base transport for token endpoint requests.
// If not provided, http.DefaultTransport is used.
func WithTransport(transport http.RoundTripper) Option {
	return func(c *providerConfig) {
		c.baseTransport = transport
	}
}

// WithTimeout overrides DefaultTimeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *providerConfig) {
		c.timeout = timeout
	}
}

// WithEndpoint overrides the X endpoints, e.g. to point at a test server.
func WithEndpoint(endpoint oauth2.Endpoint) Option {
	return func(c *providerConfig) {
		c.endpoint = endpoint
	}
}

// WithScopes overrides the requested scopes.
func WithScopes(scopes ...string) Option {
	return func(c *providerConfig) {
		c.scopes = scopes
	}
}

// Config identifies the OAuth client.
type Config struct {
	ClientID string
	// ClientSecret is optional. Public clients authenticate with PKCE only.
	ClientSecret string
	RedirectURI  string
}

// Provider performs the authorization code and refresh token grants against
// the X token endpoint.
type Provider struct {
	oauth2Config *oauth2.Config
	httpClient   *http.Client
}

// New creates a Provider for the given client.
func New(cfg Config, opts ...Option) (*Provider, error) {
	if cfg.ClientID == "" {
		return nil, errors.New("client id cannot be empty")
	}
	if cfg.RedirectURI == "" {
		return nil, errors.New("redirect uri cannot be empty")
	}

	pc := &providerConfig{
		baseTransport: http.DefaultTransport,
		timeout:       DefaultTimeout,
		endpoint:      Endpoint,
		scopes:        Scopes,
	}
	for _, opt := range opts {
		opt(pc)
	}

	endpoint := pc.endpoint
	// Public clients identify themselves in the form body; confidential
	// clients use HTTP Basic authentication.
	if cfg.ClientSecret == "" {
		endpoint.AuthStyle = oauth2.AuthStyleInParams
	} else {
		endpoint.AuthStyle = oauth2.AuthStyleInHeader
	}

	return &Provider{
		oauth2Config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       pc.scopes,
			Endpoint:     endpoint,
		},
		httpClient: &http.Client{
			Timeout:   pc.timeout,
			Transport: pc.baseTransport,
		},
	}, nil
}

// AuthCodeURL builds the authorization URL for one attempt. The challenge is
// taken from codes rather than recomputed so the URL always matches the
// pending record.
func (p *Provider) AuthCodeURL(codes *pkce.Codes) string {
	return p.oauth2Config.AuthCodeURL(codes.State,
		oauth2.SetAuthURLParam("code_challenge", codes.Challenge),
		oauth2.SetAuthURLParam("code_challenge_method", codes.Method),
	)
}

// Exchange trades an authorization code and its PKCE verifier for tokens.
func (p *Provider) Exchange(ctx context.Context, code, codeVerifier string) (*oauth2.Token, error) {
	token, err := p.oauth2Config.Exchange(p.clientContext(ctx), code, oauth2.VerifierOption(codeVerifier))
	if err != nil {
		return nil, fmt.Errorf("exchanging authorization code: %w", err)
	}
	return token, nil
}

// Refresh obtains a new access token. When the provider omits a new refresh
// token, the returned token carries the one that was sent.
func (p *Provider) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	if refreshToken == "" {
		return nil, errors.New("refresh token cannot be empty")
	}

	// An expired placeholder forces the token source to hit the endpoint.
	src := p.oauth2Config.TokenSource(p.clientContext(ctx), &oauth2.Token{
		RefreshToken: refreshToken,
	})
	token, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("refreshing token: %w", err)
	}
	return token, nil
}

// clientContext injects the provider's HTTP client; oauth2 looks it up via
// the oauth2.HTTPClient context key.
func (p *Provider) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
}
