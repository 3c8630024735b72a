package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/oauth2"

	"github.com/transmental/xterm/internal/tokenstore"
)

// DefaultSkew is how long before ExpiresAt a token is already treated as stale.
const DefaultSkew = 30 * time.Second

// RefreshClient performs the refresh token grant.
type RefreshClient interface {
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}

// Refresher decides whether a stored token set can be used as is or must be
// refreshed first.
type Refresher struct {
	client RefreshClient
	now    func() time.Time
	skew   time.Duration
}

// NewRefresher creates a Refresher. Recognized options: WithClock, WithSkew.
func NewRefresher(client RefreshClient, opts ...Option) (*Refresher, error) {
	if client == nil {
		return nil, errors.New("missing refresh client")
	}
	o := applyOptions(opts)
	return &Refresher{
		client: client,
		now:    o.now,
		skew:   o.skew,
	}, nil
}

// IsFresh reports whether now < ExpiresAt - skew. A token exactly at the
// skew boundary is stale.
func (r *Refresher) IsFresh(ts tokenstore.TokenSet) bool {
	return r.now().Before(ts.ExpiresAt.Add(-r.skew))
}

// EnsureFresh returns ts unchanged while it is fresh, without touching the
// network. Otherwise it performs a refresh and returns the new set with
// refreshed set to true; persisting it is the caller's job.
func (r *Refresher) EnsureFresh(ctx context.Context, ts tokenstore.TokenSet) (fresh tokenstore.TokenSet, refreshed bool, err error) {
	if r.IsFresh(ts) {
		return ts, false, nil
	}

	if ts.RefreshToken == "" {
		return tokenstore.TokenSet{}, false, newError(ErrRefresh, "no refresh token available, run login again", nil)
	}

	slog.DebugContext(ctx, "access token stale, refreshing", "expires_at", ts.ExpiresAt)

	token, err := r.client.Refresh(ctx, ts.RefreshToken)
	if err != nil {
		return tokenstore.TokenSet{}, false, newError(ErrRefresh, "", err)
	}
	if token.AccessToken == "" {
		return tokenstore.TokenSet{}, false, newError(ErrRefresh, "refresh response did not include an access token", nil)
	}

	fresh = tokenSetFrom(token, r.now())
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = ts.RefreshToken
	}
	return fresh, true, nil
}

// tokenSetFrom converts a token endpoint response. ExpiresAt is computed from
// expires_in against now; oauth2's own Expiry is the fallback.
func tokenSetFrom(token *oauth2.Token, now time.Time) tokenstore.TokenSet {
	var expiresAt time.Time
	switch {
	case token.ExpiresIn > 0:
		expiresAt = now.Add(time.Duration(token.ExpiresIn) * time.Second)
	case !token.Expiry.IsZero():
		expiresAt = token.Expiry
	default:
		// Unknown lifetime: stale on first use, so the next call refreshes.
		expiresAt = now
	}

	return tokenstore.TokenSet{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    expiresAt,
	}
}
