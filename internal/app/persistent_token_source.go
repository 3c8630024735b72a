package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/oauth2"

	"github.com/transmental/xterm/internal/auth"
	"github.com/transmental/xterm/internal/tokenstore"
)

// TokenStore is the part of tokenstore.Store the token source needs.
type TokenStore interface {
	LoadTokens(ctx context.Context) (*tokenstore.TokenSet, bool)
	SaveTokens(ctx context.Context, t tokenstore.TokenSet) error
}

// Freshener returns a usable token set, refreshing it when needed.
type Freshener interface {
	EnsureFresh(ctx context.Context, ts tokenstore.TokenSet) (tokenstore.TokenSet, bool, error)
}

// PersistentTokenSource is an oauth2.TokenSource over the stored token set.
// The store is read on every Token call, so a login or logout made through
// the same App takes effect on the next request. Refreshed sets are written
// back so the rotated refresh token survives the process.
type PersistentTokenSource struct {
	store     TokenStore
	freshener Freshener

	mu sync.Mutex
}

// Compile-time check to ensure PersistentTokenSource implements oauth2.TokenSource
var _ oauth2.TokenSource = (*PersistentTokenSource)(nil)

// NewPersistentTokenSource creates a PersistentTokenSource.
// No I/O is performed until the first Token call.
func NewPersistentTokenSource(store TokenStore, freshener Freshener) (*PersistentTokenSource, error) {
	if store == nil {
		return nil, fmt.Errorf("missing token store")
	}
	if freshener == nil {
		return nil, fmt.Errorf("missing token refresher")
	}
	return &PersistentTokenSource{
		store:     store,
		freshener: freshener,
	}, nil
}

// Token returns a valid token, refreshing and persisting it if necessary.
// Calls are serialized so concurrent requests share one refresh.
func (p *PersistentTokenSource) Token() (*oauth2.Token, error) {
	// oauth2.TokenSource.Token() has no context parameter (legacy interface limitation)
	ctx := context.Background()

	p.mu.Lock()
	defer p.mu.Unlock()

	stored, ok := p.store.LoadTokens(ctx)
	if !ok {
		return nil, auth.ErrNotLoggedIn
	}

	fresh, refreshed, err := p.freshener.EnsureFresh(ctx, *stored)
	if err != nil {
		return nil, err
	}

	if refreshed {
		if err := p.store.SaveTokens(ctx, fresh); err != nil {
			// The access token is still valid, but the rotated refresh token is lost
			// once the process exits.
			slog.ErrorContext(ctx, "failed to persist refreshed tokens", "error", err)
		} else {
			slog.DebugContext(ctx, "persisted refreshed tokens", "expires_at", fresh.ExpiresAt)
		}
	}

	return fresh.Token(), nil
}
