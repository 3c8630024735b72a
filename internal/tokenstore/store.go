package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
)

const (
	// TokensFile is the token set document name inside the storage directory.
	TokensFile = "tokens.json"
	// PendingFile is the pending authorization document name inside the storage directory.
	PendingFile = "oauth_state.json"
)

// Store persists exactly one token set and at most one pending authorization.
// Each slot is read and replaced wholesale; there is no cross-process locking.
//
// Load operations never fail: a missing, unreadable or malformed document is
// reported as absent, which callers treat as "not logged in".
type Store struct {
	tokens  Backend
	pending Backend
}

// New creates a Store over two independent backends.
func New(tokens, pending Backend) (*Store, error) {
	if tokens == nil {
		return nil, fmt.Errorf("missing token backend")
	}
	if pending == nil {
		return nil, fmt.Errorf("missing pending authorization backend")
	}
	return &Store{tokens: tokens, pending: pending}, nil
}

// NewFileStore creates a Store keeping both documents in dir.
func NewFileStore(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("storage directory cannot be empty")
	}
	tokens, err := NewFileBackend(filepath.Join(dir, TokensFile))
	if err != nil {
		return nil, err
	}
	pending, err := NewFileBackend(filepath.Join(dir, PendingFile))
	if err != nil {
		return nil, err
	}
	return New(tokens, pending)
}

// NewKeyringStore creates a Store keeping both documents in the OS keyring
// under service-scoped entries for user.
func NewKeyringStore(service, user string) (*Store, error) {
	tokens, err := NewKeyringBackend(service+"-tokens", user)
	if err != nil {
		return nil, err
	}
	pending, err := NewKeyringBackend(service+"-oauth-state", user)
	if err != nil {
		return nil, err
	}
	return New(tokens, pending)
}

// SavePending overwrites any existing pending authorization.
func (s *Store) SavePending(ctx context.Context, p PendingAuthorization) error {
	doc := p.document()
	if err := validatePending(doc); err != nil {
		return err
	}
	if err := s.write(ctx, s.pending, doc); err != nil {
		return fmt.Errorf("saving pending authorization: %w", err)
	}
	return nil
}

// LoadPending returns the pending authorization, or false if there is none.
func (s *Store) LoadPending(ctx context.Context) (*PendingAuthorization, bool) {
	var doc pendingDocument
	if !s.read(ctx, s.pending, "pending_authorization", &doc) {
		return nil, false
	}
	if err := validatePending(doc); err != nil {
		slog.WarnContext(ctx, "discarding malformed pending authorization", "error", err)
		return nil, false
	}
	p := doc.pending()
	return &p, true
}

// ClearPending removes the pending authorization.
func (s *Store) ClearPending(ctx context.Context) error {
	if err := s.pending.Delete(ctx); err != nil {
		return fmt.Errorf("clearing pending authorization: %w", err)
	}
	return nil
}

// SaveTokens overwrites the stored token set. A set without a refresh token
// is rejected with ErrMissingRefreshToken and nothing is written.
func (s *Store) SaveTokens(ctx context.Context, t TokenSet) error {
	doc := t.document()
	if err := validateTokens(doc); err != nil {
		return err
	}
	if err := s.write(ctx, s.tokens, doc); err != nil {
		return fmt.Errorf("saving tokens: %w", err)
	}
	// SECURITY: token values are never logged
	slog.DebugContext(ctx, "token set stored", "expires_at", t.ExpiresAt)
	return nil
}

// LoadTokens returns the stored token set, or false if it is absent or any
// required field is missing.
func (s *Store) LoadTokens(ctx context.Context) (*TokenSet, bool) {
	var doc tokenDocument
	if !s.read(ctx, s.tokens, "token_set", &doc) {
		return nil, false
	}
	if err := validateTokens(doc); err != nil {
		slog.WarnContext(ctx, "discarding incomplete token set", "error", err)
		return nil, false
	}
	t := doc.tokenSet()
	return &t, true
}

// Clear removes both documents.
func (s *Store) Clear(ctx context.Context) error {
	return errors.Join(
		s.tokens.Delete(ctx),
		s.pending.Delete(ctx),
	)
}

func (s *Store) write(ctx context.Context, b Backend, doc any) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding document: %w", err)
	}
	return b.Write(ctx, data)
}

// read decodes a document into v. Every failure degrades to absent.
func (s *Store) read(ctx context.Context, b Backend, name string, v any) bool {
	data, err := b.Read(ctx)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			slog.WarnContext(ctx, "stored document unreadable, treating as absent", "document", name, "error", err)
		}
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		slog.WarnContext(ctx, "stored document corrupt, treating as absent", "document", name, "error", err)
		return false
	}
	return true
}
