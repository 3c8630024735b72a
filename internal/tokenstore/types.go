package tokenstore

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/oauth2"
)

var (
	// ErrMissingRefreshToken is returned by SaveTokens for a token set without a refresh token.
	ErrMissingRefreshToken = errors.New("token set has no refresh token")

	// ErrInvalidTokenSet is returned by SaveTokens for a token set missing any other required field.
	ErrInvalidTokenSet = errors.New("invalid token set")

	// ErrInvalidPending is returned by SavePending for a record without verifier or state.
	ErrInvalidPending = errors.New("invalid pending authorization")
)

// TokenSet is the current credential.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	// ExpiresAt is the absolute access token expiry. Persisted with millisecond precision.
	ExpiresAt time.Time
}

// Validate reports whether the token set may be persisted.
func (t TokenSet) Validate() error {
	return validateTokens(t.document())
}

// Token converts the set to a bearer oauth2.Token for HTTP transports.
func (t TokenSet) Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  t.AccessToken,
		TokenType:    "Bearer",
		RefreshToken: t.RefreshToken,
		Expiry:       t.ExpiresAt,
	}
}

// PendingAuthorization is the single in-flight authorization attempt.
type PendingAuthorization struct {
	CodeVerifier string
	State        string
	CreatedAt    time.Time
	// Attempt identifies the login that wrote this record. Empty for records
	// written by older versions.
	Attempt string
}

// tokenDocument is the persisted JSON form of TokenSet.
type tokenDocument struct {
	AccessToken  string `json:"accessToken" validate:"required"`
	RefreshToken string `json:"refreshToken" validate:"required"`
	ExpiresAt    int64  `json:"expiresAt" validate:"required"` // Unix milliseconds
}

// pendingDocument is the persisted JSON form of PendingAuthorization.
type pendingDocument struct {
	CodeVerifier string `json:"codeVerifier" validate:"required"`
	State        string `json:"state" validate:"required"`
	CreatedAt    int64  `json:"createdAt,omitempty"` // Unix milliseconds
	Attempt      string `json:"attempt,omitempty"`
}

var validate = validator.New()

func (t TokenSet) document() tokenDocument {
	var expiresAt int64
	if !t.ExpiresAt.IsZero() {
		expiresAt = t.ExpiresAt.UnixMilli()
	}
	return tokenDocument{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		ExpiresAt:    expiresAt,
	}
}

func (d tokenDocument) tokenSet() TokenSet {
	return TokenSet{
		AccessToken:  d.AccessToken,
		RefreshToken: d.RefreshToken,
		ExpiresAt:    time.UnixMilli(d.ExpiresAt),
	}
}

func (p PendingAuthorization) document() pendingDocument {
	var createdAt int64
	if !p.CreatedAt.IsZero() {
		createdAt = p.CreatedAt.UnixMilli()
	}
	return pendingDocument{
		CodeVerifier: p.CodeVerifier,
		State:        p.State,
		CreatedAt:    createdAt,
		Attempt:      p.Attempt,
	}
}

func (d pendingDocument) pending() PendingAuthorization {
	p := PendingAuthorization{
		CodeVerifier: d.CodeVerifier,
		State:        d.State,
		Attempt:      d.Attempt,
	}
	if d.CreatedAt != 0 {
		p.CreatedAt = time.UnixMilli(d.CreatedAt)
	}
	return p
}

// validateTokens maps validator failures to the package's sentinel errors.
func validateTokens(d tokenDocument) error {
	err := validate.Struct(d)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			if fe.StructField() == "RefreshToken" {
				return ErrMissingRefreshToken
			}
		}
		return fmt.Errorf("%w: %s is required", ErrInvalidTokenSet, verrs[0].Field())
	}
	return fmt.Errorf("%w: %v", ErrInvalidTokenSet, err)
}

func validatePending(d pendingDocument) error {
	if err := validate.Struct(d); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPending, err)
	}
	return nil
}
