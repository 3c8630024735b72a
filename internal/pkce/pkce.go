// Package pkce generates Proof Key for Code Exchange values (RFC 7636) and
// the OAuth state parameter for the authorization code flow.
package pkce

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/oauth2"
)

// MethodS256 is the only challenge method the provider accepts.
const MethodS256 = "S256"

// stateBytes is the number of random bytes behind the state parameter.
// 32 bytes encode to 43 base64url characters.
const stateBytes = 32

// Codes holds one authorization attempt's PKCE pair and state token.
type Codes struct {
	// Verifier is kept locally and sent only with the token exchange.
	Verifier string
	// Challenge is the S256 transform of Verifier, sent with the authorization request.
	Challenge string
	// Method is always MethodS256.
	Method string
	// State is round-tripped through the provider to bind the callback to this attempt.
	State string
}

// Generate returns a fresh verifier, its S256 challenge and a state token.
// The verifier carries 256 bits of entropy; a broken entropy source panics
// inside crypto/rand and is not recoverable.
func Generate() (*Codes, error) {
	verifier := oauth2.GenerateVerifier()

	state, err := GenerateState()
	if err != nil {
		return nil, err
	}

	return &Codes{
		Verifier:  verifier,
		Challenge: Challenge(verifier),
		Method:    MethodS256,
		State:     state,
	}, nil
}

// Challenge derives the S256 code challenge: base64url(SHA-256(verifier)), no padding.
func Challenge(verifier string) string {
	return oauth2.S256ChallengeFromVerifier(verifier)
}

// GenerateState returns a base64url-encoded random state token.
func GenerateState() (string, error) {
	b := make([]byte, stateBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
