package auth

import (
	"errors"
	"fmt"
)

// Kind classifies authentication failures. None of them is retried internally.
type Kind string

const (
	// KindInvalidCallback covers CSRF/replay defenses: no pending record,
	// superseded attempt, missing code or state, state mismatch, provider error.
	KindInvalidCallback Kind = "invalid_callback"
	// KindExchangeFailed means the authorization code could not be traded for tokens.
	KindExchangeFailed Kind = "exchange_failed"
	// KindRefresh means the refresh grant failed or no refresh token is available.
	KindRefresh Kind = "refresh_failed"
	// KindCallbackTimeout means the configured callback deadline passed.
	KindCallbackTimeout Kind = "callback_timeout"
	// KindListenFailed means the loopback listener could not be bound.
	KindListenFailed Kind = "listen_failed"
	// KindNotLoggedIn means no usable token set is stored.
	KindNotLoggedIn Kind = "not_logged_in"
)

// Error is an authentication failure of a given Kind.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

// Error returns a string representation of the authentication error.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error of the same Kind, so errors.Is(err, ErrInvalidCallback)
// works for every invalid callback regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Sentinel errors, one per Kind.
var (
	ErrInvalidCallback = &Error{Kind: KindInvalidCallback, Message: "invalid OAuth callback"}
	ErrExchangeFailed  = &Error{Kind: KindExchangeFailed, Message: "failed to exchange authorization code for tokens"}
	ErrRefresh         = &Error{Kind: KindRefresh, Message: "failed to refresh access token, run login again"}
	ErrCallbackTimeout = &Error{Kind: KindCallbackTimeout, Message: "timed out waiting for OAuth callback"}
	ErrListenFailed    = &Error{Kind: KindListenFailed, Message: "failed to start OAuth callback listener"}
	ErrNotLoggedIn     = &Error{Kind: KindNotLoggedIn, Message: "not logged in, run login first"}
)

// newError derives an error from a sentinel, optionally replacing the message.
func newError(base *Error, message string, cause error) *Error {
	if message == "" {
		message = base.Message
	}
	return &Error{
		Kind:    base.Kind,
		Message: message,
		Cause:   cause,
	}
}

// KindOf returns the Kind of the first *Error in err's chain, or "" if there is none.
func KindOf(err error) Kind {
	var authErr *Error
	if errors.As(err, &authErr) {
		return authErr.Kind
	}
	return ""
}
