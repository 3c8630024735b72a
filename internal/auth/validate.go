package auth

import (
	"crypto/subtle"
	"fmt"
	"net/url"

	"github.com/transmental/xterm/internal/tokenstore"
)

// CallbackMessage is the provider redirect as seen by the listener.
type CallbackMessage struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// ParseCallback extracts the redirect parameters from a query string.
func ParseCallback(query url.Values) CallbackMessage {
	return CallbackMessage{
		Code:             query.Get("code"),
		State:            query.Get("state"),
		Error:            query.Get("error"),
		ErrorDescription: query.Get("error_description"),
	}
}

// ValidateCallback checks a redirect against the pending authorization.
// attempt is the id of the login that owns the listener; an empty attempt
// skips the ownership check.
//
// Every rejection is an ErrInvalidCallback and is terminal for the attempt.
func ValidateCallback(pending *tokenstore.PendingAuthorization, attempt string, msg CallbackMessage) error {
	if pending == nil {
		return newError(ErrInvalidCallback, "no pending authorization", nil)
	}
	if attempt != "" && pending.Attempt != attempt {
		return newError(ErrInvalidCallback, "authorization attempt was superseded by a newer login", nil)
	}
	if msg.Error != "" {
		if msg.ErrorDescription != "" {
			return newError(ErrInvalidCallback, fmt.Sprintf("provider returned %s: %s", msg.Error, msg.ErrorDescription), nil)
		}
		return newError(ErrInvalidCallback, fmt.Sprintf("provider returned %s", msg.Error), nil)
	}
	if msg.Code == "" {
		return newError(ErrInvalidCallback, "missing authorization code", nil)
	}
	if msg.State == "" {
		return newError(ErrInvalidCallback, "missing state", nil)
	}
	if subtle.ConstantTimeCompare([]byte(msg.State), []byte(pending.State)) != 1 {
		return newError(ErrInvalidCallback, "state mismatch", nil)
	}
	return nil
}
