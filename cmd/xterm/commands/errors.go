package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/transmental/xterm/internal/auth"
	"github.com/transmental/xterm/internal/xapi"
)

// usageError reports a malformed command line.
type usageError string

func (e usageError) Error() string {
	return string(e)
}

// FormatError renders err as a single "xterm: <kind>: <message>" line.
func FormatError(err error) string {
	return fmt.Sprintf("xterm: %s: %v", errorKind(err), err)
}

func errorKind(err error) string {
	if kind := auth.KindOf(err); kind != "" {
		return string(kind)
	}

	var (
		apiErr   *xapi.APIError
		usageErr usageError
	)
	switch {
	case errors.As(err, &apiErr):
		return "api_error"
	case errors.Is(err, xapi.ErrUnsupportedMedia):
		return "unsupported_media"
	case errors.As(err, &usageErr):
		return "usage"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}
