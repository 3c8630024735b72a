package xapi

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"
)

// ErrUnsupportedMedia is returned for content that is neither a supported
// image nor a supported video.
var ErrUnsupportedMedia = errors.New("unsupported media type")

// APIError is a non-2xx response from the X API.
type APIError struct {
	Status int
	Title  string
	Detail string
}

func (e *APIError) Error() string {
	switch {
	case e.Title != "" && e.Detail != "" && e.Title != e.Detail:
		return fmt.Sprintf("x api: %d %s: %s", e.Status, e.Title, e.Detail)
	case e.Detail != "":
		return fmt.Sprintf("x api: %d %s", e.Status, e.Detail)
	case e.Title != "":
		return fmt.Sprintf("x api: %d %s", e.Status, e.Title)
	default:
		return fmt.Sprintf("x api: %d %s", e.Status, http.StatusText(e.Status))
	}
}

// newAPIError reads the problem document X returns on errors. Older
// endpoints only carry an errors array.
func newAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{Status: status}
	if !gjson.ValidBytes(body) {
		return apiErr
	}

	doc := gjson.ParseBytes(body)
	apiErr.Title = doc.Get("title").String()
	apiErr.Detail = doc.Get("detail").String()
	if apiErr.Detail == "" {
		apiErr.Detail = doc.Get("errors.0.message").String()
	}
	if apiErr.Detail == "" {
		apiErr.Detail = doc.Get("error_description").String()
	}
	return apiErr
}
