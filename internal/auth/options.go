package auth

import (
	"context"
	"time"
)

// Option configures a Flow or a Refresher.
type Option func(*options)

type options struct {
	now         func() time.Time
	skew        time.Duration
	openBrowser func(ctx context.Context, url string) error
	onAuthURL   func(url string)
	onBrowser   func(url string, err error)
}

func defaultOptions() *options {
	return &options{
		now:         time.Now,
		skew:        DefaultSkew,
		openBrowser: OpenBrowser,
	}
}

func applyOptions(opts []Option) *options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithClock replaces time.Now, e.g. to pin the freshness boundary in tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithSkew overrides DefaultSkew for the Refresher.
func WithSkew(skew time.Duration) Option {
	return func(o *options) {
		o.skew = skew
	}
}

// WithBrowserOpener replaces the system browser launcher. A nil opener
// disables launching; the URL is still reported.
func WithBrowserOpener(open func(ctx context.Context, url string) error) Option {
	return func(o *options) {
		o.openBrowser = open
	}
}

// WithAuthURLHandler is called with the authorization URL before the browser
// is launched.
func WithAuthURLHandler(fn func(url string)) Option {
	return func(o *options) {
		o.onAuthURL = fn
	}
}

// WithBrowserErrorHandler is called when the browser could not be launched.
// The login keeps waiting for the callback.
func WithBrowserErrorHandler(fn func(url string, err error)) Option {
	return func(o *options) {
		o.onBrowser = fn
	}
}
