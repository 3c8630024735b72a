package auth

import (
	"context"
	"io"

	"github.com/pkg/browser"
)

func init() {
	// xdg-open and friends are chatty; keep the terminal for our own output.
	browser.Stdout = io.Discard
	browser.Stderr = io.Discard
}

// OpenBrowser opens url in the system browser.
func OpenBrowser(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return browser.OpenURL(url)
}
