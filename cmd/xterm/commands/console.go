package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/atotto/clipboard"
	"github.com/briandowns/spinner"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"golang.org/x/term"

	"github.com/transmental/xterm/internal/app"
	"github.com/transmental/xterm/internal/auth"
)

// console carries the process streams and terminal capabilities shared by
// the one-shot commands and the interactive shell.
type console struct {
	in     io.ReadCloser
	out    io.Writer
	errOut io.Writer

	// interactive enables the waiting spinner; set when stderr is a terminal.
	interactive bool
	// copyURL places the authorization URL on the clipboard when no browser
	// could be opened. Nil disables it.
	copyURL func(string) error
	environ func() []string
	now     func() time.Time
}

func newConsole() *console {
	return &console{
		in:          os.Stdin,
		out:         os.Stdout,
		errOut:      os.Stderr,
		interactive: term.IsTerminal(int(os.Stderr.Fd())),
		copyURL:     clipboard.WriteAll,
		environ:     os.Environ,
		now:         time.Now,
	}
}

func (c *console) login(ctx context.Context, a *app.App) error {
	var spin *spinner.Spinner
	stopSpinner := func() {
		if spin != nil {
			spin.Stop()
		}
	}

	tokens, err := a.Login(ctx,
		auth.WithAuthURLHandler(func(url string) {
			fmt.Fprintf(c.out, "Open this URL to authorize xterm:\n\n  %s\n\n", url)
			if c.interactive {
				spin = spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(c.errOut))
				spin.Suffix = " Waiting for the browser to return..."
				spin.Start()
			}
		}),
		auth.WithBrowserErrorHandler(func(url string, _ error) {
			stopSpinner()
			msg := "Could not open a browser. Open the URL above manually."
			if c.copyURL != nil && c.copyURL(url) == nil {
				msg = "Could not open a browser. The URL was copied to the clipboard."
			}
			fmt.Fprintln(c.errOut, msg)
			if spin != nil {
				spin.Start()
			}
		}),
	)
	stopSpinner()
	if err != nil {
		return err
	}

	fmt.Fprintf(c.out, "Logged in. Access token valid until %s.\n", tokens.ExpiresAt.Local().Format(time.DateTime))
	return nil
}

func (c *console) whoami(ctx context.Context, a *app.App) error {
	user, err := a.Client().Me(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "%s (@%s) id=%s\n", user.Name, user.Username, user.ID)
	return nil
}

func (c *console) post(ctx context.Context, a *app.App, text string) error {
	post, err := a.Client().PostText(ctx, text)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Posted: id=%s\n", post.ID)
	return nil
}

func (c *console) postMedia(ctx context.Context, a *app.App, path, text string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read media file: %w", err)
	}
	post, err := a.Client().PostWithMedia(ctx, text, data)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Posted with media: id=%s\n", post.ID)
	return nil
}

func (c *console) status(ctx context.Context, a *app.App) error {
	renderStatus(c.out, a.Status(ctx), c.now())
	return nil
}

func (c *console) logout(ctx context.Context, a *app.App) error {
	if err := a.Logout(ctx); err != nil {
		return err
	}
	fmt.Fprintln(c.out, "Logged out.")
	return nil
}

func renderStatus(w io.Writer, st app.Status, now time.Time) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Credential", "State"})

	t.AppendRow(table.Row{"Logged in", yesNo(st.LoggedIn)})
	if st.LoggedIn {
		t.AppendRow(table.Row{"Expires", describeTime(st.ExpiresAt, now)})
		t.AppendRow(table.Row{"Fresh", yesNo(st.Fresh)})
	}
	if st.PendingLogin {
		t.AppendRow(table.Row{"Pending login", "since " + describeTime(st.PendingSince, now)})
	}
	t.AppendRow(table.Row{"Storage", string(st.Storage)})
	t.AppendRow(table.Row{"Location", st.Location})

	t.Render()
}

func yesNo(v bool) string {
	if v {
		return text.FgGreen.Sprint("yes")
	}
	return text.FgRed.Sprint("no")
}

func describeTime(at, now time.Time) string {
	d := at.Sub(now).Round(time.Second)
	stamp := at.Local().Format(time.DateTime)
	if d >= 0 {
		return fmt.Sprintf("%s (in %s)", stamp, d)
	}
	return fmt.Sprintf("%s (%s ago)", stamp, -d)
}
