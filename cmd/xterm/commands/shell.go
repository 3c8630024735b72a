package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"

	"github.com/transmental/xterm/internal/app"
)

const (
	shellPrompt       = "xterm> "
	shellHistoryLimit = 200
)

const shellHelp = `Commands:
  login                      Authorize account
  whoami                     Show authorized account
  post <text>                Post text
  post-media <path> <text>   Post image or video with text
  status                     Show stored credential state
  logout                     Remove stored credentials
  exit|quit                  Leave shell`

func shellCompleter() *readline.PrefixCompleter {
	return readline.NewPrefixCompleter(
		readline.PcItem("login"),
		readline.PcItem("whoami"),
		readline.PcItem("post"),
		readline.PcItem("post-media"),
		readline.PcItem("status"),
		readline.PcItem("logout"),
		readline.PcItem("help"),
		readline.PcItem("exit"),
		readline.PcItem("quit"),
	)
}

// shell runs the interactive loop until exit, EOF or ctx cancellation.
// Command failures are printed and the loop continues.
func (c *console) shell(ctx context.Context, a *app.App) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:            shellPrompt,
		HistoryLimit:      shellHistoryLimit,
		AutoComplete:      shellCompleter(),
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
		Stdin:             c.in,
		Stdout:            c.out,
		Stderr:            c.errOut,
	})
	if err != nil {
		return fmt.Errorf("failed to start shell: %w", err)
	}
	defer rl.Close()

	// Unblock Readline when the process is interrupted.
	stop := context.AfterFunc(ctx, func() { _ = rl.Close() })
	defer stop()

	fmt.Fprintln(c.out, "xterm interactive shell. Type 'help' for commands, 'exit' to quit.")

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				break
			}
			continue
		}
		if errors.Is(err, io.EOF) || ctx.Err() != nil {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read input: %w", err)
		}

		if c.execute(ctx, a, line) {
			break
		}
	}

	fmt.Fprintln(c.out, "Bye.")
	return nil
}

// execute runs one shell line and reports whether the shell should exit.
func (c *console) execute(ctx context.Context, a *app.App, line string) bool {
	args, err := parseShellLine(line)
	if err != nil {
		fmt.Fprintln(c.errOut, FormatError(err))
		return false
	}
	if len(args) == 0 {
		return false
	}

	name, rest := args[0], args[1:]
	switch name {
	case "exit", "quit":
		return true
	case "help":
		fmt.Fprintln(c.out, shellHelp)
		return false
	}

	if err := c.dispatch(ctx, a, name, rest); err != nil {
		fmt.Fprintln(c.errOut, FormatError(err))
	}
	return false
}

func (c *console) dispatch(ctx context.Context, a *app.App, name string, args []string) error {
	switch name {
	case "login":
		return c.login(ctx, a)
	case "whoami":
		return c.whoami(ctx, a)
	case "post":
		if len(args) == 0 {
			return usageError("post <text>")
		}
		return c.post(ctx, a, strings.Join(args, " "))
	case "post-media":
		if len(args) < 2 {
			return usageError("post-media <path> <text>")
		}
		return c.postMedia(ctx, a, args[0], strings.Join(args[1:], " "))
	case "status":
		return c.status(ctx, a)
	case "logout":
		return c.logout(ctx, a)
	default:
		return usageError(fmt.Sprintf("unknown command %q, type 'help'", name))
	}
}

// parseShellLine splits a line into words. Single and double quotes group
// words; a backslash escapes the next character outside single quotes.
func parseShellLine(line string) ([]string, error) {
	var (
		args    []string
		current strings.Builder
		inWord  bool
		quote   rune
		escaped bool
	)

	for _, r := range line {
		switch {
		case escaped:
			current.WriteRune(r)
			escaped = false
		case r == '\\' && quote != '\'':
			escaped = true
			inWord = true
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				current.WriteRune(r)
			}
		case r == '"' || r == '\'':
			quote = r
			inWord = true
		case r == ' ' || r == '\t':
			if inWord {
				args = append(args, current.String())
				current.Reset()
				inWord = false
			}
		default:
			current.WriteRune(r)
			inWord = true
		}
	}

	if quote != 0 {
		return nil, usageError("unterminated quote")
	}
	if escaped {
		return nil, usageError("trailing backslash")
	}
	if inWord {
		args = append(args, current.String())
	}
	return args, nil
}
