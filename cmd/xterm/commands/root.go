package commands

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/transmental/xterm/internal/app"
	"github.com/transmental/xterm/internal/observability"
	"github.com/transmental/xterm/internal/provider"
)

// Execute runs the root command with the given context and arguments.
func Execute(ctx context.Context, args []string) error {
	return newRootCommand(newConsole()).Run(ctx, args)
}

func newRootCommand(c *console) *cli.Command {
	return &cli.Command{
		Name:      "xterm",
		Usage:     "Post to X from the terminal",
		ArgsUsage: " ",
		Writer:    c.out,
		ErrWriter: c.errOut,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to TOML config file",
			},
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "path to a .env file with X_* variables",
				Value: defaultEnvFile,
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "log level (debug|info|warn|error)",
				Value: slog.LevelInfo.String(),
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "log format (text|json|otel)",
				Value: string(app.DefaultConfigLogFormat),
			},
			&cli.StringFlag{
				Name:  "log-file",
				Usage: "write logs to a rotated file instead of stderr",
			},
		},
		Commands: []*cli.Command{
			loginCommand(c),
			{
				Name:   "whoami",
				Usage:  "Show the authorized account",
				Action: c.withApp(func(ctx context.Context, _ *cli.Command, a *app.App) error { return c.whoami(ctx, a) }),
			},
			{
				Name:      "post",
				Usage:     "Post a text update",
				ArgsUsage: "<text>",
				Action: c.withApp(func(ctx context.Context, cmd *cli.Command, a *app.App) error {
					if !cmd.Args().Present() {
						return usageError("post <text>")
					}
					return c.post(ctx, a, strings.Join(cmd.Args().Slice(), " "))
				}),
			},
			{
				Name:      "post-media",
				Usage:     "Post an image or video with text",
				ArgsUsage: "<path> <text>",
				Action: c.withApp(func(ctx context.Context, cmd *cli.Command, a *app.App) error {
					if cmd.Args().Len() < 2 {
						return usageError("post-media <path> <text>")
					}
					args := cmd.Args().Slice()
					return c.postMedia(ctx, a, args[0], strings.Join(args[1:], " "))
				}),
			},
			{
				Name:   "status",
				Usage:  "Show the stored credential state",
				Action: c.withApp(func(ctx context.Context, _ *cli.Command, a *app.App) error { return c.status(ctx, a) }),
			},
			{
				Name:   "logout",
				Usage:  "Remove stored credentials",
				Action: c.withApp(func(ctx context.Context, _ *cli.Command, a *app.App) error { return c.logout(ctx, a) }),
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Present() {
				return usageError(fmt.Sprintf("unknown command %q, run xterm --help", cmd.Args().First()))
			}
			return c.withApp(func(ctx context.Context, _ *cli.Command, a *app.App) error {
				return c.shell(ctx, a)
			})(ctx, cmd)
		},
	}
}

func loginCommand(c *console) *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "Authorize this CLI with your X account",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "client-id",
				Usage: "OAuth client id",
				Value: provider.DefaultClientID,
			},
			&cli.StringFlag{
				Name:  "redirect-uri",
				Usage: "registered loopback redirect URI",
				Value: provider.DefaultRedirectURI,
			},
			&cli.Uint16Flag{
				Name:  "port",
				Usage: "callback listener port (overrides the redirect URI port)",
			},
			&cli.DurationFlag{
				Name:  "callback--timeout",
				Usage: "give up waiting for the browser after this long (0 waits until interrupted)",
			},
			&cli.BoolFlag{
				Name:  "no-browser",
				Usage: "print the authorization URL without opening a browser",
			},
		},
		Action: c.withApp(func(ctx context.Context, _ *cli.Command, a *app.App) error {
			return c.login(ctx, a)
		}),
	}
}

type appAction func(ctx context.Context, cmd *cli.Command, a *app.App) error

// withApp loads the configuration, installs logging and builds the App
// before running fn. Logs are flushed when fn returns.
func (c *console) withApp(fn appAction) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		cfg, err := loadConfig(cmd.String("config"), cmd.String("env-file"), cmd, c.environ)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		// Set up observability before creating app
		shutdown, err := observability.Instrument(ctx, observability.Options{
			Level:   cfg.LogLevel,
			Format:  observability.Format(cfg.LogFormat),
			File:    cfg.LogFile,
			Output:  c.errOut,
			Environ: c.environ,
		})
		if err != nil {
			return fmt.Errorf("failed to set up observability layer: %w", err)
		}
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := shutdown(flushCtx); err != nil {
				fmt.Fprintf(c.errOut, "xterm: failed to flush logs: %v\n", err)
			}
		}()

		application, err := app.New(cfg)
		if err != nil {
			return fmt.Errorf("failed to create app: %w", err)
		}

		return fn(ctx, cmd, application)
	}
}
