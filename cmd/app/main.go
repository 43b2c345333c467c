package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/starford/noterank/internal"
	pkgconfig "github.com/starford/noterank/pkg/config"
)

type runFunc func(ctx context.Context, opts ...internal.Option) error

// action loads .env and the YAML config, then hands over to run.
func action(run runFunc) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		if err := pkgconfig.LoadDotenv(cmd.String("env-file")); err != nil {
			return err
		}

		cfg := internal.NewDefaultConfig()
		if err := pkgconfig.LoadWithDefaults(cmd.String("config"), cfg); err != nil {
			return fmt.Errorf("failed to parse config: %w", err)
		}
		if dir := cmd.String("records"); dir != "" {
			cfg.Records.Dir = dir
		}

		if err := run(ctx, internal.WithConfig(cfg)); err != nil {
			return fmt.Errorf("app run error: %w", err)
		}
		return nil
	}
}

func main() {
	cmd := &cli.Command{
		Name:   "noterank",
		Usage:  "Note recommendation service: similar notes and personalised feeds over an embedding index",
		Action: action(internal.Run),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file (defaults apply when missing)",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
			&cli.StringFlag{
				Name:    "env-file",
				Usage:   "Optional KEY=VALUE file loaded before the config is expanded",
				Value:   ".env",
				Sources: cli.EnvVars("APP_ENV_FILE"),
			},
			&cli.StringFlag{
				Name:  "records",
				Usage: "Override records.dir",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Serve the HTTP API (default)",
				Action: action(internal.Run),
			},
			{
				Name:   "mcp",
				Usage:  "Serve recommendation tools over MCP stdio",
				Action: action(internal.RunMCP),
			},
			{
				Name:   "ingest",
				Usage:  "Sync the records directory into the catalog and exit",
				Action: action(internal.RunIngest),
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
