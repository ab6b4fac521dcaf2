package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/solorunner/nlm-auth-broker/internal/app"
	"github.com/solorunner/nlm-auth-broker/internal/observability"
)

// Execute runs the root command with the given context and arguments.
func Execute(ctx context.Context, args []string) error {
	cmd := &cli.Command{
		Name:  "nlmauth",
		Usage: "Ephemeral cookie handshake broker for NotebookLM agents",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to config file (or " + configFileEnv + ")",
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
		},
		Commands: []*cli.Command{
			startCommand(),
			loginCommand(),
			importCommand(),
			checkCommand(),
		},
	}

	return cmd.Run(ctx, args)
}

func startCommand() *cli.Command {
	return &cli.Command{
		Name:  "start",
		Usage: "run the broker until interrupted",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "server--host",
				Usage: "server host",
				Value: app.DefaultConfigServerHost,
			},
			&cli.IntFlag{
				Name:  "server--port",
				Usage: "server port",
				Value: int(app.DefaultConfigServerPort),
			},
			&cli.DurationFlag{
				Name:  "broker--ttl",
				Usage: "lifetime of delivered cookies and of the offered token",
				Value: app.DefaultConfigBrokerTTL,
			},
			&cli.DurationFlag{
				Name:  "broker--sweep-interval",
				Usage: "background sweep interval (0 sweeps on requests only)",
			},
			&cli.StringFlag{
				Name:  "mcp--path",
				Usage: "path of the MCP tool endpoint",
				Value: app.DefaultConfigMCPPath,
			},
			&cli.DurationFlag{
				Name:  "mcp--session-idle-ttl",
				Usage: "drop tool session state after this long without a tool call",
				Value: app.DefaultConfigSessionIdleTTL,
			},
			&cli.BoolFlag{
				Name:  "mcp--enabled",
				Usage: "serve the MCP tool endpoint",
				Value: true,
			},
			credentialsStorageFlag(),
			profileFlag(),
		},
		Action: startAction,
	}
}

func startAction(ctx context.Context, cmd *cli.Command) error {
	cfg, shutdown, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer flush(shutdown)

	application, err := app.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create app: %w", err)
	}

	slog.InfoContext(ctx, "starting")

	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("app failed to start: %w", err)
	}

	slog.InfoContext(ctx, "stopped gracefully")
	return nil
}

// setup loads the configuration and installs logging before any command runs.
func setup(ctx context.Context, cmd *cli.Command) (*app.Config, observability.ShutdownFunc, error) {
	cfg, err := loadConfig(cmd.String("config"), cmd, os.Environ)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	shutdown, err := observability.Instrument(ctx, observability.Config{
		Level:       cfg.LogLevel,
		Format:      string(cfg.LogFormat),
		Exporter:    cfg.Telemetry.Exporter,
		MinSeverity: cfg.Telemetry.MinSeverity,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up observability layer: %w", err)
	}

	return cfg, shutdown, nil
}

func flush(shutdown observability.ShutdownFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), app.DefaultConfigShutdownTimeout)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "flushing logs: %v\n", err)
	}
}

func credentialsStorageFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "credentials--storage",
		Usage: "where consumed cookies are stored (none|file|env|keyring)",
		Value: string(app.DefaultConfigCredentialStorage),
	}
}

func profileFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "credentials--profile",
		Aliases: []string{"profile"},
		Usage:   "credential profile",
		Value:   app.DefaultConfigProfile,
	}
}
