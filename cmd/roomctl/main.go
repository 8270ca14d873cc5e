package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/lrhodin/roomstore/pkg/config"
)

type contextKey int

const (
	contextKeyConfig contextKey = iota
	contextKeyLogger
)

func getConfig(ctx *cli.Context) *config.Config {
	return ctx.Context.Value(contextKeyConfig).(*config.Config)
}

func getLogger(ctx *cli.Context) *zerolog.Logger {
	return ctx.Context.Value(contextKeyLogger).(*zerolog.Logger)
}

func getConfigPath() string {
	baseDir, _ := os.UserConfigDir()
	return filepath.Join(baseDir, "roomstore", "config.yaml")
}

func prepareApp(ctx *cli.Context) error {
	var cfg *config.Config
	var upgraded bool
	var err error
	if _, statErr := os.Stat(ctx.String("config")); errors.Is(statErr, fs.ErrNotExist) {
		cfg = config.Default()
	} else if cfg, upgraded, err = config.Load(ctx.String("config"), ctx.Bool("save-config")); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	log, err := cfg.Logging.Compile()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	if upgraded {
		log.Debug().Str("path", ctx.String("config")).Msg("Config is missing keys, using defaults for them")
	}
	newCtx := context.WithValue(ctx.Context, contextKeyConfig, cfg)
	newCtx = context.WithValue(newCtx, contextKeyLogger, log)
	ctx.Context = log.WithContext(newCtx)
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.App{
		Name:    "roomctl",
		Usage:   "Inspect and exercise the chat client's session store",
		Version: "0.1.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config file",
				Value:   getConfigPath(),
			},
			&cli.BoolFlag{
				Name:  "save-config",
				Usage: "Write missing keys back into the config file",
			},
			&cli.StringFlag{
				Name:    "user",
				Aliases: []string{"u"},
				Usage:   "Matrix user ID that owns the session",
				Value:   "@roomctl:localhost",
				EnvVars: []string{"ROOMCTL_USER"},
			},
		},
		Commands: []*cli.Command{
			configCommand,
			resolveCommand,
			editCommand,
			fetchCommand,
			draftCommand,
		},
	}
	if err := app.RunContext(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
