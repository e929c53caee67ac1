package main

import (
	"fmt"
	"io"
	"os"

	"pdarray-engine/config"
	"pdarray-engine/internal/logging"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
)

// runtime is the state shared by every command, built in before
type runtime struct {
	cfg    *config.Config
	logger zerolog.Logger
	closer io.Closer
}

func main() {
	app := &cli.App{
		Name:     "pdarray-engine",
		Usage:    "Swing point and PD array detection over bar feeds",
		Version:  "v0.1.0",
		Before:   before,
		After:    after,
		Flags:    globalFlags,
		Commands: commands,
		Metadata: map[string]interface{}{},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func before(c *cli.Context) error {
	cfg, err := config.Load(c.Path("config"))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logCfg := cfg.LoggingConfig.ToLoggingConfig()
	if c.Bool("debug") {
		logCfg.Level = "DEBUG"
		logCfg.JSONFormat = false
	}
	logger, closer := logging.New(logCfg)
	logging.SetDefault(logger)

	c.App.Metadata["runtime"] = &runtime{cfg: cfg, logger: logger, closer: closer}
	cliLogger := logging.WithComponent("cli")
	cliLogger.Debug().Str("config", c.Path("config")).Strs("timeframes", cfg.Timeframes).Msg("Configuration loaded")
	return nil
}

func after(c *cli.Context) error {
	if rt, ok := c.App.Metadata["runtime"].(*runtime); ok {
		return rt.closer.Close()
	}
	return nil
}

func runtimeOf(c *cli.Context) *runtime {
	return c.App.Metadata["runtime"].(*runtime)
}
