package main

import (
	"errors"
	"fmt"
	"os"

	"pdarray-engine/config"
	"pdarray-engine/internal/auth"
	"pdarray-engine/internal/feed"

	"github.com/urfave/cli/v2"
)

func importCandles(c *cli.Context) error {
	rt := runtimeOf(c)

	f, err := os.Open(c.Path("csv"))
	if err != nil {
		return fmt.Errorf("opening csv: %w", err)
	}
	defer f.Close()

	candles, err := feed.Collect(c.Context, feed.NewCSVSource(f, rt.logger))
	if err != nil {
		return err
	}

	pool, err := feed.Connect(c.Context, rt.cfg.PostgresConfig.DSN)
	if err != nil {
		return err
	}
	defer pool.Close()

	store := feed.NewCandleStore(pool, rt.cfg.PostgresConfig.Table, rt.logger)
	if err := store.EnsureSchema(c.Context); err != nil {
		return err
	}
	n, err := store.Save(c.Context, c.String("symbol"), c.String("period"), candles)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "imported %d candles\n", n)
	return nil
}

func token(c *cli.Context) error {
	secret := runtimeOf(c).cfg.ServerConfig.JWTSecret
	if secret == "" {
		return errors.New("server.jwt_secret (or JWT_SECRET) must be set to issue tokens")
	}

	tm := auth.NewTokenManager(secret, c.Duration("ttl"))
	signed, err := tm.GenerateToken(c.String("subject"), auth.ScopeIngest)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, signed)
	return nil
}

func initConfig(c *cli.Context) error {
	path := c.Path("output")
	if err := config.GenerateSampleConfig(path); err != nil {
		return fmt.Errorf("writing sample config: %w", err)
	}
	fmt.Fprintf(c.App.Writer, "sample configuration written to %s\n", path)
	return nil
}
