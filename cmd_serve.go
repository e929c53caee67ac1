package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"pdarray-engine/internal/api"
	"pdarray-engine/internal/events"

	"github.com/urfave/cli/v2"
)

func serve(c *cli.Context) error {
	rt := runtimeOf(c)
	markers, err := parseKeyLevels(c.StringSlice("key-level"))
	if err != nil {
		return err
	}

	bus := events.NewEventBus(rt.logger)
	a, err := newAnalyzer(rt, bus)
	if err != nil {
		return err
	}

	symbol := c.String("symbol")
	if c.IsSet("csv") || c.IsSet("symbol") {
		src, name, release, err := openSource(c, rt)
		if err != nil {
			return err
		}
		bars, err := runReplay(c.Context, src, a, markers, nil)
		release()
		if err != nil {
			return err
		}
		symbol = name
		rt.logger.Info().Str("symbol", symbol).Int("bars", bars).Msg("Warm-up replay complete")
	}

	if c.Bool("redis") || rt.cfg.RedisConfig.Enabled {
		stop, err := attachRedis(c.Context, rt, bus)
		if err != nil {
			return err
		}
		defer stop()
	}

	hub := api.NewWSHub(rt.cfg.ServerConfig.AllowedOrigins, rt.logger)
	hub.Attach(a.Bus())
	go hub.Run()
	defer hub.Stop()

	server := api.NewServer(rt.cfg.ServerConfig, symbol, a, hub, rt.logger)

	ctx, cancel := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return <-errCh
}
