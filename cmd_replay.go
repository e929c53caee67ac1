package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"pdarray-engine/internal/events"
	"pdarray-engine/internal/logging"
	"pdarray-engine/internal/market"
	"pdarray-engine/internal/sink"

	"github.com/urfave/cli/v2"
)

func replay(c *cli.Context) error {
	rt := runtimeOf(c)
	markers, err := parseKeyLevels(c.StringSlice("key-level"))
	if err != nil {
		return err
	}

	src, symbol, release, err := openSource(c, rt)
	if err != nil {
		return err
	}
	defer release()

	bus := events.NewEventBus(rt.logger)
	a, err := newAnalyzer(rt, bus)
	if err != nil {
		return err
	}

	if c.Bool("redis") || rt.cfg.RedisConfig.Enabled {
		stop, err := attachRedis(c.Context, rt, bus)
		if err != nil {
			return err
		}
		defer stop()
	}

	start := time.Now()
	bars, err := runReplay(c.Context, src, a, markers, func(bar market.Candle, evs []events.Event) {
		if len(evs) == 0 {
			return
		}
		l := logging.BarContext(rt.logger, symbol, bar.Index)
		for _, ev := range evs {
			l.Info().Str("event", string(ev.Type)).Str("period", ev.Period.String()).Msg(ev.String())
		}
	})
	if err != nil {
		return fmt.Errorf("replay failed after %d bars: %w", bars, err)
	}
	for _, ev := range a.Flush() {
		rt.logger.Info().Str("event", string(ev.Type)).Str("period", ev.Period.String()).Msg(ev.String())
	}

	s := a.Stats()
	rt.logger.Info().
		Str("symbol", symbol).
		Int("bars", s.Bars).
		Int("swing_points", s.SwingPoints).
		Dur("elapsed", time.Since(start)).
		Msg("Replay complete")
	return nil
}

func stats(c *cli.Context) error {
	rt := runtimeOf(c)
	markers, err := parseKeyLevels(c.StringSlice("key-level"))
	if err != nil {
		return err
	}

	src, symbol, release, err := openSource(c, rt)
	if err != nil {
		return err
	}
	defer release()

	bus := events.NewEventBus(rt.logger)
	a, err := newAnalyzer(rt, bus)
	if err != nil {
		return err
	}

	counts := make(map[events.EventType]int)
	bus.SubscribeAll(func(ev events.Event) { counts[ev.Type]++ })

	if _, err := runReplay(c.Context, src, a, markers, nil); err != nil {
		return err
	}
	a.Flush()

	s := a.Stats()
	out := c.App.Writer
	fmt.Fprintf(out, "%s: %d bars\n\n", symbol, s.Bars)

	tbl := tabwriter.NewWriter(out, 1, 1, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tbl, "PERIOD\tSWING POINTS\t")
	for _, p := range a.Periods() {
		fmt.Fprintf(tbl, "%s\t%d\t\n", p, len(a.SwingPoints(p)))
	}
	fmt.Fprintln(tbl, "\t\t")
	fmt.Fprintln(tbl, "LEVEL TYPE\tTOTAL\tACTIVE\t")
	for _, t := range market.LevelTypes {
		fmt.Fprintf(tbl, "%s\t%d\t%d\t\n", t, s.Levels[t], s.Active[t])
	}
	fmt.Fprintln(tbl, "\t\t")
	fmt.Fprintln(tbl, "EVENT\tCOUNT\t")
	for _, t := range events.AllEventTypes {
		fmt.Fprintf(tbl, "%s\t%d\t\n", t, counts[t])
	}
	return tbl.Flush()
}

// attachRedis subscribes a Redis publisher to bus and returns its shutdown func
func attachRedis(ctx context.Context, rt *runtime, bus *events.EventBus) (func(), error) {
	cfg := rt.cfg.RedisConfig
	cfg.Enabled = true
	client, err := sink.NewRedisClient(ctx, cfg)
	if err != nil {
		return nil, err
	}

	s := sink.NewRedisSink(client, cfg.Channel, rt.logger)
	s.Start()
	id := s.Attach(bus)
	return func() {
		bus.Unsubscribe(id)
		s.Stop()
		published, dropped := s.Stats()
		rt.logger.Info().Int("published", published).Int("dropped", dropped).Msg("Redis sink stopped")
		client.Close()
	}, nil
}
