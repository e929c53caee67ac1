package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"pdarray-engine/internal/analyzer"
	"pdarray-engine/internal/events"
	"pdarray-engine/internal/feed"
	"pdarray-engine/internal/market"

	"github.com/urfave/cli/v2"
)

var errNoSource = errors.New("either --csv or --symbol is required")

// keyLevel is a marker requested on the command line
type keyLevel struct {
	index int
	price float64
	kind  market.Kind
	label string
}

// parseKeyLevels parses index:price:high|low:label specs ordered by index
func parseKeyLevels(specs []string) ([]keyLevel, error) {
	out := make([]keyLevel, 0, len(specs))
	for _, spec := range specs {
		parts := strings.SplitN(spec, ":", 4)
		if len(parts) != 4 || parts[3] == "" {
			return nil, fmt.Errorf("invalid key level %q", spec)
		}
		index, err := strconv.Atoi(parts[0])
		if err != nil || index < 0 {
			return nil, fmt.Errorf("invalid key level index %q", spec)
		}
		price, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			return nil, fmt.Errorf("invalid key level price %q", spec)
		}
		var kind market.Kind
		switch strings.ToLower(parts[2]) {
		case "high":
			kind = market.KindHigh
		case "low":
			kind = market.KindLow
		default:
			return nil, fmt.Errorf("invalid key level kind %q", spec)
		}
		out = append(out, keyLevel{index: index, price: price, kind: kind, label: parts[3]})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].index < out[j].index })
	return out, nil
}

func newAnalyzer(rt *runtime, bus *events.EventBus) (*analyzer.Analyzer, error) {
	opts, err := rt.cfg.EngineConfig.ToPdArrayOptions()
	if err != nil {
		return nil, err
	}
	return analyzer.New(analyzer.Options{
		PdArray:    opts,
		Timeframes: rt.cfg.Timeframes,
	}, bus, rt.logger), nil
}

// openSource returns the candle source chosen by the flags, the symbol to
// label output with, and a release function.
func openSource(c *cli.Context, rt *runtime) (feed.Source, string, func(), error) {
	if path := c.Path("csv"); path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, "", nil, fmt.Errorf("opening csv: %w", err)
		}
		symbol := c.String("symbol")
		if symbol == "" {
			symbol = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		}
		return feed.NewCSVSource(f, rt.logger), symbol, func() { f.Close() }, nil
	}

	symbol := c.String("symbol")
	if symbol == "" {
		return nil, "", nil, errNoSource
	}
	pool, err := feed.Connect(c.Context, rt.cfg.PostgresConfig.DSN)
	if err != nil {
		return nil, "", nil, err
	}
	var from, to time.Time
	if ts := c.Timestamp("from"); ts != nil {
		from = *ts
	}
	if ts := c.Timestamp("to"); ts != nil {
		to = *ts
	}
	store := feed.NewCandleStore(pool, rt.cfg.PostgresConfig.Table, rt.logger)
	return store.Source(symbol, c.String("period"), from, to), symbol, pool.Close, nil
}

// runReplay feeds src through a. Markers are inserted once the bar at their
// index has been processed. onBar receives the events of every bar.
func runReplay(ctx context.Context, src feed.Source, a *analyzer.Analyzer, markers []keyLevel, onBar func(market.Candle, []events.Event)) (int, error) {
	bars := 0
	err := src.Candles(ctx, func(c market.Candle) error {
		evs := a.Process(&c)
		for len(markers) > 0 && markers[0].index <= c.Index {
			m := markers[0]
			markers = markers[1:]
			a.AddSpecialSwingPoint(m.index, c.Time, m.price, m.kind, m.label)
		}
		bars++
		if onBar != nil {
			onBar(c, evs)
		}
		return nil
	})
	return bars, err
}
