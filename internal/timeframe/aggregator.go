// Package timeframe aggregates the primary bar feed into higher periods and
// runs a swing point engine per period.
package timeframe

import (
	"time"

	"pdarray-engine/internal/events"
	"pdarray-engine/internal/market"
	"pdarray-engine/internal/swing"

	"github.com/rs/zerolog"
)

// periodContext holds the state of one aggregated period.
type periodContext struct {
	period market.Period
	engine *swing.Engine

	bucket  time.Time
	current *swing.OppositeTimeframeBar
	members []market.Candle
	last    int
	next    int
}

// Aggregator builds higher-period bars and feeds each period's swing engine
// with ProcessOppositeTimeframeBar when a bar closes. A bar closes when the
// first primary candle of the next bucket arrives, or on Flush.
type Aggregator struct {
	contexts [market.PeriodCount]*periodContext
	logger   zerolog.Logger
}

// NewAggregator creates an aggregator for the named periods. Unknown or
// duplicate names are logged and skipped.
func NewAggregator(periods []string, bus *events.EventBus, logger zerolog.Logger) *Aggregator {
	a := &Aggregator{
		logger: logger.With().Str("component", "TimeframeAggregator").Logger(),
	}
	for _, name := range periods {
		p, ok := market.ParsePeriod(name)
		if !ok {
			a.logger.Warn().Str("period", name).Msg("Unsupported aggregation period, skipping")
			continue
		}
		if a.contexts[p] != nil {
			a.logger.Warn().Str("period", name).Msg("Duplicate aggregation period, skipping")
			continue
		}
		a.contexts[p] = &periodContext{
			period: p,
			engine: swing.NewEngine(swing.Options{Period: p}, bus, logger),
			last:   market.NoIndex,
		}
	}
	return a
}

// Periods returns the configured periods in ascending order.
func (a *Aggregator) Periods() []market.Period {
	var out []market.Period
	for _, ctx := range a.contexts {
		if ctx != nil {
			out = append(out, ctx.engine.Period())
		}
	}
	return out
}

// Engine returns the swing engine of period p, or nil when p is not configured.
func (a *Aggregator) Engine(p market.Period) *swing.Engine {
	if p >= market.PeriodCount || a.contexts[p] == nil {
		return nil
	}
	return a.contexts[p].engine
}

// Add merges a primary candle into every period and returns the events of any
// bars it closed. A candle at an index already merged corrects the open bar.
func (a *Aggregator) Add(c *market.Candle) []events.Event {
	if !c.Valid() {
		return nil
	}

	var out []events.Event
	for _, ctx := range a.contexts {
		if ctx == nil {
			continue
		}
		bucket := c.Time.UTC().Truncate(ctx.period.Duration())

		if ctx.last != market.NoIndex && c.Index <= ctx.last {
			if ctx.current == nil || !bucket.Equal(ctx.bucket) || !a.correct(ctx, c) {
				a.logger.Debug().
					Str("period", ctx.period.String()).
					Int("index", c.Index).
					Msg("Correction for a closed bar, skipping")
			}
			continue
		}
		if ctx.current != nil && bucket.Before(ctx.bucket) {
			a.logger.Warn().
				Str("period", ctx.period.String()).
				Int("index", c.Index).
				Msg("Candle belongs to a closed bucket, skipping")
			continue
		}
		if ctx.current != nil && bucket.After(ctx.bucket) {
			out = append(out, a.close(ctx)...)
		}

		ctx.last = c.Index
		if ctx.current == nil {
			ctx.bucket = bucket
			ctx.members = []market.Candle{*c}
			ctx.current = build(ctx.next, bucket, ctx.members)
			continue
		}
		ctx.members = append(ctx.members, *c)
		merge(ctx.current, c)
	}
	return out
}

// correct replaces a constituent of the open bar and rebuilds the bar, so a
// lowered high or raised low is reflected too.
func (a *Aggregator) correct(ctx *periodContext, c *market.Candle) bool {
	for i := range ctx.members {
		if ctx.members[i].Index == c.Index {
			ctx.members[i] = *c
			ctx.current = build(ctx.next, ctx.bucket, ctx.members)
			a.logger.Debug().
				Str("period", ctx.period.String()).
				Int("index", c.Index).
				Msg("Corrected open bar")
			return true
		}
	}
	return false
}

// Flush closes every open bar.
func (a *Aggregator) Flush() []events.Event {
	var out []events.Event
	for _, ctx := range a.contexts {
		if ctx != nil && ctx.current != nil {
			out = append(out, a.close(ctx)...)
		}
	}
	return out
}

func (a *Aggregator) close(ctx *periodContext) []events.Event {
	bar := ctx.current
	ctx.current = nil
	ctx.members = nil
	ctx.next++
	return ctx.engine.ProcessOppositeTimeframeBar(bar)
}

// build aggregates members, ordered by index, into the bar numbered index.
func build(index int, bucket time.Time, members []market.Candle) *swing.OppositeTimeframeBar {
	first := members[0]
	b := &swing.OppositeTimeframeBar{
		Candle: market.Candle{
			Index: index,
			Time:  bucket,
			Open:  first.Open,
			High:  first.High,
			Low:   first.Low,
			Close: first.Close,
		},
		HighIndex: first.Index,
		HighTime:  first.Time,
		LowIndex:  first.Index,
		LowTime:   first.Time,
	}
	for i := 1; i < len(members); i++ {
		merge(b, &members[i])
	}
	return b
}

func merge(b *swing.OppositeTimeframeBar, c *market.Candle) {
	if c.High > b.Candle.High {
		b.Candle.High = c.High
		b.HighIndex = c.Index
		b.HighTime = c.Time
	}
	if c.Low < b.Candle.Low {
		b.Candle.Low = c.Low
		b.LowIndex = c.Index
		b.LowTime = c.Time
	}
	b.Candle.Close = c.Close
}
