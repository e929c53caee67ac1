// Package swing detects alternating swing highs and lows from a stream of closed bars.
package swing

import (
	"math"
	"sort"
	"time"

	"pdarray-engine/internal/events"
	"pdarray-engine/internal/market"

	"github.com/rs/zerolog"
)

// ComparisonPriceFunc returns a correlated instrument's price for a candle index.
type ComparisonPriceFunc func(index int) (float64, bool)

// Options configure an Engine
type Options struct {
	Period          market.Period
	ComparisonPrice ComparisonPriceFunc
}

// OppositeTimeframeBar is an aggregated bar together with the primary-feed
// index and time of the constituent bars that hold its high and low.
type OppositeTimeframeBar struct {
	Candle    market.Candle
	HighIndex int
	HighTime  time.Time
	LowIndex  int
	LowTime   time.Time
}

// Engine is the swing point state machine. It is not safe for concurrent use.
type Engine struct {
	period          market.Period
	bus             *events.EventBus
	logger          zerolog.Logger
	comparisonPrice ComparisonPriceFunc

	series *market.Series
	points []*market.SwingPoint
	nextID uint64

	lastKind      market.Kind
	lastHigh      *market.SwingPoint
	lastLow       *market.SwingPoint
	highThreshold float64
	lowThreshold  float64
	nextNumber    int
	lastIndex     int

	emitted []events.Event
}

// NewEngine creates a swing point engine. bus may be nil, in which case
// events are only returned to the caller.
func NewEngine(opts Options, bus *events.EventBus, logger zerolog.Logger) *Engine {
	return &Engine{
		period:          opts.Period,
		bus:             bus,
		comparisonPrice: opts.ComparisonPrice,
		logger: logger.With().
			Str("component", "SwingPointEngine").
			Str("period", opts.Period.String()).
			Logger(),
		series:        market.NewSeries(),
		highThreshold: math.Inf(-1),
		lowThreshold:  math.Inf(1),
		nextNumber:    1,
		lastIndex:     market.NoIndex,
	}
}

// Series exposes the candles seen by the engine.
func (e *Engine) Series() *market.Series {
	return e.series
}

// Period returns the aggregation period the engine runs on.
func (e *Engine) Period() market.Period {
	return e.period
}

// LastKind returns the kind of the most recently tracked swing point.
func (e *Engine) LastKind() market.Kind {
	return e.lastKind
}

// LastHigh returns the tracked swing high, or nil.
func (e *Engine) LastHigh() *market.SwingPoint {
	return e.lastHigh
}

// LastLow returns the tracked swing low, or nil.
func (e *Engine) LastLow() *market.SwingPoint {
	return e.lastLow
}

// Seen reports whether a bar with the index was already processed.
func (e *Engine) Seen(index int) bool {
	return e.series.Has(index)
}

// Points returns the live swing points ordered by index, then creation.
func (e *Engine) Points() []*market.SwingPoint {
	out := make([]*market.SwingPoint, 0, len(e.points))
	for _, p := range e.points {
		if !p.Removed {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// ProcessBar runs detection for one closed bar. A bar at an index that was
// already processed only corrects the stored OHLC.
func (e *Engine) ProcessBar(c *market.Candle) []events.Event {
	if !c.Valid() {
		e.logger.Warn().Msg("Ignoring malformed candle")
		return nil
	}
	if e.series.Has(c.Index) {
		e.series.Upsert(*c)
		e.logger.Debug().Int("index", c.Index).Msg("Corrected candle data")
		return nil
	}
	if e.lastIndex != market.NoIndex && c.Index < e.lastIndex {
		e.logger.Warn().
			Int("index", c.Index).
			Int("last_index", e.lastIndex).
			Msg("Ignoring out of order candle")
		return nil
	}

	e.series.Upsert(*c)
	e.lastIndex = c.Index
	return e.detect(OppositeTimeframeBar{
		Candle:    *c,
		HighIndex: c.Index,
		HighTime:  c.Time,
		LowIndex:  c.Index,
		LowTime:   c.Time,
	})
}

// ProcessOppositeTimeframeBar runs the same detection on an aggregated bar,
// placing points at the index and time of the constituent extreme bars.
func (e *Engine) ProcessOppositeTimeframeBar(b *OppositeTimeframeBar) []events.Event {
	if b == nil || !b.Candle.Valid() {
		e.logger.Warn().Msg("Ignoring malformed aggregated bar")
		return nil
	}
	c := b.Candle
	if e.series.Has(c.Index) {
		e.series.Upsert(c)
		return nil
	}
	if e.lastIndex != market.NoIndex && c.Index < e.lastIndex {
		e.logger.Warn().Int("index", c.Index).Msg("Ignoring out of order aggregated bar")
		return nil
	}

	e.series.Upsert(c)
	e.lastIndex = c.Index
	return e.detect(*b)
}

// detect evaluates the four rules in priority order; the first match wins.
func (e *Engine) detect(b OppositeTimeframeBar) []events.Event {
	e.emitted = nil
	c := b.Candle

	// Rule 1: one candle takes out the tracked extremum and the opposite side of its candle.
	switch e.lastKind {
	case market.KindLow:
		lc := e.candleOf(e.lastLow)
		if c.Low < e.lastLow.Price && c.High > lc.High && e.registerBoth(b) {
			return e.emitted
		}
	case market.KindHigh:
		hc := e.candleOf(e.lastHigh)
		if c.High > e.lastHigh.Price && c.Low < hc.Low && e.registerBoth(b) {
			return e.emitted
		}
	}

	// Rule 2: extension moves the tracked point.
	switch {
	case e.lastKind == market.KindHigh && c.High > e.lastHigh.Price:
		e.move(market.KindHigh, b)
		return e.emitted
	case e.lastKind == market.KindLow && c.Low < e.lastLow.Price:
		e.move(market.KindLow, b)
		return e.emitted
	}

	// Rule 3: reversal through the extreme candle's opposite side.
	switch {
	case e.lastKind == market.KindHigh && c.Low < e.candleOf(e.lastHigh).Low:
		e.register(market.KindLow, b)
		return e.emitted
	case e.lastKind == market.KindLow && c.High > e.candleOf(e.lastLow).High:
		e.register(market.KindHigh, b)
		return e.emitted
	}

	// Rule 4: cold start and threshold alternation.
	switch {
	case e.lastKind == market.KindNone,
		e.lastKind == market.KindLow && c.High > e.highThreshold:
		e.register(market.KindHigh, b)
	case e.lastKind == market.KindHigh && c.Low < e.lowThreshold:
		e.register(market.KindLow, b)
	}
	return e.emitted
}

// registerBoth inserts a High and a Low from the same bar, ordered by polarity.
// A doji has no polarity and is left to the remaining rules.
func (e *Engine) registerBoth(b OppositeTimeframeBar) bool {
	switch {
	case b.Candle.IsBearish():
		e.register(market.KindHigh, b)
		e.register(market.KindLow, b)
	case b.Candle.IsBullish():
		e.register(market.KindLow, b)
		e.register(market.KindHigh, b)
	default:
		return false
	}
	return true
}

func (e *Engine) register(kind market.Kind, b OppositeTimeframeBar) *market.SwingPoint {
	p := e.newPoint(kind, b, e.nextNumber)
	e.nextNumber++

	if prev := e.tracked(kind); prev != nil {
		p.PreviousIndex = prev.Index
		prev.NextIndex = p.Index
	}
	e.track(p)
	e.annotateKeyLevels(p)

	e.logger.Debug().
		Str("kind", kind.String()).
		Int("number", p.Number).
		Int("index", p.Index).
		Float64("price", p.Price).
		Msg("Swing point detected")
	e.emit(events.SwingPointDetected(p))
	return p
}

// move replaces the tracked point of the kind with a new record at the
// current bar that keeps the old number.
func (e *Engine) move(kind market.Kind, b OppositeTimeframeBar) *market.SwingPoint {
	old := e.tracked(kind)
	p := e.newPoint(kind, b, old.Number)
	p.PreviousIndex = old.PreviousIndex
	if prev := e.liveAt(old.PreviousIndex, kind); prev != nil {
		prev.NextIndex = p.Index
	}

	old.Removed = true
	e.emit(events.SwingPointRemoved(old))

	e.track(p)
	e.annotateKeyLevels(p)

	e.logger.Debug().
		Str("kind", kind.String()).
		Int("number", p.Number).
		Int("from_index", old.Index).
		Int("to_index", p.Index).
		Msg("Swing point extended")
	e.emit(events.SwingPointDetected(p))
	return p
}

func (e *Engine) newPoint(kind market.Kind, b OppositeTimeframeBar, number int) *market.SwingPoint {
	e.nextID++
	p := &market.SwingPoint{
		ID:                    e.nextID,
		Period:                e.period,
		Candle:                b.Candle,
		Kind:                  kind,
		Direction:             market.DirectionOf(kind),
		Number:                number,
		PreviousIndex:         market.NoIndex,
		NextIndex:             market.NoIndex,
		IndexOfSweepingCandle: market.NoIndex,
	}
	if kind == market.KindHigh {
		p.Index, p.Time, p.Price = b.HighIndex, b.HighTime, b.Candle.High
	} else {
		p.Index, p.Time, p.Price = b.LowIndex, b.LowTime, b.Candle.Low
	}
	if e.comparisonPrice != nil {
		if v, ok := e.comparisonPrice(p.Index); ok {
			p.ComparisonPrice = v
			p.HasComparisonPrice = true
		}
	}
	e.points = append(e.points, p)
	return p
}

func (e *Engine) tracked(kind market.Kind) *market.SwingPoint {
	if kind == market.KindHigh {
		return e.lastHigh
	}
	return e.lastLow
}

func (e *Engine) track(p *market.SwingPoint) {
	if p.Kind == market.KindHigh {
		e.lastHigh = p
		e.highThreshold = p.Price
	} else {
		e.lastLow = p
		e.lowThreshold = p.Price
	}
	e.lastKind = p.Kind
}

// candleOf returns the current data of the candle that produced p, honouring corrections.
func (e *Engine) candleOf(p *market.SwingPoint) market.Candle {
	if c, ok := e.series.Candle(p.Candle.Index); ok {
		return c
	}
	return p.Candle
}

func (e *Engine) liveAt(index int, kind market.Kind) *market.SwingPoint {
	if index == market.NoIndex {
		return nil
	}
	for i := len(e.points) - 1; i >= 0; i-- {
		p := e.points[i]
		if !p.Removed && p.Index == index && p.Kind == kind {
			return p
		}
	}
	return nil
}

func (e *Engine) emit(ev events.Event) {
	e.emitted = append(e.emitted, ev)
	if e.bus != nil {
		e.bus.Publish(ev)
	}
}
