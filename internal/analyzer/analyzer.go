// Package analyzer wires the swing point engine, the PD array engine and the
// higher timeframe aggregator behind a single bar-by-bar entry point.
package analyzer

import (
	"sync"
	"time"

	"pdarray-engine/internal/events"
	"pdarray-engine/internal/market"
	"pdarray-engine/internal/pdarray"
	"pdarray-engine/internal/swing"
	"pdarray-engine/internal/timeframe"

	"github.com/rs/zerolog"
)

// Options configure an Analyzer
type Options struct {
	PdArray         pdarray.Options
	Timeframes      []string
	ComparisonPrice swing.ComparisonPriceFunc
}

// Analyzer processes one instrument's primary bar feed. Calls are serialised,
// so a single Analyzer can be shared between goroutines.
type Analyzer struct {
	mu     sync.Mutex
	bus    *events.EventBus
	swing  *swing.Engine
	pd     *pdarray.Engine
	frames *timeframe.Aggregator
	logger zerolog.Logger

	pending []events.Event
	bars    int
}

// New creates an analyzer on bus. Events of every engine are published there
// in causal order: a swing point event reaches every subscriber before the
// levels derived from it.
func New(opts Options, bus *events.EventBus, logger zerolog.Logger) *Analyzer {
	a := &Analyzer{
		bus:    bus,
		logger: logger.With().Str("component", "Analyzer").Logger(),
	}
	a.swing = swing.NewEngine(swing.Options{
		Period:          market.PeriodPrimary,
		ComparisonPrice: opts.ComparisonPrice,
	}, bus, logger)

	pdOpts := opts.PdArray
	pdOpts.Period = market.PeriodPrimary
	a.pd = pdarray.NewEngine(pdOpts, a.swing.Series(), bus, logger)
	a.frames = timeframe.NewAggregator(opts.Timeframes, bus, logger)

	bus.SubscribeAll(func(ev events.Event) { a.pending = append(a.pending, ev) })
	return a
}

// Bus returns the event bus the analyzer publishes on.
func (a *Analyzer) Bus() *events.EventBus {
	return a.bus
}

// Process runs every derivation for one closed bar and returns the events it
// caused, in publication order. A repeated index only corrects stored data.
func (a *Analyzer) Process(c *market.Candle) []events.Event {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.pending = nil
	if !c.Valid() {
		a.logger.Warn().Msg("Ignoring malformed candle")
		return nil
	}

	seen := a.swing.Seen(c.Index)
	a.swing.ProcessBar(c)
	if seen {
		// Corrections only fix stored data, including the open aggregated bars.
		a.frames.Add(c)
		return a.drain()
	}
	if !a.swing.Seen(c.Index) {
		return a.drain()
	}

	a.pd.OnBar(c.Index)
	a.swing.CheckForSweptLiquidity(c)
	a.frames.Add(c)
	a.bars++

	return a.drain()
}

// NextIndex returns the index following the last stored primary bar.
func (a *Analyzer) NextIndex() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.swing.Series().Last() + 1
}

// AddSpecialSwingPoint injects a labelled key level into the primary swing engine.
func (a *Analyzer) AddSpecialSwingPoint(index int, t time.Time, price float64, kind market.Kind, label string) *market.SwingPoint {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pending = nil
	return a.swing.AddSpecialSwingPoint(index, t, price, kind, label)
}

// Flush closes the open higher timeframe bars and returns their events.
func (a *Analyzer) Flush() []events.Event {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pending = nil
	a.frames.Flush()
	return a.drain()
}

// SwingPoints returns the live swing points of period p ordered by index.
func (a *Analyzer) SwingPoints(p market.Period) []*market.SwingPoint {
	a.mu.Lock()
	defer a.mu.Unlock()
	if p == market.PeriodPrimary {
		return a.swing.Points()
	}
	if e := a.frames.Engine(p); e != nil {
		return e.Points()
	}
	return nil
}

// Levels returns the levels of type t, or every level when t is empty.
func (a *Analyzer) Levels(t market.LevelType) []*market.Level {
	a.mu.Lock()
	defer a.mu.Unlock()
	if t == "" {
		return a.pd.AllLevels()
	}
	return a.pd.Levels(t)
}

// Periods returns the primary period followed by the aggregated ones.
func (a *Analyzer) Periods() []market.Period {
	return append([]market.Period{a.swing.Period()}, a.frames.Periods()...)
}

// Stats summarises the analyzer state
type Stats struct {
	Bars        int                      `json:"bars"`
	SwingPoints int                      `json:"swing_points"`
	Levels      map[market.LevelType]int `json:"levels"`
	Active      map[market.LevelType]int `json:"active"`
}

// Stats returns level counts per type.
func (a *Analyzer) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := Stats{
		Bars:        a.bars,
		SwingPoints: len(a.swing.Points()),
		Levels:      make(map[market.LevelType]int),
		Active:      make(map[market.LevelType]int),
	}
	for _, l := range a.pd.AllLevels() {
		s.Levels[l.Type]++
		if l.IsActive {
			s.Active[l.Type]++
		}
	}
	return s
}

func (a *Analyzer) drain() []events.Event {
	out := a.pending
	a.pending = nil
	return out
}
