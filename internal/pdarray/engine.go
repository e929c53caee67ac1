// Package pdarray derives PD array levels (order flows, order blocks, CISDs,
// breaker blocks, fair value gaps, rejection blocks, gauntlets and unicorns)
// from swing points and closed bars.
package pdarray

import (
	"math"
	"sort"
	"time"

	"pdarray-engine/internal/events"
	"pdarray-engine/internal/market"

	"github.com/rs/zerolog"
)

const (
	DefaultMaxCisdsPerDirection = 3
	DefaultWickRatio            = 1.5

	// orderBlockLookback bounds the backwards candle search when no earlier
	// opposite swing point exists.
	orderBlockLookback = 50
)

// CandleSource gives read access to closed bars by index.
// *market.Series satisfies it.
type CandleSource interface {
	Candle(index int) (market.Candle, bool)
}

// MacroWindowFunc reports whether t falls inside a macro trading window.
type MacroWindowFunc func(t time.Time) bool

// Options configure an Engine. Pattern families can be switched off one by one.
type Options struct {
	Period market.Period

	// MaxCisdsPerDirection caps unconfirmed CISDs per direction; <= 0 disables the cap.
	MaxCisdsPerDirection int

	OrderBlocks     bool
	Cisds           bool
	BreakerBlocks   bool
	FairValueGaps   bool
	RejectionBlocks bool
	Gauntlets       bool
	Unicorns        bool

	WickRatio float64
	Epsilon   float64

	// MacroFilter drops fair value gaps whose middle candle is outside every
	// macro window. It has no effect when MacroWindow is nil.
	MacroFilter bool
	MacroWindow MacroWindowFunc
}

// DefaultOptions enables every pattern family with the default thresholds.
func DefaultOptions() Options {
	return Options{
		MaxCisdsPerDirection: DefaultMaxCisdsPerDirection,
		OrderBlocks:          true,
		Cisds:                true,
		BreakerBlocks:        true,
		FairValueGaps:        true,
		RejectionBlocks:      true,
		Gauntlets:            true,
		Unicorns:             true,
		WickRatio:            DefaultWickRatio,
		Epsilon:              market.DefaultPriceEpsilon,
	}
}

// Engine is the PD array state machine for a single period. It is driven by
// swing point events and by OnBar, and is not safe for concurrent use.
type Engine struct {
	opts    Options
	candles CandleSource
	bus     *events.EventBus
	logger  zerolog.Logger
	subs    []events.SubscriptionID

	history   []*market.SwingPoint
	levels    []*market.Level
	bars      []int
	replaying bool

	// cisds holds the CISDs not activated yet, in creation order.
	cisds []*market.Level
	// gaps holds fair value gaps and unicorns in creation order; gapIndex
	// buckets them by epsilon-rounded bounds for duplicate detection.
	gaps     []*market.Level
	gapIndex map[gapKey][]*market.Level

	cp checkpoint
}

type gapKey struct {
	dir       market.Direction
	low, high int64
}

// NewEngine creates a PD array engine reading candles from candles. When bus is
// not nil the engine subscribes to swing point events of its period and
// publishes its own events on it.
func NewEngine(opts Options, candles CandleSource, bus *events.EventBus, logger zerolog.Logger) *Engine {
	if opts.WickRatio <= 0 {
		opts.WickRatio = DefaultWickRatio
	}
	if opts.Epsilon <= 0 {
		opts.Epsilon = market.DefaultPriceEpsilon
	}

	e := &Engine{
		opts:     opts,
		candles:  candles,
		bus:      bus,
		gapIndex: make(map[gapKey][]*market.Level),
		logger: logger.With().
			Str("component", "PdArrayEngine").
			Str("period", opts.Period.String()).
			Logger(),
	}
	if bus != nil {
		e.subs = append(e.subs,
			bus.Subscribe(events.EventSwingPointDetected, func(ev events.Event) { e.OnSwingPoint(ev.SwingPoint) }),
			bus.Subscribe(events.EventSwingPointRemoved, func(ev events.Event) { e.OnSwingPointRemoved(ev.SwingPoint) }),
		)
	}
	return e
}

// Close removes the engine's bus subscriptions.
func (e *Engine) Close() {
	if e.bus == nil {
		return
	}
	for _, id := range e.subs {
		e.bus.Unsubscribe(id)
	}
	e.subs = nil
}

// Period returns the period whose swing points the engine consumes.
func (e *Engine) Period() market.Period {
	return e.opts.Period
}

// History returns the swing points the engine holds, ordered by index.
func (e *Engine) History() []*market.SwingPoint {
	out := make([]*market.SwingPoint, len(e.history))
	copy(out, e.history)
	return out
}

// Levels returns the levels of type t in creation order.
func (e *Engine) Levels(t market.LevelType) []*market.Level {
	var out []*market.Level
	for _, l := range e.levels {
		if l.Type == t {
			out = append(out, l)
		}
	}
	return out
}

// AllLevels returns every level in creation order.
func (e *Engine) AllLevels() []*market.Level {
	out := make([]*market.Level, len(e.levels))
	copy(out, e.levels)
	return out
}

// LastBar returns the index of the last bar processed, or market.NoIndex.
func (e *Engine) LastBar() int {
	if len(e.bars) == 0 {
		return market.NoIndex
	}
	return e.bars[len(e.bars)-1]
}

// OnSwingPoint handles a detected swing point. Points of other periods and
// special markers are ignored.
func (e *Engine) OnSwingPoint(p *market.SwingPoint) {
	if p == nil || p.Removed || p.IsSpecial() || p.Period != e.opts.Period {
		return
	}
	e.openCheckpoint(p)
	e.history = append(e.history, p)
	sort.SliceStable(e.history, func(i, j int) bool { return e.history[i].Index < e.history[j].Index })
	e.handlePoint(p)
}

// OnBar runs the per-bar steps for the candle at index: CISD confirmation and
// activation, then fair value gap detection. Bars must arrive in increasing
// index order after the swing points of the same bar.
func (e *Engine) OnBar(index int) {
	if _, ok := e.candles.Candle(index); !ok {
		e.logger.Warn().Int("index", index).Msg("No candle for bar, skipping")
		return
	}
	if last := e.LastBar(); last != market.NoIndex && index <= last {
		e.logger.Debug().Int("index", index).Int("last_index", last).Msg("Bar already processed")
		return
	}
	e.processBar(index)
}

// handlePoint derives the order flow closed by p before the rejection block, so
// a block that an order flow at the same index supersedes is never announced.
func (e *Engine) handlePoint(p *market.SwingPoint) {
	of := e.buildOrderFlow(p)
	e.sweepQuadrants(p)
	if e.opts.RejectionBlocks && of == nil {
		e.detectRejectionBlock(p)
	}
}

func (e *Engine) processBar(index int) {
	e.bars = append(e.bars, index)
	c, _ := e.candles.Candle(index)

	if e.opts.Cisds {
		e.updateCisds(c)
	}
	if e.opts.FairValueGaps {
		e.detectFairValueGap(index)
	}
}

// position returns p's position in the history, or -1.
func (e *Engine) position(p *market.SwingPoint) int {
	for i := len(e.history) - 1; i >= 0; i-- {
		if e.history[i] == p {
			return i
		}
	}
	return -1
}

func (e *Engine) addLevel(l *market.Level) {
	n := len(e.levels)
	e.levels = append(e.levels, l)
	e.record(func() { e.levels = e.levels[:n] })
	e.created(l)

	if isFairValueGap(l) {
		e.indexGap(l)
	}

	e.logger.Debug().
		Str("type", string(l.Type)).
		Str("direction", l.Direction.String()).
		Float64("low", l.Low).
		Float64("high", l.High).
		Int("index", l.Index).
		Msg("Level detected")
	e.publish(events.LevelEvent(events.EventPdArrayDetected, l, l.Index))
}

// dropLevel removes an announced level and tells subscribers about it.
func (e *Engine) dropLevel(target *market.Level, index int) {
	pos := -1
	for i, l := range e.levels {
		if l == target {
			pos = i
			break
		}
	}
	if pos < 0 {
		return
	}
	old := e.levels
	e.levels = append(e.levels[:pos:pos], e.levels[pos+1:]...)
	e.record(func() { e.levels = old })
	e.publish(events.LevelEvent(events.EventPdArrayRemoved, target, index))
}

func (e *Engine) indexGap(l *market.Level) {
	n := len(e.gaps)
	e.gaps = append(e.gaps, l)
	key := e.gapKeyOf(l, 0, 0)
	e.gapIndex[key] = append(e.gapIndex[key], l)
	e.record(func() {
		e.gaps = e.gaps[:n]
		if bucket := e.gapIndex[key]; len(bucket) <= 1 {
			delete(e.gapIndex, key)
		} else {
			e.gapIndex[key] = bucket[:len(bucket)-1]
		}
	})
}

func (e *Engine) gapKeyOf(l *market.Level, dl, dh int64) gapKey {
	return gapKey{
		dir:  l.Direction,
		low:  int64(math.Floor(l.Low/e.opts.Epsilon)) + dl,
		high: int64(math.Floor(l.High/e.opts.Epsilon)) + dh,
	}
}

// sameGap returns the earliest stored gap with fvg's direction and bounds
// within epsilon. Prices within epsilon share a bucket or sit in adjacent ones.
func (e *Engine) sameGap(fvg *market.Level) *market.Level {
	var found *market.Level
	for dl := int64(-1); dl <= 1; dl++ {
		for dh := int64(-1); dh <= 1; dh++ {
			for _, l := range e.gapIndex[e.gapKeyOf(fvg, dl, dh)] {
				if l.SameRange(fvg, e.opts.Epsilon) && (found == nil || l.Index < found.Index) {
					found = l
				}
			}
		}
	}
	return found
}

func (e *Engine) publish(ev events.Event) {
	if e.replaying || e.bus == nil {
		return
	}
	ev.Period = e.opts.Period
	e.bus.Publish(ev)
}

// run is a maximal sequence of consecutive candles with the same polarity.
type run struct {
	first, last   market.Candle
	lowAt, highAt market.Candle
	low, high     float64
}

// lastRun returns the last run of dir-polarity candles between from and to
// inclusive. A missing candle breaks a run.
func (e *Engine) lastRun(from, to int, dir market.Direction) (run, bool) {
	var cur, best run
	in, found := false, false
	for i := from; i <= to; i++ {
		c, ok := e.candles.Candle(i)
		if !ok || !hasPolarity(c, dir) {
			in = false
			continue
		}
		if !in {
			cur = run{first: c, last: c, lowAt: c, highAt: c, low: c.Low, high: c.High}
			in = true
		} else {
			cur.last = c
			if c.Low < cur.low {
				cur.low, cur.lowAt = c.Low, c
			}
			if c.High > cur.high {
				cur.high, cur.highAt = c.High, c
			}
		}
		best = cur
		found = true
	}
	return best, found
}

func hasPolarity(c market.Candle, dir market.Direction) bool {
	switch dir {
	case market.DirectionUp:
		return c.IsBullish()
	case market.DirectionDown:
		return c.IsBearish()
	}
	return false
}
