package pdarray

import (
	"pdarray-engine/internal/events"
	"pdarray-engine/internal/market"
)

// NewlySweptQuadrants returns the indices of l's quadrants that lie strictly
// between the open of p's candle and p's price and are not swept yet.
// It does not modify l.
func NewlySweptQuadrants(l *market.Level, p *market.SwingPoint) []int {
	lo, hi := p.Candle.Open, p.Price
	if lo > hi {
		lo, hi = hi, lo
	}

	var out []int
	for i, q := range l.Quadrants {
		if !q.IsSwept && q.Price > lo && q.Price < hi {
			out = append(out, i)
		}
	}
	return out
}

// sweepQuadrants applies p to every active level of the opposite direction
// that was not built from p.
func (e *Engine) sweepQuadrants(p *market.SwingPoint) {
	target := market.DirectionOf(p.Kind).Opposite()

	for _, l := range e.levels {
		if !l.IsActive || l.Direction != target || l.HasAnchor(p) {
			continue
		}
		idx := NewlySweptQuadrants(l, p)
		if len(idx) == 0 {
			continue
		}
		e.touch(l)
		for _, i := range idx {
			l.SweepQuadrant(i)
		}

		var t events.EventType
		switch l.Type {
		case market.LevelOrderBlock:
			t = events.EventOrderBlockLiquiditySwept
		case market.LevelCISD:
			t = events.EventCisdLiquiditySwept
		default:
			continue
		}
		e.publish(events.Event{Type: t, Level: l, SwingPoint: p, Index: p.Index})
	}
}
