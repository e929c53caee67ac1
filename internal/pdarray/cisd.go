package pdarray

import (
	"pdarray-engine/internal/events"
	"pdarray-engine/internal/market"
)

// deriveCisd builds the CISD of a liquidity-sweeping order flow from the last
// run of candles moving with the order flow. The CISD points the other way.
func (e *Engine) deriveCisd(of *market.Level) *market.Level {
	r, ok := e.lastRun(of.StartIndex(), of.EndIndex(), of.Direction)
	if !ok {
		return nil
	}

	cisd := market.NewLevel(market.LevelCISD, of.Direction.Opposite(), r.first.Open, r.last.Close)
	cisd.Index = of.Index
	if r.first.Open <= r.last.Close {
		cisd.SetLowAnchor(r.first.Index, r.first.Time)
		cisd.SetHighAnchor(r.last.Index, r.last.Time)
	} else {
		cisd.SetHighAnchor(r.first.Index, r.first.Time)
		cisd.SetLowAnchor(r.last.Index, r.last.Time)
	}
	cisd.Source = of
	cisd.Anchors = append(append([]*market.SwingPoint(nil), of.Anchors...), of.SweptSwingPoints...)
	e.touch(of)
	of.Cisd = cisd

	e.addCisd(cisd)
	return cisd
}

// addCisd stores a CISD, evicting the oldest unconfirmed ones of the same
// direction when the cap is reached.
func (e *Engine) addCisd(cisd *market.Level) {
	if limit := e.opts.MaxCisdsPerDirection; limit > 0 {
		pending := e.pendingCisds(cisd.Direction)
		for len(pending) >= limit {
			oldest := pending[0]
			pending = pending[1:]
			e.evictCisd(oldest, cisd.Index)
		}
	}

	n := len(e.cisds)
	e.cisds = append(e.cisds, cisd)
	e.record(func() { e.cisds = e.cisds[:n] })
	e.addLevel(cisd)
}

func (e *Engine) evictCisd(oldest *market.Level, index int) {
	e.keepCisds(func(l *market.Level) bool { return l != oldest })
	if src := oldest.Source; src != nil && src.Cisd == oldest {
		e.touch(src)
		src.Cisd = nil
	}
	e.logger.Debug().
		Str("direction", oldest.Direction.String()).
		Int("index", oldest.Index).
		Msg("Evicted unconfirmed CISD")
	e.dropLevel(oldest, index)
}

// keepCisds replaces the open CISD list with the entries keep accepts.
func (e *Engine) keepCisds(keep func(*market.Level) bool) {
	old := e.cisds
	kept := make([]*market.Level, 0, len(old))
	for _, l := range old {
		if keep(l) {
			kept = append(kept, l)
		}
	}
	e.cisds = kept
	e.record(func() { e.cisds = old })
}

func (e *Engine) pendingCisds(dir market.Direction) []*market.Level {
	var out []*market.Level
	for _, l := range e.cisds {
		if l.Direction == dir && !l.IsConfirmed {
			out = append(out, l)
		}
	}
	return out
}

// updateCisds advances the Pending -> Confirmed -> Activated state of every
// open CISD with the candle c. A CISD moves at most one step per candle.
func (e *Engine) updateCisds(c market.Candle) {
	activated := false
	for _, l := range e.cisds {
		switch {
		case !l.IsConfirmed:
			if c.Index > l.EndIndex() && closesThrough(l, c) {
				e.confirmCisd(l, c)
			}
		case !l.Activated:
			if c.Index > l.IndexOfConfirmingCandle && retests(l, c) {
				e.touch(l)
				l.Activated = true
				activated = true
				e.logger.Debug().
					Str("direction", l.Direction.String()).
					Int("index", c.Index).
					Msg("CISD activated")
			}
		}
	}
	if activated {
		e.keepCisds(func(l *market.Level) bool { return !l.Activated })
	}
}

// closesThrough reports whether c opens on the near side of the CISD boundary
// and closes beyond it.
func closesThrough(l *market.Level, c market.Candle) bool {
	if l.Direction == market.DirectionUp {
		return c.Open < l.High && c.Close > l.High
	}
	return c.Open > l.Low && c.Close < l.Low
}

// retests reports whether c opens beyond the confirmed boundary and trades back to it.
func retests(l *market.Level, c market.Candle) bool {
	if l.Direction == market.DirectionUp {
		return c.Open > l.High && c.Low <= l.High
	}
	return c.Open < l.Low && c.High >= l.Low
}

func (e *Engine) confirmCisd(l *market.Level, c market.Candle) {
	e.touch(l)
	l.IsConfirmed = true
	l.IndexOfConfirmingCandle = c.Index

	e.logger.Info().
		Str("direction", l.Direction.String()).
		Float64("low", l.Low).
		Float64("high", l.High).
		Int("index", c.Index).
		Msg("CISD confirmed")
	e.publish(events.LevelEvent(events.EventCisdConfirmed, l, c.Index))

	if e.opts.BreakerBlocks {
		e.deriveBreaker(l)
	}
}

// deriveBreaker builds the breaker block of a confirmed CISD from the previous
// order flow in the CISD's direction, using the extremes of its last run of
// candles moving that way.
func (e *Engine) deriveBreaker(cisd *market.Level) *market.Level {
	if cisd.Source == nil {
		return nil
	}

	var prev *market.Level
	for _, l := range e.levels {
		if l == cisd.Source {
			break
		}
		if l.Type == market.LevelOrderFlow && l.Direction == cisd.Direction {
			prev = l
		}
	}
	if prev == nil {
		return nil
	}

	r, ok := e.lastRun(prev.StartIndex(), prev.EndIndex(), cisd.Direction)
	if !ok {
		return nil
	}
	if (cisd.Direction == market.DirectionUp && r.low >= cisd.High) ||
		(cisd.Direction == market.DirectionDown && r.high <= cisd.Low) {
		e.logger.Debug().
			Str("direction", cisd.Direction.String()).
			Float64("breaker_low", r.low).
			Float64("breaker_high", r.high).
			Msg("Breaker lies past the CISD, not attached")
		return nil
	}

	b := market.NewLevel(market.LevelBreakerBlock, cisd.Direction, r.low, r.high)
	b.Index = cisd.IndexOfConfirmingCandle
	b.SetLowAnchor(r.lowAt.Index, r.lowAt.Time)
	b.SetHighAnchor(r.highAt.Index, r.highAt.Time)
	b.Source = prev
	b.Cisd = cisd
	b.Anchors = append(append([]*market.SwingPoint(nil), prev.Anchors...), cisd.Anchors...)
	cisd.BreakerBlock = b

	e.addLevel(b)
	return b
}
