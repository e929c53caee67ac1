package pdarray

import (
	"time"

	"pdarray-engine/internal/events"
	"pdarray-engine/internal/market"
)

// buildOrderFlow creates the order flow closed by p: for a new Low, the range
// from the previous Low up to the most recent High, provided that Low came
// first. Mirrored for a new High.
func (e *Engine) buildOrderFlow(p *market.SwingPoint) *market.Level {
	pos := e.position(p)
	if pos < 0 {
		return nil
	}

	var earlier, opposite *market.SwingPoint
	for i := pos - 1; i >= 0 && (earlier == nil || opposite == nil); i-- {
		q := e.history[i]
		switch {
		case q.Kind == p.Kind && earlier == nil:
			earlier = q
		case q.Kind != p.Kind && opposite == nil:
			opposite = q
		}
	}
	if earlier == nil || opposite == nil || earlier.Index >= opposite.Index {
		return nil
	}

	of := market.NewLevel(market.LevelOrderFlow, market.DirectionOf(p.Kind), earlier.Price, opposite.Price)
	of.Index = p.Index
	low, high := earlier, opposite
	if p.Kind == market.KindHigh {
		low, high = opposite, earlier
	}
	of.SetLowAnchor(low.Index, low.Time)
	of.SetHighAnchor(high.Index, high.Time)
	of.Anchors = []*market.SwingPoint{earlier, opposite, p}

	e.removeRejectionAt(of.Index)
	e.addLevel(of)

	if e.opts.OrderBlocks {
		e.detectOrderBlock(of, earlier)
	}
	if e.detectSweep(of) {
		if e.opts.Cisds {
			e.deriveCisd(of)
		}
		if e.opts.Gauntlets {
			e.detectGauntlet(of)
		}
	}
	return of
}

// detectSweep marks the unswept swing points of the far-side kind that lie
// strictly inside the order flow and precede its extreme. The most extreme
// one becomes the primary swept point.
func (e *Engine) detectSweep(of *market.Level) bool {
	kind, extreme := market.KindHigh, of.IndexHigh
	if of.Direction == market.DirectionDown {
		kind, extreme = market.KindLow, of.IndexLow
	}

	var swept []*market.SwingPoint
	var primary *market.SwingPoint
	for _, q := range e.history {
		if q.Kind != kind || q.Swept || q.Index >= extreme || of.HasAnchor(q) || !of.Contains(q.Price) {
			continue
		}
		swept = append(swept, q)
		if primary == nil ||
			(kind == market.KindHigh && q.Price > primary.Price) ||
			(kind == market.KindLow && q.Price < primary.Price) {
			primary = q
		}
	}
	if primary == nil {
		return false
	}

	idx := e.sweepingCandle(of, primary.Price)
	for _, q := range swept {
		e.markSwept(q, idx)
	}
	of.IsLiquiditySwept = true
	of.SweptSwingPoint = primary
	of.SweptSwingPoints = swept
	of.IndexOfSweepingCandle = idx

	e.logger.Debug().
		Str("direction", of.Direction.String()).
		Int("swept_count", len(swept)).
		Float64("swept_price", primary.Price).
		Int("sweeping_index", idx).
		Msg("Order flow swept liquidity")
	return true
}

// sweepingCandle finds the first candle in the order flow's span that trades through price.
func (e *Engine) sweepingCandle(of *market.Level, price float64) int {
	for i := of.StartIndex(); i <= of.EndIndex(); i++ {
		c, ok := e.candles.Candle(i)
		if !ok {
			continue
		}
		if (of.Direction == market.DirectionUp && c.High > price) ||
			(of.Direction == market.DirectionDown && c.Low < price) {
			return i
		}
	}
	if of.Direction == market.DirectionUp {
		return of.IndexHigh
	}
	return of.IndexLow
}

// detectOrderBlock takes the last opposite-polarity candle at or before the
// order flow's origin, searching back to the preceding opposite swing point.
func (e *Engine) detectOrderBlock(of *market.Level, origin *market.SwingPoint) *market.Level {
	stop := origin.Index - orderBlockLookback
	for i := e.position(origin) - 1; i >= 0; i-- {
		if q := e.history[i]; q.Kind != origin.Kind && q.Index < origin.Index {
			stop = q.Index
			break
		}
	}

	for i := origin.Index; i >= stop && i >= 0; i-- {
		c, ok := e.candles.Candle(i)
		if !ok || !hasPolarity(c, of.Direction.Opposite()) {
			continue
		}
		for _, l := range e.levels {
			if l.Type == market.LevelOrderBlock && l.Index == c.Index && l.Direction == of.Direction {
				return l
			}
		}

		ob := market.NewLevel(market.LevelOrderBlock, of.Direction, c.Low, c.High)
		ob.Index = c.Index
		ob.SetLowAnchor(c.Index, c.Time)
		ob.SetHighAnchor(c.Index, c.Time)
		ob.Source = of
		ob.Anchors = []*market.SwingPoint{origin}

		e.removeRejectionAt(ob.Index)
		e.addLevel(ob)
		e.publish(events.LevelEvent(events.EventOrderBlockDetected, ob, ob.Index))
		return ob
	}
	return nil
}

// detectGauntlet flags the most recent same-direction fair value gap inside the
// order flow when the sweeping candle is its middle or far boundary candle.
func (e *Engine) detectGauntlet(of *market.Level) {
	start, end := spanTimes(of)

	// Gaps are stored in bar order, so the scan stops at the first one whose
	// middle candle precedes the order flow.
	var fvg *market.Level
	for i := len(e.gaps) - 1; i >= 0; i-- {
		l := e.gaps[i]
		if l.MidTime.Before(start) {
			break
		}
		if l.Direction != of.Direction || !of.Overlaps(l.Low, l.High) || l.MidTime.After(end) {
			continue
		}
		fvg = l
		break
	}
	if fvg == nil {
		return
	}

	if of.IndexOfSweepingCandle == fvg.IndexMid || of.IndexOfSweepingCandle == fvg.EndIndex() {
		e.touch(fvg)
		fvg.IsGauntlet = true
		of.GauntletFVG = fvg
		e.logger.Info().
			Str("direction", fvg.Direction.String()).
			Float64("low", fvg.Low).
			Float64("high", fvg.High).
			Int("sweeping_index", of.IndexOfSweepingCandle).
			Msg("Gauntlet detected")
	}
}

func spanTimes(l *market.Level) (time.Time, time.Time) {
	if l.IndexLow <= l.IndexHigh {
		return l.LowTime, l.HighTime
	}
	return l.HighTime, l.LowTime
}
