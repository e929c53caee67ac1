package pdarray

import (
	"pdarray-engine/internal/events"
	"pdarray-engine/internal/market"
)

func isFairValueGap(l *market.Level) bool {
	return l.Type == market.LevelFairValueGap || l.Type == market.LevelUnicorn
}

// detectFairValueGap checks the three candles ending at index for a gap
// between the first candle's range and the third's.
func (e *Engine) detectFairValueGap(index int) *market.Level {
	c1, ok1 := e.candles.Candle(index - 2)
	c2, ok2 := e.candles.Candle(index - 1)
	c3, ok3 := e.candles.Candle(index)
	if !ok1 || !ok2 || !ok3 {
		return nil
	}

	var fvg *market.Level
	switch {
	case c1.High < c3.Low:
		fvg = market.NewLevel(market.LevelFairValueGap, market.DirectionUp, c1.High, c3.Low)
		fvg.SetLowAnchor(c1.Index, c1.Time)
		fvg.SetHighAnchor(c3.Index, c3.Time)
	case c1.Low > c3.High:
		fvg = market.NewLevel(market.LevelFairValueGap, market.DirectionDown, c3.High, c1.Low)
		fvg.SetLowAnchor(c3.Index, c3.Time)
		fvg.SetHighAnchor(c1.Index, c1.Time)
	default:
		return nil
	}
	fvg.SetMid(c2.Index, c2.Time)
	fvg.Index = c3.Index

	if e.opts.MacroFilter && e.opts.MacroWindow != nil && !e.opts.MacroWindow(c2.Time) {
		e.logger.Debug().Int("index", c2.Index).Msg("Fair value gap outside macro window")
		return nil
	}

	if l := e.sameGap(fvg); l != nil {
		e.touch(l)
		l.Extend(c3.Index, c3.Time)
		return l
	}

	e.addLevel(fvg)
	if e.opts.Unicorns {
		e.detectUnicorn(fvg)
	}
	return fvg
}

// detectUnicorn reclassifies fvg when one of its candles confirmed a CISD whose
// breaker block it overlaps. Only the first matching CISD is used.
func (e *Engine) detectUnicorn(fvg *market.Level) bool {
	for _, cisd := range e.cisds {
		if !cisd.IsConfirmed || cisd.Activated || cisd.BreakerBlock == nil || cisd.Direction != fvg.Direction {
			continue
		}
		ci := cisd.IndexOfConfirmingCandle
		if ci != fvg.IndexLow && ci != fvg.IndexMid && ci != fvg.IndexHigh {
			continue
		}
		b := cisd.BreakerBlock
		if !fvg.Overlaps(b.Low, b.High) {
			continue
		}
		if (fvg.Direction == market.DirectionUp && fvg.Low >= cisd.High) ||
			(fvg.Direction == market.DirectionDown && fvg.High <= cisd.Low) {
			continue
		}

		fvg.Type = market.LevelUnicorn
		fvg.Cisd = cisd
		fvg.BreakerBlock = b

		e.logger.Info().
			Str("direction", fvg.Direction.String()).
			Float64("low", fvg.Low).
			Float64("high", fvg.High).
			Int("confirming_index", ci).
			Msg("Unicorn detected")
		e.publish(events.LevelEvent(events.EventUnicornDetected, fvg, fvg.Index))
		return true
	}
	return false
}
