package swing

import (
	"time"

	"pdarray-engine/internal/events"
	"pdarray-engine/internal/market"
)

// AddSpecialSwingPoint injects a labelled marker such as a prior day high or a
// daily open. A live point of the same kind at the index is replaced and its
// number kept; otherwise the marker gets a fresh number. Alternation state is
// only touched when the replaced point was the tracked one.
func (e *Engine) AddSpecialSwingPoint(index int, t time.Time, price float64, kind market.Kind, label string) *market.SwingPoint {
	if index < 0 || kind == market.KindNone || label == "" {
		e.logger.Warn().
			Int("index", index).
			Str("kind", kind.String()).
			Str("label", label).
			Msg("Ignoring invalid special swing point")
		return nil
	}
	e.emitted = nil

	c, ok := e.series.Candle(index)
	if !ok {
		c = market.Candle{Index: index, Time: t, Open: price, High: price, Low: price, Close: price}
	}

	old := e.liveAt(index, kind)
	number := e.nextNumber
	if old != nil {
		number = old.Number
	} else {
		e.nextNumber++
	}

	e.nextID++
	p := &market.SwingPoint{
		ID:                    e.nextID,
		Period:                e.period,
		Index:                 index,
		Price:                 price,
		Time:                  t,
		Candle:                c,
		Kind:                  kind,
		Direction:             market.DirectionOf(kind),
		Number:                number,
		PreviousIndex:         market.NoIndex,
		NextIndex:             market.NoIndex,
		Label:                 label,
		IndexOfSweepingCandle: market.NoIndex,
	}
	e.points = append(e.points, p)

	if old != nil {
		p.PreviousIndex = old.PreviousIndex
		p.NextIndex = old.NextIndex
		old.Removed = true
		e.emit(events.SwingPointRemoved(old))
		switch old {
		case e.lastHigh:
			e.lastHigh = p
		case e.lastLow:
			e.lastLow = p
		}
	}

	e.logger.Info().
		Str("label", label).
		Str("kind", kind.String()).
		Int("index", index).
		Float64("price", price).
		Bool("replaced", old != nil).
		Msg("Special swing point added")
	e.emit(events.SwingPointDetected(p))
	return p
}

// CheckForSweptLiquidity marks unswept special markers taken out by the candle.
// It does not change alternation state. The swept markers are returned.
func (e *Engine) CheckForSweptLiquidity(c *market.Candle) []*market.SwingPoint {
	if !c.Valid() {
		return nil
	}

	var swept []*market.SwingPoint
	for _, p := range e.points {
		if p.Removed || !p.IsSpecial() || p.Swept || p.Index >= c.Index {
			continue
		}
		switch {
		case p.Kind == market.KindHigh && c.High >= p.Price,
			p.Kind == market.KindLow && c.Low <= p.Price:
			p.MarkSwept(c.Index)
			swept = append(swept, p)
		}
	}

	for _, m := range swept {
		for _, p := range e.points {
			if !p.Removed && !p.IsSpecial() && p.Index == c.Index && p.Kind == m.Kind {
				p.SweptKeyLevel = m.Label
			}
		}
		e.logger.Info().
			Str("label", m.Label).
			Int("index", c.Index).
			Float64("price", m.Price).
			Msg("Key level liquidity swept")
	}
	return swept
}

// annotateKeyLevels records the closest unswept marker pair enclosing p.
func (e *Engine) annotateKeyLevels(p *market.SwingPoint) {
	var above, below *market.SwingPoint
	for _, m := range e.points {
		if m.Removed || !m.IsSpecial() || m.Swept {
			continue
		}
		if m.Kind == market.KindHigh && m.Price > p.Price && (above == nil || m.Price < above.Price) {
			above = m
		}
		if m.Kind == market.KindLow && m.Price < p.Price && (below == nil || m.Price > below.Price) {
			below = m
		}
	}
	if above != nil && below != nil {
		p.InsideKeyLevel = above.Label + "-" + below.Label
	}
}
