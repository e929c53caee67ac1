package pdarray

import "pdarray-engine/internal/market"

// detectRejectionBlock creates a rejection block over the extremum-side wick
// of p's candle when the wick exceeds WickRatio times the body. A High's
// upper wick gives a Down block, a Low's lower wick an Up block.
func (e *Engine) detectRejectionBlock(p *market.SwingPoint) *market.Level {
	c := p.Candle
	limit := e.opts.WickRatio * c.Body()

	var rb *market.Level
	switch p.Kind {
	case market.KindHigh:
		if w := c.UpperWick(); w > 0 && w > limit {
			rb = market.NewLevel(market.LevelRejectionBlock, market.DirectionDown, max(c.Open, c.Close), c.High)
		}
	case market.KindLow:
		if w := c.LowerWick(); w > 0 && w > limit {
			rb = market.NewLevel(market.LevelRejectionBlock, market.DirectionUp, c.Low, min(c.Open, c.Close))
		}
	}
	if rb == nil {
		return nil
	}

	rb.Index = p.Index
	rb.SetLowAnchor(p.Index, p.Time)
	rb.SetHighAnchor(p.Index, p.Time)
	rb.Anchors = []*market.SwingPoint{p}
	e.addLevel(rb)
	return rb
}

// removeRejectionAt drops the rejection blocks at index, which a level created
// there supersedes. Subscribers are told about each removal.
func (e *Engine) removeRejectionAt(index int) {
	var superseded []*market.Level
	for _, l := range e.levels {
		if l.Type == market.LevelRejectionBlock && l.Index == index {
			superseded = append(superseded, l)
		}
	}
	for _, l := range superseded {
		e.logger.Debug().Int("index", index).Msg("Rejection block superseded")
		e.dropLevel(l, index)
	}
}
