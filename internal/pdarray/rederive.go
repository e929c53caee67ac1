package pdarray

import (
	"pdarray-engine/internal/events"
	"pdarray-engine/internal/market"
)

// OnSwingPointRemoved drops p from the history and re-derives the levels from
// the remaining swing points and the bars processed so far. Removing the
// latest point rolls back to the checkpoint taken when it arrived and replays
// only the bars since; any other removal rebuilds from the first bar.
func (e *Engine) OnSwingPointRemoved(p *market.SwingPoint) {
	if p == nil || p.IsSpecial() || p.Period != e.opts.Period {
		return
	}
	pos := e.position(p)
	if pos < 0 {
		return
	}

	if e.cp.point == p && pos == len(e.history)-1 {
		e.rewind(pos)
		return
	}
	e.history = append(e.history[:pos:pos], e.history[pos+1:]...)
	e.rederive()
}

// rewind undoes everything derived since p, the last point in the history,
// arrived and replays the bars processed after it.
func (e *Engine) rewind(pos int) {
	bars := e.rollback()
	e.history = e.history[:pos]

	e.replaying = true
	for _, index := range bars {
		e.processBar(index)
	}
	e.replaying = false

	e.logger.Debug().
		Int("swing_points", len(e.history)).
		Int("replayed_bars", len(bars)).
		Int("levels", len(e.levels)).
		Msg("PD arrays rolled back")
	e.publish(events.Event{Type: events.EventPdArraysRebuilt, Index: e.LastBar()})
}

// rederive replays the retained history bar by bar: the swing points at or
// before a bar's index first, then the bar itself. Events are suppressed
// during the replay and a single rebuild event is published afterwards.
func (e *Engine) rederive() {
	retained, bars := e.history, e.bars
	e.history, e.levels, e.bars = nil, nil, nil
	e.cisds, e.gaps = nil, nil
	e.gapIndex = make(map[gapKey][]*market.Level)
	e.cp = checkpoint{}
	for _, p := range retained {
		p.ResetSweep()
	}

	e.replaying = true
	next := 0
	for _, index := range bars {
		for next < len(retained) && retained[next].Index <= index {
			e.replayPoint(retained[next])
			next++
		}
		e.processBar(index)
	}
	for ; next < len(retained); next++ {
		e.replayPoint(retained[next])
	}
	e.replaying = false

	e.logger.Debug().
		Int("swing_points", len(e.history)).
		Int("bars", len(e.bars)).
		Int("levels", len(e.levels)).
		Msg("PD arrays re-derived")
	e.publish(events.Event{Type: events.EventPdArraysRebuilt, Index: e.LastBar()})
}

// replayPoint takes a checkpoint like a live point, so the last replayed point
// can itself be rolled back later.
func (e *Engine) replayPoint(p *market.SwingPoint) {
	e.openCheckpoint(p)
	e.history = append(e.history, p)
	e.handlePoint(p)
}
