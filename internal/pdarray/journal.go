package pdarray

import "pdarray-engine/internal/market"

// checkpoint records how to undo every change made since the most recent swing
// point was handled. The swing engine only ever extends (and so removes) its
// latest point, which lets that removal roll back here and replay the bars
// processed since, instead of rebuilding from the first bar.
type checkpoint struct {
	point *market.SwingPoint
	bars  int
	undo  []func()
	saved map[*market.Level]struct{}
}

func (e *Engine) openCheckpoint(p *market.SwingPoint) {
	e.cp = checkpoint{
		point: p,
		bars:  len(e.bars),
		saved: make(map[*market.Level]struct{}),
	}
}

func (e *Engine) record(fn func()) {
	if e.cp.point != nil {
		e.cp.undo = append(e.cp.undo, fn)
	}
}

// touch saves l before its first change since the checkpoint. Levels created
// after the checkpoint need no copy; rolling back drops them.
func (e *Engine) touch(l *market.Level) {
	if e.cp.point == nil {
		return
	}
	if _, ok := e.cp.saved[l]; ok {
		return
	}
	e.cp.saved[l] = struct{}{}
	snapshot := *l
	e.cp.undo = append(e.cp.undo, func() { *l = snapshot })
}

func (e *Engine) created(l *market.Level) {
	if e.cp.point != nil {
		e.cp.saved[l] = struct{}{}
	}
}

// markSwept flags q as swept by the candle at index, remembering its prior state.
func (e *Engine) markSwept(q *market.SwingPoint, index int) {
	if q.Swept {
		return
	}
	prev := q.IndexOfSweepingCandle
	e.record(func() {
		q.Swept = false
		q.IndexOfSweepingCandle = prev
	})
	q.MarkSwept(index)
}

// rollback undoes every recorded change in reverse order and returns the bars
// processed since the checkpoint.
func (e *Engine) rollback() []int {
	replay := append([]int(nil), e.bars[e.cp.bars:]...)
	for i := len(e.cp.undo) - 1; i >= 0; i-- {
		e.cp.undo[i]()
	}
	e.bars = e.bars[:e.cp.bars]
	e.cp = checkpoint{}
	return replay
}
