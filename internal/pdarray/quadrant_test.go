package pdarray

import (
	"testing"

	"pdarray-engine/internal/events"
	"pdarray-engine/internal/market"

	"github.com/rs/zerolog"
)

func sweepingLow(open, price float64) *market.SwingPoint {
	return &market.SwingPoint{
		Kind:      market.KindLow,
		Direction: market.DirectionUp,
		Price:     price,
		Candle:    market.Candle{Open: open, High: open, Low: price, Close: price},
	}
}

func TestNewlySweptQuadrants(t *testing.T) {
	l := market.NewLevel(market.LevelOrderBlock, market.DirectionDown, 100, 110)

	got := NewlySweptQuadrants(l, sweepingLow(106, 104))
	if len(got) != 1 || got[0] != 2 {
		t.Fatalf("Expected only the 50%% quadrant, got %v", got)
	}
	if l.Quadrants[2].IsSwept {
		t.Error("NewlySweptQuadrants must not modify the level")
	}

	l.SweepQuadrant(2)
	got = NewlySweptQuadrants(l, sweepingLow(106, 99))
	if len(got) != 2 || got[0] != 0 || got[1] != 1 {
		t.Errorf("Expected quadrants 0 and 1, got %v", got)
	}
}

func TestQuadrantSweepIsMonotonicAndDeactivates(t *testing.T) {
	bus := events.NewEventBus(zerolog.Nop())
	var swept []events.Event
	bus.Subscribe(events.EventOrderBlockLiquiditySwept, func(ev events.Event) { swept = append(swept, ev) })

	e := NewEngine(DefaultOptions(), market.NewSeries(), bus, zerolog.Nop())
	ob := market.NewLevel(market.LevelOrderBlock, market.DirectionDown, 100, 110)
	e.levels = append(e.levels, ob)

	first := sweepingLow(106, 104)
	e.sweepQuadrants(first)
	if !ob.Quadrants[2].IsSwept || ob.Quadrants[3].IsSwept {
		t.Fatal("Expected only the 50% quadrant swept")
	}
	if len(swept) != 1 || swept[0].SwingPoint != first || swept[0].Level != ob {
		t.Fatalf("Expected one order block sweep event, got %d", len(swept))
	}

	e.sweepQuadrants(sweepingLow(111, 107))
	for i, q := range ob.Quadrants {
		if i == 2 && !q.IsSwept {
			t.Error("A swept quadrant must stay swept")
		}
	}
	if !ob.Quadrants[3].IsSwept || !ob.Quadrants[4].IsSwept {
		t.Error("Expected the 75% and 100% quadrants swept")
	}
	if ob.IsActive {
		t.Error("Sweeping the 100% quadrant should deactivate the level")
	}

	e.sweepQuadrants(sweepingLow(111, 90))
	if len(swept) != 2 {
		t.Errorf("Inactive levels are not swept again, got %d events", len(swept))
	}
}

func TestQuadrantSweepSkipsOwnAndSameDirectionLevels(t *testing.T) {
	e := NewEngine(DefaultOptions(), market.NewSeries(), nil, zerolog.Nop())
	p := sweepingLow(111, 99)

	own := market.NewLevel(market.LevelOrderFlow, market.DirectionDown, 100, 110)
	own.Anchors = []*market.SwingPoint{p}
	same := market.NewLevel(market.LevelFairValueGap, market.DirectionUp, 100, 110)
	e.levels = append(e.levels, own, same)

	e.sweepQuadrants(p)

	for _, l := range []*market.Level{own, same} {
		for _, q := range l.Quadrants {
			if q.IsSwept {
				t.Errorf("%s level should not be swept", l.Type)
			}
		}
	}
}
