package swing

import (
	"math/rand"
	"testing"
	"time"

	"pdarray-engine/internal/events"
	"pdarray-engine/internal/market"

	"github.com/rs/zerolog"
)

var baseTime = time.Date(2024, 3, 4, 9, 30, 0, 0, time.UTC)

func bar(i int, o, h, l, c float64) *market.Candle {
	return &market.Candle{
		Index: i,
		Time:  baseTime.Add(time.Duration(i) * time.Minute),
		Open:  o,
		High:  h,
		Low:   l,
		Close: c,
	}
}

func newTestEngine() *Engine {
	return NewEngine(Options{}, nil, zerolog.Nop())
}

// TestColdStartRegistersHigh tests that the first bar produces a swing high
func TestColdStartRegistersHigh(t *testing.T) {
	e := newTestEngine()

	evs := e.ProcessBar(bar(0, 100, 105, 95, 101))

	if len(evs) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(evs))
	}
	p := evs[0].SwingPoint
	if evs[0].Type != events.EventSwingPointDetected || p.Kind != market.KindHigh {
		t.Fatalf("Expected a detected high, got %s %s", evs[0].Type, p.Kind)
	}
	if p.Number != 1 || p.Price != 105 || p.Index != 0 {
		t.Errorf("Unexpected point: number=%d price=%f index=%d", p.Number, p.Price, p.Index)
	}
	if p.Direction != market.DirectionDown {
		t.Errorf("A swing high should start a down leg, got %s", p.Direction)
	}
}

// TestDoubleExtremumBearish tests the two-points-in-one-candle rule on a bearish bar
func TestDoubleExtremumBearish(t *testing.T) {
	e := newTestEngine()

	e.ProcessBar(bar(0, 100, 105, 95, 101))
	low := e.ProcessBar(bar(1, 100, 102, 90, 91))
	if len(low) != 1 || low[0].SwingPoint.Kind != market.KindLow {
		t.Fatalf("Expected a swing low on bar 1, got %v", low)
	}

	evs := e.ProcessBar(bar(2, 99, 103, 88, 89))

	if len(evs) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(evs))
	}
	first, second := evs[0].SwingPoint, evs[1].SwingPoint
	if first.Kind != market.KindHigh || second.Kind != market.KindLow {
		t.Errorf("Expected high then low, got %s then %s", first.Kind, second.Kind)
	}
	if first.Index != 2 || second.Index != 2 {
		t.Errorf("Both points should come from bar 2, got %d and %d", first.Index, second.Index)
	}
	if second.Number != first.Number+1 {
		t.Errorf("Expected consecutive numbers, got %d and %d", first.Number, second.Number)
	}
	if e.LastKind() != market.KindLow {
		t.Errorf("Expected state low, got %s", e.LastKind())
	}
}

// TestDoubleExtremumBullish tests the bullish ordering of the two-points rule
func TestDoubleExtremumBullish(t *testing.T) {
	e := newTestEngine()

	e.ProcessBar(bar(0, 100, 105, 95, 101))
	e.ProcessBar(bar(1, 100, 102, 90, 91))
	evs := e.ProcessBar(bar(2, 89, 103, 88, 99))

	if len(evs) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(evs))
	}
	if evs[0].SwingPoint.Kind != market.KindLow || evs[1].SwingPoint.Kind != market.KindHigh {
		t.Errorf("Expected low then high, got %s then %s", evs[0].SwingPoint.Kind, evs[1].SwingPoint.Kind)
	}
	if e.LastKind() != market.KindHigh {
		t.Errorf("Expected state high, got %s", e.LastKind())
	}
}

// TestDoubleExtremumDojiFallsThrough tests that a doji does not insert two points
func TestDoubleExtremumDojiFallsThrough(t *testing.T) {
	e := newTestEngine()

	e.ProcessBar(bar(0, 100, 105, 95, 101))
	e.ProcessBar(bar(1, 100, 102, 90, 91))
	evs := e.ProcessBar(bar(2, 95, 103, 88, 95))

	if len(evs) != 2 {
		t.Fatalf("Expected removal and detection of the extended low, got %d events", len(evs))
	}
	if evs[0].Type != events.EventSwingPointRemoved || evs[1].Type != events.EventSwingPointDetected {
		t.Errorf("Expected removed then detected, got %s then %s", evs[0].Type, evs[1].Type)
	}
	if evs[1].SwingPoint.Kind != market.KindLow || evs[1].SwingPoint.Price != 88 {
		t.Errorf("Expected the low to move to 88, got %s %f", evs[1].SwingPoint.Kind, evs[1].SwingPoint.Price)
	}
}

// TestExtensionKeepsNumber tests that a moved swing keeps its number and a reversal does not
func TestExtensionKeepsNumber(t *testing.T) {
	e := newTestEngine()

	e.ProcessBar(bar(0, 100, 105, 95, 101))
	evs := e.ProcessBar(bar(1, 104, 108, 100, 107))

	if len(evs) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(evs))
	}
	removed, moved := evs[0].SwingPoint, evs[1].SwingPoint
	if evs[0].Type != events.EventSwingPointRemoved || !removed.Removed || removed.Index != 0 {
		t.Errorf("Expected removal of the old high at index 0")
	}
	if moved.Number != removed.Number || moved.Index != 1 || moved.Price != 108 {
		t.Errorf("Expected moved high #%d at index 1 price 108, got #%d at %d price %f",
			removed.Number, moved.Number, moved.Index, moved.Price)
	}
	if moved.ID == removed.ID {
		t.Error("Moved point should be a new record")
	}

	rev := e.ProcessBar(bar(2, 107, 107.5, 99, 100))
	if len(rev) != 1 || rev[0].SwingPoint.Kind != market.KindLow {
		t.Fatalf("Expected a reversal low, got %v", rev)
	}
	if rev[0].SwingPoint.Number != moved.Number+1 {
		t.Errorf("Reversal should take a fresh number, got %d", rev[0].SwingPoint.Number)
	}

	points := e.Points()
	if len(points) != 2 {
		t.Errorf("Expected 2 live points, got %d", len(points))
	}
}

// TestEqualityNeverTriggers tests that equal prices do not create or move points
func TestEqualityNeverTriggers(t *testing.T) {
	e := newTestEngine()

	e.ProcessBar(bar(0, 100, 105, 95, 101))
	e.ProcessBar(bar(1, 96, 100, 90, 91))
	evs := e.ProcessBar(bar(2, 92, 100, 90, 95))

	if len(evs) != 0 {
		t.Errorf("Expected no events for an inside bar touching both extremes, got %d", len(evs))
	}
}

// TestCorrectionDoesNotRerunDetection tests bar re-processing at the same index
func TestCorrectionDoesNotRerunDetection(t *testing.T) {
	e := newTestEngine()

	e.ProcessBar(bar(0, 100, 105, 95, 101))
	evs := e.ProcessBar(bar(0, 100, 109, 95, 101))

	if evs != nil {
		t.Errorf("Correction should not emit events, got %d", len(evs))
	}
	c, _ := e.Series().Candle(0)
	if c.High != 109 {
		t.Errorf("Expected corrected high 109, got %f", c.High)
	}
	if e.LastHigh().Price != 105 {
		t.Errorf("Tracked point should be unchanged, got %f", e.LastHigh().Price)
	}
}

// TestMalformedAndOutOfOrderInput tests that bad bars are dropped without state changes
func TestMalformedAndOutOfOrderInput(t *testing.T) {
	e := newTestEngine()

	if evs := e.ProcessBar(nil); evs != nil {
		t.Error("nil candle should be ignored")
	}
	e.ProcessBar(bar(5, 100, 105, 95, 101))
	if evs := e.ProcessBar(bar(3, 100, 120, 80, 101)); evs != nil {
		t.Error("Out of order candle should be ignored")
	}
	if e.Seen(3) {
		t.Error("Out of order candle should not be stored")
	}
}

// TestOppositeTimeframeBarUsesConstituentIndices tests aggregated bar placement
func TestOppositeTimeframeBarUsesConstituentIndices(t *testing.T) {
	e := NewEngine(Options{Period: market.Period1h}, nil, zerolog.Nop())

	evs := e.ProcessOppositeTimeframeBar(&OppositeTimeframeBar{
		Candle:    market.Candle{Index: 0, Time: baseTime, Open: 100, High: 110, Low: 90, Close: 105},
		HighIndex: 42,
		HighTime:  baseTime.Add(42 * time.Minute),
		LowIndex:  13,
		LowTime:   baseTime.Add(13 * time.Minute),
	})

	if len(evs) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(evs))
	}
	p := evs[0].SwingPoint
	if p.Index != 42 || !p.Time.Equal(baseTime.Add(42*time.Minute)) {
		t.Errorf("Expected the high at constituent index 42, got %d", p.Index)
	}
	if p.Period != market.Period1h || p.Candle.Index != 0 {
		t.Errorf("Point should carry the aggregated period and bar, got %s/%d", p.Period, p.Candle.Index)
	}
}

// TestComparisonPrice tests the correlated price callback
func TestComparisonPrice(t *testing.T) {
	e := NewEngine(Options{
		ComparisonPrice: func(index int) (float64, bool) { return float64(index) + 0.5, index >= 0 },
	}, nil, zerolog.Nop())

	evs := e.ProcessBar(bar(7, 100, 105, 95, 101))

	p := evs[0].SwingPoint
	if !p.HasComparisonPrice || p.ComparisonPrice != 7.5 {
		t.Errorf("Expected comparison price 7.5, got %v/%f", p.HasComparisonPrice, p.ComparisonPrice)
	}
}

// TestEventsArePublishedOnBus tests bus publication in emission order
func TestEventsArePublishedOnBus(t *testing.T) {
	bus := events.NewEventBus(zerolog.Nop())
	var got []events.EventType
	bus.SubscribeAll(func(ev events.Event) { got = append(got, ev.Type) })

	e := NewEngine(Options{}, bus, zerolog.Nop())
	e.ProcessBar(bar(0, 100, 105, 95, 101))
	e.ProcessBar(bar(1, 104, 108, 100, 107))

	expected := []events.EventType{
		events.EventSwingPointDetected,
		events.EventSwingPointRemoved,
		events.EventSwingPointDetected,
	}
	if len(got) != len(expected) {
		t.Fatalf("Expected %d events, got %d", len(expected), len(got))
	}
	for i := range expected {
		if got[i] != expected[i] {
			t.Errorf("Event %d: expected %s, got %s", i, expected[i], got[i])
		}
	}
}

func randomWalk(n int, seed int64) []*market.Candle {
	rng := rand.New(rand.NewSource(seed))
	out := make([]*market.Candle, 0, n)
	price := 100.0
	for i := 0; i < n; i++ {
		open := price
		closeP := open + (rng.Float64()-0.5)*4
		high := max(open, closeP) + rng.Float64()*2
		low := min(open, closeP) - rng.Float64()*2
		out = append(out, bar(i, open, high, low, closeP))
		price = closeP
	}
	return out
}

// TestAlternationProperty tests that a fresh point always flips the tracked kind,
// except for the first of a same-candle pair
func TestAlternationProperty(t *testing.T) {
	for seed := int64(1); seed <= 20; seed++ {
		e := newTestEngine()
		for _, c := range randomWalk(400, seed) {
			before := e.LastKind()
			evs := e.ProcessBar(c)

			var fresh, moved []*market.SwingPoint
			for i, ev := range evs {
				if ev.Type != events.EventSwingPointDetected {
					continue
				}
				if i > 0 && evs[i-1].Type == events.EventSwingPointRemoved {
					moved = append(moved, ev.SwingPoint)
				} else {
					fresh = append(fresh, ev.SwingPoint)
				}
			}

			switch len(fresh) {
			case 0:
			case 1:
				if fresh[0].Kind == before {
					t.Fatalf("seed %d bar %d: fresh %s after %s", seed, c.Index, fresh[0].Kind, before)
				}
			case 2:
				if fresh[0].Kind == fresh[1].Kind || fresh[0].Index != fresh[1].Index {
					t.Fatalf("seed %d bar %d: invalid same-candle pair", seed, c.Index)
				}
			default:
				t.Fatalf("seed %d bar %d: %d fresh points from one bar", seed, c.Index, len(fresh))
			}
			for _, p := range moved {
				if p.Kind != before {
					t.Fatalf("seed %d bar %d: moved %s while tracking %s", seed, c.Index, p.Kind, before)
				}
			}
			if len(fresh) > 0 && e.LastKind() != fresh[len(fresh)-1].Kind {
				t.Fatalf("seed %d bar %d: state does not follow the last fresh point", seed, c.Index)
			}
		}
	}
}

// TestNumberingProperty tests monotonic numbering across moves and reversals
func TestNumberingProperty(t *testing.T) {
	e := newTestEngine()
	lastFresh := 0
	for _, c := range randomWalk(500, 99) {
		evs := e.ProcessBar(c)
		for i, ev := range evs {
			if ev.Type != events.EventSwingPointDetected {
				continue
			}
			if i > 0 && evs[i-1].Type == events.EventSwingPointRemoved {
				if ev.SwingPoint.Number != evs[i-1].SwingPoint.Number {
					t.Fatalf("Moved point changed number from %d to %d",
						evs[i-1].SwingPoint.Number, ev.SwingPoint.Number)
				}
				continue
			}
			if ev.SwingPoint.Number != lastFresh+1 {
				t.Fatalf("Expected fresh number %d, got %d", lastFresh+1, ev.SwingPoint.Number)
			}
			lastFresh = ev.SwingPoint.Number
		}
	}
	if lastFresh == 0 {
		t.Fatal("Random walk produced no swing points")
	}
}

// TestPreviousNextLinks tests same-kind neighbour links
func TestPreviousNextLinks(t *testing.T) {
	e := newTestEngine()

	e.ProcessBar(bar(0, 100, 105, 95, 101))    // high @0
	e.ProcessBar(bar(1, 100, 102, 90, 91))     // low @1
	e.ProcessBar(bar(2, 91, 104, 91, 103))     // high @2
	e.ProcessBar(bar(3, 103, 103.5, 89, 90))   // low @3
	e.ProcessBar(bar(4, 90, 104.5, 89.5, 104)) // high @4
	e.ProcessBar(bar(5, 100, 106, 99.8, 105))  // high moves to @5

	hi := e.LastHigh()
	if hi.Index != 5 || hi.PreviousIndex != 2 {
		t.Fatalf("Expected moved high at 5 linked to 2, got %d -> %d", hi.Index, hi.PreviousIndex)
	}
	for _, p := range e.Points() {
		if p.Kind == market.KindHigh && p.Index == 2 && p.NextIndex != 5 {
			t.Errorf("High at 2 should link forward to 5, got %d", p.NextIndex)
		}
	}
}
