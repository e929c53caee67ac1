package market

import "time"

// Kind is the kind of extremum a swing point marks.
type Kind uint8

const (
	KindNone Kind = iota
	KindHigh
	KindLow
)

func (k Kind) String() string {
	switch k {
	case KindHigh:
		return "high"
	case KindLow:
		return "low"
	default:
		return "none"
	}
}

// Opposite returns the other extremum kind.
func (k Kind) Opposite() Kind {
	switch k {
	case KindHigh:
		return KindLow
	case KindLow:
		return KindHigh
	default:
		return KindNone
	}
}

// Direction is the direction of a swing leg or price zone.
type Direction uint8

const (
	DirectionNone Direction = iota
	DirectionUp
	DirectionDown
)

func (d Direction) String() string {
	switch d {
	case DirectionUp:
		return "up"
	case DirectionDown:
		return "down"
	default:
		return "none"
	}
}

// Opposite returns the reverse direction.
func (d Direction) Opposite() Direction {
	switch d {
	case DirectionUp:
		return DirectionDown
	case DirectionDown:
		return DirectionUp
	default:
		return DirectionNone
	}
}

// DirectionOf returns the direction of the leg a swing point of kind k starts.
func DirectionOf(k Kind) Direction {
	switch k {
	case KindLow:
		return DirectionUp
	case KindHigh:
		return DirectionDown
	default:
		return DirectionNone
	}
}

// SwingPoint is a local extremum. Fields other than the sweep bookkeeping
// and the neighbour links are fixed once the point is published.
type SwingPoint struct {
	// ID is the arena handle; it is never reused, also not for a moved point.
	ID        uint64
	Period    Period
	Index     int
	Price     float64
	Time      time.Time
	Candle    Candle
	Kind      Kind
	Direction Direction
	Number    int

	// PreviousIndex and NextIndex link to the nearest live point of the same kind.
	PreviousIndex int
	NextIndex     int

	// Label is set on manually inserted markers (prior day high, daily open, ...).
	Label string

	Swept                 bool
	IndexOfSweepingCandle int
	InsideKeyLevel        string
	SweptKeyLevel         string

	ComparisonPrice    float64
	HasComparisonPrice bool

	Removed bool
}

// IsSpecial reports whether the point is a manually inserted marker.
func (p *SwingPoint) IsSpecial() bool {
	return p.Label != ""
}

// MarkSwept flags the point as swept by the candle at index. The first sweep wins.
func (p *SwingPoint) MarkSwept(index int) {
	if p.Swept {
		return
	}
	p.Swept = true
	p.IndexOfSweepingCandle = index
}

// ResetSweep clears sweep bookkeeping; used only when derivations are replayed.
func (p *SwingPoint) ResetSweep() {
	p.Swept = false
	p.IndexOfSweepingCandle = NoIndex
}
