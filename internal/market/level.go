package market

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// LevelType is the PD array kind carried by a Level.
type LevelType string

const (
	LevelOrderFlow      LevelType = "order_flow"
	LevelFairValueGap   LevelType = "fair_value_gap"
	LevelOrderBlock     LevelType = "order_block"
	LevelCISD           LevelType = "cisd"
	LevelBreakerBlock   LevelType = "breaker_block"
	LevelRejectionBlock LevelType = "rejection_block"
	LevelUnicorn        LevelType = "unicorn"
)

// LevelTypes lists every level type in a stable order.
var LevelTypes = []LevelType{
	LevelOrderFlow,
	LevelFairValueGap,
	LevelOrderBlock,
	LevelCISD,
	LevelBreakerBlock,
	LevelRejectionBlock,
	LevelUnicorn,
}

// ParseLevelType converts a string into a LevelType.
func ParseLevelType(s string) (LevelType, bool) {
	for _, t := range LevelTypes {
		if string(t) == s {
			return t, true
		}
	}
	return "", false
}

// QuadrantPercents are the fixed fractions every level is divided into.
var QuadrantPercents = [5]float64{0, 25, 50, 75, 100}

// Quadrant is one fractional price level inside a Level.
type Quadrant struct {
	Percent float64
	Price   float64
	IsSwept bool
}

// Level is a PD array zone. Low <= High always holds regardless of Direction.
type Level struct {
	ID        string
	Type      LevelType
	Direction Direction
	Low       float64
	High      float64

	Index     int
	IndexHigh int
	IndexLow  int
	IndexMid  int
	LowTime   time.Time
	HighTime  time.Time
	MidTime   time.Time

	Quadrants [5]Quadrant

	IsActive   bool
	IsExtended bool

	// CISD state machine: Pending -> Confirmed -> Activated.
	IsConfirmed             bool
	Activated               bool
	IndexOfConfirmingCandle int

	IsLiquiditySwept      bool
	SweptSwingPoint       *SwingPoint
	SweptSwingPoints      []*SwingPoint
	IndexOfSweepingCandle int

	IsGauntlet bool
	// Score is the share of quadrants not swept yet: 1 for an untouched level,
	// falling by 0.2 with each swept quadrant.
	Score float64

	Cisd         *Level
	BreakerBlock *Level
	GauntletFVG  *Level
	// Source is the order flow a CISD, order block or breaker block was derived from.
	Source *Level

	// Anchors are the swing points the level was built from.
	Anchors []*SwingPoint
}

// NewLevel builds an active level spanning [a, b] in either order and fills its quadrants.
func NewLevel(t LevelType, dir Direction, a, b float64) *Level {
	low, high := math.Min(a, b), math.Max(a, b)
	l := &Level{
		ID:                      uuid.New().String(),
		Type:                    t,
		Direction:               dir,
		Low:                     low,
		High:                    high,
		Index:                   NoIndex,
		IndexHigh:               NoIndex,
		IndexLow:                NoIndex,
		IndexMid:                NoIndex,
		IndexOfConfirmingCandle: NoIndex,
		IndexOfSweepingCandle:   NoIndex,
		IsActive:                true,
		Score:                   1,
	}
	for i, pct := range QuadrantPercents {
		l.Quadrants[i] = Quadrant{Percent: pct, Price: low + (high-low)*pct/100}
	}
	return l
}

// SetLowAnchor records the candle the low boundary comes from.
func (l *Level) SetLowAnchor(index int, t time.Time) {
	l.IndexLow = index
	l.LowTime = t
}

// SetHighAnchor records the candle the high boundary comes from.
func (l *Level) SetHighAnchor(index int, t time.Time) {
	l.IndexHigh = index
	l.HighTime = t
}

// SetMid records the middle candle of a three-candle formation.
func (l *Level) SetMid(index int, t time.Time) {
	l.IndexMid = index
	l.MidTime = t
}

// Extend widens the level's time span to cover the candle at index. Prices never change;
// the high side only moves forward and the low side only moves backward.
func (l *Level) Extend(index int, t time.Time) bool {
	switch {
	case index > l.IndexHigh:
		l.IndexHigh = index
		l.HighTime = t
	case l.IndexLow != NoIndex && index < l.IndexLow:
		l.IndexLow = index
		l.LowTime = t
	default:
		return false
	}
	l.IsExtended = true
	return true
}

// StartIndex returns the earlier of the two boundary indices.
func (l *Level) StartIndex() int {
	if l.IndexLow == NoIndex {
		return l.IndexHigh
	}
	if l.IndexHigh == NoIndex || l.IndexLow < l.IndexHigh {
		return l.IndexLow
	}
	return l.IndexHigh
}

// EndIndex returns the later of the two boundary indices.
func (l *Level) EndIndex() int {
	if l.IndexLow > l.IndexHigh {
		return l.IndexLow
	}
	return l.IndexHigh
}

// Overlaps reports whether the price ranges intersect.
func (l *Level) Overlaps(low, high float64) bool {
	return l.Low <= high && low <= l.High
}

// Contains reports whether price lies strictly inside the level.
func (l *Level) Contains(price float64) bool {
	return price > l.Low && price < l.High
}

// SameRange reports whether another level has the same direction and bounds within eps.
func (l *Level) SameRange(o *Level, eps float64) bool {
	return l.Direction == o.Direction && PriceEqual(l.Low, o.Low, eps) && PriceEqual(l.High, o.High, eps)
}

// SweepQuadrant marks quadrant i swept. Quadrants are never un-swept.
// Sweeping the 100% quadrant deactivates the level.
func (l *Level) SweepQuadrant(i int) {
	if i < 0 || i >= len(l.Quadrants) {
		return
	}
	l.Quadrants[i].IsSwept = true
	if l.Quadrants[i].Percent == 100 {
		l.IsActive = false
	}

	unswept := 0
	for _, q := range l.Quadrants {
		if !q.IsSwept {
			unswept++
		}
	}
	l.Score = float64(unswept) / float64(len(l.Quadrants))
}

// HasAnchor reports whether p is one of the level's supporting swing points.
func (l *Level) HasAnchor(p *SwingPoint) bool {
	for _, a := range l.Anchors {
		if a == p {
			return true
		}
	}
	return false
}

// References reports whether the level was built from p or records p as swept.
func (l *Level) References(p *SwingPoint) bool {
	if l.HasAnchor(p) || l.SweptSwingPoint == p {
		return true
	}
	for _, s := range l.SweptSwingPoints {
		if s == p {
			return true
		}
	}
	return false
}
