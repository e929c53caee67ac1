// Package market holds the data model shared by the swing point and PD array engines.
package market

import (
	"math"
	"time"
)

// NoIndex marks an absent candle index reference.
const NoIndex = -1

// DefaultPriceEpsilon is the tolerance used for price equality checks.
const DefaultPriceEpsilon = 1e-5

// Candle is one fully closed price bar.
type Candle struct {
	Index int       `json:"index"`
	Time  time.Time `json:"time"`
	Open  float64   `json:"open"`
	High  float64   `json:"high"`
	Low   float64   `json:"low"`
	Close float64   `json:"close"`
}

// IsBullish reports whether the candle closed above its open.
func (c Candle) IsBullish() bool {
	return c.Close > c.Open
}

// IsBearish reports whether the candle closed below its open.
func (c Candle) IsBearish() bool {
	return c.Close < c.Open
}

// Body returns the absolute size of the candle body.
func (c Candle) Body() float64 {
	return math.Abs(c.Close - c.Open)
}

// UpperWick returns the distance between the high and the top of the body.
func (c Candle) UpperWick() float64 {
	return c.High - math.Max(c.Open, c.Close)
}

// LowerWick returns the distance between the bottom of the body and the low.
func (c Candle) LowerWick() float64 {
	return math.Min(c.Open, c.Close) - c.Low
}

// Valid reports whether the candle can be fed to an engine.
func (c *Candle) Valid() bool {
	if c == nil || c.Index < 0 {
		return false
	}
	for _, p := range []float64{c.Open, c.High, c.Low, c.Close} {
		if math.IsNaN(p) || math.IsInf(p, 0) {
			return false
		}
	}
	return c.High >= c.Low
}

// PriceEqual compares two prices within eps.
func PriceEqual(a, b, eps float64) bool {
	return math.Abs(a-b) <= eps
}

// Series stores candles by index. Re-adding an index overwrites the stored OHLC.
type Series struct {
	candles map[int]Candle
	first   int
	last    int
}

// NewSeries creates an empty series
func NewSeries() *Series {
	return &Series{
		candles: make(map[int]Candle),
		first:   NoIndex,
		last:    NoIndex,
	}
}

// Upsert stores the candle and reports whether its index was new.
func (s *Series) Upsert(c Candle) bool {
	_, seen := s.candles[c.Index]
	s.candles[c.Index] = c
	if !seen {
		if s.first == NoIndex || c.Index < s.first {
			s.first = c.Index
		}
		if c.Index > s.last {
			s.last = c.Index
		}
	}
	return !seen
}

// Has reports whether a candle with the index is stored.
func (s *Series) Has(index int) bool {
	_, ok := s.candles[index]
	return ok
}

// Candle returns the candle stored at index.
func (s *Series) Candle(index int) (Candle, bool) {
	c, ok := s.candles[index]
	return c, ok
}

// First returns the lowest stored index, or NoIndex.
func (s *Series) First() int {
	return s.first
}

// Last returns the highest stored index, or NoIndex.
func (s *Series) Last() int {
	return s.last
}

// Len returns the number of stored candles.
func (s *Series) Len() int {
	return len(s.candles)
}
