// Package sink forwards engine events to external consumers.
package sink

import (
	"encoding/json"
	"time"

	"pdarray-engine/internal/events"
	"pdarray-engine/internal/market"
)

// SwingPointPayload is the wire form of a swing point
type SwingPointPayload struct {
	ID             uint64    `json:"id"`
	Period         string    `json:"period"`
	Index          int       `json:"index"`
	Time           time.Time `json:"time"`
	Price          float64   `json:"price"`
	Kind           string    `json:"kind"`
	Number         int       `json:"number"`
	Label          string    `json:"label,omitempty"`
	Swept          bool      `json:"swept"`
	SweepingIndex  int       `json:"sweeping_index,omitempty"`
	InsideKeyLevel string    `json:"inside_key_level,omitempty"`
	SweptKeyLevel  string    `json:"swept_key_level,omitempty"`
	Comparison     *float64  `json:"comparison_price,omitempty"`
}

// QuadrantPayload is the wire form of one level quadrant
type QuadrantPayload struct {
	Percent float64 `json:"percent"`
	Price   float64 `json:"price"`
	Swept   bool    `json:"swept"`
}

// LevelPayload is the wire form of a PD array level. Linked levels are
// referenced by ID.
type LevelPayload struct {
	ID          string            `json:"id"`
	Type        string            `json:"type"`
	Direction   string            `json:"direction"`
	Low         float64           `json:"low"`
	High        float64           `json:"high"`
	Index       int               `json:"index"`
	IndexLow    int               `json:"index_low"`
	IndexHigh   int               `json:"index_high"`
	IndexMid    int               `json:"index_mid"`
	Active      bool              `json:"active"`
	Extended    bool              `json:"extended"`
	Confirmed   bool              `json:"confirmed,omitempty"`
	Activated   bool              `json:"activated,omitempty"`
	Gauntlet    bool              `json:"gauntlet,omitempty"`
	Swept       bool              `json:"liquidity_swept,omitempty"`
	Score       float64           `json:"score"`
	Quadrants   []QuadrantPayload `json:"quadrants"`
	CisdID      string            `json:"cisd_id,omitempty"`
	BreakerID   string            `json:"breaker_block_id,omitempty"`
	GauntletID  string            `json:"gauntlet_fvg_id,omitempty"`
	SourceID    string            `json:"source_id,omitempty"`
	AnchorIDs   []uint64          `json:"anchor_ids,omitempty"`
	SweptPoints []uint64          `json:"swept_point_ids,omitempty"`
}

// Payload is the wire form of an event
type Payload struct {
	Type       events.EventType   `json:"type"`
	Period     string             `json:"period"`
	Index      int                `json:"index"`
	Timestamp  time.Time          `json:"timestamp"`
	SwingPoint *SwingPointPayload `json:"swing_point,omitempty"`
	Level      *LevelPayload      `json:"level,omitempty"`
}

// NewPayload snapshots ev. The snapshot does not share memory with the engines.
func NewPayload(ev events.Event) Payload {
	return Payload{
		Type:       ev.Type,
		Period:     ev.Period.String(),
		Index:      ev.Index,
		Timestamp:  ev.Timestamp,
		SwingPoint: SwingPointOf(ev.SwingPoint),
		Level:      LevelOf(ev.Level),
	}
}

// Encode returns the JSON form of ev
func Encode(ev events.Event) ([]byte, error) {
	return json.Marshal(NewPayload(ev))
}

// SwingPointOf converts p; nil stays nil.
func SwingPointOf(p *market.SwingPoint) *SwingPointPayload {
	if p == nil {
		return nil
	}
	out := &SwingPointPayload{
		ID:             p.ID,
		Period:         p.Period.String(),
		Index:          p.Index,
		Time:           p.Time,
		Price:          p.Price,
		Kind:           p.Kind.String(),
		Number:         p.Number,
		Label:          p.Label,
		Swept:          p.Swept,
		InsideKeyLevel: p.InsideKeyLevel,
		SweptKeyLevel:  p.SweptKeyLevel,
	}
	if p.Swept {
		out.SweepingIndex = p.IndexOfSweepingCandle
	}
	if p.HasComparisonPrice {
		cp := p.ComparisonPrice
		out.Comparison = &cp
	}
	return out
}

// LevelOf converts l; nil stays nil.
func LevelOf(l *market.Level) *LevelPayload {
	if l == nil {
		return nil
	}
	out := &LevelPayload{
		ID:         l.ID,
		Type:       string(l.Type),
		Direction:  l.Direction.String(),
		Low:        l.Low,
		High:       l.High,
		Index:      l.Index,
		IndexLow:   l.IndexLow,
		IndexHigh:  l.IndexHigh,
		IndexMid:   l.IndexMid,
		Active:     l.IsActive,
		Extended:   l.IsExtended,
		Confirmed:  l.IsConfirmed,
		Activated:  l.Activated,
		Gauntlet:   l.IsGauntlet,
		Swept:      l.IsLiquiditySwept,
		Score:      l.Score,
		Quadrants:  make([]QuadrantPayload, 0, len(l.Quadrants)),
		CisdID:     idOf(l.Cisd),
		BreakerID:  idOf(l.BreakerBlock),
		GauntletID: idOf(l.GauntletFVG),
		SourceID:   idOf(l.Source),
	}
	for _, q := range l.Quadrants {
		out.Quadrants = append(out.Quadrants, QuadrantPayload{Percent: q.Percent, Price: q.Price, Swept: q.IsSwept})
	}
	for _, p := range l.Anchors {
		out.AnchorIDs = append(out.AnchorIDs, p.ID)
	}
	for _, p := range l.SweptSwingPoints {
		out.SweptPoints = append(out.SweptPoints, p.ID)
	}
	return out
}

func idOf(l *market.Level) string {
	if l == nil {
		return ""
	}
	return l.ID
}
