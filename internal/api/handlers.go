package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"pdarray-engine/internal/events"
	"pdarray-engine/internal/logging"
	"pdarray-engine/internal/market"
	"pdarray-engine/internal/sink"

	"github.com/gin-gonic/gin"
)

// BarRequest is one closed bar. A missing index appends after the last bar.
type BarRequest struct {
	Index *int      `json:"index"`
	Time  time.Time `json:"time"`
	Open  float64   `json:"open" binding:"required"`
	High  float64   `json:"high" binding:"required"`
	Low   float64   `json:"low" binding:"required"`
	Close float64   `json:"close" binding:"required"`
}

// KeyLevelRequest inserts a labelled marker such as a prior day high
type KeyLevelRequest struct {
	Index int       `json:"index"`
	Time  time.Time `json:"time"`
	Price float64   `json:"price" binding:"required"`
	Kind  string    `json:"kind" binding:"required,oneof=high low"`
	Label string    `json:"label" binding:"required"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"symbol":  s.symbol,
		"uptime":  time.Since(s.started).Round(time.Second).String(),
		"clients": s.hub.GetClientCount(),
	})
}

func (s *Server) handleStats(c *gin.Context) {
	s.mu.Lock()
	stats := s.analyzer.Stats()
	s.mu.Unlock()
	successResponse(c, stats)
}

func (s *Server) handlePostBar(c *gin.Context) {
	var req BarRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	index := s.analyzer.NextIndex()
	if req.Index != nil {
		index = *req.Index
	}
	candle := &market.Candle{Index: index, Time: req.Time, Open: req.Open, High: req.High, Low: req.Low, Close: req.Close}
	if candle.Time.IsZero() {
		candle.Time = time.Now().UTC()
	}
	if !candle.Valid() {
		errorResponse(c, http.StatusBadRequest, "Malformed candle")
		return
	}

	evs := s.analyzer.Process(candle)
	logger := logging.FromContext(c.Request.Context())
	logger.Debug().
		Int("index", index).
		Int("events", len(evs)).
		Msg("Bar processed")

	successResponse(c, gin.H{
		"index":  index,
		"events": payloads(evs),
	})
}

func (s *Server) handlePostKeyLevel(c *gin.Context) {
	var req KeyLevelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	kind := market.KindHigh
	if req.Kind == "low" {
		kind = market.KindLow
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.analyzer.AddSpecialSwingPoint(req.Index, req.Time, req.Price, kind, req.Label)
	if p == nil {
		errorResponse(c, http.StatusBadRequest, "Key level rejected")
		return
	}
	successResponse(c, sink.SwingPointOf(p))
}

func (s *Server) handleFlush(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	successResponse(c, gin.H{"events": payloads(s.analyzer.Flush())})
}

func (s *Server) handleSwingPoints(c *gin.Context) {
	period := market.PeriodPrimary
	if raw := c.Query("period"); raw != "" && raw != market.PeriodPrimary.String() {
		p, ok := market.ParsePeriod(raw)
		if !ok {
			errorResponse(c, http.StatusBadRequest, "Unknown period "+raw)
			return
		}
		period = p
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	points := s.analyzer.SwingPoints(period)
	out := make([]*sink.SwingPointPayload, 0, len(points))
	for _, p := range points {
		out = append(out, sink.SwingPointOf(p))
	}
	successResponse(c, out)
}

func (s *Server) handleLevels(c *gin.Context) {
	var levelType market.LevelType
	if raw := c.Query("type"); raw != "" {
		t, ok := market.ParseLevelType(strings.ToLower(raw))
		if !ok {
			errorResponse(c, http.StatusBadRequest, "Unknown level type "+raw)
			return
		}
		levelType = t
	}

	activeOnly := false
	if raw := c.Query("active"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			errorResponse(c, http.StatusBadRequest, "Invalid active flag")
			return
		}
		activeOnly = v
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	levels := s.analyzer.Levels(levelType)
	out := make([]*sink.LevelPayload, 0, len(levels))
	for _, l := range levels {
		if activeOnly && !l.IsActive {
			continue
		}
		out = append(out, sink.LevelOf(l))
	}
	successResponse(c, out)
}

func payloads(evs []events.Event) []sink.Payload {
	out := make([]sink.Payload, 0, len(evs))
	for _, ev := range evs {
		out = append(out, sink.NewPayload(ev))
	}
	return out
}
