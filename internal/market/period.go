package market

import (
	"strings"
	"time"
)

// Period is an aggregation period. The zero value is the primary feed.
type Period uint8

const (
	PeriodPrimary Period = iota
	Period5m
	Period15m
	Period30m
	Period1h
	Period4h
	Period1d

	// PeriodCount sizes per-period arenas.
	PeriodCount
)

func (p Period) String() string {
	switch p {
	case PeriodPrimary:
		return "primary"
	case Period5m:
		return "5m"
	case Period15m:
		return "15m"
	case Period30m:
		return "30m"
	case Period1h:
		return "1h"
	case Period4h:
		return "4h"
	case Period1d:
		return "1d"
	default:
		return "unknown"
	}
}

// Duration returns the bucket length of an aggregated period; zero for the primary feed.
func (p Period) Duration() time.Duration {
	switch p {
	case Period5m:
		return 5 * time.Minute
	case Period15m:
		return 15 * time.Minute
	case Period30m:
		return 30 * time.Minute
	case Period1h:
		return time.Hour
	case Period4h:
		return 4 * time.Hour
	case Period1d:
		return 24 * time.Hour
	default:
		return 0
	}
}

// ParsePeriod converts a config string like "15m" or "h4" into an aggregated Period.
func ParsePeriod(s string) (Period, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "5m", "m5":
		return Period5m, true
	case "15m", "m15":
		return Period15m, true
	case "30m", "m30":
		return Period30m, true
	case "1h", "h1":
		return Period1h, true
	case "4h", "h4":
		return Period4h, true
	case "1d", "d1", "day":
		return Period1d, true
	default:
		return PeriodPrimary, false
	}
}
