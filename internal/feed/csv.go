package feed

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"pdarray-engine/internal/market"

	"github.com/rs/zerolog"
)

var (
	ErrMissingColumn = errors.New("missing required column")
	ErrBadRecord     = errors.New("malformed candle record")
)

// CSVSource reads candles from CSV with a header row naming at least
// time, open, high, low and close columns (case-insensitive). Indices are
// assigned in file order starting at zero.
type CSVSource struct {
	r      io.Reader
	logger zerolog.Logger
}

// NewCSVSource creates a CSV candle source over r
func NewCSVSource(r io.Reader, logger zerolog.Logger) *CSVSource {
	return &CSVSource{r: r, logger: logger.With().Str("component", "CSVSource").Logger()}
}

var csvColumns = []string{"time", "open", "high", "low", "close"}

// Candles implements Source
func (s *CSVSource) Candles(ctx context.Context, fn func(market.Candle) error) error {
	reader := csv.NewReader(s.r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return fmt.Errorf("reading csv header: %w", err)
	}
	cols, err := columnIndex(header)
	if err != nil {
		return err
	}

	index := 0
	for line := 2; ; line++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("reading csv line %d: %w", line, err)
		}

		c, err := parseRecord(record, cols)
		if err != nil {
			s.logger.Warn().Err(err).Int("line", line).Msg("Skipping csv record")
			continue
		}
		c.Index = index
		index++
		if err := fn(c); err != nil {
			return err
		}
	}

	s.logger.Debug().Int("candles", index).Msg("CSV replay complete")
	return nil
}

func columnIndex(header []string) (map[string]int, error) {
	cols := make(map[string]int, len(header))
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(h))
		switch name {
		case "timestamp", "date", "datetime", "open_time":
			name = "time"
		}
		if _, dup := cols[name]; !dup {
			cols[name] = i
		}
	}
	for _, c := range csvColumns {
		if _, ok := cols[c]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, c)
		}
	}
	return cols, nil
}

func parseRecord(record []string, cols map[string]int) (market.Candle, error) {
	var c market.Candle
	field := func(name string) (string, error) {
		i := cols[name]
		if i >= len(record) {
			return "", fmt.Errorf("%w: no %s field", ErrBadRecord, name)
		}
		return strings.TrimSpace(record[i]), nil
	}

	raw, err := field("time")
	if err != nil {
		return c, err
	}
	if c.Time, err = ParseTime(raw); err != nil {
		return c, err
	}

	prices := []*float64{&c.Open, &c.High, &c.Low, &c.Close}
	for i, name := range csvColumns[1:] {
		raw, err := field(name)
		if err != nil {
			return c, err
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return c, fmt.Errorf("%w: %s %q", ErrBadRecord, name, raw)
		}
		*prices[i] = v
	}
	return c, nil
}

// ParseTime accepts RFC 3339, "2006-01-02 15:04:05" (UTC) and unix
// timestamps in seconds or milliseconds.
func ParseTime(s string) (time.Time, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		// Anything past 1e11 seconds is year 5138, so treat it as milliseconds
		if n > 1e11 {
			return time.UnixMilli(n).UTC(), nil
		}
		return time.Unix(n, 0).UTC(), nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: time %q", ErrBadRecord, s)
}
