// Package feed loads historical candles for replay.
package feed

import (
	"context"

	"pdarray-engine/internal/market"
)

// Source streams candles in index order to fn. Returning an error from fn
// stops the stream and is returned as is.
type Source interface {
	Candles(ctx context.Context, fn func(market.Candle) error) error
}

// Collect reads every candle of src into memory
func Collect(ctx context.Context, src Source) ([]market.Candle, error) {
	var out []market.Candle
	err := src.Candles(ctx, func(c market.Candle) error {
		out = append(out, c)
		return nil
	})
	return out, err
}
