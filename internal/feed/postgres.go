package feed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"pdarray-engine/internal/market"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// ErrMissingSymbol is returned when a PostgreSQL source has no symbol
var ErrMissingSymbol = errors.New("symbol is required")

// Querier is the subset of *pgxpool.Pool the candle store uses
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// Connect opens a pgx connection pool and pings it
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = 4
	poolConfig.MinConns = 1
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}
	return pool, nil
}

// CandleStore reads and writes candles in a PostgreSQL table keyed by
// (symbol, period, open_time).
type CandleStore struct {
	db     Querier
	table  pgx.Identifier
	logger zerolog.Logger
}

// NewCandleStore creates a store on table, which may be schema qualified.
func NewCandleStore(db Querier, table string, logger zerolog.Logger) *CandleStore {
	return &CandleStore{
		db:     db,
		table:  pgx.Identifier(strings.Split(table, ".")),
		logger: logger.With().Str("component", "CandleStore").Str("table", table).Logger(),
	}
}

// EnsureSchema creates the candle table when it does not exist
func (s *CandleStore) EnsureSchema(ctx context.Context) error {
	name := s.table.Sanitize()
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ` + name + ` (
			symbol VARCHAR(32) NOT NULL,
			period VARCHAR(8) NOT NULL,
			open_time TIMESTAMPTZ NOT NULL,
			open DOUBLE PRECISION NOT NULL,
			high DOUBLE PRECISION NOT NULL,
			low DOUBLE PRECISION NOT NULL,
			close DOUBLE PRECISION NOT NULL,
			PRIMARY KEY (symbol, period, open_time)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("creating candle table: %w", err)
		}
	}
	return nil
}

var candleColumns = []string{"symbol", "period", "open_time", "open", "high", "low", "close"}

// Save bulk-loads candles with COPY and returns the number of rows written.
func (s *CandleStore) Save(ctx context.Context, symbol, period string, candles []market.Candle) (int64, error) {
	if symbol == "" {
		return 0, ErrMissingSymbol
	}
	rows := make([][]any, 0, len(candles))
	for _, c := range candles {
		rows = append(rows, []any{symbol, period, c.Time, c.Open, c.High, c.Low, c.Close})
	}
	n, err := s.db.CopyFrom(ctx, s.table, candleColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return n, fmt.Errorf("copying candles: %w", err)
	}
	s.logger.Info().Str("symbol", symbol).Str("period", period).Int64("rows", n).Msg("Candles stored")
	return n, nil
}

// Source returns a replay source for one symbol and period.
// Zero from or to leave that side of the range open.
func (s *CandleStore) Source(symbol, period string, from, to time.Time) *PostgresSource {
	return &PostgresSource{store: s, symbol: symbol, period: period, from: from, to: to}
}

// PostgresSource streams stored candles ordered by open time
type PostgresSource struct {
	store    *CandleStore
	symbol   string
	period   string
	from, to time.Time
}

// Candles implements Source
func (p *PostgresSource) Candles(ctx context.Context, fn func(market.Candle) error) error {
	if p.symbol == "" {
		return ErrMissingSymbol
	}

	query := `SELECT open_time, open, high, low, close FROM ` + p.store.table.Sanitize() +
		` WHERE symbol = $1 AND period = $2`
	args := []any{p.symbol, p.period}
	if !p.from.IsZero() {
		args = append(args, p.from)
		query += fmt.Sprintf(" AND open_time >= $%d", len(args))
	}
	if !p.to.IsZero() {
		args = append(args, p.to)
		query += fmt.Sprintf(" AND open_time < $%d", len(args))
	}
	query += " ORDER BY open_time"

	rows, err := p.store.db.Query(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("querying candles: %w", err)
	}
	defer rows.Close()

	index := 0
	for rows.Next() {
		var c market.Candle
		if err := rows.Scan(&c.Time, &c.Open, &c.High, &c.Low, &c.Close); err != nil {
			return fmt.Errorf("scanning candle: %w", err)
		}
		c.Time = c.Time.UTC()
		c.Index = index
		index++
		if err := fn(c); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating candles: %w", err)
	}

	p.store.logger.Debug().Str("symbol", p.symbol).Int("candles", index).Msg("Postgres replay complete")
	return nil
}
