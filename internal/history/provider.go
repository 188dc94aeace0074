// Package history serves the daily price history that history-driven
// optimization strategies (HRP) resample into return series.
package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ThePloy1990/portfolio-assistant/internal/database"
	"github.com/ThePloy1990/portfolio-assistant/pkg/formulas"
)

// ErrNoHistory indicates that the store holds no price rows for a ticker in
// the requested window.
var ErrNoHistory = errors.New("no price history for ticker")

// Provider serves per-ticker daily return series.
type Provider interface {
	// Returns yields the daily return series for a ticker over the trailing
	// lookback window, oldest first.
	Returns(ctx context.Context, ticker string, lookbackDays int) ([]float64, error)
}

// SQLiteProvider reads daily closes from the prices database and converts
// them into simple returns.
type SQLiteProvider struct {
	db  *database.DB
	log zerolog.Logger
	now func() time.Time
}

// NewSQLiteProvider creates a provider over an opened prices database.
func NewSQLiteProvider(db *database.DB, log zerolog.Logger) *SQLiteProvider {
	return &SQLiteProvider{
		db:  db,
		log: log.With().Str("component", "history_provider").Logger(),
		now: time.Now,
	}
}

// EnsureSchema creates the daily_prices table when it does not exist yet.
func (p *SQLiteProvider) EnsureSchema(ctx context.Context) error {
	_, err := p.db.Conn().ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS daily_prices (
			symbol TEXT NOT NULL,
			date   TEXT NOT NULL,
			close  REAL NOT NULL,
			PRIMARY KEY (symbol, date)
		)`)
	if err != nil {
		return fmt.Errorf("failed to ensure daily_prices schema: %w", err)
	}
	return nil
}

// UpsertPrice records one daily close. Re-ingesting a (symbol, date) pair
// overwrites the previous close.
func (p *SQLiteProvider) UpsertPrice(ctx context.Context, ticker string, date time.Time, close float64) error {
	_, err := p.db.Conn().ExecContext(ctx, `
		INSERT INTO daily_prices (symbol, date, close) VALUES (?, ?, ?)
		ON CONFLICT(symbol, date) DO UPDATE SET close = excluded.close`,
		ticker, date.UTC().Format("2006-01-02"), close)
	if err != nil {
		return fmt.Errorf("failed to upsert price for %s: %w", ticker, err)
	}
	return nil
}

// Returns loads the trailing closes for a ticker and converts them to daily
// simple returns, oldest first. A ticker with fewer than two closes in the
// window yields ErrNoHistory.
func (p *SQLiteProvider) Returns(ctx context.Context, ticker string, lookbackDays int) ([]float64, error) {
	if lookbackDays <= 0 {
		return nil, fmt.Errorf("lookback must be positive, got %d", lookbackDays)
	}

	since := p.now().UTC().AddDate(0, 0, -lookbackDays).Format("2006-01-02")
	rows, err := p.db.Conn().QueryContext(ctx, `
		SELECT close FROM daily_prices
		WHERE symbol = ? AND date >= ?
		ORDER BY date ASC`,
		ticker, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query prices for %s: %w", ticker, err)
	}
	defer rows.Close()

	var closes []float64
	for rows.Next() {
		var c float64
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("failed to scan price row for %s: %w", ticker, err)
		}
		closes = append(closes, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate price rows for %s: %w", ticker, err)
	}

	if len(closes) < 2 {
		return nil, fmt.Errorf("%w: %s (%d closes in %d-day window)", ErrNoHistory, ticker, len(closes), lookbackDays)
	}

	return formulas.PeriodicReturns(closes), nil
}

var _ Provider = (*SQLiteProvider)(nil)

// Close releases the underlying database.
func (p *SQLiteProvider) Close() error {
	return p.db.Close()
}

// Ping checks database reachability.
func (p *SQLiteProvider) Ping(ctx context.Context) error {
	return p.db.Conn().PingContext(ctx)
}
