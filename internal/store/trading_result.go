package store

import (
	"context"
	"time"

	"github.com/spimexlab/spimex-api/internal/domain"
)

// ResultFilter narrows trading-result queries. Zero-valued fields are not
// applied.
type ResultFilter struct {
	OilID           string
	DeliveryTypeID  string
	DeliveryBasisID string
}

// TradingResultStore defines persistence operations for trading results.
type TradingResultStore interface {
	// UpsertBatch stores the given results, replacing any existing row with
	// the same (exchange_product_id, trade_date) pair. Re-ingesting the
	// same bulletin is therefore a no-op, which keeps at-least-once task
	// delivery safe.
	UpsertBatch(ctx context.Context, results []*domain.TradingResult) error

	// LastTradingDates returns the distinct trade dates recorded in the
	// store, newest first, no older than the given number of calendar days.
	LastTradingDates(ctx context.Context, days int) ([]time.Time, error)

	// ResultsInPeriod returns results with trade dates in [start, end],
	// optionally filtered.
	ResultsInPeriod(ctx context.Context, start, end time.Time, f ResultFilter) ([]*domain.TradingResult, error)

	// LatestResults returns the results for the most recent trade date,
	// optionally filtered. Returns ErrEmptyStore when no rows exist.
	LatestResults(ctx context.Context, f ResultFilter) ([]*domain.TradingResult, error)

	// HasResultsOn reports whether any result is recorded for the date.
	HasResultsOn(ctx context.Context, day time.Time) (bool, error)
}
