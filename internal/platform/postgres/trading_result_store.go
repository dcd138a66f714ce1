package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spimexlab/spimex-api/internal/domain"
	"github.com/spimexlab/spimex-api/internal/platform/logger"
	"github.com/spimexlab/spimex-api/internal/store"
)

// TradingResultStore implements store.TradingResultStore using a
// PostgreSQL database as the storage backend.
type TradingResultStore struct {
	db store.DBTX
}

// NewTradingResultStore creates a new PostgreSQL implementation of the
// TradingResultStore interface. It accepts a database connection or
// transaction that should be initialized and managed by the caller.
func NewTradingResultStore(db store.DBTX) *TradingResultStore {
	if db == nil {
		panic("db cannot be nil")
	}
	return &TradingResultStore{db: db}
}

// Ensure TradingResultStore implements store.TradingResultStore
var _ store.TradingResultStore = (*TradingResultStore)(nil)

const resultColumns = `id, exchange_product_id, exchange_product_name, oil_id,
	delivery_basis_id, delivery_basis_name, delivery_type_id,
	volume, total, count, trade_date, created_at, updated_at`

// UpsertBatch implements store.TradingResultStore.UpsertBatch.
// The conflict target (exchange_product_id, trade_date) makes re-ingesting
// the same bulletin idempotent: existing rows are refreshed, not duplicated.
// When backed by a connection pool, the whole batch commits in one
// transaction so a bulletin never lands half-written.
func (s *TradingResultStore) UpsertBatch(ctx context.Context, results []*domain.TradingResult) error {
	if len(results) == 0 {
		return nil
	}

	if db, ok := s.db.(*sql.DB); ok {
		return store.RunInTransaction(ctx, db, func(ctx context.Context, tx *sql.Tx) error {
			return (&TradingResultStore{db: tx}).upsertAll(ctx, results)
		})
	}
	return s.upsertAll(ctx, results)
}

func (s *TradingResultStore) upsertAll(ctx context.Context, results []*domain.TradingResult) error {
	log := logger.FromContext(ctx)

	const query = `
		INSERT INTO trading_results (` + resultColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (exchange_product_id, trade_date) DO UPDATE SET
			exchange_product_name = EXCLUDED.exchange_product_name,
			delivery_basis_name   = EXCLUDED.delivery_basis_name,
			volume                = EXCLUDED.volume,
			total                 = EXCLUDED.total,
			count                 = EXCLUDED.count,
			updated_at            = EXCLUDED.updated_at
	`

	for _, r := range results {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
		}

		now := time.Now().UTC()
		_, err := s.db.ExecContext(ctx, query,
			r.ID,
			r.ExchangeProductID,
			r.ExchangeProductName,
			r.OilID,
			r.DeliveryBasisID,
			r.DeliveryBasisName,
			r.DeliveryTypeID,
			r.Volume,
			r.Total,
			r.Count,
			r.TradeDate,
			r.CreatedAt,
			now,
		)
		if err != nil {
			log.Error("failed to upsert trading result",
				"exchange_product_id", r.ExchangeProductID,
				"trade_date", r.TradeDate.Format(time.DateOnly),
				"error", err)
			return fmt.Errorf("failed to upsert trading result: %w", mapError(err))
		}
	}

	log.Debug("upserted trading results", "count", len(results))
	return nil
}

// LastTradingDates implements store.TradingResultStore.LastTradingDates.
func (s *TradingResultStore) LastTradingDates(ctx context.Context, days int) ([]time.Time, error) {
	const query = `
		SELECT DISTINCT trade_date
		FROM trading_results
		WHERE trade_date >= $1
		ORDER BY trade_date DESC
	`

	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	rows, err := s.db.QueryContext(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query last trading dates: %w", mapError(err))
	}
	defer func() { _ = rows.Close() }()

	var dates []time.Time
	for rows.Next() {
		var d time.Time
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("failed to scan trading date: %w", err)
		}
		dates = append(dates, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate trading dates: %w", err)
	}
	return dates, nil
}

// ResultsInPeriod implements store.TradingResultStore.ResultsInPeriod.
func (s *TradingResultStore) ResultsInPeriod(
	ctx context.Context,
	start, end time.Time,
	f store.ResultFilter,
) ([]*domain.TradingResult, error) {
	if start.After(end) {
		return nil, fmt.Errorf("%w: %s > %s",
			domain.ErrInvalidDateRange, start.Format(time.DateOnly), end.Format(time.DateOnly))
	}

	query := `SELECT ` + resultColumns + `
		FROM trading_results
		WHERE trade_date >= $1 AND trade_date <= $2`
	args := []any{start, end}
	query, args = appendFilter(query, args, f)
	query += ` ORDER BY trade_date DESC, exchange_product_id`

	return s.queryResults(ctx, query, args...)
}

// LatestResults implements store.TradingResultStore.LatestResults.
func (s *TradingResultStore) LatestResults(
	ctx context.Context,
	f store.ResultFilter,
) ([]*domain.TradingResult, error) {
	// MAX over an empty table yields NULL, so scan through NullTime.
	var last sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(trade_date) FROM trading_results`,
	).Scan(&last)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrEmptyStore
		}
		return nil, fmt.Errorf("failed to query latest trade date: %w", mapError(err))
	}
	if !last.Valid {
		return nil, store.ErrEmptyStore
	}

	query := `SELECT ` + resultColumns + `
		FROM trading_results
		WHERE trade_date = $1`
	args := []any{last.Time}
	query, args = appendFilter(query, args, f)
	query += ` ORDER BY exchange_product_id`

	return s.queryResults(ctx, query, args...)
}

// HasResultsOn implements store.TradingResultStore.HasResultsOn.
func (s *TradingResultStore) HasResultsOn(ctx context.Context, day time.Time) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM trading_results WHERE trade_date = $1)`

	var exists bool
	if err := s.db.QueryRowContext(ctx, query, day).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check trade date: %w", mapError(err))
	}
	return exists, nil
}

// appendFilter adds WHERE clauses for the non-empty filter fields,
// continuing the positional placeholder numbering of args.
func appendFilter(query string, args []any, f store.ResultFilter) (string, []any) {
	var b strings.Builder
	b.WriteString(query)

	add := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		b.WriteString(" AND ")
		b.WriteString(column)
		b.WriteString(" = $")
		b.WriteString(strconv.Itoa(len(args)))
	}

	add("oil_id", f.OilID)
	add("delivery_type_id", f.DeliveryTypeID)
	add("delivery_basis_id", f.DeliveryBasisID)

	return b.String(), args
}

func (s *TradingResultStore) queryResults(
	ctx context.Context,
	query string,
	args ...any,
) ([]*domain.TradingResult, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trading results: %w", mapError(err))
	}
	defer func() { _ = rows.Close() }()

	var results []*domain.TradingResult
	for rows.Next() {
		var r domain.TradingResult
		if err := rows.Scan(
			&r.ID,
			&r.ExchangeProductID,
			&r.ExchangeProductName,
			&r.OilID,
			&r.DeliveryBasisID,
			&r.DeliveryBasisName,
			&r.DeliveryTypeID,
			&r.Volume,
			&r.Total,
			&r.Count,
			&r.TradeDate,
			&r.CreatedAt,
			&r.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan trading result: %w", err)
		}
		results = append(results, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate trading results: %w", err)
	}
	return results, nil
}
