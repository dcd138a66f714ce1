// Package service contains the application services sitting between the
// HTTP handlers and the store, broker and cache.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/spimexlab/spimex-api/internal/domain"
	"github.com/spimexlab/spimex-api/internal/store"
	"github.com/spimexlab/spimex-api/internal/task"
)

// Cache is the query-response cache the service reads through. A nil
// Cache disables caching without changing behavior.
type Cache interface {
	// Get unmarshals the cached value for key into dest, reporting
	// whether the key was present.
	Get(ctx context.Context, key string, dest any) (bool, error)

	// Set stores value under key for the cache TTL.
	Set(ctx context.Context, key string, value any) error
}

// IngestOptions configures how ingest tasks are enqueued.
type IngestOptions struct {
	Queue      string
	MaxRetries int
}

// TradingService answers trading-result queries through a cache and
// hands ingest requests to the task broker.
type TradingService struct {
	results store.TradingResultStore
	cache   Cache
	broker  task.Broker
	ingest  IngestOptions
	logger  *slog.Logger
}

// NewTradingService creates a TradingService. cache may be nil.
func NewTradingService(results store.TradingResultStore, cache Cache, broker task.Broker, ingest IngestOptions, logger *slog.Logger) *TradingService {
	return &TradingService{
		results: results,
		cache:   cache,
		broker:  broker,
		ingest:  ingest,
		logger:  logger.With("component", "trading_service"),
	}
}

// LastTradingDates returns the distinct trade dates recorded within the
// given number of calendar days, newest first.
func (s *TradingService) LastTradingDates(ctx context.Context, days int) ([]time.Time, error) {
	if days <= 0 {
		return nil, fmt.Errorf("days must be positive: %w", domain.ErrValidation)
	}

	key := fmt.Sprintf("last_trading_dates:%d", days)
	var dates []time.Time
	if s.cacheGet(ctx, key, &dates) {
		return dates, nil
	}

	dates, err := s.results.LastTradingDates(ctx, days)
	if err != nil {
		return nil, fmt.Errorf("query last trading dates: %w", err)
	}

	s.cacheSet(ctx, key, dates)
	return dates, nil
}

// Dynamics returns the trading results with trade dates in [start, end],
// optionally filtered.
func (s *TradingService) Dynamics(ctx context.Context, start, end time.Time, f store.ResultFilter) ([]*domain.TradingResult, error) {
	if start.After(end) {
		return nil, domain.ErrInvalidDateRange
	}

	key := fmt.Sprintf("dynamics:%s:%s:%s", start.Format("2006-01-02"), end.Format("2006-01-02"), filterKey(f))
	var results []*domain.TradingResult
	if s.cacheGet(ctx, key, &results) {
		return results, nil
	}

	results, err := s.results.ResultsInPeriod(ctx, start, end, f)
	if err != nil {
		return nil, fmt.Errorf("query dynamics: %w", err)
	}

	s.cacheSet(ctx, key, results)
	return results, nil
}

// LastTradingResults returns the results of the most recent trade date,
// optionally filtered. Returns store.ErrEmptyStore when nothing has
// been ingested yet.
func (s *TradingService) LastTradingResults(ctx context.Context, f store.ResultFilter) ([]*domain.TradingResult, error) {
	key := "last_trading_results:" + filterKey(f)
	var results []*domain.TradingResult
	if s.cacheGet(ctx, key, &results) {
		return results, nil
	}

	results, err := s.results.LatestResults(ctx, f)
	if err != nil {
		if store.IsNotFoundError(err) {
			return nil, err
		}
		return nil, fmt.Errorf("query last trading results: %w", err)
	}

	s.cacheSet(ctx, key, results)
	return results, nil
}

// EnqueueIngest publishes an ingest task covering targetDate through
// today and returns the task ID. An empty targetDate means today only.
func (s *TradingService) EnqueueIngest(ctx context.Context, targetDate string) (uuid.UUID, error) {
	var payload []byte
	if targetDate != "" {
		if _, err := time.ParseInLocation("2006-01-02", targetDate, time.UTC); err != nil {
			return uuid.Nil, fmt.Errorf("invalid target date %q: %w", targetDate, domain.ErrValidation)
		}
		payload = fmt.Appendf(nil, `{"target_date":%q}`, targetDate)
	}

	msg := task.NewMessage(task.TypeIngestBulletins, s.ingest.Queue, payload, time.Time{})
	msg.MaxRetries = s.ingest.MaxRetries
	if err := s.broker.Enqueue(ctx, msg); err != nil {
		return uuid.Nil, fmt.Errorf("enqueue ingest task: %w", err)
	}

	s.logger.Info("ingest task enqueued", "task_id", msg.ID, "target_date", targetDate)
	return msg.ID, nil
}

// cacheGet reads key into dest, swallowing cache failures: the store
// remains the source of truth when the cache is unreachable.
func (s *TradingService) cacheGet(ctx context.Context, key string, dest any) bool {
	if s.cache == nil {
		return false
	}
	hit, err := s.cache.Get(ctx, key, dest)
	if err != nil {
		s.logger.Warn("cache read failed", "key", key, "error", err)
		return false
	}
	return hit
}

func (s *TradingService) cacheSet(ctx context.Context, key string, value any) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, key, value); err != nil {
		s.logger.Warn("cache write failed", "key", key, "error", err)
	}
}

func filterKey(f store.ResultFilter) string {
	return fmt.Sprintf("%s:%s:%s", f.OilID, f.DeliveryTypeID, f.DeliveryBasisID)
}
