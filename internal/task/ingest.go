package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spimexlab/spimex-api/internal/bulletin"
	"github.com/spimexlab/spimex-api/internal/domain"
	"github.com/spimexlab/spimex-api/internal/store"
)

// BulletinSource provides parsed trading results for a single trade day.
// Implementations return bulletin.ErrNotPublished for non-trading days.
type BulletinSource interface {
	Results(ctx context.Context, day time.Time) ([]*domain.TradingResult, error)
}

// CacheInvalidator drops cached query responses after new rows land.
type CacheInvalidator interface {
	Invalidate(ctx context.Context) error
}

// IngestPayload is the JSON payload of a TypeIngestBulletins message.
type IngestPayload struct {
	// TargetDate is the first day to ingest, formatted 2006-01-02.
	// Ingestion walks forward from it up to and including today.
	// Empty means today only.
	TargetDate string `json:"target_date,omitempty"`
}

// Ingestor handles TypeIngestBulletins messages: it walks the date range
// from the payload's target date to today, downloads each day's
// bulletin, and upserts the parsed rows. Days already present in the
// store are skipped, and the upsert replaces duplicate rows, so the
// handler is safe to run more than once for the same range.
type Ingestor struct {
	source  BulletinSource
	results store.TradingResultStore
	cache   CacheInvalidator
	logger  *slog.Logger
}

// NewIngestor creates an Ingestor. cache may be nil when no cache layer
// is configured.
func NewIngestor(source BulletinSource, results store.TradingResultStore, cache CacheInvalidator, logger *slog.Logger) *Ingestor {
	return &Ingestor{
		source:  source,
		results: results,
		cache:   cache,
		logger:  logger.With("component", "ingestor"),
	}
}

// Handle implements HandlerFunc for TypeIngestBulletins.
func (i *Ingestor) Handle(ctx context.Context, msg *Message) error {
	target, err := parseIngestTarget(msg.Payload)
	if err != nil {
		return err
	}

	today := time.Now().UTC().Truncate(24 * time.Hour)
	if target.After(today) {
		return fmt.Errorf("target date %s is in the future: %w",
			target.Format("2006-01-02"), domain.ErrValidation)
	}

	ingested := 0
	for day := target; !day.After(today); day = day.AddDate(0, 0, 1) {
		n, err := i.ingestDay(ctx, day)
		if err != nil {
			return err
		}
		ingested += n
	}

	if ingested > 0 && i.cache != nil {
		if err := i.cache.Invalidate(ctx); err != nil {
			return fmt.Errorf("invalidate cache after ingest: %w", err)
		}
	}

	i.logger.Info("ingest finished",
		"task_id", msg.ID,
		"from", target.Format("2006-01-02"),
		"rows", ingested)
	return nil
}

// ingestDay processes a single trade day and returns the number of rows
// written. A day with no bulletin or no prior gap contributes zero.
func (i *Ingestor) ingestDay(ctx context.Context, day time.Time) (int, error) {
	date := day.Format("2006-01-02")

	exists, err := i.results.HasResultsOn(ctx, day)
	if err != nil {
		return 0, fmt.Errorf("check existing results for %s: %w", date, err)
	}
	if exists {
		i.logger.Debug("day already ingested", "date", date)
		return 0, nil
	}

	rows, err := i.source.Results(ctx, day)
	if err != nil {
		if errors.Is(err, bulletin.ErrNotPublished) {
			i.logger.Debug("no bulletin for day", "date", date)
			return 0, nil
		}
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}

	if err := i.results.UpsertBatch(ctx, rows); err != nil {
		return 0, fmt.Errorf("store results for %s: %w", date, err)
	}

	i.logger.Info("ingested bulletin", "date", date, "rows", len(rows))
	return len(rows), nil
}

func parseIngestTarget(payload []byte) (time.Time, error) {
	today := time.Now().UTC().Truncate(24 * time.Hour)
	if len(payload) == 0 {
		return today, nil
	}

	var p IngestPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return time.Time{}, fmt.Errorf("decode ingest payload: %w", err)
	}
	if p.TargetDate == "" {
		return today, nil
	}

	target, err := time.ParseInLocation("2006-01-02", p.TargetDate, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid target date %q: %w", p.TargetDate, err)
	}
	return target, nil
}
