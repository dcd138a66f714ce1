package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // register the pgx database/sql driver

	"github.com/spimexlab/spimex-api/internal/backoff"
)

// Open opens a database handle for dsn and waits for connectivity.
// The deployment topology does not order database startup before its
// consumers, so the initial ping is retried with backoff until it
// succeeds or ctx is cancelled.
func Open(ctx context.Context, dsn string, logger *slog.Logger) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	strategy := backoff.NewExponential(500*time.Millisecond, 10*time.Second)
	for attempt := 1; ; attempt++ {
		pingErr := db.PingContext(ctx)
		if pingErr == nil {
			if attempt > 1 {
				logger.Info("database reachable", "attempts", attempt)
			}
			return db, nil
		}

		delay := strategy.Delay(attempt)
		logger.Warn("database not reachable, retrying",
			"attempt", attempt,
			"retry_in", delay.String(),
			"error", pingErr)

		select {
		case <-ctx.Done():
			_ = db.Close()
			return nil, fmt.Errorf("gave up waiting for database: %w", ctx.Err())
		case <-time.After(delay):
		}
	}
}
