package store

import (
	"context"
	"database/sql"
)

// DBTX is the query surface the stores actually use. Both *sql.DB and
// *sql.Tx satisfy it, so the same store runs standalone or inside
// RunInTransaction without knowing which it was handed.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}
