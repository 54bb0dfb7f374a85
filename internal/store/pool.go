// Package store is the pgx-backed persistence layer: raw SQL over
// pgxpool, grounded on the reference stack's
// internal/persistence/databases package (pool.go, specialists_store.go,
// playground_store.go's transactional delete+recreate pattern).
package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// OpenPool creates a Postgres connection pool using the standard defaults.
func OpenPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	return pgxpool.NewWithConfig(ctx, cfg)
}
