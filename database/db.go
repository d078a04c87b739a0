// Package database is the center's persistence layer: a Postgres-backed
// alert store plus threat-pattern loading for the scorer.
package database

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	zlog "github.com/cardeasec/cardea/logger"
	"github.com/jackc/pgx/v5/pgxpool"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

//go:embed schema.sql
var schemaSQL string

// opTimeout bounds every persistent-store operation
const opTimeout = 5 * time.Second

// DB wraps the connection pool
type DB struct {
	Pool *pgxpool.Pool
}

// Connect opens a pool against the configured URI, verifies connectivity and
// applies the schema. A failure here is fatal for the oracle process.
func Connect(ctx context.Context, uri string) (*DB, error) {
	pool, err := pgxpool.New(ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("creating postgres pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	db := &DB{Pool: pool}
	if err := db.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	logger := zlog.GetLogger()
	logger.Info().Msg("connected to postgres and applied schema")
	return db, nil
}

func (db *DB) initSchema(ctx context.Context) error {
	execCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if _, err := db.Pool.Exec(execCtx, schemaSQL); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	return nil
}

// Ping verifies connectivity with the standard op timeout
func (db *DB) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return db.Pool.Ping(pingCtx)
}

// Close releases the pool
func (db *DB) Close() {
	db.Pool.Close()
}
