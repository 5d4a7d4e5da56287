package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// DBPool abstracts pgxpool.Pool so the Postgres backend can be mocked in tests.
type DBPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

const (
	sqlCreateTable = `
        CREATE TABLE IF NOT EXISTS domrelay_kv (
            key        TEXT PRIMARY KEY,
            value      JSONB NOT NULL,
            updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
        )`
	sqlSelectValue = `SELECT value FROM domrelay_kv WHERE key = $1`
	sqlUpsertValue = `
        INSERT INTO domrelay_kv (key, value, updated_at)
        VALUES ($1, $2, now())
        ON CONFLICT (key) DO UPDATE SET
            value = EXCLUDED.value,
            updated_at = EXCLUDED.updated_at`
	sqlDeleteValue = `DELETE FROM domrelay_kv WHERE key = $1`
)

// PostgresKV stores values as JSONB rows.
type PostgresKV struct {
	pool DBPool
	log  *zap.Logger
}

// OpenPostgresKV connects to url and prepares the table.
func OpenPostgresKV(ctx context.Context, url string, logger *zap.Logger) (*PostgresKV, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	kv, err := NewPostgresKV(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return kv, nil
}

// NewPostgresKV prepares the table on an existing pool. The DDL doubles as
// the connectivity check.
func NewPostgresKV(ctx context.Context, pool DBPool, logger *zap.Logger) (*PostgresKV, error) {
	if _, err := pool.Exec(ctx, sqlCreateTable); err != nil {
		return nil, fmt.Errorf("failed to prepare domrelay_kv table: %w", err)
	}
	return &PostgresKV{pool: pool, log: logger.Named("postgres")}, nil
}

func (p *PostgresKV) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := p.pool.QueryRow(ctx, sqlSelectValue, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select %s: %w", key, err)
	}
	return value, nil
}

func (p *PostgresKV) Put(ctx context.Context, key string, value []byte) error {
	if _, err := p.pool.Exec(ctx, sqlUpsertValue, key, value); err != nil {
		return fmt.Errorf("failed to upsert %s: %w", key, err)
	}
	return nil
}

func (p *PostgresKV) Delete(ctx context.Context, key string) error {
	tag, err := p.pool.Exec(ctx, sqlDeleteValue, key)
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	if tag.RowsAffected() == 0 {
		p.log.Debug("Delete matched no row.", zap.String("key", key))
	}
	return nil
}

func (p *PostgresKV) Close() error {
	p.pool.Close()
	return nil
}
