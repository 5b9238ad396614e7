package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// TiDBKV keeps key-value entries in a TiDB (or MySQL) table.
type TiDBKV struct {
	db *sql.DB
}

var _ KV = &TiDBKV{}

// NewTiDBKV connects, pings and creates the kv_entries table if missing.
func NewTiDBKV(ctx context.Context, dsn string) (*TiDBKV, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)

	_, err = db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS kv_entries (
			k          VARCHAR(191) NOT NULL PRIMARY KEY,
			v          LONGTEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create kv_entries table: %w", err)
	}

	return &TiDBKV{db: db}, nil
}

// Close closes the database connection
func (kv *TiDBKV) Close() error {
	return kv.db.Close()
}

func (kv *TiDBKV) Get(ctx context.Context, key string) (string, error) {
	ctx, span := tracer.Start(ctx, "tidb.get",
		trace.WithAttributes(attribute.String("key", key)),
	)
	defer span.End()

	var value string
	err := kv.db.QueryRowContext(ctx, "SELECT v FROM kv_entries WHERE k = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		span.SetAttributes(attribute.Bool("found", false))
		return "", ErrKeyNotFound
	} else if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to query key %s: %w", key, err)
	}

	span.SetAttributes(attribute.Bool("found", true))
	return value, nil
}

func (kv *TiDBKV) Set(ctx context.Context, key, value string) error {
	ctx, span := tracer.Start(ctx, "tidb.set",
		trace.WithAttributes(
			attribute.String("key", key),
			attribute.Int("size_bytes", len(value)),
		),
	)
	defer span.End()

	_, err := kv.db.ExecContext(ctx,
		`INSERT INTO kv_entries (k, v) VALUES (?, ?)
		 ON DUPLICATE KEY UPDATE v = VALUES(v)`,
		key, value,
	)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to upsert key %s: %w", key, err)
	}
	return nil
}
