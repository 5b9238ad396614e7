package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	_ "modernc.org/sqlite"
)

// SQLiteKV keeps key-value entries in a local SQLite file.
type SQLiteKV struct {
	db *sql.DB
}

var _ KV = &SQLiteKV{}

// NewSQLiteKV opens (creating if needed) the database at dbPath, enables WAL
// mode and creates the kv table.
func NewSQLiteKV(ctx context.Context, dbPath string) (*SQLiteKV, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// One writer at a time.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS kv (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create kv table: %w", err)
	}

	return &SQLiteKV{db: db}, nil
}

// Close closes the database connection
func (kv *SQLiteKV) Close() error {
	return kv.db.Close()
}

func (kv *SQLiteKV) Get(ctx context.Context, key string) (string, error) {
	ctx, span := tracer.Start(ctx, "sqlite.get",
		trace.WithAttributes(attribute.String("key", key)),
	)
	defer span.End()

	var value string
	err := kv.db.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		span.SetAttributes(attribute.Bool("found", false))
		return "", ErrKeyNotFound
	}
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to get key %s: %w", key, err)
	}

	span.SetAttributes(attribute.Bool("found", true))
	return value, nil
}

func (kv *SQLiteKV) Set(ctx context.Context, key, value string) error {
	ctx, span := tracer.Start(ctx, "sqlite.set",
		trace.WithAttributes(
			attribute.String("key", key),
			attribute.Int("size_bytes", len(value)),
		),
	)
	defer span.End()

	_, err := kv.db.ExecContext(ctx,
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value,
	)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}
	return nil
}
