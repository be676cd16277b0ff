package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PostgresKV stores buckets in the kv_entries table. Keys use the "C"
// collation so scans come back in byte order.
type PostgresKV struct {
	db *sql.DB
}

func NewPostgresKV(db *sql.DB) *PostgresKV {
	return &PostgresKV{db: db}
}

func (s *PostgresKV) DB() *sql.DB {
	return s.db
}

func (s *PostgresKV) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM kv_entries WHERE bucket=$1 AND key=$2`,
		bucket, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", bucket, key, err)
	}
	return value, nil
}

func (s *PostgresKV) Insert(ctx context.Context, bucket, key string, value []byte) error {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO kv_entries (bucket, key, value)
		VALUES ($1, $2, $3)
		ON CONFLICT (bucket, key) DO NOTHING
	`, bucket, key, value)
	if err != nil {
		return fmt.Errorf("insert %s/%s: %w", bucket, key, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert %s/%s rows affected: %w", bucket, key, err)
	}
	if affected == 0 {
		return ErrExists
	}
	return nil
}

func (s *PostgresKV) Put(ctx context.Context, bucket, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv_entries (bucket, key, value)
		VALUES ($1, $2, $3)
		ON CONFLICT (bucket, key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
	`, bucket, key, value)
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", bucket, key, err)
	}
	return nil
}

func (s *PostgresKV) Update(ctx context.Context, bucket, key string, value []byte) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE kv_entries SET value=$3, updated_at=NOW()
		WHERE bucket=$1 AND key=$2
	`, bucket, key, value)
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", bucket, key, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update %s/%s rows affected: %w", bucket, key, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresKV) Remove(ctx context.Context, bucket, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv_entries WHERE bucket=$1 AND key=$2`, bucket, key); err != nil {
		return fmt.Errorf("remove %s/%s: %w", bucket, key, err)
	}
	return nil
}

// Scan buffers the rows before calling fn so fn may write through s
// without holding a connection.
func (s *PostgresKV) Scan(ctx context.Context, bucket, prefix string, fn func(string, []byte) error) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, value FROM kv_entries
		WHERE bucket=$1 AND starts_with(key, $2)
		ORDER BY key ASC
	`, bucket, prefix)
	if err != nil {
		return fmt.Errorf("scan %s: %w", bucket, err)
	}

	type entry struct {
		key   string
		value []byte
	}
	entries := make([]entry, 0)
	for rows.Next() {
		var e entry
		if err := rows.Scan(&e.key, &e.value); err != nil {
			rows.Close()
			return fmt.Errorf("scan %s row: %w", bucket, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("scan %s rows: %w", bucket, err)
	}
	rows.Close()

	for _, e := range entries {
		if err := fn(e.key, e.value); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresKV) Next(ctx context.Context, counter string) (uint64, error) {
	var value int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO kv_counters (name, value) VALUES ($1, 1)
		ON CONFLICT (name) DO UPDATE SET value = kv_counters.value + 1
		RETURNING value
	`, counter).Scan(&value)
	if err != nil {
		return 0, fmt.Errorf("next %s: %w", counter, err)
	}
	return uint64(value), nil
}

func (s *PostgresKV) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
