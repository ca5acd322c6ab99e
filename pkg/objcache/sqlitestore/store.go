// Package sqlitestore persists objcache entries in a SQLite database.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS cache_items (
	namespace TEXT NOT NULL,
	key TEXT NOT NULL,
	value BLOB NOT NULL,
	PRIMARY KEY (namespace, key)
);
`

// Store is a namespaced objcache.Storage backed by SQLite.
type Store struct {
	sqlDB     *sql.DB
	namespace string
}

// Open opens (or creates) the database at path. Entries written through the
// store are isolated under namespace.
func Open(path, namespace string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlitestore: storage path is required")
	}
	namespace = strings.TrimSpace(namespace)
	if namespace == "" {
		namespace = "default"
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("sqlitestore: ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("sqlitestore: ensure schema: %w", err)
	}
	return &Store{sqlDB: sqlDB, namespace: namespace}, nil
}

// Close releases the SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// GetItem implements objcache.Storage.
func (s *Store) GetItem(ctx context.Context, key string) ([]byte, bool, error) {
	if err := s.ready(ctx); err != nil {
		return nil, false, err
	}
	var data []byte
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT value FROM cache_items WHERE namespace = ? AND key = ?`,
		s.namespace, key,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get item: %w", err)
	}
	return data, true, nil
}

// SetItem implements objcache.Storage.
func (s *Store) SetItem(ctx context.Context, key string, data []byte) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO cache_items (namespace, key, value) VALUES (?, ?, ?)
ON CONFLICT (namespace, key) DO UPDATE SET value = excluded.value
`, s.namespace, key, data)
	if err != nil {
		return fmt.Errorf("set item: %w", err)
	}
	return nil
}

// RemoveItem implements objcache.Storage.
func (s *Store) RemoveItem(ctx context.Context, key string) ([]byte, bool, error) {
	if err := s.ready(ctx); err != nil {
		return nil, false, err
	}
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin remove: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var data []byte
	err = tx.QueryRowContext(ctx,
		`SELECT value FROM cache_items WHERE namespace = ? AND key = ?`,
		s.namespace, key,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read removed item: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM cache_items WHERE namespace = ? AND key = ?`,
		s.namespace, key,
	); err != nil {
		return nil, false, fmt.Errorf("remove item: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit remove: %w", err)
	}
	return data, true, nil
}

// Keys implements objcache.Storage.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT key FROM cache_items WHERE namespace = ? ORDER BY key`,
		s.namespace,
	)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate keys: %w", err)
	}
	return keys, nil
}

func (s *Store) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	return nil
}
