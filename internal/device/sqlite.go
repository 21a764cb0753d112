package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteStore persists keys in a single SQLite table. All access goes through
// one connection, which serializes single statements; multi-step updates
// such as IncrementBelow are expressed as one statement.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the SQLite database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path cannot be empty")
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)",
		path, (5 * time.Second).Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS device_kv (
		key        TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating device_kv table: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM device_kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("getting device key %s: %w", key, err)
	}
	return value, true, nil
}

func (s *SQLiteStore) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO device_kv (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("setting device key %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) Remove(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM device_kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("removing device key %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM device_kv`); err != nil {
		return fmt.Errorf("clearing device keys: %w", err)
	}
	return nil
}

// IncrementBelow upserts the counter in one statement. The conflict branch
// only fires for a well-formed count below limit, so a full or corrupt
// counter returns no row and is then read back.
func (s *SQLiteStore) IncrementBelow(ctx context.Context, key string, limit int) (int, bool, error) {
	if limit > 0 {
		var value string
		err := s.db.QueryRowContext(ctx,
			`INSERT INTO device_kv (key, value, updated_at) VALUES (?, '1', ?)
			 ON CONFLICT (key) DO UPDATE
			   SET value = CAST(CAST(device_kv.value AS INTEGER) + 1 AS TEXT),
			       updated_at = excluded.updated_at
			   WHERE CAST(CAST(device_kv.value AS INTEGER) AS TEXT) = device_kv.value
			     AND CAST(device_kv.value AS INTEGER) >= 0
			     AND CAST(device_kv.value AS INTEGER) < ?
			 RETURNING value`,
			key, time.Now().Unix(), limit).Scan(&value)
		switch {
		case err == nil:
			n, err := parseCounter(key, value)
			return n, err == nil, err
		case !errors.Is(err, sql.ErrNoRows):
			return 0, false, fmt.Errorf("incrementing device key %s: %w", key, err)
		}
	}

	raw, _, err := s.Get(ctx, key)
	if err != nil {
		return 0, false, err
	}
	n, err := parseCounter(key, raw)
	if err != nil {
		return 0, false, err
	}
	return n, false, nil
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
