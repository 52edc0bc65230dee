package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"conclave/internal/domain"
)

// SQLiteStore implements domain.Bucket and domain.StateStore on one SQLite
// database.
type SQLiteStore struct {
	db *sql.DB
}

var (
	_ domain.Bucket     = (*SQLiteStore)(nil)
	_ domain.StateStore = (*SQLiteStore)(nil)
)

// NewSQLiteStore opens (or creates) a SQLite database at dbPath
// and runs the schema migration.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open storage db: %w", err)
	}
	// WAL mode for better concurrent reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate storage db: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS objects (
		key        TEXT PRIMARY KEY,
		data       BLOB NOT NULL,
		author     TEXT NOT NULL DEFAULT '',
		written_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS agent_state (
		identity   TEXT PRIMARY KEY,
		data       BLOB NOT NULL,
		updated_at TEXT NOT NULL
	)`,
}

func migrate(db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (*domain.Object, bool, error) {
	var (
		obj       = domain.Object{Key: key}
		writtenAt string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT data, author, written_at FROM objects WHERE key = ?", key,
	).Scan(&obj.Data, &obj.Meta.Author, &writtenAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get object %q: %w", key, err)
	}
	obj.Meta.WrittenAt, _ = time.Parse(time.RFC3339Nano, writtenAt)
	return &obj, true, nil
}

func (s *SQLiteStore) Put(ctx context.Context, key string, data []byte, meta domain.ObjectMeta) error {
	if data == nil {
		data = []byte{}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO objects (key, data, author, written_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET data = excluded.data, author = excluded.author, written_at = excluded.written_at`,
		key, data, meta.Author, meta.WrittenAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("put object %q: %w", key, err)
	}
	return nil
}

// List returns keys starting with prefix. TEXT keys compare bytewise, which
// matches Go string ordering.
func (s *SQLiteStore) List(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT key FROM objects WHERE instr(key, ?) = 1 ORDER BY key", prefix,
	)
	if err != nil {
		return nil, fmt.Errorf("list objects %q: %w", prefix, err)
	}
	defer rows.Close()

	keys := make([]string, 0)
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM objects WHERE key = ?", key); err != nil {
		return fmt.Errorf("delete object %q: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context, identity string) ([]byte, bool, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT data FROM agent_state WHERE identity = ?", identity,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load state %q: %w", identity, err)
	}
	return data, true, nil
}

func (s *SQLiteStore) Save(ctx context.Context, identity string, data []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_state (identity, data, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(identity) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		identity, data, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save state %q: %w", identity, err)
	}
	return nil
}
