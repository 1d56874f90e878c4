package mirror

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

const sqliteMirrorSchemaV1 = `
CREATE TABLE IF NOT EXISTS mirror_kv (
    key TEXT PRIMARY KEY,
    value BLOB NOT NULL,
    updated_at_ms INTEGER NOT NULL DEFAULT 0
);
`

// SQLiteMirror stores one row per key in a SQLite database.
type SQLiteMirror struct {
	mu     sync.RWMutex
	db     *sql.DB
	closed bool
}

var _ Mirror = (*SQLiteMirror)(nil)

func NewSQLiteMirror(dsn string) (*SQLiteMirror, error) {
	if dsn == "" {
		return nil, errors.New("sqlite mirror: empty dsn")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	m := &SQLiteMirror{db: db}
	if err := m.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return m, nil
}

// SQLiteDSNForFile returns a DSN with WAL journaling and a busy timeout.
func SQLiteDSNForFile(path string) (string, error) {
	if path == "" {
		return "", errors.New("sqlite mirror: empty path")
	}
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path), nil
}

func (m *SQLiteMirror) migrate() error {
	if _, err := m.db.Exec(sqliteMirrorSchemaV1); err != nil {
		return errors.Wrap(err, "sqlite mirror: could not migrate")
	}
	return nil
}

func (m *SQLiteMirror) Get(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, false, ErrClosed
	}
	var value []byte
	err := m.db.QueryRowContext(ctx, `SELECT value FROM mirror_kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (m *SQLiteMirror) Put(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	_, err := m.db.ExecContext(
		ctx,
		`INSERT INTO mirror_kv (key, value, updated_at_ms)
VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at_ms = excluded.updated_at_ms`,
		key,
		value,
		time.Now().UnixMilli(),
	)
	return err
}

func (m *SQLiteMirror) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	_, err := m.db.ExecContext(ctx, `DELETE FROM mirror_kv WHERE key = ?`, key)
	return err
}

func (m *SQLiteMirror) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	return m.db.Close()
}
