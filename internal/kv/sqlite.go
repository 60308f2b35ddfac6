package kv

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	_ "modernc.org/sqlite"

	logx "watchbot/pkg/logx"
)

//go:embed migrations.sql
var migrations string

type sqliteStore struct {
	db     *sql.DB
	log    logx.Logger
	opts   options
	closed atomic.Bool
}

func openSQLite(cfg Config, log logx.Logger, o options) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for sqlite driver")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer; one connection also keeps ":memory:"
	// databases from splitting per connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.Exec(migrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return &sqliteStore{db: db, log: log, opts: o}, nil
}

func (s *sqliteStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Update(ctx context.Context, fn func(tx Tx) error) (err error) {
	defer func() { s.opts.report("update", err) }()
	if s.closed.Load() {
		return ErrClosed
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(&sqliteTx{ctx: ctx, q: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *sqliteStore) ListRange(ctx context.Context, key []byte, start, stop int64) (out [][]byte, err error) {
	defer func() { s.opts.report("list_range", err) }()
	if s.closed.Load() {
		return nil, ErrClosed
	}
	return (&sqliteTx{ctx: ctx, q: s.db}).ListRange(key, start, stop)
}

func (s *sqliteStore) SetMembers(ctx context.Context, key []byte) (out [][]byte, err error) {
	defer func() { s.opts.report("set_members", err) }()
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if len(key) == 0 {
		return nil, ErrEmptyKey
	}
	rows, err := s.db.QueryContext(ctx, `SELECT member FROM kv_set WHERE key = ? ORDER BY member`, key)
	if err != nil {
		return nil, err
	}
	return scanBlobs(rows)
}

func (s *sqliteStore) SetIsMember(ctx context.Context, key, member []byte) (ok bool, err error) {
	defer func() { s.opts.report("set_is_member", err) }()
	if s.closed.Load() {
		return false, ErrClosed
	}
	return (&sqliteTx{ctx: ctx, q: s.db}).SetIsMember(key, member)
}

// querier is the part of *sql.DB and *sql.Tx that sqliteTx needs.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type sqliteTx struct {
	ctx context.Context
	q   querier
}

func (t *sqliteTx) ListPush(key, value []byte) error {
	if len(key) == 0 {
		return ErrEmptyKey
	}
	_, err := t.q.ExecContext(t.ctx, `INSERT INTO kv_list(key, value) VALUES(?, ?)`, key, nonNil(value))
	return err
}

func (t *sqliteTx) ListRange(key []byte, start, stop int64) ([][]byte, error) {
	if len(key) == 0 {
		return nil, ErrEmptyKey
	}
	rows, err := t.q.QueryContext(t.ctx, `SELECT value FROM kv_list WHERE key = ? ORDER BY seq`, key)
	if err != nil {
		return nil, err
	}
	all, err := scanBlobs(rows)
	if err != nil {
		return nil, err
	}
	lo, hi, ok := rangeBounds(len(all), start, stop)
	if !ok {
		return nil, nil
	}
	return all[lo:hi], nil
}

func (t *sqliteTx) SetAdd(key, member []byte) error {
	if len(key) == 0 {
		return ErrEmptyKey
	}
	_, err := t.q.ExecContext(t.ctx, `INSERT OR IGNORE INTO kv_set(key, member) VALUES(?, ?)`, key, nonNil(member))
	return err
}

func (t *sqliteTx) SetIsMember(key, member []byte) (bool, error) {
	if len(key) == 0 {
		return false, ErrEmptyKey
	}
	var one int
	err := t.q.QueryRowContext(t.ctx, `SELECT 1 FROM kv_set WHERE key = ? AND member = ?`, key, nonNil(member)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func scanBlobs(rows *sql.Rows) ([][]byte, error) {
	defer rows.Close()
	var out [][]byte
	for rows.Next() {
		var b []byte
		if err := rows.Scan(&b); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// nonNil keeps empty values from being stored as NULL.
func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
