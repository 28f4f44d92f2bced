package kv

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a durable Store for single-node deployments where the
// in-process MemoryStore's state would not survive a hub restart. It
// implements the same get/set/hash/sorted-set surface over three tables.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (creating if absent) a SQLite-backed KV store at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("kv: open sqlite: %w", err)
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS kv (key TEXT PRIMARY KEY, value BLOB, expires_at INTEGER)`,
		`CREATE TABLE IF NOT EXISTS kv_hash (key TEXT, field TEXT, value BLOB, PRIMARY KEY (key, field))`,
		`CREATE TABLE IF NOT EXISTS kv_zset (key TEXT, member TEXT, score REAL, PRIMARY KEY (key, member))`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("kv: migrate: %w", err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	var expiresAt sql.NullInt64
	row := s.db.QueryRowContext(ctx, `SELECT value, expires_at FROM kv WHERE key = ?`, key)
	if err := row.Scan(&value, &expiresAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, err
	}
	if expiresAt.Valid && expiresAt.Int64 > 0 && time.Now().UnixNano() > expiresAt.Int64 {
		return nil, false, nil
	}
	return value, true, nil
}

func (s *SQLiteStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var expires int64
	if ttl > 0 {
		expires = time.Now().Add(ttl).UnixNano()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv (key, value, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, value, expires)
	return err
}

func (s *SQLiteStore) Del(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv_hash WHERE key = ?`, key); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM kv_zset WHERE key = ?`, key)
	return err
}

func (s *SQLiteStore) HSet(ctx context.Context, key, field string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv_hash (key, field, value) VALUES (?, ?, ?)
		 ON CONFLICT(key, field) DO UPDATE SET value = excluded.value`,
		key, field, value)
	return err
}

func (s *SQLiteStore) HGet(ctx context.Context, key, field string) ([]byte, bool, error) {
	var value []byte
	row := s.db.QueryRowContext(ctx, `SELECT value FROM kv_hash WHERE key = ? AND field = ?`, key, field)
	if err := row.Scan(&value); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, err
	}
	return value, true, nil
}

func (s *SQLiteStore) HGetAll(ctx context.Context, key string) (map[string][]byte, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT field, value FROM kv_hash WHERE key = ?`, key)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string][]byte)
	for rows.Next() {
		var field string
		var value []byte
		if err := rows.Scan(&field, &value); err != nil {
			return nil, err
		}
		out[field] = value
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ZAdd(ctx context.Context, key string, score float64, member string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv_zset (key, member, score) VALUES (?, ?, ?)
		 ON CONFLICT(key, member) DO UPDATE SET score = excluded.score`,
		key, member, score)
	return err
}

func (s *SQLiteStore) ZRange(ctx context.Context, key string, start, stop int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT member FROM kv_zset WHERE key = ? ORDER BY score ASC`, key)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var members []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	n := len(members)
	if start < 0 {
		start = n + start
	}
	if stop < 0 {
		stop = n + stop
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || n == 0 {
		return nil, nil
	}
	return members[start : stop+1], nil
}

func (s *SQLiteStore) ZRem(ctx context.Context, key, member string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM kv_zset WHERE key = ? AND member = ?`, key, member)
	return err
}

// Publish/Subscribe are not durable in the SQLite backend; channel fan-out
// is inherently ephemeral, so callers needing cross-process pub/sub should
// pair SQLiteStore with a *bus.Bus rather than expect it from storage.
func (s *SQLiteStore) Publish(context.Context, string, []byte) error { return nil }
func (s *SQLiteStore) Subscribe(context.Context, string, func([]byte)) (func(), error) {
	return func() {}, nil
}
