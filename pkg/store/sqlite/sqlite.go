/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package sqlite persists the relay store into a local SQLite database for
// single-node deployments.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3" // registers the sqlite3 driver

	"github.com/carverauto/scanrelay/pkg/models"
	"github.com/carverauto/scanrelay/pkg/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS relay_hashes (
  key TEXT NOT NULL,
  field TEXT NOT NULL,
  value TEXT NOT NULL,
  PRIMARY KEY (key, field)
);
CREATE TABLE IF NOT EXISTS relay_sets (
  key TEXT NOT NULL,
  member TEXT NOT NULL,
  PRIMARY KEY (key, member)
);
CREATE TABLE IF NOT EXISTS relay_lists (
  key TEXT NOT NULL,
  idx INTEGER NOT NULL,
  value TEXT NOT NULL,
  PRIMARY KEY (key, idx)
);`

type Store struct {
	db *sql.DB
}

func dsn(cfg *models.SQLiteConfig) string {
	q := url.Values{}
	q.Set("_busy_timeout", strconv.FormatInt(time.Duration(cfg.BusyTimeout).Milliseconds(), 10))
	q.Set("_journal_mode", "WAL")
	q.Set("_txlock", "immediate")

	return "file:" + cfg.Path + "?" + q.Encode()
}

// Open opens (creating when needed) the database at cfg.Path and ensures
// the schema exists.
func Open(ctx context.Context, cfg *models.SQLiteConfig) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn(cfg))
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to open %s: %w", cfg.Path, err)
	}

	// SQLite allows a single writer at a time.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("sqlite: failed to create schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) HashSet(ctx context.Context, key string, fields map[string]string) error {
	const query = `
INSERT INTO relay_hashes (key, field, value) VALUES (?, ?, ?)
ON CONFLICT (key, field) DO UPDATE SET value = excluded.value`

	return s.inTx(ctx, func(tx *sql.Tx) error {
		for f, v := range fields {
			if _, err := tx.ExecContext(ctx, query, key, f, v); err != nil {
				return fmt.Errorf("hash set %s: %w", key, err)
			}
		}

		return nil
	})
}

func (s *Store) HashSetNX(ctx context.Context, key, field, value string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO relay_hashes (key, field, value) VALUES (?, ?, ?) ON CONFLICT (key, field) DO NOTHING`,
		key, field, value)
	if err != nil {
		return false, fmt.Errorf("hash setnx %s: %w", key, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("hash setnx %s: %w", key, err)
	}

	return n == 1, nil
}

func (s *Store) HashGetAll(ctx context.Context, key string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT field, value FROM relay_hashes WHERE key = ?`, key)
	if err != nil {
		return nil, fmt.Errorf("hash getall %s: %w", key, err)
	}
	defer rows.Close()

	out := make(map[string]string)

	for rows.Next() {
		var field, value string
		if err := rows.Scan(&field, &value); err != nil {
			return nil, fmt.Errorf("hash getall %s: %w", key, err)
		}

		out[field] = value
	}

	return out, rows.Err()
}

func (s *Store) HashIncrement(ctx context.Context, key, field string, delta int64) (int64, error) {
	var result int64

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var raw string

		err := tx.QueryRowContext(ctx,
			`SELECT value FROM relay_hashes WHERE key = ? AND field = ?`, key, field).Scan(&raw)

		switch {
		case errors.Is(err, sql.ErrNoRows):
			result = delta
		case err != nil:
			return fmt.Errorf("hash increment %s: %w", key, err)
		default:
			n, perr := strconv.ParseInt(raw, 10, 64)
			if perr != nil {
				return fmt.Errorf("%w: %s %s", store.ErrNotInteger, key, field)
			}

			result = n + delta
		}

		_, err = tx.ExecContext(ctx, `
INSERT INTO relay_hashes (key, field, value) VALUES (?, ?, ?)
ON CONFLICT (key, field) DO UPDATE SET value = excluded.value`, key, field, strconv.FormatInt(result, 10))
		if err != nil {
			return fmt.Errorf("hash increment %s: %w", key, err)
		}

		return nil
	})

	return result, err
}

func (s *Store) SetAdd(ctx context.Context, key, member string) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO relay_sets (key, member) VALUES (?, ?) ON CONFLICT DO NOTHING`, key, member); err != nil {
		return fmt.Errorf("set add %s: %w", key, err)
	}

	return nil
}

func (s *Store) ListAppend(ctx context.Context, key, value string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
INSERT INTO relay_lists (key, idx, value)
SELECT ?, COALESCE(MAX(idx) + 1, 0), ? FROM relay_lists WHERE key = ?`, key, value, key)
		if err != nil {
			return fmt.Errorf("list append %s: %w", key, err)
		}

		return nil
	})
}

func (s *Store) ListRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	var length int64

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM relay_lists WHERE key = ?`, key).Scan(&length); err != nil {
		return nil, fmt.Errorf("list range %s: %w", key, err)
	}

	from, to, ok := store.NormalizeRange(start, stop, length)
	if !ok {
		return []string{}, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT value FROM relay_lists WHERE key = ? AND idx BETWEEN ? AND ? ORDER BY idx`, key, from, to)
	if err != nil {
		return nil, fmt.Errorf("list range %s: %w", key, err)
	}
	defer rows.Close()

	out := make([]string, 0, to-from+1)

	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("list range %s: %w", key, err)
		}

		out = append(out, v)
	}

	return out, rows.Err()
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()

		return err
	}

	return tx.Commit()
}

func (s *Store) Close() error {
	return s.db.Close()
}

var _ store.Store = (*Store)(nil)
