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

// Package postgres persists the relay store into PostgreSQL through pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carverauto/scanrelay/pkg/logger"
	"github.com/carverauto/scanrelay/pkg/models"
	"github.com/carverauto/scanrelay/pkg/store"
)

// invalid_text_representation, raised when a hash value does not cast to bigint.
const pgInvalidText = "22P02"

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
CREATE TABLE IF NOT EXISTS relay_list_heads (
  key TEXT PRIMARY KEY,
  length BIGINT NOT NULL
);
CREATE TABLE IF NOT EXISTS relay_lists (
  key TEXT NOT NULL,
  idx BIGINT NOT NULL,
  value TEXT NOT NULL,
  PRIMARY KEY (key, idx)
);`

type Store struct {
	pool *pgxpool.Pool
}

// NewPool opens a pgx pool for cfg and verifies the connection.
func NewPool(ctx context.Context, cfg *models.PostgresConfig, log logger.Logger) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to parse connection string: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}

	poolConfig.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to initialize pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()

		return nil, fmt.Errorf("postgres: ping failed: %w", err)
	}

	log.Info().
		Str("host", poolConfig.ConnConfig.Host).
		Int32("max_conns", poolConfig.MaxConns).
		Msg("Connected to PostgreSQL")

	return pool, nil
}

// New wraps pool. Call EnsureSchema before using it. The store owns the
// pool and closes it in Close.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// EnsureSchema creates the store tables if they are missing.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("postgres: failed to create schema: %w", err)
	}

	return nil
}

func (s *Store) HashSet(ctx context.Context, key string, fields map[string]string) error {
	const query = `
INSERT INTO relay_hashes (key, field, value) VALUES ($1, $2, $3)
ON CONFLICT (key, field) DO UPDATE SET value = EXCLUDED.value`

	batch := &pgx.Batch{}
	for f, v := range fields {
		batch.Queue(query, key, f, v)
	}

	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("hash set %s: %w", key, err)
	}

	return nil
}

func (s *Store) HashSetNX(ctx context.Context, key, field, value string) (bool, error) {
	const query = `
INSERT INTO relay_hashes (key, field, value) VALUES ($1, $2, $3)
ON CONFLICT (key, field) DO NOTHING`

	tag, err := s.pool.Exec(ctx, query, key, field, value)
	if err != nil {
		return false, fmt.Errorf("hash setnx %s: %w", key, err)
	}

	return tag.RowsAffected() == 1, nil
}

func (s *Store) HashGetAll(ctx context.Context, key string) (map[string]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT field, value FROM relay_hashes WHERE key = $1`, key)
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

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("hash getall %s: %w", key, err)
	}

	return out, nil
}

func (s *Store) HashIncrement(ctx context.Context, key, field string, delta int64) (int64, error) {
	const query = `
INSERT INTO relay_hashes (key, field, value) VALUES ($1, $2, ($3::bigint)::text)
ON CONFLICT (key, field) DO UPDATE SET value = ((relay_hashes.value)::bigint + $3::bigint)::text
RETURNING value`

	var raw string

	err := s.pool.QueryRow(ctx, query, key, field, delta).Scan(&raw)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgInvalidText {
		return 0, fmt.Errorf("%w: %s %s", store.ErrNotInteger, key, field)
	}

	if err != nil {
		return 0, fmt.Errorf("hash increment %s: %w", key, err)
	}

	return strconv.ParseInt(raw, 10, 64)
}

func (s *Store) SetAdd(ctx context.Context, key, member string) error {
	const query = `INSERT INTO relay_sets (key, member) VALUES ($1, $2) ON CONFLICT DO NOTHING`

	if _, err := s.pool.Exec(ctx, query, key, member); err != nil {
		return fmt.Errorf("set add %s: %w", key, err)
	}

	return nil
}

// ListAppend bumps the list head and inserts under the reserved index in
// one transaction, so concurrent appends never collide.
func (s *Store) ListAppend(ctx context.Context, key, value string) error {
	const bump = `
INSERT INTO relay_list_heads (key, length) VALUES ($1, 1)
ON CONFLICT (key) DO UPDATE SET length = relay_list_heads.length + 1
RETURNING length`

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var length int64
		if err := tx.QueryRow(ctx, bump, key).Scan(&length); err != nil {
			return err
		}

		_, err := tx.Exec(ctx, `INSERT INTO relay_lists (key, idx, value) VALUES ($1, $2, $3)`, key, length-1, value)

		return err
	})
	if err != nil {
		return fmt.Errorf("list append %s: %w", key, err)
	}

	return nil
}

func (s *Store) ListRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	var length int64

	err := s.pool.QueryRow(ctx, `SELECT length FROM relay_list_heads WHERE key = $1`, key).Scan(&length)
	if errors.Is(err, pgx.ErrNoRows) {
		return []string{}, nil
	}

	if err != nil {
		return nil, fmt.Errorf("list range %s: %w", key, err)
	}

	from, to, ok := store.NormalizeRange(start, stop, length)
	if !ok {
		return []string{}, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT value FROM relay_lists WHERE key = $1 AND idx BETWEEN $2 AND $3 ORDER BY idx`, key, from, to)
	if err != nil {
		return nil, fmt.Errorf("list range %s: %w", key, err)
	}

	out, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("list range %s: %w", key, err)
	}

	if out == nil {
		out = []string{}
	}

	return out, nil
}

func (s *Store) Close() error {
	s.pool.Close()

	return nil
}

var _ store.Store = (*Store)(nil)
