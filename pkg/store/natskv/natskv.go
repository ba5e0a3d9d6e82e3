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

// Package natskv persists the relay store into a NATS JetStream key/value
// bucket. Logical keys, fields and members are base64url encoded so any
// value maps onto a legal KV key.
package natskv

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/carverauto/scanrelay/pkg/store"
)

var errCASExhausted = errors.New("too many concurrent updates")

const (
	maxCASAttempts = 32

	hashSpace = "h"
	setSpace  = "s"
	listSpace = "l"
	lenToken  = "n"
)

type Store struct {
	nc *nats.Conn
	kv jetstream.KeyValue
}

// New opens (creating when needed) bucket on nc. The store owns nc and
// closes it in Close.
func New(ctx context.Context, nc *nats.Conn, bucket string) (*Store, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "scanrelay durable store",
		History:     1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create KV bucket %s: %w", bucket, err)
	}

	return &Store{nc: nc, kv: kv}, nil
}

func encode(s string) string {
	if s == "" {
		return "="
	}

	return base64.RawURLEncoding.EncodeToString([]byte(s))
}

func decode(s string) (string, error) {
	if s == "=" {
		return "", nil
	}

	b, err := base64.RawURLEncoding.DecodeString(s)

	return string(b), err
}

func hashField(key, field string) string {
	return hashSpace + "." + encode(key) + "." + encode(field)
}

func setMember(key, member string) string {
	return setSpace + "." + encode(key) + "." + encode(member)
}

func listLen(key string) string {
	return listSpace + "." + encode(key) + "." + lenToken
}

func listItem(key string, idx int64) string {
	return listSpace + "." + encode(key) + "." + strconv.FormatInt(idx, 10)
}

func (s *Store) HashSet(ctx context.Context, key string, fields map[string]string) error {
	for f, v := range fields {
		if _, err := s.kv.PutString(ctx, hashField(key, f), v); err != nil {
			return fmt.Errorf("failed to set %s.%s: %w", key, f, err)
		}
	}

	return nil
}

func (s *Store) HashSetNX(ctx context.Context, key, field, value string) (bool, error) {
	_, err := s.kv.Create(ctx, hashField(key, field), []byte(value))
	if errors.Is(err, jetstream.ErrKeyExists) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("failed to create %s.%s: %w", key, field, err)
	}

	return true, nil
}

func (s *Store) HashGetAll(ctx context.Context, key string) (map[string]string, error) {
	prefix := hashSpace + "." + encode(key) + "."

	watcher, err := s.kv.Watch(ctx, prefix+"*", jetstream.IgnoreDeletes())
	if err != nil {
		return nil, fmt.Errorf("failed to read hash %s: %w", key, err)
	}

	defer func() { _ = watcher.Stop() }()

	out := make(map[string]string)

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case entry, ok := <-watcher.Updates():
			if !ok || entry == nil {
				// a nil entry marks the end of the initial values
				return out, nil
			}

			field, err := decode(strings.TrimPrefix(entry.Key(), prefix))
			if err != nil {
				continue
			}

			out[field] = string(entry.Value())
		}
	}
}

func (s *Store) HashIncrement(ctx context.Context, key, field string, delta int64) (int64, error) {
	var result int64

	err := s.compareAndSwap(ctx, hashField(key, field), func(current string, exists bool) (string, error) {
		var n int64

		if exists {
			parsed, err := strconv.ParseInt(current, 10, 64)
			if err != nil {
				return "", fmt.Errorf("%w: %s %s", store.ErrNotInteger, key, field)
			}

			n = parsed
		}

		result = n + delta

		return strconv.FormatInt(result, 10), nil
	})

	return result, err
}

func (s *Store) SetAdd(ctx context.Context, key, member string) error {
	if _, err := s.kv.PutString(ctx, setMember(key, member), "1"); err != nil {
		return fmt.Errorf("failed to add %s to %s: %w", member, key, err)
	}

	return nil
}

// ListAppend reserves the next index with a CAS on the length counter and
// then writes the item under it.
func (s *Store) ListAppend(ctx context.Context, key, value string) error {
	var idx int64

	err := s.compareAndSwap(ctx, listLen(key), func(current string, exists bool) (string, error) {
		idx = 0

		if exists {
			n, err := strconv.ParseInt(current, 10, 64)
			if err != nil {
				return "", fmt.Errorf("%w: length of %s", store.ErrNotInteger, key)
			}

			idx = n
		}

		return strconv.FormatInt(idx+1, 10), nil
	})
	if err != nil {
		return err
	}

	if _, err := s.kv.PutString(ctx, listItem(key, idx), value); err != nil {
		return fmt.Errorf("failed to append to %s: %w", key, err)
	}

	return nil
}

func (s *Store) ListRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	length, err := s.listLength(ctx, key)
	if err != nil {
		return nil, err
	}

	from, to, ok := store.NormalizeRange(start, stop, length)
	if !ok {
		return []string{}, nil
	}

	out := make([]string, 0, to-from+1)

	for i := from; i <= to; i++ {
		entry, err := s.kv.Get(ctx, listItem(key, i))
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			// reserved by an append that has not written its item yet
			continue
		}

		if err != nil {
			return nil, fmt.Errorf("failed to read %s[%d]: %w", key, i, err)
		}

		out = append(out, string(entry.Value()))
	}

	return out, nil
}

func (s *Store) listLength(ctx context.Context, key string) (int64, error) {
	entry, err := s.kv.Get(ctx, listLen(key))
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return 0, nil
	}

	if err != nil {
		return 0, fmt.Errorf("failed to read length of %s: %w", key, err)
	}

	n, err := strconv.ParseInt(string(entry.Value()), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: length of %s", store.ErrNotInteger, key)
	}

	return n, nil
}

// compareAndSwap applies next to the current value of kvKey using the
// entry revision, retrying when another writer got there first.
func (s *Store) compareAndSwap(ctx context.Context, kvKey string, next func(current string, exists bool) (string, error)) error {
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		entry, err := s.kv.Get(ctx, kvKey)

		switch {
		case errors.Is(err, jetstream.ErrKeyNotFound):
			value, nerr := next("", false)
			if nerr != nil {
				return nerr
			}

			if _, err = s.kv.Create(ctx, kvKey, []byte(value)); err == nil {
				return nil
			}

			if !errors.Is(err, jetstream.ErrKeyExists) {
				return fmt.Errorf("failed to create %s: %w", kvKey, err)
			}
		case err != nil:
			return fmt.Errorf("failed to read %s: %w", kvKey, err)
		default:
			value, nerr := next(string(entry.Value()), true)
			if nerr != nil {
				return nerr
			}

			if _, err = s.kv.Update(ctx, kvKey, []byte(value), entry.Revision()); err == nil {
				return nil
			}
		}
	}

	return fmt.Errorf("%w: %s", errCASExhausted, kvKey)
}

func (s *Store) Close() error {
	if s.nc != nil {
		return s.nc.Drain()
	}

	return nil
}

var _ store.Store = (*Store)(nil)
