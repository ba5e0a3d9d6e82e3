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

package store

import (
	"context"
	"fmt"
	"strconv"
	"sync"
)

// MemoryStore is the default in-process backend. Its contents do not
// survive a restart.
type MemoryStore struct {
	mu     sync.Mutex
	hashes map[string]map[string]string
	sets   map[string]map[string]struct{}
	lists  map[string][]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		hashes: make(map[string]map[string]string),
		sets:   make(map[string]map[string]struct{}),
		lists:  make(map[string][]string),
	}
}

func (m *MemoryStore) hash(key string) map[string]string {
	h, ok := m.hashes[key]
	if !ok {
		h = make(map[string]string)
		m.hashes[key] = h
	}

	return h
}

func (m *MemoryStore) HashSet(_ context.Context, key string, fields map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	h := m.hash(key)
	for f, v := range fields {
		h[f] = v
	}

	return nil
}

func (m *MemoryStore) HashSetNX(_ context.Context, key, field, value string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h := m.hash(key)
	if _, exists := h[field]; exists {
		return false, nil
	}

	h[field] = value

	return true, nil
}

func (m *MemoryStore) HashGetAll(_ context.Context, key string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]string, len(m.hashes[key]))
	for f, v := range m.hashes[key] {
		out[f] = v
	}

	return out, nil
}

func (m *MemoryStore) HashIncrement(_ context.Context, key, field string, delta int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h := m.hash(key)

	var current int64

	if raw, ok := h[field]; ok {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %s %s", ErrNotInteger, key, field)
		}

		current = n
	}

	current += delta
	h[field] = strconv.FormatInt(current, 10)

	return current, nil
}

func (m *MemoryStore) SetAdd(_ context.Context, key, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sets[key]
	if !ok {
		s = make(map[string]struct{})
		m.sets[key] = s
	}

	s[member] = struct{}{}

	return nil
}

// SetMembers is not part of Store; tests and tooling use it to inspect sets.
func (m *MemoryStore) SetMembers(key string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, len(m.sets[key]))
	for member := range m.sets[key] {
		out = append(out, member)
	}

	return out
}

func (m *MemoryStore) ListAppend(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lists[key] = append(m.lists[key], value)

	return nil
}

func (m *MemoryStore) ListRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := m.lists[key]

	from, to, ok := NormalizeRange(start, stop, int64(len(list)))
	if !ok {
		return []string{}, nil
	}

	out := make([]string, to-from+1)
	copy(out, list[from:to+1])

	return out, nil
}

func (*MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
