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

//go:generate mockgen -destination=mock_store.go -package=store github.com/carverauto/scanrelay/pkg/store Store

import "context"

// Store is the durable key/value adapter the relay persists into. Hashes,
// sets and lists live in separate namespaces; a missing key reads as empty.
type Store interface {
	HashSet(ctx context.Context, key string, fields map[string]string) error
	// HashSetNX sets field only when it does not exist yet and reports
	// whether it was created.
	HashSetNX(ctx context.Context, key, field, value string) (bool, error)
	HashGetAll(ctx context.Context, key string) (map[string]string, error)
	HashIncrement(ctx context.Context, key, field string, delta int64) (int64, error)
	SetAdd(ctx context.Context, key, member string) error
	ListAppend(ctx context.Context, key, value string) error
	// ListRange returns the elements between start and stop inclusive.
	// Negative indexes count from the tail, -1 being the last element.
	ListRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	Close() error
}
