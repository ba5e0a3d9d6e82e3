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

import "errors"

var (
	// ErrNotInteger is returned by HashIncrement when the field holds a non-integer value.
	ErrNotInteger = errors.New("hash value is not an integer")
	// ErrQueueFull is reported when a writer shard cannot accept more jobs.
	ErrQueueFull = errors.New("store writer queue full")
	// ErrWriterClosed is returned by Submit after Close.
	ErrWriterClosed = errors.New("store writer closed")
)
