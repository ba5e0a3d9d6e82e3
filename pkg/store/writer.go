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
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/carverauto/scanrelay/pkg/logger"
)

// Op is one unit of persistence work executed by a Writer.
type Op func(ctx context.Context, s Store) error

// FailureHook is told about every dropped or failed op.
type FailureHook func(op string, err error)

type job struct {
	name string
	run  Op
}

// WriterConfig sizes the Writer.
type WriterConfig struct {
	Workers   int
	QueueSize int
	OpTimeout time.Duration
}

// Writer executes store operations off the caller's goroutine. Ops sharing
// a shard key run in submission order on the same worker; Submit never
// blocks and drops the op when that worker's queue is full.
type Writer struct {
	store     Store
	logger    logger.Logger
	timeout   time.Duration
	onFailure FailureHook

	mu     sync.RWMutex
	closed bool
	shards []chan job
	wg     sync.WaitGroup
}

type WriterOption func(*Writer)

func WithFailureHook(hook FailureHook) WriterOption {
	return func(w *Writer) {
		w.onFailure = hook
	}
}

func NewWriter(s Store, cfg WriterConfig, log logger.Logger, opts ...WriterOption) *Writer {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}

	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1
	}

	w := &Writer{
		store:   s,
		logger:  log,
		timeout: cfg.OpTimeout,
		shards:  make([]chan job, cfg.Workers),
	}

	for _, opt := range opts {
		opt(w)
	}

	for i := range w.shards {
		w.shards[i] = make(chan job, cfg.QueueSize)

		w.wg.Add(1)

		go w.work(w.shards[i])
	}

	return w
}

// Store returns the backend the writer persists into, for synchronous reads.
func (w *Writer) Store() Store {
	return w.store
}

// Submit queues op on the shard selected by shardKey.
func (w *Writer) Submit(shardKey, name string, op Op) error {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed {
		return ErrWriterClosed
	}

	shard := w.shards[xxhash.Sum64String(shardKey)%uint64(len(w.shards))]

	select {
	case shard <- job{name: name, run: op}:
		return nil
	default:
		w.logger.Warn().Str("op", name).Str("shard_key", shardKey).Msg("Store queue full, dropping write")
		w.fail(name, ErrQueueFull)

		return ErrQueueFull
	}
}

func (w *Writer) work(queue <-chan job) {
	defer w.wg.Done()

	for j := range queue {
		w.execute(j)
	}
}

func (w *Writer) execute(j job) {
	ctx := context.Background()

	if w.timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	if err := j.run(ctx, w.store); err != nil {
		w.logger.Error().Err(err).Str("op", j.name).Msg("Store operation failed")
		w.fail(j.name, err)
	}
}

func (w *Writer) fail(name string, err error) {
	if w.onFailure != nil {
		w.onFailure(name, err)
	}
}

// Close stops accepting ops and waits for queued ones to finish, or for ctx.
func (w *Writer) Close(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()

		return nil
	}

	w.closed = true

	for _, shard := range w.shards {
		close(shard)
	}
	w.mu.Unlock()

	done := make(chan struct{})

	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
