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
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/carverauto/scanrelay/pkg/logger"
)

var errTestStore = errors.New("store down")

func TestWriter_ShardOrdering(t *testing.T) {
	s := NewMemoryStore()
	w := NewWriter(s, WriterConfig{Workers: 4, QueueSize: 128, OpTimeout: time.Second}, logger.NewTestLogger())

	for i := 0; i < 100; i++ {
		value := fmt.Sprintf("%d", i)

		require.NoError(t, w.Submit("ops/dev-1", "list_append", func(ctx context.Context, st Store) error {
			return st.ListAppend(ctx, "list", value)
		}))
	}

	require.NoError(t, w.Close(context.Background()))

	got, err := s.ListRange(context.Background(), "list", 0, -1)
	require.NoError(t, err)
	require.Len(t, got, 100)

	for i, v := range got {
		assert.Equal(t, fmt.Sprintf("%d", i), v)
	}
}

func TestWriter_QueueFull(t *testing.T) {
	var (
		mu      sync.Mutex
		dropped []string
	)

	hook := func(op string, err error) {
		mu.Lock()
		defer mu.Unlock()

		if errors.Is(err, ErrQueueFull) {
			dropped = append(dropped, op)
		}
	}

	w := NewWriter(NewMemoryStore(), WriterConfig{Workers: 1, QueueSize: 1}, logger.NewTestLogger(), WithFailureHook(hook))

	started := make(chan struct{})
	release := make(chan struct{})

	require.NoError(t, w.Submit("k", "blocking", func(context.Context, Store) error {
		close(started)
		<-release

		return nil
	}))

	<-started

	require.NoError(t, w.Submit("k", "queued", func(context.Context, Store) error { return nil }))
	require.ErrorIs(t, w.Submit("k", "overflow", func(context.Context, Store) error { return nil }), ErrQueueFull)

	close(release)
	require.NoError(t, w.Close(context.Background()))

	mu.Lock()
	defer mu.Unlock()

	assert.Equal(t, []string{"overflow"}, dropped)
}

func TestWriter_FailuresAreReported(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockStore := NewMockStore(ctrl)
	mockStore.EXPECT().SetAdd(gomock.Any(), "set", "dev-1").Return(errTestStore)

	var failed []string

	w := NewWriter(mockStore, WriterConfig{Workers: 1, QueueSize: 4, OpTimeout: time.Second}, logger.NewTestLogger(),
		WithFailureHook(func(op string, err error) {
			if errors.Is(err, errTestStore) {
				failed = append(failed, op)
			}
		}))

	require.NoError(t, w.Submit("k", "set_add", func(ctx context.Context, st Store) error {
		return st.SetAdd(ctx, "set", "dev-1")
	}))

	require.NoError(t, w.Close(context.Background()))
	assert.Equal(t, []string{"set_add"}, failed)
}

func TestWriter_OpTimeout(t *testing.T) {
	w := NewWriter(NewMemoryStore(), WriterConfig{Workers: 1, QueueSize: 1, OpTimeout: 10 * time.Millisecond}, logger.NewTestLogger())

	deadline := make(chan bool, 1)

	require.NoError(t, w.Submit("k", "deadline", func(ctx context.Context, _ Store) error {
		_, ok := ctx.Deadline()
		deadline <- ok

		return nil
	}))

	require.NoError(t, w.Close(context.Background()))
	assert.True(t, <-deadline)
}

func TestWriter_SubmitAfterClose(t *testing.T) {
	w := NewWriter(NewMemoryStore(), WriterConfig{}, logger.NewTestLogger())
	require.NoError(t, w.Close(context.Background()))
	require.NoError(t, w.Close(context.Background()))

	err := w.Submit("k", "late", func(context.Context, Store) error { return nil })
	require.ErrorIs(t, err, ErrWriterClosed)
}
