// Package storetest holds the behaviour every store backend must share.
package storetest

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/scanrelay/pkg/store"
)

// Run exercises a fresh store returned by newStore.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Helper()

	t.Run("hash_round_trip", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.HashSet(ctx, "h", map[string]string{"a": "1", "b": "2"}))
		require.NoError(t, s.HashSet(ctx, "h", map[string]string{"b": "3"}))

		got, err := s.HashGetAll(ctx, "h")
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"a": "1", "b": "3"}, got)

		missing, err := s.HashGetAll(ctx, "absent")
		require.NoError(t, err)
		assert.Empty(t, missing)
	})

	t.Run("hash_set_nx_writes_once", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		created, err := s.HashSetNX(ctx, "packets", "7", "first")
		require.NoError(t, err)
		assert.True(t, created)

		created, err = s.HashSetNX(ctx, "packets", "7", "second")
		require.NoError(t, err)
		assert.False(t, created)

		got, err := s.HashGetAll(ctx, "packets")
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"7": "first"}, got)
	})

	t.Run("hash_increment", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		n, err := s.HashIncrement(ctx, "h", "count", 1)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		n, err = s.HashIncrement(ctx, "h", "count", 5)
		require.NoError(t, err)
		assert.Equal(t, int64(6), n)

		require.NoError(t, s.HashSet(ctx, "h", map[string]string{"count": "0"}))

		n, err = s.HashIncrement(ctx, "h", "count", 1)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		require.NoError(t, s.HashSet(ctx, "h", map[string]string{"name": "dock"}))

		_, err = s.HashIncrement(ctx, "h", "name", 1)
		require.ErrorIs(t, err, store.ErrNotInteger)
	})

	t.Run("set_add_is_idempotent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.SetAdd(ctx, "set", "dev-1"))
		require.NoError(t, s.SetAdd(ctx, "set", "dev-1"))
	})

	t.Run("list_range", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		for i := 0; i < 5; i++ {
			require.NoError(t, s.ListAppend(ctx, "list", fmt.Sprintf("v%d", i)))
		}

		cases := []struct {
			start, stop int64
			want        []string
		}{
			{0, -1, []string{"v0", "v1", "v2", "v3", "v4"}},
			{-2, -1, []string{"v3", "v4"}},
			{-50, -1, []string{"v0", "v1", "v2", "v3", "v4"}},
			{1, 2, []string{"v1", "v2"}},
			{3, 100, []string{"v3", "v4"}},
			{5, 10, []string{}},
			{3, 1, []string{}},
		}

		for _, c := range cases {
			got, err := s.ListRange(ctx, "list", c.start, c.stop)
			require.NoError(t, err)
			assert.Equal(t, c.want, got, "range %d..%d", c.start, c.stop)
		}

		empty, err := s.ListRange(ctx, "absent", 0, -1)
		require.NoError(t, err)
		assert.Empty(t, empty)
	})
}
