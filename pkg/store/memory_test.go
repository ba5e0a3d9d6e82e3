package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeRange(t *testing.T) {
	tests := []struct {
		name        string
		start, stop int64
		length      int64
		from, to    int64
		ok          bool
	}{
		{name: "whole_list", start: 0, stop: -1, length: 5, from: 0, to: 4, ok: true},
		{name: "tail", start: -2, stop: -1, length: 5, from: 3, to: 4, ok: true},
		{name: "tail_longer_than_list", start: -50, stop: -1, length: 3, from: 0, to: 2, ok: true},
		{name: "stop_past_end", start: 1, stop: 100, length: 3, from: 1, to: 2, ok: true},
		{name: "start_past_end", start: 5, stop: 10, length: 3},
		{name: "inverted", start: 2, stop: 1, length: 3},
		{name: "empty_list", start: 0, stop: -1, length: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			from, to, ok := NormalizeRange(tt.start, tt.stop, tt.length)
			assert.Equal(t, tt.ok, ok)

			if tt.ok {
				assert.Equal(t, tt.from, from)
				assert.Equal(t, tt.to, to)
			}
		})
	}
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()

	t.Run("hash_set_and_get", func(t *testing.T) {
		s := NewMemoryStore()

		require.NoError(t, s.HashSet(ctx, "h", map[string]string{"a": "1", "b": "2"}))
		require.NoError(t, s.HashSet(ctx, "h", map[string]string{"b": "3"}))

		got, err := s.HashGetAll(ctx, "h")
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"a": "1", "b": "3"}, got)

		missing, err := s.HashGetAll(ctx, "nope")
		require.NoError(t, err)
		assert.Empty(t, missing)
	})

	t.Run("hash_set_nx", func(t *testing.T) {
		s := NewMemoryStore()

		created, err := s.HashSetNX(ctx, "packets", "7", "first")
		require.NoError(t, err)
		assert.True(t, created)

		created, err = s.HashSetNX(ctx, "packets", "7", "second")
		require.NoError(t, err)
		assert.False(t, created)

		got, _ := s.HashGetAll(ctx, "packets")
		assert.Equal(t, "first", got["7"])
	})

	t.Run("hash_increment", func(t *testing.T) {
		s := NewMemoryStore()

		n, err := s.HashIncrement(ctx, "h", "count", 1)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		n, err = s.HashIncrement(ctx, "h", "count", 4)
		require.NoError(t, err)
		assert.Equal(t, int64(5), n)

		require.NoError(t, s.HashSet(ctx, "h", map[string]string{"name": "dock"}))
		_, err = s.HashIncrement(ctx, "h", "name", 1)
		require.ErrorIs(t, err, ErrNotInteger)
	})

	t.Run("set_add", func(t *testing.T) {
		s := NewMemoryStore()

		require.NoError(t, s.SetAdd(ctx, "set", "dev-1"))
		require.NoError(t, s.SetAdd(ctx, "set", "dev-1"))
		require.NoError(t, s.SetAdd(ctx, "set", "dev-2"))

		assert.ElementsMatch(t, []string{"dev-1", "dev-2"}, s.SetMembers("set"))
	})

	t.Run("list_append_and_range", func(t *testing.T) {
		s := NewMemoryStore()

		for _, v := range []string{"a", "b", "c", "d"} {
			require.NoError(t, s.ListAppend(ctx, "list", v))
		}

		got, err := s.ListRange(ctx, "list", -2, -1)
		require.NoError(t, err)
		assert.Equal(t, []string{"c", "d"}, got)

		got, err = s.ListRange(ctx, "list", -50, -1)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c", "d"}, got)

		got, err = s.ListRange(ctx, "empty", 0, -1)
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestKeys(t *testing.T) {
	k := NewKeys("relay:")

	assert.Equal(t, "relay:channel:ops:scans", k.Scans("ops"))
	assert.Equal(t, "relay:channel:ops:scanners", k.Scanners("ops"))
	assert.Equal(t, "relay:channel:ops:scanner:dev-1", k.Scanner("ops", "dev-1"))
	assert.Equal(t, "relay:channel:ops:scanner:dev-1:packets", k.Packets("ops", "dev-1"))
	assert.Equal(t, "relay:channel:ops:scanner:dev-1:sessions", k.Sessions("ops", "dev-1"))
}
