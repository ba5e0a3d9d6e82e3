package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/scanrelay/pkg/models"
	"github.com/carverauto/scanrelay/pkg/store"
	"github.com/carverauto/scanrelay/pkg/store/storetest"
)

func openTestStore(t *testing.T, path string) *Store {
	t.Helper()

	s, err := Open(context.Background(), &models.SQLiteConfig{
		Path:        path,
		BusyTimeout: models.Duration(time.Second),
	})
	require.NoError(t, err)

	t.Cleanup(func() { _ = s.Close() })

	return s
}

func TestStoreConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return openTestStore(t, filepath.Join(t.TempDir(), "relay.db"))
	})
}

func TestStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.db")
	ctx := context.Background()

	first, err := Open(ctx, &models.SQLiteConfig{Path: path, BusyTimeout: models.Duration(time.Second)})
	require.NoError(t, err)

	require.NoError(t, first.ListAppend(ctx, "scans", "a"))
	require.NoError(t, first.HashSet(ctx, "scanner", map[string]string{"name": "Dock"}))
	require.NoError(t, first.Close())

	second := openTestStore(t, path)

	scans, err := second.ListRange(ctx, "scans", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, scans)

	got, err := second.HashGetAll(ctx, "scanner")
	require.NoError(t, err)
	assert.Equal(t, "Dock", got["name"])
}
