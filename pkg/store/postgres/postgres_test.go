package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/scanrelay/pkg/logger"
	"github.com/carverauto/scanrelay/pkg/models"
	"github.com/carverauto/scanrelay/pkg/store"
	"github.com/carverauto/scanrelay/pkg/store/storetest"
)

// Tests run against a real database named by SCANRELAY_TEST_DATABASE_URL.
// Each subtest gets its own key namespace through a prefixing wrapper.
func TestStoreConformance(t *testing.T) {
	url := os.Getenv("SCANRELAY_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("SCANRELAY_TEST_DATABASE_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := NewPool(ctx, &models.PostgresConfig{URL: url, MaxConns: 4}, logger.NewTestLogger())
	require.NoError(t, err)

	s := New(pool)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, EnsureSchema(ctx, pool))

	storetest.Run(t, func(*testing.T) store.Store {
		return &prefixed{Store: s, prefix: uuid.NewString() + ":"}
	})
}

type prefixed struct {
	*Store
	prefix string
}

func (p *prefixed) HashSet(ctx context.Context, key string, fields map[string]string) error {
	return p.Store.HashSet(ctx, p.prefix+key, fields)
}

func (p *prefixed) HashSetNX(ctx context.Context, key, field, value string) (bool, error) {
	return p.Store.HashSetNX(ctx, p.prefix+key, field, value)
}

func (p *prefixed) HashGetAll(ctx context.Context, key string) (map[string]string, error) {
	return p.Store.HashGetAll(ctx, p.prefix+key)
}

func (p *prefixed) HashIncrement(ctx context.Context, key, field string, delta int64) (int64, error) {
	return p.Store.HashIncrement(ctx, p.prefix+key, field, delta)
}

func (p *prefixed) SetAdd(ctx context.Context, key, member string) error {
	return p.Store.SetAdd(ctx, p.prefix+key, member)
}

func (p *prefixed) ListAppend(ctx context.Context, key, value string) error {
	return p.Store.ListAppend(ctx, p.prefix+key, value)
}

func (p *prefixed) ListRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return p.Store.ListRange(ctx, p.prefix+key, start, stop)
}

func (*prefixed) Close() error {
	return nil
}
