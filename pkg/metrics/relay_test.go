package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/carverauto/scanrelay/pkg/models"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	totals := make(map[string]int64)

	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					totals[m.Name] += dp.Value
				}
			}
		}
	}

	return totals
}

func TestRelayInstruments(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	r, err := NewRelay(mp)
	require.NoError(t, err)

	r.ConnectionOpened()
	r.ConnectionOpened()
	r.ConnectionClosed()
	r.AuthFailed("invalid_credentials")
	r.ScanRelayed("ops")
	r.ScanRelayed("ops")
	r.ScanRelayed("dock")
	r.ScanDeduplicated("ops")
	r.ResendForwarded("ops")
	r.SendFailed()
	r.StoreFailed("list_append")
	r.ConnectionPruned()

	totals := collect(t, reader)

	assert.Equal(t, int64(1), totals["scanrelay.connections.active"])
	assert.Equal(t, int64(1), totals["scanrelay.auth.failures"])
	assert.Equal(t, int64(3), totals["scanrelay.scans.relayed"])
	assert.Equal(t, int64(1), totals["scanrelay.scans.deduplicated"])
	assert.Equal(t, int64(1), totals["scanrelay.resends.forwarded"])
	assert.Equal(t, int64(1), totals["scanrelay.sends.failed"])
	assert.Equal(t, int64(1), totals["scanrelay.store.failures"])
	assert.Equal(t, int64(1), totals["scanrelay.connections.pruned"])
}

func TestNilAndNoopRelay(t *testing.T) {
	var r *Relay

	assert.NotPanics(t, func() {
		r.ConnectionOpened()
		r.ScanRelayed("ops")
		r.StoreFailed("x")
	})

	assert.NotPanics(t, func() {
		NewNoop().ScanRelayed("ops")
	})
}

func TestInitializeMetrics_Disabled(t *testing.T) {
	_, err := InitializeMetrics(context.Background(), nil, "test")
	require.ErrorIs(t, err, ErrMetricsDisabled)

	_, err = InitializeMetrics(context.Background(), &models.MetricsConfig{Enabled: true}, "test")
	require.ErrorIs(t, err, ErrMetricsDisabled)
}
