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

package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/carverauto/scanrelay/pkg/events"
	"github.com/carverauto/scanrelay/pkg/logger"
	"github.com/carverauto/scanrelay/pkg/metrics"
	"github.com/carverauto/scanrelay/pkg/models"
	"github.com/carverauto/scanrelay/pkg/natsutil"
	"github.com/carverauto/scanrelay/pkg/store"
	"github.com/carverauto/scanrelay/pkg/store/natskv"
	"github.com/carverauto/scanrelay/pkg/store/postgres"
	"github.com/carverauto/scanrelay/pkg/store/sqlite"
)

var errUnsupportedBackend = errors.New("unsupported backend")

func openStore(ctx context.Context, cfg *models.StoreConfig, log logger.Logger) (store.Store, error) {
	switch cfg.Type {
	case models.StoreMemory:
		log.Warn().Msg("Using in-memory store; history does not survive restarts")

		return store.NewMemoryStore(), nil
	case models.StoreNATS:
		nc, err := natsutil.Connect(cfg.NATS, "scanrelay-store", log)
		if err != nil {
			return nil, err
		}

		s, err := natskv.New(ctx, nc, cfg.NATS.Bucket)
		if err != nil {
			nc.Close()

			return nil, err
		}

		return s, nil
	case models.StorePostgres:
		pool, err := postgres.NewPool(ctx, cfg.Postgres, log)
		if err != nil {
			return nil, err
		}

		if err := postgres.EnsureSchema(ctx, pool); err != nil {
			pool.Close()

			return nil, err
		}

		return postgres.New(pool), nil
	case models.StoreSQLite:
		return sqlite.Open(ctx, cfg.SQLite)
	default:
		return nil, fmt.Errorf("%w: store %s", errUnsupportedBackend, cfg.Type)
	}
}

func openPublisher(ctx context.Context, cfg *models.EventsConfig, log logger.Logger) (events.Publisher, error) {
	if cfg == nil || cfg.Type == "" {
		return events.Noop{}, nil
	}

	switch cfg.Type {
	case models.EventsNATS:
		nc, err := natsutil.Connect(cfg.NATS, "scanrelay-events", log)
		if err != nil {
			return nil, err
		}

		pub, err := events.NewJetStreamPublisher(ctx, nc, cfg.NATS, cfg.Source)
		if err != nil {
			nc.Close()

			return nil, err
		}

		return pub, nil
	case models.EventsPubSub:
		return events.NewPubSubPublisher(ctx, cfg.PubSub, cfg.Source)
	default:
		return nil, fmt.Errorf("%w: events %s", errUnsupportedBackend, cfg.Type)
	}
}

// setupMetrics returns no-op instruments when no OTLP endpoint is set.
func setupMetrics(ctx context.Context, cfg *models.MetricsConfig, log logger.Logger) (*metrics.Relay, func(), error) {
	provider, err := metrics.InitializeMetrics(ctx, cfg, version)
	if errors.Is(err, metrics.ErrMetricsDisabled) {
		return metrics.NewNoop(), func() {}, nil
	}

	if err != nil {
		return nil, nil, err
	}

	relayMetrics, err := metrics.NewRelay(provider)
	if err != nil {
		return nil, nil, err
	}

	shutdown := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := provider.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Failed to flush metrics")
		}
	}

	return relayMetrics, shutdown, nil
}
