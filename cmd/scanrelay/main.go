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
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/carverauto/scanrelay/pkg/config"
	"github.com/carverauto/scanrelay/pkg/geoip"
	"github.com/carverauto/scanrelay/pkg/logger"
	"github.com/carverauto/scanrelay/pkg/models"
	"github.com/carverauto/scanrelay/pkg/relay"
	"github.com/carverauto/scanrelay/pkg/store"
)

const (
	serviceName     = "scanrelay"
	shutdownTimeout = 10 * time.Second
)

var (
	version = "dev"

	errFailedToLoadConfig = errors.New("failed to load config")
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	configPath := flag.String("config", "/etc/scanrelay/scanrelay.json", "Path to relay config file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cfg models.RelayConfig

	if err := config.NewConfig(nil).LoadAndValidate(ctx, *configPath, &cfg); err != nil {
		return fmt.Errorf("%w: %w", errFailedToLoadConfig, err)
	}

	relayLogger, otelWriter, err := logger.Setup(ctx, cfg.Logging, version)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		_ = otelWriter.Shutdown(shutdownCtx)
	}()

	var otelCfg *logger.OTelConfig
	if cfg.Logging != nil {
		otelCfg = cfg.Logging.OTel
	}

	tp, err := logger.InitializeTracing(ctx, logger.TracingConfig{
		ServiceName:    serviceName,
		ServiceVersion: version,
		OTel:           otelCfg,
	})
	if err != nil {
		return err
	}

	defer func() { _ = tp.Shutdown(context.Background()) }()

	relayMetrics, shutdownMetrics, err := setupMetrics(ctx, cfg.Metrics, relayLogger)
	if err != nil {
		return err
	}

	defer shutdownMetrics()

	backend, err := openStore(ctx, &cfg.Store, relayLogger)
	if err != nil {
		return err
	}

	defer func() {
		if err := backend.Close(); err != nil {
			relayLogger.Warn().Err(err).Msg("Failed to close store")
		}
	}()

	publisher, err := openPublisher(ctx, cfg.Events, relayLogger)
	if err != nil {
		return err
	}

	defer func() {
		if err := publisher.Close(); err != nil {
			relayLogger.Warn().Err(err).Msg("Failed to close event publisher")
		}
	}()

	var geo *geoip.Resolver

	if cfg.GeoIPDatabase != "" {
		geo, err = geoip.Open(cfg.GeoIPDatabase)
		if err != nil {
			return err
		}

		defer func() { _ = geo.Close() }()
	}

	writer := store.NewWriter(backend, store.WriterConfig{
		Workers:   cfg.Store.Workers,
		QueueSize: cfg.Store.QueueSize,
		OpTimeout: cfg.Store.OpTimeout.Std(),
	}, relayLogger.WithComponent("store"), store.WithFailureHook(func(op string, _ error) {
		relayMetrics.StoreFailed(op)
	}))

	recorder := relay.NewRecorder(
		writer,
		store.NewKeys(cfg.Store.KeyPrefix),
		publisher,
		relayMetrics,
		relayLogger.WithComponent("recorder"),
		relay.RecorderConfig{HistorySize: cfg.HistorySize, ReadTimeout: cfg.Store.OpTimeout.Std()},
	)

	hub := relay.NewHub(&cfg, recorder, relayLogger.WithComponent("relay"),
		relay.WithMetrics(relayMetrics),
		relay.WithGeoIP(geo),
	)

	relayLogger.Info().
		Str("version", version).
		Strs("channels", hub.Registry().Names()).
		Str("store", cfg.Store.Type).
		Msg("Starting scanrelay")

	runErr := relay.NewServer(&cfg, hub, relayLogger.WithComponent("server"), relayMetrics).Run(ctx)

	drainCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := writer.Close(drainCtx); err != nil {
		relayLogger.Warn().Err(err).Msg("Store writer did not drain before shutdown")
	}

	return runErr
}
