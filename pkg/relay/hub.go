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

package relay

import (
	"time"

	"github.com/carverauto/scanrelay/pkg/geoip"
	"github.com/carverauto/scanrelay/pkg/logger"
	"github.com/carverauto/scanrelay/pkg/metrics"
	"github.com/carverauto/scanrelay/pkg/models"
)

const (
	reasonDisconnected = "disconnected"
	reasonSuperseded   = "superseded"
)

// Hub ties the channel registry, credential resolution, broadcasting and
// persistence together. Each connection gets its own Session from it.
type Hub struct {
	cfg         *models.RelayConfig
	registry    *Registry
	broadcaster *Broadcaster
	resolver    *CredentialResolver
	recorder    *Recorder
	metrics     *metrics.Relay
	geo         *geoip.Resolver
	logger      logger.Logger
	now         func() time.Time
}

type HubOption func(*Hub)

func WithMetrics(m *metrics.Relay) HubOption {
	return func(h *Hub) {
		h.metrics = m
	}
}

func WithGeoIP(r *geoip.Resolver) HubOption {
	return func(h *Hub) {
		h.geo = r
	}
}

func WithClock(now func() time.Time) HubOption {
	return func(h *Hub) {
		h.now = now
	}
}

func channelNames(cfg *models.RelayConfig) []string {
	names := make([]string, 0, len(cfg.Channels)+1)
	for _, ch := range cfg.Channels {
		names = append(names, ch.Name)
	}

	if cfg.DualPassword != nil {
		names = append(names, cfg.DualPassword.Channel)
	}

	return names
}

// NewHub builds the channel registry from cfg. cfg must be validated.
func NewHub(cfg *models.RelayConfig, recorder *Recorder, log logger.Logger, opts ...HubOption) *Hub {
	h := &Hub{
		cfg:      cfg,
		resolver: NewCredentialResolver(cfg),
		recorder: recorder,
		logger:   log,
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(h)
	}

	h.broadcaster = NewBroadcaster(log, h.metrics)
	h.registry = NewRegistry(channelNames(cfg), h.broadcaster)

	return h
}

func (h *Hub) Registry() *Registry {
	return h.registry
}

// NewSession starts the state machine for a freshly accepted connection.
func (h *Hub) NewSession(p Peer) *Session {
	log := logger.Wrap(h.logger.With().
		Str("conn_id", p.ID()).
		Str("remote_ip", p.RemoteIP()).
		Logger())

	return &Session{hub: h, peer: p, logger: log}
}

// finalize writes the session history of entry. It runs at most once per
// entry, whichever of close, prune or supersede gets there first.
func (h *Hub) finalize(entry *ScannerEntry, reason string) {
	if !entry.markFinalized() {
		return
	}

	device, _ := entry.Metadata["name"].(string)
	if device == "" {
		device = unknownDevice
	}

	h.recorder.SessionFinished(&models.SessionHistoryEntry{
		Channel:        entry.Channel,
		UserID:         entry.ID,
		ConnectedAt:    entry.ConnectedAt,
		DisconnectedAt: h.now(),
		Scans:          entry.Scans(),
		Device:         device,
		Reason:         reason,
	})
}
