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
	"context"
	"sync"
	"time"

	"github.com/carverauto/scanrelay/pkg/logger"
	"github.com/carverauto/scanrelay/pkg/metrics"
)

// Probe is a connection the liveness monitor can check.
type Probe interface {
	ID() string
	// Responded reports whether the probe answered since the last call
	// and resets the flag to pending.
	Responded() bool
	Ping() error
	Terminate()
}

// Monitor prunes connections that miss a liveness round. A connection that
// stops answering is terminated within two intervals.
type Monitor struct {
	interval time.Duration
	logger   logger.Logger
	metrics  *metrics.Relay

	mu     sync.Mutex
	probes map[string]Probe
}

func NewMonitor(interval time.Duration, log logger.Logger, m *metrics.Relay) *Monitor {
	return &Monitor{
		interval: interval,
		logger:   log,
		metrics:  m,
		probes:   make(map[string]Probe),
	}
}

func (m *Monitor) Track(p Probe) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.probes[p.ID()] = p
}

func (m *Monitor) Untrack(p Probe) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cur, ok := m.probes[p.ID()]; ok && cur == p {
		delete(m.probes, p.ID())
	}
}

func (m *Monitor) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.probes)
}

// Start runs sweeps every interval until ctx is done.
func (m *Monitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *Monitor) snapshot() []Probe {
	m.mu.Lock()
	defer m.mu.Unlock()

	probes := make([]Probe, 0, len(m.probes))
	for _, p := range m.probes {
		probes = append(probes, p)
	}

	return probes
}

func (m *Monitor) sweep() {
	for _, p := range m.snapshot() {
		if !p.Responded() {
			m.logger.Info().Str("conn_id", p.ID()).Msg("Connection missed liveness probe, terminating")
			m.Untrack(p)
			m.metrics.ConnectionPruned()
			p.Terminate()

			continue
		}

		if err := p.Ping(); err != nil {
			m.logger.Debug().Err(err).Str("conn_id", p.ID()).Msg("Failed to send liveness probe")
		}
	}
}

// TerminateAll closes every tracked connection.
func (m *Monitor) TerminateAll() {
	for _, p := range m.snapshot() {
		m.Untrack(p)
		p.Terminate()
	}
}
