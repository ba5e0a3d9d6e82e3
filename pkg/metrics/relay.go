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

// Package metrics holds the relay's OpenTelemetry instruments and the OTLP
// meter provider bootstrap.
package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "github.com/carverauto/scanrelay/pkg/relay"

// Relay records relay activity. A nil *Relay records nothing.
type Relay struct {
	connections       metric.Int64UpDownCounter
	authFailures      metric.Int64Counter
	scansRelayed      metric.Int64Counter
	scansDeduplicated metric.Int64Counter
	resendsForwarded  metric.Int64Counter
	sendsFailed       metric.Int64Counter
	storeFailures     metric.Int64Counter
	connectionsPruned metric.Int64Counter
}

// NewRelay registers the relay instruments on mp.
func NewRelay(mp metric.MeterProvider) (*Relay, error) {
	m := mp.Meter(meterName)
	r := &Relay{}

	var err error

	if r.connections, err = m.Int64UpDownCounter("scanrelay.connections.active",
		metric.WithDescription("Open persistent connections")); err != nil {
		return nil, fmt.Errorf("connections.active: %w", err)
	}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&r.authFailures, "scanrelay.auth.failures", "Rejected authentication attempts"},
		{&r.scansRelayed, "scanrelay.scans.relayed", "Scans accepted and fanned out to listeners"},
		{&r.scansDeduplicated, "scanrelay.scans.deduplicated", "Numbered scans whose packet was already stored"},
		{&r.resendsForwarded, "scanrelay.resends.forwarded", "Resend requests forwarded to a scanner"},
		{&r.sendsFailed, "scanrelay.sends.failed", "Messages that could not be queued to a connection"},
		{&r.storeFailures, "scanrelay.store.failures", "Store operations that failed or were dropped"},
		{&r.connectionsPruned, "scanrelay.connections.pruned", "Connections closed by the liveness sweep"},
	}

	for _, c := range counters {
		if *c.dst, err = m.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, fmt.Errorf("%s: %w", c.name, err)
		}
	}

	return r, nil
}

// NewNoop returns instruments backed by the no-op provider.
func NewNoop() *Relay {
	r, _ := NewRelay(noop.NewMeterProvider())

	return r
}

func channelAttr(channel string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("channel", channel))
}

func (r *Relay) ConnectionOpened() {
	if r != nil {
		r.connections.Add(context.Background(), 1)
	}
}

func (r *Relay) ConnectionClosed() {
	if r != nil {
		r.connections.Add(context.Background(), -1)
	}
}

func (r *Relay) AuthFailed(reason string) {
	if r != nil {
		r.authFailures.Add(context.Background(), 1, metric.WithAttributes(attribute.String("reason", reason)))
	}
}

func (r *Relay) ScanRelayed(channel string) {
	if r != nil {
		r.scansRelayed.Add(context.Background(), 1, channelAttr(channel))
	}
}

func (r *Relay) ScanDeduplicated(channel string) {
	if r != nil {
		r.scansDeduplicated.Add(context.Background(), 1, channelAttr(channel))
	}
}

func (r *Relay) ResendForwarded(channel string) {
	if r != nil {
		r.resendsForwarded.Add(context.Background(), 1, channelAttr(channel))
	}
}

func (r *Relay) SendFailed() {
	if r != nil {
		r.sendsFailed.Add(context.Background(), 1)
	}
}

func (r *Relay) StoreFailed(op string) {
	if r != nil {
		r.storeFailures.Add(context.Background(), 1, metric.WithAttributes(attribute.String("op", op)))
	}
}

func (r *Relay) ConnectionPruned() {
	if r != nil {
		r.connectionsPruned.Add(context.Background(), 1)
	}
}
