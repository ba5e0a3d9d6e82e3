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
	"encoding/json"

	"github.com/carverauto/scanrelay/pkg/logger"
	"github.com/carverauto/scanrelay/pkg/metrics"
	"github.com/carverauto/scanrelay/pkg/models"
)

// Broadcaster encodes channel notifications once and fans them out to
// listeners. A failed send is logged and counted and never stops delivery
// to the remaining listeners.
type Broadcaster struct {
	logger  logger.Logger
	metrics *metrics.Relay
}

func NewBroadcaster(log logger.Logger, m *metrics.Relay) *Broadcaster {
	return &Broadcaster{logger: log, metrics: m}
}

func directoryMessage(snap Snapshot) OnlineDevices {
	return OnlineDevices{
		Type:        TypeOnlineDevices,
		Devices:     snap.Devices,
		MetadataMap: snap.Metadata,
	}
}

func (b *Broadcaster) DirectoryChanged(snap Snapshot) {
	b.fanOut(snap.Channel, TypeOnlineDevices, directoryMessage(snap), snap.listeners)
}

func (b *Broadcaster) ListenersChanged(snap Snapshot) {
	msg := ListenerCount{Type: TypeListenerCount, Count: snap.ListenerCount}

	b.fanOut(snap.Channel, TypeListenerCount, msg, snap.listeners)
}

func (b *Broadcaster) Welcome(snap Snapshot, p Peer) {
	b.fanOut(snap.Channel, TypeOnlineDevices, directoryMessage(snap), []Peer{p})
}

// Scan relays an accepted record to every listener of ch.
func (b *Broadcaster) Scan(ch *Channel, rec *models.ScanRecord) {
	b.fanOut(ch.Name(), TypeScan, ScanMessage{Type: TypeScan, ScanRecord: rec}, ch.Listeners())
}

func (b *Broadcaster) fanOut(channel, kind string, v interface{}, peers []Peer) {
	if len(peers) == 0 {
		return
	}

	payload, err := json.Marshal(v)
	if err != nil {
		b.logger.Error().Err(err).Str("channel", channel).Str("type", kind).Msg("Failed to encode broadcast")

		return
	}

	for _, p := range peers {
		if err := p.Send(payload); err != nil {
			b.logger.Warn().Err(err).
				Str("channel", channel).
				Str("type", kind).
				Str("conn_id", p.ID()).
				Msg("Failed to deliver broadcast")
			b.metrics.SendFailed()
		}
	}
}
