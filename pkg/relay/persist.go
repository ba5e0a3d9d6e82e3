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
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/carverauto/scanrelay/pkg/events"
	"github.com/carverauto/scanrelay/pkg/logger"
	"github.com/carverauto/scanrelay/pkg/metrics"
	"github.com/carverauto/scanrelay/pkg/models"
	"github.com/carverauto/scanrelay/pkg/store"
)

const (
	fieldSessionScans     = "current_session_scans"
	fieldLastConnected    = "last_connected"
	fieldLastDisconnected = "last_disconnected"

	timeLayout = "2006-01-02T15:04:05.000Z"
)

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// RecorderConfig tunes the persistence side of the relay.
type RecorderConfig struct {
	HistorySize int
	ReadTimeout time.Duration
}

// Recorder turns relay events into store writes and event exports. Writes
// go through the Writer so a slow or failing store never holds up the
// caller; only History reads synchronously, bounded by ReadTimeout.
type Recorder struct {
	writer  *store.Writer
	keys    store.Keys
	events  events.Publisher
	metrics *metrics.Relay
	logger  logger.Logger
	cfg     RecorderConfig
}

func NewRecorder(w *store.Writer, keys store.Keys, pub events.Publisher, m *metrics.Relay, log logger.Logger, cfg RecorderConfig) *Recorder {
	if pub == nil {
		pub = events.Noop{}
	}

	return &Recorder{
		writer:  w,
		keys:    keys,
		events:  pub,
		metrics: m,
		logger:  log,
		cfg:     cfg,
	}
}

func shardKey(channel, scannerID string) string {
	return channel + "/" + scannerID
}

func (r *Recorder) submit(shard, name string, op store.Op) {
	if err := r.writer.Submit(shard, name, op); errors.Is(err, store.ErrWriterClosed) {
		r.logger.Warn().Str("op", name).Str("shard_key", shard).Msg("Store writer closed, dropping write")
	}
}

// stringFields flattens scanner metadata into hash fields.
func stringFields(meta map[string]interface{}) map[string]string {
	fields := make(map[string]string, len(meta)+1)

	for k, v := range meta {
		switch value := v.(type) {
		case string:
			fields[k] = value
		case nil:
			fields[k] = ""
		default:
			encoded, err := json.Marshal(value)
			if err != nil {
				continue
			}

			fields[k] = string(encoded)
		}
	}

	return fields
}

// ScannerConnected stores the scanner's metadata, resets its session
// counter and adds it to the channel's scanner set.
func (r *Recorder) ScannerConnected(entry *ScannerEntry) {
	fields := stringFields(entry.Metadata)
	fields[fieldSessionScans] = "0"
	fields[fieldLastConnected] = formatTime(entry.ConnectedAt)

	scannerKey := r.keys.Scanner(entry.Channel, entry.ID)
	scannersKey := r.keys.Scanners(entry.Channel)
	id := entry.ID

	r.submit(shardKey(entry.Channel, entry.ID), "scanner_connected", func(ctx context.Context, s store.Store) error {
		if err := s.HashSet(ctx, scannerKey, fields); err != nil {
			return err
		}

		return s.SetAdd(ctx, scannersKey, id)
	})
}

// ScanAccepted persists rec: the packet-keyed copy (first write wins), the
// channel scan log and the session counter. payload is the encoded record.
func (r *Recorder) ScanAccepted(rec *models.ScanRecord, payload []byte) {
	value := string(payload)
	channel := rec.Channel
	shard := shardKey(channel, rec.ScannerID)
	packetsKey := r.keys.Packets(channel, rec.ScannerID)
	scansKey := r.keys.Scans(channel)
	scannerKey := r.keys.Scanner(channel, rec.ScannerID)

	r.submit(shard, "record_scan", func(ctx context.Context, s store.Store) error {
		var errs []error

		if rec.HasNum() {
			created, err := s.HashSetNX(ctx, packetsKey, strconv.FormatInt(*rec.Num, 10), value)
			if err != nil {
				errs = append(errs, err)
			} else if !created {
				r.metrics.ScanDeduplicated(channel)
			}
		}

		if err := s.ListAppend(ctx, scansKey, value); err != nil {
			errs = append(errs, err)
		}

		if _, err := s.HashIncrement(ctx, scannerKey, fieldSessionScans, 1); err != nil {
			errs = append(errs, err)
		}

		return errors.Join(errs...)
	})

	r.submit(shard, "publish_scan", func(ctx context.Context, _ store.Store) error {
		return r.events.PublishScan(ctx, rec)
	})
}

// SessionFinished appends the finished session to the scanner's history.
func (r *Recorder) SessionFinished(entry *models.SessionHistoryEntry) {
	payload, err := json.Marshal(entry)
	if err != nil {
		r.logger.Error().Err(err).Str("scanner_id", entry.UserID).Msg("Failed to encode session history")

		return
	}

	shard := shardKey(entry.Channel, entry.UserID)
	scannerKey := r.keys.Scanner(entry.Channel, entry.UserID)
	sessionsKey := r.keys.Sessions(entry.Channel, entry.UserID)
	disconnected := formatTime(entry.DisconnectedAt)

	r.submit(shard, "record_session", func(ctx context.Context, s store.Store) error {
		if err := s.HashSet(ctx, scannerKey, map[string]string{fieldLastDisconnected: disconnected}); err != nil {
			return err
		}

		return s.ListAppend(ctx, sessionsKey, string(payload))
	})

	r.submit(shard, "publish_session", func(ctx context.Context, _ store.Store) error {
		return r.events.PublishSession(ctx, entry)
	})
}

// History returns the most recent scans of channel, oldest first. Entries
// that are not valid JSON are skipped; a store failure yields no history.
func (r *Recorder) History(ctx context.Context, channel string) []json.RawMessage {
	if r.cfg.HistorySize <= 0 {
		return nil
	}

	if r.cfg.ReadTimeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, r.cfg.ReadTimeout)
		defer cancel()
	}

	items, err := r.writer.Store().ListRange(ctx, r.keys.Scans(channel), -int64(r.cfg.HistorySize), -1)
	if err != nil {
		r.logger.Error().Err(err).Str("channel", channel).Msg("Failed to load scan history")
		r.metrics.StoreFailed("list_range")

		return nil
	}

	scans := make([]json.RawMessage, 0, len(items))

	for _, item := range items {
		if !json.Valid([]byte(item)) {
			continue
		}

		scans = append(scans, json.RawMessage(item))
	}

	return scans
}
