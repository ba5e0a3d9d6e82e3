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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/carverauto/scanrelay/pkg/logger"
	"github.com/carverauto/scanrelay/pkg/models"
	"github.com/carverauto/scanrelay/pkg/store"
)

var testNow = time.Date(2025, 3, 14, 9, 26, 53, 589_000_000, time.UTC)

type fakePeer struct {
	id string
	ip string

	mu         sync.Mutex
	msgs       []map[string]interface{}
	full       bool
	terminated bool
}

func newFakePeer(id, ip string) *fakePeer {
	return &fakePeer{id: id, ip: ip}
}

func (p *fakePeer) ID() string       { return p.id }
func (p *fakePeer) RemoteIP() string { return p.ip }

func (p *fakePeer) Send(msg []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.terminated {
		return ErrPeerClosed
	}

	if p.full {
		return ErrSendBufferFull
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(msg, &decoded); err != nil {
		return err
	}

	p.msgs = append(p.msgs, decoded)

	return nil
}

func (p *fakePeer) Terminate() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.terminated = true
}

func (p *fakePeer) isTerminated() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.terminated
}

func (p *fakePeer) messages() []map[string]interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]map[string]interface{}(nil), p.msgs...)
}

func (p *fakePeer) types() []string {
	msgs := p.messages()

	types := make([]string, 0, len(msgs))
	for _, m := range msgs {
		types = append(types, m["type"].(string))
	}

	return types
}

func (p *fakePeer) ofType(typ string) []map[string]interface{} {
	var out []map[string]interface{}

	for _, m := range p.messages() {
		if m["type"] == typ {
			out = append(out, m)
		}
	}

	return out
}

func (p *fakePeer) last(typ string) map[string]interface{} {
	msgs := p.ofType(typ)
	if len(msgs) == 0 {
		return nil
	}

	return msgs[len(msgs)-1]
}

func (p *fakePeer) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.msgs = nil
}

type testEnv struct {
	cfg    *models.RelayConfig
	hub    *Hub
	mem    *store.MemoryStore
	writer *store.Writer
	keys   store.Keys
}

func testConfig(mutate ...func(*models.RelayConfig)) *models.RelayConfig {
	cfg := &models.RelayConfig{
		ListenAddr: "127.0.0.1:0",
		Channels: []models.ChannelConfig{
			{Name: "ops", Password: "secret1"},
			{Name: "lab", Password: "secret2", ListenerPassword: "watch2"},
		},
	}

	for _, m := range mutate {
		m(cfg)
	}

	return cfg
}

func newTestEnvWithStore(t *testing.T, s store.Store, mutate ...func(*models.RelayConfig)) *testEnv {
	t.Helper()

	cfg := testConfig(mutate...)
	require.NoError(t, cfg.Validate())

	log := logger.NewTestLogger()
	keys := store.NewKeys("test")
	w := store.NewWriter(s, store.WriterConfig{Workers: 2, QueueSize: 256, OpTimeout: time.Second}, log)

	rec := NewRecorder(w, keys, nil, nil, log, RecorderConfig{HistorySize: cfg.HistorySize, ReadTimeout: time.Second})
	hub := NewHub(cfg, rec, log, WithClock(func() time.Time { return testNow }))

	env := &testEnv{cfg: cfg, hub: hub, writer: w, keys: keys}
	if mem, ok := s.(*store.MemoryStore); ok {
		env.mem = mem
	}

	return env
}

func newTestEnv(t *testing.T, mutate ...func(*models.RelayConfig)) *testEnv {
	t.Helper()

	return newTestEnvWithStore(t, store.NewMemoryStore(), mutate...)
}

// flush drains pending writes. The writer accepts nothing afterwards.
func (e *testEnv) flush(t *testing.T) {
	t.Helper()

	require.NoError(t, e.writer.Close(context.Background()))
}

func (e *testEnv) list(t *testing.T, key string) []string {
	t.Helper()

	items, err := e.mem.ListRange(context.Background(), key, 0, -1)
	require.NoError(t, err)

	return items
}

func (e *testEnv) sessions(t *testing.T, channel, scannerID string) []models.SessionHistoryEntry {
	t.Helper()

	var out []models.SessionHistoryEntry

	for _, item := range e.list(t, e.keys.Sessions(channel, scannerID)) {
		var entry models.SessionHistoryEntry
		require.NoError(t, json.Unmarshal([]byte(item), &entry))

		out = append(out, entry)
	}

	return out
}

func handle(t *testing.T, s *Session, v map[string]interface{}) {
	t.Helper()

	raw, err := json.Marshal(v)
	require.NoError(t, err)

	s.Handle(context.Background(), raw)
}

func (e *testEnv) scanner(t *testing.T, connID, scannerID, ip string) (*fakePeer, *Session) {
	t.Helper()

	p := newFakePeer(connID, ip)
	s := e.hub.NewSession(p)

	handle(t, s, map[string]interface{}{
		"type":      "auth",
		"channel":   "ops",
		"password":  "secret1",
		"scannerId": scannerID,
		"metadata":  map[string]interface{}{"device": "Zebra " + scannerID},
	})

	require.Equal(t, StateScanner, s.State())

	return p, s
}

func (e *testEnv) listener(t *testing.T, connID, channel, password string) (*fakePeer, *Session) {
	t.Helper()

	p := newFakePeer(connID, "192.0.2.10")
	s := e.hub.NewSession(p)

	handle(t, s, map[string]interface{}{
		"type":     "auth",
		"channel":  channel,
		"password": password,
		"role":     "listener",
	})

	require.Equal(t, StateListener, s.State())

	return p, s
}

func scan(data string, num interface{}) map[string]interface{} {
	m := map[string]interface{}{"type": "scan", "data": data}
	if num != nil {
		m["num"] = num
	}

	return m
}
