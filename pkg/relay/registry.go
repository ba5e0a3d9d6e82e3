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
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Peer is what the relay needs from a live connection.
type Peer interface {
	ID() string
	RemoteIP() string
	// Send enqueues an encoded message without blocking.
	Send(msg []byte) error
	Terminate()
}

// Notifier receives the channel-scoped fan-out triggered by registry
// mutations. It is called with the channel lock held and must not block.
type Notifier interface {
	DirectoryChanged(snap Snapshot)
	ListenersChanged(snap Snapshot)
	// Welcome sends the current directory to a listener that just joined.
	Welcome(snap Snapshot, p Peer)
}

// ScannerEntry is one live scanner session inside a channel.
type ScannerEntry struct {
	ID          string
	Channel     string
	Peer        Peer
	Metadata    map[string]interface{}
	ConnectedAt time.Time

	scans     atomic.Int64
	finalized atomic.Bool
}

// Scans returns the number of scans accepted during this session.
func (e *ScannerEntry) Scans() int64 {
	return e.scans.Load()
}

// markFinalized reports true exactly once per entry.
func (e *ScannerEntry) markFinalized() bool {
	return e.finalized.CompareAndSwap(false, true)
}

// Snapshot is a point-in-time view of a channel.
type Snapshot struct {
	Channel       string
	Devices       []string
	Metadata      map[string]map[string]interface{}
	ListenerCount int

	listeners []Peer
}

// Channel holds the live scanners and listeners of one channel.
type Channel struct {
	name     string
	notifier Notifier

	mu        sync.Mutex
	scanners  map[string]*ScannerEntry
	listeners map[string]Peer
}

func newChannel(name string, notifier Notifier) *Channel {
	return &Channel{
		name:      name,
		notifier:  notifier,
		scanners:  make(map[string]*ScannerEntry),
		listeners: make(map[string]Peer),
	}
}

func (c *Channel) Name() string {
	return c.name
}

// AddScanner registers entry and returns the entry it superseded, if any.
func (c *Channel) AddScanner(entry *ScannerEntry) *ScannerEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.scanners[entry.ID]
	c.scanners[entry.ID] = entry

	c.notifier.DirectoryChanged(c.snapshotLocked())

	return prev
}

// RemoveScanner removes entry if it is still the live entry for its
// identity. Removing a superseded or absent entry is a no-op.
func (c *Channel) RemoveScanner(entry *ScannerEntry) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cur, ok := c.scanners[entry.ID]; !ok || cur != entry {
		return false
	}

	delete(c.scanners, entry.ID)

	c.notifier.DirectoryChanged(c.snapshotLocked())

	return true
}

func (c *Channel) AddListener(p Peer) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.listeners[p.ID()] = p

	snap := c.snapshotLocked()
	c.notifier.Welcome(snap, p)
	c.notifier.ListenersChanged(snap)
}

func (c *Channel) RemoveListener(p Peer) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.listeners[p.ID()]; !ok {
		return false
	}

	delete(c.listeners, p.ID())

	c.notifier.ListenersChanged(c.snapshotLocked())

	return true
}

func (c *Channel) LookupScanner(id string) (*ScannerEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.scanners[id]

	return entry, ok
}

// Holds reports whether entry is still the live entry for its identity.
func (c *Channel) Holds(entry *ScannerEntry) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.scanners[entry.ID] == entry
}

// FindScannerByIP returns the live scanner whose recorded ip matches.
// When several match, the lowest identity wins.
func (c *Channel) FindScannerByIP(ip string) (*ScannerEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var found *ScannerEntry

	for id, entry := range c.scanners {
		if entryIP, _ := entry.Metadata["ip"].(string); entryIP != ip {
			continue
		}

		if found == nil || id < found.ID {
			found = entry
		}
	}

	return found, found != nil
}

// Listeners returns a copy of the current listener set.
func (c *Channel) Listeners() []Peer {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.listenersLocked()
}

func (c *Channel) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.snapshotLocked()
}

func (c *Channel) listenersLocked() []Peer {
	peers := make([]Peer, 0, len(c.listeners))
	for _, p := range c.listeners {
		peers = append(peers, p)
	}

	return peers
}

func (c *Channel) snapshotLocked() Snapshot {
	snap := Snapshot{
		Channel:       c.name,
		Devices:       make([]string, 0, len(c.scanners)),
		Metadata:      make(map[string]map[string]interface{}, len(c.scanners)),
		ListenerCount: len(c.listeners),
		listeners:     c.listenersLocked(),
	}

	for id, entry := range c.scanners {
		snap.Devices = append(snap.Devices, id)

		meta := make(map[string]interface{}, len(entry.Metadata))
		for k, v := range entry.Metadata {
			meta[k] = v
		}

		snap.Metadata[id] = meta
	}

	sort.Strings(snap.Devices)

	return snap
}

// Registry is the fixed set of channels known at startup.
type Registry struct {
	channels map[string]*Channel
}

func NewRegistry(names []string, notifier Notifier) *Registry {
	r := &Registry{channels: make(map[string]*Channel, len(names))}

	for _, name := range names {
		if _, ok := r.channels[name]; !ok {
			r.channels[name] = newChannel(name, notifier)
		}
	}

	return r
}

func (r *Registry) Channel(name string) (*Channel, bool) {
	ch, ok := r.channels[name]

	return ch, ok
}

// Names returns the channel names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.channels))
	for name := range r.channels {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}
