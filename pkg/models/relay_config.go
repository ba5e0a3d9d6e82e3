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

package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/carverauto/scanrelay/pkg/logger"
)

var (
	errListenAddrRequired  = errors.New("listen_addr is required")
	errNoChannels          = errors.New("at least one channel or a dual_password block is required")
	errChannelNameRequired = errors.New("channel name is required")
	errChannelPassword     = errors.New("channel password is required")
	errDuplicateChannel    = errors.New("duplicate channel name")
	errDualPasswordFields  = errors.New("dual_password requires channel, scanner_password and listener_password")
	errDualPasswordsEqual  = errors.New("dual_password scanner and listener passwords must differ")
	errNegativeValue       = errors.New("value must not be negative")
	errUnknownStoreType    = errors.New("unknown store type")
	errUnknownEventsType   = errors.New("unknown events type")
	errSectionRequired     = errors.New("backend section is required")
)

const (
	StoreMemory   = "memory"
	StoreNATS     = "nats"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"

	EventsNATS   = "nats"
	EventsPubSub = "pubsub"

	defaultPath              = "/"
	defaultHeartbeat         = 30 * time.Second
	defaultHistorySize       = 50
	defaultSendBuffer        = 256
	defaultMaxMessageBytes   = 64 * 1024
	defaultKeyPrefix         = "scanrelay"
	defaultStoreWorkers      = 4
	defaultStoreQueueSize    = 1024
	defaultStoreOpTimeout    = 5 * time.Second
	defaultNATSBucket        = "scanrelay"
	defaultEventsStream      = "SCANRELAY_EVENTS"
	defaultEventsSubject     = "scanrelay.events"
	defaultMetricsInterval   = 15 * time.Second
	defaultMetricsService    = "scanrelay"
	defaultPostgresMaxConns  = 10
	defaultSQLiteBusyTimeout = 5 * time.Second
)

// ChannelConfig statically defines one channel and its shared secret.
// ListenerPassword is optional; when empty both roles use Password and the
// role comes from the auth message.
type ChannelConfig struct {
	Name             string `json:"name" toml:"name"`
	Password         string `json:"password" toml:"password"`
	ListenerPassword string `json:"listener_password,omitempty" toml:"listener_password"`
}

// DualPasswordConfig is the fixed two-password deployment: the password
// that matches decides the role, and every connection lands in Channel.
type DualPasswordConfig struct {
	Channel          string `json:"channel" toml:"channel"`
	ScannerPassword  string `json:"scanner_password" toml:"scanner_password"`
	ListenerPassword string `json:"listener_password" toml:"listener_password"`
}

type NATSConfig struct {
	URL           string `json:"url" toml:"url"`
	Bucket        string `json:"bucket,omitempty" toml:"bucket"`
	Stream        string `json:"stream,omitempty" toml:"stream"`
	SubjectPrefix string `json:"subject_prefix,omitempty" toml:"subject_prefix"`
	NKeySeedFile  string `json:"nkey_seed_file,omitempty" toml:"nkey_seed_file"`
	CredsFile     string `json:"creds_file,omitempty" toml:"creds_file"`
}

type PostgresConfig struct {
	URL      string `json:"url" toml:"url"`
	MaxConns int32  `json:"max_conns,omitempty" toml:"max_conns"`
}

type SQLiteConfig struct {
	Path        string   `json:"path" toml:"path"`
	BusyTimeout Duration `json:"busy_timeout,omitempty" toml:"busy_timeout"`
}

type PubSubConfig struct {
	ProjectID string `json:"project_id" toml:"project_id"`
	TopicID   string `json:"topic_id" toml:"topic_id"`
}

// StoreConfig selects the durable store backend and tunes the async writer.
type StoreConfig struct {
	Type      string          `json:"type" toml:"type"`
	KeyPrefix string          `json:"key_prefix,omitempty" toml:"key_prefix"`
	Workers   int             `json:"workers,omitempty" toml:"workers"`
	QueueSize int             `json:"queue_size,omitempty" toml:"queue_size"`
	OpTimeout Duration        `json:"op_timeout,omitempty" toml:"op_timeout"`
	NATS      *NATSConfig     `json:"nats,omitempty" toml:"nats"`
	Postgres  *PostgresConfig `json:"postgres,omitempty" toml:"postgres"`
	SQLite    *SQLiteConfig   `json:"sqlite,omitempty" toml:"sqlite"`
}

// EventsConfig enables exporting scans and finished sessions.
type EventsConfig struct {
	Type   string        `json:"type" toml:"type"`
	Source string        `json:"source,omitempty" toml:"source"`
	NATS   *NATSConfig   `json:"nats,omitempty" toml:"nats"`
	PubSub *PubSubConfig `json:"pubsub,omitempty" toml:"pubsub"`
}

type MetricsConfig struct {
	Enabled        bool              `json:"enabled" toml:"enabled"`
	Endpoint       string            `json:"endpoint" toml:"endpoint"`
	Insecure       bool              `json:"insecure" toml:"insecure"`
	Headers        map[string]string `json:"headers,omitempty" toml:"headers"`
	ServiceName    string            `json:"service_name,omitempty" toml:"service_name"`
	ExportInterval Duration          `json:"export_interval,omitempty" toml:"export_interval"`
}

// RelayConfig is the top level configuration of the relay process.
type RelayConfig struct {
	ListenAddr        string              `json:"listen_addr" toml:"listen_addr"`
	Path              string              `json:"path,omitempty" toml:"path"`
	Channels          []ChannelConfig     `json:"channels" toml:"channels"`
	DualPassword      *DualPasswordConfig `json:"dual_password,omitempty" toml:"dual_password"`
	HeartbeatInterval Duration            `json:"heartbeat_interval,omitempty" toml:"heartbeat_interval"`
	HistorySize       int                 `json:"history_size,omitempty" toml:"history_size"`
	MaxConnections    int                 `json:"max_connections,omitempty" toml:"max_connections"`
	SendBuffer        int                 `json:"send_buffer,omitempty" toml:"send_buffer"`
	MaxMessageBytes   int64               `json:"max_message_bytes,omitempty" toml:"max_message_bytes"`
	ScanRateLimit     float64             `json:"scan_rate_limit,omitempty" toml:"scan_rate_limit"`
	ScanBurst         int                 `json:"scan_burst,omitempty" toml:"scan_burst"`
	TrustProxyHeaders bool                `json:"trust_proxy_headers,omitempty" toml:"trust_proxy_headers"`
	GeoIPDatabase     string              `json:"geoip_database,omitempty" toml:"geoip_database"`
	Store             StoreConfig         `json:"store" toml:"store"`
	Events            *EventsConfig       `json:"events,omitempty" toml:"events"`
	Logging           *logger.Config      `json:"logging,omitempty" toml:"logging"`
	Metrics           *MetricsConfig      `json:"metrics,omitempty" toml:"metrics"`
}

// Validate checks the configuration and fills in defaults.
func (c *RelayConfig) Validate() error {
	if c.ListenAddr == "" {
		return errListenAddrRequired
	}

	if err := c.validateChannels(); err != nil {
		return err
	}

	if c.HistorySize < 0 || c.MaxConnections < 0 || c.SendBuffer < 0 ||
		c.MaxMessageBytes < 0 || c.ScanRateLimit < 0 || c.ScanBurst < 0 {
		return errNegativeValue
	}

	if err := c.Store.validate(); err != nil {
		return err
	}

	if err := c.validateEvents(); err != nil {
		return err
	}

	c.setDefaults()

	return nil
}

func (c *RelayConfig) validateChannels() error {
	if len(c.Channels) == 0 && c.DualPassword == nil {
		return errNoChannels
	}

	seen := make(map[string]struct{}, len(c.Channels))

	for _, ch := range c.Channels {
		if ch.Name == "" {
			return errChannelNameRequired
		}

		if ch.Password == "" {
			return fmt.Errorf("%w: %s", errChannelPassword, ch.Name)
		}

		if _, dup := seen[ch.Name]; dup {
			return fmt.Errorf("%w: %s", errDuplicateChannel, ch.Name)
		}

		seen[ch.Name] = struct{}{}
	}

	if d := c.DualPassword; d != nil {
		if d.Channel == "" || d.ScannerPassword == "" || d.ListenerPassword == "" {
			return errDualPasswordFields
		}

		if d.ScannerPassword == d.ListenerPassword {
			return errDualPasswordsEqual
		}
	}

	return nil
}

func (c *RelayConfig) validateEvents() error {
	if c.Events == nil || c.Events.Type == "" {
		return nil
	}

	switch c.Events.Type {
	case EventsNATS:
		if c.Events.NATS == nil || c.Events.NATS.URL == "" {
			return fmt.Errorf("%w: events.nats", errSectionRequired)
		}
	case EventsPubSub:
		if c.Events.PubSub == nil || c.Events.PubSub.ProjectID == "" || c.Events.PubSub.TopicID == "" {
			return fmt.Errorf("%w: events.pubsub", errSectionRequired)
		}
	default:
		return fmt.Errorf("%w: %s", errUnknownEventsType, c.Events.Type)
	}

	return nil
}

func (s *StoreConfig) validate() error {
	if s.Workers < 0 || s.QueueSize < 0 {
		return errNegativeValue
	}

	switch s.Type {
	case "", StoreMemory:
		return nil
	case StoreNATS:
		if s.NATS == nil || s.NATS.URL == "" {
			return fmt.Errorf("%w: store.nats", errSectionRequired)
		}
	case StorePostgres:
		if s.Postgres == nil || s.Postgres.URL == "" {
			return fmt.Errorf("%w: store.postgres", errSectionRequired)
		}
	case StoreSQLite:
		if s.SQLite == nil || s.SQLite.Path == "" {
			return fmt.Errorf("%w: store.sqlite", errSectionRequired)
		}
	default:
		return fmt.Errorf("%w: %s", errUnknownStoreType, s.Type)
	}

	return nil
}

func (c *RelayConfig) setDefaults() {
	if c.Path == "" {
		c.Path = defaultPath
	}

	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = Duration(defaultHeartbeat)
	}

	if c.HistorySize == 0 {
		c.HistorySize = defaultHistorySize
	}

	if c.SendBuffer == 0 {
		c.SendBuffer = defaultSendBuffer
	}

	if c.MaxMessageBytes == 0 {
		c.MaxMessageBytes = defaultMaxMessageBytes
	}

	if c.ScanRateLimit > 0 && c.ScanBurst == 0 {
		c.ScanBurst = 1
	}

	c.Store.setDefaults()

	if c.Events != nil {
		if c.Events.Source == "" {
			c.Events.Source = "scanrelay"
		}

		if n := c.Events.NATS; n != nil {
			if n.Stream == "" {
				n.Stream = defaultEventsStream
			}

			if n.SubjectPrefix == "" {
				n.SubjectPrefix = defaultEventsSubject
			}
		}
	}

	if m := c.Metrics; m != nil {
		if m.ServiceName == "" {
			m.ServiceName = defaultMetricsService
		}

		if m.ExportInterval <= 0 {
			m.ExportInterval = Duration(defaultMetricsInterval)
		}
	}
}

func (s *StoreConfig) setDefaults() {
	if s.Type == "" {
		s.Type = StoreMemory
	}

	if s.KeyPrefix == "" {
		s.KeyPrefix = defaultKeyPrefix
	}

	if s.Workers == 0 {
		s.Workers = defaultStoreWorkers
	}

	if s.QueueSize == 0 {
		s.QueueSize = defaultStoreQueueSize
	}

	if s.OpTimeout <= 0 {
		s.OpTimeout = Duration(defaultStoreOpTimeout)
	}

	if s.NATS != nil && s.NATS.Bucket == "" {
		s.NATS.Bucket = defaultNATSBucket
	}

	if s.Postgres != nil && s.Postgres.MaxConns == 0 {
		s.Postgres.MaxConns = defaultPostgresMaxConns
	}

	if s.SQLite != nil && s.SQLite.BusyTimeout <= 0 {
		s.SQLite.BusyTimeout = Duration(defaultSQLiteBusyTimeout)
	}
}
