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

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/scanrelay/pkg/logger"
	"github.com/carverauto/scanrelay/pkg/models"
)

const jsonConfig = `{
  "listen_addr": ":8080",
  "channels": [{"name": "dock-1", "password": "secret"}],
  "heartbeat_interval": "45s",
  "store": {"type": "sqlite", "sqlite": {"path": "/tmp/relay.db"}}
}`

const tomlConfig = `
listen_addr = ":9090"
history_size = 20

[[channels]]
name = "dock-1"
password = "secret"
listener_password = "watch"

[store]
type = "nats"
key_prefix = "relay"
op_timeout = "2s"

[store.nats]
url = "nats://127.0.0.1:4222"

[logging]
level = "debug"
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestFileConfigLoader(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		var cfg models.RelayConfig

		loader := &FileConfigLoader{logger: logger.NewTestLogger()}
		require.NoError(t, loader.Load(context.Background(), writeFile(t, "relay.json", jsonConfig), &cfg))

		assert.Equal(t, ":8080", cfg.ListenAddr)
		require.Len(t, cfg.Channels, 1)
		assert.Equal(t, "dock-1", cfg.Channels[0].Name)
		assert.Equal(t, 45*time.Second, cfg.HeartbeatInterval.Std())
		require.NotNil(t, cfg.Store.SQLite)
		assert.Equal(t, "/tmp/relay.db", cfg.Store.SQLite.Path)
	})

	t.Run("toml", func(t *testing.T) {
		var cfg models.RelayConfig

		loader := &FileConfigLoader{logger: logger.NewTestLogger()}
		require.NoError(t, loader.Load(context.Background(), writeFile(t, "relay.toml", tomlConfig), &cfg))

		assert.Equal(t, ":9090", cfg.ListenAddr)
		assert.Equal(t, 20, cfg.HistorySize)
		require.Len(t, cfg.Channels, 1)
		assert.Equal(t, "watch", cfg.Channels[0].ListenerPassword)
		assert.Equal(t, models.StoreNATS, cfg.Store.Type)
		assert.Equal(t, 2*time.Second, cfg.Store.OpTimeout.Std())
		require.NotNil(t, cfg.Store.NATS)
		assert.Equal(t, "nats://127.0.0.1:4222", cfg.Store.NATS.URL)
		require.NotNil(t, cfg.Logging)
		assert.Equal(t, "debug", cfg.Logging.Level)
	})

	t.Run("missing_file", func(t *testing.T) {
		var cfg models.RelayConfig

		loader := &FileConfigLoader{}
		err := loader.Load(context.Background(), filepath.Join(t.TempDir(), "nope.json"), &cfg)
		require.Error(t, err)
	})

	t.Run("bad_json", func(t *testing.T) {
		var cfg models.RelayConfig

		loader := &FileConfigLoader{}
		err := loader.Load(context.Background(), writeFile(t, "relay.json", "{"), &cfg)
		require.Error(t, err)
	})
}

func TestEnvConfigLoader(t *testing.T) {
	t.Run("individual_variables", func(t *testing.T) {
		t.Setenv("TEST_LISTEN_ADDR", ":7070")
		t.Setenv("TEST_CHANNELS", `[{"name":"dock-2","password":"pw"}]`)
		t.Setenv("TEST_HEARTBEAT_INTERVAL", "10s")
		t.Setenv("TEST_TRUST_PROXY_HEADERS", "true")
		t.Setenv("TEST_STORE_TYPE", "postgres")
		t.Setenv("TEST_STORE_POSTGRES_URL", "postgres://localhost/relay")
		t.Setenv("TEST_STORE_POSTGRES_MAX_CONNS", "4")

		var cfg models.RelayConfig

		loader := NewEnvConfigLoader(logger.NewTestLogger(), "TEST_")
		require.NoError(t, loader.Load(context.Background(), "", &cfg))

		assert.Equal(t, ":7070", cfg.ListenAddr)
		require.Len(t, cfg.Channels, 1)
		assert.Equal(t, "dock-2", cfg.Channels[0].Name)
		assert.Equal(t, 10*time.Second, cfg.HeartbeatInterval.Std())
		assert.True(t, cfg.TrustProxyHeaders)
		assert.Equal(t, models.StorePostgres, cfg.Store.Type)
		require.NotNil(t, cfg.Store.Postgres)
		assert.Equal(t, "postgres://localhost/relay", cfg.Store.Postgres.URL)
		assert.Equal(t, int32(4), cfg.Store.Postgres.MaxConns)
	})

	t.Run("unset_sections_stay_nil", func(t *testing.T) {
		t.Setenv("TEST_LISTEN_ADDR", ":7070")

		var cfg models.RelayConfig

		loader := NewEnvConfigLoader(nil, "TEST_")
		require.NoError(t, loader.Load(context.Background(), "", &cfg))

		assert.Nil(t, cfg.DualPassword)
		assert.Nil(t, cfg.Events)
		assert.Nil(t, cfg.Store.NATS)
	})

	t.Run("config_json", func(t *testing.T) {
		t.Setenv("TEST_CONFIG_JSON", jsonConfig)

		var cfg models.RelayConfig

		loader := NewEnvConfigLoader(nil, "TEST_")
		require.NoError(t, loader.Load(context.Background(), "", &cfg))
		assert.Equal(t, ":8080", cfg.ListenAddr)
	})

	t.Run("non_pointer_destination", func(t *testing.T) {
		loader := NewEnvConfigLoader(nil, "TEST_")

		var cfg models.RelayConfig
		require.ErrorIs(t, loader.Load(context.Background(), "", cfg), ErrDstMustBeNonNilPointer)
	})
}

func TestEnvConfigLoader_RelayShape(t *testing.T) {
	t.Run("compact_channel_list", func(t *testing.T) {
		t.Setenv("TEST_CHANNELS", "ops:secret1, lab:secret2:watch2")

		var cfg models.RelayConfig

		require.NoError(t, NewEnvConfigLoader(nil, "TEST_").Load(context.Background(), "", &cfg))

		assert.Equal(t, []models.ChannelConfig{
			{Name: "ops", Password: "secret1"},
			{Name: "lab", Password: "secret2", ListenerPassword: "watch2"},
		}, cfg.Channels)
	})

	t.Run("invalid_channel_entry", func(t *testing.T) {
		t.Setenv("TEST_CHANNELS", "ops")

		var cfg models.RelayConfig

		err := NewEnvConfigLoader(nil, "TEST_").Load(context.Background(), "", &cfg)
		require.ErrorIs(t, err, errInvalidChannelPair)
	})

	t.Run("dual_password_block", func(t *testing.T) {
		t.Setenv("TEST_DUAL_PASSWORD_CHANNEL", "floor")
		t.Setenv("TEST_DUAL_PASSWORD_SCANNER_PASSWORD", "scan-pw")
		t.Setenv("TEST_DUAL_PASSWORD_LISTENER_PASSWORD", "watch-pw")

		var cfg models.RelayConfig

		require.NoError(t, NewEnvConfigLoader(nil, "TEST_").Load(context.Background(), "", &cfg))

		require.NotNil(t, cfg.DualPassword)
		assert.Equal(t, "floor", cfg.DualPassword.Channel)
		assert.Equal(t, "scan-pw", cfg.DualPassword.ScannerPassword)
		assert.Equal(t, "watch-pw", cfg.DualPassword.ListenerPassword)
		assert.Empty(t, cfg.Channels)
	})

	t.Run("bad_number_is_reported", func(t *testing.T) {
		t.Setenv("TEST_HISTORY_SIZE", "fifty")

		var cfg models.RelayConfig

		err := NewEnvConfigLoader(nil, "TEST_").Load(context.Background(), "", &cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "TEST_HISTORY_SIZE")
	})

	t.Run("defaults_applied_by_validate", func(t *testing.T) {
		t.Setenv("CONFIG_SOURCE", "env")
		t.Setenv("CONFIG_ENV_PREFIX", "RELAYTEST_")
		t.Setenv("RELAYTEST_LISTEN_ADDR", ":6060")
		t.Setenv("RELAYTEST_CHANNELS", "ops:secret1")

		var cfg models.RelayConfig

		require.NoError(t, NewConfig(nil).LoadAndValidate(context.Background(), "", &cfg))
		assert.Equal(t, "/", cfg.Path)
		assert.Equal(t, 50, cfg.HistorySize)
		assert.Equal(t, 30*time.Second, cfg.HeartbeatInterval.Std())
	})
}

func TestLoadAndValidate(t *testing.T) {
	t.Run("file_source_applies_defaults", func(t *testing.T) {
		t.Setenv("CONFIG_SOURCE", "")

		var cfg models.RelayConfig

		require.NoError(t, NewConfig(nil).LoadAndValidate(context.Background(), writeFile(t, "relay.json", jsonConfig), &cfg))
		assert.Equal(t, "/", cfg.Path)
		assert.Equal(t, 50, cfg.HistorySize)
	})

	t.Run("env_source", func(t *testing.T) {
		t.Setenv("CONFIG_SOURCE", "env")
		t.Setenv("CONFIG_ENV_PREFIX", "RELAYTEST_")
		t.Setenv("RELAYTEST_LISTEN_ADDR", ":6060")
		t.Setenv("RELAYTEST_CHANNELS", `[{"name":"a","password":"b"}]`)

		var cfg models.RelayConfig

		require.NoError(t, NewConfig(nil).LoadAndValidate(context.Background(), "", &cfg))
		assert.Equal(t, ":6060", cfg.ListenAddr)
		assert.Equal(t, models.StoreMemory, cfg.Store.Type)
	})

	t.Run("validation_error", func(t *testing.T) {
		t.Setenv("CONFIG_SOURCE", "file")

		var cfg models.RelayConfig

		err := NewConfig(nil).LoadAndValidate(context.Background(), writeFile(t, "relay.json", `{"listen_addr":":1"}`), &cfg)
		require.Error(t, err)
	})

	t.Run("unknown_source", func(t *testing.T) {
		t.Setenv("CONFIG_SOURCE", "kv")

		var cfg models.RelayConfig

		err := NewConfig(nil).LoadAndValidate(context.Background(), "", &cfg)
		require.ErrorIs(t, err, errInvalidConfigSource)
	})
}
