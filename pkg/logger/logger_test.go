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

package logger

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit(t *testing.T) {
	config := &Config{
		Level:  "debug",
		Debug:  true,
		Output: "stdout",
	}

	require.NoError(t, Init(config))

	logger := GetLogger()
	assert.Equal(t, zerolog.DebugLevel, logger.GetLevel())
}

func TestInitRejectsUnknownLevel(t *testing.T) {
	err := Init(&Config{Level: "loud"})
	assert.Error(t, err)
}

func TestSetDebug(t *testing.T) {
	SetDebug(true)
	assert.Equal(t, zerolog.DebugLevel, GetLogger().GetLevel())

	SetDebug(false)
	assert.Equal(t, zerolog.InfoLevel, GetLogger().GetLevel())
}

func TestNewDoesNotReplaceGlobal(t *testing.T) {
	require.NoError(t, Init(&Config{Level: "info"}))

	l, err := New(&Config{Level: "error", Output: "stderr"})
	require.NoError(t, err)
	require.NotNil(t, l)

	assert.Equal(t, zerolog.InfoLevel, GetLogger().GetLevel())
	assert.NotNil(t, l.WithComponent("relay"))
}

func TestDefaultConfig(t *testing.T) {
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("DEBUG", "yes")

	config := DefaultConfig()

	assert.Equal(t, "warn", config.Level)
	assert.True(t, config.Debug)
	assert.Equal(t, "stdout", config.Output)
}

func TestNewTestLoggerIsSilent(t *testing.T) {
	l := NewTestLogger()

	assert.False(t, l.Info().Enabled())
	assert.False(t, l.Error().Enabled())
}
