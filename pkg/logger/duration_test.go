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
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDuration_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Duration
		wantErr bool
	}{
		{name: "string", input: `"5s"`, want: Duration(5 * time.Second)},
		{name: "nanoseconds", input: `5000000000`, want: Duration(5 * time.Second)},
		{name: "compound", input: `"1h30m45s"`, want: Duration(time.Hour + 30*time.Minute + 45*time.Second)},
		{name: "invalid_string", input: `"invalid"`, wantErr: true},
		{name: "invalid_type", input: `true`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d Duration

			err := json.Unmarshal([]byte(tt.input), &d)
			if tt.wantErr {
				require.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, d)
		})
	}
}

func TestConfig_OTelSection(t *testing.T) {
	raw := `{
		"level": "debug",
		"otel": {
			"enabled": true,
			"endpoint": "localhost:4317",
			"service_name": "scanrelay",
			"batch_timeout": "10s",
			"insecure": true,
			"headers": {"x-api-key": "test-key"}
		}
	}`

	var cfg Config
	require.NoError(t, json.Unmarshal([]byte(raw), &cfg))
	require.NotNil(t, cfg.OTel)

	assert.True(t, cfg.OTel.Enabled)
	assert.Equal(t, "localhost:4317", cfg.OTel.Endpoint)
	assert.Equal(t, Duration(10*time.Second), cfg.OTel.BatchTimeout)
	assert.True(t, cfg.OTel.Insecure)
	assert.Equal(t, "test-key", cfg.OTel.Headers["x-api-key"])
}
