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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/carverauto/scanrelay/pkg/logger"
)

// FileConfigLoader loads configuration from a local JSON or TOML file.
// The format is picked from the file extension.
type FileConfigLoader struct {
	logger logger.Logger
}

// Load implements ConfigLoader by reading and unmarshaling the file at path.
func (f *FileConfigLoader) Load(_ context.Context, path string, dst interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read file '%s': %w", path, err)
	}

	if strings.EqualFold(filepath.Ext(path), ".toml") {
		md, err := toml.Decode(string(data), dst)
		if err != nil {
			return fmt.Errorf("failed to unmarshal TOML from '%s': %w", path, err)
		}

		if undecoded := md.Undecoded(); len(undecoded) > 0 && f.logger != nil {
			keys := make([]string, 0, len(undecoded))
			for _, k := range undecoded {
				keys = append(keys, k.String())
			}

			f.logger.Warn().Strs("keys", keys).Str("path", path).Msg("Ignoring unknown configuration keys")
		}

		return nil
	}

	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("failed to unmarshal JSON from '%s': %w", path, err)
	}

	return nil
}
