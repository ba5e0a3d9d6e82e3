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
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/carverauto/scanrelay/pkg/logger"
	"github.com/rs/zerolog"
)

var (
	errInvalidConfigSource = errors.New("invalid CONFIG_SOURCE value")
	errInvalidConfigPtr    = errors.New("config must be a non-nil pointer")
)

const (
	configSourceFile = "file"
	configSourceEnv  = "env"

	defaultEnvPrefix = "SCANRELAY_"
)

// ConfigLoader fills dst from some configuration source.
type ConfigLoader interface {
	Load(ctx context.Context, path string, dst interface{}) error
}

// Validator is implemented by configs that can check themselves after loading.
type Validator interface {
	Validate() error
}

// Config holds the configuration loading dependencies.
type Config struct {
	defaultLoader ConfigLoader
	logger        logger.Logger
}

// NewConfig initializes a new Config instance with a default file loader and logger.
// If logger is nil, a warn-level stderr logger is used.
func NewConfig(log logger.Logger) *Config {
	if log == nil {
		log = createBasicLogger()
	}

	return &Config{
		defaultLoader: &FileConfigLoader{logger: log},
		logger:        log,
	}
}

// createBasicLogger creates a minimal logger for config loading, before the
// configured logger exists.
func createBasicLogger() logger.Logger {
	zlog := zerolog.New(os.Stderr).
		Level(zerolog.WarnLevel).
		With().
		Timestamp().
		Logger()

	return logger.Wrap(zlog)
}

// ValidateConfig validates a configuration if it implements Validator.
func ValidateConfig(cfg interface{}) error {
	v, ok := cfg.(Validator)
	if !ok {
		return nil
	}

	return v.Validate()
}

// LoadAndValidate loads a configuration using the loader selected by
// CONFIG_SOURCE and validates it.
func (c *Config) LoadAndValidate(ctx context.Context, path string, cfg interface{}) error {
	if cfg == nil {
		return errInvalidConfigPtr
	}

	if err := c.loadWithSource(ctx, path, cfg); err != nil {
		return err
	}

	return ValidateConfig(cfg)
}

func (c *Config) loadWithSource(ctx context.Context, path string, cfg interface{}) error {
	source := strings.ToLower(os.Getenv("CONFIG_SOURCE"))

	var loader ConfigLoader

	switch source {
	case configSourceEnv:
		prefix := os.Getenv("CONFIG_ENV_PREFIX")
		if prefix == "" {
			prefix = defaultEnvPrefix
		}

		loader = NewEnvConfigLoader(c.logger, prefix)
	case configSourceFile, "":
		loader = c.defaultLoader
	default:
		return fmt.Errorf("%w: %s (expected '%s' or '%s')",
			errInvalidConfigSource, source, configSourceFile, configSourceEnv)
	}

	return loader.Load(ctx, path, cfg)
}
