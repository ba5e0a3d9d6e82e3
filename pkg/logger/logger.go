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

// Package logger provides JSON structured logging using zerolog
package logger

import (
	"context"
	"errors"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var globalLogger zerolog.Logger

type Config struct {
	Level      string `json:"level" toml:"level"`
	Debug      bool   `json:"debug" toml:"debug"`
	Output     string `json:"output" toml:"output"`
	TimeFormat string `json:"time_format" toml:"time_format"`
	// OTel optionally mirrors every line to an OTLP collector.
	OTel *OTelConfig `json:"otel,omitempty" toml:"otel"`
}

func init() {
	globalLogger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	zerolog.TimeFieldFormat = time.RFC3339
}

// Init configures the process-wide logger used by the package level helpers.
func Init(config *Config) error {
	zlog, err := build(config, nil)
	if err != nil {
		return err
	}

	globalLogger = zlog
	log.Logger = globalLogger

	return nil
}

// New returns a Logger that does not touch global state.
func New(config *Config) (Logger, error) {
	zlog, err := build(config, nil)
	if err != nil {
		return nil, err
	}

	return &zerologLogger{logger: zlog}, nil
}

// Setup builds the process logger and, when config.OTel is enabled, an
// OTLP writer that receives every line as well. The writer is nil when
// OTLP export is off; it must be shut down on exit otherwise.
func Setup(ctx context.Context, config *Config, version string) (Logger, *OTelWriter, error) {
	if config == nil {
		config = DefaultConfig()
	}

	otelWriter, err := NewOTelWriter(ctx, config.OTel, version)
	if err != nil && !errors.Is(err, ErrOTelLoggingDisabled) {
		return nil, nil, err
	}

	var extra io.Writer
	if otelWriter != nil {
		extra = otelWriter
	}

	zlog, err := build(config, extra)
	if err != nil {
		_ = otelWriter.Shutdown(ctx)

		return nil, nil, err
	}

	globalLogger = zlog
	log.Logger = globalLogger

	return &zerologLogger{logger: zlog}, otelWriter, nil
}

func build(config *Config, extra io.Writer) (zerolog.Logger, error) {
	if config == nil {
		config = DefaultConfig()
	}

	var output io.Writer = os.Stdout

	if config.Output == "stderr" {
		output = os.Stderr
	}

	if extra != nil {
		output = zerolog.MultiLevelWriter(output, extra)
	}

	level := zerolog.InfoLevel

	if config.Debug {
		level = zerolog.DebugLevel
	} else if config.Level != "" {
		var err error

		level, err = zerolog.ParseLevel(config.Level)
		if err != nil {
			return zerolog.Logger{}, err
		}
	}

	if config.TimeFormat != "" {
		zerolog.TimeFieldFormat = config.TimeFormat
	}

	return zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Logger(), nil
}

func SetLevel(level zerolog.Level) {
	globalLogger = globalLogger.Level(level)
	log.Logger = globalLogger
}

func SetDebug(debug bool) {
	if debug {
		SetLevel(zerolog.DebugLevel)
	} else {
		SetLevel(zerolog.InfoLevel)
	}
}

func GetLogger() zerolog.Logger {
	return globalLogger
}

func Debug() *zerolog.Event {
	return globalLogger.Debug()
}

func Info() *zerolog.Event {
	return globalLogger.Info()
}

func Warn() *zerolog.Event {
	return globalLogger.Warn()
}

func Error() *zerolog.Event {
	return globalLogger.Error()
}

func Fatal() *zerolog.Event {
	return globalLogger.Fatal()
}

func WithComponent(component string) zerolog.Logger {
	return globalLogger.With().Str("component", component).Logger()
}
