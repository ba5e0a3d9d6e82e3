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
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	log "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.31.0"
	"google.golang.org/grpc/credentials"
)

var (
	ErrOTelLoggingDisabled  = errors.New("OTel logging is disabled")
	ErrOTelEndpointRequired = errors.New("OTel endpoint is required when enabled")
	errFailedToParseCACert  = errors.New("failed to parse CA certificate")
)

const (
	maxAttributeValueLength = 4096
	truncatedKeysAttribute  = "otel.truncated_keys"
	defaultScope            = "scanrelay"
	defaultBatchTimeout     = 5 * time.Second
)

// OTelConfig enables shipping log lines to an OTLP/gRPC collector next to
// the regular output.
type OTelConfig struct {
	Enabled      bool              `json:"enabled" toml:"enabled"`
	Endpoint     string            `json:"endpoint" toml:"endpoint"`
	Headers      map[string]string `json:"headers,omitempty" toml:"headers"`
	ServiceName  string            `json:"service_name,omitempty" toml:"service_name"`
	BatchTimeout Duration          `json:"batch_timeout,omitempty" toml:"batch_timeout"`
	Insecure     bool              `json:"insecure" toml:"insecure"`
	TLS          *TLSConfig        `json:"tls,omitempty" toml:"tls"`
}

type TLSConfig struct {
	CertFile string `json:"cert_file" toml:"cert_file"`
	KeyFile  string `json:"key_file" toml:"key_file"`
	CAFile   string `json:"ca_file,omitempty" toml:"ca_file"`
}

// OTelWriter is an io.Writer that turns zerolog JSON lines into OTel log
// records. The component field selects the instrumentation scope.
type OTelWriter struct {
	provider *sdklog.LoggerProvider
	ctx      context.Context

	mu      sync.Mutex
	loggers map[string]log.Logger
}

func NewOTelWriter(ctx context.Context, config *OTelConfig, version string) (*OTelWriter, error) {
	if config == nil || !config.Enabled {
		return nil, ErrOTelLoggingDisabled
	}

	if config.Endpoint == "" {
		return nil, ErrOTelEndpointRequired
	}

	opts := []otlploggrpc.Option{
		otlploggrpc.WithEndpoint(config.Endpoint),
	}

	if config.Insecure {
		opts = append(opts, otlploggrpc.WithInsecure())
	} else if config.TLS != nil {
		tlsConfig, err := setupTLSConfig(config.TLS)
		if err != nil {
			return nil, fmt.Errorf("failed to setup TLS configuration: %w", err)
		}

		opts = append(opts, otlploggrpc.WithTLSCredentials(credentials.NewTLS(tlsConfig)))
	}

	if len(config.Headers) > 0 {
		opts = append(opts, otlploggrpc.WithHeaders(config.Headers))
	}

	exporter, err := otlploggrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP log exporter: %w", err)
	}

	res, err := newResource(ctx, config.ServiceName, version)
	if err != nil {
		return nil, err
	}

	batchTimeout := time.Duration(config.BatchTimeout)
	if batchTimeout <= 0 {
		batchTimeout = defaultBatchTimeout
	}

	provider := sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter, sdklog.WithExportTimeout(batchTimeout))),
	)

	global.SetLoggerProvider(provider)

	return newOTelWriter(ctx, provider), nil
}

func newOTelWriter(ctx context.Context, provider *sdklog.LoggerProvider) *OTelWriter {
	return &OTelWriter{
		provider: provider,
		ctx:      ctx,
		loggers:  make(map[string]log.Logger),
	}
}

func newResource(ctx context.Context, serviceName, version string) (*resource.Resource, error) {
	if serviceName == "" {
		serviceName = defaultScope
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	return res, nil
}

func (w *OTelWriter) scope(name string) log.Logger {
	w.mu.Lock()
	defer w.mu.Unlock()

	l, ok := w.loggers[name]
	if !ok {
		l = w.provider.Logger(name)
		w.loggers[name] = l
	}

	return l
}

// Write never fails: lines that are not JSON objects are skipped.
func (w *OTelWriter) Write(p []byte) (int, error) {
	if w == nil || w.provider == nil {
		return len(p), nil
	}

	entry := make(map[string]interface{})
	if err := json.Unmarshal(p, &entry); err != nil {
		return len(p), nil
	}

	var record log.Record

	if ts, ok := entry["time"].(string); ok {
		if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
			record.SetTimestamp(parsed)
			delete(entry, "time")
		}
	}

	if level, ok := entry["level"].(string); ok {
		record.SetSeverity(severity(level))
		record.SetSeverityText(level)
		delete(entry, "level")
	}

	if message, ok := entry["message"].(string); ok {
		record.SetBody(log.StringValue(message))
		delete(entry, "message")
	}

	scope := defaultScope
	if component, ok := entry["component"].(string); ok && component != "" {
		scope = component
		delete(entry, "component")
	}

	var truncated []string

	for key, value := range entry {
		formatted, cut := formatAttributeValue(value)
		record.AddAttributes(log.String(key, formatted))

		if cut {
			truncated = append(truncated, key)
		}
	}

	if len(truncated) > 0 {
		sort.Strings(truncated)
		record.AddAttributes(log.String(truncatedKeysAttribute, strings.Join(truncated, ",")))
	}

	w.scope(scope).Emit(w.ctx, record)

	return len(p), nil
}

// Shutdown flushes pending records.
func (w *OTelWriter) Shutdown(ctx context.Context) error {
	if w == nil || w.provider == nil {
		return nil
	}

	return w.provider.Shutdown(ctx)
}

func formatAttributeValue(value interface{}) (string, bool) {
	switch v := value.(type) {
	case nil:
		return "null", false
	case string:
		return truncateString(v, maxAttributeValueLength)
	case bool:
		return fmt.Sprintf("%t", v), false
	case float64:
		return fmt.Sprintf("%v", v), false
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return truncateString(fmt.Sprintf("%v", v), maxAttributeValueLength)
		}

		return truncateString(string(encoded), maxAttributeValueLength)
	}
}

func truncateString(value string, limit int) (string, bool) {
	if len(value) <= limit {
		return value, false
	}

	truncated := value[:limit-3]
	for !utf8.ValidString(truncated) && len(truncated) > 0 {
		truncated = truncated[:len(truncated)-1]
	}

	return truncated + "...", true
}

func severity(level string) log.Severity {
	switch strings.ToLower(level) {
	case "trace":
		return log.SeverityTrace
	case "debug":
		return log.SeverityDebug
	case "warn", "warning":
		return log.SeverityWarn
	case "error":
		return log.SeverityError
	case "fatal", "panic":
		return log.SeverityFatal
	default:
		return log.SeverityInfo
	}
}

func setupTLSConfig(tlsConfig *TLSConfig) (*tls.Config, error) {
	config := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}

	if tlsConfig.CertFile != "" && tlsConfig.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(tlsConfig.CertFile, tlsConfig.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}

		config.Certificates = []tls.Certificate{cert}
	}

	if tlsConfig.CAFile != "" {
		caCert, err := os.ReadFile(tlsConfig.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}

		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, errFailedToParseCACert
		}

		config.RootCAs = pool
	}

	return config, nil
}
