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
	"encoding"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/carverauto/scanrelay/pkg/logger"
	"github.com/carverauto/scanrelay/pkg/models"
)

var (
	// ErrDstMustBeNonNilPointer indicates that the destination must be a non-nil pointer.
	ErrDstMustBeNonNilPointer = errors.New("dst must be a non-nil pointer")
	// ErrDstMustBePointerToStruct indicates that the destination must be a pointer to a struct.
	ErrDstMustBePointerToStruct = errors.New("dst must be a pointer to a struct")

	errInvalidChannelPair = errors.New("channel entries must be name:password[:listener_password]")
)

// valueDecoder parses one environment value into a field of a specific type.
type valueDecoder func(value string, field reflect.Value) error

// EnvConfigLoader loads configuration from environment variables. Field
// names come from json tags joined with underscores, so SCANRELAY_STORE_TYPE
// sets Store.Type and SCANRELAY_DUAL_PASSWORD_CHANNEL sets DualPassword.Channel.
// Defaults are left to the config's Validate.
type EnvConfigLoader struct {
	logger   logger.Logger
	prefix   string
	decoders map[reflect.Type]valueDecoder
}

// NewEnvConfigLoader creates a loader reading variables that start with prefix.
func NewEnvConfigLoader(log logger.Logger, prefix string) *EnvConfigLoader {
	if log == nil {
		log = logger.NewTestLogger()
	}

	return &EnvConfigLoader{
		logger: log,
		prefix: prefix,
		decoders: map[reflect.Type]valueDecoder{
			reflect.TypeOf([]models.ChannelConfig(nil)): decodeChannels,
		},
	}
}

// Load fills dst from <prefix>CONFIG_JSON when set, otherwise from
// individual variables.
func (e *EnvConfigLoader) Load(_ context.Context, _ string, dst interface{}) error {
	v := reflect.ValueOf(dst)
	if v.Kind() != reflect.Ptr || v.IsNil() {
		return ErrDstMustBeNonNilPointer
	}

	if raw := os.Getenv(e.prefix + "CONFIG_JSON"); raw != "" {
		if err := json.Unmarshal([]byte(raw), dst); err != nil {
			return fmt.Errorf("failed to unmarshal %sCONFIG_JSON: %w", e.prefix, err)
		}

		e.logger.Info().Msg("Loaded configuration from CONFIG_JSON environment variable")

		return nil
	}

	if v.Elem().Kind() != reflect.Struct {
		return ErrDstMustBePointerToStruct
	}

	if err := e.loadStruct(v.Elem(), e.prefix); err != nil {
		return err
	}

	e.logger.Info().Str("prefix", e.prefix).Msg("Loaded configuration from environment variables")

	return nil
}

func (e *EnvConfigLoader) loadStruct(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field := v.Field(i)
		if !field.CanSet() {
			continue
		}

		name, _, _ := strings.Cut(t.Field(i).Tag.Get("json"), ",")
		if name == "" || name == "-" {
			continue
		}

		envName := prefix + strings.ToUpper(name)

		if err := e.loadField(field, envName); err != nil {
			return err
		}
	}

	return nil
}

func (e *EnvConfigLoader) loadField(field reflect.Value, envName string) error {
	if _, custom := e.decoders[field.Type()]; !custom && isSection(field.Type()) {
		return e.loadSection(field, envName+"_")
	}

	value, ok := os.LookupEnv(envName)
	if !ok || value == "" {
		return nil
	}

	if err := e.decode(value, field); err != nil {
		return fmt.Errorf("%s: %w", envName, err)
	}

	e.logger.Debug().Str("env", envName).Msg("Loaded value from environment variable")

	return nil
}

// isSection reports whether t is a nested config block rather than a value.
func isSection(t reflect.Type) bool {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	if t.Kind() != reflect.Struct {
		return false
	}

	return !reflect.PointerTo(t).Implements(reflect.TypeOf((*encoding.TextUnmarshaler)(nil)).Elem())
}

// loadSection fills a nested block. Optional (pointer) blocks are only
// allocated when a variable under their prefix is set.
func (e *EnvConfigLoader) loadSection(field reflect.Value, prefix string) error {
	if field.Kind() != reflect.Ptr {
		return e.loadStruct(field, prefix)
	}

	if field.IsNil() {
		if !hasEnvWithPrefix(prefix) {
			return nil
		}

		field.Set(reflect.New(field.Type().Elem()))
	}

	return e.loadStruct(field.Elem(), prefix)
}

func (e *EnvConfigLoader) decode(value string, field reflect.Value) error {
	if dec, ok := e.decoders[field.Type()]; ok {
		return dec(value, field)
	}

	if u, ok := field.Addr().Interface().(encoding.TextUnmarshaler); ok {
		return u.UnmarshalText([]byte(value))
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}

		field.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		i, err := strconv.ParseInt(value, 10, field.Type().Bits())
		if err != nil {
			return err
		}

		field.SetInt(i)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, field.Type().Bits())
		if err != nil {
			return err
		}

		field.SetFloat(f)
	default:
		// Maps and slices without a dedicated decoder take JSON.
		return json.Unmarshal([]byte(value), field.Addr().Interface())
	}

	return nil
}

// decodeChannels accepts either a JSON array of channel objects or a compact
// comma separated list of name:password[:listener_password] entries.
func decodeChannels(value string, field reflect.Value) error {
	value = strings.TrimSpace(value)

	var channels []models.ChannelConfig

	if strings.HasPrefix(value, "[") {
		if err := json.Unmarshal([]byte(value), &channels); err != nil {
			return err
		}
	} else {
		for _, entry := range strings.Split(value, ",") {
			parts := strings.Split(strings.TrimSpace(entry), ":")
			if len(parts) < 2 || len(parts) > 3 {
				return fmt.Errorf("%w: %q", errInvalidChannelPair, entry)
			}

			ch := models.ChannelConfig{Name: parts[0], Password: parts[1]}
			if len(parts) == 3 {
				ch.ListenerPassword = parts[2]
			}

			channels = append(channels, ch)
		}
	}

	field.Set(reflect.ValueOf(channels))

	return nil
}

func hasEnvWithPrefix(prefix string) bool {
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, prefix) {
			return true
		}
	}

	return false
}
