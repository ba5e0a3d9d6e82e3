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

package natsutil

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/nats-io/jwt/v2"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nkeys"

	"github.com/carverauto/scanrelay/pkg/logger"
	"github.com/carverauto/scanrelay/pkg/models"
)

var (
	// ErrNATSURLRequired is returned when the NATS section has no url.
	ErrNATSURLRequired = errors.New("nats url is required")
	// ErrCredsExpired is returned when the creds file carries an expired user JWT.
	ErrCredsExpired = errors.New("nats credentials expired")
	// ErrNotUserSeed is returned when the nkey seed file does not hold a user seed.
	ErrNotUserSeed = errors.New("nkey seed is not a user seed")
)

const reconnectWait = 2 * time.Second

// Options builds the connection options for cfg: reconnect handling plus
// either nkey or creds-file authentication.
func Options(cfg *models.NATSConfig, name string, log logger.Logger) ([]nats.Option, error) {
	opts := []nats.Option{
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(reconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}

	if cfg.NKeySeedFile != "" {
		opt, err := nkeyOption(cfg.NKeySeedFile)
		if err != nil {
			return nil, err
		}

		opts = append(opts, opt)
	}

	if cfg.CredsFile != "" {
		expires, err := CredsExpiry(cfg.CredsFile)
		if err != nil {
			return nil, err
		}

		if !expires.IsZero() {
			log.Info().Time("expires", expires).Msg("Using NATS credentials")
		}

		opts = append(opts, nats.UserCredentials(cfg.CredsFile))
	}

	return opts, nil
}

// Connect dials the NATS server described by cfg.
func Connect(cfg *models.NATSConfig, name string, log logger.Logger) (*nats.Conn, error) {
	if cfg == nil || cfg.URL == "" {
		return nil, ErrNATSURLRequired
	}

	opts, err := Options(cfg, name, log)
	if err != nil {
		return nil, err
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return nc, nil
}

func nkeyOption(path string) (nats.Option, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read nkey seed: %w", err)
	}

	kp, err := nkeys.FromSeed([]byte(strings.TrimSpace(string(raw))))
	if err != nil {
		return nil, fmt.Errorf("failed to parse nkey seed: %w", err)
	}

	pub, err := kp.PublicKey()
	if err != nil {
		return nil, fmt.Errorf("failed to derive nkey public key: %w", err)
	}

	if !nkeys.IsValidPublicUserKey(pub) {
		return nil, ErrNotUserSeed
	}

	return nats.Nkey(pub, kp.Sign), nil
}

// CredsExpiry reads the user JWT from a creds file and returns its expiry,
// the zero time when it never expires. An already expired JWT is an error.
func CredsExpiry(path string) (time.Time, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read creds file: %w", err)
	}

	token, err := jwt.ParseDecoratedJWT(raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse creds file: %w", err)
	}

	claims, err := jwt.DecodeUserClaims(token)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to decode user claims: %w", err)
	}

	if claims.Expires == 0 {
		return time.Time{}, nil
	}

	expires := time.Unix(claims.Expires, 0)
	if time.Now().After(expires) {
		return expires, fmt.Errorf("%w at %s", ErrCredsExpired, expires.Format(time.RFC3339))
	}

	return expires, nil
}
