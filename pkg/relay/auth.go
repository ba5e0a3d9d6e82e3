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

package relay

import (
	"crypto/subtle"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/carverauto/scanrelay/pkg/models"
)

// Role is assigned to a connection once, on successful authentication.
type Role string

const (
	RoleScanner  Role = "scanner"
	RoleListener Role = "listener"
)

// Credentials is the result of a successful auth resolution.
type Credentials struct {
	Channel string
	Role    Role
}

// CredentialResolver maps (channel, password, role hint) to a channel and
// role before any session state is touched. Channel-scoped entries and the
// fixed dual-password block are two resolution paths behind one call.
type CredentialResolver struct {
	channels map[string]models.ChannelConfig
	dual     *models.DualPasswordConfig
}

func NewCredentialResolver(cfg *models.RelayConfig) *CredentialResolver {
	r := &CredentialResolver{
		channels: make(map[string]models.ChannelConfig, len(cfg.Channels)),
		dual:     cfg.DualPassword,
	}

	for _, ch := range cfg.Channels {
		r.channels[ch.Name] = ch
	}

	return r
}

// Resolve returns the channel and role the credential grants.
func (r *CredentialResolver) Resolve(channel, password string, hint Role) (Credentials, error) {
	if ch, ok := r.channels[channel]; ok {
		return resolveChannel(ch, password, hint)
	}

	if r.dual != nil && (channel == "" || channel == r.dual.Channel) {
		return r.resolveDual(password, hint)
	}

	return Credentials{}, ErrUnknownChannel
}

func resolveChannel(ch models.ChannelConfig, password string, hint Role) (Credentials, error) {
	creds := Credentials{Channel: ch.Name}

	switch hint {
	case RoleListener:
		secret := ch.ListenerPassword
		if secret == "" {
			secret = ch.Password
		}

		if !secretMatches(secret, password) {
			return Credentials{}, ErrBadCredential
		}

		creds.Role = RoleListener
	case RoleScanner:
		if !secretMatches(ch.Password, password) {
			return Credentials{}, ErrBadCredential
		}

		creds.Role = RoleScanner
	default:
		switch {
		case secretMatches(ch.Password, password):
			creds.Role = RoleScanner
		case ch.ListenerPassword != "" && secretMatches(ch.ListenerPassword, password):
			creds.Role = RoleListener
		default:
			return Credentials{}, ErrBadCredential
		}
	}

	return creds, nil
}

func (r *CredentialResolver) resolveDual(password string, hint Role) (Credentials, error) {
	var role Role

	switch {
	case secretMatches(r.dual.ScannerPassword, password):
		role = RoleScanner
	case secretMatches(r.dual.ListenerPassword, password):
		role = RoleListener
	default:
		return Credentials{}, ErrBadCredential
	}

	// The password decides; a contradicting hint is a bad credential.
	if hint != "" && hint != role {
		return Credentials{}, ErrBadCredential
	}

	return Credentials{Channel: r.dual.Channel, Role: role}, nil
}

func isBcryptHash(s string) bool {
	return strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$")
}

func secretMatches(secret, given string) bool {
	if secret == "" || given == "" {
		return false
	}

	if isBcryptHash(secret) {
		return bcrypt.CompareHashAndPassword([]byte(secret), []byte(given)) == nil
	}

	return subtle.ConstantTimeCompare([]byte(secret), []byte(given)) == 1
}
