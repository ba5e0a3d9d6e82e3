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

package store

import "strings"

// Keys builds the logical key layout shared by every backend.
type Keys struct {
	prefix string
}

func NewKeys(prefix string) Keys {
	return Keys{prefix: strings.TrimSuffix(prefix, ":")}
}

func (k Keys) channel(channel string) string {
	return k.prefix + ":channel:" + channel
}

// Scans is the append-only scan log of a channel.
func (k Keys) Scans(channel string) string {
	return k.channel(channel) + ":scans"
}

// Scanners is the set of scanner identities ever seen in a channel.
func (k Keys) Scanners(channel string) string {
	return k.channel(channel) + ":scanners"
}

// Scanner is the metadata hash of one scanner.
func (k Keys) Scanner(channel, scannerID string) string {
	return k.channel(channel) + ":scanner:" + scannerID
}

// Packets maps sequence numbers to the first record received with them.
func (k Keys) Packets(channel, scannerID string) string {
	return k.Scanner(channel, scannerID) + ":packets"
}

// Sessions is the list of finished sessions of one scanner.
func (k Keys) Sessions(channel, scannerID string) string {
	return k.Scanner(channel, scannerID) + ":sessions"
}
