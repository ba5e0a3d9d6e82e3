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
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
)

const (
	fingerprintPrefix = "fp-"
	anonymousPrefix   = "scanner-"
	unknownDevice     = "Unknown Device"
)

// scannerIdentity picks the registry key of a scanner: the explicit
// scannerId, else an id derived from metadata.fingerprint, else a fresh one.
// The connecting IP is never used as a key.
func scannerIdentity(explicit string, metadata map[string]interface{}) string {
	if id := strings.TrimSpace(explicit); id != "" {
		return id
	}

	if fp, ok := metadata["fingerprint"].(string); ok && fp != "" {
		return fmt.Sprintf("%s%016x", fingerprintPrefix, xxhash.Sum64String(fp))
	}

	return anonymousPrefix + uuid.NewString()
}

func deviceName(metadata map[string]interface{}) string {
	if name, ok := metadata["device"].(string); ok && name != "" {
		return name
	}

	return unknownDevice
}

// normalizeIP strips the IPv4-mapped IPv6 prefix.
func normalizeIP(ip string) string {
	return strings.TrimPrefix(ip, "::ffff:")
}
