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
	"encoding/json"
	"math"
	"regexp"
	"strconv"

	"github.com/carverauto/scanrelay/pkg/models"
)

const (
	TypeAuth          = "auth"
	TypeScan          = "scan"
	TypeReceived      = "received"
	TypeResendRequest = "resend_request"
	TypeResend        = "resend"
	TypeOnlineDevices = "online_devices"
	TypeListenerCount = "listener_count"
	TypeHistory       = "history"

	StatusSuccess = "success"
	StatusFail    = "fail"

	// 2^53, the largest integer a JSON number round-trips exactly.
	maxSafeInteger = 1 << 53
)

var digitsOnly = regexp.MustCompile(`^[0-9]+$`)

// inbound is the union of every client message. Fields a message type does
// not use are ignored.
type inbound struct {
	Type      string                 `json:"type"`
	Channel   string                 `json:"channel"`
	Password  string                 `json:"password"`
	Role      string                 `json:"role"`
	ScannerID string                 `json:"scannerId"`
	IP        string                 `json:"ip"`
	Metadata  map[string]interface{} `json:"metadata"`
	Data      json.RawMessage        `json:"data"`
	Num       json.RawMessage        `json:"num"`
	Time      json.RawMessage        `json:"time"`
}

type AuthResponse struct {
	Type    string `json:"type"`
	Status  string `json:"status"`
	Role    Role   `json:"role,omitempty"`
	Channel string `json:"channel,omitempty"`
	UserID  string `json:"userId,omitempty"`
	Error   string `json:"error,omitempty"`
}

type OnlineDevices struct {
	Type        string                            `json:"type"`
	Devices     []string                          `json:"devices"`
	MetadataMap map[string]map[string]interface{} `json:"metadataMap"`
}

type ListenerCount struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// ScanMessage is a scan relayed to listeners: the record fields plus type.
type ScanMessage struct {
	Type string `json:"type"`
	*models.ScanRecord
}

type Received struct {
	Type   string `json:"type"`
	Num    int64  `json:"num"`
	Status string `json:"status"`
}

type Resend struct {
	Type string `json:"type"`
	Num  int64  `json:"num"`
}

type History struct {
	Type  string            `json:"type"`
	Scans []json.RawMessage `json:"scans"`
}

// parseNum normalizes a sequence number: a non-negative integral JSON
// number, or a string of decimal digits. Anything else counts as absent.
func parseNum(raw json.RawMessage) (int64, bool) {
	if len(raw) == 0 {
		return 0, false
	}

	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, false
	}

	switch n := v.(type) {
	case float64:
		if n < 0 || n > maxSafeInteger || n != math.Trunc(n) {
			return 0, false
		}

		return int64(n), true
	case string:
		if !digitsOnly.MatchString(n) {
			return 0, false
		}

		parsed, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0, false
		}

		return parsed, true
	default:
		return 0, false
	}
}

// parseString returns raw as a string when it is a JSON string.
func parseString(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}

	return s, true
}
