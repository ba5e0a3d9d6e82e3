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

package models

import "time"

// ScanRecord is a single accepted scan. It is immutable once built: the same
// value is appended to the channel scan log, stored under its packet key when
// numbered, exported, and relayed to listeners.
type ScanRecord struct {
	Time        string                 `json:"time"`
	ReceivedAt  time.Time              `json:"receivedAt"`
	Channel     string                 `json:"channel"`
	ScannerID   string                 `json:"scannerId"`
	UserID      string                 `json:"userId"`
	IP          string                 `json:"ip"`
	Data        string                 `json:"data"`
	Num         *int64                 `json:"num,omitempty"`
	ScannerInfo map[string]interface{} `json:"scannerInfo,omitempty"`
}

// HasNum reports whether the record carries a sequence number.
func (r *ScanRecord) HasNum() bool {
	return r.Num != nil
}

// SessionHistoryEntry summarizes one scanner session. Exactly one is written
// per scanner entry, when that entry is destroyed.
type SessionHistoryEntry struct {
	Channel        string    `json:"channel"`
	UserID         string    `json:"userId"`
	ConnectedAt    time.Time `json:"connectedAt"`
	DisconnectedAt time.Time `json:"disconnectedAt"`
	Scans          int64     `json:"scans"`
	Device         string    `json:"device"`
	Reason         string    `json:"reason,omitempty"`
}
