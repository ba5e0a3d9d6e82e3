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

import "errors"

var (
	// ErrUnknownChannel is returned when an auth message names no configured channel.
	ErrUnknownChannel = errors.New("unknown channel")
	// ErrBadCredential is returned when the password does not match the channel.
	ErrBadCredential = errors.New("invalid credentials")
	// ErrPeerClosed is returned by Send once the connection has been terminated.
	ErrPeerClosed = errors.New("peer closed")
	// ErrSendBufferFull is returned by Send when the outbound queue is full.
	ErrSendBufferFull = errors.New("send buffer full")
)

// Wire reasons reported in failed auth responses.
const (
	reasonUnknownChannel     = "unknown_channel"
	reasonInvalidCredentials = "invalid_credentials"
)

func authFailureReason(err error) string {
	if errors.Is(err, ErrUnknownChannel) {
		return reasonUnknownChannel
	}

	return reasonInvalidCredentials
}
