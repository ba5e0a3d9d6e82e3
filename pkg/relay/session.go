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
	"context"
	"encoding/json"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/carverauto/scanrelay/pkg/logger"
	"github.com/carverauto/scanrelay/pkg/models"
)

var tracer = otel.Tracer("github.com/carverauto/scanrelay/pkg/relay")

// State is the position of a Session in its lifecycle.
type State int

const (
	StateUnauthenticated State = iota
	StateScanner
	StateListener
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateScanner:
		return "scanner"
	case StateListener:
		return "listener"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is the per-connection state machine. Handle is driven by the
// connection's read loop, one message at a time.
type Session struct {
	hub    *Hub
	peer   Peer
	logger logger.Logger

	mu      sync.Mutex
	state   State
	channel *Channel
	entry   *ScannerEntry
	limiter *rate.Limiter
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

// Handle processes one inbound frame. Malformed frames and messages the
// current state does not accept are dropped without a response.
func (s *Session) Handle(ctx context.Context, raw []byte) {
	var msg inbound
	if err := json.Unmarshal(raw, &msg); err != nil {
		s.logger.Debug().Err(err).Msg("Dropping malformed message")

		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateUnauthenticated:
		if msg.Type == TypeAuth {
			s.authenticate(ctx, &msg)
		}
	case StateScanner:
		if msg.Type == TypeScan && s.live() {
			s.handleScan(ctx, &msg)
		}
	case StateListener:
		if msg.Type == TypeResendRequest {
			s.handleResend(ctx, &msg)
		}
	case StateClosed:
	}
}

// live reports whether a scanner session still owns its identity. A session
// replaced by a newer authentication has already been finalized, so it moves
// to Closed and accepts nothing more.
func (s *Session) live() bool {
	if s.channel.Holds(s.entry) {
		return true
	}

	s.state = StateClosed
	s.logger.Debug().Msg("Dropping scan from superseded session")

	return false
}

func (s *Session) send(v interface{}) {
	sendTo(s.hub, s.logger, s.peer, v)
}

func sendTo(h *Hub, log logger.Logger, p Peer, v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode message")

		return
	}

	if err := p.Send(payload); err != nil {
		log.Warn().Err(err).Str("conn_id", p.ID()).Msg("Failed to send message")
		h.metrics.SendFailed()
	}
}

func (s *Session) authenticate(ctx context.Context, msg *inbound) {
	ctx, span := tracer.Start(ctx, "relay.auth", trace.WithAttributes(
		attribute.String("relay.channel", msg.Channel),
		attribute.String("relay.conn_id", s.peer.ID()),
	))
	defer span.End()

	hint := Role(msg.Role)
	if hint != RoleScanner && hint != RoleListener {
		hint = ""
	}

	creds, err := s.hub.resolver.Resolve(msg.Channel, msg.Password, hint)
	if err != nil {
		reason := authFailureReason(err)
		span.SetStatus(codes.Error, reason)

		s.logger.Info().Str("channel", msg.Channel).Str("reason", reason).Msg("Authentication failed")
		s.hub.metrics.AuthFailed(reason)
		s.send(AuthResponse{Type: TypeAuth, Status: StatusFail, Error: reason})

		return
	}

	ch, ok := s.hub.registry.Channel(creds.Channel)
	if !ok {
		s.send(AuthResponse{Type: TypeAuth, Status: StatusFail, Error: reasonUnknownChannel})

		return
	}

	span.SetAttributes(attribute.String("relay.role", string(creds.Role)))

	switch creds.Role {
	case RoleScanner:
		s.becomeScanner(ch, msg)
	case RoleListener:
		s.becomeListener(ctx, ch)
	}
}

func (s *Session) becomeScanner(ch *Channel, msg *inbound) {
	id := scannerIdentity(msg.ScannerID, msg.Metadata)
	now := s.hub.now()
	ip := s.peer.RemoteIP()

	meta := make(map[string]interface{}, len(msg.Metadata)+7)
	for k, v := range msg.Metadata {
		meta[k] = v
	}

	meta["scanner_user_id"] = id
	meta["name"] = deviceName(msg.Metadata)
	meta["ip"] = ip
	meta["last_connected"] = formatTime(now)
	meta["channel"] = ch.Name()
	s.hub.geo.Annotate(meta, ip)

	entry := &ScannerEntry{
		ID:          id,
		Channel:     ch.Name(),
		Peer:        s.peer,
		Metadata:    meta,
		ConnectedAt: now,
	}

	s.state = StateScanner
	s.channel = ch
	s.entry = entry
	s.logger = logger.Wrap(s.logger.With().
		Str("channel", ch.Name()).
		Str("role", string(RoleScanner)).
		Str("scanner_id", id).
		Logger())

	if limit := s.hub.cfg.ScanRateLimit; limit > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(limit), s.hub.cfg.ScanBurst)
	}

	// Registered before the ack so a client reacting to it sees itself listed.
	if prev := ch.AddScanner(entry); prev != nil && prev.Peer != s.peer {
		s.logger.Info().Str("superseded_conn_id", prev.Peer.ID()).Msg("Scanner identity reconnected, superseding previous session")
		s.hub.finalize(prev, reasonSuperseded)
		prev.Peer.Terminate()
	}

	s.send(AuthResponse{
		Type:    TypeAuth,
		Status:  StatusSuccess,
		Role:    RoleScanner,
		Channel: ch.Name(),
		UserID:  id,
	})

	s.hub.recorder.ScannerConnected(entry)

	s.logger.Info().Str("device", deviceName(msg.Metadata)).Msg("Scanner authenticated")
}

func (s *Session) becomeListener(ctx context.Context, ch *Channel) {
	s.state = StateListener
	s.channel = ch
	s.logger = logger.Wrap(s.logger.With().
		Str("channel", ch.Name()).
		Str("role", string(RoleListener)).
		Logger())

	s.send(AuthResponse{
		Type:    TypeAuth,
		Status:  StatusSuccess,
		Role:    RoleListener,
		Channel: ch.Name(),
		UserID:  s.peer.ID(),
	})

	ch.AddListener(s.peer)

	if scans := s.hub.recorder.History(ctx, ch.Name()); len(scans) > 0 {
		s.send(History{Type: TypeHistory, Scans: scans})
	}

	s.logger.Info().Msg("Listener authenticated")
}

func (s *Session) handleScan(ctx context.Context, msg *inbound) {
	_, span := tracer.Start(ctx, "relay.scan", trace.WithAttributes(
		attribute.String("relay.channel", s.channel.Name()),
		attribute.String("relay.scanner_id", s.entry.ID),
	))
	defer span.End()

	if s.limiter != nil && !s.limiter.Allow() {
		s.logger.Debug().Msg("Scan rate limit exceeded, dropping scan")

		return
	}

	data, ok := parseString(msg.Data)
	if !ok {
		s.logger.Debug().Msg("Dropping scan without string data")

		return
	}

	now := s.hub.now()

	scanTime, ok := parseString(msg.Time)
	if !ok || scanTime == "" {
		scanTime = formatTime(now)
	}

	rec := &models.ScanRecord{
		Time:        scanTime,
		ReceivedAt:  now,
		Channel:     s.channel.Name(),
		ScannerID:   s.entry.ID,
		UserID:      s.entry.ID,
		IP:          s.peer.RemoteIP(),
		Data:        data,
		ScannerInfo: s.entry.Metadata,
	}

	num, hasNum := parseNum(msg.Num)
	if hasNum {
		rec.Num = &num
		span.SetAttributes(attribute.Int64("relay.num", num))
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode scan record")

		return
	}

	s.entry.scans.Add(1)

	s.hub.recorder.ScanAccepted(rec, payload)
	s.hub.broadcaster.Scan(s.channel, rec)
	s.hub.metrics.ScanRelayed(rec.Channel)

	if hasNum {
		s.send(Received{Type: TypeReceived, Num: num, Status: StatusSuccess})
	}
}

func (s *Session) handleResend(ctx context.Context, msg *inbound) {
	_, span := tracer.Start(ctx, "relay.resend_request", trace.WithAttributes(
		attribute.String("relay.channel", s.channel.Name()),
	))
	defer span.End()

	num, ok := parseNum(msg.Num)
	if !ok {
		s.logger.Debug().Msg("Dropping resend request without a valid num")

		return
	}

	var (
		target *ScannerEntry
		found  bool
	)

	targetID := strings.TrimSpace(msg.ScannerID)

	switch {
	case targetID != "":
		target, found = s.channel.LookupScanner(targetID)
	case msg.IP != "":
		target, found = s.channel.FindScannerByIP(normalizeIP(msg.IP))
	default:
		s.logger.Debug().Msg("Dropping resend request without a target")

		return
	}

	span.SetAttributes(attribute.Bool("relay.target_found", found))

	if !found {
		s.logger.Debug().
			Str("target_scanner_id", targetID).
			Str("target_ip", msg.IP).
			Int64("num", num).
			Msg("Resend target not connected, dropping request")

		return
	}

	sendTo(s.hub, s.logger, target.Peer, Resend{Type: TypeResend, Num: num})
	s.hub.metrics.ResendForwarded(s.channel.Name())

	s.logger.Debug().Str("target_scanner_id", target.ID).Int64("num", num).Msg("Forwarded resend request")
}

// Close moves the session to its terminal state. Scanners are removed from
// the directory and their session history is written; listeners are removed
// from the count. Calling Close again is a no-op.
func (s *Session) Close(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.state
	if prev == StateClosed {
		return
	}

	s.state = StateClosed

	switch prev {
	case StateScanner:
		s.channel.RemoveScanner(s.entry)
		s.hub.finalize(s.entry, reason)
		s.logger.Info().Str("reason", reason).Int64("scans", s.entry.Scans()).Msg("Scanner disconnected")
	case StateListener:
		s.channel.RemoveListener(s.peer)
		s.logger.Info().Str("reason", reason).Msg("Listener disconnected")
	case StateUnauthenticated, StateClosed:
	}
}
