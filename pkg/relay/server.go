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
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"

	"github.com/carverauto/scanrelay/pkg/logger"
	"github.com/carverauto/scanrelay/pkg/metrics"
	"github.com/carverauto/scanrelay/pkg/models"
)

const (
	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 10 * time.Second
)

// Server accepts websocket upgrades and runs one Session per connection.
type Server struct {
	cfg      *models.RelayConfig
	hub      *Hub
	monitor  *Monitor
	upgrader websocket.Upgrader
	logger   logger.Logger
	metrics  *metrics.Relay

	baseCtx context.Context

	mu       sync.Mutex
	stopping bool
	stopped  chan struct{}
	conns    sync.WaitGroup
}

func NewServer(cfg *models.RelayConfig, hub *Hub, log logger.Logger, m *metrics.Relay) *Server {
	return &Server{
		cfg:     cfg,
		hub:     hub,
		monitor: NewMonitor(cfg.HeartbeatInterval.Std(), log.WithComponent("liveness"), m),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger:  log,
		metrics: m,
		baseCtx: context.Background(),
		stopped: make(chan struct{}),
	}
}

func (s *Server) Monitor() *Monitor {
	return s.monitor
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+s.cfg.Path, s.serveWS)

	return mux
}

// acquire registers a connection unless the server is shutting down.
func (s *Server) acquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopping {
		return false
	}

	s.conns.Add(1)

	return true
}

func (s *Server) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.stopping {
		s.stopping = true
		close(s.stopped)
	}
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	if !s.acquire() {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)

		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.conns.Done()
		s.logger.Debug().Err(err).Str("remote_addr", r.RemoteAddr).Msg("Websocket upgrade failed")

		return
	}

	ip := clientIP(r, s.cfg.TrustProxyHeaders)
	client := NewClient(conn, ip, s.cfg.SendBuffer, s.logger)
	session := s.hub.NewSession(client)

	s.monitor.Track(client)
	s.metrics.ConnectionOpened()
	s.logger.Debug().Str("conn_id", client.ID()).Str("remote_ip", ip).Msg("Connection accepted")

	// Shutdown may have swept the monitor before Track.
	select {
	case <-s.stopped:
		client.Terminate()
	default:
	}

	go client.WritePump()

	go func() {
		defer s.conns.Done()

		client.ReadPump(s.baseCtx, session, s.cfg.MaxMessageBytes)

		session.Close(reasonDisconnected)
		client.Terminate()
		s.monitor.Untrack(client)
		s.metrics.ConnectionClosed()
	}()
}

// clientIP returns the peer address, or the first X-Forwarded-For hop when
// proxy headers are trusted.
func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if first = strings.TrimSpace(first); first != "" {
				return normalizeIP(first)
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}

	return normalizeIP(host)
}

// Run listens on the configured address and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	var lc net.ListenConfig

	ln, err := lc.Listen(ctx, "tcp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}

	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done, then terminates every
// live connection and waits for their sessions to close.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if s.cfg.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, s.cfg.MaxConnections)
	}

	s.baseCtx = ctx

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	s.logger.Info().Str("addr", ln.Addr().String()).Str("path", s.cfg.Path).Msg("Relay listening")

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.monitor.Start(gctx)

		return nil
	})

	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		s.stop()
		err := srv.Shutdown(shutdownCtx)

		s.monitor.TerminateAll()
		s.conns.Wait()

		s.logger.Info().Msg("Relay stopped")

		return err
	})

	return g.Wait()
}
