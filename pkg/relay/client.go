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
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/carverauto/scanrelay/pkg/logger"
)

const writeWait = 10 * time.Second

// Client is a websocket connection. Writes are funneled through a buffered
// queue drained by WritePump, so Send never blocks the caller.
type Client struct {
	id       string
	remoteIP string
	conn     *websocket.Conn
	logger   logger.Logger

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	alive     atomic.Bool
}

func NewClient(conn *websocket.Conn, remoteIP string, sendBuffer int, log logger.Logger) *Client {
	c := &Client{
		id:       uuid.NewString(),
		remoteIP: remoteIP,
		conn:     conn,
		logger:   log,
		send:     make(chan []byte, sendBuffer),
		done:     make(chan struct{}),
	}

	c.alive.Store(true)

	return c
}

func (c *Client) ID() string {
	return c.id
}

func (c *Client) RemoteIP() string {
	return c.remoteIP
}

func (c *Client) Send(msg []byte) error {
	select {
	case <-c.done:
		return ErrPeerClosed
	default:
	}

	select {
	case c.send <- msg:
		return nil
	case <-c.done:
		return ErrPeerClosed
	default:
		return ErrSendBufferFull
	}
}

// Terminate closes the connection without a close handshake. Pending
// sends are discarded.
func (c *Client) Terminate() {
	c.closeOnce.Do(func() {
		close(c.done)

		if err := c.conn.Close(); err != nil {
			c.logger.Debug().Err(err).Str("conn_id", c.id).Msg("Error closing connection")
		}
	})
}

func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) Responded() bool {
	return c.alive.Swap(false)
}

func (c *Client) Ping() error {
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// WritePump writes queued messages until the client is terminated or a
// write fails.
func (c *Client) WritePump() {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.Terminate()

				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logger.Debug().Err(err).Str("conn_id", c.id).Msg("Write failed, closing connection")
				c.Terminate()

				return
			}
		}
	}
}

// ReadPump feeds inbound frames to session until the connection fails.
// Liveness is left to the Monitor, so no read deadline is set.
func (c *Client) ReadPump(ctx context.Context, session *Session, maxMessageBytes int64) {
	if maxMessageBytes > 0 {
		c.conn.SetReadLimit(maxMessageBytes)
	}

	c.conn.SetPongHandler(func(string) error {
		c.alive.Store(true)

		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug().Err(err).Str("conn_id", c.id).Msg("Connection read failed")
			}

			return
		}

		session.Handle(ctx, data)
	}
}
