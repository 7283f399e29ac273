// Classhub - Classroom Chat Message Distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/classhub

package websocket

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/tomtom215/classhub/internal/chat"
	"github.com/tomtom215/classhub/internal/logging"
	"github.com/tomtom215/classhub/internal/principal"
)

const (
	writeWait     = 10 * time.Second
	pongWait      = 60 * time.Second
	pingPeriod    = (pongWait * 9) / 10
	readSlack     = 4 * 1024 // frame envelope on top of the payload cap
	sendBufferLen = 256
)

// Client is one authenticated WebSocket connection. Its read pump is
// the single consumer of inbound frames, so per-sender processing is
// sequential by construction.
type Client struct {
	connID    string
	hub       *Hub
	conn      *websocket.Conn
	principal *principal.Principal
	limiter   *rate.Limiter

	// sendMu orders enqueue against closeSend: the read pump keeps
	// handling frames while the hub may be dropping this client.
	sendMu     sync.Mutex
	sendClosed bool
	send       chan OutboundFrame
}

// NewClient creates a client for an upgraded, authenticated connection.
func NewClient(hub *Hub, conn *websocket.Conn, p *principal.Principal) *Client {
	burst := hub.config.SendBurst
	if burst <= 0 {
		burst = 1
	}
	limit := rate.Limit(hub.config.SendRate)
	if hub.config.SendRate <= 0 {
		limit = rate.Inf
	}

	return &Client{
		connID:    uuid.NewString(),
		hub:       hub,
		conn:      conn,
		principal: p,
		limiter:   rate.NewLimiter(limit, burst),
		send:      make(chan OutboundFrame, sendBufferLen),
	}
}

// ConnID returns the connection's identifier.
func (c *Client) ConnID() string {
	return c.connID
}

// enqueue offers a frame to the client without blocking. A full buffer
// drops the frame; the hub separately drops clients that stall on
// chat traffic. Frames offered after the hub closed the channel are
// dropped.
func (c *Client) enqueue(frame OutboundFrame) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.sendClosed {
		return
	}
	select {
	case c.send <- frame:
	default:
		logging.Warn().
			Str("conn_id", c.connID).
			Str("frame_type", frame.Type).
			Msg("send buffer full, dropping frame")
	}
}

// closeSend closes the send channel exactly once and stops further
// enqueues. Only the hub calls this.
func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.sendClosed {
		return
	}
	c.sendClosed = true
	close(c.send)
}

// Start begins the read and write pumps.
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}

// readPump consumes inbound frames until the connection dies, then
// unregisters the client.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister <- c
		_ = c.conn.Close()
	}()

	readLimit := int64(c.hub.config.MaxPayloadBytes + readSlack)
	if c.hub.config.MaxPayloadBytes <= 0 {
		readLimit = 512 * 1024
	}
	c.conn.SetReadLimit(readLimit)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logging.Error().Err(err).Msg("failed to set read deadline")
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var frame InboundFrame
		if err := c.conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Error().Err(err).Str("conn_id", c.connID).Msg("unexpected websocket close")
			}
			return
		}
		c.handleFrame(frame)
	}
}

// handleFrame dispatches one inbound frame. Frame-level failures are
// answered on the connection; the connection itself stays up.
func (c *Client) handleFrame(frame InboundFrame) {
	switch frame.Type {
	case FrameTypePing:
		c.enqueue(OutboundFrame{Type: FrameTypePong})

	case FrameTypeJoin:
		if err := c.hub.joinRoom(c, frame.RoomID); err != nil {
			c.enqueue(errorFrame(frame.RoomID, ErrorCodeUnauthorized, "not authorized for room"))
		}

	case FrameTypeLeave:
		c.hub.leaveRoom(c, frame.RoomID)

	case FrameTypeMessage:
		if _, err := c.hub.HandleSend(context.Background(), c, frame.RoomID, frame.Payload); err != nil {
			c.enqueue(sendErrorFrame(frame.RoomID, err))
		}

	default:
		c.enqueue(errorFrame(frame.RoomID, ErrorCodeBadFrame, "unknown frame type "+frame.Type))
	}
}

// sendErrorFrame maps a pipeline rejection to its wire form.
func sendErrorFrame(roomID string, err error) OutboundFrame {
	switch {
	case errors.Is(err, chat.ErrUnauthorized):
		return errorFrame(roomID, ErrorCodeUnauthorized, "not authorized to send")
	case errors.Is(err, chat.ErrRateLimited):
		return errorFrame(roomID, ErrorCodeRateLimited, "sending too fast")
	case errors.Is(err, chat.ErrPayloadTooLarge):
		return errorFrame(roomID, ErrorCodeTooLarge, "payload exceeds limit")
	default:
		return errorFrame(roomID, ErrorCodeSendFailed, "message not accepted, retry")
	}
}

// writePump writes outbound frames and keepalive pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logging.Error().Err(err).Msg("failed to set write deadline")
				return
			}
			if !ok {
				// The hub closed the channel.
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(frame); err != nil {
				logging.Error().Err(err).Str("conn_id", c.connID).Msg("failed to write frame")
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logging.Error().Err(err).Msg("failed to set write deadline for ping")
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
