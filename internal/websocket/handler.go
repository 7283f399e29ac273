// Classhub - Classroom Chat Message Distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/classhub

package websocket

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tomtom215/classhub/internal/logging"
	"github.com/tomtom215/classhub/internal/principal"
)

// Handler upgrades HTTP requests to authenticated chat connections.
type Handler struct {
	hub      *Hub
	resolver *principal.Resolver
	upgrader websocket.Upgrader
}

// NewHandler creates the /ws upgrade handler. checkOrigin nil allows
// all origins; the HTTP layer's CORS policy still applies to the
// handshake request.
func NewHandler(hub *Hub, resolver *principal.Resolver, checkOrigin func(*http.Request) bool) *Handler {
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Handler{
		hub:      hub,
		resolver: resolver,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
	}
}

// credential extracts the bearer token from the Authorization header or
// the token query parameter. Browsers cannot set headers on WebSocket
// handshakes, hence the query fallback.
func credential(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

// ServeHTTP upgrades the connection, authenticates it, and hands it to
// the hub. Authentication failure is answered with an auth_error frame
// before closing, so browser clients can distinguish a rejected
// credential from a network fault.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Err(err).Msg("websocket upgrade failed")
		return
	}

	p, err := h.resolver.Resolve(r.Context(), credential(r))
	if err != nil {
		logging.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("connection refused")
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = conn.WriteJSON(OutboundFrame{
			Type:   FrameTypeAuthError,
			Reason: "credential rejected",
		})
		_ = conn.Close()
		return
	}

	client := NewClient(h.hub, conn, p)
	h.hub.Register <- client
	client.Start()
}
