// Classhub - Classroom Chat Message Distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/classhub

package websocket

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/tomtom215/classhub/internal/chat"
	"github.com/tomtom215/classhub/internal/logging"
	"github.com/tomtom215/classhub/internal/metrics"
	"github.com/tomtom215/classhub/internal/principal"
)

// FanoutBus publishes accepted events to sibling instances.
type FanoutBus interface {
	PublishAsync(event chat.ChatEvent)
}

// DurableAppender is the synchronous durable log append.
type DurableAppender interface {
	Append(ctx context.Context, event chat.ChatEvent) error
}

// HistoryReader serves the replay read on room join.
type HistoryReader interface {
	RecentByRoom(roomID string, limit int) ([]chat.ChatEvent, error)
}

// Config holds hub tuning.
type Config struct {
	// HistoryLimit is how many events a joining client replays.
	HistoryLimit int

	// MaxPayloadBytes caps a single message payload.
	MaxPayloadBytes int

	// SendRate and SendBurst bound each connection's message rate.
	SendRate  float64
	SendBurst int
}

// Hub owns the connection set and the send pipeline. One hub per
// instance; cross-instance traffic arrives through HandleFanout.
type Hub struct {
	config  Config
	gate    *chat.Gate
	dedup   *chat.Deduplicator
	table   *chat.Table
	fanout  FanoutBus
	durable DurableAppender
	history HistoryReader

	Register   chan *Client
	Unregister chan *Client

	mu      sync.RWMutex
	clients map[string]*Client
}

// NewHub creates a hub.
func NewHub(cfg Config, gate *chat.Gate, dedup *chat.Deduplicator, fanout FanoutBus, durable DurableAppender, history HistoryReader) *Hub {
	return &Hub{
		config:     cfg,
		gate:       gate,
		dedup:      dedup,
		table:      chat.NewTable(),
		fanout:     fanout,
		durable:    durable,
		history:    history,
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		clients:    make(map[string]*Client),
	}
}

// Run processes client lifecycle events until the context is canceled.
// Designed for suture supervision: on cancellation every client is
// closed and the method returns ctx.Err().
//
// DETERMINISM: shutdown has priority over lifecycle events so a
// canceled hub never admits a new client first.
func (h *Hub) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.closeAllClients()
			logging.Info().
				Str("component", "websocket-hub").
				Msg("websocket hub stopped")
			return ctx.Err()
		default:
		}

		select {
		case <-ctx.Done():
			h.closeAllClients()
			logging.Info().
				Str("component", "websocket-hub").
				Msg("websocket hub stopped")
			return ctx.Err()

		case client := <-h.Register:
			h.registerClient(client)

		case client := <-h.Unregister:
			h.removeClient(client.connID)
		}
	}
}

// registerClient admits a client and auto-joins it to every room its
// principal is authorized for, replaying recent history per room.
func (h *Hub) registerClient(c *Client) {
	h.mu.Lock()
	h.clients[c.connID] = c
	total := len(h.clients)
	h.mu.Unlock()

	metrics.SetWebSocketConnections(total)

	rooms := c.principal.AuthorizedRooms()
	sort.Strings(rooms)
	for _, roomID := range rooms {
		if err := h.joinRoom(c, roomID); err != nil {
			logging.Err(err).
				Str("user_id", c.principal.ID).
				Str("room_id", roomID).
				Msg("auto-join failed")
		}
	}

	logging.Info().
		Str("user_id", c.principal.ID).
		Str("role", string(c.principal.Role)).
		Int("rooms", len(rooms)).
		Int("total_clients", total).
		Msg("websocket client connected")
}

// joinRoom adds the client to a room and replays recent history to it.
func (h *Hub) joinRoom(c *Client, roomID string) error {
	if err := h.table.Join(c.connID, roomID, c.principal); err != nil {
		return err
	}
	metrics.SetRoomsActive(h.table.RoomCount())

	c.enqueue(OutboundFrame{Type: FrameTypeJoined, RoomID: roomID})

	if h.history == nil || h.config.HistoryLimit <= 0 {
		return nil
	}
	events, err := h.history.RecentByRoom(roomID, h.config.HistoryLimit)
	if err != nil {
		// Replay is best-effort; membership already succeeded.
		logging.Err(err).Str("room_id", roomID).Msg("history replay read failed")
		return nil
	}
	c.enqueue(historyFrame(roomID, events))
	metrics.RecordHistoryReplay()
	return nil
}

// leaveRoom removes the client from a room.
func (h *Hub) leaveRoom(c *Client, roomID string) {
	h.table.Leave(c.connID, roomID)
	metrics.SetRoomsActive(h.table.RoomCount())
	c.enqueue(OutboundFrame{Type: FrameTypeLeft, RoomID: roomID})
}

// removeClient drops a client from the hub and every room. Idempotent;
// exactly one caller wins the close of the send channel.
func (h *Hub) removeClient(connID string) {
	h.mu.Lock()
	client, ok := h.clients[connID]
	if ok {
		delete(h.clients, connID)
		// Holding h.mu excludes deliverLocal's direct channel sends;
		// closeSend itself excludes concurrent enqueue calls.
		client.closeSend()
	}
	total := len(h.clients)
	h.mu.Unlock()

	if !ok {
		return
	}

	h.table.RemoveConnection(connID)
	metrics.SetWebSocketConnections(total)
	metrics.SetRoomsActive(h.table.RoomCount())

	logging.Info().
		Str("user_id", client.principal.ID).
		Int("total_clients", total).
		Msg("websocket client disconnected")
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	ids := make([]string, 0, len(h.clients))
	for id := range h.clients {
		ids = append(ids, id)
	}
	h.mu.Unlock()

	// DETERMINISM: close in sorted order.
	sort.Strings(ids)
	for _, id := range ids {
		h.removeClient(id)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleSend runs the accept pipeline for an inbound message. The
// returned error classifies the rejection; nil means the message was
// accepted and durably appended.
func (h *Hub) HandleSend(ctx context.Context, c *Client, roomID, payload string) (chat.ChatEvent, error) {
	if !h.gate.CanPublish(c.principal, roomID) {
		metrics.RecordRejected("unauthorized")
		return chat.ChatEvent{}, fmt.Errorf("%w: %s may not send to room %s",
			chat.ErrUnauthorized, c.principal.ID, roomID)
	}
	if h.config.MaxPayloadBytes > 0 && len(payload) > h.config.MaxPayloadBytes {
		metrics.RecordRejected("too_large")
		return chat.ChatEvent{}, fmt.Errorf("%w: %d bytes", chat.ErrPayloadTooLarge, len(payload))
	}
	if !c.limiter.Allow() {
		metrics.RecordRejected("rate_limited")
		return chat.ChatEvent{}, fmt.Errorf("%w: user %s", chat.ErrRateLimited, c.principal.ID)
	}

	event := chat.NewChatEvent(roomID, c.principal.ID, string(c.principal.Role), payload)
	if err := event.Validate(); err != nil {
		metrics.RecordRejected("invalid")
		return chat.ChatEvent{}, fmt.Errorf("%w: %v", chat.ErrUnauthorized, err)
	}

	return event, h.accept(ctx, event)
}

// accept runs the pipeline for an already-validated event: local
// delivery, synchronous durable append, async fan-out.
func (h *Hub) accept(ctx context.Context, event chat.ChatEvent) error {
	h.deliverLocal(event)

	if err := h.durable.Append(ctx, event); err != nil {
		metrics.RecordRejected("persistence")
		return err
	}

	// Marker before publish so the echo can never race ahead of it.
	h.dedup.MarkSelfDelivered(event.EventID)
	h.fanout.PublishAsync(event)

	metrics.RecordAccepted()
	return nil
}

// Broadcast sends the same payload into several rooms through the
// regular accept pipeline. Rooms failing the gate are reported in
// rejected rather than aborting the rest.
func (h *Hub) Broadcast(ctx context.Context, p *principal.Principal, roomIDs []string, payload string) (accepted []chat.ChatEvent, rejected []string, err error) {
	if h.config.MaxPayloadBytes > 0 && len(payload) > h.config.MaxPayloadBytes {
		return nil, nil, fmt.Errorf("%w: %d bytes", chat.ErrPayloadTooLarge, len(payload))
	}

	for _, roomID := range roomIDs {
		if !h.gate.CanPublish(p, roomID) {
			metrics.RecordRejected("unauthorized")
			rejected = append(rejected, roomID)
			continue
		}

		event := chat.NewChatEvent(roomID, p.ID, string(p.Role), payload)
		if err := h.accept(ctx, event); err != nil {
			return accepted, rejected, fmt.Errorf("broadcast to %s: %w", roomID, err)
		}
		accepted = append(accepted, event)
	}

	return accepted, rejected, nil
}

// EmitRetract distributes a retraction marker for an already-deleted
// event. The marker rides the fan-out plane only; instances that miss
// it converge the next time the room's history is read.
func (h *Hub) EmitRetract(p *principal.Principal, roomID, eventID string) (chat.ChatEvent, error) {
	if !h.gate.CanPublish(p, roomID) {
		return chat.ChatEvent{}, fmt.Errorf("%w: %s may not retract in room %s",
			chat.ErrUnauthorized, p.ID, roomID)
	}

	event := chat.NewRetractEvent(roomID, p.ID, string(p.Role), eventID)
	h.deliverLocal(event)
	h.dedup.MarkSelfDelivered(event.EventID)
	h.fanout.PublishAsync(event)
	return event, nil
}

// HandleFanout receives an event from the fan-out bus. The sending
// instance's own echo is suppressed here; everything else goes to the
// local members of the event's room.
func (h *Hub) HandleFanout(event chat.ChatEvent) {
	if h.dedup.WasSelfDelivered(event.EventID) {
		metrics.RecordDuplicateSuppressed()
		logging.Debug().
			Str("event_id", event.EventID).
			Str("room_id", event.RoomID).
			Msg("suppressed self-delivered fan-out echo")
		return
	}
	h.deliverLocal(event)
}

// deliverLocal hands the event to every local member of its room.
//
// DETERMINISM: members are visited in sorted connection order. A member
// with a full send buffer is dropped from the hub; a reader that slow
// has stopped consuming and will reconnect with a history replay.
func (h *Hub) deliverLocal(event chat.ChatEvent) {
	members := h.table.Members(event.RoomID)
	if len(members) == 0 {
		return
	}
	sort.Strings(members)

	frame := eventFrame(event)
	delivered := 0
	var stalled []string

	h.mu.RLock()
	for _, connID := range members {
		client, ok := h.clients[connID]
		if !ok {
			continue
		}
		select {
		case client.send <- frame:
			delivered++
		default:
			stalled = append(stalled, connID)
		}
	}
	h.mu.RUnlock()

	for _, connID := range stalled {
		logging.Warn().
			Str("conn_id", connID).
			Str("room_id", event.RoomID).
			Msg("send buffer full, dropping client")
		h.removeClient(connID)
	}

	metrics.RecordDelivered(delivered)
}
