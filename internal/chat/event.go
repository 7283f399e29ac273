// Classhub - Classroom Chat Message Distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/classhub

// Package chat holds the message pipeline's core domain: the chat event
// model, room membership, the authorization gate, and delivery
// deduplication. Everything here is instance-local and transport-free;
// the bus and websocket packages wire it to the network.
package chat

import (
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Event kinds carried on the fan-out subjects. Message events are also
// appended to the durable log; retract markers are fan-out only.
const (
	KindMessage = "message"
	KindRetract = "retract"
)

const (
	// FanoutSubjectPrefix is the core NATS subject space for live
	// delivery, one subject per room.
	FanoutSubjectPrefix = "chat.room."

	// FanoutWildcard is the subscription every instance holds; room
	// filtering happens in-process against the membership table.
	FanoutWildcard = "chat.room.>"

	// DurableSubjectPrefix is the JetStream subject space for the
	// durable log, one subject per room so per-room order survives.
	DurableSubjectPrefix = "chat.event."

	// DurableWildcard covers every room's durable subject.
	DurableWildcard = "chat.event.>"
)

// ChatEvent is an accepted message. Immutable once created; EventID is
// both the dedup key and the storage key.
type ChatEvent struct {
	EventID    string    `json:"event_id"`
	Kind       string    `json:"kind"`
	RoomID     string    `json:"room_id"`
	SenderID   string    `json:"sender_id"`
	SenderRole string    `json:"sender_role"`
	Payload    string    `json:"payload"`
	AcceptedAt time.Time `json:"accepted_at"`
}

// NewChatEvent stamps a message with server-assigned identity: a fresh
// event ID and the acceptance timestamp. Client-supplied IDs are never
// trusted.
func NewChatEvent(roomID, senderID, senderRole, payload string) ChatEvent {
	return ChatEvent{
		EventID:    uuid.NewString(),
		Kind:       KindMessage,
		RoomID:     roomID,
		SenderID:   senderID,
		SenderRole: senderRole,
		Payload:    payload,
		AcceptedAt: time.Now().UTC(),
	}
}

// NewRetractEvent creates a retraction marker for a previously accepted
// event. Carries its own event ID so the dedup path treats it like any
// other delivery.
func NewRetractEvent(roomID, senderID, senderRole, retractedEventID string) ChatEvent {
	return ChatEvent{
		EventID:    uuid.NewString(),
		Kind:       KindRetract,
		RoomID:     roomID,
		SenderID:   senderID,
		SenderRole: senderRole,
		Payload:    retractedEventID,
		AcceptedAt: time.Now().UTC(),
	}
}

// Validate checks structural integrity before the event enters the
// pipeline.
func (e ChatEvent) Validate() error {
	if e.EventID == "" {
		return fmt.Errorf("event id required")
	}
	if e.Kind != KindMessage && e.Kind != KindRetract {
		return fmt.Errorf("unknown event kind %q", e.Kind)
	}
	if e.RoomID == "" {
		return fmt.Errorf("room id required")
	}
	if strings.ContainsAny(e.RoomID, ".*> \t") {
		return fmt.Errorf("room id %q contains subject-reserved characters", e.RoomID)
	}
	if e.SenderID == "" {
		return fmt.Errorf("sender id required")
	}
	if e.AcceptedAt.IsZero() {
		return fmt.Errorf("accepted_at required")
	}
	return nil
}

// FanoutSubject returns the live-delivery subject for the event's room.
func (e ChatEvent) FanoutSubject() string {
	return FanoutSubjectPrefix + e.RoomID
}

// DurableSubject returns the durable-log subject for the event's room.
func (e ChatEvent) DurableSubject() string {
	return DurableSubjectPrefix + e.RoomID
}

// Marshal serializes the event for the wire and for storage.
func (e ChatEvent) Marshal() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal event %s: %w", e.EventID, err)
	}
	return data, nil
}

// UnmarshalEvent deserializes an event and validates it.
func UnmarshalEvent(data []byte) (ChatEvent, error) {
	var e ChatEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return ChatEvent{}, fmt.Errorf("unmarshal event: %w", err)
	}
	if err := e.Validate(); err != nil {
		return ChatEvent{}, fmt.Errorf("invalid event: %w", err)
	}
	return e, nil
}
