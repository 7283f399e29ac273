// Classhub - Classroom Chat Message Distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/classhub

package chat

import (
	"testing"
	"time"
)

func TestNewChatEventAssignsIdentity(t *testing.T) {
	before := time.Now().UTC()
	e := NewChatEvent("math-7", "teacher-1", "teacher", "homework is due friday")

	if e.EventID == "" {
		t.Fatal("event id not assigned")
	}
	if e.Kind != KindMessage {
		t.Errorf("kind = %q, want %q", e.Kind, KindMessage)
	}
	if e.AcceptedAt.Before(before) {
		t.Errorf("accepted_at %v before creation time %v", e.AcceptedAt, before)
	}
	if err := e.Validate(); err != nil {
		t.Errorf("fresh event invalid: %v", err)
	}

	other := NewChatEvent("math-7", "teacher-1", "teacher", "homework is due friday")
	if other.EventID == e.EventID {
		t.Error("two events share an event id")
	}
}

func TestEventSubjects(t *testing.T) {
	e := NewChatEvent("math-7", "teacher-1", "teacher", "hi")

	if got := e.FanoutSubject(); got != "chat.room.math-7" {
		t.Errorf("FanoutSubject() = %q", got)
	}
	if got := e.DurableSubject(); got != "chat.event.math-7" {
		t.Errorf("DurableSubject() = %q", got)
	}
}

func TestEventValidate(t *testing.T) {
	valid := NewChatEvent("math-7", "teacher-1", "teacher", "hi")

	tests := []struct {
		name    string
		mutate  func(*ChatEvent)
		wantErr bool
	}{
		{"valid", func(e *ChatEvent) {}, false},
		{"empty payload ok", func(e *ChatEvent) { e.Payload = "" }, false},
		{"missing event id", func(e *ChatEvent) { e.EventID = "" }, true},
		{"unknown kind", func(e *ChatEvent) { e.Kind = "announcement" }, true},
		{"missing room", func(e *ChatEvent) { e.RoomID = "" }, true},
		{"room with wildcard", func(e *ChatEvent) { e.RoomID = "math.>" }, true},
		{"room with space", func(e *ChatEvent) { e.RoomID = "math 7" }, true},
		{"missing sender", func(e *ChatEvent) { e.SenderID = "" }, true},
		{"zero timestamp", func(e *ChatEvent) { e.AcceptedAt = time.Time{} }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := valid
			tt.mutate(&e)
			err := e.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEventRoundTrip(t *testing.T) {
	e := NewChatEvent("math-7", "teacher-1", "teacher", "quiz moved to monday")

	data, err := e.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	got, err := UnmarshalEvent(data)
	if err != nil {
		t.Fatalf("UnmarshalEvent: %v", err)
	}
	if got.EventID != e.EventID || got.RoomID != e.RoomID || got.Payload != e.Payload {
		t.Errorf("round trip mismatch: %+v vs %+v", got, e)
	}
	if !got.AcceptedAt.Equal(e.AcceptedAt) {
		t.Errorf("accepted_at mismatch: %v vs %v", got.AcceptedAt, e.AcceptedAt)
	}
}

func TestUnmarshalEventRejectsInvalid(t *testing.T) {
	if _, err := UnmarshalEvent([]byte("{not json")); err == nil {
		t.Error("expected error for malformed json")
	}
	if _, err := UnmarshalEvent([]byte(`{"event_id":"","room_id":"r"}`)); err == nil {
		t.Error("expected error for invalid event")
	}
}

func TestRetractEvent(t *testing.T) {
	e := NewRetractEvent("math-7", "admin-1", "admin", "orig-event-id")

	if e.Kind != KindRetract {
		t.Errorf("kind = %q, want %q", e.Kind, KindRetract)
	}
	if e.Payload != "orig-event-id" {
		t.Errorf("payload = %q, want retracted event id", e.Payload)
	}
	if err := e.Validate(); err != nil {
		t.Errorf("retract event invalid: %v", err)
	}
}
