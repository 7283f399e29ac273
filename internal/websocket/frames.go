// Classhub - Classroom Chat Message Distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/classhub

package websocket

import (
	"github.com/tomtom215/classhub/internal/chat"
)

// Frame types sent by clients.
const (
	FrameTypeMessage = "message"
	FrameTypeJoin    = "join"
	FrameTypeLeave   = "leave"
	FrameTypePing    = "ping"
)

// Frame types sent by the server.
const (
	FrameTypeEvent     = "message"
	FrameTypeRetract   = "retract"
	FrameTypeHistory   = "history"
	FrameTypeJoined    = "joined"
	FrameTypeLeft      = "left"
	FrameTypePong      = "pong"
	FrameTypeAuthError = "auth_error"
	FrameTypeError     = "error"
)

// Error codes carried on error frames.
const (
	ErrorCodeUnauthorized = "unauthorized"
	ErrorCodeRateLimited  = "rate_limited"
	ErrorCodeTooLarge     = "payload_too_large"
	ErrorCodeSendFailed   = "send_error"
	ErrorCodeBadFrame     = "bad_frame"
)

// InboundFrame is a client-to-server frame.
type InboundFrame struct {
	Type    string `json:"type"`
	RoomID  string `json:"room_id,omitempty"`
	Payload string `json:"payload,omitempty"`
}

// OutboundFrame is a server-to-client frame. Exactly one of the data
// fields is set, keyed by Type.
type OutboundFrame struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id,omitempty"`

	// Event carries a single chat event for message and retract frames.
	Event *chat.ChatEvent `json:"event,omitempty"`

	// Events carries the replay batch for history frames, oldest first.
	Events []chat.ChatEvent `json:"events,omitempty"`

	// Code and Reason describe error frames.
	Code   string `json:"code,omitempty"`
	Reason string `json:"reason,omitempty"`
}

func eventFrame(event chat.ChatEvent) OutboundFrame {
	frameType := FrameTypeEvent
	if event.Kind == chat.KindRetract {
		frameType = FrameTypeRetract
	}
	return OutboundFrame{
		Type:   frameType,
		RoomID: event.RoomID,
		Event:  &event,
	}
}

func errorFrame(roomID, code, reason string) OutboundFrame {
	return OutboundFrame{
		Type:   FrameTypeError,
		RoomID: roomID,
		Code:   code,
		Reason: reason,
	}
}

func historyFrame(roomID string, events []chat.ChatEvent) OutboundFrame {
	return OutboundFrame{
		Type:   FrameTypeHistory,
		RoomID: roomID,
		Events: events,
	}
}
