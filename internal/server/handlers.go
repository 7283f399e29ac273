// Classhub - Classroom Chat Message Distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/classhub

package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"

	"github.com/tomtom215/classhub/internal/chat"
	"github.com/tomtom215/classhub/internal/logging"
	"github.com/tomtom215/classhub/internal/store"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Err(err).Msg("encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// handleHealth reports process and component health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	components := make(map[string]string, len(s.health))
	healthy := true
	for name, check := range s.health {
		if check(r.Context()) {
			components[name] = "ok"
		} else {
			components[name] = "unhealthy"
			healthy = false
		}
	}

	status := http.StatusOK
	overall := "ok"
	if !healthy {
		status = http.StatusServiceUnavailable
		overall = "degraded"
	}
	writeJSON(w, status, map[string]any{
		"status":     overall,
		"components": components,
		"clients":    s.hub.ClientCount(),
	})
}

// handleHistory returns the most recent events for a room, oldest
// first. The caller must be authorized for the room.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "no principal")
		return
	}
	roomID := chi.URLParam(r, "roomID")
	if !p.Authorized(roomID) {
		writeError(w, http.StatusForbidden, "not authorized for room")
		return
	}

	limit := s.config.HistoryLimit
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 1 || n > 1000 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	events, err := s.store.RecentByRoom(roomID, limit)
	if err != nil {
		logging.Err(err).Str("room_id", roomID).Msg("history read failed")
		writeError(w, http.StatusInternalServerError, "history unavailable")
		return
	}
	if events == nil {
		events = []chat.ChatEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"room_id": roomID,
		"events":  events,
	})
}

type broadcastRequest struct {
	RoomIDs []string `json:"room_ids"`
	Payload string   `json:"payload"`
}

// handleBroadcast sends one payload into several rooms through the
// regular accept pipeline. Rooms the caller may not publish into are
// reported, not fatal.
func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "no principal")
		return
	}

	var req broadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.RoomIDs) == 0 {
		writeError(w, http.StatusBadRequest, "room_ids required")
		return
	}

	accepted, rejected, err := s.hub.Broadcast(r.Context(), p, req.RoomIDs, req.Payload)
	if err != nil {
		switch {
		case errors.Is(err, chat.ErrPayloadTooLarge):
			writeError(w, http.StatusRequestEntityTooLarge, "payload exceeds limit")
		case errors.Is(err, chat.ErrPersistenceFailure):
			writeError(w, http.StatusServiceUnavailable, "message not accepted, retry")
		default:
			logging.Err(err).Msg("broadcast failed")
			writeError(w, http.StatusInternalServerError, "broadcast failed")
		}
		return
	}

	eventIDs := make([]string, 0, len(accepted))
	for _, e := range accepted {
		eventIDs = append(eventIDs, e.EventID)
	}
	status := http.StatusOK
	if len(accepted) == 0 {
		status = http.StatusForbidden
	}
	writeJSON(w, status, map[string]any{
		"accepted_event_ids": eventIDs,
		"rejected_rooms":     rejected,
	})
}

// handleRetract deletes an event from the archive and distributes a
// retraction marker. The marker is best-effort: instances that miss it
// converge on the next history read.
func (s *Server) handleRetract(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "no principal")
		return
	}
	roomID := chi.URLParam(r, "roomID")
	eventID := chi.URLParam(r, "eventID")

	if _, err := s.hub.EmitRetract(p, roomID, eventID); err != nil {
		writeError(w, http.StatusForbidden, "not authorized to retract")
		return
	}

	if err := s.store.Delete(eventID, roomID); err != nil {
		if errors.Is(err, store.ErrEventNotFound) {
			// Already gone locally; the persister may not have caught
			// up yet. The marker already went out.
			writeJSON(w, http.StatusAccepted, map[string]string{"status": "marker sent"})
			return
		}
		logging.Err(err).Str("event_id", eventID).Msg("retract delete failed")
		writeError(w, http.StatusInternalServerError, "retract failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "retracted"})
}
