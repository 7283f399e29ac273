// Classhub - Classroom Chat Message Distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/classhub

package chat

import (
	"fmt"
	"sync"

	"github.com/tomtom215/classhub/internal/principal"
)

// Table tracks which local connections are members of which rooms.
//
// It only ever describes connections on this instance; remote instances
// keep their own tables and receive the same fan-out traffic. All methods
// are safe for concurrent use.
type Table struct {
	mu sync.RWMutex

	// roomID -> connID set
	rooms map[string]map[string]struct{}

	// connID -> roomID set, for O(rooms-of-conn) disconnect cleanup
	conns map[string]map[string]struct{}
}

// NewTable creates an empty membership table.
func NewTable() *Table {
	return &Table{
		rooms: make(map[string]map[string]struct{}),
		conns: make(map[string]map[string]struct{}),
	}
}

// Join adds a connection to a room after checking the principal's
// authorized room set. An unauthorized join returns ErrUnauthorized and
// leaves the table untouched; the connection itself stays alive.
// Joining a room twice is a no-op.
func (t *Table) Join(connID, roomID string, p *principal.Principal) error {
	if !p.Authorized(roomID) {
		return fmt.Errorf("%w: %s may not join room %s", ErrUnauthorized, p.ID, roomID)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.rooms[roomID] == nil {
		t.rooms[roomID] = make(map[string]struct{})
	}
	t.rooms[roomID][connID] = struct{}{}

	if t.conns[connID] == nil {
		t.conns[connID] = make(map[string]struct{})
	}
	t.conns[connID][roomID] = struct{}{}

	return nil
}

// Leave removes a connection from a room. Leaving a room the connection
// is not in is a no-op.
func (t *Table) Leave(connID, roomID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.leaveLocked(connID, roomID)
}

func (t *Table) leaveLocked(connID, roomID string) {
	if members, ok := t.rooms[roomID]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(t.rooms, roomID)
		}
	}
	if rooms, ok := t.conns[connID]; ok {
		delete(rooms, roomID)
		if len(rooms) == 0 {
			delete(t.conns, connID)
		}
	}
}

// Members returns the connection IDs currently in a room. The slice is a
// copy; order is unspecified.
func (t *Table) Members(roomID string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	members := make([]string, 0, len(t.rooms[roomID]))
	for connID := range t.rooms[roomID] {
		members = append(members, connID)
	}
	return members
}

// Contains reports whether a connection is a member of a room.
func (t *Table) Contains(connID, roomID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.rooms[roomID][connID]
	return ok
}

// Rooms returns the rooms a connection is currently in.
func (t *Table) Rooms(connID string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	rooms := make([]string, 0, len(t.conns[connID]))
	for roomID := range t.conns[connID] {
		rooms = append(rooms, roomID)
	}
	return rooms
}

// RemoveConnection removes a connection from every room it joined.
// Mandatory on disconnect so the table never leaks dead connections.
func (t *Table) RemoveConnection(connID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for roomID := range t.conns[connID] {
		t.leaveLocked(connID, roomID)
	}
}

// RoomCount returns the number of rooms with at least one member.
func (t *Table) RoomCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rooms)
}
