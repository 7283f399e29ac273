// Classhub - Classroom Chat Message Distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/classhub

package principal

import (
	"context"
	"sync"
)

// StaticDirectory is an in-memory Directory seeded from configuration.
// It serves standalone deployments and tests; production deployments back
// the Directory interface with the school's user/class store.
type StaticDirectory struct {
	mu       sync.RWMutex
	users    map[string]Identity
	teachers map[string][]string // userID -> room IDs taught
	students map[string][]string // userID -> room IDs enrolled
	rooms    []string
}

// StaticRoom declares a room and its membership for NewStaticDirectory.
type StaticRoom struct {
	ID         string
	TeacherIDs []string
	StudentIDs []string
}

// NewStaticDirectory builds a directory from declared users and rooms.
func NewStaticDirectory(users []Identity, rooms []StaticRoom) *StaticDirectory {
	d := &StaticDirectory{
		users:    make(map[string]Identity, len(users)),
		teachers: make(map[string][]string),
		students: make(map[string][]string),
		rooms:    make([]string, 0, len(rooms)),
	}

	for _, u := range users {
		d.users[u.ID] = u
	}
	for _, room := range rooms {
		d.rooms = append(d.rooms, room.ID)
		for _, t := range room.TeacherIDs {
			d.teachers[t] = append(d.teachers[t], room.ID)
		}
		for _, s := range room.StudentIDs {
			d.students[s] = append(d.students[s], room.ID)
		}
	}

	return d
}

// Lookup returns the identity record for a user ID.
func (d *StaticDirectory) Lookup(_ context.Context, userID string) (Identity, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	identity, ok := d.users[userID]
	if !ok {
		return Identity{}, ErrUnknownIdentity
	}
	return identity, nil
}

// AllRooms returns every declared room ID.
func (d *StaticDirectory) AllRooms(_ context.Context) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rooms := make([]string, len(d.rooms))
	copy(rooms, d.rooms)
	return rooms, nil
}

// RoomsTaughtBy returns the rooms where the user is a designated teacher.
func (d *StaticDirectory) RoomsTaughtBy(_ context.Context, userID string) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rooms := make([]string, len(d.teachers[userID]))
	copy(rooms, d.teachers[userID])
	return rooms, nil
}

// RoomsEnrolledBy returns the rooms where the user is an enrolled student.
func (d *StaticDirectory) RoomsEnrolledBy(_ context.Context, userID string) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rooms := make([]string, len(d.students[userID]))
	copy(rooms, d.students[userID])
	return rooms, nil
}
