// Classhub - Classroom Chat Message Distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/classhub

// Package principal resolves connection credentials into an identity, a
// role, and the set of rooms the identity may join.
//
// Resolution happens exactly once per connection; the resulting Principal
// is cached for the connection's lifetime. Role or membership changes in
// the directory take effect on reconnect.
package principal

import (
	"errors"
)

// Role is the authorization role of a resolved identity.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
)

// Valid reports whether the role is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleTeacher, RoleStudent:
		return true
	}
	return false
}

// Resolution failure modes. Both are terminal for the connection attempt:
// the connection is refused and the server does not retry.
var (
	// ErrInvalidCredential indicates a malformed, expired, or tampered
	// credential.
	ErrInvalidCredential = errors.New("invalid credential")

	// ErrNotAuthorized indicates a valid credential whose identity is
	// unknown or not approved.
	ErrNotAuthorized = errors.New("identity not authorized")
)

// Principal is a resolved identity with its authorized room set.
// Immutable for the duration of the connection that resolved it.
type Principal struct {
	ID              string
	Role            Role
	authorizedRooms map[string]struct{}
}

// NewPrincipal builds a Principal from an identity and its room set.
func NewPrincipal(id string, role Role, rooms []string) *Principal {
	authorized := make(map[string]struct{}, len(rooms))
	for _, r := range rooms {
		authorized[r] = struct{}{}
	}
	return &Principal{
		ID:              id,
		Role:            role,
		authorizedRooms: authorized,
	}
}

// Authorized reports whether the principal may join the given room.
func (p *Principal) Authorized(roomID string) bool {
	_, ok := p.authorizedRooms[roomID]
	return ok
}

// AuthorizedRooms returns the principal's room set as a slice.
// The returned slice is a copy; iteration order is unspecified.
func (p *Principal) AuthorizedRooms() []string {
	rooms := make([]string, 0, len(p.authorizedRooms))
	for r := range p.authorizedRooms {
		rooms = append(rooms, r)
	}
	return rooms
}
