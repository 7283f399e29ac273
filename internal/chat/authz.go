// Classhub - Classroom Chat Message Distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/classhub

package chat

import (
	"github.com/tomtom215/classhub/internal/principal"
)

// Gate decides whether a principal may publish into a room.
//
// Students are receive-only by default; classrooms that want open
// discussion set AllowStudentSend, which still requires the student to
// be authorized for the room.
type Gate struct {
	allowStudentSend bool
}

// NewGate creates a gate with the given student-send policy.
func NewGate(allowStudentSend bool) *Gate {
	return &Gate{allowStudentSend: allowStudentSend}
}

// CanPublish reports whether the principal may send into the room.
// Pure function over the principal's cached role and room set: admins
// publish anywhere, teachers publish only into their authorized rooms,
// students publish only when the policy allows and the room is theirs.
func (g *Gate) CanPublish(p *principal.Principal, roomID string) bool {
	switch p.Role {
	case principal.RoleAdmin:
		return true
	case principal.RoleTeacher:
		return p.Authorized(roomID)
	case principal.RoleStudent:
		return g.allowStudentSend && p.Authorized(roomID)
	}
	return false
}
