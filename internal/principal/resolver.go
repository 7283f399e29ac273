// Classhub - Classroom Chat Message Distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/classhub

package principal

import (
	"context"
	"errors"
	"fmt"

	"github.com/tomtom215/classhub/internal/logging"
)

// Identity is a directory record for a user.
type Identity struct {
	ID       string
	Role     Role
	Approved bool
}

// ErrUnknownIdentity is returned by Directory implementations when no
// record exists for a user ID.
var ErrUnknownIdentity = errors.New("unknown identity")

// Directory abstracts the external identity/room-membership store.
// Implementations must be safe for concurrent use.
type Directory interface {
	// Lookup returns the identity record for a user ID, or
	// ErrUnknownIdentity.
	Lookup(ctx context.Context, userID string) (Identity, error)

	// AllRooms returns every room ID known to the directory.
	AllRooms(ctx context.Context) ([]string, error)

	// RoomsTaughtBy returns the rooms where the user is a designated
	// teacher.
	RoomsTaughtBy(ctx context.Context, userID string) ([]string, error)

	// RoomsEnrolledBy returns the rooms where the user is an enrolled
	// student.
	RoomsEnrolledBy(ctx context.Context, userID string) ([]string, error)
}

// Resolver turns a connection credential into a Principal.
//
// Resolution is a read-only operation: credential verification followed by
// a directory lookup. It has no side effects.
type Resolver struct {
	verifier  *JWTVerifier
	directory Directory
}

// NewResolver creates a resolver over the given verifier and directory.
func NewResolver(verifier *JWTVerifier, directory Directory) (*Resolver, error) {
	if verifier == nil {
		return nil, fmt.Errorf("verifier required")
	}
	if directory == nil {
		return nil, fmt.Errorf("directory required")
	}
	return &Resolver{verifier: verifier, directory: directory}, nil
}

// Resolve validates the credential and computes the principal's role and
// authorized room set.
//
// Authorized rooms by role: admin sees all rooms, a teacher sees the rooms
// they are assigned to, a student sees the rooms they are enrolled in.
//
// Failure modes: ErrInvalidCredential for a bad token,
// ErrNotAuthorized for an unknown or unapproved identity. Both refuse the
// connection with no server-side retry.
func (r *Resolver) Resolve(ctx context.Context, credential string) (*Principal, error) {
	userID, err := r.verifier.Verify(credential)
	if err != nil {
		return nil, err
	}

	identity, err := r.directory.Lookup(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUnknownIdentity) {
			return nil, fmt.Errorf("%w: %s", ErrNotAuthorized, userID)
		}
		return nil, fmt.Errorf("directory lookup for %s: %w", userID, err)
	}
	if !identity.Approved {
		return nil, fmt.Errorf("%w: %s not approved", ErrNotAuthorized, userID)
	}
	if !identity.Role.Valid() {
		return nil, fmt.Errorf("%w: %s has unknown role %q", ErrNotAuthorized, userID, identity.Role)
	}

	var rooms []string
	switch identity.Role {
	case RoleAdmin:
		rooms, err = r.directory.AllRooms(ctx)
	case RoleTeacher:
		rooms, err = r.directory.RoomsTaughtBy(ctx, userID)
	case RoleStudent:
		rooms, err = r.directory.RoomsEnrolledBy(ctx, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("room lookup for %s: %w", userID, err)
	}

	logging.Debug().
		Str("user_id", userID).
		Str("role", string(identity.Role)).
		Int("rooms", len(rooms)).
		Msg("principal resolved")

	return NewPrincipal(identity.ID, identity.Role, rooms), nil
}
