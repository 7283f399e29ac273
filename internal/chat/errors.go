// Classhub - Classroom Chat Message Distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/classhub

package chat

import "errors"

// Error taxonomy for the message pipeline. Callers classify with
// errors.Is; wrapped detail carries the context.
var (
	// ErrUnauthorized indicates an operation outside the principal's
	// authorized room set or role. The connection survives; only the
	// operation is refused.
	ErrUnauthorized = errors.New("operation not authorized")

	// ErrBusUnavailable indicates the fan-out transport refused a
	// publish. Fan-out is fire-and-forget, so this is logged and
	// never surfaced to the sender.
	ErrBusUnavailable = errors.New("fan-out bus unavailable")

	// ErrPersistenceFailure indicates the durable append failed. This
	// is the one pipeline failure surfaced to the sender: the message
	// was not accepted.
	ErrPersistenceFailure = errors.New("durable append failed")

	// ErrPayloadTooLarge indicates a message payload over the
	// configured limit.
	ErrPayloadTooLarge = errors.New("payload too large")

	// ErrRateLimited indicates the sender exceeded their message rate.
	ErrRateLimited = errors.New("send rate exceeded")
)
