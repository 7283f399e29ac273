// Classhub - Classroom Chat Message Distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/classhub

// Package websocket is the connection layer: it authenticates incoming
// WebSocket connections, tracks room membership per connection, and
// runs the send pipeline for inbound messages.
//
// The send pipeline for an accepted message is strictly ordered:
//
//  1. Deliver to room members on this instance.
//  2. Append synchronously to the durable log. This is the only
//     blocking step; its failure is the only one the sender sees.
//  3. Publish asynchronously to the fan-out bus for other instances,
//     with a dedup marker recorded first so this instance drops its
//     own echo.
//
// Inbound frames on one connection are processed sequentially by its
// read pump, and each connection's outbound order is preserved by its
// send channel.
package websocket
