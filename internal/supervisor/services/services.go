// Classhub - Classroom Chat Message Distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/classhub

// Package services wraps the chat components as suture services.
// Each wrapper names its component for supervisor logs and delegates
// Serve to the component's own run loop.
package services

import (
	"context"

	"github.com/tomtom215/classhub/internal/bus"
	"github.com/tomtom215/classhub/internal/persist"
	ws "github.com/tomtom215/classhub/internal/websocket"
)

// HubService supervises the WebSocket hub's lifecycle loop.
type HubService struct {
	hub *ws.Hub
}

// NewHubService wraps a hub.
func NewHubService(hub *ws.Hub) *HubService {
	return &HubService{hub: hub}
}

// Serve implements suture.Service.
func (s *HubService) Serve(ctx context.Context) error {
	return s.hub.Run(ctx)
}

// String implements fmt.Stringer for supervisor logs.
func (s *HubService) String() string {
	return "websocket-hub"
}

// FanoutService supervises the fan-out subscriber loop, delivering
// cross-instance events into the hub.
type FanoutService struct {
	fanout *bus.Fanout
	hub    *ws.Hub
}

// NewFanoutService wraps the fan-out subscriber.
func NewFanoutService(fanout *bus.Fanout, hub *ws.Hub) *FanoutService {
	return &FanoutService{fanout: fanout, hub: hub}
}

// Serve implements suture.Service. A restart re-subscribes; missed
// live traffic is not replayed, which is the fan-out plane's contract.
func (s *FanoutService) Serve(ctx context.Context) error {
	return s.fanout.Serve(ctx, s.hub.HandleFanout)
}

// String implements fmt.Stringer for supervisor logs.
func (s *FanoutService) String() string {
	return "fanout-subscriber"
}

// PersisterService supervises the durable log consumer.
type PersisterService struct {
	persister *persist.Persister
}

// NewPersisterService wraps a persister.
func NewPersisterService(p *persist.Persister) *PersisterService {
	return &PersisterService{persister: p}
}

// Serve implements suture.Service. A restart resumes from the durable
// consumer's last unacked position; nothing is lost.
func (s *PersisterService) Serve(ctx context.Context) error {
	return s.persister.Serve(ctx)
}

// String implements fmt.Stringer for supervisor logs.
func (s *PersisterService) String() string {
	return "chat-persister"
}

// HTTPServer is the subset of the HTTP server used by HTTPService.
type HTTPServer interface {
	Serve(ctx context.Context) error
}

// HTTPService supervises the HTTP server.
type HTTPService struct {
	server HTTPServer
}

// NewHTTPService wraps an HTTP server.
func NewHTTPService(server HTTPServer) *HTTPService {
	return &HTTPService{server: server}
}

// Serve implements suture.Service.
func (s *HTTPService) Serve(ctx context.Context) error {
	return s.server.Serve(ctx)
}

// String implements fmt.Stringer for supervisor logs.
func (s *HTTPService) String() string {
	return "http-server"
}
