// Classhub - Classroom Chat Message Distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/classhub

// Package server exposes the chat system over HTTP: the WebSocket
// upgrade, the room history and broadcast API, retraction, health, and
// Prometheus metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/classhub/internal/chat"
	"github.com/tomtom215/classhub/internal/logging"
	"github.com/tomtom215/classhub/internal/principal"
	ws "github.com/tomtom215/classhub/internal/websocket"
)

// MessageStore is the archive surface the HTTP API reads and retracts
// from.
type MessageStore interface {
	RecentByRoom(roomID string, limit int) ([]chat.ChatEvent, error)
	Delete(eventID, roomID string) error
}

// HealthChecker reports a named component's health.
type HealthChecker func(ctx context.Context) bool

// Config holds HTTP server settings.
type Config struct {
	Host            string
	Port            int
	CORSOrigins     []string
	RateLimit       int           // requests per window per IP on API routes
	RateLimitWindow time.Duration
	HistoryLimit    int // default page size for history reads
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            8080,
		RateLimit:       100,
		RateLimitWindow: time.Minute,
		HistoryLimit:    50,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    15 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Server is the HTTP front of the chat system.
type Server struct {
	config    Config
	hub       *ws.Hub
	resolver  *principal.Resolver
	store     MessageStore
	wsHandler *ws.Handler
	health    map[string]HealthChecker

	httpServer *http.Server
}

// New creates the server and its router.
func New(cfg Config, hub *ws.Hub, resolver *principal.Resolver, store MessageStore, health map[string]HealthChecker) *Server {
	s := &Server{
		config:   cfg,
		hub:      hub,
		resolver: resolver,
		store:    store,
		health:   health,
	}
	s.wsHandler = ws.NewHandler(hub, resolver, nil)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.routes(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(RequestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.config.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: false,
		MaxAge:           86400,
	}))

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// The WebSocket handshake authenticates in-band, after upgrade.
	r.Get("/ws", s.wsHandler.ServeHTTP)

	r.Route("/api", func(r chi.Router) {
		if s.config.RateLimit > 0 {
			r.Use(httprate.LimitByIP(s.config.RateLimit, s.config.RateLimitWindow))
		}
		r.Use(s.Authenticate)

		r.Get("/rooms/{roomID}/history", s.handleHistory)
		r.Post("/broadcast", s.handleBroadcast)
		r.Delete("/rooms/{roomID}/messages/{eventID}", s.handleRetract)
	})

	return r
}

// Serve runs the HTTP server until the context is canceled, then shuts
// down gracefully. Designed for suture supervision.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", s.httpServer.Addr).Msg("http server listening")
		if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	logging.Info().Msg("http server stopped")
	return ctx.Err()
}
