// Classhub - Classroom Chat Message Distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/classhub

// Command server runs a Classhub chat instance: the WebSocket hub, the
// NATS fan-out and durable log, the persister, and the HTTP API, all
// under one supervisor tree.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/tomtom215/classhub/internal/chat"
	"github.com/tomtom215/classhub/internal/config"
	"github.com/tomtom215/classhub/internal/logging"
	"github.com/tomtom215/classhub/internal/persist"
	"github.com/tomtom215/classhub/internal/principal"
	"github.com/tomtom215/classhub/internal/server"
	"github.com/tomtom215/classhub/internal/store"
	"github.com/tomtom215/classhub/internal/supervisor"
	"github.com/tomtom215/classhub/internal/supervisor/services"
	ws "github.com/tomtom215/classhub/internal/websocket"
)

func main() {
	if err := run(); err != nil {
		logging.Err(err).Msg("server exited with error")
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadWithKoanf()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Logging.Level
	logCfg.Format = cfg.Logging.Format
	logCfg.Caller = cfg.Logging.Caller
	logging.Init(logCfg)
	logging.Info().
		Str("directory_mode", cfg.Directory.Mode).
		Bool("embedded_nats", cfg.NATS.EmbeddedServer).
		Msg("classhub starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Identity: credential verifier plus the membership directory.
	verifier, err := principal.NewJWTVerifier(cfg.Security.JWTSecret, 0)
	if err != nil {
		return fmt.Errorf("create JWT verifier: %w", err)
	}
	directory, err := buildDirectory(cfg)
	if err != nil {
		return fmt.Errorf("build directory: %w", err)
	}
	resolver, err := principal.NewResolver(verifier, directory)
	if err != nil {
		return fmt.Errorf("create resolver: %w", err)
	}

	// Message archive.
	archive, err := store.Open(store.Config{
		Path:     cfg.Database.Path,
		InMemory: cfg.Database.InMemory,
	})
	if err != nil {
		return fmt.Errorf("open message store: %w", err)
	}
	defer func() {
		if err := archive.Close(); err != nil {
			logging.Err(err).Msg("close message store")
		}
	}()

	// Messaging substrate: embedded server, stream, fan-out, durable log.
	nats, err := InitNATS(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialize NATS: %w", err)
	}
	defer nats.shutdown(context.Background())

	// Chat pipeline.
	dedup := chat.NewDeduplicator(cfg.Chat.DedupTTL)
	defer dedup.Close()

	hub := ws.NewHub(ws.Config{
		HistoryLimit:    cfg.Chat.HistoryLimit,
		MaxPayloadBytes: cfg.Chat.MaxPayloadBytes,
		SendRate:        cfg.Chat.SendRate,
		SendBurst:       cfg.Chat.SendBurst,
	}, chat.NewGate(cfg.Chat.AllowStudentSend), dedup, nats.Fanout, nats.DurableLog, archive)

	persisterCfg := persist.DefaultConfig()
	persisterCfg.Backoff = cfg.Chat.PersistBackoff
	persister, err := persist.New(nats.Subscriber, archive, persisterCfg)
	if err != nil {
		return fmt.Errorf("create persister: %w", err)
	}

	// HTTP front.
	serverCfg := server.DefaultConfig()
	serverCfg.Host = cfg.Server.Host
	serverCfg.Port = cfg.Server.Port
	serverCfg.CORSOrigins = cfg.Server.CORSOrigins
	serverCfg.RateLimit = cfg.Server.RateLimitReqs
	serverCfg.RateLimitWindow = cfg.Server.RateLimitWindow
	serverCfg.HistoryLimit = cfg.Chat.HistoryLimit
	srv := server.New(serverCfg, hub, resolver, archive, healthCheckers(nats))

	// Supervisor tree: messaging layer and API layer restart
	// independently.
	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	if err != nil {
		return fmt.Errorf("create supervisor tree: %w", err)
	}
	tree.AddMessagingService(services.NewHubService(hub))
	tree.AddMessagingService(services.NewFanoutService(nats.Fanout, hub))
	tree.AddMessagingService(services.NewPersisterService(persister))
	tree.AddAPIService(services.NewHTTPService(srv))

	logging.Info().Msg("supervisor tree starting")
	err = tree.Serve(ctx)

	if unstopped, reportErr := tree.UnstoppedServiceReport(); reportErr == nil && len(unstopped) > 0 {
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("service did not stop in time")
		}
	}

	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("supervisor tree: %w", err)
	}
	logging.Info().Msg("classhub stopped")
	return nil
}

// buildDirectory returns the identity/membership directory named by the
// config: the in-config static directory, or a client for an external
// directory service.
func buildDirectory(cfg *config.Config) (principal.Directory, error) {
	switch cfg.Directory.Mode {
	case "external":
		return principal.NewHTTPDirectory(cfg.Directory.BaseURL, cfg.Directory.Timeout)
	case "static":
		identities := make([]principal.Identity, 0, len(cfg.Directory.Users))
		for _, u := range cfg.Directory.Users {
			identities = append(identities, principal.Identity{
				ID:       u.ID,
				Role:     principal.Role(u.Role),
				Approved: u.Approved,
			})
		}
		rooms := make([]principal.StaticRoom, 0, len(cfg.Directory.Rooms))
		for _, r := range cfg.Directory.Rooms {
			rooms = append(rooms, principal.StaticRoom{
				ID:         r.ID,
				TeacherIDs: r.TeacherIDs,
				StudentIDs: r.StudentIDs,
			})
		}
		return principal.NewStaticDirectory(identities, rooms), nil
	default:
		return nil, fmt.Errorf("directory.mode %q unknown", cfg.Directory.Mode)
	}
}

// healthCheckers wires component health into the /healthz endpoint.
func healthCheckers(nats *NATSComponents) map[string]server.HealthChecker {
	checks := map[string]server.HealthChecker{
		"nats": func(context.Context) bool {
			return nats.Conn != nil && nats.Conn.IsConnected()
		},
		"stream": func(ctx context.Context) bool {
			return nats.StreamInit.IsHealthy(ctx)
		},
	}
	if nats.EmbeddedServer != nil {
		checks["embedded_nats"] = func(context.Context) bool {
			return nats.EmbeddedServer.IsRunning()
		}
	}
	return checks
}
