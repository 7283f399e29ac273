// Classhub - Classroom Chat Message Distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/classhub

package main

import (
	"context"
	"fmt"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/tomtom215/classhub/internal/bus"
	"github.com/tomtom215/classhub/internal/config"
	"github.com/tomtom215/classhub/internal/logging"
)

// NATSComponents bundles everything the messaging layer needs: the
// optional embedded server, the shared connection, the fan-out plane,
// the durable log, and the persister's subscriber.
type NATSComponents struct {
	EmbeddedServer *bus.EmbeddedServer
	Conn           *natsgo.Conn
	StreamInit     *bus.StreamInitializer
	Fanout         *bus.Fanout
	DurableLog     *bus.DurableLog
	Subscriber     *bus.DurableSubscriber
}

// InitNATS brings up the messaging substrate in dependency order:
// embedded server (if enabled), connection, stream, then the
// publishers and subscribers that assume the stream exists.
func InitNATS(ctx context.Context, cfg *config.Config) (*NATSComponents, error) {
	components := &NATSComponents{}
	wmLogger := bus.NewWatermillLogger()

	// Step 1: embedded NATS server, if enabled. Single-instance
	// deployments get a self-contained binary; clusters point at an
	// external server via nats.url instead.
	natsURL := cfg.NATS.URL
	if cfg.NATS.EmbeddedServer {
		serverCfg := bus.DefaultServerConfig()
		serverCfg.StoreDir = cfg.NATS.StoreDir
		serverCfg.JetStreamMaxMem = cfg.NATS.MaxMemory
		serverCfg.JetStreamMaxStore = cfg.NATS.MaxStore

		embedded, err := bus.NewEmbeddedServer(&serverCfg)
		if err != nil {
			return nil, fmt.Errorf("start embedded NATS server: %w", err)
		}
		components.EmbeddedServer = embedded
		natsURL = embedded.ClientURL()
		logging.Info().Str("url", natsURL).Msg("embedded NATS server started")
	}

	// Step 2: shared connection for stream management and health checks.
	conn, err := natsgo.Connect(natsURL,
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.NATS.MaxReconnects),
		natsgo.ReconnectWait(cfg.NATS.ReconnectWait),
	)
	if err != nil {
		components.shutdown(ctx)
		return nil, fmt.Errorf("connect to NATS at %s: %w", natsURL, err)
	}
	components.Conn = conn

	// Step 3: ensure the durable chat stream exists before anything
	// publishes into it or binds to it.
	js, err := jetstream.New(conn)
	if err != nil {
		components.shutdown(ctx)
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	streamCfg := bus.DefaultStreamConfig()
	streamCfg.Name = cfg.NATS.StreamName
	streamCfg.MaxAge = time.Duration(cfg.NATS.RetentionDays) * 24 * time.Hour

	streamInit, err := bus.NewStreamInitializer(js, &streamCfg)
	if err != nil {
		components.shutdown(ctx)
		return nil, fmt.Errorf("create stream initializer: %w", err)
	}
	if _, err := streamInit.EnsureStream(ctx); err != nil {
		components.shutdown(ctx)
		return nil, fmt.Errorf("ensure stream %s: %w", streamCfg.Name, err)
	}
	components.StreamInit = streamInit
	logging.Info().Str("stream", streamCfg.Name).Msg("durable chat stream ready")

	// Step 4: fan-out plane over core NATS.
	pubCfg := bus.DefaultPublisherConfig(natsURL)
	pubCfg.MaxReconnects = cfg.NATS.MaxReconnects
	pubCfg.ReconnectWait = cfg.NATS.ReconnectWait

	fanout, err := bus.NewFanout(pubCfg, wmLogger)
	if err != nil {
		components.shutdown(ctx)
		return nil, fmt.Errorf("create fan-out: %w", err)
	}
	fanout.SetCircuitBreaker(bus.NewCircuitBreaker(bus.DefaultCircuitBreakerConfig("fanout-publish")))
	components.Fanout = fanout

	// Step 5: durable log publisher for the synchronous append.
	durableLog, err := bus.NewDurableLog(pubCfg, wmLogger)
	if err != nil {
		components.shutdown(ctx)
		return nil, fmt.Errorf("create durable log: %w", err)
	}
	components.DurableLog = durableLog

	// Step 6: the persister's durable queue-group subscriber.
	subCfg := bus.DefaultSubscriberConfig(natsURL)
	subCfg.DurableName = cfg.NATS.DurableName
	subCfg.QueueGroup = cfg.NATS.QueueGroup
	subCfg.StreamName = cfg.NATS.StreamName
	subCfg.MaxReconnects = cfg.NATS.MaxReconnects
	subCfg.ReconnectWait = cfg.NATS.ReconnectWait

	subscriber, err := bus.NewDurableSubscriber(&subCfg, wmLogger)
	if err != nil {
		components.shutdown(ctx)
		return nil, fmt.Errorf("create durable subscriber: %w", err)
	}
	components.Subscriber = subscriber

	return components, nil
}

// shutdown tears down whatever came up, in reverse order. Used on both
// failed init and process exit.
func (c *NATSComponents) shutdown(ctx context.Context) {
	if c.Subscriber != nil {
		if err := c.Subscriber.Close(); err != nil {
			logging.Err(err).Msg("close durable subscriber")
		}
	}
	if c.DurableLog != nil {
		if err := c.DurableLog.Close(); err != nil {
			logging.Err(err).Msg("close durable log")
		}
	}
	if c.Fanout != nil {
		if err := c.Fanout.Close(); err != nil {
			logging.Err(err).Msg("close fan-out")
		}
	}
	if c.Conn != nil {
		c.Conn.Close()
	}
	if c.EmbeddedServer != nil {
		if err := c.EmbeddedServer.Shutdown(ctx); err != nil {
			logging.Err(err).Msg("shutdown embedded NATS server")
		}
	}
}
