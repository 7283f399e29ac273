// Classhub - Classroom Chat Message Distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/classhub

// Package persist drains the durable chat log into the message archive.
//
// The persister is deliberately decoupled from the send path: a dead or
// paused persister never blocks live delivery, it only delays the
// archive. The durable log retains everything in the meantime, so the
// archive converges once the persister recovers.
package persist

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/tomtom215/classhub/internal/chat"
	"github.com/tomtom215/classhub/internal/logging"
	"github.com/tomtom215/classhub/internal/metrics"
)

// EventSource is the durable log subscription the persister drains.
type EventSource interface {
	Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error)
}

// Archive is the storage the persister writes into. Put must be
// idempotent on event ID; the source delivers at least once.
type Archive interface {
	Put(event chat.ChatEvent) error
}

// Config controls persister behavior.
type Config struct {
	// Topic is the durable log subject space to drain.
	Topic string

	// Backoff is how long consumption pauses after a storage failure
	// before the failed event is retried.
	Backoff time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Topic:   chat.DurableWildcard,
		Backoff: 60 * time.Second,
	}
}

// Stats counts persister outcomes. Read with atomic loads via Snapshot.
type Stats struct {
	Persisted uint64
	Failures  uint64
	Malformed uint64
}

// Persister consumes the durable log and writes events to the archive.
type Persister struct {
	source  EventSource
	archive Archive
	config  Config

	persisted atomic.Uint64
	failures  atomic.Uint64
	malformed atomic.Uint64
}

// New creates a persister.
func New(source EventSource, archive Archive, cfg Config) (*Persister, error) {
	if source == nil {
		return nil, fmt.Errorf("event source required")
	}
	if archive == nil {
		return nil, fmt.Errorf("archive required")
	}
	if cfg.Topic == "" {
		cfg.Topic = chat.DurableWildcard
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 60 * time.Second
	}

	return &Persister{
		source:  source,
		archive: archive,
		config:  cfg,
	}, nil
}

// Serve consumes until the context is canceled.
//
// Each message is written to the archive and acked. A storage failure
// nacks the message for redelivery and pauses consumption for the
// configured backoff; consumption resumes from the failed event, so
// the archive never skips ahead of a broken disk.
func (p *Persister) Serve(ctx context.Context) error {
	messages, err := p.source.Subscribe(ctx, p.config.Topic)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", p.config.Topic, err)
	}

	logging.Info().
		Str("topic", p.config.Topic).
		Dur("backoff", p.config.Backoff).
		Msg("persister started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			if err := p.handleMessage(msg); err != nil {
				if pauseErr := p.pause(ctx); pauseErr != nil {
					return pauseErr
				}
			}
		}
	}
}

// handleMessage archives one message. Returns an error only for
// storage failures that should pause consumption.
func (p *Persister) handleMessage(msg *message.Message) error {
	event, err := chat.UnmarshalEvent(msg.Payload)
	if err != nil {
		// A malformed message will never become persistable;
		// redelivering it would wedge the consumer forever.
		p.malformed.Add(1)
		logging.Err(err).
			Str("message_uuid", msg.UUID).
			Msg("drop malformed durable log entry")
		msg.Ack()
		return nil
	}

	start := time.Now()
	if err := p.archive.Put(event); err != nil {
		p.failures.Add(1)
		metrics.RecordPersistFailure()
		logging.Err(err).
			Str("event_id", event.EventID).
			Str("room_id", event.RoomID).
			Dur("backoff", p.config.Backoff).
			Msg("archive write failed, pausing consumption")
		msg.Nack()
		return err
	}

	p.persisted.Add(1)
	metrics.RecordPersisted(time.Since(start))
	msg.Ack()
	return nil
}

// pause sleeps for the configured backoff, or returns early when the
// context is canceled.
func (p *Persister) pause(ctx context.Context) error {
	timer := time.NewTimer(p.config.Backoff)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Snapshot returns current counters.
func (p *Persister) Snapshot() Stats {
	return Stats{
		Persisted: p.persisted.Load(),
		Failures:  p.failures.Load(),
		Malformed: p.malformed.Load(),
	}
}
