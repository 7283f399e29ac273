// Classhub - Classroom Chat Message Distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/classhub

package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/classhub/internal/chat"
	"github.com/tomtom215/classhub/internal/logging"
	"github.com/tomtom215/classhub/internal/metrics"
)

// DeliverFunc receives a fan-out event for local room delivery.
type DeliverFunc func(event chat.ChatEvent)

// Fanout is the live-delivery plane: fire-and-forget publishes on
// per-room core NATS subjects, and one wildcard subscription per
// instance. There is no queue group: every instance sees every room's
// traffic and filters against its own membership table.
type Fanout struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	breaker    *gobreaker.CircuitBreaker[interface{}]
	logger     watermill.LoggerAdapter

	mu     sync.RWMutex
	closed bool
}

func fanoutNatsOptions(cfg PublisherConfig, logger watermill.LoggerAdapter) []natsgo.Option {
	return []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectWait(cfg.ReconnectWait),
		natsgo.ReconnectBufSize(cfg.ReconnectBuffer),
		natsgo.DisconnectErrHandler(func(nc *natsgo.Conn, err error) {
			if err != nil {
				logger.Error("NATS disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("NATS reconnected", watermill.LogFields{
				"url": nc.ConnectedUrl(),
			})
		}),
	}
}

// NewFanout creates the fan-out publisher and subscriber over core NATS.
// JetStream is disabled on this plane: durability belongs to the log,
// not the live path.
func NewFanout(cfg PublisherConfig, logger watermill.LoggerAdapter) (*Fanout, error) {
	if logger == nil {
		logger = watermill.NewStdLogger(false, false)
	}

	natsOpts := fanoutNatsOptions(cfg, logger)

	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         cfg.URL,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			Disabled: true,
		},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create fan-out publisher: %w", err)
	}

	sub, err := wmNats.NewSubscriber(wmNats.SubscriberConfig{
		URL:              cfg.URL,
		SubscribersCount: 1,
		NatsOptions:      natsOpts,
		Unmarshaler:      &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			Disabled: true,
		},
	}, logger)
	if err != nil {
		_ = pub.Close()
		return nil, fmt.Errorf("create fan-out subscriber: %w", err)
	}

	return &Fanout{
		publisher:  pub,
		subscriber: sub,
		logger:     logger,
	}, nil
}

// NewFanoutWithTransport wraps an existing publisher/subscriber pair.
// Used by tests with an in-memory transport.
func NewFanoutWithTransport(pub message.Publisher, sub message.Subscriber, logger watermill.LoggerAdapter) *Fanout {
	if logger == nil {
		logger = watermill.NewStdLogger(false, false)
	}
	return &Fanout{
		publisher:  pub,
		subscriber: sub,
		logger:     logger,
	}
}

// SetCircuitBreaker configures the circuit breaker for publish
// operations.
func (f *Fanout) SetCircuitBreaker(cb *gobreaker.CircuitBreaker[interface{}]) {
	f.breaker = cb
}

// Publish sends an event to its room subject. Failures are wrapped as
// ErrBusUnavailable; the caller decides whether to surface or log them.
func (f *Fanout) Publish(ctx context.Context, event chat.ChatEvent) error {
	f.mu.RLock()
	if f.closed {
		f.mu.RUnlock()
		return fmt.Errorf("%w: publisher closed", chat.ErrBusUnavailable)
	}
	f.mu.RUnlock()

	data, err := event.Marshal()
	if err != nil {
		return err
	}

	msg := message.NewMessage(event.EventID, data)
	msg.SetContext(ctx)

	if f.breaker != nil {
		_, err = f.breaker.Execute(func() (interface{}, error) {
			return nil, f.publisher.Publish(event.FanoutSubject(), msg)
		})
	} else {
		err = f.publisher.Publish(event.FanoutSubject(), msg)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", chat.ErrBusUnavailable, err)
	}

	metrics.RecordFanoutPublished()
	return nil
}

// PublishAsync publishes without blocking the caller. Fan-out failure
// never reaches the sender: peers on this instance already have the
// message and the durable log already accepted it, so a lost publish
// only delays remote delivery until reconnect. The failure is logged.
func (f *Fanout) PublishAsync(event chat.ChatEvent) {
	go func() {
		if err := f.Publish(context.Background(), event); err != nil {
			logging.Err(err).
				Str("event_id", event.EventID).
				Str("room_id", event.RoomID).
				Msg("fan-out publish failed")
		}
	}()
}

// Serve subscribes to every room subject and delivers incoming events
// until the context is canceled. Messages are always acked: the live
// plane is fire-and-forget, redelivery belongs to the durable log.
func (f *Fanout) Serve(ctx context.Context, deliver DeliverFunc) error {
	messages, err := f.subscriber.Subscribe(ctx, chat.FanoutWildcard)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", chat.FanoutWildcard, err)
	}

	logging.Info().Str("subject", chat.FanoutWildcard).Msg("fan-out subscriber started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			f.handleMessage(msg, deliver)
		}
	}
}

func (f *Fanout) handleMessage(msg *message.Message, deliver DeliverFunc) {
	defer msg.Ack()

	event, err := chat.UnmarshalEvent(msg.Payload)
	if err != nil {
		f.logger.Error("drop malformed fan-out message", err, watermill.LogFields{
			"message_uuid": msg.UUID,
		})
		return
	}

	metrics.RecordFanoutReceived()
	deliver(event)
}

// Close shuts down the publisher and subscriber. Idempotent.
func (f *Fanout) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	f.mu.Unlock()

	pubErr := f.publisher.Close()
	subErr := f.subscriber.Close()
	if pubErr != nil {
		return fmt.Errorf("close fan-out publisher: %w", pubErr)
	}
	if subErr != nil {
		return fmt.Errorf("close fan-out subscriber: %w", subErr)
	}
	return nil
}
