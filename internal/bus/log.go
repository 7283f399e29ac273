// Classhub - Classroom Chat Message Distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/classhub

package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"

	"github.com/tomtom215/classhub/internal/chat"
	"github.com/tomtom215/classhub/internal/metrics"
)

// DurableLog appends accepted events to the JetStream chat stream.
//
// Append is the one synchronous, sender-visible step on the send path:
// once it returns nil the event is on disk in the stream and the
// persister will eventually archive it. The event ID doubles as
// Nats-Msg-Id so a retried append inside the duplicate window cannot
// store the event twice.
type DurableLog struct {
	publisher message.Publisher
	logger    watermill.LoggerAdapter

	mu     sync.RWMutex
	closed bool
}

// NewDurableLog creates the durable append publisher. The stream must
// already exist; StreamInitializer runs first.
func NewDurableLog(cfg PublisherConfig, logger watermill.LoggerAdapter) (*DurableLog, error) {
	if logger == nil {
		logger = watermill.NewStdLogger(false, false)
	}

	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         cfg.URL,
		NatsOptions: fanoutNatsOptions(cfg, logger),
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			Disabled:      false,
			AutoProvision: false, // Stream is pre-created by StreamInitializer
			TrackMsgId:    true,  // Enable deduplication
			PublishOptions: []natsgo.PubOpt{
				natsgo.RetryAttempts(3),
				natsgo.RetryWait(100 * time.Millisecond),
			},
		},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create durable log publisher: %w", err)
	}

	return &DurableLog{
		publisher: pub,
		logger:    logger,
	}, nil
}

// NewDurableLogWithPublisher wraps an existing publisher. Test hook.
func NewDurableLogWithPublisher(pub message.Publisher, logger watermill.LoggerAdapter) *DurableLog {
	if logger == nil {
		logger = watermill.NewStdLogger(false, false)
	}
	return &DurableLog{publisher: pub, logger: logger}
}

// Append synchronously writes the event to the durable stream. On
// failure the event was not accepted and the error is surfaced to the
// sender as ErrPersistenceFailure.
func (l *DurableLog) Append(ctx context.Context, event chat.ChatEvent) error {
	l.mu.RLock()
	if l.closed {
		l.mu.RUnlock()
		return fmt.Errorf("%w: durable log closed", chat.ErrPersistenceFailure)
	}
	l.mu.RUnlock()

	data, err := event.Marshal()
	if err != nil {
		return err
	}

	msg := message.NewMessage(event.EventID, data)
	msg.SetContext(ctx)
	msg.Metadata.Set(natsgo.MsgIdHdr, event.EventID)

	if err := l.publisher.Publish(event.DurableSubject(), msg); err != nil {
		metrics.RecordDurableAppendFailure()
		return fmt.Errorf("%w: %v", chat.ErrPersistenceFailure, err)
	}

	metrics.RecordDurableAppend()
	return nil
}

// Close shuts down the publisher. Idempotent.
func (l *DurableLog) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	return l.publisher.Close()
}

// DurableSubscriber is the persister's view of the durable log: a
// durable queue-group consumer bound to the chat stream. Instances in
// the same queue group split the stream between them; a crashed
// instance's unacked events are redelivered to a sibling.
type DurableSubscriber struct {
	subscriber message.Subscriber
	config     SubscriberConfig
}

// NewDurableSubscriber creates the durable JetStream subscriber.
func NewDurableSubscriber(cfg *SubscriberConfig, logger watermill.LoggerAdapter) (*DurableSubscriber, error) {
	if logger == nil {
		logger = watermill.NewStdLogger(false, false)
	}

	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectWait(cfg.ReconnectWait),
		natsgo.DisconnectErrHandler(func(nc *natsgo.Conn, err error) {
			if err != nil {
				logger.Error("durable subscriber disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("durable subscriber reconnected", watermill.LogFields{
				"url": nc.ConnectedUrl(),
			})
		}),
	}

	subOpts := []natsgo.SubOpt{
		natsgo.MaxAckPending(cfg.MaxAckPending),
		natsgo.AckWait(cfg.AckWaitTimeout),
		natsgo.DeliverAll(), // Archive from the start of the stream
	}
	if cfg.MaxDeliver > 0 {
		subOpts = append(subOpts, natsgo.MaxDeliver(cfg.MaxDeliver))
	}

	// Bind to the pre-created stream: the wildcard topic cannot name a
	// stream, and AutoProvision would try to.
	if cfg.StreamName != "" {
		subOpts = append(subOpts, natsgo.BindStream(cfg.StreamName))
	}

	sub, err := wmNats.NewSubscriber(wmNats.SubscriberConfig{
		URL:              cfg.URL,
		QueueGroupPrefix: cfg.QueueGroup,
		SubscribersCount: 1, // Single consumer preserves per-room order
		AckWaitTimeout:   cfg.AckWaitTimeout,
		CloseTimeout:     cfg.CloseTimeout,
		NatsOptions:      natsOpts,
		Unmarshaler:      &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			Disabled:         false,
			AutoProvision:    cfg.StreamName == "",
			AckAsync:         false, // Synchronous acks for at-least-once
			SubscribeOptions: subOpts,
			DurablePrefix:    cfg.DurableName,
		},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create durable subscriber: %w", err)
	}

	return &DurableSubscriber{
		subscriber: sub,
		config:     *cfg,
	}, nil
}

// Subscribe returns the message channel for the given topic. The
// channel closes when the context is canceled or the subscriber closes.
func (s *DurableSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return s.subscriber.Subscribe(ctx, topic)
}

// Close gracefully shuts down the subscriber.
func (s *DurableSubscriber) Close() error {
	return s.subscriber.Close()
}
