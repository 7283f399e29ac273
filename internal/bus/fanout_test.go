// Classhub - Classroom Chat Message Distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/classhub

package bus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/tomtom215/classhub/internal/chat"
)

// fakePublisher records publishes and can be told to fail.
type fakePublisher struct {
	mu        sync.Mutex
	topics    []string
	messages  []*message.Message
	failWith  error
	published int
}

func (p *fakePublisher) Publish(topic string, msgs ...*message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failWith != nil {
		return p.failWith
	}
	for _, m := range msgs {
		p.topics = append(p.topics, topic)
		p.messages = append(p.messages, m)
		p.published++
	}
	return nil
}

func (p *fakePublisher) Close() error { return nil }

func (p *fakePublisher) last(t *testing.T) (string, *message.Message) {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.messages) == 0 {
		t.Fatal("nothing published")
	}
	return p.topics[len(p.topics)-1], p.messages[len(p.messages)-1]
}

// fakeSubscriber hands out a prefilled channel regardless of topic.
type fakeSubscriber struct {
	ch chan *message.Message
}

func (s *fakeSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return s.ch, nil
}

func (s *fakeSubscriber) Close() error { return nil }

func TestFanoutPublishRoutesToRoomSubject(t *testing.T) {
	pub := &fakePublisher{}
	f := NewFanoutWithTransport(pub, &fakeSubscriber{}, nil)

	event := chat.NewChatEvent("math-7", "teacher-1", "teacher", "hello")
	if err := f.Publish(context.Background(), event); err != nil {
		t.Fatal(err)
	}

	topic, msg := pub.last(t)
	if topic != chat.FanoutSubjectPrefix+"math-7" {
		t.Errorf("topic = %q", topic)
	}
	got, err := chat.UnmarshalEvent(msg.Payload)
	if err != nil {
		t.Fatal(err)
	}
	if got.EventID != event.EventID || got.Payload != "hello" {
		t.Errorf("round-tripped event = %+v", got)
	}
}

func TestFanoutPublishFailureIsBusUnavailable(t *testing.T) {
	pub := &fakePublisher{failWith: errors.New("connection refused")}
	f := NewFanoutWithTransport(pub, &fakeSubscriber{}, nil)

	err := f.Publish(context.Background(), chat.NewChatEvent("math-7", "t", "teacher", "x"))
	if !errors.Is(err, chat.ErrBusUnavailable) {
		t.Errorf("err = %v", err)
	}
}

func TestFanoutPublishAfterClose(t *testing.T) {
	f := NewFanoutWithTransport(&fakePublisher{}, &fakeSubscriber{}, nil)
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	// Second close is a no-op.
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	err := f.Publish(context.Background(), chat.NewChatEvent("math-7", "t", "teacher", "x"))
	if !errors.Is(err, chat.ErrBusUnavailable) {
		t.Errorf("err = %v", err)
	}
}

func TestFanoutCircuitBreakerOpens(t *testing.T) {
	pub := &fakePublisher{failWith: errors.New("connection refused")}
	f := NewFanoutWithTransport(pub, &fakeSubscriber{}, nil)

	cfg := DefaultCircuitBreakerConfig("test")
	cfg.FailureThreshold = 2
	breaker := NewCircuitBreaker(cfg)
	f.SetCircuitBreaker(breaker)

	event := chat.NewChatEvent("math-7", "t", "teacher", "x")
	for i := 0; i < 3; i++ {
		if err := f.Publish(context.Background(), event); !errors.Is(err, chat.ErrBusUnavailable) {
			t.Fatalf("publish %d err = %v", i, err)
		}
	}

	// Breaker is open now; the transport is no longer reached.
	before := pub.published
	_ = f.Publish(context.Background(), event)
	pub.mu.Lock()
	after := pub.published
	pub.mu.Unlock()
	if after != before {
		t.Error("open breaker still reached the transport")
	}
}

func TestFanoutServeDelivers(t *testing.T) {
	sub := &fakeSubscriber{ch: make(chan *message.Message, 4)}
	f := NewFanoutWithTransport(&fakePublisher{}, sub, nil)

	event := chat.NewChatEvent("math-7", "teacher-1", "teacher", "live")
	data, err := event.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	good := message.NewMessage(event.EventID, data)
	bad := message.NewMessage("bad", []byte("{not json"))
	sub.ch <- bad
	sub.ch <- good

	delivered := make(chan chat.ChatEvent, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- f.Serve(ctx, func(e chat.ChatEvent) { delivered <- e })
	}()

	select {
	case got := <-delivered:
		if got.EventID != event.EventID {
			t.Errorf("delivered = %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no delivery")
	}

	// Both messages get acked, malformed included.
	select {
	case <-bad.Acked():
	case <-time.After(2 * time.Second):
		t.Fatal("malformed message not acked")
	}
	select {
	case <-good.Acked():
	case <-time.After(2 * time.Second):
		t.Fatal("delivered message not acked")
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("serve err = %v", err)
	}
}
