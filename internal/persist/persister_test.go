// Classhub - Classroom Chat Message Distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/classhub

package persist

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/tomtom215/classhub/internal/chat"
)

// fakeSource feeds messages to the persister through a plain channel.
type fakeSource struct {
	ch chan *message.Message
}

func newFakeSource() *fakeSource {
	return &fakeSource{ch: make(chan *message.Message, 16)}
}

func (s *fakeSource) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return s.ch, nil
}

func (s *fakeSource) push(t *testing.T, event chat.ChatEvent) *message.Message {
	t.Helper()
	data, err := event.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	msg := message.NewMessage(event.EventID, data)
	s.ch <- msg
	return msg
}

// flakyArchive fails the first failCount writes.
type flakyArchive struct {
	mu        sync.Mutex
	failCount int
	events    []chat.ChatEvent
}

func (a *flakyArchive) Put(event chat.ChatEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failCount > 0 {
		a.failCount--
		return errors.New("disk full")
	}
	a.events = append(a.events, event)
	return nil
}

func (a *flakyArchive) stored() []chat.ChatEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]chat.ChatEvent, len(a.events))
	copy(out, a.events)
	return out
}

func waitAck(t *testing.T, msg *message.Message) {
	t.Helper()
	select {
	case <-msg.Acked():
	case <-msg.Nacked():
		t.Fatal("message nacked, want ack")
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for ack")
	}
}

func waitNack(t *testing.T, msg *message.Message) {
	t.Helper()
	select {
	case <-msg.Nacked():
	case <-msg.Acked():
		t.Fatal("message acked, want nack")
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for nack")
	}
}

func TestPersisterArchivesAndAcks(t *testing.T) {
	source := newFakeSource()
	archive := &flakyArchive{}
	p, err := New(source, archive, Config{Backoff: 10 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- p.Serve(ctx) }()

	e1 := chat.NewChatEvent("math-7", "teacher-1", "teacher", "first")
	e2 := chat.NewChatEvent("math-7", "teacher-1", "teacher", "second")
	m1 := source.push(t, e1)
	m2 := source.push(t, e2)

	waitAck(t, m1)
	waitAck(t, m2)

	events := archive.stored()
	if len(events) != 2 || events[0].EventID != e1.EventID || events[1].EventID != e2.EventID {
		t.Errorf("archive order wrong: %+v", events)
	}
	if s := p.Snapshot(); s.Persisted != 2 || s.Failures != 0 {
		t.Errorf("stats = %+v", s)
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Serve returned %v", err)
	}
}

func TestPersisterPausesOnStorageFailure(t *testing.T) {
	source := newFakeSource()
	archive := &flakyArchive{failCount: 1}
	p, err := New(source, archive, Config{Backoff: 50 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = p.Serve(ctx) }()

	e := chat.NewChatEvent("math-7", "teacher-1", "teacher", "flaky")
	m1 := source.push(t, e)
	waitNack(t, m1)
	nackedAt := time.Now()

	// Redelivery after the nack, as the durable log would do.
	m2 := source.push(t, e)
	waitAck(t, m2)

	if elapsed := time.Since(nackedAt); elapsed < 40*time.Millisecond {
		t.Errorf("consumption resumed after %v, want >= backoff", elapsed)
	}
	if s := p.Snapshot(); s.Persisted != 1 || s.Failures != 1 {
		t.Errorf("stats = %+v", s)
	}
	if events := archive.stored(); len(events) != 1 || events[0].EventID != e.EventID {
		t.Errorf("archive = %+v", events)
	}
}

func TestPersisterDropsMalformed(t *testing.T) {
	source := newFakeSource()
	archive := &flakyArchive{}
	p, err := New(source, archive, Config{Backoff: 10 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = p.Serve(ctx) }()

	bad := message.NewMessage("bad", []byte("{not json"))
	source.ch <- bad
	waitAck(t, bad)

	good := chat.NewChatEvent("math-7", "teacher-1", "teacher", "after garbage")
	m := source.push(t, good)
	waitAck(t, m)

	if s := p.Snapshot(); s.Malformed != 1 || s.Persisted != 1 {
		t.Errorf("stats = %+v", s)
	}
}

func TestNewValidation(t *testing.T) {
	if _, err := New(nil, &flakyArchive{}, Config{}); err == nil {
		t.Error("expected error for nil source")
	}
	if _, err := New(newFakeSource(), nil, Config{}); err == nil {
		t.Error("expected error for nil archive")
	}

	p, err := New(newFakeSource(), &flakyArchive{}, Config{})
	if err != nil {
		t.Fatal(err)
	}
	if p.config.Topic != chat.DurableWildcard {
		t.Errorf("default topic = %q", p.config.Topic)
	}
	if p.config.Backoff != 60*time.Second {
		t.Errorf("default backoff = %v", p.config.Backoff)
	}
}
