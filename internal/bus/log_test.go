// Classhub - Classroom Chat Message Distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/classhub

package bus

import (
	"context"
	"errors"
	"testing"

	natsgo "github.com/nats-io/nats.go"

	"github.com/tomtom215/classhub/internal/chat"
)

func TestDurableLogAppendSetsMsgID(t *testing.T) {
	pub := &fakePublisher{}
	l := NewDurableLogWithPublisher(pub, nil)

	event := chat.NewChatEvent("math-7", "teacher-1", "teacher", "keep this")
	if err := l.Append(context.Background(), event); err != nil {
		t.Fatal(err)
	}

	topic, msg := pub.last(t)
	if topic != chat.DurableSubjectPrefix+"math-7" {
		t.Errorf("topic = %q", topic)
	}
	if got := msg.Metadata.Get(natsgo.MsgIdHdr); got != event.EventID {
		t.Errorf("msg id header = %q, want %q", got, event.EventID)
	}
}

func TestDurableLogAppendFailure(t *testing.T) {
	pub := &fakePublisher{failWith: errors.New("no stream")}
	l := NewDurableLogWithPublisher(pub, nil)

	err := l.Append(context.Background(), chat.NewChatEvent("math-7", "t", "teacher", "x"))
	if !errors.Is(err, chat.ErrPersistenceFailure) {
		t.Errorf("err = %v", err)
	}
}

func TestDurableLogAppendAfterClose(t *testing.T) {
	l := NewDurableLogWithPublisher(&fakePublisher{}, nil)
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}
	err := l.Append(context.Background(), chat.NewChatEvent("math-7", "t", "teacher", "x"))
	if !errors.Is(err, chat.ErrPersistenceFailure) {
		t.Errorf("err = %v", err)
	}
}
