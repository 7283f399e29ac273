// Classhub - Classroom Chat Message Distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/classhub

package websocket

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/classhub/internal/chat"
	"github.com/tomtom215/classhub/internal/principal"
)

type fakeFanout struct {
	mu     sync.Mutex
	events []chat.ChatEvent
}

func (f *fakeFanout) PublishAsync(event chat.ChatEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func (f *fakeFanout) published() []chat.ChatEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]chat.ChatEvent, len(f.events))
	copy(out, f.events)
	return out
}

type fakeDurable struct {
	mu     sync.Mutex
	err    error
	events []chat.ChatEvent
}

func (d *fakeDurable) Append(_ context.Context, event chat.ChatEvent) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.events = append(d.events, event)
	return nil
}

func (d *fakeDurable) appended() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.events)
}

type fakeHistory struct {
	events []chat.ChatEvent
}

func (h *fakeHistory) RecentByRoom(roomID string, limit int) ([]chat.ChatEvent, error) {
	var out []chat.ChatEvent
	for _, e := range h.events {
		if e.RoomID == roomID && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

func testHub(t *testing.T, fanout *fakeFanout, durable *fakeDurable, history *fakeHistory) *Hub {
	t.Helper()
	dedup := chat.NewDeduplicator(time.Minute)
	t.Cleanup(dedup.Close)

	return NewHub(Config{
		HistoryLimit:    10,
		MaxPayloadBytes: 1024,
		SendRate:        1000,
		SendBurst:       1000,
	}, chat.NewGate(false), dedup, fanout, durable, history)
}

// addMember wires a client into the hub and a room without running pumps.
func addMember(t *testing.T, h *Hub, p *principal.Principal, roomID string) *Client {
	t.Helper()
	c := NewClient(h, nil, p)
	h.mu.Lock()
	h.clients[c.connID] = c
	h.mu.Unlock()
	if err := h.table.Join(c.connID, roomID, p); err != nil {
		t.Fatalf("Join: %v", err)
	}
	return c
}

func recvFrame(t *testing.T, c *Client) OutboundFrame {
	t.Helper()
	select {
	case frame := <-c.send:
		return frame
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for frame")
		return OutboundFrame{}
	}
}

func assertNoFrame(t *testing.T, c *Client) {
	t.Helper()
	select {
	case frame := <-c.send:
		t.Fatalf("unexpected frame %+v", frame)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestHandleSendPipeline(t *testing.T) {
	fanout := &fakeFanout{}
	durable := &fakeDurable{}
	h := testHub(t, fanout, durable, nil)

	teacher := principal.NewPrincipal("teacher-1", principal.RoleTeacher, []string{"math-7"})
	student := principal.NewPrincipal("student-1", principal.RoleStudent, []string{"math-7"})
	sender := addMember(t, h, teacher, "math-7")
	receiver := addMember(t, h, student, "math-7")

	event, err := h.HandleSend(context.Background(), sender, "math-7", "homework due friday")
	if err != nil {
		t.Fatalf("HandleSend: %v", err)
	}

	// Both room members got exactly one copy, including the sender.
	for _, c := range []*Client{sender, receiver} {
		frame := recvFrame(t, c)
		if frame.Type != FrameTypeEvent || frame.Event == nil || frame.Event.EventID != event.EventID {
			t.Errorf("frame = %+v", frame)
		}
		assertNoFrame(t, c)
	}

	if durable.appended() != 1 {
		t.Errorf("durable appends = %d, want 1", durable.appended())
	}
	published := fanout.published()
	if len(published) != 1 || published[0].EventID != event.EventID {
		t.Errorf("fanout = %+v", published)
	}

	// The instance's own echo is suppressed, so the fan-out copy does
	// not deliver a second time.
	h.HandleFanout(event)
	assertNoFrame(t, sender)
	assertNoFrame(t, receiver)
}

func TestHandleSendRejectsUnauthorized(t *testing.T) {
	fanout := &fakeFanout{}
	durable := &fakeDurable{}
	h := testHub(t, fanout, durable, nil)

	student := principal.NewPrincipal("student-1", principal.RoleStudent, []string{"math-7"})
	sender := addMember(t, h, student, "math-7")

	_, err := h.HandleSend(context.Background(), sender, "math-7", "can I talk")
	if !errors.Is(err, chat.ErrUnauthorized) {
		t.Fatalf("error = %v, want ErrUnauthorized", err)
	}
	assertNoFrame(t, sender)
	if durable.appended() != 0 || len(fanout.published()) != 0 {
		t.Error("rejected message reached the pipeline")
	}
}

func TestHandleSendPayloadTooLarge(t *testing.T) {
	h := testHub(t, &fakeFanout{}, &fakeDurable{}, nil)
	teacher := principal.NewPrincipal("teacher-1", principal.RoleTeacher, []string{"math-7"})
	sender := addMember(t, h, teacher, "math-7")

	big := make([]byte, 2048)
	_, err := h.HandleSend(context.Background(), sender, "math-7", string(big))
	if !errors.Is(err, chat.ErrPayloadTooLarge) {
		t.Fatalf("error = %v, want ErrPayloadTooLarge", err)
	}
}

func TestHandleSendRateLimit(t *testing.T) {
	fanout := &fakeFanout{}
	durable := &fakeDurable{}
	dedup := chat.NewDeduplicator(time.Minute)
	t.Cleanup(dedup.Close)
	h := NewHub(Config{
		MaxPayloadBytes: 1024,
		SendRate:        1,
		SendBurst:       2,
	}, chat.NewGate(false), dedup, fanout, durable, nil)

	teacher := principal.NewPrincipal("teacher-1", principal.RoleTeacher, []string{"math-7"})
	sender := addMember(t, h, teacher, "math-7")

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := h.HandleSend(ctx, sender, "math-7", "ok"); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
	_, err := h.HandleSend(ctx, sender, "math-7", "too fast")
	if !errors.Is(err, chat.ErrRateLimited) {
		t.Fatalf("error = %v, want ErrRateLimited", err)
	}
}

func TestHandleSendSurfacesAppendFailure(t *testing.T) {
	fanout := &fakeFanout{}
	durable := &fakeDurable{err: chat.ErrPersistenceFailure}
	h := testHub(t, fanout, durable, nil)

	teacher := principal.NewPrincipal("teacher-1", principal.RoleTeacher, []string{"math-7"})
	sender := addMember(t, h, teacher, "math-7")

	_, err := h.HandleSend(context.Background(), sender, "math-7", "will not stick")
	if !errors.Is(err, chat.ErrPersistenceFailure) {
		t.Fatalf("error = %v, want ErrPersistenceFailure", err)
	}
	// Local delivery happened before the append, but the fan-out never
	// left this instance.
	recvFrame(t, sender)
	if len(fanout.published()) != 0 {
		t.Error("failed append still published to fan-out")
	}
}

func TestHandleFanoutDeliversRemoteEvents(t *testing.T) {
	h := testHub(t, &fakeFanout{}, &fakeDurable{}, nil)
	student := principal.NewPrincipal("student-1", principal.RoleStudent, []string{"math-7"})
	member := addMember(t, h, student, "math-7")
	outsider := addMember(t, h,
		principal.NewPrincipal("student-2", principal.RoleStudent, []string{"bio-8"}), "bio-8")

	remote := chat.NewChatEvent("math-7", "teacher-9", "teacher", "from another instance")
	h.HandleFanout(remote)

	frame := recvFrame(t, member)
	if frame.Event == nil || frame.Event.EventID != remote.EventID {
		t.Errorf("frame = %+v", frame)
	}
	assertNoFrame(t, outsider)

	// Redelivery of the same remote event delivers again; dedup only
	// covers this instance's own sends.
	h.HandleFanout(remote)
	recvFrame(t, member)
}

func TestBroadcastPerRoomGate(t *testing.T) {
	fanout := &fakeFanout{}
	durable := &fakeDurable{}
	h := testHub(t, fanout, durable, nil)

	teacher := principal.NewPrincipal("teacher-1", principal.RoleTeacher, []string{"math-7", "bio-8"})
	m1 := addMember(t, h,
		principal.NewPrincipal("student-1", principal.RoleStudent, []string{"math-7"}), "math-7")
	m2 := addMember(t, h,
		principal.NewPrincipal("student-2", principal.RoleStudent, []string{"bio-8"}), "bio-8")

	accepted, rejected, err := h.Broadcast(context.Background(), teacher,
		[]string{"math-7", "bio-8", "chem-9"}, "assembly at noon")
	if err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	if len(accepted) != 2 {
		t.Errorf("accepted = %d, want 2", len(accepted))
	}
	if len(rejected) != 1 || rejected[0] != "chem-9" {
		t.Errorf("rejected = %v", rejected)
	}
	recvFrame(t, m1)
	recvFrame(t, m2)
	if durable.appended() != 2 {
		t.Errorf("durable appends = %d, want 2", durable.appended())
	}
}

func TestEmitRetract(t *testing.T) {
	fanout := &fakeFanout{}
	h := testHub(t, fanout, &fakeDurable{}, nil)

	admin := principal.NewPrincipal("admin-1", principal.RoleAdmin, []string{"math-7"})
	member := addMember(t, h,
		principal.NewPrincipal("student-1", principal.RoleStudent, []string{"math-7"}), "math-7")

	event, err := h.EmitRetract(admin, "math-7", "retracted-id")
	if err != nil {
		t.Fatalf("EmitRetract: %v", err)
	}
	frame := recvFrame(t, member)
	if frame.Type != FrameTypeRetract || frame.Event.Payload != "retracted-id" {
		t.Errorf("frame = %+v", frame)
	}
	if len(fanout.published()) != 1 {
		t.Error("retract marker not fanned out")
	}

	student := principal.NewPrincipal("student-1", principal.RoleStudent, []string{"math-7"})
	if _, err := h.EmitRetract(student, "math-7", event.EventID); !errors.Is(err, chat.ErrUnauthorized) {
		t.Errorf("student retract error = %v, want ErrUnauthorized", err)
	}
}

func TestRegisterAutoJoinsAndReplaysHistory(t *testing.T) {
	old := chat.NewChatEvent("math-7", "teacher-1", "teacher", "yesterday's note")
	history := &fakeHistory{events: []chat.ChatEvent{old}}
	h := testHub(t, &fakeFanout{}, &fakeDurable{}, history)

	student := principal.NewPrincipal("student-1", principal.RoleStudent, []string{"math-7"})
	c := NewClient(h, nil, student)
	h.registerClient(c)

	joined := recvFrame(t, c)
	if joined.Type != FrameTypeJoined || joined.RoomID != "math-7" {
		t.Errorf("joined frame = %+v", joined)
	}
	replay := recvFrame(t, c)
	if replay.Type != FrameTypeHistory || len(replay.Events) != 1 || replay.Events[0].EventID != old.EventID {
		t.Errorf("history frame = %+v", replay)
	}
	if !h.table.Contains(c.connID, "math-7") {
		t.Error("client not joined to authorized room")
	}
	if h.ClientCount() != 1 {
		t.Errorf("client count = %d", h.ClientCount())
	}
}

func TestRemoveClientIdempotent(t *testing.T) {
	h := testHub(t, &fakeFanout{}, &fakeDurable{}, nil)
	student := principal.NewPrincipal("student-1", principal.RoleStudent, []string{"math-7"})
	c := addMember(t, h, student, "math-7")

	h.removeClient(c.connID)
	h.removeClient(c.connID) // second call is a no-op

	if h.ClientCount() != 0 {
		t.Errorf("client count = %d", h.ClientCount())
	}
	if len(h.table.Members("math-7")) != 0 {
		t.Error("membership survived removal")
	}
}

func TestRunShutsDownClients(t *testing.T) {
	h := testHub(t, &fakeFanout{}, &fakeDurable{}, nil)
	student := principal.NewPrincipal("student-1", principal.RoleStudent, []string{"math-7"})
	addMember(t, h, student, "math-7")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
	if h.ClientCount() != 0 {
		t.Errorf("clients after shutdown = %d", h.ClientCount())
	}
}

func TestEnqueueAfterRemovalDropsFrame(t *testing.T) {
	h := testHub(t, &fakeFanout{}, &fakeDurable{}, nil)
	student := principal.NewPrincipal("student-1", principal.RoleStudent, []string{"math-7"})
	c := addMember(t, h, student, "math-7")

	h.removeClient(c.connID)

	// The read pump may still be dispatching frames for a client the
	// hub already dropped; the offer must be a no-op, not a panic.
	c.enqueue(OutboundFrame{Type: FrameTypePong})
	c.enqueue(errorFrame("math-7", ErrorCodeUnauthorized, "not authorized for room"))

	// closeSend is idempotent alongside it.
	c.closeSend()
}
