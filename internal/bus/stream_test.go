// Classhub - Classroom Chat Message Distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/classhub

package bus

import (
	"context"
	"testing"

	"github.com/nats-io/nats.go/jetstream"
)

// mockJetStream records which lifecycle calls the initializer makes.
type mockJetStream struct {
	exists  bool
	created *jetstream.StreamConfig
	updated *jetstream.StreamConfig
}

func (m *mockJetStream) Stream(ctx context.Context, name string) (jetstream.Stream, error) {
	if !m.exists {
		return nil, jetstream.ErrStreamNotFound
	}
	return nil, nil
}

func (m *mockJetStream) CreateStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error) {
	m.created = &cfg
	m.exists = true
	return nil, nil
}

func (m *mockJetStream) UpdateStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error) {
	m.updated = &cfg
	return nil, nil
}

func (m *mockJetStream) DeleteStream(ctx context.Context, name string) error {
	m.exists = false
	return nil
}

func TestEnsureStreamCreatesWhenMissing(t *testing.T) {
	js := &mockJetStream{}
	cfg := DefaultStreamConfig()
	init, err := NewStreamInitializer(js, &cfg)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := init.EnsureStream(context.Background()); err != nil {
		t.Fatal(err)
	}
	if js.created == nil {
		t.Fatal("stream not created")
	}
	if js.created.Name != cfg.Name || js.created.Retention != jetstream.LimitsPolicy {
		t.Errorf("created config = %+v", js.created)
	}
	if js.created.Duplicates != cfg.DuplicateWindow {
		t.Errorf("duplicate window = %v", js.created.Duplicates)
	}
}

func TestEnsureStreamUpdatesWhenPresent(t *testing.T) {
	js := &mockJetStream{exists: true}
	cfg := DefaultStreamConfig()
	init, err := NewStreamInitializer(js, &cfg)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := init.EnsureStream(context.Background()); err != nil {
		t.Fatal(err)
	}
	if js.created != nil {
		t.Error("existing stream recreated")
	}
	if js.updated == nil {
		t.Fatal("existing stream not updated")
	}
}

func TestStreamInitializerHealth(t *testing.T) {
	js := &mockJetStream{}
	cfg := DefaultStreamConfig()
	init, err := NewStreamInitializer(js, &cfg)
	if err != nil {
		t.Fatal(err)
	}

	if init.IsHealthy(context.Background()) {
		t.Error("healthy before stream exists")
	}
	if _, err := init.EnsureStream(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !init.IsHealthy(context.Background()) {
		t.Error("unhealthy after stream created")
	}
}
