// Classhub - Classroom Chat Message Distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/classhub

package chat

import (
	"sync"
	"time"
)

// Deduplicator suppresses the echo a publishing instance receives from
// its own fan-out publish. The sender's instance delivers locally first,
// marks the event, and when the fan-out copy arrives the marker is
// consumed and the event dropped.
//
// Markers expire after a fixed TTL so an echo that never arrives (bus
// drop) cannot grow the table. Expiry is lazy on lookup plus a
// background sweep for markers never looked up.
type Deduplicator struct {
	mu      sync.Mutex
	ttl     time.Duration
	markers map[string]time.Time // eventID -> expiry

	done chan struct{}
	once sync.Once
}

// NewDeduplicator creates a deduplicator and starts its sweep loop.
// Call Close to stop the sweeper.
func NewDeduplicator(ttl time.Duration) *Deduplicator {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	d := &Deduplicator{
		ttl:     ttl,
		markers: make(map[string]time.Time),
		done:    make(chan struct{}),
	}
	go d.sweepLoop()
	return d
}

// MarkSelfDelivered records that this instance already delivered the
// event locally. Must be called before the fan-out publish so the echo
// can never race ahead of the marker.
func (d *Deduplicator) MarkSelfDelivered(eventID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.markers[eventID] = time.Now().Add(d.ttl)
}

// WasSelfDelivered reports whether the event was already delivered
// locally, consuming the marker on a hit. A second call for the same
// event returns false.
func (d *Deduplicator) WasSelfDelivered(eventID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	expiry, ok := d.markers[eventID]
	if !ok {
		return false
	}
	delete(d.markers, eventID)
	return time.Now().Before(expiry)
}

// Len returns the number of live markers. Test hook.
func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.markers)
}

// Close stops the background sweeper. Idempotent.
func (d *Deduplicator) Close() {
	d.once.Do(func() { close(d.done) })
}

func (d *Deduplicator) sweepLoop() {
	ticker := time.NewTicker(d.ttl)
	defer ticker.Stop()

	for {
		select {
		case <-d.done:
			return
		case now := <-ticker.C:
			d.sweep(now)
		}
	}
}

func (d *Deduplicator) sweep(now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for eventID, expiry := range d.markers {
		if now.After(expiry) {
			delete(d.markers, eventID)
		}
	}
}
