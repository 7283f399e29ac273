// Classhub - Classroom Chat Message Distribution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/classhub

// Package store persists accepted chat events in BadgerDB.
//
// Two key spaces: the event record keyed by event ID, and a per-room
// index keyed by acceptance time so history reads are a single ordered
// prefix scan. Writes are idempotent on event ID, which is what makes
// at-least-once delivery from the durable log safe.
package store

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	json "github.com/goccy/go-json"

	"github.com/tomtom215/classhub/internal/chat"
)

// Key prefixes for BadgerDB storage.
const (
	eventKeyPrefix = "event:"
	roomKeyPrefix  = "room:"
)

// ErrEventNotFound is returned when no record exists for an event ID.
var ErrEventNotFound = errors.New("event not found")

// Config controls how the message store opens its database.
type Config struct {
	Path     string
	InMemory bool
}

// MessageStore is a BadgerDB-backed archive of accepted chat events.
type MessageStore struct {
	db *badger.DB
}

// Open creates (or reopens) the message store.
func Open(cfg Config) (*MessageStore, error) {
	if cfg.Path == "" && !cfg.InMemory {
		return nil, fmt.Errorf("store path required")
	}

	opts := badger.DefaultOptions(cfg.Path)
	opts.InMemory = cfg.InMemory
	if cfg.InMemory {
		opts.Dir = ""
		opts.ValueDir = ""
	}

	// Reduce logging verbosity
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open BadgerDB: %w", err)
	}

	return &MessageStore{db: db}, nil
}

// NewWithDB wraps an already-open database. Used by tests and by
// deployments that share one Badger instance across stores.
func NewWithDB(db *badger.DB) *MessageStore {
	return &MessageStore{db: db}
}

func eventKey(eventID string) []byte {
	return []byte(eventKeyPrefix + eventID)
}

// roomIndexKey orders events within a room by acceptance time. The
// nanosecond timestamp is fixed-width decimal so byte order equals
// chronological order; the event ID suffix breaks ties.
func roomIndexKey(roomID string, acceptedAtNano int64, eventID string) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d:%s", roomKeyPrefix, roomID, acceptedAtNano, eventID))
}

func roomIndexPrefix(roomID string) []byte {
	return []byte(roomKeyPrefix + roomID + ":")
}

// Put stores an accepted event. Idempotent: a second Put for the same
// event ID is a no-op, so redeliveries from the durable log never
// duplicate a record.
func (s *MessageStore) Put(event chat.ChatEvent) error {
	if err := event.Validate(); err != nil {
		return fmt.Errorf("invalid event: %w", err)
	}

	data, err := event.Marshal()
	if err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		key := eventKey(event.EventID)
		if _, err := txn.Get(key); err == nil {
			// Already persisted; redelivery.
			return nil
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("check event %s: %w", event.EventID, err)
		}

		if err := txn.Set(key, data); err != nil {
			return fmt.Errorf("set event %s: %w", event.EventID, err)
		}

		indexKey := roomIndexKey(event.RoomID, event.AcceptedAt.UnixNano(), event.EventID)
		if err := txn.Set(indexKey, []byte(event.EventID)); err != nil {
			return fmt.Errorf("set room index for %s: %w", event.EventID, err)
		}

		return nil
	})
}

// Get retrieves an event by ID.
func (s *MessageStore) Get(eventID string) (chat.ChatEvent, error) {
	var event chat.ChatEvent

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(eventKey(eventID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrEventNotFound
		}
		if err != nil {
			return fmt.Errorf("get event %s: %w", eventID, err)
		}

		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &event)
		})
	})
	if err != nil {
		return chat.ChatEvent{}, err
	}

	return event, nil
}

// RecentByRoom returns up to limit events for a room, oldest first,
// ending at the most recent. This is the history-replay read.
func (s *MessageStore) RecentByRoom(roomID string, limit int) ([]chat.ChatEvent, error) {
	if limit <= 0 {
		return nil, nil
	}

	var events []chat.ChatEvent

	err := s.db.View(func(txn *badger.Txn) error {
		prefix := roomIndexPrefix(roomID)

		// Reverse scan collects the newest entries first.
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Reverse = true
		iterOpts.Prefix = prefix
		it := txn.NewIterator(iterOpts)
		defer it.Close()

		// Reverse iteration with a prefix needs a seek key just past
		// the prefix range.
		seek := append(append([]byte{}, prefix...), 0xff)

		var ids []string
		for it.Seek(seek); it.ValidForPrefix(prefix) && len(ids) < limit; it.Next() {
			if err := it.Item().Value(func(val []byte) error {
				ids = append(ids, string(val))
				return nil
			}); err != nil {
				return fmt.Errorf("read room index: %w", err)
			}
		}

		// Oldest first for replay.
		for i := len(ids) - 1; i >= 0; i-- {
			item, err := txn.Get(eventKey(ids[i]))
			if errors.Is(err, badger.ErrKeyNotFound) {
				// Index entry survived a retraction race; skip.
				continue
			}
			if err != nil {
				return fmt.Errorf("get event %s: %w", ids[i], err)
			}
			var event chat.ChatEvent
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &event)
			}); err != nil {
				return fmt.Errorf("decode event %s: %w", ids[i], err)
			}
			events = append(events, event)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return events, nil
}

// Delete removes an event record and its room index entry. Deleting an
// unknown event returns ErrEventNotFound.
func (s *MessageStore) Delete(eventID, roomID string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(eventKey(eventID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrEventNotFound
		}
		if err != nil {
			return fmt.Errorf("get event %s: %w", eventID, err)
		}

		var event chat.ChatEvent
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &event)
		}); err != nil {
			return fmt.Errorf("decode event %s: %w", eventID, err)
		}
		if event.RoomID != roomID {
			return ErrEventNotFound
		}

		if err := txn.Delete(eventKey(eventID)); err != nil {
			return fmt.Errorf("delete event %s: %w", eventID, err)
		}
		indexKey := roomIndexKey(event.RoomID, event.AcceptedAt.UnixNano(), eventID)
		if err := txn.Delete(indexKey); err != nil {
			return fmt.Errorf("delete room index for %s: %w", eventID, err)
		}

		return nil
	})
}

// Close flushes and closes the underlying database.
func (s *MessageStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close BadgerDB: %w", err)
	}
	return nil
}
