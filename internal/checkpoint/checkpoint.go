// Jobdigest - Personalized Posting Ranking and Allocation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/jobdigest

// Package checkpoint persists per-partition progress markers so an
// interrupted run can resume without repeating completed work. Markers
// are keyed by (run date, stage, partition) and stored in BadgerDB with
// synchronous writes; a marker is only written after its partition's
// output is durable, so replaying an unmarked partition is always safe.
package checkpoint

import (
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
)

// ErrNotFound is returned when no marker exists for the requested key.
var ErrNotFound = errors.New("checkpoint: not found")

// Key prefix for BadgerDB storage.
const markerKeyPrefix = "ckpt:"

// Status is the lifecycle state of one partition marker.
type Status string

const (
	// StatusPending marks a planned partition not yet started.
	StatusPending Status = "pending"
	// StatusRunning marks a partition currently being processed.
	StatusRunning Status = "running"
	// StatusDone marks a partition whose output is durable.
	StatusDone Status = "done"
	// StatusFailed marks a partition that exhausted its retries.
	StatusFailed Status = "failed"
)

// Marker records one partition's progress within a run.
type Marker struct {
	RunDate      string    `json:"run_date"`
	Stage        string    `json:"stage"`
	PartitionKey string    `json:"partition_key"`
	Status       Status    `json:"status"`
	AttemptCount int       `json:"attempt_count"`
	ErrorSummary string    `json:"error_summary,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (m *Marker) key() []byte {
	return []byte(markerKeyPrefix + m.RunDate + ":" + m.Stage + ":" + m.PartitionKey)
}

// Store is a BadgerDB-backed marker store. It is safe for concurrent
// use; Badger serializes conflicting writes internally.
type Store struct {
	db    *badger.DB
	owned bool
}

// Open creates a store backed by a BadgerDB at path, opening the
// database with durability-oriented options.
func Open(path string) (*Store, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil // Suppress BadgerDB internal logs
	// Markers are tiny; shrink the value log from the 1GB default.
	opts.ValueLogFileSize = 16 << 20 // 16MB
	// Sync writes so a marker survives a crash immediately after commit.
	opts.SyncWrites = true

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger db for checkpoints: %w", err)
	}
	return &Store{db: db, owned: true}, nil
}

// NewStore wraps an existing BadgerDB connection. The caller retains
// ownership of the database; Close becomes a no-op.
func NewStore(db *badger.DB) *Store {
	return &Store{db: db}
}

// Put upserts a marker, stamping UpdatedAt. Re-writing an existing key
// is the normal path: markers advance pending -> running -> done/failed.
func (s *Store) Put(marker *Marker) error {
	marker.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(marker)
	if err != nil {
		return fmt.Errorf("marshal marker: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(marker.key(), data); err != nil {
			return fmt.Errorf("set marker: %w", err)
		}
		return nil
	})
}

// Get retrieves one marker, or ErrNotFound.
func (s *Store) Get(runDate, stage, partitionKey string) (*Marker, error) {
	var marker Marker
	err := s.db.View(func(txn *badger.Txn) error {
		key := (&Marker{RunDate: runDate, Stage: stage, PartitionKey: partitionKey}).key()
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get marker: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &marker)
		})
	})
	if err != nil {
		return nil, err
	}
	return &marker, nil
}

// Done reports whether the partition already has a done marker. Missing
// markers and read errors both report false so the partition reruns.
func (s *Store) Done(runDate, stage, partitionKey string) bool {
	m, err := s.Get(runDate, stage, partitionKey)
	return err == nil && m.Status == StatusDone
}

// List returns all markers for a run date in key order. An empty stage
// matches every stage.
func (s *Store) List(runDate, stage string) ([]Marker, error) {
	prefix := markerKeyPrefix + runDate + ":"
	if stage != "" {
		prefix += stage + ":"
	}

	var markers []Marker
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			var m Marker
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &m)
			})
			if err != nil {
				return fmt.Errorf("read marker: %w", err)
			}
			markers = append(markers, m)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return markers, nil
}

// Close releases the underlying database if this store opened it.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}
