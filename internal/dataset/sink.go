// Jobdigest - Personalized Posting Ranking and Allocation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/jobdigest

package dataset

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/goccy/go-json"
)

// JSONLSink writes allocation rows as JSON lines, one file per run date.
// WriteUser buffers a user's rows and flushes them in one write so a
// cancelled run never leaves a user half-written.
type JSONLSink struct {
	mu   sync.Mutex
	dir  string
	file *os.File
	w    *bufio.Writer
	date string
}

// NewJSONLSink creates the output directory if needed.
func NewJSONLSink(dir string) (*JSONLSink, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create output dir %s: %w", dir, err)
	}
	return &JSONLSink{dir: dir}, nil
}

// WriteUser implements Sink. Rows for one user are encoded to a single
// buffer and written under the lock, then flushed.
func (s *JSONLSink) WriteUser(ctx context.Context, userID int64, runDate string, rows []AllocationRow) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var buf []byte
	for i := range rows {
		line, err := json.Marshal(&rows[i])
		if err != nil {
			return fmt.Errorf("marshal allocation row: %w", err)
		}
		buf = append(buf, line...)
		buf = append(buf, '\n')
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureFile(runDate); err != nil {
		return err
	}
	if _, err := s.w.Write(buf); err != nil {
		return fmt.Errorf("write allocations for user %d: %w", userID, err)
	}
	return s.w.Flush()
}

// ensureFile opens the per-run output file on first use (caller holds mu).
func (s *JSONLSink) ensureFile(runDate string) error {
	if s.file != nil && s.date == runDate {
		return nil
	}
	if s.file != nil {
		s.w.Flush()
		s.file.Close()
	}
	path := filepath.Join(s.dir, fmt.Sprintf("allocations-%s.jsonl", runDate))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return fmt.Errorf("open output file %s: %w", path, err)
	}
	s.file = f
	s.w = bufio.NewWriter(f)
	s.date = runDate
	return nil
}

// Close flushes and closes the current output file.
func (s *JSONLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	if err := s.w.Flush(); err != nil {
		s.file.Close()
		return err
	}
	err := s.file.Close()
	s.file = nil
	return err
}
