// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/AleutianAI/gclab/services/harness/metrics"
	"github.com/AleutianAI/gclab/services/harness/regression"
	"github.com/AleutianAI/gclab/services/harness/runner"
	"github.com/AleutianAI/gclab/services/harness/scenario"
	"github.com/AleutianAI/gclab/services/harness/telemetry"
)

// Record types written by JSON and FileSink.
const (
	RecordRun        = "run"
	RecordScenario   = "scenario"
	RecordComparison = "comparison"
	RecordStatus     = "status"
	RecordLive       = "live"
)

// LiveStatus is a snapshot of a benchmark that is still running.
type LiveStatus struct {
	RunID  string         `json:"run_id"`
	Kind   runner.Kind    `json:"kind"`
	State  runner.State   `json:"state"`
	Report metrics.Report `json:"report"`
}

// Record is one JSON line.
type Record struct {
	Type       string                 `json:"type"`
	At         time.Time              `json:"at"`
	Run        *runner.Result         `json:"run,omitempty"`
	Scenario   *scenario.Summary      `json:"scenario,omitempty"`
	Comparison *regression.Comparison `json:"comparison,omitempty"`
	Status     *scenario.Status       `json:"status,omitempty"`
	Live       *LiveStatus            `json:"live,omitempty"`
}

// =============================================================================
// JSON
// =============================================================================

// JSON writes one Record per line.
//
// Thread Safety: Safe for concurrent use.
type JSON struct {
	mu  sync.Mutex
	enc *json.Encoder
	now func() time.Time
}

var _ telemetry.Sink = (*JSON)(nil)

// NewJSON returns a JSON reporter writing to w.
func NewJSON(w io.Writer) *JSON {
	return &JSON{enc: json.NewEncoder(w), now: time.Now}
}

// Write encodes rec, stamping At when unset.
func (j *JSON) Write(rec Record) error {
	if rec.At.IsZero() {
		rec.At = j.now()
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.enc.Encode(rec)
}

// Comparison writes a comparison record.
func (j *JSON) Comparison(c *regression.Comparison) error {
	return j.Write(Record{Type: RecordComparison, Comparison: c})
}

// Status writes a status record.
func (j *JSON) Status(st scenario.Status) {
	_ = j.Write(Record{Type: RecordStatus, Status: &st})
}

// Live writes a live benchmark record.
func (j *JSON) Live(ls LiveStatus) {
	_ = j.Write(Record{Type: RecordLive, Live: &ls})
}

// RecordRun implements telemetry.Sink.
func (j *JSON) RecordRun(_ context.Context, r *runner.Result) error {
	if r == nil {
		return telemetry.ErrNilData
	}
	return j.Write(Record{Type: RecordRun, Run: r})
}

// RecordScenario implements telemetry.Sink.
func (j *JSON) RecordScenario(_ context.Context, s *scenario.Summary) error {
	if s == nil {
		return telemetry.ErrNilData
	}
	return j.Write(Record{Type: RecordScenario, Scenario: s})
}

// Flush implements telemetry.Sink.
func (j *JSON) Flush(context.Context) error { return nil }

// Close implements telemetry.Sink. The writer is not closed.
func (j *JSON) Close() error { return nil }

// =============================================================================
// FileSink
// =============================================================================

// FileSink appends JSON lines to a file.
//
// Description:
//
//	Each record is written while holding an exclusive lock on path+".lock",
//	so several processes can append to one report file without
//	interleaving lines.
//
// Thread Safety: Safe for concurrent use.
type FileSink struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	lock   *flock.Flock
	closed bool
	now    func() time.Time
}

var _ telemetry.Sink = (*FileSink)(nil)

// OpenFileSink opens path for appending, creating it and its directory.
func OpenFileSink(path string) (*FileSink, error) {
	if path == "" {
		return nil, errors.New("report file path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("create report dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return nil, fmt.Errorf("open report file: %w", err)
	}
	return &FileSink{
		path: path,
		file: f,
		lock: flock.New(path + ".lock"),
		now:  time.Now,
	}, nil
}

// Path returns the report file path.
func (s *FileSink) Path() string { return s.path }

// Write appends rec as one line.
func (s *FileSink) Write(ctx context.Context, rec Record) error {
	if ctx == nil {
		return telemetry.ErrNilContext
	}
	if rec.At.IsZero() {
		rec.At = s.now()
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return telemetry.ErrSinkClosed
	}
	locked, err := s.lock.TryLockContext(ctx, 10*time.Millisecond)
	if err != nil {
		return fmt.Errorf("lock report file: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock report file: %s busy", s.path)
	}
	defer func() { _ = s.lock.Unlock() }()

	if _, err := s.file.Write(line); err != nil {
		return fmt.Errorf("append record: %w", err)
	}
	return nil
}

// Comparison appends a comparison record.
func (s *FileSink) Comparison(ctx context.Context, c *regression.Comparison) error {
	return s.Write(ctx, Record{Type: RecordComparison, Comparison: c})
}

// RecordRun implements telemetry.Sink.
func (s *FileSink) RecordRun(ctx context.Context, r *runner.Result) error {
	if r == nil {
		return telemetry.ErrNilData
	}
	return s.Write(ctx, Record{Type: RecordRun, Run: r})
}

// RecordScenario implements telemetry.Sink.
func (s *FileSink) RecordScenario(ctx context.Context, sum *scenario.Summary) error {
	if sum == nil {
		return telemetry.ErrNilData
	}
	return s.Write(ctx, Record{Type: RecordScenario, Scenario: sum})
}

// Flush syncs the file to disk.
func (s *FileSink) Flush(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return telemetry.ErrSinkClosed
	}
	return s.file.Sync()
}

// Close closes the file. Calling Close again is a no-op.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.file.Close()
}

// ReadRecords decodes every line of a report file.
func ReadRecords(r io.Reader) ([]Record, error) {
	dec := json.NewDecoder(r)
	var out []Record
	for {
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return out, fmt.Errorf("decode record %d: %w", len(out)+1, err)
		}
		out = append(out, rec)
	}
}
