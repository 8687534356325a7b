// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package diagnostics

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"runtime/debug"
	"runtime/pprof"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// lockRetry is the interval between attempts to take the capture lock.
const lockRetry = 50 * time.Millisecond

// ErrCaptureBusy indicates another capture holds the directory lock.
var ErrCaptureBusy = errors.New("capture already in progress")

var unsafeReason = regexp.MustCompile(`[^a-z0-9_-]+`)

// Format selects what HeapCapture writes.
type Format string

const (
	// FormatProfile writes a pprof heap profile.
	FormatProfile Format = "pprof"

	// FormatDump writes a full runtime heap dump (debug.WriteHeapDump).
	FormatDump Format = "dump"
)

// CaptureConfig configures a HeapCapture.
type CaptureConfig struct {
	// Dir receives capture files. Created with 0750 when missing.
	Dir string

	// Prefix starts every file name, typically the scenario or run name.
	Prefix string

	// Format selects profile or dump output. Default: FormatProfile.
	Format Format

	// GCFirst runs a collection before a profile so it reflects live data.
	GCFirst bool

	// LockTimeout bounds the wait for the directory lock. Default: 5s.
	LockTimeout time.Duration
}

// HeapCapture writes heap diagnostics to a directory.
//
// Description:
//
//	Each capture takes an exclusive file lock on Dir/.capture.lock so that
//	concurrent requests (a signal, an HTTP call and a trigger file arriving
//	together) write one file at a time, including across processes sharing
//	the directory.
//
// Thread Safety: Safe for concurrent use.
type HeapCapture struct {
	cfg  CaptureConfig
	mu   sync.Mutex
	lock *flock.Flock
}

// NewHeapCapture creates the capture directory and returns a HeapCapture.
func NewHeapCapture(cfg CaptureConfig) (*HeapCapture, error) {
	if cfg.Dir == "" {
		cfg.Dir = "heap_dumps"
	}
	if cfg.Format == "" {
		cfg.Format = FormatProfile
	}
	if cfg.Format != FormatProfile && cfg.Format != FormatDump {
		return nil, fmt.Errorf("unknown capture format %q", cfg.Format)
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = 5 * time.Second
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "gclab"
	}
	if err := os.MkdirAll(cfg.Dir, 0750); err != nil {
		return nil, fmt.Errorf("create capture dir: %w", err)
	}
	return &HeapCapture{
		cfg:  cfg,
		lock: flock.New(filepath.Join(cfg.Dir, ".capture.lock")),
	}, nil
}

// Dir returns the capture directory.
func (h *HeapCapture) Dir() string { return h.cfg.Dir }

// Capture writes one file and returns its path.
//
// Inputs:
//   - ctx: Bounds the wait for the directory lock.
//   - reason: Short label included in the file name ("signal", "exhaustion").
//
// Outputs:
//   - string: Path of the written file.
//   - error: ErrCaptureBusy when the lock could not be taken in time, or a
//     write error.
func (h *HeapCapture) Capture(ctx context.Context, reason string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	lockCtx, cancel := context.WithTimeout(ctx, h.cfg.LockTimeout)
	defer cancel()

	locked, err := h.lock.TryLockContext(lockCtx, lockRetry)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrCaptureBusy, err)
	}
	if !locked {
		return "", ErrCaptureBusy
	}
	defer func() { _ = h.lock.Unlock() }()

	path := filepath.Join(h.cfg.Dir, h.fileName(reason))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0640)
	if err != nil {
		return "", fmt.Errorf("create capture file: %w", err)
	}

	switch h.cfg.Format {
	case FormatDump:
		debug.WriteHeapDump(f.Fd())
	default:
		if h.cfg.GCFirst {
			runtime.GC()
		}
		err = pprof.Lookup("heap").WriteTo(f, 0)
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", fmt.Errorf("write capture: %w", err)
	}
	return path, nil
}

func (h *HeapCapture) fileName(reason string) string {
	ext := "pprof"
	if h.cfg.Format == FormatDump {
		ext = "heapdump"
	}
	reason = unsafeReason.ReplaceAllString(strings.ToLower(reason), "_")
	if reason == "" {
		reason = "manual"
	}
	return fmt.Sprintf("%s_%s_%s.%s", h.cfg.Prefix, time.Now().Format("20060102T150405.000000"), reason, ext)
}
