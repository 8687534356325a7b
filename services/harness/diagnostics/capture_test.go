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
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/gclab/pkg/logging"
)

func TestHeapCapture_WritesProfile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "dumps")
	capture, err := NewHeapCapture(CaptureConfig{Dir: dir, Prefix: "list-leak", GCFirst: true})
	require.NoError(t, err)
	assert.Equal(t, dir, capture.Dir())

	path, err := capture.Capture(context.Background(), "Resource Exhaustion!")
	require.NoError(t, err)

	base := filepath.Base(path)
	assert.True(t, strings.HasPrefix(base, "list-leak_"), base)
	assert.True(t, strings.HasSuffix(base, "_resource_exhaustion_.pprof"), base)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.NotZero(t, info.Size())
}

func TestHeapCapture_EmptyReason(t *testing.T) {
	capture, err := NewHeapCapture(CaptureConfig{Dir: t.TempDir()})
	require.NoError(t, err)

	path, err := capture.Capture(context.Background(), "")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(path, "_manual.pprof"), path)
	assert.True(t, strings.HasPrefix(filepath.Base(path), "gclab_"), path)
}

func TestHeapCapture_UnknownFormat(t *testing.T) {
	_, err := NewHeapCapture(CaptureConfig{Dir: t.TempDir(), Format: "hprof"})
	assert.Error(t, err)
}

func TestHeapCapture_BusyWhenLockedElsewhere(t *testing.T) {
	dir := t.TempDir()
	first, err := NewHeapCapture(CaptureConfig{Dir: dir})
	require.NoError(t, err)
	second, err := NewHeapCapture(CaptureConfig{Dir: dir, LockTimeout: 100 * time.Millisecond})
	require.NoError(t, err)

	locked, err := first.lock.TryLock()
	require.NoError(t, err)
	require.True(t, locked)
	defer func() { _ = first.lock.Unlock() }()

	_, err = second.Capture(context.Background(), "blocked")
	assert.ErrorIs(t, err, ErrCaptureBusy)
}

func TestTriggerWatcher_CapturesOnTrigger(t *testing.T) {
	capture, err := NewHeapCapture(CaptureConfig{Dir: t.TempDir()})
	require.NoError(t, err)

	captured := make(chan string, 4)
	watcher := NewTriggerWatcher(capture, logging.Discard())
	watcher.OnCapture = func(path string) { captured <- path }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- watcher.Run(ctx) }()

	trigger := filepath.Join(capture.Dir(), TriggerFile)
	// The watch is registered asynchronously; keep touching until it fires.
	deadline := time.After(5 * time.Second)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	var path string
loop:
	for {
		select {
		case path = <-captured:
			break loop
		case <-ticker.C:
			_ = os.WriteFile(trigger, []byte("x"), 0600)
		case <-deadline:
			t.Fatal("no capture after touching trigger")
		}
	}

	assert.True(t, strings.HasSuffix(path, "_trigger.pprof"), path)
	cancel()
	assert.NoError(t, <-errCh)
}
