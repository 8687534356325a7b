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
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/AleutianAI/gclab/pkg/logging"
)

// TriggerFile is the file name that requests a capture when it appears in
// the watched directory.
const TriggerFile = "capture.trigger"

// TriggerWatcher captures the heap whenever TriggerFile is created or
// written in its directory, then removes the trigger.
//
// Usage from a shell while a scenario runs:
//
//	touch heap_dumps/capture.trigger
type TriggerWatcher struct {
	capture *HeapCapture
	logger  *logging.Logger

	// OnCapture, when set, is called with each written path.
	OnCapture func(path string)
}

// NewTriggerWatcher watches capture.Dir().
func NewTriggerWatcher(capture *HeapCapture, logger *logging.Logger) *TriggerWatcher {
	if logger == nil {
		logger = logging.Default()
	}
	return &TriggerWatcher{capture: capture, logger: logger}
}

// Run blocks until ctx is done or the watcher fails.
func (w *TriggerWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	dir := w.capture.Dir()
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	trigger := filepath.Join(dir, TriggerFile)

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != trigger || !ev.Has(fsnotify.Create|fsnotify.Write) {
				continue
			}
			// A trigger already consumed by an earlier event is skipped.
			if err := os.Remove(trigger); err != nil {
				if !os.IsNotExist(err) {
					w.logger.Warn("remove trigger file", "error", err)
				}
				continue
			}
			path, err := w.capture.Capture(ctx, "trigger")
			if err != nil {
				w.logger.Error("triggered capture failed", "error", err)
				continue
			}
			w.logger.Info("heap captured", "path", path, "source", "trigger")
			if w.OnCapture != nil {
				w.OnCapture(path)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("trigger watcher error", "error", err)
		}
	}
}
