// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

//go:build unix

package main

import (
	"context"
	"os"
	"os/signal"

	"golang.org/x/sys/unix"

	"github.com/AleutianAI/gclab/pkg/logging"
	"github.com/AleutianAI/gclab/services/harness/diagnostics"
)

// watchCaptureSignal writes a heap capture on every SIGUSR1 until ctx is
// done.
func watchCaptureSignal(ctx context.Context, capture *diagnostics.HeapCapture, logger *logging.Logger) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, unix.SIGUSR1)
	defer signal.Stop(sigs)

	for {
		select {
		case <-ctx.Done():
			return
		case <-sigs:
			path, err := capture.Capture(ctx, "signal")
			if err != nil {
				logger.Error("heap capture failed", "source", "signal", "error", err)
				continue
			}
			logger.Info("heap captured", "path", path, "source", "signal")
		}
	}
}
