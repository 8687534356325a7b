// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command gclab runs allocation benchmarks and memory-leak scenarios
// against the Go runtime.
//
// Usage:
//
//	gclab bench --kind latency --measure 30s
//	gclab bench -c launch.yaml --set-baseline
//	gclab leak --scenario session --leak --budget 512MiB
//	gclab reports list --kind latency
//	gclab compare <run-id>
//
// While a benchmark or scenario runs, a heap profile can be requested with
// SIGUSR1, with POST /capture on the admin server, or by touching
// capture.trigger in the capture directory. The admin server also streams
// runtime snapshots over a websocket at /live.
//
// Exit codes: 0 success, 1 error, 2 invalid configuration, 3 memory budget
// exceeded, 4 regression against the stored baseline.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	os.Exit(execute(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

// execute runs the CLI and returns the process exit code. SIGINT and
// SIGTERM cancel the running command.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := newRootCmd(newApp(stdout, stderr))
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	code := exitCode(err)
	if err != nil && code != exitRegression {
		fmt.Fprintf(stderr, "gclab: %v\n", err)
	}
	return code
}
