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

	"github.com/shirou/gopsutil/v3/process"
)

// Sampler reads runtime statistics plus the process RSS and CPU usage.
//
// Thread Safety: Safe for concurrent use.
type Sampler struct {
	proc *process.Process
}

// NewSampler opens a handle on the current process.
func NewSampler() (*Sampler, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("open process handle: %w", err)
	}
	return &Sampler{proc: proc}, nil
}

// Sample returns a RuntimeSample with RSS and CPU filled in. OS-level
// readings that fail are left at zero; runtime figures are always present.
func (s *Sampler) Sample(ctx context.Context) RuntimeSample {
	rs := ReadRuntime()
	if s == nil || s.proc == nil {
		return rs
	}
	if mem, err := s.proc.MemoryInfoWithContext(ctx); err == nil && mem != nil {
		rs.RSS = mem.RSS
	}
	if cpu, err := s.proc.CPUPercentWithContext(ctx); err == nil {
		rs.CPUPercent = cpu
	}
	return rs
}
