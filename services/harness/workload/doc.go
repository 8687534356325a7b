// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package workload produces reproducible streams of heap-allocated work items.
//
// # Overview
//
// A Generator emits WorkItems whose payload sizes follow a configured
// distribution (fixed, uniform or exponential) and whose retention class
// (transient, weak, strong) follows a weighted mix. Two generators built from
// the same Config emit identical sequences of sizes and classes.
//
//	┌──────────────┐  Next()   ┌──────────────┐  Admit()  ┌───────────────┐
//	│  Generator   │──────────▶│   WorkItem   │──────────▶│  retention.   │
//	│ seed, dist,  │           │ ID, Class,   │           │  Controller   │
//	│ class mix    │           │ Payload      │           └───────────────┘
//	└──────────────┘           └──────────────┘
//
// # Usage
//
//	gen, err := workload.NewGenerator(workload.Config{
//	    Size: workload.Exponential(1024),
//	    Seed: 42,
//	    Mix:  workload.ClassMix{Transient: 8, Strong: 2},
//	})
//	if err != nil {
//	    return err // *failure.ConfigurationError
//	}
//	item, err := gen.Next()
//
// # Thread Safety
//
// A Generator is owned by a single producer goroutine and is not safe for
// concurrent use.
package workload
