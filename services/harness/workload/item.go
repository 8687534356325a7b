// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package workload

import (
	"fmt"
	"strings"

	"github.com/AleutianAI/gclab/services/harness/failure"
)

// pageSize is the stride used to touch payload pages after allocation.
const pageSize = 4096

// -----------------------------------------------------------------------------
// Retention Class
// -----------------------------------------------------------------------------

// RetentionClass is the lifetime category a work item asks for.
type RetentionClass int

const (
	// ClassTransient items are released as soon as they are processed.
	ClassTransient RetentionClass = iota

	// ClassWeak items are referenced weakly and may be reclaimed at any GC.
	ClassWeak

	// ClassStrong items are held by the retention set until evicted.
	ClassStrong
)

// String returns the configuration name of the class.
func (c RetentionClass) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassWeak:
		return "weak"
	case ClassStrong:
		return "strong"
	default:
		return fmt.Sprintf("RetentionClass(%d)", int(c))
	}
}

// ParseRetentionClass parses "transient", "weak" or "strong".
func ParseRetentionClass(s string) (RetentionClass, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "transient":
		return ClassTransient, nil
	case "weak":
		return ClassWeak, nil
	case "strong":
		return ClassStrong, nil
	default:
		return 0, failure.Invalid("retention_class", s, "expected transient, weak or strong")
	}
}

// -----------------------------------------------------------------------------
// WorkItem
// -----------------------------------------------------------------------------

// WorkItem is one unit of allocated work.
//
// Description:
//
//	Payload is a freshly allocated byte slice whose pages have been touched,
//	so the allocation is resident and visible in heap and RSS figures. The
//	first byte of every page carries the low byte of ID, which Verify uses
//	as an integrity check.
//
// Thread Safety: Not safe for concurrent mutation. Ownership passes from the
// generator to whichever container the retention controller chooses.
type WorkItem struct {
	// ID is the generator's monotonic sequence number, starting at 1.
	ID uint64

	// Class is the requested retention class.
	Class RetentionClass

	// Payload is the allocated body.
	Payload []byte
}

// Size returns the payload size in bytes.
func (w *WorkItem) Size() int {
	return len(w.Payload)
}

// Verify checks the payload stamp.
//
// Outputs:
//   - error: failure.ErrMalformedItem (wrapped) when the payload is empty or
//     its stamp does not match the item ID.
func (w *WorkItem) Verify() error {
	if len(w.Payload) == 0 {
		return fmt.Errorf("item %d: empty payload: %w", w.ID, failure.ErrMalformedItem)
	}
	if w.Payload[0] != stamp(w.ID) {
		return fmt.Errorf("item %d: stamp mismatch: %w", w.ID, failure.ErrMalformedItem)
	}
	return nil
}

// Touch writes into every page of the payload and returns a checksum.
// Processing steps use it to read and dirty the item the way a real
// consumer would.
func (w *WorkItem) Touch() uint64 {
	var sum uint64
	for i := 0; i < len(w.Payload); i += pageSize {
		w.Payload[i] = stamp(w.ID)
		sum += uint64(w.Payload[i])
	}
	return sum
}

func stamp(id uint64) byte {
	return byte(id)
}

func newPayload(id uint64, size int) []byte {
	p := make([]byte, size)
	s := stamp(id)
	for i := 0; i < size; i += pageSize {
		p[i] = s
	}
	return p
}
