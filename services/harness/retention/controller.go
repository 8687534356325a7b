// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package retention decides how long work items stay reachable.
//
// # Overview
//
// A Controller receives every WorkItem a runner produces and answers with a
// Decision: release it, hold it weakly, or hold it strongly in a retention
// set. In fixed mode the strong set is bounded and evicts its oldest entry;
// in leak mode it grows for as long as the process runs.
//
// The package also provides the two building blocks leak scenarios use
// directly: FIFO, a bounded-or-growing queue, and Registry, a token-keyed
// listener set.
//
// # Thread Safety
//
// Controllers, FIFOs and Registries are owned by one goroutine. Counters
// exposed through Stats are atomics so observers may read them concurrently.
package retention

import (
	"fmt"
	"strings"
	"sync/atomic"
	"weak"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/AleutianAI/gclab/services/harness/failure"
	"github.com/AleutianAI/gclab/services/harness/workload"
)

// Unbounded is the capacity value meaning "no bound".
const Unbounded = 0

// weakPruneFloor is the weak-handle count at which cleared handles are
// first pruned.
const weakPruneFloor = 1024

// -----------------------------------------------------------------------------
// Enumerations
// -----------------------------------------------------------------------------

// Mode selects bounded or leaking retention.
type Mode int

const (
	// ModeFixed bounds the strong set and evicts the oldest entry.
	ModeFixed Mode = iota

	// ModeLeak never evicts.
	ModeLeak
)

// String returns "fixed" or "leak".
func (m Mode) String() string {
	if m == ModeLeak {
		return "leak"
	}
	return "fixed"
}

// Decision is the controller's answer for one item.
type Decision int

const (
	// ReleaseImmediately drops the item after processing.
	ReleaseImmediately Decision = iota

	// HoldWeak keeps a weak handle only.
	HoldWeak

	// HoldStrong stores the item in the retention set.
	HoldStrong
)

// String returns the hyphenated decision name.
func (d Decision) String() string {
	switch d {
	case ReleaseImmediately:
		return "release-immediately"
	case HoldWeak:
		return "hold-weak"
	case HoldStrong:
		return "hold-strong"
	default:
		return fmt.Sprintf("Decision(%d)", int(d))
	}
}

// Container selects the shape of the strong set.
type Container int

const (
	// ContainerList is an insertion-ordered FIFO.
	ContainerList Container = iota

	// ContainerCache is a keyed cache. Bounded caches evict the least
	// recently used key.
	ContainerCache
)

// String returns "list" or "cache".
func (c Container) String() string {
	if c == ContainerCache {
		return "cache"
	}
	return "list"
}

// ParseContainer parses "list" or "cache".
func ParseContainer(s string) (Container, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "list":
		return ContainerList, nil
	case "cache":
		return ContainerCache, nil
	default:
		return 0, failure.Invalid("container", s, "expected list or cache")
	}
}

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// Config configures a Controller.
type Config struct {
	// Name identifies the retention set in metrics and logs.
	Name string

	// Mode selects fixed or leak retention.
	Mode Mode

	// Capacity bounds the strong set in fixed mode. Must be positive in
	// fixed mode; ignored in leak mode.
	Capacity int

	// Container selects list or cache storage.
	Container Container
}

// Validate rejects a fixed-mode controller without a positive capacity.
func (c Config) Validate() error {
	if c.Mode == ModeFixed && c.Capacity <= 0 {
		return failure.Invalid("capacity", c.Capacity, "fixed mode requires a positive capacity")
	}
	if c.Mode != ModeFixed && c.Mode != ModeLeak {
		return failure.Invalid("leak_mode", int(c.Mode), "unknown mode")
	}
	if c.Container != ContainerList && c.Container != ContainerCache {
		return failure.Invalid("container", int(c.Container), "unknown container")
	}
	return nil
}

// bound returns the effective strong-set capacity.
func (c Config) bound() int {
	if c.Mode == ModeLeak {
		return Unbounded
	}
	return c.Capacity
}

// -----------------------------------------------------------------------------
// Strong Sets
// -----------------------------------------------------------------------------

type strongSet interface {
	add(item *workload.WorkItem) (evicted bool)
	at(i int) (*workload.WorkItem, bool)
	expire(pred func(*workload.WorkItem) bool) int
	len() int
	clear()
}

type listSet struct {
	q *FIFO[*workload.WorkItem]
}

func (s *listSet) add(item *workload.WorkItem) bool {
	_, evicted := s.q.Push(item)
	return evicted
}

func (s *listSet) at(i int) (*workload.WorkItem, bool) {
	if i < 0 || i >= s.q.Len() {
		return nil, false
	}
	return s.q.At(i), true
}

func (s *listSet) expire(pred func(*workload.WorkItem) bool) int {
	return s.q.PopWhile(pred)
}

func (s *listSet) len() int { return s.q.Len() }
func (s *listSet) clear()   { s.q.Clear() }

type cacheSet struct {
	bounded   *lru.Cache[uint64, *workload.WorkItem]
	unbounded map[uint64]*workload.WorkItem
}

func newCacheSet(capacity int) (*cacheSet, error) {
	s := &cacheSet{}
	if capacity == Unbounded {
		s.unbounded = make(map[uint64]*workload.WorkItem)
		return s, nil
	}
	c, err := lru.New[uint64, *workload.WorkItem](capacity)
	if err != nil {
		return nil, fmt.Errorf("create cache set: %w", err)
	}
	s.bounded = c
	return s, nil
}

func (s *cacheSet) add(item *workload.WorkItem) bool {
	if s.bounded != nil {
		return s.bounded.Add(item.ID, item)
	}
	s.unbounded[item.ID] = item
	return false
}

// at is not supported by the cache container.
func (s *cacheSet) at(int) (*workload.WorkItem, bool) { return nil, false }

func (s *cacheSet) expire(pred func(*workload.WorkItem) bool) int {
	n := 0
	if s.bounded != nil {
		for {
			_, item, ok := s.bounded.GetOldest()
			if !ok || !pred(item) {
				return n
			}
			s.bounded.RemoveOldest()
			n++
		}
	}
	for k, item := range s.unbounded {
		if pred(item) {
			delete(s.unbounded, k)
			n++
		}
	}
	return n
}

func (s *cacheSet) len() int {
	if s.bounded != nil {
		return s.bounded.Len()
	}
	return len(s.unbounded)
}

func (s *cacheSet) clear() {
	if s.bounded != nil {
		s.bounded.Purge()
		return
	}
	clear(s.unbounded)
}

// -----------------------------------------------------------------------------
// Controller
// -----------------------------------------------------------------------------

// Stats is a point-in-time view of a Controller.
type Stats struct {
	Name      string `json:"name"`
	Mode      string `json:"mode"`
	Capacity  int    `json:"capacity"`
	Strong    int    `json:"strong"`
	Weak      int    `json:"weak"`
	Admitted  uint64 `json:"admitted"`
	Released  uint64 `json:"released"`
	Evictions uint64 `json:"evictions"`
}

// Controller applies retention decisions.
//
// Description:
//
//	Transient items are released, weak items are tracked by weak.Pointer
//	and strong items go into the strong set. In fixed mode admitting a
//	strong item into a full set evicts the oldest (list) or least recently
//	used (cache) entry first, so the set never exceeds Capacity.
//
// Thread Safety: Admit, PruneWeak and Clear must be called from the owning
// goroutine. Stats, Len and WeakLen are safe from any goroutine.
type Controller struct {
	cfg    Config
	strong strongSet
	weak   []weak.Pointer[workload.WorkItem]

	pruneAt int

	strongLen atomic.Int64
	weakLen   atomic.Int64
	admitted  atomic.Uint64
	released  atomic.Uint64
	evictions atomic.Uint64
}

// NewController validates cfg and builds the strong set.
//
// Outputs:
//   - *Controller: Ready controller.
//   - error: *failure.ConfigurationError on invalid configuration.
func NewController(cfg Config) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Name == "" {
		cfg.Name = fmt.Sprintf("%s-%s", cfg.Container, cfg.Mode)
	}

	c := &Controller{cfg: cfg, pruneAt: weakPruneFloor}
	switch cfg.Container {
	case ContainerCache:
		set, err := newCacheSet(cfg.bound())
		if err != nil {
			return nil, err
		}
		c.strong = set
	default:
		c.strong = &listSet{q: NewFIFO[*workload.WorkItem](cfg.bound())}
	}
	return c, nil
}

// Admit takes ownership of item and returns the decision applied to it.
func (c *Controller) Admit(item *workload.WorkItem) Decision {
	c.admitted.Add(1)

	switch item.Class {
	case workload.ClassStrong:
		if c.strong.add(item) {
			c.evictions.Add(1)
		}
		c.strongLen.Store(int64(c.strong.len()))
		return HoldStrong

	case workload.ClassWeak:
		c.weak = append(c.weak, weak.Make(item))
		if len(c.weak) >= c.pruneAt {
			c.PruneWeak()
		}
		c.weakLen.Store(int64(len(c.weak)))
		return HoldWeak

	default:
		c.released.Add(1)
		return ReleaseImmediately
	}
}

// PruneWeak drops weak handles whose referent has been collected and
// returns the number dropped. In fixed mode the surviving handles are also
// trimmed to Capacity, oldest first.
func (c *Controller) PruneWeak() int {
	live := c.weak[:0]
	for _, p := range c.weak {
		if p.Value() != nil {
			live = append(live, p)
		}
	}
	if bound := c.cfg.bound(); bound > 0 && len(live) > bound {
		live = append(live[:0], live[len(live)-bound:]...)
	}
	dropped := len(c.weak) - len(live)
	clear(c.weak[len(live):])
	c.weak = live

	c.pruneAt = max(weakPruneFloor, 2*len(live))
	c.weakLen.Store(int64(len(c.weak)))
	return dropped
}

// Pick returns the i-th oldest strong item. Only the list container
// supports positional access; the cache container always reports false.
func (c *Controller) Pick(i int) (*workload.WorkItem, bool) {
	return c.strong.at(i)
}

// Expire removes strong items for which pred returns true and returns the
// number removed. The list container stops at the first item, oldest
// first, that pred rejects; the bounded cache does the same in recency
// order. Removals count as evictions.
func (c *Controller) Expire(pred func(*workload.WorkItem) bool) int {
	n := c.strong.expire(pred)
	if n > 0 {
		c.evictions.Add(uint64(n))
		c.strongLen.Store(int64(c.strong.len()))
	}
	return n
}

// Clear releases every held item.
func (c *Controller) Clear() {
	c.strong.clear()
	clear(c.weak)
	c.weak = c.weak[:0]
	c.strongLen.Store(0)
	c.weakLen.Store(0)
}

// Name returns the retention set name.
func (c *Controller) Name() string { return c.cfg.Name }

// Mode returns the configured mode.
func (c *Controller) Mode() Mode { return c.cfg.Mode }

// Capacity returns the strong-set bound, or Unbounded.
func (c *Controller) Capacity() int { return c.cfg.bound() }

// Len returns the strong-set size.
func (c *Controller) Len() int { return int(c.strongLen.Load()) }

// WeakLen returns the number of weak handles currently tracked.
func (c *Controller) WeakLen() int { return int(c.weakLen.Load()) }

// Stats returns a snapshot of the controller counters.
func (c *Controller) Stats() Stats {
	return Stats{
		Name:      c.cfg.Name,
		Mode:      c.cfg.Mode.String(),
		Capacity:  c.cfg.bound(),
		Strong:    c.Len(),
		Weak:      c.WeakLen(),
		Admitted:  c.admitted.Load(),
		Released:  c.released.Load(),
		Evictions: c.evictions.Load(),
	}
}
