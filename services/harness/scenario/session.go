// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package scenario

import (
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/zoobzio/clockz"

	"github.com/AleutianAI/gclab/services/harness/failure"
	"github.com/AleutianAI/gclab/services/harness/retention"
	"github.com/AleutianAI/gclab/services/harness/workload"
)

// SessionConfig configures a SessionScenario.
type SessionConfig struct {
	// Mode selects the leak or fixed variant.
	Mode retention.Mode

	// Capacity caps retained sessions in the fixed variant. Default: 500
	Capacity int

	// TTL expires sessions this long after creation in the fixed variant.
	// Zero disables expiry. Default: 5m
	TTL time.Duration

	// SessionSize is the session payload size. Default: fixed(1 MiB)
	SessionSize workload.SizeSpec

	// Seed drives payload sizes and the choice of session to touch.
	Seed uint64
}

// DefaultSessionConfig returns the configuration for mode.
func DefaultSessionConfig(mode retention.Mode) SessionConfig {
	return SessionConfig{
		Mode:        mode,
		Capacity:    500,
		TTL:         5 * time.Minute,
		SessionSize: workload.Fixed(1 << 20),
		Seed:        1,
	}
}

// Validate checks the configuration.
func (c SessionConfig) Validate() error {
	if err := c.SessionSize.Validate(); err != nil {
		return err
	}
	if c.TTL < 0 {
		return failure.Invalid("ttl", c.TTL, "must be non-negative")
	}
	return nil
}

// mark records the newest session ID created at a point in time.
type mark struct {
	at time.Time
	id uint64
}

// SessionScenario models a process-wide session collection.
//
// Description:
//
//	Each Tick creates one session and admits it to a list retention
//	controller, then touches one randomly chosen retained session. In the
//	leak variant the controller never evicts, so the collection holds
//	exactly one session per tick. In the fixed variant the controller
//	evicts the oldest session beyond Capacity and Sweep expires sessions
//	created more than TTL ago.
//
// Thread Safety: Tick and Sweep from one goroutine; Retained and Stats
// from any.
type SessionScenario struct {
	cfg   SessionConfig
	clock clockz.Clock
	gen   *workload.Generator
	ctrl  *retention.Controller
	rng   *rand.Rand
	marks *retention.FIFO[mark]

	ticks    atomic.Uint64
	bytes    atomic.Uint64
	checksum uint64
}

// NewSessionScenario validates cfg and builds the scenario. A nil clock
// means clockz.RealClock.
func NewSessionScenario(cfg SessionConfig, clock clockz.Clock) (*SessionScenario, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = clockz.RealClock
	}
	gen, err := workload.NewGenerator(workload.Config{Size: cfg.SessionSize, Seed: cfg.Seed, Mix: workload.AllStrong})
	if err != nil {
		return nil, err
	}
	ctrl, err := retention.NewController(retention.Config{
		Name:      scenarioName(KindSession, cfg.Mode),
		Mode:      cfg.Mode,
		Capacity:  cfg.Capacity,
		Container: retention.ContainerList,
	})
	if err != nil {
		return nil, err
	}
	s := &SessionScenario{
		cfg:   cfg,
		clock: clock,
		gen:   gen,
		ctrl:  ctrl,
		rng:   rand.New(rand.NewPCG(cfg.Seed, ^cfg.Seed)),
	}
	if cfg.Mode == retention.ModeFixed && cfg.TTL > 0 {
		s.marks = retention.NewFIFO[mark](ctrl.Capacity())
	}
	return s, nil
}

// Name implements Scenario.
func (s *SessionScenario) Name() string { return s.ctrl.Name() }

// Tick implements Scenario.
func (s *SessionScenario) Tick() error {
	session, err := s.gen.Next()
	if err != nil {
		return err
	}
	s.ctrl.Admit(&session)
	s.ticks.Add(1)
	s.bytes.Add(uint64(session.Size()))
	if s.marks != nil {
		s.marks.Push(mark{at: s.clock.Now(), id: session.ID})
	}

	if n := s.ctrl.Len(); n > 0 {
		if active, ok := s.ctrl.Pick(s.rng.IntN(n)); ok {
			s.checksum += active.Touch()
		}
	}
	return nil
}

// Retained implements Scenario.
func (s *SessionScenario) Retained() int { return s.ctrl.Len() }

// Sweep expires sessions older than TTL. The leak variant removes nothing.
func (s *SessionScenario) Sweep() int {
	if s.marks == nil {
		return 0
	}
	cutoff := s.clock.Now().Add(-s.cfg.TTL)
	var through uint64
	s.marks.PopWhile(func(m mark) bool {
		if m.at.After(cutoff) {
			return false
		}
		through = m.id
		return true
	})
	if through == 0 {
		return 0
	}
	return s.ctrl.Expire(func(item *workload.WorkItem) bool { return item.ID <= through })
}

// Stats implements Scenario.
func (s *SessionScenario) Stats() Stats {
	cs := s.ctrl.Stats()
	return Stats{
		Name:     cs.Name,
		Mode:     cs.Mode,
		Ticks:    s.ticks.Load(),
		Retained: cs.Strong,
		Capacity: cs.Capacity,
		Removed:  cs.Evictions,
		Bytes:    s.bytes.Load(),
	}
}

var _ Scenario = (*SessionScenario)(nil)
