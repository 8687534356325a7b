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
	"strconv"
	"sync/atomic"

	"github.com/AleutianAI/gclab/services/harness/failure"
	"github.com/AleutianAI/gclab/services/harness/retention"
	"github.com/AleutianAI/gclab/services/harness/workload"
)

// ListenerConfig configures a ListenerScenario.
type ListenerConfig struct {
	// Mode selects the leak or fixed variant.
	Mode retention.Mode

	// BufferSize is each processor's buffer size. Default: fixed(1 MiB)
	BufferSize workload.SizeSpec

	// Seed drives buffer sizes.
	Seed uint64
}

// DefaultListenerConfig returns the configuration for mode.
func DefaultListenerConfig(mode retention.Mode) ListenerConfig {
	return ListenerConfig{
		Mode:       mode,
		BufferSize: workload.Fixed(1 << 20),
		Seed:       1,
	}
}

// Validate checks the configuration.
func (c ListenerConfig) Validate() error {
	if c.Mode != retention.ModeFixed && c.Mode != retention.ModeLeak {
		return failure.Invalid("leak_mode", int(c.Mode), "unknown mode")
	}
	return c.BufferSize.Validate()
}

// processor is a listener that owns a buffer.
type processor struct {
	buffer  *workload.WorkItem
	handled int
	sum     uint64
}

// OnEvent implements retention.Listener.
func (p *processor) OnEvent(retention.Event) {
	p.handled++
	p.sum += p.buffer.Touch()
}

// ListenerScenario models processors subscribing to an event registry.
//
// Description:
//
//	Each Tick creates a processor holding a buffer, registers it and
//	publishes one event to every registered processor. The fixed variant
//	unregisters the processor right after the publish, so the registry
//	never holds more than the processor being served. The leak variant
//	keeps every registration, and each publish also walks every earlier
//	processor.
//
// Thread Safety: Tick from one goroutine; Retained and Stats from any.
type ListenerScenario struct {
	cfg ListenerConfig
	gen *workload.Generator
	reg *retention.Registry

	ticks     atomic.Uint64
	bytes     atomic.Uint64
	delivered atomic.Uint64
}

// NewListenerScenario validates cfg and builds the scenario.
func NewListenerScenario(cfg ListenerConfig) (*ListenerScenario, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	gen, err := workload.NewGenerator(workload.Config{Size: cfg.BufferSize, Seed: cfg.Seed, Mix: workload.AllStrong})
	if err != nil {
		return nil, err
	}
	return &ListenerScenario{
		cfg: cfg,
		gen: gen,
		reg: retention.NewRegistry(scenarioName(KindListener, cfg.Mode)),
	}, nil
}

// Name implements Scenario.
func (s *ListenerScenario) Name() string { return s.reg.Name() }

// Tick implements Scenario.
func (s *ListenerScenario) Tick() error {
	buffer, err := s.gen.Next()
	if err != nil {
		return err
	}
	p := &processor{buffer: &buffer}
	token := s.reg.Register(p)

	n := s.ticks.Add(1)
	s.bytes.Add(uint64(buffer.Size()))
	s.delivered.Add(uint64(s.reg.Publish("event-" + strconv.FormatUint(n, 10))))

	if s.cfg.Mode == retention.ModeFixed {
		s.reg.Unregister(token)
	}
	return nil
}

// Retained implements Scenario.
func (s *ListenerScenario) Retained() int { return s.reg.Len() }

// Sweep implements Scenario. Registrations are only ever removed by
// Unregister, so there is nothing to sweep.
func (s *ListenerScenario) Sweep() int { return 0 }

// Delivered returns the total number of event deliveries.
func (s *ListenerScenario) Delivered() uint64 { return s.delivered.Load() }

// Stats implements Scenario.
func (s *ListenerScenario) Stats() Stats {
	return Stats{
		Name:     s.reg.Name(),
		Mode:     s.cfg.Mode.String(),
		Ticks:    s.ticks.Load(),
		Retained: s.reg.Len(),
		Removed:  s.reg.Unregistered(),
		Bytes:    s.bytes.Load(),
	}
}

var _ Scenario = (*ListenerScenario)(nil)
var _ retention.Listener = (*processor)(nil)
