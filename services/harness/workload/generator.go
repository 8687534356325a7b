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
	"math/rand/v2"

	"github.com/AleutianAI/gclab/services/harness/failure"
)

// seedMix decorrelates the second PCG word from the first.
const seedMix = 0x9e3779b97f4a7c15

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// ClassMix weights the retention classes. Items cycle through the classes in
// proportion to their weights, in the order transient, weak, strong.
type ClassMix struct {
	Transient int
	Weak      int
	Strong    int
}

// AllStrong is the mix used by leak scenarios.
var AllStrong = ClassMix{Strong: 1}

func (m ClassMix) schedule() []RetentionClass {
	out := make([]RetentionClass, 0, m.Transient+m.Weak+m.Strong)
	for i := 0; i < m.Transient; i++ {
		out = append(out, ClassTransient)
	}
	for i := 0; i < m.Weak; i++ {
		out = append(out, ClassWeak)
	}
	for i := 0; i < m.Strong; i++ {
		out = append(out, ClassStrong)
	}
	return out
}

// Config configures a Generator.
type Config struct {
	// Size is the payload size distribution.
	Size SizeSpec

	// Seed makes the size sequence reproducible.
	Seed uint64

	// Mix weights the retention classes. Zero value means all transient.
	Mix ClassMix

	// Limit caps the number of items; zero means unlimited.
	Limit int64
}

// DefaultConfig returns 1 KiB transient items with seed 1.
func DefaultConfig() Config {
	return Config{
		Size: Fixed(1024),
		Seed: 1,
		Mix:  ClassMix{Transient: 1},
	}
}

// Validate checks the size distribution, weights and limit.
func (c Config) Validate() error {
	if err := c.Size.Validate(); err != nil {
		return err
	}
	if c.Mix.Transient < 0 || c.Mix.Weak < 0 || c.Mix.Strong < 0 {
		return failure.Invalid("class_mix", fmt.Sprintf("%+v", c.Mix), "weights must be non-negative")
	}
	if c.Limit < 0 {
		return failure.Invalid("limit", c.Limit, "must be non-negative")
	}
	return nil
}

// -----------------------------------------------------------------------------
// Generator
// -----------------------------------------------------------------------------

// Generator emits WorkItems.
//
// Description:
//
//	Sizes are drawn from a PCG source seeded from Config.Seed. Retention
//	classes are not random: a monotonic counter walks the weighted class
//	schedule, so the class sequence is identical for every seed.
//
// Thread Safety: Not safe for concurrent use.
type Generator struct {
	cfg      Config
	rng      *rand.Rand
	schedule []RetentionClass
	counter  uint64
}

// NewGenerator validates cfg and returns a Generator.
//
// Outputs:
//   - *Generator: Ready generator. Nil on error.
//   - error: *failure.ConfigurationError for invalid configuration.
func NewGenerator(cfg Config) (*Generator, error) {
	if cfg.Mix == (ClassMix{}) {
		cfg.Mix = ClassMix{Transient: 1}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Generator{
		cfg:      cfg,
		rng:      rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^seedMix)),
		schedule: cfg.Mix.schedule(),
	}, nil
}

// Next allocates and returns the next item.
//
// Outputs:
//   - WorkItem: The new item. IDs start at 1.
//   - error: failure.ErrGeneratorExhausted once Limit items were produced.
func (g *Generator) Next() (WorkItem, error) {
	if g.cfg.Limit > 0 && g.counter >= uint64(g.cfg.Limit) {
		return WorkItem{}, failure.ErrGeneratorExhausted
	}
	size := g.cfg.Size.draw(g.rng)
	class := g.schedule[g.counter%uint64(len(g.schedule))]
	g.counter++
	return WorkItem{
		ID:      g.counter,
		Class:   class,
		Payload: newPayload(g.counter, size),
	}, nil
}

// NextAs is Next with the retention class overridden.
func (g *Generator) NextAs(class RetentionClass) (WorkItem, error) {
	item, err := g.Next()
	if err != nil {
		return item, err
	}
	item.Class = class
	return item, nil
}

// Count returns the number of items emitted so far.
func (g *Generator) Count() uint64 {
	return g.counter
}

// Config returns the generator configuration.
func (g *Generator) Config() Config {
	return g.cfg
}

// Sizes returns the first n sizes a generator built from cfg would emit,
// without allocating payloads.
func Sizes(cfg Config, n int) ([]int, error) {
	if err := cfg.Size.Validate(); err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^seedMix))
	out := make([]int, n)
	for i := range out {
		out[i] = cfg.Size.draw(rng)
	}
	return out, nil
}
