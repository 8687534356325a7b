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
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zoobzio/clockz"

	"github.com/AleutianAI/gclab/pkg/logging"
	"github.com/AleutianAI/gclab/services/harness/failure"
	"github.com/AleutianAI/gclab/services/harness/retention"
)

// stubScenario advances a fake clock on every tick.
type stubScenario struct {
	clock   *clockz.FakeClock
	step    time.Duration
	failAt  uint64
	ticks   uint64
	sweeps  int
	removes int
}

var errStub = errors.New("stub tick failure")

func (s *stubScenario) Name() string { return "stub-fixed" }

func (s *stubScenario) Tick() error {
	s.ticks++
	if s.failAt > 0 && s.ticks == s.failAt {
		return errStub
	}
	if s.clock != nil {
		s.clock.Advance(s.step)
	}
	return nil
}

func (s *stubScenario) Retained() int { return int(s.ticks) }

func (s *stubScenario) Sweep() int {
	s.sweeps++
	return s.removes
}

func (s *stubScenario) Stats() Stats {
	return Stats{Name: s.Name(), Mode: "fixed", Ticks: s.ticks, Retained: int(s.ticks)}
}

func unpaced() DriverConfig {
	cfg := DefaultDriverConfig()
	cfg.TickRate = 0
	return cfg
}

func TestDriver_StopsAtMaxTicks(t *testing.T) {
	cfg := unpaced()
	cfg.MaxTicks = 100
	d, err := NewDriver(cfg, WithDriverLogger(logging.Discard()))
	require.NoError(t, err)

	s, err := NewSessionScenario(smallSessions(retention.ModeFixed, 10), nil)
	require.NoError(t, err)

	sum, err := d.Run(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, int64(100), sum.Ticks)
	assert.Equal(t, 10, sum.Scenario.Retained)
	assert.False(t, sum.Exhausted)
	assert.NotZero(t, sum.Final.HeapAlloc)
}

func TestDriver_CancelledBeforeStart(t *testing.T) {
	d, err := NewDriver(unpaced(), WithDriverLogger(logging.Discard()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sum, err := d.Run(ctx, &stubScenario{})
	require.NoError(t, err)
	assert.Equal(t, int64(0), sum.Ticks)
}

func TestDriver_CancelStopsPacedRun(t *testing.T) {
	cfg := DefaultDriverConfig()
	cfg.TickRate = 1000
	d, err := NewDriver(cfg, WithDriverLogger(logging.Discard()))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	sum, err := d.Run(ctx, &stubScenario{})
	require.NoError(t, err)
	assert.Positive(t, sum.Ticks)
	assert.Less(t, sum.Ticks, int64(1000))
}

func TestDriver_MemoryBudgetExceeded(t *testing.T) {
	cfg := unpaced()
	cfg.MemoryBudget = 1
	cfg.BudgetCheckEvery = 1
	d, err := NewDriver(cfg, WithDriverLogger(logging.Discard()))
	require.NoError(t, err)

	s, err := NewSessionScenario(smallSessions(retention.ModeLeak, 0), nil)
	require.NoError(t, err)

	sum, err := d.Run(context.Background(), s)
	require.Error(t, err)
	assert.True(t, failure.IsResourceExhaustion(err))

	var exhausted *failure.ExhaustionError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, "session-leak", exhausted.Scenario)
	assert.Equal(t, int64(1), exhausted.Ticks)
	assert.Equal(t, uint64(1), exhausted.BudgetBytes)
	assert.True(t, sum.Exhausted)
	assert.Equal(t, 1, sum.Scenario.Retained)
}

func TestDriver_TickErrorIsWrapped(t *testing.T) {
	cfg := unpaced()
	d, err := NewDriver(cfg, WithDriverLogger(logging.Discard()))
	require.NoError(t, err)

	sum, err := d.Run(context.Background(), &stubScenario{failAt: 3})
	assert.ErrorIs(t, err, errStub)
	assert.Contains(t, err.Error(), "tick 3")
	assert.Equal(t, int64(2), sum.Ticks)
}

func TestDriver_SweepAndStatusIntervals(t *testing.T) {
	clock := clockz.NewFakeClock()
	cfg := unpaced()
	cfg.MaxTicks = 10
	cfg.SweepEvery = 2 * time.Second
	cfg.ReportEvery = time.Second

	var statuses []Status
	d, err := NewDriver(cfg,
		WithDriverLogger(logging.Discard()),
		WithDriverClock(clock),
		WithStatusHandler(func(st Status) { statuses = append(statuses, st) }),
	)
	require.NoError(t, err)

	stub := &stubScenario{clock: clock, step: 500 * time.Millisecond, removes: 1}
	_, err = d.Run(context.Background(), stub)
	require.NoError(t, err)

	// Ten ticks of 500ms: status at 1s..5s, sweep at 2s and 4s.
	require.Len(t, statuses, 5)
	assert.Equal(t, uint64(2), statuses[0].Scenario.Ticks)
	assert.Equal(t, time.Second, statuses[0].Elapsed)
	assert.Equal(t, 2, stub.sweeps)
}

func TestDriverConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*DriverConfig)
	}{
		{"negative rate", func(c *DriverConfig) { c.TickRate = -1 }},
		{"negative max ticks", func(c *DriverConfig) { c.MaxTicks = -1 }},
		{"negative sweep", func(c *DriverConfig) { c.SweepEvery = -time.Second }},
		{"negative report", func(c *DriverConfig) { c.ReportEvery = -time.Second }},
		{"negative budget interval", func(c *DriverConfig) { c.BudgetCheckEvery = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultDriverConfig()
			tt.mutate(&cfg)
			_, err := NewDriver(cfg)
			assert.True(t, failure.IsConfiguration(err))
		})
	}
}
