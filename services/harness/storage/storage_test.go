// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/gclab/pkg/logging"
	"github.com/AleutianAI/gclab/services/harness/metrics"
	"github.com/AleutianAI/gclab/services/harness/runner"
	"github.com/AleutianAI/gclab/services/harness/scenario"
)

var epoch = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func newStore(t *testing.T) *ReportStore {
	t.Helper()
	db, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewReportStore(db)
}

func result(id string, kind runner.Kind, offset time.Duration) *runner.Result {
	return &runner.Result{
		RunID:     id,
		Kind:      kind,
		State:     runner.StateCompleted,
		StartedAt: epoch.Add(offset),
		Duration:  time.Second,
		Seed:      3,
		ItemSize:  "fixed(1024)",
		Report: metrics.Report{
			Count:   10,
			Latency: metrics.LatencyStats{P50: time.Microsecond, P99: 5 * time.Microsecond},
		},
		Latencies: []time.Duration{time.Microsecond, 2 * time.Microsecond},
	}
}

// -----------------------------------------------------------------------------
// DB Tests
// -----------------------------------------------------------------------------

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)

	_, err = Open(Config{InMemory: true, GCDiscardRatio: 2})
	assert.Error(t, err)
}

func TestOpen_PersistentWithGC(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	cfg := DefaultConfig(dir)
	cfg.GCInterval = 10 * time.Millisecond
	cfg.Logger = logging.Discard()

	db, err := Open(cfg)
	require.NoError(t, err)
	assert.Equal(t, dir, db.Path())
	assert.False(t, db.InMemory())

	store := NewReportStore(db)
	require.NoError(t, store.Save(context.Background(), result("a", runner.KindLatency, 0)))
	assert.GreaterOrEqual(t, db.CollectGarbage(), 0)

	require.NoError(t, db.Close())
	require.NoError(t, db.Close())

	db, err = Open(cfg)
	require.NoError(t, err)
	defer db.Close()
	got, err := NewReportStore(db).Get(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, "a", got.RunID)
}

func TestDB_CancelledContext(t *testing.T) {
	db, err := OpenInMemory()
	require.NoError(t, err)
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, NewReportStore(db).Save(ctx, result("x", runner.KindLatency, 0)), context.Canceled)
	assert.Equal(t, "", db.Path())
	assert.Zero(t, db.CollectGarbage())
}

// -----------------------------------------------------------------------------
// ReportStore Tests
// -----------------------------------------------------------------------------

func TestReportStore_SaveGet(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	want := result("run-1", runner.KindMixed, time.Minute)

	require.NoError(t, store.Save(ctx, want))
	got, err := store.Get(ctx, "run-1")
	require.NoError(t, err)

	assert.Equal(t, want.RunID, got.RunID)
	assert.Equal(t, runner.KindMixed, got.Kind)
	assert.Equal(t, runner.StateCompleted, got.State)
	assert.True(t, want.StartedAt.Equal(got.StartedAt))
	assert.Equal(t, want.Report.Latency.P99, got.Report.Latency.P99)
	assert.Equal(t, want.Latencies, got.Latencies)

	_, err = store.Get(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, store.Save(ctx, &runner.Result{}), ErrMissingRunID)
}

func TestReportStore_ResaveMovesKey(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	res := result("r", runner.KindLatency, 0)
	require.NoError(t, store.Save(ctx, res))
	res.StartedAt = res.StartedAt.Add(time.Hour)
	require.NoError(t, store.Save(ctx, res))

	list, err := store.List(ctx, ListOptions{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, res.StartedAt.Equal(list[0].StartedAt))
}

func TestReportStore_ListNewestFirst(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, result("l1", runner.KindLatency, 1*time.Minute)))
	require.NoError(t, store.Save(ctx, result("t1", runner.KindThroughput, 2*time.Minute)))
	require.NoError(t, store.Save(ctx, result("l2", runner.KindLatency, 3*time.Minute)))
	require.NoError(t, store.Save(ctx, result("a1", runner.KindAllocation, 4*time.Minute)))

	all, err := store.List(ctx, ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a1", "l2", "t1", "l1"}, ids(all))

	top, err := store.List(ctx, ListOptions{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"a1", "l2"}, ids(top))

	kind := runner.KindLatency
	lat, err := store.List(ctx, ListOptions{Kind: &kind})
	require.NoError(t, err)
	assert.Equal(t, []string{"l2", "l1"}, ids(lat))

	latest, err := store.Latest(ctx, runner.KindLatency)
	require.NoError(t, err)
	assert.Equal(t, "l2", latest.RunID)

	_, err = store.Latest(ctx, runner.KindMixed)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReportStore_Baseline(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	_, err := store.Baseline(ctx, runner.KindLatency)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Save(ctx, result("b1", runner.KindLatency, 0)))
	require.NoError(t, store.Save(ctx, result("b2", runner.KindLatency, time.Minute)))

	_, err = store.SetBaseline(ctx, "b1")
	require.NoError(t, err)
	base, err := store.Baseline(ctx, runner.KindLatency)
	require.NoError(t, err)
	assert.Equal(t, "b1", base.RunID)

	_, err = store.SetBaseline(ctx, "b2")
	require.NoError(t, err)
	base, err = store.Baseline(ctx, runner.KindLatency)
	require.NoError(t, err)
	assert.Equal(t, "b2", base.RunID)

	_, err = store.Baseline(ctx, runner.KindThroughput)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.SetBaseline(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReportStore_BaselineRejectsIncomplete(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	partial := result("p", runner.KindLatency, 0)
	partial.Report = partial.Report.MarkIncomplete("cancelled")
	failed := result("f", runner.KindLatency, time.Second)
	failed.Failure = "generator exhausted"
	require.NoError(t, store.Save(ctx, partial))
	require.NoError(t, store.Save(ctx, failed))

	_, err := store.SetBaseline(ctx, "p")
	assert.ErrorIs(t, err, ErrUnusableBaseline)
	_, err = store.SetBaseline(ctx, "f")
	assert.ErrorIs(t, err, ErrUnusableBaseline)
}

func TestReportStore_DeleteClearsBaseline(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, result("d", runner.KindAllocation, 0)))
	_, err := store.SetBaseline(ctx, "d")
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, "d"))
	_, err = store.Get(ctx, "d")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.Baseline(ctx, runner.KindAllocation)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, store.Delete(ctx, "d"), ErrNotFound)
}

func TestReportStore_Scenarios(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	first := &scenario.Summary{Scenario: scenario.Stats{Name: "session-leak"}, Ticks: 10}
	second := &scenario.Summary{Scenario: scenario.Stats{Name: "session-fixed"}, Ticks: 20, Exhausted: false}

	id1, err := store.SaveScenario(ctx, first)
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	id2, err := store.SaveScenario(ctx, second)
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)

	list, err := store.ListScenarios(ctx, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, id2, list[0].ID)
	assert.Equal(t, "session-fixed", list[0].Summary.Scenario.Name)
	assert.EqualValues(t, 10, list[1].Summary.Ticks)

	one, err := store.ListScenarios(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, one, 1)

	_, err = store.SaveScenario(ctx, nil)
	assert.Error(t, err)
}

func ids(results []*runner.Result) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.RunID
	}
	return out
}
