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
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/AleutianAI/gclab/services/harness/runner"
	"github.com/AleutianAI/gclab/services/harness/scenario"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrNotFound is returned when a run ID or baseline does not exist.
	ErrNotFound = errors.New("not found")

	// ErrMissingRunID is returned when saving a result without a run ID.
	ErrMissingRunID = errors.New("result has no run ID")

	// ErrUnusableBaseline is returned when promoting an incomplete or failed
	// run to baseline.
	ErrUnusableBaseline = errors.New("incomplete or failed runs cannot be a baseline")
)

// Key layout:
//
//	run/{kind}/{started unix nanos, 20 digits}/{run id} -> Result JSON
//	idx/{run id}                                        -> run key
//	baseline/{kind}                                     -> run id
//	scn/{started unix nanos, 20 digits}/{summary id}    -> StoredSummary JSON
const (
	prefixRun      = "run/"
	prefixIndex    = "idx/"
	prefixBaseline = "baseline/"
	prefixScenario = "scn/"
)

func runKey(res *runner.Result) []byte {
	return fmt.Appendf(nil, "%s%s/%020d/%s", prefixRun, res.Kind, res.StartedAt.UnixNano(), res.RunID)
}

// -----------------------------------------------------------------------------
// ReportStore
// -----------------------------------------------------------------------------

// ListOptions filters List.
type ListOptions struct {
	// Kind restricts results to one workload kind. Nil lists every kind.
	Kind *runner.Kind

	// Limit caps the number of results. Zero means no limit.
	Limit int
}

// StoredSummary is a scenario summary with the identity it was saved under.
type StoredSummary struct {
	ID      string           `json:"id"`
	SavedAt time.Time        `json:"saved_at"`
	Summary scenario.Summary `json:"summary"`
}

// ReportStore persists run results and scenario summaries.
//
// Description:
//
//	Results are kept newest-last within each kind so List can return the
//	most recent runs first by iterating in reverse. Each kind has at most
//	one baseline; SetBaseline replaces it.
//
// Thread Safety: Safe for concurrent use.
type ReportStore struct {
	db *DB
}

// NewReportStore wraps db.
func NewReportStore(db *DB) *ReportStore {
	return &ReportStore{db: db}
}

// Save stores res. Saving an existing run ID overwrites it.
func (s *ReportStore) Save(ctx context.Context, res *runner.Result) error {
	if res == nil || res.RunID == "" {
		return ErrMissingRunID
	}
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode result %s: %w", res.RunID, err)
	}
	key := runKey(res)
	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		idx := []byte(prefixIndex + res.RunID)
		if old, err := lookupIndex(txn, idx); err == nil && string(old) != string(key) {
			if err := txn.Delete(old); err != nil {
				return err
			}
		}
		if err := txn.Set(key, data); err != nil {
			return err
		}
		return txn.Set(idx, key)
	})
}

// Get loads one result by run ID.
func (s *ReportStore) Get(ctx context.Context, runID string) (*runner.Result, error) {
	var res *runner.Result
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		var err error
		res, err = getByID(txn, runID)
		return err
	})
	return res, err
}

// List returns results newest first.
func (s *ReportStore) List(ctx context.Context, opts ListOptions) ([]*runner.Result, error) {
	prefix := []byte(prefixRun)
	limit := 0
	if opts.Kind != nil {
		prefix = []byte(prefixRun + opts.Kind.String() + "/")
		limit = opts.Limit
	}

	var out []*runner.Result
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		return scanNewestFirst(txn, prefix, func(val []byte) (bool, error) {
			var res runner.Result
			if err := json.Unmarshal(val, &res); err != nil {
				return false, fmt.Errorf("decode result: %w", err)
			}
			out = append(out, &res)
			return limit == 0 || len(out) < limit, nil
		})
	})
	if err != nil {
		return nil, err
	}
	if opts.Kind == nil {
		// Keys sort by kind first; merge across kinds by start time.
		slices.SortFunc(out, func(a, b *runner.Result) int {
			if c := b.StartedAt.Compare(a.StartedAt); c != 0 {
				return c
			}
			return strings.Compare(b.RunID, a.RunID)
		})
		if opts.Limit > 0 && len(out) > opts.Limit {
			out = out[:opts.Limit]
		}
	}
	return out, nil
}

// Latest returns the most recent result of kind.
func (s *ReportStore) Latest(ctx context.Context, kind runner.Kind) (*runner.Result, error) {
	list, err := s.List(ctx, ListOptions{Kind: &kind, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("%s results: %w", kind, ErrNotFound)
	}
	return list[0], nil
}

// Delete removes a result and clears the baseline that points at it.
func (s *ReportStore) Delete(ctx context.Context, runID string) error {
	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		res, err := getByID(txn, runID)
		if err != nil {
			return err
		}
		if err := txn.Delete(runKey(res)); err != nil {
			return err
		}
		if err := txn.Delete([]byte(prefixIndex + runID)); err != nil {
			return err
		}
		bkey := []byte(prefixBaseline + res.Kind.String())
		if cur, err := txn.Get(bkey); err == nil {
			id, err := cur.ValueCopy(nil)
			if err != nil {
				return err
			}
			if string(id) == runID {
				return txn.Delete(bkey)
			}
		}
		return nil
	})
}

// SetBaseline makes runID the baseline for its kind.
func (s *ReportStore) SetBaseline(ctx context.Context, runID string) (*runner.Result, error) {
	var res *runner.Result
	err := s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		var err error
		res, err = getByID(txn, runID)
		if err != nil {
			return err
		}
		if res.Incomplete() || res.Failure != "" {
			return fmt.Errorf("run %s: %w", runID, ErrUnusableBaseline)
		}
		return txn.Set([]byte(prefixBaseline+res.Kind.String()), []byte(runID))
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Baseline returns the baseline result for kind.
func (s *ReportStore) Baseline(ctx context.Context, kind runner.Kind) (*runner.Result, error) {
	var res *runner.Result
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(prefixBaseline + kind.String()))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%s baseline: %w", kind, ErrNotFound)
		}
		if err != nil {
			return err
		}
		id, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		res, err = getByID(txn, string(id))
		return err
	})
	return res, err
}

// SaveScenario stores a scenario summary and returns its generated ID.
func (s *ReportStore) SaveScenario(ctx context.Context, sum *scenario.Summary) (string, error) {
	if sum == nil {
		return "", errors.New("summary must not be nil")
	}
	stored := StoredSummary{ID: uuid.NewString(), SavedAt: time.Now().UTC(), Summary: *sum}
	data, err := json.Marshal(stored)
	if err != nil {
		return "", fmt.Errorf("encode summary: %w", err)
	}
	key := fmt.Appendf(nil, "%s%020d/%s", prefixScenario, stored.SavedAt.UnixNano(), stored.ID)
	if err := s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return txn.Set(key, data)
	}); err != nil {
		return "", err
	}
	return stored.ID, nil
}

// ListScenarios returns stored scenario summaries newest first.
func (s *ReportStore) ListScenarios(ctx context.Context, limit int) ([]StoredSummary, error) {
	var out []StoredSummary
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		return scanNewestFirst(txn, []byte(prefixScenario), func(val []byte) (bool, error) {
			var st StoredSummary
			if err := json.Unmarshal(val, &st); err != nil {
				return false, fmt.Errorf("decode summary: %w", err)
			}
			out = append(out, st)
			return limit == 0 || len(out) < limit, nil
		})
	})
	return out, err
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func lookupIndex(txn *badger.Txn, idx []byte) ([]byte, error) {
	item, err := txn.Get(idx)
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

func getByID(txn *badger.Txn, runID string) (*runner.Result, error) {
	key, err := lookupIndex(txn, []byte(prefixIndex+runID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	item, err := txn.Get(key)
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", runID, err)
	}
	var res runner.Result
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &res)
	}); err != nil {
		return nil, fmt.Errorf("decode run %s: %w", runID, err)
	}
	return &res, nil
}

// scanNewestFirst visits values under prefix in descending key order until
// fn returns false.
func scanNewestFirst(txn *badger.Txn, prefix []byte, fn func(val []byte) (bool, error)) error {
	opts := badger.DefaultIteratorOptions
	opts.Reverse = true
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	seek := append(append([]byte{}, prefix...), 0xff)
	for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
		var more bool
		err := it.Item().Value(func(val []byte) error {
			var err error
			more, err = fn(val)
			return err
		})
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
	return nil
}
