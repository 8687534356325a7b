// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/gclab/services/harness/report"
	"github.com/AleutianAI/gclab/services/harness/runner"
	"github.com/AleutianAI/gclab/services/harness/storage"
)

// =============================================================================
// reports
// =============================================================================

func newReportsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "reports",
		Aliases: []string{"r"},
		Short:   "Inspect stored benchmark results and scenario summaries",
	}

	var kind string
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List stored results, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts := storage.ListOptions{Limit: limit}
			if kind != "" {
				k, err := runner.ParseKind(kind)
				if err != nil {
					return err
				}
				opts.Kind = &k
			}
			return a.withStore(cmd.Context(), func(ctx context.Context, e *env) error {
				results, err := e.store.List(ctx, opts)
				if err != nil {
					return err
				}
				if e.json != nil {
					return writeJSONRuns(e.json, results)
				}
				_, err = io.WriteString(a.stdout, e.console.RenderList(results))
				return err
			})
		},
	}
	list.Flags().StringVarP(&kind, "kind", "k", "", "Only list this kind")
	list.Flags().IntVarP(&limit, "limit", "l", 20, "Maximum number of results (0 for all)")

	show := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one stored result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(cmd.Context(), func(ctx context.Context, e *env) error {
				res, err := e.store.Get(ctx, args[0])
				if err != nil {
					return fmt.Errorf("run %s: %w", args[0], err)
				}
				if e.json != nil {
					return e.json.RecordRun(ctx, res)
				}
				return e.console.Run(res)
			})
		},
	}

	baseline := &cobra.Command{
		Use:   "baseline <run-id>",
		Short: "Mark a stored result as the baseline for its kind",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(cmd.Context(), func(ctx context.Context, e *env) error {
				res, err := e.store.SetBaseline(ctx, args[0])
				if err != nil {
					return fmt.Errorf("set baseline: %w", err)
				}
				fmt.Fprintf(a.stdout, "baseline for %s is now %s\n", res.Kind, res.RunID)
				return nil
			})
		},
	}

	del := &cobra.Command{
		Use:   "delete <run-id>",
		Short: "Delete a stored result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(cmd.Context(), func(ctx context.Context, e *env) error {
				if err := e.store.Delete(ctx, args[0]); err != nil {
					return fmt.Errorf("delete %s: %w", args[0], err)
				}
				fmt.Fprintf(a.stdout, "deleted %s\n", args[0])
				return nil
			})
		},
	}

	var scenarioLimit int
	scenarios := &cobra.Command{
		Use:   "scenarios",
		Short: "List stored scenario summaries, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withStore(cmd.Context(), func(ctx context.Context, e *env) error {
				list, err := e.store.ListScenarios(ctx, scenarioLimit)
				if err != nil {
					return err
				}
				if e.json != nil {
					for i := range list {
						if err := e.json.RecordScenario(ctx, &list[i].Summary); err != nil {
							return err
						}
					}
					return nil
				}
				_, err = io.WriteString(a.stdout, e.console.RenderScenarios(list))
				return err
			})
		},
	}
	scenarios.Flags().IntVarP(&scenarioLimit, "limit", "l", 20, "Maximum number of summaries (0 for all)")

	cmd.AddCommand(list, show, baseline, del, scenarios)
	return cmd
}

// withStore opens the report store for the duration of fn.
func (a *app) withStore(ctx context.Context, fn func(context.Context, *env) error) error {
	e, err := a.openEnv(ctx, envOptions{})
	if err != nil {
		return err
	}
	err = fn(ctx, e)
	if cerr := e.Close(); cerr != nil {
		a.logger.Warn("closing report store", "error", cerr)
	}
	return err
}

func writeJSONRuns(j *report.JSON, results []*runner.Result) error {
	for _, r := range results {
		if err := j.Write(report.Record{Type: report.RecordRun, Run: r}); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// compare
// =============================================================================

func newCompareCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "compare <run-id> | compare <baseline-id> <run-id>",
		Short: "Compare a stored result with the baseline or another result",
		Long: `Compares two stored results of the same kind. With one argument the
stored baseline for that run's kind is used. Exits with status 4 when a
regression is found.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(cmd.Context(), func(ctx context.Context, e *env) error {
				currentID := args[len(args)-1]
				current, err := e.store.Get(ctx, currentID)
				if err != nil {
					return fmt.Errorf("run %s: %w", currentID, err)
				}
				var baseline *runner.Result
				if len(args) == 2 {
					baseline, err = e.store.Get(ctx, args[0])
					if err != nil {
						return fmt.Errorf("run %s: %w", args[0], err)
					}
				} else {
					baseline, err = e.store.Baseline(ctx, current.Kind)
					if err != nil {
						return fmt.Errorf("baseline for %s: %w", current.Kind, err)
					}
				}
				return a.compare(ctx, e, baseline, current)
			})
		},
	}
}
