// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package report renders benchmark results, scenario summaries and
// regression comparisons for people and machines.
//
// Console writes styled text and drops color when its writer is not a
// terminal. JSON writes one JSON object per line. FileSink appends JSON
// lines to a file under an advisory lock. InfluxSink writes points to an
// InfluxDB v2 bucket. Periodic prints live heap status on an interval.
// Every sink satisfies telemetry.Sink.
package report

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"github.com/AleutianAI/gclab/services/harness/diagnostics"
	"github.com/AleutianAI/gclab/services/harness/regression"
	"github.com/AleutianAI/gclab/services/harness/runner"
	"github.com/AleutianAI/gclab/services/harness/scenario"
	"github.com/AleutianAI/gclab/services/harness/storage"
	"github.com/AleutianAI/gclab/services/harness/telemetry"
)

// =============================================================================
// Styles
// =============================================================================

var (
	colorTeal    = lipgloss.Color("#2CD7C7")
	colorDeep    = lipgloss.Color("#16858E")
	colorSlate   = lipgloss.Color("#5C7A84")
	colorWarning = lipgloss.Color("#F4D03F")
	colorError   = lipgloss.Color("#E74C3C")
)

type styles struct {
	title   lipgloss.Style
	label   lipgloss.Style
	muted   lipgloss.Style
	ok      lipgloss.Style
	warning lipgloss.Style
	err     lipgloss.Style
	box     lipgloss.Style
}

func newStyles(w io.Writer, color bool) styles {
	if !color {
		plain := lipgloss.NewStyle()
		return styles{
			title: plain, label: plain, muted: plain,
			ok: plain, warning: plain, err: plain,
			box: plain.Border(lipgloss.NormalBorder()).Padding(0, 1),
		}
	}
	r := lipgloss.NewRenderer(w)
	return styles{
		title:   r.NewStyle().Bold(true).Foreground(colorTeal),
		label:   r.NewStyle().Foreground(colorDeep),
		muted:   r.NewStyle().Foreground(colorSlate),
		ok:      r.NewStyle().Foreground(colorTeal),
		warning: r.NewStyle().Foreground(colorWarning),
		err:     r.NewStyle().Bold(true).Foreground(colorError),
		box:     r.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(colorDeep).Padding(0, 1),
	}
}

// IsTerminal reports whether w is a terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// =============================================================================
// Console
// =============================================================================

// ConsoleOption configures a Console.
type ConsoleOption func(*Console)

// WithColor forces color on or off regardless of the writer.
func WithColor(on bool) ConsoleOption {
	return func(c *Console) { c.color = on }
}

// Console renders human-readable output.
//
// Thread Safety: Safe for concurrent use; each render is written whole.
type Console struct {
	mu    sync.Mutex
	w     io.Writer
	color bool
	st    styles
}

var _ telemetry.Sink = (*Console)(nil)

// NewConsole returns a Console writing to w. Color is enabled when w is a
// terminal and NO_COLOR is unset.
func NewConsole(w io.Writer, opts ...ConsoleOption) *Console {
	c := &Console{w: w, color: IsTerminal(w) && os.Getenv("NO_COLOR") == ""}
	for _, opt := range opts {
		opt(c)
	}
	c.st = newStyles(w, c.color)
	return c
}

func (c *Console) write(s string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := io.WriteString(c.w, s)
	return err
}

// table lays out label/value rows with aligned labels.
type table struct {
	st   styles
	rows [][2]string
}

func (t *table) add(label, format string, args ...any) {
	t.rows = append(t.rows, [2]string{label, fmt.Sprintf(format, args...)})
}

func (t *table) String() string {
	width := 0
	for _, r := range t.rows {
		width = max(width, len(r[0]))
	}
	var b strings.Builder
	for _, r := range t.rows {
		b.WriteString("  ")
		b.WriteString(t.st.label.Render(fmt.Sprintf("%-*s", width, r[0])))
		b.WriteString("  ")
		b.WriteString(r[1])
		b.WriteByte('\n')
	}
	return b.String()
}

// RenderRun formats a benchmark result.
func (c *Console) RenderRun(r *runner.Result) string {
	var b strings.Builder
	rep := r.Report

	status := c.st.ok.Render("complete")
	switch {
	case r.Failure != "":
		status = c.st.err.Render("failed: " + r.Failure)
	case rep.Incomplete:
		status = c.st.warning.Render("incomplete: " + rep.Reason)
	}
	fmt.Fprintf(&b, "%s %s  %s\n",
		c.st.title.Render(r.Kind.String()+" run"),
		c.st.muted.Render(r.RunID),
		status,
	)

	t := &table{st: c.st}
	t.add("started", "%s (%s)", r.StartedAt.Format(time.RFC3339), r.Duration.Round(time.Millisecond))
	t.add("item size", "%s seed=%d leak=%t", r.ItemSize, r.Seed, r.LeakMode)
	if r.GoVersion != "" {
		t.add("go", "%s", r.GoVersion)
	}
	t.add("samples", "%s measured, %s warm-up discarded", humanize.Comma(int64(rep.Count)), humanize.Comma(rep.WarmupDiscarded))
	if rep.Failures > 0 {
		t.add("failures", "%s (%.2f%%)", humanize.Comma(int64(rep.Failures)), rep.FailureRate()*100)
	}
	if rep.Count > 0 {
		l := rep.Latency
		t.add("latency", "p50=%s p90=%s p95=%s p99=%s p99.9=%s", l.P50, l.P90, l.P95, l.P99, l.P999)
		t.add("", "min=%s mean=%s max=%s stddev=%s", l.Min, l.Mean, l.Max, l.StdDev)
		t.add("throughput", "%s items/s, %s/s", humanize.CommafWithDigits(rep.Throughput.ItemsPerSecond, 1), humanize.IBytes(uint64(rep.Throughput.BytesPerSecond)))
	}
	if rep.SlowCount > 0 || rep.PauseSuspects > 0 {
		t.add("outliers", "%d slow, %d pause suspects", rep.SlowCount, rep.PauseSuspects)
	}
	m := r.Memory
	t.add("heap", "%s -> %s (%s)", humanize.IBytes(m.HeapAllocBefore), humanize.IBytes(m.HeapAllocAfter), signedBytes(m.HeapAllocDelta))
	t.add("allocated", "%s in %s objects", humanize.IBytes(m.AllocBytes), humanize.Comma(int64(m.AllocObjects)))
	t.add("gc", "%d cycles, %s paused", m.GCCycles, m.GCPauseTotal)
	ret := r.Retention
	capacity := "unbounded"
	if ret.Capacity > 0 {
		capacity = humanize.Comma(int64(ret.Capacity))
	}
	t.add("retention", "%s (%s) strong=%d/%s weak=%d evictions=%d", ret.Name, ret.Mode, ret.Strong, capacity, ret.Weak, ret.Evictions)
	b.WriteString(t.String())
	return b.String()
}

// RenderScenario formats a finished scenario.
func (c *Console) RenderScenario(s *scenario.Summary) string {
	var b strings.Builder
	status := c.st.ok.Render("stopped")
	if s.Exhausted {
		status = c.st.err.Render("memory budget exceeded")
	}
	fmt.Fprintf(&b, "%s %s  %s\n", c.st.title.Render("scenario"), c.st.muted.Render(s.Scenario.Name), status)

	t := &table{st: c.st}
	t.add("mode", "%s", s.Scenario.Mode)
	t.add("ticks", "%s in %s", humanize.Comma(s.Ticks), s.Elapsed.Round(time.Millisecond))
	t.add("retained", "%s (%s removed)", humanize.Comma(int64(s.Scenario.Retained)), humanize.Comma(int64(s.Scenario.Removed)))
	t.add("heap", "%s live, %s objects, %d gc", humanize.IBytes(s.Final.HeapAlloc), humanize.Comma(int64(s.Final.HeapObjects)), s.Final.NumGC)
	b.WriteString(t.String())
	return b.String()
}

// RenderStatus formats one live scenario status line.
func (c *Console) RenderStatus(st scenario.Status) string {
	return fmt.Sprintf("%s %s ticks=%s retained=%s heap=%s gc=%d\n",
		c.st.muted.Render(st.Elapsed.Round(time.Second).String()),
		st.Scenario.Name,
		humanize.Comma(int64(st.Scenario.Ticks)),
		humanize.Comma(int64(st.Scenario.Retained)),
		humanize.IBytes(st.Runtime.HeapAlloc),
		st.Runtime.NumGC,
	)
}

// RenderLive formats one live benchmark line.
func (c *Console) RenderLive(ls LiveStatus) string {
	rep := ls.Report
	return fmt.Sprintf("%s %s %s n=%s p50=%s p99=%s %s items/s\n",
		c.st.muted.Render(ls.RunID),
		ls.Kind,
		ls.State,
		humanize.Comma(int64(rep.Count)),
		rep.Latency.P50,
		rep.Latency.P99,
		humanize.CommafWithDigits(rep.Throughput.ItemsPerSecond, 1),
	)
}

// RenderSample formats one runtime reading with the fitted heap slope.
func (c *Console) RenderSample(s diagnostics.RuntimeSample, slope float64) string {
	trend := c.st.ok.Render("steady")
	if slope > 0 {
		trend = c.st.warning.Render("+" + humanize.IBytes(uint64(slope)) + "/s")
	}
	line := fmt.Sprintf("%s heap=%s objects=%s gc=%d goroutines=%d trend=%s",
		c.st.muted.Render(s.At.Format("15:04:05")),
		humanize.IBytes(s.HeapAlloc),
		humanize.Comma(int64(s.HeapObjects)),
		s.NumGC,
		s.Goroutines,
		trend,
	)
	if s.RSS > 0 {
		line += fmt.Sprintf(" rss=%s cpu=%.1f%%", humanize.IBytes(s.RSS), s.CPUPercent)
	}
	return line + "\n"
}

// RenderComparison formats a regression comparison.
func (c *Console) RenderComparison(cmp *regression.Comparison) string {
	var b strings.Builder
	verdict := c.st.ok.Render("PASS")
	if !cmp.Pass {
		verdict = c.st.err.Render("FAIL")
	}
	header := fmt.Sprintf("%s %s  baseline %s -> current %s",
		verdict, c.st.title.Render(cmp.Kind.String()), cmp.BaselineID, cmp.CurrentID)

	var body strings.Builder
	for _, f := range cmp.Regressions {
		fmt.Fprintf(&body, "%s %s\n", c.st.err.Render("✗"), f.Message)
	}
	for _, f := range cmp.Warnings {
		fmt.Fprintf(&body, "%s %s\n", c.st.warning.Render("⚠"), f.Message)
	}
	if sig := cmp.Significance; sig != nil {
		fmt.Fprintf(&body, "%s t=%.3f p=%.4f d=%.3f significant=%t\n",
			c.st.muted.Render("•"), sig.T, sig.P, sig.CohensD, sig.Significant)
	}
	if body.Len() == 0 {
		body.WriteString(c.st.ok.Render("✓") + " no changes beyond thresholds\n")
	}
	b.WriteString(c.st.box.Render(header + "\n" + strings.TrimRight(body.String(), "\n")))
	b.WriteByte('\n')
	return b.String()
}

// RenderList formats stored results one per line, newest first.
func (c *Console) RenderList(results []*runner.Result) string {
	if len(results) == 0 {
		return c.st.muted.Render("no stored runs") + "\n"
	}
	var b strings.Builder
	for _, r := range results {
		flag := ""
		switch {
		case r.Failure != "":
			flag = c.st.err.Render(" failed")
		case r.Incomplete():
			flag = c.st.warning.Render(" incomplete")
		}
		fmt.Fprintf(&b, "%s  %-10s %s  n=%s p50=%s p99=%s%s\n",
			r.RunID,
			r.Kind,
			r.StartedAt.Format("2006-01-02 15:04:05"),
			humanize.Comma(int64(r.Report.Count)),
			r.Report.Latency.P50,
			r.Report.Latency.P99,
			flag,
		)
	}
	return b.String()
}

// RenderScenarios formats stored scenario summaries.
func (c *Console) RenderScenarios(list []storage.StoredSummary) string {
	if len(list) == 0 {
		return c.st.muted.Render("no stored scenarios") + "\n"
	}
	var b strings.Builder
	for _, s := range list {
		exhausted := ""
		if s.Summary.Exhausted {
			exhausted = c.st.err.Render(" exhausted")
		}
		fmt.Fprintf(&b, "%s  %-24s %s  ticks=%s heap=%s%s\n",
			s.ID,
			s.Summary.Scenario.Name,
			s.SavedAt.Format("2006-01-02 15:04:05"),
			humanize.Comma(s.Summary.Ticks),
			humanize.IBytes(s.Summary.Final.HeapAlloc),
			exhausted,
		)
	}
	return b.String()
}

// Run writes RenderRun(r).
func (c *Console) Run(r *runner.Result) error { return c.write(c.RenderRun(r)) }

// Comparison writes RenderComparison(cmp).
func (c *Console) Comparison(cmp *regression.Comparison) error {
	return c.write(c.RenderComparison(cmp))
}

// Status writes RenderStatus(st). It matches the scenario driver's status
// callback.
func (c *Console) Status(st scenario.Status) {
	_ = c.write(c.RenderStatus(st))
}

// Live writes RenderLive(ls).
func (c *Console) Live(ls LiveStatus) {
	_ = c.write(c.RenderLive(ls))
}

// Sample writes RenderSample(s, slope).
func (c *Console) Sample(s diagnostics.RuntimeSample, slope float64) error {
	return c.write(c.RenderSample(s, slope))
}

// RecordRun implements telemetry.Sink.
func (c *Console) RecordRun(_ context.Context, r *runner.Result) error {
	if r == nil {
		return telemetry.ErrNilData
	}
	return c.Run(r)
}

// RecordScenario implements telemetry.Sink.
func (c *Console) RecordScenario(_ context.Context, s *scenario.Summary) error {
	if s == nil {
		return telemetry.ErrNilData
	}
	return c.write(c.RenderScenario(s))
}

// Flush implements telemetry.Sink.
func (c *Console) Flush(context.Context) error { return nil }

// Close implements telemetry.Sink. The writer is not closed.
func (c *Console) Close() error { return nil }

func signedBytes(n int64) string {
	if n < 0 {
		return "-" + humanize.IBytes(uint64(-n))
	}
	return "+" + humanize.IBytes(uint64(n))
}
