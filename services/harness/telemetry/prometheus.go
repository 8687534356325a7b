// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/gclab/services/harness/runner"
	"github.com/AleutianAI/gclab/services/harness/scenario"
)

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// PrometheusConfig configures PrometheusMetrics.
type PrometheusConfig struct {
	// Namespace prefixes every metric name. Required.
	Namespace string

	// Registry receives the collectors. Nil creates a private registry.
	Registry *prometheus.Registry

	// RuntimeCollectors adds the Go runtime and process collectors.
	RuntimeCollectors bool
}

// DefaultPrometheusConfig returns namespace "gclab" on a private registry
// with the runtime collectors enabled.
func DefaultPrometheusConfig() PrometheusConfig {
	return PrometheusConfig{Namespace: "gclab", RuntimeCollectors: true}
}

// -----------------------------------------------------------------------------
// PrometheusMetrics
// -----------------------------------------------------------------------------

// PrometheusMetrics exposes harness state as Prometheus metrics.
//
// Description:
//
//	Besides implementing Sink for finished work, PrometheusMetrics is a
//	runner.Observer (tracking the live state of each workload kind) and a
//	status handler for scenario.Driver (tracking retained objects and heap
//	while a scenario runs). Handler serves the registry for /metrics.
//
// Thread Safety: Safe for concurrent use.
//
// Example:
//
//	prom, err := telemetry.NewPrometheusMetrics(telemetry.DefaultPrometheusConfig())
//	r, _ := runner.New(cfg, runner.WithObserver(prom))
//	driver, _ := scenario.NewDriver(dcfg, scenario.WithStatusHandler(prom.ObserveStatus))
type PrometheusMetrics struct {
	registry *prometheus.Registry

	runState       *prometheus.GaugeVec
	transitions    *prometheus.CounterVec
	runsTotal      *prometheus.CounterVec
	latency        *prometheus.GaugeVec
	throughput     *prometheus.GaugeVec
	allocBytes     *prometheus.CounterVec
	pauseSuspects  *prometheus.CounterVec
	retained       *prometheus.GaugeVec
	scenarioTicks  *prometheus.GaugeVec
	heapAlloc      prometheus.Gauge
	processRSS     prometheus.Gauge
	exhaustedTotal *prometheus.CounterVec

	mu     sync.RWMutex
	closed bool
}

// NewPrometheusMetrics registers every collector on cfg.Registry.
func NewPrometheusMetrics(cfg PrometheusConfig) (*PrometheusMetrics, error) {
	if cfg.Namespace == "" {
		return nil, errors.New("namespace is required")
	}
	reg := cfg.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	ns := cfg.Namespace

	m := &PrometheusMetrics{
		registry: reg,
		runState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: "run", Name: "state",
			Help: "Current runner state per kind: 0 idle, 1 warming up, 2 measuring, 3 completed.",
		}, []string{"kind"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "run", Name: "transitions_total",
			Help: "Runner state transitions.",
		}, []string{"kind", "to"}),
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "run", Name: "completed_total",
			Help: "Finished runs by outcome: complete, incomplete or failed.",
		}, []string{"kind", "outcome"}),
		latency: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: "run", Name: "latency_seconds",
			Help: "Sample latency percentiles of the last finished run.",
		}, []string{"kind", "quantile"}),
		throughput: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: "run", Name: "throughput_items_per_second",
			Help: "Items per second of the last finished run.",
		}, []string{"kind"}),
		allocBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "run", Name: "alloc_bytes_total",
			Help: "Bytes allocated by finished runs.",
		}, []string{"kind"}),
		pauseSuspects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "run", Name: "pause_suspects_total",
			Help: "Samples above the suspected collector pause threshold.",
		}, []string{"kind"}),
		retained: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: "scenario", Name: "retained_objects",
			Help: "Objects currently retained by a scenario.",
		}, []string{"scenario"}),
		scenarioTicks: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: "scenario", Name: "ticks",
			Help: "Ticks completed by a scenario.",
		}, []string{"scenario"}),
		heapAlloc: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Name: "heap_alloc_bytes",
			Help: "Live heap at the last status report.",
		}),
		processRSS: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Name: "process_rss_bytes",
			Help: "Resident set size at the last status report.",
		}),
		exhaustedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "scenario", Name: "exhausted_total",
			Help: "Scenarios stopped by the memory budget.",
		}, []string{"scenario"}),
	}

	cs := []prometheus.Collector{
		m.runState, m.transitions, m.runsTotal, m.latency, m.throughput,
		m.allocBytes, m.pauseSuspects, m.retained, m.scenarioTicks,
		m.heapAlloc, m.processRSS, m.exhaustedTotal,
	}
	if cfg.RuntimeCollectors {
		cs = append(cs,
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	for _, c := range cs {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Registry returns the registry the metrics live on.
func (m *PrometheusMetrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// OnStateChange implements runner.Observer.
func (m *PrometheusMetrics) OnStateChange(_ string, kind runner.Kind, _, to runner.State) {
	k := kind.String()
	m.runState.WithLabelValues(k).Set(float64(to))
	m.transitions.WithLabelValues(k, to.String()).Inc()
}

// ObserveStatus records a periodic scenario status. Pass it to
// scenario.WithStatusHandler.
func (m *PrometheusMetrics) ObserveStatus(st scenario.Status) {
	m.retained.WithLabelValues(st.Scenario.Name).Set(float64(st.Scenario.Retained))
	m.scenarioTicks.WithLabelValues(st.Scenario.Name).Set(float64(st.Scenario.Ticks))
	m.heapAlloc.Set(float64(st.Runtime.HeapAlloc))
	if st.Runtime.RSS > 0 {
		m.processRSS.Set(float64(st.Runtime.RSS))
	}
}

// RecordRun implements Sink.
func (m *PrometheusMetrics) RecordRun(ctx context.Context, res *runner.Result) error {
	if ctx == nil {
		return ErrNilContext
	}
	if res == nil {
		return ErrNilData
	}
	if err := m.checkOpen(); err != nil {
		return err
	}

	k := res.Kind.String()
	outcome := "complete"
	switch {
	case res.Failure != "":
		outcome = "failed"
	case res.Incomplete():
		outcome = "incomplete"
	}
	m.runsTotal.WithLabelValues(k, outcome).Inc()
	m.allocBytes.WithLabelValues(k).Add(float64(res.Memory.AllocBytes))
	m.pauseSuspects.WithLabelValues(k).Add(float64(res.Report.PauseSuspects))

	if res.Report.Count > 0 {
		lat := res.Report.Latency
		m.latency.WithLabelValues(k, "0.5").Set(lat.P50.Seconds())
		m.latency.WithLabelValues(k, "0.9").Set(lat.P90.Seconds())
		m.latency.WithLabelValues(k, "0.95").Set(lat.P95.Seconds())
		m.latency.WithLabelValues(k, "0.99").Set(lat.P99.Seconds())
		m.latency.WithLabelValues(k, "0.999").Set(lat.P999.Seconds())
		m.throughput.WithLabelValues(k).Set(res.Report.Throughput.ItemsPerSecond)
	}
	return nil
}

// RecordScenario implements Sink.
func (m *PrometheusMetrics) RecordScenario(ctx context.Context, sum *scenario.Summary) error {
	if ctx == nil {
		return ErrNilContext
	}
	if sum == nil {
		return ErrNilData
	}
	if err := m.checkOpen(); err != nil {
		return err
	}

	name := sum.Scenario.Name
	m.retained.WithLabelValues(name).Set(float64(sum.Scenario.Retained))
	m.scenarioTicks.WithLabelValues(name).Set(float64(sum.Ticks))
	m.heapAlloc.Set(float64(sum.Final.HeapAlloc))
	if sum.Exhausted {
		m.exhaustedTotal.WithLabelValues(name).Inc()
	}
	return nil
}

// Flush is a no-op: Prometheus pulls.
func (m *PrometheusMetrics) Flush(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return m.checkOpen()
}

// Close marks the sink closed. Registered collectors keep serving their
// last values.
func (m *PrometheusMetrics) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *PrometheusMetrics) checkOpen() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrSinkClosed
	}
	return nil
}

var (
	_ Sink            = (*PrometheusMetrics)(nil)
	_ runner.Observer = (*PrometheusMetrics)(nil)
)
