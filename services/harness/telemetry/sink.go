// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry exports harness results as OpenTelemetry traces and
// metrics and as Prometheus metrics.
//
// # Sinks
//
// A Sink receives finished benchmark results and finished scenario
// summaries. OTelSink turns each into a span plus instrument readings on
// the configured providers. PrometheusMetrics keeps gauges and counters on
// a private registry and also observes runner state transitions and
// periodic scenario status while work is in flight.
//
// # Providers
//
// Setup builds tracer and meter providers for one of the exporters named
// in the launch bundle:
//
//	none        no-op providers
//	stdout      pretty-printed spans and periodic metric dumps
//	otlp        spans over OTLP/gRPC
//	prometheus  OTel instruments exposed through a Prometheus registry
//
// Example:
//
//	providers, err := telemetry.Setup(ctx, telemetry.ProviderConfig{
//	    Exporter:    "prometheus",
//	    ServiceName: "gclab",
//	    Registerer:  prom.Registry(),
//	})
//	if err != nil {
//	    return err
//	}
//	defer providers.Shutdown(context.Background())
//
//	sink, err := telemetry.NewOTelSink(providers.OTelConfig())
package telemetry

import (
	"context"
	"errors"

	"github.com/AleutianAI/gclab/services/harness/runner"
	"github.com/AleutianAI/gclab/services/harness/scenario"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrNilContext is returned when a nil context is provided.
	ErrNilContext = errors.New("context must not be nil")

	// ErrNilData is returned when nil data is provided to a recording method.
	ErrNilData = errors.New("data must not be nil")

	// ErrSinkClosed is returned when attempting to use a closed sink.
	ErrSinkClosed = errors.New("sink has been closed")

	// ErrNoSinks is returned when creating a composite sink with no children.
	ErrNoSinks = errors.New("at least one sink is required")

	// ErrUnknownExporter is returned for an unrecognised exporter name.
	ErrUnknownExporter = errors.New("unknown exporter")
)

// -----------------------------------------------------------------------------
// Interface
// -----------------------------------------------------------------------------

// Sink records finished harness work.
//
// Thread Safety: All implementations must be safe for concurrent use.
type Sink interface {
	// RecordRun records a completed benchmark run, complete or not.
	RecordRun(ctx context.Context, res *runner.Result) error

	// RecordScenario records a finished leak scenario.
	RecordScenario(ctx context.Context, sum *scenario.Summary) error

	// Flush forces export of buffered data where the sink buffers.
	Flush(ctx context.Context) error

	// Close releases resources. Idempotent.
	Close() error
}

// -----------------------------------------------------------------------------
// MultiSink
// -----------------------------------------------------------------------------

// MultiSink fans every call out to its children and joins their errors.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink combines sinks. Nil entries are skipped.
func NewMultiSink(sinks ...Sink) (*MultiSink, error) {
	kept := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		return nil, ErrNoSinks
	}
	return &MultiSink{sinks: kept}, nil
}

// RecordRun implements Sink.
func (m *MultiSink) RecordRun(ctx context.Context, res *runner.Result) error {
	var errs []error
	for _, s := range m.sinks {
		errs = append(errs, s.RecordRun(ctx, res))
	}
	return errors.Join(errs...)
}

// RecordScenario implements Sink.
func (m *MultiSink) RecordScenario(ctx context.Context, sum *scenario.Summary) error {
	var errs []error
	for _, s := range m.sinks {
		errs = append(errs, s.RecordScenario(ctx, sum))
	}
	return errors.Join(errs...)
}

// Flush implements Sink.
func (m *MultiSink) Flush(ctx context.Context) error {
	var errs []error
	for _, s := range m.sinks {
		errs = append(errs, s.Flush(ctx))
	}
	return errors.Join(errs...)
}

// Close implements Sink.
func (m *MultiSink) Close() error {
	var errs []error
	for _, s := range m.sinks {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}

var _ Sink = (*MultiSink)(nil)
