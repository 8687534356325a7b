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
	"fmt"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Exporter names accepted by Setup.
const (
	ExporterNone       = "none"
	ExporterStdout     = "stdout"
	ExporterOTLP       = "otlp"
	ExporterPrometheus = "prometheus"
)

// ProviderConfig selects and configures an exporter.
type ProviderConfig struct {
	// Exporter is one of none, stdout, otlp or prometheus.
	Exporter string

	// ServiceName and ServiceVersion identify the process in the resource.
	ServiceName    string
	ServiceVersion string

	// OTLPEndpoint is the collector address for the otlp exporter.
	OTLPEndpoint string

	// OTLPInsecure disables TLS for the otlp exporter.
	OTLPInsecure bool

	// Registerer receives the OTel Prometheus exporter's collector. Nil
	// uses prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer

	// Output receives stdout exporter output. Nil means os.Stdout.
	Output io.Writer

	// SetGlobal installs the providers with otel.SetTracerProvider and
	// otel.SetMeterProvider.
	SetGlobal bool
}

// Providers holds the tracer and meter providers built by Setup.
type Providers struct {
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider

	serviceName    string
	serviceVersion string
	shutdown       []func(context.Context) error
}

// Setup builds providers for cfg.Exporter.
//
// Description:
//
//	Traces go to stdout or OTLP; metrics go to stdout or the Prometheus
//	registry. Any signal without an exporter gets a no-op provider so
//	callers never need nil checks.
//
// Outputs:
//   - *Providers: Call Shutdown on exit.
//   - error: ErrUnknownExporter or an exporter construction error.
func Setup(ctx context.Context, cfg ProviderConfig) (*Providers, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "gclab"
	}
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}

	p := &Providers{
		TracerProvider: tracenoop.NewTracerProvider(),
		MeterProvider:  metricnoop.NewMeterProvider(),
		serviceName:    cfg.ServiceName,
		serviceVersion: cfg.ServiceVersion,
	}
	res := resource.NewWithAttributes(
		"",
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
	)

	switch cfg.Exporter {
	case "", ExporterNone:

	case ExporterStdout:
		spanExp, err := stdouttrace.New(stdouttrace.WithWriter(out), stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("create stdout trace exporter: %w", err)
		}
		metricExp, err := stdoutmetric.New(stdoutmetric.WithWriter(out), stdoutmetric.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("create stdout metric exporter: %w", err)
		}
		p.setTracer(sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(spanExp),
			sdktrace.WithResource(res),
		))
		p.setMeter(sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)),
		))

	case ExporterOTLP:
		var dialOpts []grpc.DialOption
		if cfg.OTLPInsecure {
			dialOpts = append(dialOpts, grpc.WithTransportCredentials(insecure.NewCredentials()))
		}
		conn, err := grpc.NewClient(cfg.OTLPEndpoint, dialOpts...)
		if err != nil {
			return nil, fmt.Errorf("dial otlp collector: %w", err)
		}
		spanExp, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("create otlp exporter: %w", err)
		}
		// The exporter does not own a connection passed in with WithGRPCConn.
		p.shutdown = append(p.shutdown, func(context.Context) error { return conn.Close() })
		p.setTracer(sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(spanExp),
			sdktrace.WithResource(res),
			sdktrace.WithSampler(sdktrace.AlwaysSample()),
		))

	case ExporterPrometheus:
		reg := cfg.Registerer
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		exp, err := promexporter.New(promexporter.WithRegisterer(reg))
		if err != nil {
			return nil, fmt.Errorf("create prometheus exporter: %w", err)
		}
		p.setMeter(sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(exp),
		))

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownExporter, cfg.Exporter)
	}

	if cfg.SetGlobal {
		otel.SetTracerProvider(p.TracerProvider)
		otel.SetMeterProvider(p.MeterProvider)
	}
	return p, nil
}

func (p *Providers) setTracer(tp *sdktrace.TracerProvider) {
	p.TracerProvider = tp
	p.shutdown = append(p.shutdown, tp.Shutdown)
}

func (p *Providers) setMeter(mp *sdkmetric.MeterProvider) {
	p.MeterProvider = mp
	p.shutdown = append(p.shutdown, mp.Shutdown)
}

// OTelConfig returns an OTelConfig bound to these providers.
func (p *Providers) OTelConfig() *OTelConfig {
	cfg := DefaultOTelConfig()
	cfg.ServiceName = p.serviceName
	if p.serviceVersion != "" {
		cfg.ServiceVersion = p.serviceVersion
	}
	cfg.TracerProvider = p.TracerProvider
	cfg.MeterProvider = p.MeterProvider
	return cfg
}

// Shutdown flushes and stops every SDK provider.
func (p *Providers) Shutdown(ctx context.Context) error {
	var errs []error
	for i := len(p.shutdown) - 1; i >= 0; i-- {
		errs = append(errs, p.shutdown[i](ctx))
	}
	p.shutdown = nil
	return errors.Join(errs...)
}
