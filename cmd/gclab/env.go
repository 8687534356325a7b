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
	"errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/gclab/pkg/logging"
	"github.com/AleutianAI/gclab/services/harness/config"
	"github.com/AleutianAI/gclab/services/harness/diagnostics"
	"github.com/AleutianAI/gclab/services/harness/report"
	"github.com/AleutianAI/gclab/services/harness/storage"
	"github.com/AleutianAI/gclab/services/harness/telemetry"
)

// shutdownTimeout bounds flushing sinks and stopping providers on exit.
const shutdownTimeout = 5 * time.Second

// =============================================================================
// Environment
// =============================================================================

// envOptions selects which parts of the environment a command needs.
type envOptions struct {
	// Telemetry builds sinks, Prometheus metrics and OTel providers.
	Telemetry bool

	// Diagnostics builds heap capture, the sampler and the residency tracker.
	Diagnostics bool

	// CapturePrefix names heap capture files.
	CapturePrefix string
}

// env is the set of long-lived dependencies for one command invocation.
type env struct {
	cfg    config.LaunchConfig
	logger *logging.Logger

	db    *storage.DB
	store *storage.ReportStore

	console *report.Console
	json    *report.JSON
	file    *report.FileSink
	influx  *report.InfluxSink

	prom      *telemetry.PrometheusMetrics
	providers *telemetry.Providers
	otel      *telemetry.OTelSink
	sinks     *telemetry.MultiSink

	capture *diagnostics.HeapCapture
	sampler *diagnostics.Sampler
	tracker *diagnostics.Tracker

	adminLn net.Listener
}

// openEnv opens the report store and whatever opts asks for. On error
// everything opened so far is closed.
func (a *app) openEnv(ctx context.Context, opts envOptions) (*env, error) {
	e := &env{cfg: a.cfg, logger: a.logger}
	if err := e.open(ctx, a, opts); err != nil {
		_ = e.Close()
		return nil, err
	}
	return e, nil
}

func (e *env) open(ctx context.Context, a *app, opts envOptions) error {
	if err := e.openStore(); err != nil {
		return err
	}

	if e.cfg.Output.Format == "json" {
		e.json = report.NewJSON(a.stdout)
	} else {
		e.console = report.NewConsole(a.stdout)
	}

	if opts.Telemetry {
		if err := e.openTelemetry(ctx, a); err != nil {
			return err
		}
	}
	if opts.Diagnostics {
		if err := e.openDiagnostics(opts.CapturePrefix); err != nil {
			return err
		}
	}
	if addr := e.cfg.Admin.Addr; addr != "" && opts.Telemetry {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("admin listen %s: %w", addr, err)
		}
		e.adminLn = ln
	}
	return nil
}

func (e *env) openStore() error {
	dbCfg := storage.DefaultConfig(e.cfg.Storage.Path)
	if e.cfg.Storage.InMemory {
		dbCfg = storage.InMemoryConfig()
	}
	dbCfg.Logger = e.logger
	db, err := storage.Open(dbCfg)
	if err != nil {
		return fmt.Errorf("open report store: %w", err)
	}
	e.db = db
	e.store = storage.NewReportStore(db)
	return nil
}

func (e *env) openTelemetry(ctx context.Context, a *app) error {
	tcfg := e.cfg.Telemetry
	sinks := []telemetry.Sink{}
	if e.console != nil {
		sinks = append(sinks, e.console)
	} else {
		sinks = append(sinks, e.json)
	}

	if e.cfg.Admin.Addr != "" || tcfg.Exporter == telemetry.ExporterPrometheus {
		prom, err := telemetry.NewPrometheusMetrics(telemetry.DefaultPrometheusConfig())
		if err != nil {
			return fmt.Errorf("prometheus metrics: %w", err)
		}
		e.prom = prom
		sinks = append(sinks, prom)
	}

	if tcfg.Exporter != telemetry.ExporterNone {
		pcfg := telemetry.ProviderConfig{
			Exporter:     tcfg.Exporter,
			ServiceName:  tcfg.ServiceName,
			OTLPEndpoint: tcfg.OTLPEndpoint,
			OTLPInsecure: true,
			Output:       a.stderr,
		}
		if e.prom != nil {
			pcfg.Registerer = e.prom.Registry()
		}
		providers, err := telemetry.Setup(ctx, pcfg)
		if err != nil {
			return fmt.Errorf("telemetry providers: %w", err)
		}
		e.providers = providers
		otelSink, err := telemetry.NewOTelSink(providers.OTelConfig())
		if err != nil {
			return fmt.Errorf("otel sink: %w", err)
		}
		e.otel = otelSink
		sinks = append(sinks, otelSink)
	}

	if path := e.cfg.Output.File; path != "" {
		file, err := report.OpenFileSink(path)
		if err != nil {
			return err
		}
		e.file = file
		sinks = append(sinks, file)
	}

	if ic := e.cfg.Output.Influx; ic.URL != "" {
		influx, err := report.NewInfluxSink(report.InfluxConfig{
			URL: ic.URL, Token: ic.Token, Org: ic.Org, Bucket: ic.Bucket,
		})
		if err != nil {
			return fmt.Errorf("influx sink: %w", err)
		}
		if err := influx.Ping(ctx); err != nil {
			e.logger.Warn("influx not reachable, points may be lost", "url", ic.URL, "error", err)
		}
		e.influx = influx
		sinks = append(sinks, influx)
	}

	multi, err := telemetry.NewMultiSink(sinks...)
	if err != nil {
		return err
	}
	e.sinks = multi
	return nil
}

func (e *env) openDiagnostics(prefix string) error {
	dcfg := e.cfg.Diagnostics
	if dcfg.CaptureDir != "" {
		capture, err := diagnostics.NewHeapCapture(e.cfg.CaptureConfig(prefix))
		if err != nil {
			return err
		}
		e.capture = capture
	}
	sampler, err := diagnostics.NewSampler()
	if err != nil {
		e.logger.Warn("process sampler unavailable, RSS will not be reported", "error", err)
	}
	e.sampler = sampler
	e.tracker = diagnostics.NewTracker(diagnostics.DefaultHistory)
	return nil
}

// =============================================================================
// Background tasks
// =============================================================================

// background starts the admin server, residency sampling, the trigger
// watcher and the capture signal handler in g. Each task returns when ctx
// is done.
func (e *env) background(ctx context.Context, g *errgroup.Group, status func() any) {
	if e.adminLn != nil {
		handler := newAdminRouter(adminDeps{
			logger:  e.logger,
			prom:    e.prom,
			capture: e.capture,
			tracker: e.tracker,
			status:  status,
		})
		ln := e.adminLn
		e.adminLn = nil
		g.Go(func() error { return serveAdmin(ctx, ln, handler, e.logger) })
	}
	if e.tracker != nil && e.cfg.Diagnostics.SampleEvery > 0 {
		g.Go(func() error {
			e.tracker.Run(ctx, e.sampler, e.cfg.Diagnostics.SampleEvery.Std())
			return nil
		})
	}
	if e.capture != nil {
		if e.cfg.Diagnostics.WatchTrigger {
			watcher := diagnostics.NewTriggerWatcher(e.capture, e.logger)
			g.Go(func() error {
				if err := watcher.Run(ctx); err != nil {
					e.logger.Warn("trigger watcher stopped", "error", err)
				}
				return nil
			})
		}
		g.Go(func() error {
			watchCaptureSignal(ctx, e.capture, e.logger)
			return nil
		})
	}
}

// captureHeap writes a heap capture when capture is configured.
func (e *env) captureHeap(ctx context.Context, reason string) {
	if e.capture == nil {
		return
	}
	path, err := e.capture.Capture(ctx, reason)
	if err != nil {
		e.logger.Error("heap capture failed", "reason", reason, "error", err)
		return
	}
	e.logger.Info("heap captured", "path", path, "source", reason)
}

// Close flushes and closes everything env opened.
func (e *env) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if e.adminLn != nil {
		errs = append(errs, e.adminLn.Close())
	}
	switch {
	case e.sinks != nil:
		errs = append(errs, e.sinks.Flush(ctx), e.sinks.Close())
	default:
		// Telemetry setup failed before the sinks were combined.
		if e.file != nil {
			errs = append(errs, e.file.Close())
		}
		if e.influx != nil {
			errs = append(errs, e.influx.Close())
		}
	}
	if e.providers != nil {
		errs = append(errs, e.providers.Shutdown(ctx))
	}
	if e.db != nil {
		errs = append(errs, e.db.Close())
	}
	return errors.Join(errs...)
}
