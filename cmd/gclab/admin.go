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
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/gclab/pkg/logging"
	"github.com/AleutianAI/gclab/services/harness/diagnostics"
	"github.com/AleutianAI/gclab/services/harness/telemetry"
)

// adminDeps are the read-only views the admin server exposes. Any field may
// be nil; the matching endpoint then reports it as unavailable.
type adminDeps struct {
	logger  *logging.Logger
	prom    *telemetry.PrometheusMetrics
	capture *diagnostics.HeapCapture
	tracker *diagnostics.Tracker
	status  func() any
}

const (
	liveInterval    = time.Second
	minLiveInterval = 100 * time.Millisecond
	liveWriteWait   = 5 * time.Second
)

// liveUpgrader accepts any origin.
var liveUpgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// snapshotResponse is the body of GET /snapshot and each /live message.
type snapshotResponse struct {
	Runtime   diagnostics.RuntimeSample `json:"runtime"`
	HeapSlope float64                   `json:"heap_slope_bytes_per_sec"`
	Samples   int                       `json:"samples"`
	Status    any                       `json:"status,omitempty"`
}

// newAdminRouter builds the admin HTTP handler.
//
// Routes:
//
//	GET  /healthz   liveness
//	GET  /metrics   Prometheus exposition, when metrics are enabled
//	GET  /snapshot  latest runtime reading, heap trend and live status
//	GET  /live      websocket stream of snapshots; ?every= sets the period
//	POST /capture   write a heap capture; ?reason= labels the file
func newAdminRouter(d adminDeps) *gin.Engine {
	if d.logger == nil {
		d.logger = logging.Default()
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("gclab-admin"))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	if d.prom != nil {
		router.GET("/metrics", gin.WrapH(d.prom.Handler()))
	}

	router.GET("/snapshot", func(c *gin.Context) {
		c.JSON(http.StatusOK, d.snapshot())
	})

	router.GET("/live", func(c *gin.Context) {
		interval := liveInterval
		if raw := c.Query("every"); raw != "" {
			every, err := time.ParseDuration(raw)
			if err != nil || every < minLiveInterval {
				c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("every must be a duration of at least %s", minLiveInterval)})
				return
			}
			interval = every
		}
		ws, err := liveUpgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			d.logger.Warn("live stream upgrade failed", "error", err)
			return
		}
		defer ws.Close()
		d.streamLive(c.Request.Context(), ws, interval)
	})

	router.POST("/capture", func(c *gin.Context) {
		if d.capture == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "heap capture is disabled"})
			return
		}
		reason := c.DefaultQuery("reason", "http")
		path, err := d.capture.Capture(c.Request.Context(), reason)
		switch {
		case errors.Is(err, diagnostics.ErrCaptureBusy):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		case err != nil:
			d.logger.Error("heap capture failed", "source", "http", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		d.logger.Info("heap captured", "path", path, "source", "http")
		c.JSON(http.StatusCreated, gin.H{"path": path})
	})

	return router
}

func (d adminDeps) snapshot() snapshotResponse {
	resp := snapshotResponse{}
	if d.tracker != nil {
		if latest, ok := d.tracker.Latest(); ok {
			resp.Runtime = latest
			resp.HeapSlope = d.tracker.Slope()
			resp.Samples = len(d.tracker.Samples())
		}
	}
	if resp.Samples == 0 {
		resp.Runtime = diagnostics.ReadRuntime()
	}
	if d.status != nil {
		resp.Status = d.status()
	}
	return resp
}

// streamLive writes a snapshot every interval until the client goes away or
// ctx is done. Incoming messages are discarded.
func (d adminDeps) streamLive(ctx context.Context, ws *websocket.Conn, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := ws.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		_ = ws.SetWriteDeadline(time.Now().Add(liveWriteWait))
		if err := ws.WriteJSON(d.snapshot()); err != nil {
			d.logger.Debug("live stream closed", "error", err)
			return
		}
		select {
		case <-ctx.Done():
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			return
		case <-ticker.C:
		}
	}
}

// serveAdmin serves handler on ln until ctx is done, then shuts down
// gracefully.
func serveAdmin(ctx context.Context, ln net.Listener, handler http.Handler, logger *logging.Logger) error {
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		// Hijacked /live connections outlive Shutdown; their handlers watch ctx.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	logger.Info("admin server listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("admin server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("admin shutdown: %w", err)
	}
	<-errCh
	return nil
}
