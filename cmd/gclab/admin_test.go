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
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/gclab/pkg/logging"
	"github.com/AleutianAI/gclab/services/harness/diagnostics"
	"github.com/AleutianAI/gclab/services/harness/telemetry"
)

func adminRequest(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAdmin_Healthz(t *testing.T) {
	h := newAdminRouter(adminDeps{logger: logging.Discard()})
	rec := adminRequest(t, h, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestAdmin_Metrics(t *testing.T) {
	cfg := telemetry.DefaultPrometheusConfig()
	cfg.Registry = prometheus.NewRegistry()
	prom, err := telemetry.NewPrometheusMetrics(cfg)
	require.NoError(t, err)

	h := newAdminRouter(adminDeps{logger: logging.Discard(), prom: prom})
	rec := adminRequest(t, h, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")

	bare := newAdminRouter(adminDeps{logger: logging.Discard()})
	assert.Equal(t, http.StatusNotFound, adminRequest(t, bare, http.MethodGet, "/metrics").Code)
}

func TestAdmin_Snapshot(t *testing.T) {
	tracker := diagnostics.NewTracker(8)
	now := time.Now()
	tracker.Add(diagnostics.RuntimeSample{At: now, HeapAlloc: 1000})
	tracker.Add(diagnostics.RuntimeSample{At: now.Add(time.Second), HeapAlloc: 3000})

	h := newAdminRouter(adminDeps{
		logger:  logging.Discard(),
		tracker: tracker,
		status:  func() any { return map[string]int{"ticks": 7} },
	})
	rec := adminRequest(t, h, http.MethodGet, "/snapshot")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Runtime   diagnostics.RuntimeSample `json:"runtime"`
		HeapSlope float64                   `json:"heap_slope_bytes_per_sec"`
		Samples   int                       `json:"samples"`
		Status    map[string]int            `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, uint64(3000), body.Runtime.HeapAlloc)
	assert.InDelta(t, 2000, body.HeapSlope, 1e-6)
	assert.Equal(t, 2, body.Samples)
	assert.Equal(t, 7, body.Status["ticks"])
}

func TestAdmin_SnapshotWithoutTracker(t *testing.T) {
	h := newAdminRouter(adminDeps{logger: logging.Discard()})
	rec := adminRequest(t, h, http.MethodGet, "/snapshot")
	require.Equal(t, http.StatusOK, rec.Code)

	var body snapshotResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Zero(t, body.Samples)
	assert.NotZero(t, body.Runtime.HeapAlloc)
	assert.Nil(t, body.Status)
}

func TestAdmin_Capture(t *testing.T) {
	capture, err := diagnostics.NewHeapCapture(diagnostics.CaptureConfig{Dir: t.TempDir(), Prefix: "admin"})
	require.NoError(t, err)

	h := newAdminRouter(adminDeps{logger: logging.Discard(), capture: capture})
	rec := adminRequest(t, h, http.MethodPost, "/capture?reason=manual")
	require.Equal(t, http.StatusCreated, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, strings.HasSuffix(body["path"], "_manual.pprof"), body["path"])
	_, err = os.Stat(body["path"])
	assert.NoError(t, err)

	assert.Equal(t, http.StatusNotFound, adminRequest(t, h, http.MethodGet, "/capture").Code)
}

func TestAdmin_CaptureDisabled(t *testing.T) {
	h := newAdminRouter(adminDeps{logger: logging.Discard()})
	rec := adminRequest(t, h, http.MethodPost, "/capture")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAdmin_LiveStreamsSnapshots(t *testing.T) {
	var n int
	var mu sync.Mutex
	h := newAdminRouter(adminDeps{
		logger: logging.Discard(),
		status: func() any {
			mu.Lock()
			defer mu.Unlock()
			n++
			return map[string]int{"seq": n}
		},
	})
	srv := httptest.NewServer(h)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/live?every=100ms"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	var seen []int
	for range 2 {
		var msg struct {
			Status map[string]int `json:"status"`
		}
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		require.NoError(t, conn.ReadJSON(&msg))
		seen = append(seen, msg.Status["seq"])
	}
	assert.Equal(t, []int{1, 2}, seen)
}

func TestAdmin_LiveRejectsShortInterval(t *testing.T) {
	h := newAdminRouter(adminDeps{logger: logging.Discard()})
	for _, every := range []string{"10ms", "soon"} {
		rec := adminRequest(t, h, http.MethodGet, "/live?every="+every)
		assert.Equal(t, http.StatusBadRequest, rec.Code, every)
	}
}

func TestServeAdmin_ShutsDownOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- serveAdmin(ctx, ln, newAdminRouter(adminDeps{logger: logging.Discard()}), logging.Discard())
	}()

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serveAdmin did not return after cancel")
	}
}
