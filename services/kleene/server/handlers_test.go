// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/kleene/services/kleene/checkpoint"
	"github.com/AleutianAI/kleene/services/kleene/eval"
	"github.com/AleutianAI/kleene/services/kleene/fusion"
	kbadger "github.com/AleutianAI/kleene/services/kleene/storage/badger"
	"github.com/AleutianAI/kleene/services/kleene/threshold"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const scenarioTree = `
root:
  op: and
  children:
    - {value: T, confidence: 0.9}
    - op: or
      children:
        - {value: U, confidence: 0.5}
        - {value: F, confidence: 0.8}
`

const scenarioReadings = `
readings:
  - {value: T, confidence: 0.8, variance: 0.1}
  - {value: T, confidence: 0.7, variance: 0.2}
  - {value: F, confidence: 0.6, variance: 0.3}
`

func frozen(t *testing.T) *threshold.Static {
	t.Helper()
	ctrl, err := threshold.NewStatic(threshold.DefaultConfig())
	require.NoError(t, err)
	return ctrl
}

func setupTestRouter(t *testing.T, ctrl fusion.Controller, opts ...Option) *gin.Engine {
	t.Helper()
	h, err := NewHandlers(ctrl, opts...)
	require.NoError(t, err)
	return NewRouter("kleene-test", h)
}

func do(router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

// =============================================================================
// Health / Metrics
// =============================================================================

func TestHandlers_HandleHealth(t *testing.T) {
	router := setupTestRouter(t, frozen(t))

	w := do(router, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode[HealthResponse](t, w)
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, ServiceVersion, resp.Version)
	assert.NotEmpty(t, w.Header().Get("Content-Type"))
}

func TestNewRouter_MetricsOnly(t *testing.T) {
	router := NewRouter("kleene-test", nil)

	assert.Equal(t, http.StatusOK, do(router, http.MethodGet, "/metrics", "").Code)
	assert.Equal(t, http.StatusNotFound, do(router, http.MethodGet, "/health", "").Code)
	assert.Equal(t, http.StatusNotFound, do(router, http.MethodPost, "/v1/eval", scenarioTree).Code)
}

// =============================================================================
// Eval
// =============================================================================

func TestHandlers_HandleEval_Scalar(t *testing.T) {
	router := setupTestRouter(t, frozen(t))

	w := do(router, http.MethodPost, "/v1/eval", scenarioTree)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decode[EvalResponse](t, w)
	assert.Equal(t, "UNKNOWN", resp.Value)
	assert.InDelta(t, 0.81, resp.Confidence, 1e-9)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "scalar", resp.Stats.Mode)
	assert.Equal(t, 0.5, resp.Threshold)
}

func TestHandlers_HandleEval_Parallel(t *testing.T) {
	router := setupTestRouter(t, frozen(t))

	w := do(router, http.MethodPost, "/v1/eval?mode=parallel&workers=3", scenarioTree)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decode[EvalResponse](t, w)
	assert.Equal(t, "UNKNOWN", resp.Value)
	assert.InDelta(t, 0.81, resp.Confidence, 1e-9)
	assert.Equal(t, "parallel", resp.Stats.Mode)
	assert.Len(t, resp.Stats.Workers, 3)
}

func TestHandlers_HandleEval_JSONBody(t *testing.T) {
	router := setupTestRouter(t, frozen(t))

	body := `{"root": {"op": "not", "children": [{"value": "F", "confidence": 0.7}]}}`
	w := do(router, http.MethodPost, "/v1/eval", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decode[EvalResponse](t, w)
	assert.Equal(t, "TRUE", resp.Value)
	assert.InDelta(t, 0.7, resp.Confidence, 1e-9)
}

func TestHandlers_HandleEval_BadRequests(t *testing.T) {
	router := setupTestRouter(t, frozen(t))

	tests := []struct {
		name string
		path string
		body string
		code string
	}{
		{"invalid document", "/v1/eval", "root: {op: xor}", "INVALID_DOCUMENT"},
		{"empty body", "/v1/eval", "", "INVALID_DOCUMENT"},
		{"unknown mode", "/v1/eval?mode=gpu", scenarioTree, "INVALID_PARAMETER"},
		{"zero workers", "/v1/eval?mode=parallel&workers=0", scenarioTree, "INVALID_PARAMETER"},
		{"too many workers", "/v1/eval?mode=parallel&workers=100000", scenarioTree, "INVALID_PARAMETER"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(router, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, tt.code, decode[ErrorResponse](t, w).Code)
		})
	}
}

func TestEvalStatusCode(t *testing.T) {
	assert.Equal(t, http.StatusOK, evalStatusCode(eval.StatusOK))
	assert.Equal(t, http.StatusGatewayTimeout, evalStatusCode(eval.StatusTimeout))
	assert.Equal(t, http.StatusBadRequest, evalStatusCode(eval.StatusInvalid))
	assert.Equal(t, http.StatusInternalServerError, evalStatusCode(eval.StatusFailed))
}

// =============================================================================
// Fuse / Threshold
// =============================================================================

func TestHandlers_HandleFuse(t *testing.T) {
	ctrl, err := threshold.NewAdaptive(threshold.DefaultConfig())
	require.NoError(t, err)
	router := setupTestRouter(t, ctrl)

	w := do(router, http.MethodPost, "/v1/fuse", scenarioReadings)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decode[FuseResponse](t, w)
	assert.Equal(t, "TRUE", resp.Value)
	assert.InDelta(t, 0.976, resp.Confidence, 1e-9)
	assert.True(t, resp.ShortCircuit)
	assert.Equal(t, 3, resp.Readings)

	w = do(router, http.MethodPost, "/v1/fuse", "readings: []")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlers_HandleThreshold(t *testing.T) {
	router := setupTestRouter(t, frozen(t))
	resp := decode[ThresholdResponse](t, do(router, http.MethodGet, "/v1/threshold", ""))
	assert.False(t, resp.Adaptive)
	assert.Nil(t, resp.State)
	assert.Equal(t, 0.5, resp.Threshold)
	assert.Equal(t, 0.25, resp.VarianceThreshold)

	ctrl, err := threshold.NewAdaptive(threshold.DefaultConfig())
	require.NoError(t, err)
	ctrl.Update(true)
	router = setupTestRouter(t, ctrl)
	resp = decode[ThresholdResponse](t, do(router, http.MethodGet, "/v1/threshold", ""))
	assert.True(t, resp.Adaptive)
	require.NotNil(t, resp.State)
	assert.Equal(t, uint64(1), resp.State.Updates)
}

// =============================================================================
// Checkpoints
// =============================================================================

func newStore(t *testing.T) *checkpoint.Store {
	t.Helper()
	db, err := kbadger.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	store, err := checkpoint.NewStore(db)
	require.NoError(t, err)
	return store
}

func TestHandlers_Checkpoints(t *testing.T) {
	ctrl, err := threshold.NewAdaptive(threshold.DefaultConfig())
	require.NoError(t, err)
	router := setupTestRouter(t, ctrl, WithCheckpoints(newStore(t), "server"))

	for i := 0; i < 5; i++ {
		ctrl.Update(true)
	}
	saved := ctrl.State()

	w := do(router, http.MethodPost, "/v1/threshold/checkpoints", "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	cp := decode[CheckpointResponse](t, w)
	assert.Equal(t, "server", cp.Name)
	assert.NotEmpty(t, cp.ID)

	for i := 0; i < 5; i++ {
		ctrl.Update(false)
	}
	require.NotEqual(t, saved.Threshold, ctrl.Threshold())

	w = do(router, http.MethodPost, "/v1/threshold/restore", `{"name": "server"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, saved, ctrl.State())

	w = do(router, http.MethodPost, "/v1/threshold/restore", `{"name": "missing"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(router, http.MethodPost, "/v1/threshold/checkpoints", `{"name": "bad name!"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_NAME", decode[ErrorResponse](t, w).Code)

	w = do(router, http.MethodPost, "/v1/threshold/checkpoints", `{"name": `)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlers_CheckpointsUnavailable(t *testing.T) {
	router := setupTestRouter(t, frozen(t))
	w := do(router, http.MethodPost, "/v1/threshold/checkpoints", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	router = setupTestRouter(t, frozen(t), WithCheckpoints(newStore(t), "x"))
	w = do(router, http.MethodPost, "/v1/threshold/checkpoints", "")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestNewHandlers_Errors(t *testing.T) {
	_, err := NewHandlers(nil)
	assert.ErrorIs(t, err, ErrNilController)

	bad := eval.DefaultParallelConfig()
	bad.Workers = 0
	_, err = NewHandlers(frozen(t), WithParallelConfig(bad))
	assert.ErrorIs(t, err, eval.ErrInvalidWorkers)

	_, err = NewHandlers(frozen(t), WithFusionConfig(fusion.Config{}))
	assert.ErrorIs(t, err, fusion.ErrInvalidConfig)
}

// =============================================================================
// Server lifecycle
// =============================================================================

func TestServer_ServeAndShutdown(t *testing.T) {
	srv, err := Listen("127.0.0.1:0", NewRouter("kleene-test", nil), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	resp, err := http.Get("http://" + srv.Addr() + "/metrics")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(ShutdownTimeout + time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestListen_BadAddress(t *testing.T) {
	_, err := Listen("256.0.0.1:99999", http.NotFoundHandler(), nil)
	assert.Error(t, err)
}
