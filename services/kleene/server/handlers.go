// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package server exposes evaluation, fusion and the threshold controller
// over HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/kleene/services/kleene/checkpoint"
	"github.com/AleutianAI/kleene/services/kleene/document"
	"github.com/AleutianAI/kleene/services/kleene/eval"
	"github.com/AleutianAI/kleene/services/kleene/fusion"
	"github.com/AleutianAI/kleene/services/kleene/telemetry"
	"github.com/AleutianAI/kleene/services/kleene/threshold"
	"github.com/AleutianAI/kleene/services/kleene/tree"
)

// ServiceVersion is the HTTP API version.
const ServiceVersion = "0.1.0"

// MaxWorkers bounds the per-request worker override.
const MaxWorkers = 256

// ErrNilController is returned by NewHandlers without a controller.
var ErrNilController = errors.New("server requires a threshold controller")

// Handlers contains the HTTP handlers.
//
// Thread Safety: Safe for concurrent use. Every request builds its own
// tree; the controller is shared.
type Handlers struct {
	ctrl      fusion.Controller
	fuser     *fusion.Fuser
	scalar    *eval.Scalar
	parallel  eval.ParallelConfig
	fusionCfg fusion.Config
	store     *checkpoint.Store
	name      string
	logger    *slog.Logger
}

// Option configures Handlers.
type Option func(*Handlers)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handlers) {
		if logger != nil {
			h.logger = logger.With(slog.String("component", "server"))
		}
	}
}

// WithParallelConfig sets the evaluator configuration used for mode=parallel.
func WithParallelConfig(cfg eval.ParallelConfig) Option {
	return func(h *Handlers) { h.parallel = cfg }
}

// WithFusionConfig replaces the fusion defaults.
func WithFusionConfig(cfg fusion.Config) Option {
	return func(h *Handlers) { h.fusionCfg = cfg }
}

// WithCheckpoints enables the checkpoint endpoints. name is the default
// checkpoint name.
func WithCheckpoints(store *checkpoint.Store, name string) Option {
	return func(h *Handlers) {
		h.store = store
		h.name = name
	}
}

// NewHandlers creates handlers around ctrl.
func NewHandlers(ctrl fusion.Controller, opts ...Option) (*Handlers, error) {
	if ctrl == nil {
		return nil, ErrNilController
	}
	h := &Handlers{
		ctrl:      ctrl,
		parallel:  eval.DefaultParallelConfig(),
		fusionCfg: fusion.DefaultConfig(),
		logger:    slog.Default().With(slog.String("component", "server")),
	}
	for _, opt := range opts {
		opt(h)
	}
	if err := h.parallel.Validate(); err != nil {
		return nil, err
	}

	fuser, err := fusion.NewFuser(ctrl, fusion.WithConfig(h.fusionCfg), fusion.WithLogger(h.logger))
	if err != nil {
		return nil, err
	}
	h.fuser = fuser

	scalar, err := eval.NewScalar(ctrl, eval.WithLogger(h.logger))
	if err != nil {
		return nil, err
	}
	h.scalar = scalar
	return h, nil
}

// getOrCreateRequestID gets or creates a request ID.
func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}

func (h *Handlers) requestLogger(c *gin.Context, handler string) *slog.Logger {
	return telemetry.LoggerWithTrace(c.Request.Context(), h.logger).With(
		slog.String("request_id", getOrCreateRequestID(c)),
		slog.String("handler", handler),
	)
}

// HandleEval handles POST /v1/eval.
//
// Description:
//
//	Decodes a tree document (YAML or JSON) from the body and evaluates it.
//	The evaluation result is always returned; operational failures
//	(timeout, cancellation) set Status and the HTTP code.
//
// Query Parameters:
//
//	mode: scalar (default) or parallel
//	workers: worker count for parallel mode (optional)
//
// Response:
//
//	200 OK: EvalResponse
//	400 Bad Request: Invalid document or parameters
//	504 Gateway Timeout: EvalResponse with status timeout
//	500 Internal Server Error: EvalResponse with status failed
func (h *Handlers) HandleEval(c *gin.Context) {
	logger := h.requestLogger(c, "HandleEval")

	t, err := document.DecodeTree(c.Request.Body)
	if err != nil {
		logger.Warn("invalid tree document", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: documentErrorCode(err)})
		return
	}

	evaluator, err := h.evaluator(c.DefaultQuery("mode", "scalar"), c.Query("workers"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_PARAMETER"})
		return
	}

	res, err := evaluator.Evaluate(c.Request.Context(), t)
	resp := EvalResponse{
		Value:      res.Value.String(),
		Confidence: res.Confidence,
		Status:     res.Status.String(),
		Threshold:  h.ctrl.Threshold(),
		Stats:      res.Stats,
	}
	if err != nil {
		logger.Warn("evaluation failed",
			slog.String("status", res.Status.String()),
			slog.String("error", err.Error()))
	}
	c.JSON(evalStatusCode(res.Status), resp)
}

type treeEvaluator interface {
	Evaluate(ctx context.Context, t *tree.Tree) (eval.Result, error)
}

func (h *Handlers) evaluator(mode, workers string) (treeEvaluator, error) {
	switch mode {
	case "scalar":
		return h.scalar, nil
	case "parallel":
	default:
		return nil, errors.New("mode must be scalar or parallel")
	}

	cfg := h.parallel
	if workers != "" {
		n, err := strconv.Atoi(workers)
		if err != nil || n < 1 || n > MaxWorkers {
			return nil, errors.New("workers must be an integer in [1, " + strconv.Itoa(MaxWorkers) + "]")
		}
		cfg.Workers = n
	}
	p, err := eval.NewParallel(h.ctrl, cfg, eval.WithLogger(h.logger))
	if err != nil {
		return nil, err
	}
	return p, nil
}

func evalStatusCode(s eval.Status) int {
	switch s {
	case eval.StatusOK:
		return http.StatusOK
	case eval.StatusTimeout:
		return http.StatusGatewayTimeout
	case eval.StatusInvalid:
		return http.StatusBadRequest
	case eval.StatusCancelled:
		return 499
	default:
		return http.StatusInternalServerError
	}
}

func documentErrorCode(err error) string {
	switch {
	case errors.Is(err, document.ErrTooLarge):
		return "DOCUMENT_TOO_LARGE"
	case errors.Is(err, document.ErrTooDeep):
		return "DOCUMENT_TOO_DEEP"
	default:
		return "INVALID_DOCUMENT"
	}
}

// HandleFuse handles POST /v1/fuse.
//
// Response:
//
//	200 OK: FuseResponse
//	400 Bad Request: Invalid readings document
func (h *Handlers) HandleFuse(c *gin.Context) {
	logger := h.requestLogger(c, "HandleFuse")

	readings, err := document.DecodeReadings(c.Request.Body)
	if err != nil {
		logger.Warn("invalid readings document", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: documentErrorCode(err)})
		return
	}

	res, err := h.fuser.Fuse(c.Request.Context(), readings)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_READINGS"})
		return
	}
	c.JSON(http.StatusOK, FuseResponse{
		Value:           res.Value.String(),
		Confidence:      res.Confidence,
		ShortCircuit:    res.ShortCircuit,
		WeightedAverage: res.WeightedAverage,
		MeanVariance:    res.MeanVariance,
		Widened:         res.Widened,
		Readings:        res.Readings,
		Threshold:       h.ctrl.Threshold(),
	})
}

// HandleThreshold handles GET /v1/threshold.
func (h *Handlers) HandleThreshold(c *gin.Context) {
	resp := ThresholdResponse{
		Threshold:         h.ctrl.Threshold(),
		VarianceThreshold: h.ctrl.VarianceThreshold(),
	}
	if a, ok := h.ctrl.(*threshold.Adaptive); ok {
		st := a.State()
		resp.Adaptive = true
		resp.State = &st
	}
	c.JSON(http.StatusOK, resp)
}

// HandleSaveCheckpoint handles POST /v1/threshold/checkpoints.
//
// Response:
//
//	201 Created: CheckpointResponse
//	400 Bad Request: Invalid name
//	409 Conflict: Controller is not adaptive
//	503 Service Unavailable: Checkpoints not configured
func (h *Handlers) HandleSaveCheckpoint(c *gin.Context) {
	logger := h.requestLogger(c, "HandleSaveCheckpoint")
	adaptive, name, ok := h.checkpointTarget(c)
	if !ok {
		return
	}

	cp, err := h.store.SaveController(c.Request.Context(), name, adaptive)
	if err != nil {
		h.checkpointError(c, logger, err)
		return
	}
	c.JSON(http.StatusCreated, checkpointResponse(cp))
}

// HandleRestoreCheckpoint handles POST /v1/threshold/restore.
//
// Response:
//
//	200 OK: CheckpointResponse
//	404 Not Found: No checkpoint with that name
//	422 Unprocessable Entity: Checkpoint corrupt or from another version
func (h *Handlers) HandleRestoreCheckpoint(c *gin.Context) {
	logger := h.requestLogger(c, "HandleRestoreCheckpoint")
	adaptive, name, ok := h.checkpointTarget(c)
	if !ok {
		return
	}

	cp, err := h.store.RestoreController(c.Request.Context(), name, adaptive)
	if err != nil {
		h.checkpointError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, checkpointResponse(cp))
}

// checkpointTarget resolves the controller and name, writing the error
// response itself when it returns false.
func (h *Handlers) checkpointTarget(c *gin.Context) (*threshold.Adaptive, string, bool) {
	if h.store == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "checkpoints are not configured", Code: "CHECKPOINTS_DISABLED"})
		return nil, "", false
	}
	adaptive, ok := h.ctrl.(*threshold.Adaptive)
	if !ok {
		c.JSON(http.StatusConflict, ErrorResponse{Error: "controller is not adaptive", Code: "NOT_ADAPTIVE"})
		return nil, "", false
	}

	var req CheckpointRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body", Code: "INVALID_REQUEST"})
			return nil, "", false
		}
	}
	name := req.Name
	if name == "" {
		name = h.name
	}
	return adaptive, name, true
}

func (h *Handlers) checkpointError(c *gin.Context, logger *slog.Logger, err error) {
	status, code := http.StatusInternalServerError, "CHECKPOINT_FAILED"
	switch {
	case errors.Is(err, checkpoint.ErrInvalidName):
		status, code = http.StatusBadRequest, "INVALID_NAME"
	case errors.Is(err, checkpoint.ErrNotFound):
		status, code = http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, checkpoint.ErrCheckpointCorrupt), errors.Is(err, checkpoint.ErrVersionMismatch),
		errors.Is(err, threshold.ErrInvalidState):
		status, code = http.StatusUnprocessableEntity, "CHECKPOINT_UNUSABLE"
	}
	if status == http.StatusInternalServerError {
		logger.Error("checkpoint operation failed", slog.String("error", err.Error()))
	}
	c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
}

func checkpointResponse(cp checkpoint.Checkpoint) CheckpointResponse {
	return CheckpointResponse{
		ID:        cp.ID,
		Name:      cp.Name,
		CreatedAt: cp.CreatedAt.Format(time.RFC3339),
		State:     cp.State,
	}
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: ServiceVersion,
	})
}
