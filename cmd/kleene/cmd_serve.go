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
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/kleene/pkg/ux"
	"github.com/AleutianAI/kleene/services/kleene/checkpoint"
	"github.com/AleutianAI/kleene/services/kleene/server"
	"github.com/AleutianAI/kleene/services/kleene/threshold"
)

var (
	serveAddr          string
	serveCheckpoint    string
	serveNoCheckpoints bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the evaluation API over HTTP",
	Long: `Serve evaluation, fusion and threshold management over HTTP.

Endpoints:
  POST /v1/eval                    Evaluate a tree document (?mode=parallel&workers=N)
  POST /v1/fuse                    Fuse a readings document
  GET  /v1/threshold               Controller state
  POST /v1/threshold/checkpoints   Save the controller
  POST /v1/threshold/restore       Restore the controller
  GET  /health
  GET  /metrics

An adaptive controller is restored from the checkpoint at startup and,
with server.save_on_shutdown, saved back when the server stops.

Examples:
  kleene serve
  kleene serve --addr 127.0.0.1:9000 --checkpoint api
  kleene serve --no-checkpoints`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default from config)")
	serveCmd.Flags().StringVar(&serveCheckpoint, "checkpoint", "", "Checkpoint name (default from config)")
	serveCmd.Flags().BoolVar(&serveNoCheckpoints, "no-checkpoints", false, "Run without the checkpoint store")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	addr := app.cfg.Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}
	name := app.cfg.Checkpoint.Name
	if serveCheckpoint != "" {
		name = serveCheckpoint
	}

	ctrl, err := app.controller()
	if err != nil {
		return NewCommandError("serve", ExitBadInput, err)
	}

	opts := []server.Option{
		server.WithLogger(app.logger),
		server.WithParallelConfig(app.cfg.ToParallelConfig()),
		server.WithFusionConfig(app.cfg.ToFusionConfig()),
	}

	adaptive, isAdaptive := ctrl.(*threshold.Adaptive)
	if !serveNoCheckpoints {
		store, closeStore, err := app.openStore()
		if err != nil {
			return NewCommandError("serve", ExitFailure, err)
		}
		defer func() {
			if cerr := closeStore(); cerr != nil {
				app.logger.Warn("close checkpoint store", slog.String("error", cerr.Error()))
			}
		}()
		opts = append(opts, server.WithCheckpoints(store, name))

		if isAdaptive {
			if err := restoreAtStartup(ctx, store, name, adaptive); err != nil {
				return NewCommandError("serve", ExitFailure, err)
			}
			if app.cfg.Server.SaveOnShutdown {
				defer saveAtShutdown(store, name, adaptive)
			}
		}
	}

	h, err := server.NewHandlers(ctrl, opts...)
	if err != nil {
		return NewCommandError("serve", ExitBadInput, err)
	}
	srv, err := server.Listen(addr, server.NewRouter(app.cfg.Telemetry.ServiceName, h), app.logger)
	if err != nil {
		return NewCommandError("serve", ExitFailure, err)
	}
	ux.Success("serving on http://" + srv.Addr())

	if err := srv.Serve(ctx); err != nil {
		return NewCommandError("serve", ExitFailure, err)
	}
	return nil
}

func restoreAtStartup(ctx context.Context, store *checkpoint.Store, name string, ctrl *threshold.Adaptive) error {
	cp, err := store.RestoreController(ctx, name, ctrl)
	switch {
	case errors.Is(err, checkpoint.ErrNotFound):
		app.logger.Info("no checkpoint, starting from prior", slog.String("name", name))
		return nil
	case err != nil:
		return err
	}
	app.logger.Info("controller restored",
		slog.String("name", name),
		slog.String("checkpoint_id", cp.ID),
		slog.Float64("threshold", cp.State.Threshold))
	return nil
}

// saveAtShutdown runs after the serve context is done, so it uses a fresh one.
func saveAtShutdown(store *checkpoint.Store, name string, ctrl *threshold.Adaptive) {
	ctx, cancel := context.WithTimeout(context.Background(), server.ShutdownTimeout)
	defer cancel()
	cp, err := store.SaveController(ctx, name, ctrl)
	if err != nil {
		app.logger.Error("save checkpoint on shutdown",
			slog.String("name", name),
			slog.String("error", err.Error()))
		return
	}
	app.logger.Info("controller saved",
		slog.String("name", name),
		slog.Float64("threshold", cp.State.Threshold))
}
