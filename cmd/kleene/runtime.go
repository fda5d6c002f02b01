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
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/kleene/pkg/logging"
	"github.com/AleutianAI/kleene/pkg/ux"
	"github.com/AleutianAI/kleene/services/kleene/checkpoint"
	"github.com/AleutianAI/kleene/services/kleene/config"
	"github.com/AleutianAI/kleene/services/kleene/fusion"
	kbadger "github.com/AleutianAI/kleene/services/kleene/storage/badger"
	"github.com/AleutianAI/kleene/services/kleene/telemetry"
	"github.com/AleutianAI/kleene/services/kleene/threshold"
)

// runtime holds what every subcommand shares: configuration, logger and
// the telemetry shutdown hook.
type runtime struct {
	cfg      config.Config
	logger   *slog.Logger
	logs     *logging.Logger
	shutdown func(context.Context) error
}

var app runtime

// setup runs before every subcommand.
func (a *runtime) setup(cmd *cobra.Command) error {
	ux.SetOutput(cmd.OutOrStdout(), cmd.ErrOrStderr())
	ux.InitPersonality()
	if flagPersonality != "" {
		ux.SetPersonalityLevel(ux.ParsePersonalityLevel(flagPersonality))
	}

	cfg, err := config.Load(flagConfigPath)
	if err != nil {
		return NewCommandError(cmd.Name(), ExitBadInput, err)
	}
	if flagLogLevel != "" {
		cfg.Logging.Level = flagLogLevel
	}
	if flagLogFormat != "" {
		cfg.Logging.Format = flagLogFormat
	}
	if flagTrace != "" {
		cfg.Telemetry.TraceExporter = flagTrace
	}
	if err := cfg.Validate(); err != nil {
		return NewCommandError(cmd.Name(), ExitBadInput, err)
	}
	a.cfg = cfg

	logs, err := logging.New(logging.Config{
		Level:   cfg.Logging.Level,
		Format:  cfg.Logging.Format,
		Console: cmd.ErrOrStderr(),
		Dir:     cfg.Logging.Dir,
		Service: cfg.Telemetry.ServiceName,
	})
	if err != nil {
		return NewCommandError(cmd.Name(), ExitFailure, err)
	}
	a.logs = logs
	a.logger = logs.Slog()
	slog.SetDefault(a.logger)

	tel := cfg.ToTelemetryConfig()
	tel.Writer = cmd.ErrOrStderr()
	shutdown, err := telemetry.Init(cmd.Context(), tel)
	switch {
	case errors.Is(err, telemetry.ErrAlreadyInitialized):
		a.logger.Debug("metrics exporter already installed")
	case err != nil:
		return NewCommandError(cmd.Name(), ExitFailure, err)
	default:
		a.shutdown = shutdown
	}
	return nil
}

// close flushes telemetry and the log file. Safe to call more than once.
func (a *runtime) close(ctx context.Context) error {
	var errs []error
	if a.shutdown != nil {
		fn := a.shutdown
		a.shutdown = nil
		if err := fn(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown telemetry: %w", err))
		}
	}
	if a.logs != nil {
		if err := a.logs.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close log file: %w", err))
		}
	}
	return errors.Join(errs...)
}

// controller builds the configured controller with the runtime logger.
func (a *runtime) controller() (fusion.Controller, error) {
	ctrl, err := a.cfg.NewController()
	if err != nil {
		return nil, err
	}
	if adaptive, ok := ctrl.(*threshold.Adaptive); ok {
		adaptive.WithLogger(a.logger)
	}
	return ctrl, nil
}

// openStore opens the checkpoint database. The returned func closes it.
func (a *runtime) openStore() (*checkpoint.Store, func() error, error) {
	bc := a.cfg.ToBadgerConfig()
	bc.Logger = a.logger
	db, err := kbadger.Open(bc)
	if err != nil {
		return nil, nil, fmt.Errorf("open checkpoint store: %w", err)
	}
	store, err := checkpoint.NewStore(db, checkpoint.WithLogger(a.logger))
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return store, db.Close, nil
}

// withPersistence restores ctrl from the named checkpoint, runs fn, then
// saves ctrl back. A missing checkpoint starts from the configured prior.
// Static controllers have no state and skip the store entirely.
func (a *runtime) withPersistence(ctx context.Context, name string, ctrl fusion.Controller, fn func() error) error {
	adaptive, ok := ctrl.(*threshold.Adaptive)
	if !ok || name == "" {
		return fn()
	}

	store, closeStore, err := a.openStore()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := closeStore(); cerr != nil {
			a.logger.Warn("close checkpoint store", slog.String("error", cerr.Error()))
		}
	}()

	cp, err := store.RestoreController(ctx, name, adaptive)
	switch {
	case errors.Is(err, checkpoint.ErrNotFound):
		a.logger.Info("no checkpoint, starting from prior", slog.String("name", name))
	case err != nil:
		return err
	default:
		a.logger.Debug("controller restored",
			slog.String("name", name),
			slog.String("checkpoint_id", cp.ID),
			slog.Float64("threshold", cp.State.Threshold))
	}

	if err := fn(); err != nil {
		return err
	}

	if _, err := store.SaveController(ctx, name, adaptive); err != nil {
		return fmt.Errorf("save checkpoint %s: %w", name, err)
	}
	return nil
}
