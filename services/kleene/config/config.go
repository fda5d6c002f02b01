// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads kleene configuration with priority
// env > file > defaults.
//
// Files are YAML, with JSON accepted as a fallback. Every section converts
// to the configuration type of the package it drives.
//
// Thread Safety: A loaded Config is a value; safe to read concurrently.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	kbadger "github.com/AleutianAI/kleene/services/kleene/storage/badger"
	"github.com/AleutianAI/kleene/services/kleene/eval"
	"github.com/AleutianAI/kleene/services/kleene/eval/backoff"
	"github.com/AleutianAI/kleene/services/kleene/fusion"
	"github.com/AleutianAI/kleene/services/kleene/telemetry"
	"github.com/AleutianAI/kleene/services/kleene/threshold"
)

// MaxConfigFileSize bounds config files (1MB).
const MaxConfigFileSize = 1 << 20

// ErrInvalidConfig is returned when a loaded configuration fails validation.
var ErrInvalidConfig = errors.New("invalid config")

var validate = validator.New(validator.WithRequiredStructEnabled())

// Config is the top-level configuration.
type Config struct {
	Threshold  ThresholdConfig  `json:"threshold" yaml:"threshold"`
	Parallel   ParallelConfig   `json:"parallel" yaml:"parallel"`
	Fusion     FusionConfig     `json:"fusion" yaml:"fusion"`
	Telemetry  TelemetryConfig  `json:"telemetry" yaml:"telemetry"`
	Logging    LoggingConfig    `json:"logging" yaml:"logging"`
	Checkpoint CheckpointConfig `json:"checkpoint" yaml:"checkpoint"`
	Server     ServerConfig     `json:"server" yaml:"server"`
}

// ThresholdConfig configures the threshold controller.
type ThresholdConfig struct {
	Initial           float64 `json:"initial" yaml:"initial" validate:"gt=0,lt=1"`
	PriorStrength     float64 `json:"prior_strength" yaml:"prior_strength" validate:"gt=0"`
	Steepness         float64 `json:"steepness" yaml:"steepness" validate:"gt=0"`
	VarianceThreshold float64 `json:"variance_threshold" yaml:"variance_threshold" validate:"gt=0,lte=1"`
	VarianceSteepness float64 `json:"variance_steepness" yaml:"variance_steepness" validate:"gt=0"`

	// Adaptive selects threshold.Adaptive; false freezes θ with threshold.Static.
	Adaptive bool `json:"adaptive" yaml:"adaptive"`
}

// ParallelConfig configures the work-stealing evaluator.
type ParallelConfig struct {
	// Workers is the goroutine count. 0 means runtime.GOMAXPROCS(0).
	Workers       int           `json:"workers" yaml:"workers" validate:"gte=0,lte=1024"`
	DequeCapacity int           `json:"deque_capacity" yaml:"deque_capacity" validate:"gte=1"`
	Timeout       time.Duration `json:"timeout" yaml:"timeout" validate:"gt=0"`
	Backoff       BackoffConfig `json:"backoff" yaml:"backoff"`
}

// BackoffConfig configures dependency-wait backoff.
type BackoffConfig struct {
	SpinIterations  int           `json:"spin_iterations" yaml:"spin_iterations" validate:"gte=0"`
	YieldIterations int           `json:"yield_iterations" yaml:"yield_iterations" validate:"gte=0"`
	SleepInterval   time.Duration `json:"sleep_interval" yaml:"sleep_interval" validate:"gt=0"`
	MaxSleep        time.Duration `json:"max_sleep" yaml:"max_sleep" validate:"gtefield=SleepInterval"`
}

// FusionConfig configures sensor fusion.
type FusionConfig struct {
	DecisionBand   float64 `json:"decision_band" yaml:"decision_band" validate:"gt=0,lt=1"`
	WideningRatio  float64 `json:"widening_ratio" yaml:"widening_ratio" validate:"gt=0"`
	WideningFactor float64 `json:"widening_factor" yaml:"widening_factor" validate:"gt=1"`
}

// TelemetryConfig configures exporters.
type TelemetryConfig struct {
	ServiceName    string `json:"service_name" yaml:"service_name" validate:"required"`
	Environment    string `json:"environment" yaml:"environment"`
	TraceExporter  string `json:"trace_exporter" yaml:"trace_exporter" validate:"oneof=none otlp jaeger stdout"`
	MetricExporter string `json:"metric_exporter" yaml:"metric_exporter" validate:"oneof=none prometheus stdout"`
	OTLPEndpoint   string `json:"otlp_endpoint" yaml:"otlp_endpoint" validate:"required_if=TraceExporter otlp"`
	OTLPInsecure   bool   `json:"otlp_insecure" yaml:"otlp_insecure"`
}

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level" validate:"oneof=debug info warn error"`
	Format string `json:"format" yaml:"format" validate:"oneof=text json"`

	// Dir enables daily JSON log files. Empty logs to stderr only.
	Dir string `json:"dir" yaml:"dir"`
}

// CheckpointConfig configures the checkpoint store.
type CheckpointConfig struct {
	Path           string        `json:"path" yaml:"path" validate:"required_unless=InMemory true"`
	InMemory       bool          `json:"in_memory" yaml:"in_memory"`
	Name           string        `json:"name" yaml:"name" validate:"required,max=128"`
	SyncWrites     bool          `json:"sync_writes" yaml:"sync_writes"`
	GCInterval     time.Duration `json:"gc_interval" yaml:"gc_interval" validate:"gte=0"`
	GCDiscardRatio float64       `json:"gc_discard_ratio" yaml:"gc_discard_ratio" validate:"gte=0,lte=1"`
}

// ServerConfig configures `kleene serve`.
type ServerConfig struct {
	Addr string `json:"addr" yaml:"addr" validate:"required"`

	// SaveOnShutdown checkpoints an adaptive controller when the server stops.
	SaveOnShutdown bool `json:"save_on_shutdown" yaml:"save_on_shutdown"`
}

// Default returns the built-in configuration.
func Default() Config {
	tc := threshold.DefaultConfig()
	pc := eval.DefaultParallelConfig()
	fc := fusion.DefaultConfig()
	tel := telemetry.DefaultConfig()
	bc := kbadger.DefaultConfig()

	return Config{
		Threshold: ThresholdConfig{
			Initial:           tc.InitialThreshold,
			PriorStrength:     tc.PriorStrength,
			Steepness:         tc.Steepness,
			VarianceThreshold: tc.VarianceThreshold,
			VarianceSteepness: tc.VarianceSteepness,
			Adaptive:          tc.Enabled,
		},
		Parallel: ParallelConfig{
			Workers:       0,
			DequeCapacity: pc.DequeCapacity,
			Timeout:       pc.Timeout,
			Backoff: BackoffConfig{
				SpinIterations:  pc.Backoff.SpinIterations,
				YieldIterations: pc.Backoff.YieldIterations,
				SleepInterval:   pc.Backoff.SleepInterval,
				MaxSleep:        pc.Backoff.MaxSleep,
			},
		},
		Fusion: FusionConfig{
			DecisionBand:   fc.DecisionBand,
			WideningRatio:  fc.WideningRatio,
			WideningFactor: fc.WideningFactor,
		},
		Telemetry: TelemetryConfig{
			ServiceName:    tel.ServiceName,
			Environment:    tel.Environment,
			TraceExporter:  tel.TraceExporter,
			MetricExporter: tel.MetricExporter,
			OTLPEndpoint:   tel.OTLPEndpoint,
			OTLPInsecure:   tel.OTLPInsecure,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Checkpoint: CheckpointConfig{
			Path:           defaultCheckpointPath(),
			Name:           "default",
			SyncWrites:     bc.SyncWrites,
			GCInterval:     bc.GCInterval,
			GCDiscardRatio: bc.GCDiscardRatio,
		},
		Server: ServerConfig{
			Addr:           ":8080",
			SaveOnShutdown: true,
		},
	}
}

func defaultCheckpointPath() string {
	dir, err := os.UserCacheDir()
	if err != nil || dir == "" {
		dir = os.TempDir()
	}
	return dir + string(os.PathSeparator) + "kleene" + string(os.PathSeparator) + "checkpoints"
}

// Load reads configuration with priority env > file > defaults.
//
// Inputs:
//   - path: YAML or JSON file. Empty, or a file that does not exist,
//     leaves the defaults in place.
//
// Outputs:
//   - Config: Merged configuration.
//   - error: Non-nil if the file is unreadable or the result is invalid.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if info.Size() > MaxConfigFileSize {
		return fmt.Errorf("%s is %d bytes, limit %d", path, info.Size(), MaxConfigFileSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return Parse(data, cfg)
}

// Parse decodes data over cfg, trying YAML first and then JSON.
func Parse(data []byte, cfg *Config) error {
	if err := yaml.Unmarshal(data, cfg); err != nil {
		if jsonErr := json.Unmarshal(data, cfg); jsonErr != nil {
			return fmt.Errorf("parse config (tried YAML and JSON): YAML error: %v, JSON error: %w", err, jsonErr)
		}
	}
	return nil
}

func applyEnv(cfg *Config) {
	envFloat("KLEENE_THRESHOLD", &cfg.Threshold.Initial)
	envBool("KLEENE_ADAPTIVE", &cfg.Threshold.Adaptive)
	envFloat("KLEENE_VARIANCE_THRESHOLD", &cfg.Threshold.VarianceThreshold)

	envInt("KLEENE_WORKERS", &cfg.Parallel.Workers)
	envInt("KLEENE_DEQUE_CAPACITY", &cfg.Parallel.DequeCapacity)
	envDuration("KLEENE_TIMEOUT", &cfg.Parallel.Timeout)

	envFloat("KLEENE_DECISION_BAND", &cfg.Fusion.DecisionBand)

	envString("KLEENE_TRACE_EXPORTER", &cfg.Telemetry.TraceExporter)
	envString("KLEENE_METRIC_EXPORTER", &cfg.Telemetry.MetricExporter)
	envString("KLEENE_OTLP_ENDPOINT", &cfg.Telemetry.OTLPEndpoint)
	envString("KLEENE_ENV", &cfg.Telemetry.Environment)

	envString("KLEENE_LOG_LEVEL", &cfg.Logging.Level)
	envString("KLEENE_LOG_FORMAT", &cfg.Logging.Format)
	envString("KLEENE_LOG_DIR", &cfg.Logging.Dir)

	envString("KLEENE_CHECKPOINT_PATH", &cfg.Checkpoint.Path)
	envString("KLEENE_CHECKPOINT_NAME", &cfg.Checkpoint.Name)
	envBool("KLEENE_CHECKPOINT_IN_MEMORY", &cfg.Checkpoint.InMemory)

	envString("KLEENE_SERVER_ADDR", &cfg.Server.Addr)
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			*dst = i
		}
	}
}

func envFloat(key string, dst *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

// Validate checks struct tags, then each converted package config.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := c.ToControllerConfig().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := c.ToParallelConfig().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := c.ToFusionConfig().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// ToControllerConfig converts the threshold section.
func (c Config) ToControllerConfig() threshold.Config {
	return threshold.Config{
		InitialThreshold:  c.Threshold.Initial,
		PriorStrength:     c.Threshold.PriorStrength,
		Steepness:         c.Threshold.Steepness,
		VarianceThreshold: c.Threshold.VarianceThreshold,
		VarianceSteepness: c.Threshold.VarianceSteepness,
		Enabled:           true,
	}
}

// NewController builds an Adaptive controller when the threshold section
// asks for adaptation and a Static one otherwise.
func (c Config) NewController() (fusion.Controller, error) {
	if c.Threshold.Adaptive {
		a, err := threshold.NewAdaptive(c.ToControllerConfig())
		if err != nil {
			return nil, err
		}
		return a, nil
	}
	s, err := threshold.NewStatic(c.ToControllerConfig())
	if err != nil {
		return nil, err
	}
	return s, nil
}

// ToBackoffPolicy converts the backoff subsection.
func (c Config) ToBackoffPolicy() backoff.Policy {
	b := c.Parallel.Backoff
	return backoff.Policy{
		SpinIterations:  b.SpinIterations,
		YieldIterations: b.YieldIterations,
		SleepInterval:   b.SleepInterval,
		MaxSleep:        b.MaxSleep,
	}
}

// ToParallelConfig converts the parallel section, resolving Workers 0.
func (c Config) ToParallelConfig() eval.ParallelConfig {
	workers := c.Parallel.Workers
	if workers == 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return eval.ParallelConfig{
		Workers:       workers,
		DequeCapacity: c.Parallel.DequeCapacity,
		Timeout:       c.Parallel.Timeout,
		Backoff:       c.ToBackoffPolicy(),
	}
}

// ToFusionConfig converts the fusion section.
func (c Config) ToFusionConfig() fusion.Config {
	return fusion.Config{
		DecisionBand:   c.Fusion.DecisionBand,
		WideningRatio:  c.Fusion.WideningRatio,
		WideningFactor: c.Fusion.WideningFactor,
	}
}

// ToTelemetryConfig converts the telemetry section.
func (c Config) ToTelemetryConfig() telemetry.Config {
	return telemetry.Config{
		ServiceName:    c.Telemetry.ServiceName,
		ServiceVersion: telemetry.DefaultConfig().ServiceVersion,
		Environment:    c.Telemetry.Environment,
		TraceExporter:  c.Telemetry.TraceExporter,
		MetricExporter: c.Telemetry.MetricExporter,
		OTLPEndpoint:   c.Telemetry.OTLPEndpoint,
		OTLPInsecure:   c.Telemetry.OTLPInsecure,
	}
}

// ToBadgerConfig converts the checkpoint section's storage settings.
func (c Config) ToBadgerConfig() kbadger.Config {
	return kbadger.Config{
		Path:              c.Checkpoint.Path,
		InMemory:          c.Checkpoint.InMemory,
		SyncWrites:        c.Checkpoint.SyncWrites,
		NumVersionsToKeep: 1,
		GCInterval:        c.Checkpoint.GCInterval,
		GCDiscardRatio:    c.Checkpoint.GCDiscardRatio,
	}
}
