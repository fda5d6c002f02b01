// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package checkpoint persists adaptive threshold controller state in
// BadgerDB so adaptation history survives restarts.
//
// Each checkpoint is stored under "checkpoint/<name>" as JSON carrying a
// format version and a SHA-256 checksum over everything but the checksum.
// Load rejects records whose version or checksum does not match.
package checkpoint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	kbadger "github.com/AleutianAI/kleene/services/kleene/storage/badger"
	"github.com/AleutianAI/kleene/services/kleene/telemetry"
	"github.com/AleutianAI/kleene/services/kleene/threshold"
)

// Version is the current on-disk format version.
const Version = "1.0.0"

const keyPrefix = "checkpoint/"

var tracer = otel.Tracer("kleene.checkpoint")

// validName allows alphanumerics, underscore, hyphen and dot.
var validName = regexp.MustCompile(`^[a-zA-Z0-9_.-]{1,128}$`)

// Sentinel errors for the checkpoint package.
var (
	// ErrNotFound is returned when no checkpoint has the requested name.
	ErrNotFound = errors.New("checkpoint not found")

	// ErrCheckpointCorrupt is returned when a record fails to decode,
	// fails its checksum, or holds an invalid controller state.
	ErrCheckpointCorrupt = errors.New("checkpoint corrupt")

	// ErrVersionMismatch is returned for records written by another format version.
	ErrVersionMismatch = errors.New("checkpoint version mismatch")

	// ErrInvalidName is returned for empty or malformed names.
	ErrInvalidName = errors.New("invalid checkpoint name")

	// ErrNilDB is returned when NewStore is given no database.
	ErrNilDB = errors.New("checkpoint store requires a database")
)

// Checkpoint is one saved controller state.
type Checkpoint struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Version   string          `json:"version"`
	CreatedAt time.Time       `json:"created_at"`
	State     threshold.State `json:"state"`
	Checksum  string          `json:"checksum"`
}

// Verify reports whether the checksum matches the contents.
func (c Checkpoint) Verify() bool {
	sum, err := c.checksum()
	return err == nil && sum == c.Checksum
}

func (c Checkpoint) checksum() (string, error) {
	data, err := json.Marshal(struct {
		ID        string          `json:"id"`
		Name      string          `json:"name"`
		Version   string          `json:"version"`
		CreatedAt time.Time       `json:"created_at"`
		State     threshold.State `json:"state"`
	}{c.ID, c.Name, c.Version, c.CreatedAt, c.State})
	if err != nil {
		return "", fmt.Errorf("marshal for checksum: %w", err)
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}

// Store saves and loads checkpoints.
//
// Thread Safety: Safe for concurrent use.
type Store struct {
	db     *kbadger.DB
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger.With(slog.String("component", "checkpoint"))
		}
	}
}

// NewStore wraps an open database. The caller keeps ownership of db.
func NewStore(db *kbadger.DB, opts ...Option) (*Store, error) {
	if db == nil {
		return nil, ErrNilDB
	}
	s := &Store{
		db:     db,
		logger: slog.Default().With(slog.String("component", "checkpoint")),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func key(name string) []byte { return []byte(keyPrefix + name) }

func checkName(name string) error {
	if !validName.MatchString(name) {
		return fmt.Errorf("%w: %q must match %s", ErrInvalidName, name, validName.String())
	}
	return nil
}

// Save stores state under name, replacing any earlier checkpoint of that name.
//
// Inputs:
//
//	ctx - Context for cancellation and tracing.
//	name - Checkpoint name, [a-zA-Z0-9_.-]{1,128}.
//	state - Controller state. Must pass State.Validate.
//
// Outputs:
//
//	Checkpoint - The record as written, with a fresh ID and checksum.
//	error - ErrInvalidName, threshold.ErrInvalidState, or a storage failure.
func (s *Store) Save(ctx context.Context, name string, state threshold.State) (Checkpoint, error) {
	ctx, span := tracer.Start(ctx, "checkpoint.Save",
		trace.WithAttributes(attribute.String("checkpoint.name", name)))
	defer span.End()

	if err := checkName(name); err != nil {
		return Checkpoint{}, fail(span, err)
	}
	if err := state.Validate(); err != nil {
		return Checkpoint{}, fail(span, err)
	}

	cp := Checkpoint{
		ID:        uuid.NewString(),
		Name:      name,
		Version:   Version,
		CreatedAt: s.now(),
		State:     state,
	}
	sum, err := cp.checksum()
	if err != nil {
		return Checkpoint{}, fail(span, err)
	}
	cp.Checksum = sum

	data, err := json.Marshal(cp)
	if err != nil {
		return Checkpoint{}, fail(span, fmt.Errorf("marshal checkpoint: %w", err))
	}
	if err := s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return txn.Set(key(name), data)
	}); err != nil {
		return Checkpoint{}, fail(span, fmt.Errorf("write checkpoint %s: %w", name, err))
	}

	span.SetAttributes(attribute.String("checkpoint.id", cp.ID))
	span.SetStatus(codes.Ok, "")
	telemetry.LoggerWithTrace(ctx, s.logger).Info("checkpoint saved",
		slog.String("name", name),
		slog.String("id", cp.ID),
		slog.Float64("threshold", state.Threshold),
		slog.Uint64("updates", state.Updates),
	)
	return cp, nil
}

// Load reads and verifies the checkpoint stored under name.
//
// Outputs:
//
//	Checkpoint - The verified record.
//	error - ErrNotFound, ErrVersionMismatch, ErrCheckpointCorrupt,
//	ErrInvalidName, or a storage failure.
func (s *Store) Load(ctx context.Context, name string) (Checkpoint, error) {
	ctx, span := tracer.Start(ctx, "checkpoint.Load",
		trace.WithAttributes(attribute.String("checkpoint.name", name)))
	defer span.End()

	if err := checkName(name); err != nil {
		return Checkpoint{}, fail(span, err)
	}

	var data []byte
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(key(name))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Checkpoint{}, fail(span, fmt.Errorf("%w: %s", ErrNotFound, name))
	}
	if err != nil {
		return Checkpoint{}, fail(span, fmt.Errorf("read checkpoint %s: %w", name, err))
	}

	cp, err := decode(data)
	if err != nil {
		telemetry.LoggerWithTrace(ctx, s.logger).Warn("checkpoint rejected",
			slog.String("name", name),
			slog.String("error", err.Error()),
		)
		return Checkpoint{}, fail(span, err)
	}
	span.SetStatus(codes.Ok, "")
	return cp, nil
}

func decode(data []byte) (Checkpoint, error) {
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return Checkpoint{}, fmt.Errorf("%w: %v", ErrCheckpointCorrupt, err)
	}
	if cp.Version != Version {
		return Checkpoint{}, fmt.Errorf("%w: got %q, want %q", ErrVersionMismatch, cp.Version, Version)
	}
	if !cp.Verify() {
		return Checkpoint{}, fmt.Errorf("%w: checksum mismatch", ErrCheckpointCorrupt)
	}
	if err := cp.State.Validate(); err != nil {
		return Checkpoint{}, fmt.Errorf("%w: %w", ErrCheckpointCorrupt, err)
	}
	return cp, nil
}

// List returns every checkpoint sorted by name. Records that fail
// verification are skipped and logged.
func (s *Store) List(ctx context.Context) ([]Checkpoint, error) {
	ctx, span := tracer.Start(ctx, "checkpoint.List")
	defer span.End()

	var out []Checkpoint
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			data, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			cp, err := decode(data)
			if err != nil {
				s.logger.Warn("skipping unreadable checkpoint",
					slog.String("key", string(item.Key())),
					slog.String("error", err.Error()),
				)
				continue
			}
			out = append(out, cp)
		}
		return nil
	})
	if err != nil {
		return nil, fail(span, fmt.Errorf("list checkpoints: %w", err))
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	span.SetAttributes(attribute.Int("checkpoint.count", len(out)))
	span.SetStatus(codes.Ok, "")
	return out, nil
}

// Delete removes the checkpoint stored under name.
//
// Outputs:
//
//	error - ErrNotFound when nothing is stored under name.
func (s *Store) Delete(ctx context.Context, name string) error {
	ctx, span := tracer.Start(ctx, "checkpoint.Delete",
		trace.WithAttributes(attribute.String("checkpoint.name", name)))
	defer span.End()

	if err := checkName(name); err != nil {
		return fail(span, err)
	}
	err := s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		if _, err := txn.Get(key(name)); err != nil {
			return err
		}
		return txn.Delete(key(name))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fail(span, fmt.Errorf("%w: %s", ErrNotFound, name))
	}
	if err != nil {
		return fail(span, fmt.Errorf("delete checkpoint %s: %w", name, err))
	}

	span.SetStatus(codes.Ok, "")
	s.logger.Info("checkpoint deleted", slog.String("name", name))
	return nil
}

// SaveController checkpoints ctrl under name.
func (s *Store) SaveController(ctx context.Context, name string, ctrl *threshold.Adaptive) (Checkpoint, error) {
	return s.Save(ctx, name, ctrl.State())
}

// RestoreController loads name into ctrl. ctrl is unchanged on error.
func (s *Store) RestoreController(ctx context.Context, name string, ctrl *threshold.Adaptive) (Checkpoint, error) {
	cp, err := s.Load(ctx, name)
	if err != nil {
		return Checkpoint{}, err
	}
	if err := ctrl.Restore(cp.State); err != nil {
		return Checkpoint{}, fmt.Errorf("restore %s: %w", name, err)
	}
	return cp, nil
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
