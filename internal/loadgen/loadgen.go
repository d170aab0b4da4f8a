// Copyright 2025 The Pipebench Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package loadgen generates a randomized workload against the pipe service:
// an endless sequence of uniformly drawn collect, read-value and
// apply-modifier operations against uniformly drawn pipes.
package loadgen

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"
)

// Backend is the operation surface of the pipe service as the worker sees
// it. *Client implements it; tests substitute scripted fakes.
type Backend interface {
	Collect(ctx context.Context, pipe int) (int64, error)
	Value(ctx context.Context, pipe int) (int64, error)
	ApplyModifier(ctx context.Context, pipe int, modifier string) error
}

// Config bounds and paces the worker loop. The zero value reproduces the
// classic behavior: no pacing, run until killed.
type Config struct {
	// Interval is the wait between consecutive operations.
	Interval time.Duration
	// MaxOperations stops the loop after that many operations; 0 is unbounded.
	MaxOperations uint64
}

// Worker draws and runs one operation at a time, strictly sequentially.
type Worker struct {
	logger  *slog.Logger
	backend Backend
	rng     *rand.Rand
	cfg     Config
}

// NewWorker builds a worker. The rng is the single source of randomness for
// operation, pipe and modifier draws; seed it for reproducible workloads.
func NewWorker(logger *slog.Logger, backend Backend, rng *rand.Rand, cfg Config) *Worker {
	return &Worker{
		logger:  logger,
		backend: backend,
		rng:     rng,
		cfg:     cfg,
	}
}

// Run loops until the context is cancelled, the operation bound is reached,
// or an operation fails fatally. Expected modifier rejections (422) are
// logged and do not stop the loop; everything else does. Cancellation is a
// clean stop, not an error.
func (w *Worker) Run(ctx context.Context) error {
	for n := uint64(0); w.cfg.MaxOperations == 0 || n < w.cfg.MaxOperations; n++ {
		if ctx.Err() != nil {
			return nil
		}
		if err := w.step(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		if w.cfg.Interval > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(w.cfg.Interval):
			}
		}
	}
	return nil
}

func (w *Worker) step(ctx context.Context) error {
	pipe := 1 + w.rng.Intn(Pipes)
	switch w.rng.Intn(3) {
	case 0:
		return w.collect(ctx, pipe)
	case 1:
		return w.readValue(ctx, pipe)
	default:
		return w.applyModifier(ctx, pipe, Modifiers[w.rng.Intn(len(Modifiers))])
	}
}

func (w *Worker) collect(ctx context.Context, pipe int) error {
	start := time.Now()
	value, err := w.backend.Collect(ctx, pipe)
	operationDuration.WithLabelValues("collect").Observe(time.Since(start).Seconds())
	if err != nil {
		operationsTotal.WithLabelValues("collect", "error").Inc()
		return err
	}
	operationsTotal.WithLabelValues("collect", "ok").Inc()
	w.logger.Info("collected pipe", "pipe", pipe, "value", value)
	return nil
}

func (w *Worker) readValue(ctx context.Context, pipe int) error {
	start := time.Now()
	value, err := w.backend.Value(ctx, pipe)
	operationDuration.WithLabelValues("value").Observe(time.Since(start).Seconds())
	if err != nil {
		operationsTotal.WithLabelValues("value", "error").Inc()
		return err
	}
	operationsTotal.WithLabelValues("value", "ok").Inc()
	w.logger.Info("pipe value", "pipe", pipe, "value", value)
	return nil
}

func (w *Worker) applyModifier(ctx context.Context, pipe int, modifier string) error {
	start := time.Now()
	err := w.backend.ApplyModifier(ctx, pipe, modifier)
	operationDuration.WithLabelValues("modifier").Observe(time.Since(start).Seconds())
	switch {
	case err == nil:
		operationsTotal.WithLabelValues("modifier", "ok").Inc()
		w.logger.Info("applied modifier", "modifier", modifier, "pipe", pipe)
		return nil
	case errors.Is(err, ErrModifierRejected):
		operationsTotal.WithLabelValues("modifier", "rejected").Inc()
		w.logger.Warn("failed to apply modifier", "modifier", modifier, "pipe", pipe)
		return nil
	default:
		operationsTotal.WithLabelValues("modifier", "error").Inc()
		return err
	}
}
