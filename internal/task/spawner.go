// Package task provides the detached background execution primitive used by
// the webhook ingestor: spawn a unit of work, log its failure, never retry.
package task

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// Spawner schedules a named unit of work. Implementations decide whether it
// runs detached (production) or inline (tests).
type Spawner interface {
	Spawn(name string, fn func(ctx context.Context) error)
}

// Detached runs work on its own goroutine, fire-and-forget: no handle, no
// cancellation, no retry. Errors and panics are logged and discarded.
type Detached struct {
	base   context.Context
	logger *slog.Logger
}

// NewDetached binds spawned work to base instead of the (already finished)
// request context of the caller.
func NewDetached(base context.Context, logger *slog.Logger) *Detached {
	if base == nil {
		base = context.Background()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Detached{base: base, logger: logger}
}

func (d *Detached) Spawn(name string, fn func(ctx context.Context) error) {
	id := uuid.NewString()[:8]
	d.logger.Debug("background task spawned", "task", name, "id", id)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("background task panicked", "task", name, "id", id, "panic", r)
			}
		}()
		if err := fn(d.base); err != nil {
			d.logger.Error("background task failed", "task", name, "id", id, "err", err)
		}
	}()
}

// Sync runs the work inline on the calling goroutine. Deterministic variant
// for tests.
type Sync struct {
	Logger *slog.Logger
}

func (s *Sync) Spawn(name string, fn func(ctx context.Context) error) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if err := fn(context.Background()); err != nil {
		logger.Error("task failed", "task", name, "err", err)
	}
}
