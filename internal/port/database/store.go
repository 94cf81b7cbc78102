// Package database defines the sprint store port (interface).
package database

import (
	"context"

	"github.com/Strob0t/forgesprint/internal/domain/sprint"
)

// Store is the port interface for durable sprint state. The orchestrator is
// the only writer; a phase transition is not considered complete until the
// corresponding Update returned without error.
type Store interface {
	CreateSprint(ctx context.Context, req sprint.CreateRequest) (*sprint.Sprint, error)
	GetSprint(ctx context.Context, id int64) (*sprint.Sprint, error)
	ListSprints(ctx context.Context) ([]sprint.Sprint, error)

	// ListActiveSprints returns sprints whose phase is neither DONE nor
	// BLOCKED, in id order. Used by crash-resume at startup.
	ListActiveSprints(ctx context.Context) ([]sprint.Sprint, error)

	// UpdateSprint persists phase, retry counter, blocked bookkeeping and
	// timestamps under optimistic locking; returns domain.ErrConflict when
	// the stored version moved.
	UpdateSprint(ctx context.Context, s *sprint.Sprint) error
}
