// Package eventstore defines the port for the durable sprint trajectory.
package eventstore

import (
	"context"

	"github.com/Strob0t/forgesprint/internal/domain/event"
)

// Store persists sprint events (append-only).
type Store interface {
	Append(ctx context.Context, ev *event.SprintEvent) error
	LoadBySprint(ctx context.Context, sprintID int64) ([]event.SprintEvent, error)
}

// Nop discards appends and loads nothing. Used when no database is
// configured.
type Nop struct{}

func (Nop) Append(context.Context, *event.SprintEvent) error { return nil }
func (Nop) LoadBySprint(context.Context, int64) ([]event.SprintEvent, error) {
	return nil, nil
}
