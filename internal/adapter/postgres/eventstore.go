package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/forgesprint/internal/domain/event"
)

// EventStore persists the sprint trajectory (append-only).
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates a new EventStore backed by the given connection pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

// Append inserts a new event into the sprint_events table.
func (s *EventStore) Append(ctx context.Context, ev *event.SprintEvent) error {
	payload := ev.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sprint_events (id, sprint_id, type, payload) VALUES ($1, $2, $3, $4)`,
		ev.ID, ev.SprintID, string(ev.Type), []byte(payload))
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// LoadBySprint returns the full trajectory for one sprint, oldest first.
func (s *EventStore) LoadBySprint(ctx context.Context, sprintID int64) ([]event.SprintEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, sprint_id, type, payload, created_at
		 FROM sprint_events WHERE sprint_id = $1 ORDER BY created_at ASC`, sprintID)
	if err != nil {
		return nil, fmt.Errorf("load events for sprint %d: %w", sprintID, err)
	}
	defer rows.Close()

	var events []event.SprintEvent
	for rows.Next() {
		var (
			ev      event.SprintEvent
			typ     string
			payload []byte
		)
		if err := rows.Scan(&ev.ID, &ev.SprintID, &typ, &payload, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Type = event.Type(typ)
		ev.Payload = payload
		events = append(events, ev)
	}
	return events, rows.Err()
}
