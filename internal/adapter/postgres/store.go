package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/forgesprint/internal/domain"
	"github.com/Strob0t/forgesprint/internal/domain/sprint"
)

// Store implements database.Store using PostgreSQL. Tasks are stored as a
// jsonb document: they are immutable input, never queried by field.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const sprintColumns = `id, goal, phase, total_effort, estimated_effort, tasks,
	retry_count, blocked_count, blocked_reason, version, started_at, updated_at`

func (s *Store) CreateSprint(ctx context.Context, req sprint.CreateRequest) (*sprint.Sprint, error) {
	tasks, err := json.Marshal(orEmpty(req.Tasks))
	if err != nil {
		return nil, fmt.Errorf("create sprint: marshal tasks: %w", err)
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO sprints (goal, phase, total_effort, estimated_effort, tasks)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+sprintColumns,
		req.Goal, string(sprint.PhasePending), req.TotalEffort, req.EstimatedEffort, tasks)

	sp, err := scanSprint(row)
	if err != nil {
		return nil, fmt.Errorf("create sprint: %w", err)
	}
	return sp, nil
}

func (s *Store) GetSprint(ctx context.Context, id int64) (*sprint.Sprint, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+sprintColumns+` FROM sprints WHERE id = $1`, id)

	sp, err := scanSprint(row)
	if err != nil {
		return nil, notFoundWrap(err, "get sprint %d", id)
	}
	return sp, nil
}

func (s *Store) ListSprints(ctx context.Context) ([]sprint.Sprint, error) {
	return s.list(ctx, `SELECT `+sprintColumns+` FROM sprints ORDER BY id`)
}

func (s *Store) ListActiveSprints(ctx context.Context) ([]sprint.Sprint, error) {
	return s.list(ctx,
		`SELECT `+sprintColumns+` FROM sprints WHERE phase NOT IN ($1, $2) ORDER BY id`,
		string(sprint.PhaseDone), string(sprint.PhaseBlocked))
}

func (s *Store) list(ctx context.Context, query string, args ...any) ([]sprint.Sprint, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sprints: %w", err)
	}
	defer rows.Close()

	var sprints []sprint.Sprint
	for rows.Next() {
		sp, err := scanSprint(rows)
		if err != nil {
			return nil, fmt.Errorf("list sprints: %w", err)
		}
		sprints = append(sprints, *sp)
	}
	return sprints, rows.Err()
}

// UpdateSprint persists the mutable sprint fields under optimistic
// locking. The in-memory version is bumped only after the row moved.
func (s *Store) UpdateSprint(ctx context.Context, sp *sprint.Sprint) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sprints SET phase = $2, retry_count = $3, blocked_count = $4,
		        blocked_reason = $5, version = version + 1, updated_at = now()
		 WHERE id = $1 AND version = $6`,
		sp.ID, string(sp.Phase), sp.RetryCount, sp.BlockedCount, sp.BlockedReason, sp.Version)
	if err != nil {
		return fmt.Errorf("update sprint %d: %w", sp.ID, err)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := s.GetSprint(ctx, sp.ID); errors.Is(getErr, domain.ErrNotFound) {
			return fmt.Errorf("update sprint %d: %w", sp.ID, domain.ErrNotFound)
		}
		return fmt.Errorf("update sprint %d: %w", sp.ID, domain.ErrConflict)
	}
	sp.Version++
	return nil
}

// scannable abstracts pgx.Row and pgx.Rows for shared scan helpers.
type scannable interface {
	Scan(dest ...any) error
}

func scanSprint(row scannable) (*sprint.Sprint, error) {
	var (
		sp    sprint.Sprint
		phase string
		tasks []byte
	)
	if err := row.Scan(
		&sp.ID, &sp.Goal, &phase, &sp.TotalEffort, &sp.EstimatedEffort, &tasks,
		&sp.RetryCount, &sp.BlockedCount, &sp.BlockedReason, &sp.Version,
		&sp.StartedAt, &sp.UpdatedAt,
	); err != nil {
		return nil, err
	}
	sp.Phase = sprint.Phase(phase)
	if err := json.Unmarshal(tasks, &sp.Tasks); err != nil {
		return nil, fmt.Errorf("unmarshal tasks: %w", err)
	}
	return &sp, nil
}

// orEmpty ensures JSON serialization produces [] instead of null.
func orEmpty[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

// notFoundWrap checks whether err is pgx.ErrNoRows and, if so, wraps
// domain.ErrNotFound with the given message. Otherwise it wraps the
// original error.
func notFoundWrap(err error, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", msg, domain.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", msg, err)
}
