package postgres_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/forgesprint/internal/adapter/postgres"
	"github.com/Strob0t/forgesprint/internal/config"
	"github.com/Strob0t/forgesprint/internal/domain"
	"github.com/Strob0t/forgesprint/internal/domain/event"
	"github.com/Strob0t/forgesprint/internal/domain/sprint"
)

// setupStore runs migrations and returns a ready Store, or skips the test
// when DATABASE_URL is not set.
func setupStore(t *testing.T) (*postgres.Store, *postgres.EventStore) {
	t.Helper()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("requires DATABASE_URL")
	}

	ctx := context.Background()
	if err := postgres.RunMigrations(ctx, dsn); err != nil {
		t.Fatalf("run migrations: %v", err)
	}

	pool, err := postgres.NewPool(ctx, config.Postgres{
		DSN:             dsn,
		MaxConns:        4,
		MinConns:        1,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 10 * time.Minute,
		HealthCheck:     time.Minute,
	})
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	t.Cleanup(pool.Close)

	return postgres.NewStore(pool), postgres.NewEventStore(pool)
}

func createSprint(t *testing.T, store *postgres.Store) *sprint.Sprint {
	t.Helper()
	s, err := store.CreateSprint(context.Background(), sprint.CreateRequest{
		Goal: "integration test sprint",
		Tasks: []sprint.Task{
			{ID: "T-1", Title: "thing", Priority: sprint.PriorityHigh,
				Testing: sprint.TestingRequirements{Unit: true}},
		},
	})
	if err != nil {
		t.Fatalf("CreateSprint: %v", err)
	}
	return s
}

func TestCreateAndGetSprint(t *testing.T) {
	store, _ := setupStore(t)
	s := createSprint(t, store)

	if s.ID == 0 || s.Phase != sprint.PhasePending || s.Version != 1 {
		t.Fatalf("created = %+v", s)
	}

	got, err := store.GetSprint(context.Background(), s.ID)
	if err != nil {
		t.Fatalf("GetSprint: %v", err)
	}
	if got.Goal != s.Goal || len(got.Tasks) != 1 || got.Tasks[0].ID != "T-1" {
		t.Fatalf("got = %+v", got)
	}
	if !got.Tasks[0].Testing.Unit {
		t.Fatal("task testing requirements lost on round trip")
	}
}

func TestGetSprintNotFound(t *testing.T) {
	store, _ := setupStore(t)
	_, err := store.GetSprint(context.Background(), int64(1)<<60)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateSprintOptimisticLocking(t *testing.T) {
	store, _ := setupStore(t)
	s := createSprint(t, store)

	s.Phase = sprint.PhaseWriteUnitTest
	if err := store.UpdateSprint(context.Background(), s); err != nil {
		t.Fatalf("UpdateSprint: %v", err)
	}
	if s.Version != 2 {
		t.Fatalf("version = %d, want 2", s.Version)
	}

	// A writer holding the old version must lose.
	stale := *s
	stale.Version = 1
	stale.Phase = sprint.PhaseWriteCode
	err := store.UpdateSprint(context.Background(), &stale)
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	got, err := store.GetSprint(context.Background(), s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Phase != sprint.PhaseWriteUnitTest {
		t.Fatalf("stale write landed: phase = %s", got.Phase)
	}
}

func TestUpdateSprintNotFound(t *testing.T) {
	store, _ := setupStore(t)
	ghost := &sprint.Sprint{ID: int64(1) << 60, Phase: sprint.PhasePending, Version: 1}
	err := store.UpdateSprint(context.Background(), ghost)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListActiveSprintsExcludesTerminal(t *testing.T) {
	store, _ := setupStore(t)
	active := createSprint(t, store)
	finished := createSprint(t, store)

	finished.Phase = sprint.PhaseDone
	if err := store.UpdateSprint(context.Background(), finished); err != nil {
		t.Fatal(err)
	}

	list, err := store.ListActiveSprints(context.Background())
	if err != nil {
		t.Fatalf("ListActiveSprints: %v", err)
	}
	ids := make(map[int64]bool, len(list))
	for _, s := range list {
		ids[s.ID] = true
	}
	if !ids[active.ID] {
		t.Error("active sprint missing from list")
	}
	if ids[finished.ID] {
		t.Error("done sprint must not be listed as active")
	}
}

func TestEventStoreAppendAndLoad(t *testing.T) {
	store, events := setupStore(t)
	s := createSprint(t, store)

	ctx := context.Background()
	for _, typ := range []event.Type{event.TypeSprintCreated, event.TypePhaseAdvanced} {
		ev := &event.SprintEvent{
			ID:        uuid.NewString(),
			SprintID:  s.ID,
			Type:      typ,
			Payload:   []byte(`{"from":"pending"}`),
			CreatedAt: time.Now().UTC(),
		}
		if err := events.Append(ctx, ev); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got, err := events.LoadBySprint(ctx, s.ID)
	if err != nil {
		t.Fatalf("LoadBySprint: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Type != event.TypeSprintCreated || got[1].Type != event.TypePhaseAdvanced {
		t.Fatalf("order = %s, %s", got[0].Type, got[1].Type)
	}
}
