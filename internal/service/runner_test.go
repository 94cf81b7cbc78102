package service_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Strob0t/forgesprint/internal/domain"
	"github.com/Strob0t/forgesprint/internal/domain/sprint"
	"github.com/Strob0t/forgesprint/internal/port/agentchannel"
	"github.com/Strob0t/forgesprint/internal/service"
)

func newRunner(t *testing.T, f *fixture, maxParallel int) *service.Runner {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return service.NewRunner(f.orch, maxParallel, log)
}

func waitForPhase(t *testing.T, f *fixture, id int64, want sprint.Phase) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		s, err := f.orch.GetSprint(context.Background(), id)
		if err != nil {
			t.Fatal(err)
		}
		if s.Phase == want {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	s, _ := f.orch.GetSprint(context.Background(), id)
	t.Fatalf("sprint %d never reached %s, stuck in %s", id, want, s.Phase)
}

func TestRunnerRunsSprintToDone(t *testing.T) {
	f := newFixture(t, nil)
	s := createTestSprint(t, f)
	r := newRunner(t, f, 2)

	if err := r.Enqueue(context.Background(), s.ID); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	waitForPhase(t, f, s.ID, sprint.PhaseDone)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if r.Running(s.ID) {
		t.Fatal("sprint still marked running after completion")
	}
}

func TestRunnerRejectsDuplicateEnqueue(t *testing.T) {
	f := newFixture(t, nil)
	// Stall the channel so the first run stays in flight.
	release := make(chan struct{})
	f.channel.behavior = func(req *agentchannel.Request) error {
		<-release
		return nil
	}
	s := createTestSprint(t, f)
	r := newRunner(t, f, 2)

	if err := r.Enqueue(context.Background(), s.ID); err != nil {
		t.Fatal(err)
	}
	err := r.Enqueue(context.Background(), s.ID)
	if !errors.Is(err, domain.ErrWorkspaceExists) {
		t.Fatalf("expected ErrWorkspaceExists, got %v", err)
	}

	close(release)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
}

func TestRunnerSurvivesCallerContextCancel(t *testing.T) {
	f := newFixture(t, nil)
	s := createTestSprint(t, f)
	r := newRunner(t, f, 1)

	// The request context is cancelled immediately; the run must finish
	// anyway since it is detached from the caller.
	ctx, cancel := context.WithCancel(context.Background())
	if err := r.Enqueue(ctx, s.ID); err != nil {
		t.Fatal(err)
	}
	cancel()

	waitForPhase(t, f, s.ID, sprint.PhaseDone)
	sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer scancel()
	if err := r.Shutdown(sctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
}

func TestResumeSkipsPendingSprints(t *testing.T) {
	f := newFixture(t, nil)
	// The resumed sprint starts past write_unit_tests, so the coverage
	// artifact has to come from a later invocation.
	f.channel.behavior = func(req *agentchannel.Request) error {
		content := "package core\n\n// covers:T-1\n"
		return os.WriteFile(filepath.Join(req.WorkspaceRoot, "core_test.go"), []byte(content), 0o644)
	}
	pending := createTestSprint(t, f)

	// A sprint that was mid-pipeline when the process stopped.
	interrupted := createTestSprint(t, f)
	interrupted.Phase = sprint.PhaseWriteCode
	if err := f.store.UpdateSprint(context.Background(), interrupted); err != nil {
		t.Fatal(err)
	}

	r := newRunner(t, f, 2)
	if err := r.Resume(context.Background()); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if r.Running(pending.ID) {
		t.Fatal("pending sprint must not be resumed")
	}

	waitForPhase(t, f, interrupted.ID, sprint.PhaseDone)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	got, _ := f.orch.GetSprint(context.Background(), pending.ID)
	if got.Phase != sprint.PhasePending {
		t.Fatalf("pending sprint moved to %s", got.Phase)
	}
}
