package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/Strob0t/forgesprint/internal/domain"
	"github.com/Strob0t/forgesprint/internal/domain/sprint"
)

// Runner executes sprint runs on a bounded worker pool. At most
// maxParallel sprints run concurrently and a given sprint is never run
// twice at the same time.
type Runner struct {
	orch *Orchestrator
	sem  *semaphore.Weighted
	log  *slog.Logger

	mu      sync.Mutex
	running map[int64]struct{}
	wg      sync.WaitGroup
}

// NewRunner creates a runner with the given parallelism bound.
func NewRunner(orch *Orchestrator, maxParallel int, log *slog.Logger) *Runner {
	if maxParallel < 1 {
		maxParallel = 1
	}
	return &Runner{
		orch:    orch,
		sem:     semaphore.NewWeighted(int64(maxParallel)),
		log:     log.With("component", "runner"),
		running: make(map[int64]struct{}),
	}
}

// Enqueue schedules one sprint run. The run outlives the caller's request
// context; only the runner's shutdown stops it. Enqueueing a sprint that
// is already running or queued fails with ErrWorkspaceExists.
func (r *Runner) Enqueue(ctx context.Context, sprintID int64) error {
	r.mu.Lock()
	if _, dup := r.running[sprintID]; dup {
		r.mu.Unlock()
		return fmt.Errorf("sprint %d is already running: %w", sprintID, domain.ErrWorkspaceExists)
	}
	r.running[sprintID] = struct{}{}
	r.mu.Unlock()

	runCtx := context.WithoutCancel(ctx)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			r.mu.Lock()
			delete(r.running, sprintID)
			r.mu.Unlock()
		}()

		if err := r.sem.Acquire(runCtx, 1); err != nil {
			r.log.Error("acquire run slot", "sprint_id", sprintID, "error", err)
			return
		}
		defer r.sem.Release(1)

		if err := r.orch.RunSprint(runCtx, sprintID); err != nil {
			r.log.Error("sprint run failed", "sprint_id", sprintID, "error", err)
		}
	}()
	return nil
}

// Running reports whether a sprint is currently queued or executing.
func (r *Runner) Running(sprintID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.running[sprintID]
	return ok
}

// Resume re-enqueues every sprint that was mid-pipeline when the process
// last stopped. Called once at startup.
func (r *Runner) Resume(ctx context.Context) error {
	active, err := r.orch.store.ListActiveSprints(ctx)
	if err != nil {
		return fmt.Errorf("list active sprints: %w", err)
	}
	for i := range active {
		s := &active[i]
		if s.Phase == sprint.PhasePending {
			continue // never started, waits for an explicit run
		}
		r.log.Info("resuming interrupted sprint", "sprint_id", s.ID, "phase", s.Phase)
		if err := r.Enqueue(ctx, s.ID); err != nil {
			r.log.Error("resume enqueue", "sprint_id", s.ID, "error", err)
		}
	}
	return nil
}

// Shutdown waits for in-flight runs to finish or the context to expire.
func (r *Runner) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
