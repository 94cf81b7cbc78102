package gitws

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Strob0t/forgesprint/internal/domain"
	"github.com/Strob0t/forgesprint/internal/git"
)

// Manager owns the branch-per-sprint workspace lifecycle against a single
// mainline repository. Ownership is exclusive: at most one workspace exists
// per sprint id, and mainline mutation (merge) is serialized across sprints.
type Manager struct {
	repoPath    string
	worktreeDir string
	pool        *git.Pool
	provs       []Provisioner

	mu   sync.Mutex
	held map[int64]*Workspace

	// mergeMu serializes MergeAndRelease: the mainline ref is the single
	// shared mutable resource, so one merge (including conflict detection)
	// completes before the next begins.
	mergeMu sync.Mutex
}

// NewManager creates a Manager for the repository at repoPath. Worktree
// checkouts are created under worktreeDir.
func NewManager(repoPath, worktreeDir string, pool *git.Pool, provs ...Provisioner) *Manager {
	return &Manager{
		repoPath:    repoPath,
		worktreeDir: worktreeDir,
		pool:        pool,
		provs:       provs,
		held:        make(map[int64]*Workspace),
	}
}

// BranchName returns the branch a sprint's workspace lives on.
func BranchName(sprintID int64) string {
	return fmt.Sprintf("sprint/%d", sprintID)
}

// Acquire creates a new branch from the current mainline tip plus a
// worktree checkout, provisions auxiliary resources, and records exclusive
// ownership. A second Acquire for a held id fails with ErrWorkspaceExists
// and leaves the existing workspace untouched.
//
// A sprint branch surviving from an earlier process is re-adopted rather
// than recreated, so a restart can resume mid-pipeline sprints with their
// work intact.
func (m *Manager) Acquire(ctx context.Context, sprintID int64) (*Workspace, error) {
	m.mu.Lock()
	if _, ok := m.held[sprintID]; ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("acquire sprint %d: %w", sprintID, domain.ErrWorkspaceExists)
	}
	// Reserve the slot before the git work so concurrent acquires for the
	// same id cannot race past the exclusivity check.
	m.held[sprintID] = nil
	m.mu.Unlock()

	ws, err := m.create(ctx, sprintID)
	if err != nil {
		m.mu.Lock()
		delete(m.held, sprintID)
		m.mu.Unlock()
		return nil, err
	}

	m.mu.Lock()
	m.held[sprintID] = ws
	m.mu.Unlock()

	slog.Info("workspace acquired", "sprint_id", sprintID, "branch", ws.Branch, "root", ws.Root)
	return ws, nil
}

func (m *Manager) create(ctx context.Context, sprintID int64) (*Workspace, error) {
	branch := BranchName(sprintID)
	root := filepath.Join(m.worktreeDir, fmt.Sprintf("sprint-%d", sprintID))

	if err := os.MkdirAll(m.worktreeDir, 0o755); err != nil {
		return nil, fmt.Errorf("gitws: worktree dir: %w", err)
	}

	if m.branchExists(ctx, branch) {
		// Re-adopt a branch left behind by an earlier process. The
		// checkout is recreated only when it is gone from disk.
		if _, err := os.Stat(root); err != nil {
			if _, err := m.pool.Exec(ctx, m.repoPath, "worktree", "prune"); err != nil {
				return nil, fmt.Errorf("gitws: worktree prune: %w", err)
			}
			if _, err := m.pool.Exec(ctx, m.repoPath, "worktree", "add", root, branch); err != nil {
				return nil, fmt.Errorf("gitws: worktree re-add: %w", err)
			}
		}
		slog.Info("workspace re-adopted", "sprint_id", sprintID, "branch", branch)
	} else {
		tip, err := m.pool.Exec(ctx, m.repoPath, "rev-parse", "HEAD")
		if err != nil {
			return nil, fmt.Errorf("gitws: resolve mainline tip: %w", err)
		}
		if _, err := m.pool.Exec(ctx, m.repoPath,
			"worktree", "add", "-b", branch, root, strings.TrimSpace(tip)); err != nil {
			return nil, fmt.Errorf("gitws: worktree add: %w", err)
		}
	}

	ws := &Workspace{SprintID: sprintID, Branch: branch, Root: root}

	for _, p := range m.provs {
		res, err := p.Provision(ctx, ws)
		if err != nil {
			_ = ws.teardownAll(ctx)
			_ = m.destroy(ctx, ws)
			return nil, fmt.Errorf("gitws: provision: %w", err)
		}
		ws.resources = append(ws.resources, res...)
	}

	return ws, nil
}

// MergeAndRelease integrates the workspace branch into the mainline and
// destroys the branch and checkout. A genuine conflict aborts the merge,
// leaves the workspace intact for inspection, and returns ErrMergeConflict.
func (m *Manager) MergeAndRelease(ctx context.Context, ws *Workspace) error {
	m.mergeMu.Lock()
	defer m.mergeMu.Unlock()

	// The workspace commits its own tree; an uncommitted worktree cannot merge.
	if err := m.commitWorkTree(ctx, ws); err != nil {
		return err
	}

	if _, err := m.pool.Exec(ctx, m.repoPath, "merge", "--no-edit", ws.Branch); err != nil {
		// MERGE_HEAD exists only while a conflicted merge awaits
		// resolution; any other failure (lock contention, I/O) left no
		// merge behind and is worth retrying.
		if !m.mergeInProgress(ctx) {
			return fmt.Errorf("gitws: merge %s: %v: %w", ws.Branch, err, domain.ErrTransientIO)
		}
		// Abort so the mainline checkout is left exactly as before the
		// attempt; the branch and worktree stay for manual resolution.
		if _, abortErr := m.pool.Exec(ctx, m.repoPath, "merge", "--abort"); abortErr != nil {
			slog.Error("merge abort failed", "sprint_id", ws.SprintID, "error", abortErr)
		}
		return fmt.Errorf("gitws: merge %s: %v: %w", ws.Branch, err, domain.ErrMergeConflict)
	}

	if err := ws.teardownAll(ctx); err != nil {
		slog.Warn("resource teardown after merge", "sprint_id", ws.SprintID, "error", err)
	}
	if err := m.destroy(ctx, ws); err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.held, ws.SprintID)
	m.mu.Unlock()

	slog.Info("workspace merged and released", "sprint_id", ws.SprintID, "branch", ws.Branch)
	return nil
}

// Rollback unconditionally discards the sprint's branch and checkout
// without merging. The mainline is left byte-for-byte unchanged. A branch
// left behind by an earlier process is discarded even when this process
// never held the workspace.
func (m *Manager) Rollback(ctx context.Context, sprintID int64) error {
	m.mu.Lock()
	ws, ok := m.held[sprintID]
	delete(m.held, sprintID)
	m.mu.Unlock()

	if !ok || ws == nil {
		branch := BranchName(sprintID)
		if !m.branchExists(ctx, branch) {
			return fmt.Errorf("rollback sprint %d: %w", sprintID, domain.ErrNotFound)
		}
		ws = &Workspace{
			SprintID: sprintID,
			Branch:   branch,
			Root:     filepath.Join(m.worktreeDir, fmt.Sprintf("sprint-%d", sprintID)),
		}
	}

	if err := ws.teardownAll(ctx); err != nil {
		slog.Warn("resource teardown on rollback", "sprint_id", sprintID, "error", err)
	}
	if err := m.destroy(ctx, ws); err != nil {
		return err
	}

	slog.Info("workspace rolled back", "sprint_id", sprintID, "branch", ws.Branch)
	return nil
}

// Held reports whether a workspace is currently held for the sprint.
func (m *Manager) Held(sprintID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.held[sprintID]
	return ok
}

// commitWorkTree stages and commits any pending changes inside the
// workspace checkout so the branch tip reflects the on-disk state.
func (m *Manager) commitWorkTree(ctx context.Context, ws *Workspace) error {
	status, err := m.pool.Exec(ctx, ws.Root, "status", "--porcelain")
	if err != nil {
		return fmt.Errorf("gitws: status: %w", err)
	}
	if strings.TrimSpace(status) == "" {
		return nil
	}
	if _, err := m.pool.Exec(ctx, ws.Root, "add", "-A"); err != nil {
		return fmt.Errorf("gitws: stage: %w", err)
	}
	msg := fmt.Sprintf("forgesprint: sprint %d", ws.SprintID)
	if _, err := m.pool.Exec(ctx, ws.Root, "commit", "-m", msg); err != nil {
		return fmt.Errorf("gitws: commit: %w", err)
	}
	return nil
}

// destroy removes the worktree checkout and deletes the branch. A checkout
// already gone from disk only needs its stale registration pruned.
func (m *Manager) destroy(ctx context.Context, ws *Workspace) error {
	if _, err := os.Stat(ws.Root); err == nil {
		if _, err := m.pool.Exec(ctx, m.repoPath, "worktree", "remove", "--force", ws.Root); err != nil {
			return fmt.Errorf("gitws: worktree remove: %w", err)
		}
	} else if _, err := m.pool.Exec(ctx, m.repoPath, "worktree", "prune"); err != nil {
		return fmt.Errorf("gitws: worktree prune: %w", err)
	}
	if _, err := m.pool.Exec(ctx, m.repoPath, "branch", "-D", ws.Branch); err != nil {
		return fmt.Errorf("gitws: branch delete: %w", err)
	}
	return nil
}

// branchExists reports whether the named branch exists in the repository.
func (m *Manager) branchExists(ctx context.Context, branch string) bool {
	_, err := m.pool.Exec(ctx, m.repoPath, "rev-parse", "--verify", "--quiet", "refs/heads/"+branch)
	return err == nil
}

// mergeInProgress reports whether the mainline checkout has an unfinished
// merge awaiting conflict resolution.
func (m *Manager) mergeInProgress(ctx context.Context) bool {
	_, err := m.pool.Exec(ctx, m.repoPath, "rev-parse", "--verify", "--quiet", "MERGE_HEAD")
	return err == nil
}
