// Package gitws implements per-sprint workspace isolation on top of the
// git CLI: one branch and worktree checkout per sprint, merged back into
// the mainline on success or discarded without trace on rollback.
package gitws

import (
	"context"
	"fmt"
)

// Workspace is an isolated unit of mutable filesystem state bound 1:1 to a
// sprint: a branch, a worktree checkout rooted at Root, and any auxiliary
// runtime resources provisioned for it.
type Workspace struct {
	SprintID int64
	Branch   string
	Root     string

	resources []Resource
}

// Resource is an auxiliary runtime resource bound to a workspace, such as a
// local service container needed by integration-style checks. Resources are
// torn down on both merge and rollback, never leaked.
type Resource interface {
	Name() string
	Teardown(ctx context.Context) error
}

// Provisioner creates auxiliary resources when a workspace is acquired.
type Provisioner interface {
	Provision(ctx context.Context, ws *Workspace) ([]Resource, error)
}

// teardownAll tears down resources in reverse provisioning order and
// returns the first failure, continuing past errors so nothing is leaked.
func (w *Workspace) teardownAll(ctx context.Context) error {
	var first error
	for i := len(w.resources) - 1; i >= 0; i-- {
		r := w.resources[i]
		if err := r.Teardown(ctx); err != nil && first == nil {
			first = fmt.Errorf("teardown %s: %w", r.Name(), err)
		}
	}
	w.resources = nil
	return first
}
