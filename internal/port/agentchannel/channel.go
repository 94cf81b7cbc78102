// Package agentchannel defines the agent invocation port: one call per
// phase to an external, opaque coding-agent process.
package agentchannel

import (
	"context"
	"time"

	"github.com/Strob0t/forgesprint/internal/domain/sprint"
)

// ContextBundle is the sprint context serialized for agent consumption.
// Business rules and doc refs are opaque here; only the agent interprets them.
type ContextBundle struct {
	SprintID int64         `json:"sprint_id"`
	Goal     string        `json:"goal"`
	Phase    string        `json:"phase"`
	Tasks    []sprint.Task `json:"tasks"`
	Files    []string      `json:"files,omitempty"`
}

// Budget bounds one invocation. An invocation with an exhausted budget is
// terminated and reported as a timeout failure.
type Budget struct {
	MaxTurns int
	Timeout  time.Duration
}

// Request describes one phase's delegated work.
type Request struct {
	Role          string
	WorkspaceRoot string
	Context       ContextBundle
	Budget        Budget
}

// Result is the structured outcome of a completed invocation.
type Result struct {
	InvocationID string   `json:"invocation_id"`
	Turns        int      `json:"turns"`
	FilesWritten []string `json:"files_written,omitempty"`
	Completed    bool     `json:"completed"`
	Summary      string   `json:"summary,omitempty"`
}

// Channel executes one phase's work through an external agent process.
// Invoke returns a typed failure from the domain taxonomy, never "unknown":
// every invocation ends in success, a classified failure, or a timeout.
type Channel interface {
	Name() string
	Invoke(ctx context.Context, req *Request) (*Result, error)
}
