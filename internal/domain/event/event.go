// Package event defines the sprint lifecycle events published after every
// persisted transition.
package event

import (
	"encoding/json"
	"time"
)

// Type identifies the kind of sprint event.
type Type string

const (
	TypeSprintCreated  Type = "sprint.created"
	TypeSprintStarted  Type = "sprint.started"
	TypePhaseAdvanced  Type = "sprint.phase.advanced"
	TypePhaseRetried   Type = "sprint.phase.retried"
	TypeSprintBlocked  Type = "sprint.blocked"
	TypeSprintDone     Type = "sprint.done"
	TypeGateReport     Type = "sprint.gate.report"
	TypeWorkspaceEvent Type = "sprint.workspace"
)

// SprintEvent is a single immutable record in a sprint's trajectory.
// Events are published only after the corresponding state write completed,
// so any observer sees transitions in persisted order.
type SprintEvent struct {
	ID        string          `json:"id"`
	SprintID  int64           `json:"sprint_id"`
	Type      Type            `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}
