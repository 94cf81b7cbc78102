package ws

import (
	"context"
	"encoding/json"
	"log/slog"
)

// Event type constants for WebSocket messages.
const (
	EventSprintStatus = "sprint.status"
	EventSprintPhase  = "sprint.phase"
	EventGateReport   = "sprint.gate"
	EventBlocked      = "sprint.blocked"
)

// SprintStatusEvent is broadcast when a sprint is created or finishes.
type SprintStatusEvent struct {
	SprintID int64  `json:"sprint_id"`
	Goal     string `json:"goal"`
	Phase    string `json:"phase"`
}

// PhaseEvent is broadcast after every persisted phase transition.
type PhaseEvent struct {
	SprintID   int64  `json:"sprint_id"`
	From       string `json:"from"`
	To         string `json:"to"`
	RetryCount int    `json:"retry_count,omitempty"`
}

// GateEvent is broadcast after a gate pipeline run.
type GateEvent struct {
	SprintID int64  `json:"sprint_id"`
	Phase    string `json:"phase"`
	Passed   bool   `json:"passed"`
	HaltedAt string `json:"halted_at,omitempty"`
	Issues   int    `json:"issues"`
}

// BlockedEvent is broadcast when a sprint transitions to BLOCKED.
type BlockedEvent struct {
	SprintID     int64  `json:"sprint_id"`
	Phase        string `json:"phase"`
	Reason       string `json:"reason"`
	BlockedCount int    `json:"blocked_count"`
}

// BroadcastEvent marshals a typed event and broadcasts it. It satisfies
// the broadcast port.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}

	h.Broadcast(ctx, Message{
		Type:    eventType,
		Payload: json.RawMessage(data),
	})
}
