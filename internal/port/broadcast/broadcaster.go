// Package broadcast defines the port for pushing real-time sprint events to
// connected observers.
package broadcast

import "context"

// Broadcaster sends real-time events to all connected clients.
type Broadcaster interface {
	// BroadcastEvent sends a typed event to all connected clients.
	BroadcastEvent(ctx context.Context, eventType string, payload any)
}

// Nop discards all events. Used when no observer surface is configured.
type Nop struct{}

func (Nop) BroadcastEvent(context.Context, string, any) {}
