// Package eventbus defines the port for publishing durable sprint events to
// a message stream.
package eventbus

import "context"

// Publisher appends an event record to the stream under the given subject.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// Nop discards all events. Used when no stream is configured.
type Nop struct{}

func (Nop) Publish(context.Context, string, []byte) error { return nil }
