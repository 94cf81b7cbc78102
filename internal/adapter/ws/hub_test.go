package ws

import (
	"context"
	"testing"
)

func TestNewHub(t *testing.T) {
	hub := NewHub()
	if hub == nil {
		t.Fatal("expected non-nil hub")
	}
	if hub.ConnectionCount() != 0 {
		t.Fatalf("expected 0 connections, got %d", hub.ConnectionCount())
	}
}

func TestHubBroadcastNoConnections(t *testing.T) {
	hub := NewHub()

	// Broadcast with no connections should not panic.
	hub.Broadcast(context.Background(), Message{
		Type:    "test",
		Payload: []byte(`{"key":"value"}`),
	})
}

func TestHubBroadcastEventNoConnections(t *testing.T) {
	hub := NewHub()

	// BroadcastEvent with no connections should not panic.
	hub.BroadcastEvent(context.Background(), EventSprintPhase, PhaseEvent{
		SprintID: 1,
		From:     "pending",
		To:       "write_unit_tests",
	})
}

func TestHubBroadcastEventMarshalError(t *testing.T) {
	hub := NewHub()

	// A channel cannot be marshaled to JSON; log the error, don't panic.
	hub.BroadcastEvent(context.Background(), "bad", make(chan int))
}

func TestHubDropNonexistent(t *testing.T) {
	hub := NewHub()

	// Dropping an observer that was never subscribed should not panic.
	_, cancel := context.WithCancel(context.Background())
	defer cancel()
	o := &observer{sock: nil, cancel: cancel}
	hub.drop(o)
}
