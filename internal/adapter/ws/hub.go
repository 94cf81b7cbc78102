// Package ws streams sprint progress over WebSocket. The orchestrator
// pushes phase transitions, gate reports and blocking events; observers
// such as dashboards or a CLI tailing a run subscribe and receive every
// event as it happens.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// writeTimeout bounds one broadcast write. An observer that cannot keep
// up is dropped instead of backpressuring the phase pipeline; the event
// store remains the durable record.
const writeTimeout = 5 * time.Second

// Message is the envelope for all WebSocket messages.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// observer is one subscribed WebSocket client.
type observer struct {
	sock   *websocket.Conn
	cancel context.CancelFunc
}

// Hub fans sprint events out to every connected observer. Delivery is
// best effort and fire-and-forget.
type Hub struct {
	mu        sync.RWMutex
	observers map[*observer]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{observers: make(map[*observer]struct{})}
}

// HandleWS upgrades the request to a WebSocket and subscribes the client
// until it disconnects.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	sock, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // CORS handled by middleware
	})
	if err != nil {
		slog.Error("websocket accept failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	o := &observer{sock: sock, cancel: cancel}

	h.mu.Lock()
	h.observers[o] = struct{}{}
	h.mu.Unlock()

	slog.Info("observer connected", "remote", r.RemoteAddr)

	// Reads are consumed only to notice the disconnect.
	go func() {
		defer func() {
			h.drop(o)
			_ = sock.Close(websocket.StatusNormalClosure, "")
		}()
		for {
			if _, _, err := sock.Read(ctx); err != nil {
				return
			}
		}
	}()
}

// Broadcast sends one message to every observer. Observers whose write
// fails or exceeds the write timeout are dropped.
func (h *Hub) Broadcast(ctx context.Context, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("websocket marshal failed", "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]*observer, 0, len(h.observers))
	for o := range h.observers {
		targets = append(targets, o)
	}
	h.mu.RUnlock()

	for _, o := range targets {
		wctx, cancel := context.WithTimeout(ctx, writeTimeout)
		err := o.sock.Write(wctx, websocket.MessageText, data)
		cancel()
		if err != nil {
			slog.Debug("observer write failed", "error", err)
			h.drop(o)
		}
	}
}

// ConnectionCount returns the number of subscribed observers.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.observers)
}

func (h *Hub) drop(o *observer) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.observers[o]; ok {
		o.cancel()
		delete(h.observers, o)
		slog.Info("observer disconnected")
	}
}
