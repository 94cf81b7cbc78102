package logger

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Closer flushes buffered log records before process exit.
type Closer interface {
	Close()
}

// nopCloser is the Closer for synchronous mode.
type nopCloser struct{}

func (nopCloser) Close() {}

// AsyncHandler decouples sprint workers from log I/O: Handle enqueues the
// record and returns immediately, a pool of drainers performs the actual
// writes. When the queue is full the record is dropped and counted rather
// than stalling a phase step mid-run.
type AsyncHandler struct {
	inner slog.Handler
	core  *asyncCore
}

// asyncCore is shared by a handler and all of its WithAttrs/WithGroup
// clones: one queue, one drainer pool, one drop counter.
type asyncCore struct {
	queue   chan entry
	wg      sync.WaitGroup
	closed  sync.Once
	dropped atomic.Int64
}

// entry pins a record to the handler it was enqueued through, so attrs
// added via With survive the hand-off to the drainer pool.
type entry struct {
	handler slog.Handler
	record  slog.Record
}

// NewAsyncHandler wraps inner with a queue of the given capacity, drained
// by the given number of goroutines.
func NewAsyncHandler(inner slog.Handler, queueSize, drainers int) *AsyncHandler {
	core := &asyncCore{queue: make(chan entry, queueSize)}
	for range drainers {
		core.wg.Add(1)
		go core.drain()
	}
	return &AsyncHandler{inner: inner, core: core}
}

func (c *asyncCore) drain() {
	defer c.wg.Done()
	for e := range c.queue {
		_ = e.handler.Handle(context.Background(), e.record)
	}
}

// Enabled delegates to the wrapped handler.
func (h *AsyncHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle enqueues the record without blocking. A full queue drops it.
func (h *AsyncHandler) Handle(_ context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	select {
	case h.core.queue <- entry{handler: h.inner, record: rec}:
	default:
		h.core.dropped.Add(1)
	}
	return nil
}

// WithAttrs returns a clone wrapping the attributed inner handler.
func (h *AsyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithAttrs(attrs), core: h.core}
}

// WithGroup returns a clone wrapping the grouped inner handler.
func (h *AsyncHandler) WithGroup(name string) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithGroup(name), core: h.core}
}

// DroppedCount returns how many records were discarded on a full queue.
func (h *AsyncHandler) DroppedCount() int64 {
	return h.core.dropped.Load()
}

// Close stops the drainer pool after flushing everything still queued.
// Safe to call more than once.
func (h *AsyncHandler) Close() {
	h.core.closed.Do(func() {
		close(h.core.queue)
		h.core.wg.Wait()
	})
}
