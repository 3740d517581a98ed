package session

import (
	"context"
	"sync"
	"time"
)

// StreamHandle represents one in-flight submission. At most one handle is
// active per Controller (single-flight); it is cancelable and waitable.
type StreamHandle struct {
	StartedAt time.Time

	done chan struct{}

	mu       sync.Mutex
	threadID string
	runID    string
	cancel   context.CancelFunc
}

func newStreamHandle(cancel context.CancelFunc) *StreamHandle {
	return &StreamHandle{
		StartedAt: time.Now(),
		done:      make(chan struct{}),
		cancel:    cancel,
	}
}

func (h *StreamHandle) setRun(threadID string, runID string) {
	h.mu.Lock()
	h.threadID = threadID
	h.runID = runID
	h.mu.Unlock()
}

// Run returns the thread and run ids once the stream is open; empty strings
// before that.
func (h *StreamHandle) Run() (threadID string, runID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.threadID, h.runID
}

// Cancel signals the consuming loop to stop before processing the next
// event. Safe to call multiple times.
func (h *StreamHandle) Cancel() {
	if h == nil {
		return
	}
	h.mu.Lock()
	cancel := h.cancel
	h.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (h *StreamHandle) finish() {
	h.mu.Lock()
	defer h.mu.Unlock()
	select {
	case <-h.done:
	default:
		close(h.done)
	}
	h.cancel = nil
}

// Wait blocks until the submission's stream has fully wound down.
func (h *StreamHandle) Wait() {
	if h == nil {
		return
	}
	<-h.done
}

func (h *StreamHandle) IsRunning() bool {
	if h == nil {
		return false
	}
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}
