// ABOUTME: Session writer bound to one registry slot by id
// ABOUTME: Implements io.WriteCloser; Close always attempts the Done marker then forgets the slot

package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

var (
	// ErrSessionNotFound is returned when the writer's slot is no longer registered.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionDisconnected is returned when the slot's consumer has gone away.
	ErrSessionDisconnected = errors.New("session disconnected")

	// ErrWriterClosed is returned by Write after Close.
	ErrWriterClosed = errors.New("session writer closed")
)

// Writer pushes data events into a single slot. It is owned by exactly one
// goroutine (the relay driving a backend call).
type Writer struct {
	ctx      context.Context
	registry *Registry
	id       string
	logger   *slog.Logger

	closeOnce sync.Once
	closed    bool
}

// ID returns the id of the slot this writer is bound to.
func (w *Writer) ID() string { return w.id }

// Write sends p as one Data event, blocking until the slot has buffer space.
// The slot is looked up on every call since the reaper may have removed it.
func (w *Writer) Write(p []byte) (int, error) {
	if w.closed {
		return 0, ErrWriterClosed
	}
	s, ok := w.registry.lookup(w.id)
	if !ok {
		return 0, fmt.Errorf("writing to session %s: %w", w.id, ErrSessionNotFound)
	}
	if s.isDone() {
		return 0, fmt.Errorf("writing to session %s: %w", w.id, ErrSessionDisconnected)
	}

	select {
	case s.events <- Data(string(p)):
		return len(p), nil
	case <-s.done:
		return 0, fmt.Errorf("writing to session %s: %w", w.id, ErrSessionDisconnected)
	case <-w.ctx.Done():
		return 0, fmt.Errorf("writing to session %s: %w", w.id, w.ctx.Err())
	}
}

// Close enqueues the Done marker (waiting at most the registry's close
// timeout) and then removes the slot from the registry. Failure to deliver
// Done is logged, not returned. Close is idempotent and always returns nil.
func (w *Writer) Close() error {
	w.closeOnce.Do(func() {
		w.closed = true
		w.sendDone()
		w.registry.Prune([]string{w.id})
	})
	return nil
}

func (w *Writer) sendDone() {
	s, ok := w.registry.lookup(w.id)
	if !ok {
		w.logger.Debug("session already removed, skipping done marker")
		return
	}
	if s.isDone() {
		w.logger.Debug("session consumer gone, skipping done marker")
		return
	}

	timer := time.NewTimer(w.registry.closeTimeout)
	defer timer.Stop()

	select {
	case s.events <- Done():
	case <-s.done:
		w.logger.Debug("session consumer gone before done marker")
	case <-timer.C:
		w.registry.metrics.dropped(EventDone)
		w.logger.Warn("timed out delivering done marker", "timeout", w.registry.closeTimeout)
	}
}
