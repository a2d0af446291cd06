// Package notify holds the subscriber side of the notification channel: a
// one-slot mailbox with last-value-wins semantics and a websocket fan-out hub
// that gives every connected client its own mailbox.
package notify

import (
	"context"
	"sync"
)

// Mailbox holds at most one unread value. Put replaces an unread value.
type Mailbox[T any] struct {
	mu    sync.Mutex
	value T
	full  bool
	ready chan struct{}
}

func NewMailbox[T any]() *Mailbox[T] {
	return &Mailbox[T]{ready: make(chan struct{}, 1)}
}

// Put stores v, discarding any value not yet taken. It never blocks.
func (m *Mailbox[T]) Put(v T) {
	m.mu.Lock()
	m.value = v
	m.full = true
	m.mu.Unlock()

	select {
	case m.ready <- struct{}{}:
	default:
	}
}

// TryTake empties the slot without waiting.
func (m *Mailbox[T]) TryTake() (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var zero T
	if !m.full {
		return zero, false
	}
	v := m.value
	m.value = zero
	m.full = false
	return v, true
}

// Take waits for a value or for ctx to end.
func (m *Mailbox[T]) Take(ctx context.Context) (T, error) {
	for {
		if v, ok := m.TryTake(); ok {
			return v, nil
		}
		select {
		case <-m.ready:
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}

// Ready is signalled after a Put. A signal may be stale; use TryTake.
func (m *Mailbox[T]) Ready() <-chan struct{} {
	return m.ready
}
