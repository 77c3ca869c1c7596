package inbox

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/tbxark/stepform/types"
)

var ErrClosed = errors.New("inbox closed")

type waiter struct {
	filter types.Filter
	ch     chan types.Input
}

// Hub routes live inputs to the waiters registered at the moment they arrive.
// An input nobody is waiting for is dropped: answers typed outside a step's
// window are never attributed to a later step.
type Hub struct {
	mu      sync.Mutex
	waiters []*waiter
	closed  bool
}

func NewHub() *Hub {
	return &Hub{}
}

// Publish hands in to the oldest matching waiter and reports whether it was delivered.
func (h *Hub) Publish(in types.Input) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	for i, w := range h.waiters {
		if w.filter != nil && !w.filter(in) {
			continue
		}
		h.waiters = append(h.waiters[:i], h.waiters[i+1:]...)
		w.ch <- in
		return true
	}
	slog.Debug("Dropped input with no waiter", "conversation", in.ConversationID, "author", in.AuthorID)
	return false
}

func (h *Hub) Next(ctx context.Context, filter types.Filter) (types.Input, error) {
	w := &waiter{filter: filter, ch: make(chan types.Input, 1)}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return types.Input{}, ErrClosed
	}
	h.waiters = append(h.waiters, w)
	h.mu.Unlock()

	select {
	case in, ok := <-w.ch:
		if !ok {
			return types.Input{}, ErrClosed
		}
		return in, nil
	case <-ctx.Done():
		h.remove(w)
		// Publish may have delivered between ctx firing and the removal
		select {
		case in, ok := <-w.ch:
			if ok {
				return in, nil
			}
		default:
		}
		return types.Input{}, ctx.Err()
	}
}

// Waiting reports the number of pending waiters.
func (h *Hub) Waiting() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.waiters)
}

// Close fails every pending and future Next with ErrClosed.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for _, w := range h.waiters {
		close(w.ch)
	}
	h.waiters = nil
}

func (h *Hub) remove(w *waiter) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, cur := range h.waiters {
		if cur == w {
			h.waiters = append(h.waiters[:i], h.waiters[i+1:]...)
			return
		}
	}
}
