package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrBusy = errors.New("key already has an active session")

// ErrTornDown is the cancellation cause of a session ended by Teardown.
var ErrTornDown = errors.New("session torn down")

type Session struct {
	ID        string
	Key       string
	StartedAt time.Time
}

type entry struct {
	session Session
	cancel  context.CancelCauseFunc
}

// Registry allows at most one session per key.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*entry
}

func NewRegistry() *Registry {
	return &Registry{sessions: map[string]*entry{}}
}

// Begin claims key and returns a context that is cancelled on Teardown. The returned
// release func must be called when the session ends; it is safe to call more than once.
func (r *Registry) Begin(ctx context.Context, key string) (context.Context, func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[key]; ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrBusy, key)
	}
	sctx, cancel := context.WithCancelCause(ctx)
	e := &entry{
		session: Session{ID: uuid.NewString(), Key: key, StartedAt: time.Now()},
		cancel:  cancel,
	}
	r.sessions[key] = e
	slog.Debug("Session started", "key", key, "session_id", e.session.ID)

	release := func() {
		r.mu.Lock()
		if cur, ok := r.sessions[key]; ok && cur == e {
			delete(r.sessions, key)
		}
		r.mu.Unlock()
		cancel(context.Canceled)
	}
	return sctx, release, nil
}

// Teardown cancels the session for key, e.g. when its channel is deleted.
func (r *Registry) Teardown(key string) bool {
	r.mu.Lock()
	e, ok := r.sessions[key]
	if ok {
		delete(r.sessions, key)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	slog.Debug("Session torn down", "key", key, "session_id", e.session.ID)
	e.cancel(ErrTornDown)
	return true
}

// Active lists sessions ordered by start time.
func (r *Registry) Active() []Session {
	r.mu.Lock()
	out := make([]Session, 0, len(r.sessions))
	for _, e := range r.sessions {
		out = append(out, e.session)
	}
	r.mu.Unlock()
	slices.SortFunc(out, func(a, b Session) int {
		return a.StartedAt.Compare(b.StartedAt)
	})
	return out
}
