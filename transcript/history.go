package transcript

import (
	"context"
	"sync"

	"github.com/cloudwego/eino/schema"
	"github.com/tbxark/stepform/store"
)

type Trimmer interface {
	Trim(history []*schema.Message) []*schema.Message
}

// KeepLastN keeps the last N messages. When N <= 0 it keeps everything.
type KeepLastN struct {
	N int
}

func (t KeepLastN) Trim(history []*schema.Message) []*schema.Message {
	if t.N <= 0 || len(history) <= t.N {
		return history
	}
	return history[len(history)-t.N:]
}

type ReadWriter interface {
	Load(ctx context.Context) ([]*schema.Message, error)
	Clear(ctx context.Context) error
	// Append loads history, appends msgs, trims, then saves and returns the result.
	Append(ctx context.Context, msgs ...*schema.Message) ([]*schema.Message, error)
}

// History keeps one transcript per conversation, routed by store.WithKey.
type History struct {
	mu      sync.Mutex
	store   store.Store[[]*schema.Message]
	trimmer Trimmer
}

func NewHistory(core store.Cache[[]*schema.Message], trimmer Trimmer) *History {
	return &History{
		store:   store.New(core, "transcript", store.KeyFromContext),
		trimmer: trimmer,
	}
}

func NewMemoryHistory(trimmer Trimmer) *History {
	return NewHistory(store.NewMemoryCache[[]*schema.Message](), trimmer)
}

func (h *History) Load(ctx context.Context) ([]*schema.Message, error) {
	hist, ok, err := h.store.Get(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	out := make([]*schema.Message, len(hist))
	copy(out, hist)
	return out, nil
}

func (h *History) Clear(ctx context.Context) error {
	return h.store.Del(ctx)
}

func (h *History) Append(ctx context.Context, msgs ...*schema.Message) ([]*schema.Message, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	hist, _, err := h.store.Get(ctx)
	if err != nil {
		return nil, err
	}
	next := make([]*schema.Message, 0, len(hist)+len(msgs))
	next = append(next, hist...)
	for _, msg := range msgs {
		if msg != nil {
			next = append(next, msg)
		}
	}
	if h.trimmer != nil {
		next = h.trimmer.Trim(next)
	}
	if err := h.store.Set(ctx, next); err != nil {
		return nil, err
	}
	out := make([]*schema.Message, len(next))
	copy(out, next)
	return out, nil
}

var _ ReadWriter = (*History)(nil)
