package inbox

import (
	"context"
	"sync"

	"github.com/tbxark/stepform/types"
)

// Script is a queued source: inputs wait in order until a step asks for them.
// Inputs rejected by the asking step's filter are discarded.
type Script struct {
	mu      sync.Mutex
	queue   []types.Input
	dropped []types.Input
	signal  chan struct{}
	closed  bool
}

func NewScript(inputs ...types.Input) *Script {
	s := &Script{signal: make(chan struct{}, 1)}
	s.queue = append(s.queue, inputs...)
	return s
}

// Lines builds inputs written by author in conversation.
func Lines(conversationID, authorID string, lines ...string) []types.Input {
	out := make([]types.Input, 0, len(lines))
	for _, line := range lines {
		out = append(out, types.Input{ConversationID: conversationID, AuthorID: authorID, Content: line})
	}
	return out
}

func (s *Script) Push(inputs ...types.Input) {
	s.mu.Lock()
	s.queue = append(s.queue, inputs...)
	s.mu.Unlock()
	s.notify()
}

func (s *Script) Next(ctx context.Context, filter types.Filter) (types.Input, error) {
	for {
		s.mu.Lock()
		for len(s.queue) > 0 {
			in := s.queue[0]
			s.queue = s.queue[1:]
			if filter == nil || filter(in) {
				s.mu.Unlock()
				return in, nil
			}
			s.dropped = append(s.dropped, in)
		}
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return types.Input{}, ErrClosed
		}

		select {
		case <-s.signal:
		case <-ctx.Done():
			return types.Input{}, ctx.Err()
		}
	}
}

// Remaining is the number of queued inputs nobody has consumed.
func (s *Script) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Dropped returns the inputs discarded by filters.
func (s *Script) Dropped() []types.Input {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Input, len(s.dropped))
	copy(out, s.dropped)
	return out
}

func (s *Script) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.notify()
}

func (s *Script) notify() {
	select {
	case s.signal <- struct{}{}:
	default:
	}
}
