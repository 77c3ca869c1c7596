package outbox

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// Writer prints every prompt on its own line, prefixed with the speaker name.
type Writer struct {
	mu     sync.Mutex
	w      io.Writer
	prefix string
}

func NewWriter(w io.Writer, prefix string) *Writer {
	return &Writer{w: w, prefix: prefix}
}

func (s *Writer) Send(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprintf(s.w, "%s%s\n", s.prefix, text); err != nil {
		return fmt.Errorf("write prompt: %w", err)
	}
	return nil
}

// Recorder keeps every delivered prompt in memory. Fail, when set, decides per
// message whether delivery fails; failed messages are not recorded.
type Recorder struct {
	mu   sync.Mutex
	sent []string
	Fail func(text string) error
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Send(ctx context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Fail != nil {
		if err := r.Fail(text); err != nil {
			return err
		}
	}
	r.sent = append(r.sent, text)
	return nil
}

func (r *Recorder) Messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.sent))
	copy(out, r.sent)
	return out
}
