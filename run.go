package stepform

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/tbxark/stepform/types"
)

// RunContext is the state of one collection run for one participant in one conversation.
// It is created per exchange and must not be reused.
type RunContext struct {
	ID             string
	ParticipantID  string
	ConversationID string
	// Filter further restricts which inputs count as answers.
	Filter types.Filter

	mu      sync.RWMutex
	phase   Phase
	step    int
	entries types.Entries
	failure *Failure
}

func NewRunContext(participantID, conversationID string) *RunContext {
	return &RunContext{
		ID:             uuid.NewString(),
		ParticipantID:  participantID,
		ConversationID: conversationID,
		phase:          PhaseNotStarted,
	}
}

// Matches reports whether in was written by this run's participant in its conversation.
func (r *RunContext) Matches(in types.Input) bool {
	if r.ParticipantID != "" && in.AuthorID != r.ParticipantID {
		return false
	}
	if r.ConversationID != "" && in.ConversationID != r.ConversationID {
		return false
	}
	if r.Filter != nil && !r.Filter(in) {
		return false
	}
	return true
}

func (r *RunContext) Phase() Phase {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.phase == "" {
		return PhaseNotStarted
	}
	return r.phase
}

// Step is the index of the active field while running.
func (r *RunContext) Step() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.step
}

func (r *RunContext) Entries() types.Entries {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries.Clone()
}

func (r *RunContext) Failure() *Failure {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.failure
}

func (r *RunContext) start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.phase != "" && r.phase != PhaseNotStarted {
		return fmt.Errorf("%w: run %s is %s", ErrRunStarted, r.ID, r.phase)
	}
	r.phase = PhaseRunning
	r.step = 0
	r.entries = types.Entries{}
	return nil
}

func (r *RunContext) advance(entry types.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.phase != PhaseRunning {
		return
	}
	r.entries = append(r.entries, entry)
	r.step++
}

func (r *RunContext) fail(f *Failure) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.phase.Terminal() {
		return
	}
	r.phase = PhaseFailed
	r.failure = f
}

func (r *RunContext) succeed() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.phase.Terminal() {
		return
	}
	r.phase = PhaseSucceeded
}
