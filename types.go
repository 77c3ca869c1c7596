package stepform

import (
	"context"
	"errors"
	"fmt"

	"github.com/tbxark/stepform/types"
)

type Phase string

const (
	PhaseNotStarted Phase = "not_started"
	PhaseRunning    Phase = "running"
	PhaseSucceeded  Phase = "succeeded"
	PhaseFailed     Phase = "failed"
)

func (p Phase) Terminal() bool {
	return p == PhaseSucceeded || p == PhaseFailed
}

// InputSource supplies inbound messages. Next blocks until an input accepted by filter
// arrives or ctx is done; inputs rejected by filter are never returned.
type InputSource interface {
	Next(ctx context.Context, filter types.Filter) (types.Input, error)
}

// PromptSink delivers text to the conversation.
type PromptSink interface {
	Send(ctx context.Context, text string) error
}

type Reason string

const (
	ReasonTimeout          Reason = "timeout"
	ReasonRetriesExhausted Reason = "retries_exhausted"
	ReasonCancelled        Reason = "cancelled"
	ReasonSideEffect       Reason = "side_effect_fault"
	ReasonDelivery         Reason = "delivery_failure"
)

// Failure is the terminal outcome of a run that did not capture every field.
type Failure struct {
	Reason   Reason
	FieldID  string
	Attempts int
	Err      error
}

var (
	ErrTimeout          = &Failure{Reason: ReasonTimeout}
	ErrRetriesExhausted = &Failure{Reason: ReasonRetriesExhausted}
	ErrCancelled        = &Failure{Reason: ReasonCancelled}
	ErrSideEffect       = &Failure{Reason: ReasonSideEffect}
	ErrDelivery         = &Failure{Reason: ReasonDelivery}
)

var (
	ErrInvalidFields = errors.New("invalid field set")
	ErrRunStarted    = errors.New("run already started")
)

func (f *Failure) Error() string {
	msg := fmt.Sprintf("collect %q: %s", f.FieldID, f.Reason)
	if f.Err != nil {
		msg += ": " + f.Err.Error()
	}
	return msg
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Is matches on reason, and on field id when the target names one.
func (f *Failure) Is(target error) bool {
	t, ok := target.(*Failure)
	if !ok {
		return false
	}
	return t.Reason == f.Reason && (t.FieldID == "" || t.FieldID == f.FieldID)
}

// ValidationError carries a message meant for the participant.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Invalid builds the error a validator returns to reject an answer.
func Invalid(format string, args ...any) error {
	if len(args) == 0 {
		return &ValidationError{Message: format}
	}
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}
