package dialogue

import (
	"context"
	"time"

	"github.com/tbxark/stepform/types"
)

type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	// OutcomeRejected means the participant declined the terms before collection began.
	OutcomeRejected Outcome = "rejected"
	OutcomeFailed   Outcome = "failed"
)

// Request describes how a registration ended.
type Request struct {
	Participant string
	Outcome     Outcome
	// Reason and FieldID describe the failure when Outcome is OutcomeFailed.
	Reason  string
	FieldID string
	Entries types.Entries
	// Masked lists entry ids whose values must not be shown.
	Masked []string
	// TeardownIn is the delay before the conversation is closed, zero if it stays open.
	TeardownIn time.Duration
}

type Generator interface {
	GenerateDialogue(ctx context.Context, req *Request) (string, error)
}
