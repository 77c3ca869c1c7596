package stepform

import (
	"context"
	"fmt"
	"time"

	"github.com/tbxark/stepform/types"
)

// ValidateFunc checks one raw answer. prior holds the entries captured before this field.
type ValidateFunc func(ctx context.Context, raw string, prior types.Entries) (string, error)

// AcceptFunc runs once after a field is captured; collected ends with that field's entry.
type AcceptFunc func(ctx context.Context, collected types.Entries) error

// FieldSpec describes one data item to collect.
type FieldSpec struct {
	ID     string
	Prompt string
	// RetryLimit is the number of validation failures tolerated after the first one.
	// Nil inherits the engine default.
	RetryLimit *int
	// Timeout bounds the wait for each answer. Zero inherits the engine default.
	Timeout time.Duration
	// Secret answers are masked in the transcript.
	Secret     bool
	Validate   ValidateFunc
	OnAccepted AcceptFunc
}

// Retries returns a RetryLimit value. Retries(0) permits exactly one attempt.
func Retries(n int) *int {
	if n < 0 {
		n = 0
	}
	return &n
}

func validateFields(fields []FieldSpec) error {
	seen := make(map[string]struct{}, len(fields))
	for i, f := range fields {
		if f.ID == "" {
			return fmt.Errorf("%w: field %d has no id", ErrInvalidFields, i)
		}
		if _, ok := seen[f.ID]; ok {
			return fmt.Errorf("%w: duplicate field id %q", ErrInvalidFields, f.ID)
		}
		seen[f.ID] = struct{}{}
	}
	return nil
}
