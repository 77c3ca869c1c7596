package dialogue

import (
	"context"
	"errors"
	"fmt"
)

const rejectedMessage = "Oh, we are sorry :(\n\n" +
	"By rejecting our terms of service and privacy policy, you will not be able to create an account with us. " +
	"If you have any questions or feedback about our policies, please do not hesitate to reach out to us.\n\n" +
	"Thank you for considering our policies and for your interest in our services."

// LocalGenerator answers with fixed English messages.
type LocalGenerator struct{}

func (g *LocalGenerator) GenerateDialogue(ctx context.Context, req *Request) (string, error) {
	if req == nil {
		return "", errors.New("nil dialogue request")
	}
	var msg string
	switch req.Outcome {
	case OutcomeSucceeded:
		msg = "Your account has been created. Welcome aboard!"
	case OutcomeRejected:
		msg = rejectedMessage
	case OutcomeFailed:
		msg = failureMessage(req.Reason, req.FieldID)
	default:
		return "", fmt.Errorf("unknown outcome %q", req.Outcome)
	}
	return msg + teardownNotice(req), nil
}

func failureMessage(reason, fieldID string) string {
	switch reason {
	case "timeout":
		return "You did not answer in time, the registration was stopped."
	case "retries_exhausted":
		return fmt.Sprintf("Too many invalid answers for %s, the registration was stopped.", fieldID)
	case "cancelled":
		return "The registration was cancelled."
	case "side_effect_fault":
		return fmt.Sprintf("We could not finish processing your %s, please try again later.", fieldID)
	default:
		return "The registration could not be completed."
	}
}

// FailbackGenerator returns the first message a generator produces without error.
type FailbackGenerator struct {
	generators []Generator
}

func NewFailbackGenerator(generators ...Generator) *FailbackGenerator {
	return &FailbackGenerator{generators: generators}
}

func (g *FailbackGenerator) GenerateDialogue(ctx context.Context, req *Request) (string, error) {
	lastErr := errors.New("no generator configured")
	for _, generator := range g.generators {
		if generator == nil {
			continue
		}
		msg, err := generator.GenerateDialogue(ctx, req)
		if err == nil && msg != "" {
			return msg, nil
		}
		if err != nil {
			lastErr = err
		}
	}
	return "", fmt.Errorf("all dialogue generators failed: %w", lastErr)
}

var (
	_ Generator = (*LocalGenerator)(nil)
	_ Generator = (*FailbackGenerator)(nil)
)
