package onboarding

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/tbxark/stepform"
	"github.com/tbxark/stepform/types"
)

const welcomeTemplate = "Welcome to %s\n\n" +
	"Hello **%s**,\n\n" +
	"Before creating your account, you will need to agree to our terms of service and privacy policy. " +
	"These policies outline the rules and regulations that govern your use of our services and the ways in which " +
	"we collect, use, and protect your personal information.\n\n" +
	"If you do not agree to these terms, unfortunately, you will not be able to create an account with us.\n\n" +
	"**So, do you accept our privacy policy and terms of service?** Answer accept or reject.\n" +
	"This question expires in %s."

var (
	acceptWords = []string{"accept", "yes", "y", "agree", "i accept"}
	rejectWords = []string{"reject", "no", "n", "decline"}
)

type Decision string

const (
	Accepted Decision = "accepted"
	Rejected Decision = "rejected"
	// Expired means no decision arrived in time; it is treated like a rejection.
	Expired Decision = "expired"
)

// AwaitTerms waits for the participant to accept or reject the terms. Other answers are
// met with a hint and do not extend the deadline. The error is only set when ctx is done
// or the source fails.
func AwaitTerms(ctx context.Context, source stepform.InputSource, sink stepform.PromptSink, filter types.Filter, timeout time.Duration) (Decision, error) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	for {
		in, err := source.Next(waitCtx, filter)
		if err != nil {
			if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
				return Expired, nil
			}
			return "", fmt.Errorf("await terms: %w", err)
		}
		answer := strings.ToLower(strings.TrimSpace(in.Content))
		switch {
		case slices.Contains(acceptWords, answer):
			return Accepted, nil
		case slices.Contains(rejectWords, answer):
			return Rejected, nil
		}
		_ = sink.Send(ctx, "Please answer accept or reject.")
	}
}
