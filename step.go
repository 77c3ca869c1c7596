package stepform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cloudwego/eino/schema"
	"github.com/tbxark/stepform/command"
	"github.com/tbxark/stepform/types"
)

// runStep drives one field to a captured entry or a step failure. The failure counter
// lives here and nowhere else, so no two steps or runs share retry state.
func (e *Engine) runStep(ctx context.Context, run *RunContext, field FieldSpec, source InputSource, sink PromptSink) (types.Entry, *Failure) {
	log := e.opts.logger.With("run_id", run.ID, "field", field.ID)

	if f := e.deliver(ctx, field.ID, sink, field.Prompt, log); f != nil {
		return types.Entry{}, f
	}

	limit := e.retryLimit(field)
	timeout := e.timeout(field)
	attempts := 0
	failures := 0
	for {
		in, err := e.await(ctx, run, source, timeout)
		if err != nil {
			return types.Entry{}, waitFailure(ctx, field.ID, attempts, err)
		}
		attempts++
		history := e.record(ctx, log, schema.UserMessage(recorded(field, in.Content)))

		value, verr := e.validate(ctx, field, in.Content, run.Entries(), log)
		if verr == nil {
			entry := types.Entry{ID: field.ID, Value: value, Effect: types.Effect{Status: types.EffectNone}}
			if field.OnAccepted != nil {
				collected := append(run.Entries(), entry)
				entry.Effect = e.applyEffect(ctx, field, collected, log)
				if ctx.Err() != nil {
					return types.Entry{}, &Failure{Reason: ReasonCancelled, FieldID: field.ID, Attempts: attempts, Err: ctx.Err()}
				}
				if entry.Effect.Faulted() && e.opts.fatalEffects {
					return types.Entry{}, &Failure{Reason: ReasonSideEffect, FieldID: field.ID, Attempts: attempts, Err: errors.New(entry.Effect.Reason)}
				}
			}
			log.Debug("Captured field", "attempt", attempts, "effect", entry.Effect.Status)
			return entry, nil
		}
		if ctx.Err() != nil {
			return types.Entry{}, &Failure{Reason: ReasonCancelled, FieldID: field.ID, Attempts: attempts, Err: ctx.Err()}
		}
		// only answers the validator rejected are read as commands
		if e.parseCommand(ctx, field, in, history, log) == command.Cancel {
			log.Info("Run cancelled by participant", "attempt", attempts)
			return types.Entry{}, &Failure{Reason: ReasonCancelled, FieldID: field.ID, Attempts: attempts, Err: errors.New("cancelled by participant")}
		}

		failures++
		log.Debug("Answer rejected", "attempt", attempts, "error", verr)
		if f := e.deliver(ctx, field.ID, sink, verr.Error(), log); f != nil {
			f.Attempts = attempts
			return types.Entry{}, f
		}
		if failures > limit {
			return types.Entry{}, &Failure{Reason: ReasonRetriesExhausted, FieldID: field.ID, Attempts: attempts, Err: verr}
		}
	}
}

// recorded is the form of an answer kept in the transcript.
func recorded(field FieldSpec, content string) string {
	if field.Secret {
		return strings.Repeat("*", utf8.RuneCountInString(content))
	}
	return content
}

func (e *Engine) retryLimit(field FieldSpec) int {
	if field.RetryLimit != nil {
		return max(*field.RetryLimit, 0)
	}
	return e.opts.retryLimit
}

func (e *Engine) timeout(field FieldSpec) time.Duration {
	if field.Timeout > 0 {
		return field.Timeout
	}
	return e.opts.stepTimeout
}

func (e *Engine) await(ctx context.Context, run *RunContext, source InputSource, timeout time.Duration) (types.Input, error) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return source.Next(waitCtx, run.Matches)
}

func waitFailure(ctx context.Context, fieldID string, attempts int, err error) *Failure {
	if ctx.Err() != nil {
		return &Failure{Reason: ReasonCancelled, FieldID: fieldID, Attempts: attempts, Err: ctx.Err()}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Failure{Reason: ReasonTimeout, FieldID: fieldID, Attempts: attempts, Err: err}
	}
	// the source itself went away, e.g. the conversation was deleted
	return &Failure{Reason: ReasonCancelled, FieldID: fieldID, Attempts: attempts, Err: err}
}

func (e *Engine) validate(ctx context.Context, field FieldSpec, raw string, prior types.Entries, log *slog.Logger) (value string, err error) {
	if field.Validate == nil {
		return strings.TrimSpace(raw), nil
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error("Validator panicked", "panic", r)
			value, err = "", &ValidationError{Message: e.opts.internalFault}
		}
	}()
	value, err = field.Validate(ctx, raw, prior)
	if err == nil {
		return value, nil
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return "", ve
	}
	log.Error("Validator failed", "error", err)
	return "", &ValidationError{Message: e.opts.internalFault}
}

func (e *Engine) applyEffect(ctx context.Context, field FieldSpec, collected types.Entries, log *slog.Logger) (effect types.Effect) {
	effectCtx, cancel := context.WithTimeout(ctx, e.opts.effectTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			log.Error("Side effect panicked", "panic", r)
			effect = types.Effect{Status: types.EffectFaulted, Reason: fmt.Sprintf("panic: %v", r)}
		}
	}()
	if err := field.OnAccepted(effectCtx, collected); err != nil {
		log.Warn("Side effect faulted", "error", err)
		return types.Effect{Status: types.EffectFaulted, Reason: err.Error()}
	}
	return types.Effect{Status: types.EffectApplied}
}

func (e *Engine) deliver(ctx context.Context, fieldID string, sink PromptSink, text string, log *slog.Logger) *Failure {
	e.record(ctx, log, schema.AssistantMessage(text, nil))
	if err := sink.Send(ctx, text); err != nil {
		log.Warn("Prompt delivery failed", "error", err)
		if e.opts.strictDelivery {
			return &Failure{Reason: ReasonDelivery, FieldID: fieldID, Err: err}
		}
	}
	return nil
}

func (e *Engine) record(ctx context.Context, log *slog.Logger, msg *schema.Message) []*schema.Message {
	if e.opts.transcript == nil {
		return nil
	}
	history, err := e.opts.transcript.Append(ctx, msg)
	if err != nil {
		log.Warn("Transcript append failed", "error", err)
		return nil
	}
	return history
}

func (e *Engine) parseCommand(ctx context.Context, field FieldSpec, in types.Input, history []*schema.Message, log *slog.Logger) command.Command {
	if e.opts.commandParser == nil {
		return command.None
	}
	cmd, err := e.opts.commandParser.ParseCommand(ctx, &command.Request{
		FieldID:  field.ID,
		Question: field.Prompt,
		Answer:   in.Content,
		History:  history,
	})
	if err != nil {
		log.Warn("Command parsing failed", "error", err)
		return command.None
	}
	return cmd
}
