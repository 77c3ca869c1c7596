package stepform

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/callbacks"
	"github.com/tbxark/stepform/store"
	"github.com/tbxark/stepform/types"
)

// Engine walks a participant through an ordered list of fields. An Engine holds only
// configuration and may serve many concurrent runs.
type Engine struct {
	opts options
}

func NewEngine(opts ...Option) *Engine {
	return &Engine{opts: newOptions(opts...)}
}

// Collect runs every field in order and returns the captured entries. It stops at the
// first failing field and returns a *Failure; later fields are never prompted and their
// side effects never run. Errors other than *Failure mean the run was never started.
func (e *Engine) Collect(ctx context.Context, run *RunContext, fields []FieldSpec, source InputSource, sink PromptSink) (types.Entries, error) {
	if run == nil {
		return nil, fmt.Errorf("%w: nil run context", ErrInvalidFields)
	}
	if err := validateFields(fields); err != nil {
		return nil, err
	}
	if err := run.start(); err != nil {
		return nil, err
	}

	ctx = store.WithKey(ctx, run.ConversationID)
	ctx = callbacks.EnsureRunInfo(ctx, "StepForm", "Collector")
	ctx = callbacks.OnStart(ctx, map[string]any{
		"run_id":         run.ID,
		"participant_id": run.ParticipantID,
		"fields":         len(fields),
	})
	log := e.opts.logger.With("run_id", run.ID)
	log.Debug("Collection started", "participant", run.ParticipantID, "conversation", run.ConversationID, "fields", len(fields))

	for _, field := range fields {
		if err := ctx.Err(); err != nil {
			return nil, e.abort(ctx, run, &Failure{Reason: ReasonCancelled, FieldID: field.ID, Err: err})
		}
		entry, failure := e.runStep(ctx, run, field, source, sink)
		if failure != nil {
			return nil, e.abort(ctx, run, failure)
		}
		run.advance(entry)
	}

	run.succeed()
	entries := run.Entries()
	log.Info("Collection succeeded", "fields", entries.IDs(), "warnings", len(entries.Warnings()))
	callbacks.OnEnd(ctx, map[string]any{
		"run_id":  run.ID,
		"entries": entries,
	})
	return entries, nil
}

func (e *Engine) abort(ctx context.Context, run *RunContext, f *Failure) *Failure {
	run.fail(f)
	e.opts.logger.Info("Collection failed", "run_id", run.ID, "field", f.FieldID, "reason", f.Reason, "attempts", f.Attempts)
	callbacks.OnError(ctx, f)
	return f
}
