package onboarding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bytedance/sonic"
	"github.com/tbxark/stepform"
	"github.com/tbxark/stepform/dialogue"
	"github.com/tbxark/stepform/patch"
	"github.com/tbxark/stepform/session"
	"github.com/tbxark/stepform/store"
	"github.com/tbxark/stepform/transcript"
	"github.com/tbxark/stepform/types"
)

var ErrTermsRejected = errors.New("terms of service rejected")

// reasonInternal marks failures of the flow itself rather than of a collection step.
const reasonInternal = "internal"

// Channel is a private conversation opened for one registration.
type Channel interface {
	stepform.PromptSink
	ID() string
}

type Channels interface {
	Open(ctx context.Context, participantID string) (Channel, error)
	Close(ctx context.Context, ch Channel) error
}

type Config struct {
	Brand        string
	MailFrom     string
	VerifyEmail  bool
	TermsTimeout time.Duration
	// RejectedTeardown and FailedTeardown delay closing the channel so the
	// participant can read the last message.
	RejectedTeardown time.Duration
	FailedTeardown   time.Duration
}

func DefaultConfig() Config {
	return Config{
		Brand:            "StepForm",
		VerifyEmail:      true,
		TermsTimeout:     5 * time.Minute,
		RejectedTeardown: 30 * time.Second,
		FailedTeardown:   10 * time.Second,
	}
}

// Flow registers participants: terms, username, email and an optional PIN check.
type Flow struct {
	conf     Config
	engine   *stepform.Engine
	accounts Accounts
	channels Channels
	source   stepform.InputSource
	mailer   Mailer
	sessions *session.Registry
	dialogue dialogue.Generator
	// transcript is cleared for the channel once a run ends.
	transcript transcript.ReadWriter
}

type FlowOption func(*Flow)

// WithTranscript clears the run's transcript when Run returns. Pass the same
// history given to the engine.
func WithTranscript(t transcript.ReadWriter) FlowOption {
	return func(f *Flow) {
		f.transcript = t
	}
}

func NewFlow(conf Config, engine *stepform.Engine, accounts Accounts, channels Channels, source stepform.InputSource, mailer Mailer, sessions *session.Registry, gen dialogue.Generator, opts ...FlowOption) *Flow {
	if gen == nil {
		gen = &dialogue.LocalGenerator{}
	}
	if sessions == nil {
		sessions = session.NewRegistry()
	}
	if mailer == nil {
		conf.VerifyEmail = false
	}
	f := &Flow{
		conf:     conf,
		engine:   engine,
		accounts: accounts,
		channels: channels,
		source:   source,
		mailer:   mailer,
		sessions: sessions,
		dialogue: gen,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Flow) Sessions() *session.Registry {
	return f.sessions
}

// Run walks one participant through registration and returns the saved account.
// Every failure after the channel is opened ends with a closing message and the
// channel being closed, unless the session was torn down.
func (f *Flow) Run(ctx context.Context, participantID, displayName string) (*Account, error) {
	if _, exists, err := f.accounts.Get(ctx, participantID); err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	} else if exists {
		return nil, ErrAlreadyRegistered
	}

	sctx, release, err := f.sessions.Begin(ctx, participantID)
	if err != nil {
		return nil, err
	}
	defer release()

	ch, err := f.channels.Open(sctx, participantID)
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if f.transcript != nil {
		defer func() {
			if err := f.transcript.Clear(store.WithKey(context.WithoutCancel(sctx), ch.ID())); err != nil {
				slog.Warn("Could not clear transcript", "channel", ch.ID(), "error", err)
			}
		}()
	}

	log := slog.With("participant", participantID, "channel", ch.ID())
	run := stepform.NewRunContext(participantID, ch.ID())
	failed := func(reason, fieldID string) *dialogue.Request {
		return &dialogue.Request{
			Participant: displayName,
			Outcome:     dialogue.OutcomeFailed,
			Reason:      reason,
			FieldID:     fieldID,
			Entries:     run.Entries(),
			Masked:      []string{FieldPin},
			TeardownIn:  f.conf.FailedTeardown,
		}
	}

	welcome := fmt.Sprintf(welcomeTemplate, f.conf.Brand, displayName, f.conf.TermsTimeout)
	if err := ch.Send(sctx, welcome); err != nil {
		log.Warn("Welcome delivery failed", "error", err)
	}
	decision, err := AwaitTerms(sctx, f.source, ch, run.Matches, f.conf.TermsTimeout)
	if err != nil {
		f.finish(sctx, ch, failed(string(stepform.ReasonCancelled), ""), true)
		return nil, err
	}
	if decision != Accepted {
		log.Info("Terms not accepted", "decision", decision)
		f.finish(sctx, ch, &dialogue.Request{Participant: displayName, Outcome: dialogue.OutcomeRejected, TeardownIn: f.conf.RejectedTeardown}, true)
		return nil, ErrTermsRejected
	}

	fields := []stepform.FieldSpec{UsernameField(), EmailField(f.accounts)}
	if f.conf.VerifyEmail {
		v, err := NewVerification(f.mailer, f.conf.MailFrom, f.conf.Brand)
		if err != nil {
			f.finish(sctx, ch, failed(reasonInternal, ""), true)
			return nil, err
		}
		v.Notify = ch
		fields[1].OnAccepted = v.SendPin
		fields = append(fields, v.Field())
	}

	entries, err := f.engine.Collect(sctx, run, fields, f.source, ch)
	if err != nil {
		var failure *stepform.Failure
		if errors.As(err, &failure) {
			f.finish(sctx, ch, failed(string(failure.Reason), failure.FieldID), true)
		} else {
			f.finish(sctx, ch, failed(reasonInternal, ""), true)
		}
		return nil, err
	}

	account, err := f.save(sctx, participantID, entries)
	if err != nil {
		log.Error("Registration not saved", "error", err)
		f.finish(sctx, ch, failed(reasonInternal, ""), true)
		return nil, err
	}
	if data, err := sonic.MarshalString(account); err == nil {
		log.Info("Account registered", "account", data)
	}
	f.finish(sctx, ch, &dialogue.Request{
		Participant: displayName,
		Outcome:     dialogue.OutcomeSucceeded,
		Entries:     entries,
		Masked:      []string{FieldPin},
	}, false)
	if table := types.FormatEntries(entries, FieldPin); table != "" {
		_ = ch.Send(sctx, table)
	}
	return account, nil
}

func (f *Flow) save(ctx context.Context, participantID string, entries types.Entries) (*Account, error) {
	reg, err := patch.Build[registration](entries)
	if err != nil {
		return nil, err
	}
	account := Account{
		ParticipantID: participantID,
		Username:      reg.Username,
		Email:         reg.Email,
		Verified:      reg.Pin != "",
		CreatedAt:     time.Now(),
	}
	if err := f.accounts.Save(ctx, account); err != nil {
		return nil, fmt.Errorf("save account: %w", err)
	}
	return &account, nil
}

// finish sends the closing message and, when closeChannel is set, closes the channel
// after the teardown delay.
func (f *Flow) finish(ctx context.Context, ch Channel, req *dialogue.Request, closeChannel bool) {
	// a torn down channel is already gone
	if errors.Is(context.Cause(ctx), session.ErrTornDown) {
		return
	}
	log := slog.With("channel", ch.ID())
	msg, err := f.dialogue.GenerateDialogue(ctx, req)
	if err != nil {
		log.Warn("Dialogue generation failed", "error", err)
	} else if err := ch.Send(ctx, msg); err != nil {
		log.Warn("Closing message delivery failed", "error", err)
	}
	if !closeChannel {
		return
	}
	if req.TeardownIn > 0 {
		t := time.NewTimer(req.TeardownIn)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			if errors.Is(context.Cause(ctx), session.ErrTornDown) {
				return
			}
		}
	}
	if err := f.channels.Close(context.WithoutCancel(ctx), ch); err != nil {
		log.Warn("Could not close channel", "error", err)
	}
}
