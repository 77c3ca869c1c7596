package stepform

import (
	"context"
	"log/slog"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/tbxark/stepform/command"
)

const (
	DefaultStepTimeout   = 5 * time.Minute
	DefaultRetryLimit    = 3
	DefaultEffectTimeout = 30 * time.Second
)

// Transcript records the exchange of a run. Implementations route by the
// conversation key stored in the context (see store.WithKey).
type Transcript interface {
	Append(ctx context.Context, msgs ...*schema.Message) ([]*schema.Message, error)
}

type options struct {
	stepTimeout    time.Duration
	retryLimit     int
	effectTimeout  time.Duration
	strictDelivery bool
	fatalEffects   bool
	commandParser  command.Parser
	transcript     Transcript
	logger         *slog.Logger
	internalFault  string
}

type Option func(*options)

func WithDefaultTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.stepTimeout = d
		}
	}
}

func WithDefaultRetryLimit(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.retryLimit = n
		}
	}
}

// WithEffectTimeout bounds each OnAccepted call.
func WithEffectTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.effectTimeout = d
		}
	}
}

// WithStrictDelivery fails the run when the sink cannot deliver a prompt.
func WithStrictDelivery() Option {
	return func(o *options) {
		o.strictDelivery = true
	}
}

// WithFatalEffects fails the run when an OnAccepted side effect faults.
func WithFatalEffects() Option {
	return func(o *options) {
		o.fatalEffects = true
	}
}

// WithCommandParser lets participants abort a run with a cancel intent.
func WithCommandParser(p command.Parser) Option {
	return func(o *options) {
		o.commandParser = p
	}
}

func WithTranscript(t Transcript) Option {
	return func(o *options) {
		o.transcript = t
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithInternalFaultMessage sets the text shown when a validator fails unexpectedly.
func WithInternalFaultMessage(msg string) Option {
	return func(o *options) {
		if msg != "" {
			o.internalFault = msg
		}
	}
}

func newOptions(opts ...Option) options {
	o := options{
		stepTimeout:   DefaultStepTimeout,
		retryLimit:    DefaultRetryLimit,
		effectTimeout: DefaultEffectTimeout,
		logger:        slog.Default(),
		internalFault: "Something went wrong while checking your answer, please try again.",
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}
