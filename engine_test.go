package stepform

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/tbxark/stepform/command"
	"github.com/tbxark/stepform/inbox"
	"github.com/tbxark/stepform/outbox"
	"github.com/tbxark/stepform/store"
	"github.com/tbxark/stepform/transcript"
	"github.com/tbxark/stepform/types"
	"go.uber.org/goleak"
	"golang.org/x/sync/errgroup"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	testConversation = "conv-1"
	testParticipant  = "alice"
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9]+$`)

func usernameField() FieldSpec {
	return FieldSpec{
		ID:     "username",
		Prompt: "What should be your username?",
		Validate: func(ctx context.Context, raw string, prior types.Entries) (string, error) {
			if !usernamePattern.MatchString(raw) {
				return "", Invalid("The username must not have special characters. A-Za-z0-9")
			}
			return strings.ToLower(strings.TrimSpace(raw)), nil
		},
	}
}

func emailField() FieldSpec {
	return FieldSpec{
		ID:     "email",
		Prompt: "What is your email?",
		Validate: func(ctx context.Context, raw string, prior types.Entries) (string, error) {
			addr, err := mail.ParseAddress(strings.TrimSpace(raw))
			if err != nil || addr.Address != strings.TrimSpace(raw) {
				return "", Invalid("The email address must be valid")
			}
			return strings.ToLower(addr.Address), nil
		},
	}
}

func pinField(pin string, retries int) FieldSpec {
	return FieldSpec{
		ID:         "pin",
		Prompt:     "What is the 6 pin code sent on your email?",
		RetryLimit: Retries(retries),
		Validate: func(ctx context.Context, raw string, prior types.Entries) (string, error) {
			if raw != pin {
				return "", Invalid("The pin code is incorrect.")
			}
			return raw, nil
		},
	}
}

func script(lines ...string) *inbox.Script {
	return inbox.NewScript(inbox.Lines(testConversation, testParticipant, lines...)...)
}

func newRun() *RunContext {
	return NewRunContext(testParticipant, testConversation)
}

func collect(t *testing.T, e *Engine, fields []FieldSpec, src InputSource, sink PromptSink) (types.Entries, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return e.Collect(ctx, newRun(), fields, src, sink)
}

func TestCollectUsernameAndEmail(t *testing.T) {
	src := script("bad name!", "gooduser", "not-an-email", "a@b.com")
	sink := outbox.NewRecorder()

	got, err := collect(t, NewEngine(), []FieldSpec{usernameField(), emailField()}, src, sink)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	want := map[string]string{"username": "gooduser", "email": "a@b.com"}
	if diff := cmp.Diff(want, got.Map()); diff != "" {
		t.Errorf("entries mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"username", "email"}, got.IDs()); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
	wantPrompts := []string{
		"What should be your username?",
		"The username must not have special characters. A-Za-z0-9",
		"What is your email?",
		"The email address must be valid",
	}
	if diff := cmp.Diff(wantPrompts, sink.Messages()); diff != "" {
		t.Errorf("prompts mismatch (-want +got):\n%s", diff)
	}
}

func TestCollectPinSecondAttempt(t *testing.T) {
	src := script("000000", "111111", "222222")
	got, err := collect(t, NewEngine(), []FieldSpec{pinField("111111", 1)}, src, outbox.NewRecorder())
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if v, _ := got.Get("pin"); v != "111111" {
		t.Errorf("pin = %q, want 111111", v)
	}
	if src.Remaining() != 1 {
		t.Errorf("remaining inputs = %d, want 1", src.Remaining())
	}
}

func TestRetryLimitBoundary(t *testing.T) {
	for _, n := range []int{0, 1, 3} {
		t.Run(fmt.Sprintf("limit=%d", n), func(t *testing.T) {
			wrong := make([]string, 0, n+1)
			for i := 0; i <= n; i++ {
				wrong = append(wrong, "000000")
			}

			_, err := collect(t, NewEngine(), []FieldSpec{pinField("123456", n)}, script(wrong...), outbox.NewRecorder())
			if !errors.Is(err, ErrRetriesExhausted) {
				t.Fatalf("err = %v, want retries exhausted", err)
			}
			var f *Failure
			if !errors.As(err, &f) || f.FieldID != "pin" || f.Attempts != n+1 {
				t.Errorf("failure = %+v", f)
			}

			src := script(append(wrong[:n], "123456")...)
			got, err := collect(t, NewEngine(), []FieldSpec{pinField("123456", n)}, src, outbox.NewRecorder())
			if err != nil {
				t.Fatalf("%d failures then success: %v", n, err)
			}
			if v, _ := got.Get("pin"); v != "123456" {
				t.Errorf("pin = %q", v)
			}
		})
	}
}

func TestDefaultRetryLimit(t *testing.T) {
	e := NewEngine(WithDefaultRetryLimit(1))
	_, err := collect(t, e, []FieldSpec{usernameField()}, script("a b", "c d", "ok"), outbox.NewRecorder())
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("err = %v, want retries exhausted after two failures", err)
	}
}

func TestTimeoutStopsLaterFields(t *testing.T) {
	laterRan := false
	later := FieldSpec{
		ID:     "email",
		Prompt: "What is your email?",
		Validate: func(ctx context.Context, raw string, prior types.Entries) (string, error) {
			laterRan = true
			return raw, nil
		},
		OnAccepted: func(ctx context.Context, collected types.Entries) error {
			laterRan = true
			return nil
		},
	}
	first := usernameField()
	first.Timeout = 30 * time.Millisecond

	run := newRun()
	sink := outbox.NewRecorder()
	start := time.Now()
	_, err := NewEngine().Collect(context.Background(), run, []FieldSpec{first, later}, script(), sink)
	if !errors.Is(err, &Failure{Reason: ReasonTimeout, FieldID: "username"}) {
		t.Fatalf("err = %v, want timeout on username", err)
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("returned after %s, before the timeout", elapsed)
	}
	if laterRan {
		t.Error("later field was evaluated after a timeout")
	}
	if diff := cmp.Diff([]string{"What should be your username?"}, sink.Messages()); diff != "" {
		t.Errorf("prompts mismatch (-want +got):\n%s", diff)
	}
	if run.Phase() != PhaseFailed || run.Failure().Reason != ReasonTimeout {
		t.Errorf("run phase = %s, failure = %+v", run.Phase(), run.Failure())
	}
}

func TestEngineDefaultTimeout(t *testing.T) {
	e := NewEngine(WithDefaultTimeout(20 * time.Millisecond))
	_, err := collect(t, e, []FieldSpec{usernameField()}, script(), outbox.NewRecorder())
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want timeout", err)
	}
}

func TestOtherParticipantIgnored(t *testing.T) {
	src := inbox.NewScript(
		types.Input{ConversationID: testConversation, AuthorID: "mallory", Content: "bad name!"},
		types.Input{ConversationID: "other-conv", AuthorID: testParticipant, Content: "bad name!"},
		types.Input{ConversationID: testConversation, AuthorID: testParticipant, Content: "gooduser"},
	)
	field := usernameField()
	field.RetryLimit = Retries(0)
	sink := outbox.NewRecorder()

	got, err := collect(t, NewEngine(), []FieldSpec{field}, src, sink)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if v, _ := got.Get("username"); v != "gooduser" {
		t.Errorf("username = %q", v)
	}
	if len(src.Dropped()) != 2 {
		t.Errorf("dropped = %d, want 2", len(src.Dropped()))
	}
	if len(sink.Messages()) != 1 {
		t.Errorf("foreign inputs produced error prompts: %v", sink.Messages())
	}
}

func TestOnAcceptedSeesOnlyEarlierEntries(t *testing.T) {
	ids := []string{"a", "b", "c"}
	seen := map[string][]string{}
	var fields []FieldSpec
	for _, id := range ids {
		fields = append(fields, FieldSpec{
			ID:     id,
			Prompt: "value for " + id,
			OnAccepted: func(ctx context.Context, collected types.Entries) error {
				seen[id] = collected.IDs()
				return nil
			},
		})
	}

	got, err := collect(t, NewEngine(), fields, script("1", "2", "3"), outbox.NewRecorder())
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	want := map[string][]string{
		"a": {"a"},
		"b": {"a", "b"},
		"c": {"a", "b", "c"},
	}
	if diff := cmp.Diff(want, seen); diff != "" {
		t.Errorf("side effect views mismatch (-want +got):\n%s", diff)
	}
	for _, e := range got {
		if e.Effect.Status != types.EffectApplied {
			t.Errorf("%s effect = %s, want applied", e.ID, e.Effect.Status)
		}
	}
}

func TestCollectIsRepeatable(t *testing.T) {
	fields := []FieldSpec{usernameField(), emailField(), pinField("654321", 2)}
	inputs := []string{"Bob!", "Bob", "bob@example.com", "1", "654321"}

	first, err1 := collect(t, NewEngine(), fields, script(inputs...), outbox.NewRecorder())
	second, err2 := collect(t, NewEngine(), fields, script(inputs...), outbox.NewRecorder())
	if err1 != nil || err2 != nil {
		t.Fatalf("errors: %v, %v", err1, err2)
	}
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("results differ (-first +second):\n%s", diff)
	}

	_, err1 = collect(t, NewEngine(), fields, script("!", "!", "!", "!"), outbox.NewRecorder())
	_, err2 = collect(t, NewEngine(), fields, script("!", "!", "!", "!"), outbox.NewRecorder())
	var f1, f2 *Failure
	if !errors.As(err1, &f1) || !errors.As(err2, &f2) {
		t.Fatalf("expected failures, got %v and %v", err1, err2)
	}
	if f1.Reason != f2.Reason || f1.FieldID != f2.FieldID || f1.Attempts != f2.Attempts {
		t.Errorf("failures differ: %+v vs %+v", f1, f2)
	}
}

func TestCancelWhileWaiting(t *testing.T) {
	hub := inbox.NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for hub.Waiting() == 0 {
			time.Sleep(time.Millisecond)
		}
		cancel()
	}()

	run := newRun()
	_, err := NewEngine().Collect(ctx, run, []FieldSpec{usernameField()}, hub, outbox.NewRecorder())
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("err = %v, want cancelled", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("failure should wrap context.Canceled: %v", err)
	}
	if hub.Waiting() != 0 {
		t.Error("cancelled run left a waiter behind")
	}
}

func TestSourceClosedCancelsRun(t *testing.T) {
	src := script()
	src.Close()
	_, err := collect(t, NewEngine(), []FieldSpec{usernameField()}, src, outbox.NewRecorder())
	if !errors.Is(err, ErrCancelled) || !errors.Is(err, inbox.ErrClosed) {
		t.Fatalf("err = %v, want cancelled wrapping ErrClosed", err)
	}
}

func TestCancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sink := outbox.NewRecorder()
	_, err := NewEngine().Collect(ctx, newRun(), []FieldSpec{usernameField()}, script("x"), sink)
	if !errors.Is(err, &Failure{Reason: ReasonCancelled, FieldID: "username"}) {
		t.Fatalf("err = %v", err)
	}
	if len(sink.Messages()) != 0 {
		t.Errorf("prompts sent after cancellation: %v", sink.Messages())
	}
}

func TestSideEffectFault(t *testing.T) {
	mailErr := errors.New("smtp: connection refused")
	email := emailField()
	email.OnAccepted = func(ctx context.Context, collected types.Entries) error {
		return mailErr
	}
	fields := []FieldSpec{email, pinField("111111", 0)}

	t.Run("warning", func(t *testing.T) {
		got, err := collect(t, NewEngine(), fields, script("a@b.com", "111111"), outbox.NewRecorder())
		if err != nil {
			t.Fatalf("collect: %v", err)
		}
		warnings := got.Warnings()
		if len(warnings) != 1 || warnings[0].ID != "email" || warnings[0].Effect.Reason != mailErr.Error() {
			t.Errorf("warnings = %+v", warnings)
		}
		if v, _ := got.Get("email"); v != "a@b.com" {
			t.Errorf("email capture revoked: %q", v)
		}
	})

	t.Run("fatal", func(t *testing.T) {
		sink := outbox.NewRecorder()
		_, err := collect(t, NewEngine(WithFatalEffects()), fields, script("a@b.com", "111111"), sink)
		if !errors.Is(err, &Failure{Reason: ReasonSideEffect, FieldID: "email"}) {
			t.Fatalf("err = %v, want side effect failure", err)
		}
		for _, m := range sink.Messages() {
			if strings.Contains(m, "pin") {
				t.Errorf("pin prompt sent after fatal fault: %q", m)
			}
		}
	})
}

func TestSideEffectTimeoutAndPanic(t *testing.T) {
	slow := FieldSpec{ID: "slow", Prompt: "slow", OnAccepted: func(ctx context.Context, collected types.Entries) error {
		<-ctx.Done()
		return ctx.Err()
	}}
	boom := FieldSpec{ID: "boom", Prompt: "boom", OnAccepted: func(ctx context.Context, collected types.Entries) error {
		panic("mailer exploded")
	}}

	got, err := collect(t, NewEngine(WithEffectTimeout(20*time.Millisecond)), []FieldSpec{slow, boom}, script("x", "y"), outbox.NewRecorder())
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(got.Warnings()) != 2 {
		t.Fatalf("warnings = %+v", got.Warnings())
	}
	if !strings.Contains(got[0].Effect.Reason, "deadline") {
		t.Errorf("slow effect reason = %q", got[0].Effect.Reason)
	}
	if !strings.Contains(got[1].Effect.Reason, "mailer exploded") {
		t.Errorf("panic effect reason = %q", got[1].Effect.Reason)
	}
}

func TestDeliveryFailure(t *testing.T) {
	failingSink := func() *outbox.Recorder {
		r := outbox.NewRecorder()
		r.Fail = func(text string) error {
			if strings.HasPrefix(text, "The username") {
				return errors.New("missing permissions")
			}
			return nil
		}
		return r
	}

	got, err := collect(t, NewEngine(), []FieldSpec{usernameField()}, script("a b", "ok"), failingSink())
	if err != nil {
		t.Fatalf("lenient delivery should not fail: %v", err)
	}
	if v, _ := got.Get("username"); v != "ok" {
		t.Errorf("username = %q", v)
	}

	_, err = collect(t, NewEngine(WithStrictDelivery()), []FieldSpec{usernameField()}, script("a b", "ok"), failingSink())
	if !errors.Is(err, ErrDelivery) {
		t.Fatalf("err = %v, want delivery failure", err)
	}
}

func TestInvalidFieldSet(t *testing.T) {
	tests := map[string][]FieldSpec{
		"duplicate": {usernameField(), usernameField()},
		"empty id":  {{Prompt: "no id"}},
	}
	for name, fields := range tests {
		t.Run(name, func(t *testing.T) {
			sink := outbox.NewRecorder()
			run := newRun()
			_, err := NewEngine().Collect(context.Background(), run, fields, script("x"), sink)
			if !errors.Is(err, ErrInvalidFields) {
				t.Fatalf("err = %v, want ErrInvalidFields", err)
			}
			if len(sink.Messages()) != 0 || run.Phase() != PhaseNotStarted {
				t.Errorf("invalid field set started the run")
			}
		})
	}
}

func TestRunContextSingleUse(t *testing.T) {
	run := newRun()
	e := NewEngine()
	if _, err := e.Collect(context.Background(), run, []FieldSpec{usernameField()}, script("ok"), outbox.NewRecorder()); err != nil {
		t.Fatalf("first collect: %v", err)
	}
	if _, err := e.Collect(context.Background(), run, []FieldSpec{usernameField()}, script("ok"), outbox.NewRecorder()); !errors.Is(err, ErrRunStarted) {
		t.Fatalf("err = %v, want ErrRunStarted", err)
	}
	if run.Phase() != PhaseSucceeded {
		t.Errorf("phase = %s", run.Phase())
	}
}

func TestValidatorFaultsBecomeValidationFailures(t *testing.T) {
	calls := 0
	field := FieldSpec{
		ID:     "code",
		Prompt: "code?",
		Validate: func(ctx context.Context, raw string, prior types.Entries) (string, error) {
			calls++
			switch calls {
			case 1:
				panic("nil map")
			case 2:
				return "", errors.New("database is locked")
			}
			return raw, nil
		},
	}
	sink := outbox.NewRecorder()
	e := NewEngine(WithInternalFaultMessage("Please try again."))
	got, err := collect(t, e, []FieldSpec{field}, script("1", "2", "3"), sink)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if v, _ := got.Get("code"); v != "3" {
		t.Errorf("code = %q", v)
	}
	if diff := cmp.Diff([]string{"code?", "Please try again.", "Please try again."}, sink.Messages()); diff != "" {
		t.Errorf("prompts mismatch (-want +got):\n%s", diff)
	}
}

func TestParticipantCancelCommand(t *testing.T) {
	e := NewEngine(WithCommandParser(command.NewLocalParser()))
	_, err := collect(t, e, []FieldSpec{usernameField(), emailField()}, script("gooduser", "cancel"), outbox.NewRecorder())
	if !errors.Is(err, &Failure{Reason: ReasonCancelled, FieldID: "email"}) {
		t.Fatalf("err = %v, want cancellation on email", err)
	}
}

func TestKeywordIsCapturedWhenValid(t *testing.T) {
	e := NewEngine(WithCommandParser(command.NewLocalParser()))
	got, err := collect(t, e, []FieldSpec{usernameField(), emailField()}, script("stop", "a@b.com"), outbox.NewRecorder())
	if err != nil {
		t.Fatalf("valid answer equal to a keyword aborted the run: %v", err)
	}
	want := map[string]string{"username": "stop", "email": "a@b.com"}
	if diff := cmp.Diff(want, got.Map()); diff != "" {
		t.Errorf("entries mismatch (-want +got):\n%s", diff)
	}
}

func TestSecretAnswersMaskedInTranscript(t *testing.T) {
	history := transcript.NewMemoryHistory(nil)
	pin := pinField("123456", 1)
	pin.Secret = true
	e := NewEngine(WithTranscript(history))
	got, err := collect(t, e, []FieldSpec{pin}, script("000000", "123456"), outbox.NewRecorder())
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if v, _ := got.Get("pin"); v != "123456" {
		t.Errorf("pin = %q, the captured value must stay unmasked", v)
	}
	msgs, err := history.Load(store.WithKey(context.Background(), testConversation))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	for _, m := range msgs {
		if strings.Contains(m.Content, "123456") || strings.Contains(m.Content, "000000") {
			t.Errorf("secret answer recorded: %q", m.Content)
		}
	}
	if len(msgs) != 4 || msgs[1].Content != "******" {
		t.Errorf("transcript = %+v", msgs)
	}
}

func TestTranscriptRecordsExchange(t *testing.T) {
	history := transcript.NewMemoryHistory(nil)
	e := NewEngine(WithTranscript(history))
	if _, err := collect(t, e, []FieldSpec{usernameField()}, script("x y", "xy"), outbox.NewRecorder()); err != nil {
		t.Fatalf("collect: %v", err)
	}
	msgs, err := history.Load(store.WithKey(context.Background(), testConversation))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	var got []string
	for _, m := range msgs {
		got = append(got, string(m.Role)+":"+m.Content)
	}
	want := []string{
		"assistant:What should be your username?",
		"user:x y",
		"assistant:The username must not have special characters. A-Za-z0-9",
		"user:xy",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("transcript mismatch (-want +got):\n%s", diff)
	}
}

func TestConcurrentRunsAreIsolated(t *testing.T) {
	hub := inbox.NewHub()
	e := NewEngine()
	const n = 8

	var mu sync.Mutex
	results := map[string]string{}
	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < n; i++ {
		participant := fmt.Sprintf("user%d", i)
		conversation := "conv-" + participant
		g.Go(func() error {
			run := NewRunContext(participant, conversation)
			entries, err := e.Collect(ctx, run, []FieldSpec{usernameField()}, hub, outbox.NewRecorder())
			if err != nil {
				return err
			}
			v, _ := entries.Get("username")
			mu.Lock()
			results[participant] = v
			mu.Unlock()
			return nil
		})
	}
	for hub.Waiting() < n {
		time.Sleep(time.Millisecond)
	}
	for i := n - 1; i >= 0; i-- {
		participant := fmt.Sprintf("user%d", i)
		hub.Publish(types.Input{ConversationID: "conv-" + participant, AuthorID: participant, Content: "Name" + participant})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("runs failed: %v", err)
	}
	for i := 0; i < n; i++ {
		participant := fmt.Sprintf("user%d", i)
		if want := "name" + participant; results[participant] != want {
			t.Errorf("%s captured %q, want %q", participant, results[participant], want)
		}
	}
}
