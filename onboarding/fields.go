package onboarding

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"net/mail"
	"regexp"
	"strings"

	"github.com/tbxark/stepform"
	"github.com/tbxark/stepform/types"
)

const (
	FieldUsername = "username"
	FieldEmail    = "email"
	FieldPin      = "pin6"
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9]+$`)

func UsernameField() stepform.FieldSpec {
	return stepform.FieldSpec{
		ID:     FieldUsername,
		Prompt: "What should be your username?",
		Validate: func(ctx context.Context, raw string, prior types.Entries) (string, error) {
			if !usernamePattern.MatchString(raw) {
				return "", stepform.Invalid("The username must not have special characters. A-Za-z0-9")
			}
			return strings.ToLower(strings.TrimSpace(raw)), nil
		},
	}
}

// EmailField accepts a bare address that no account uses yet.
func EmailField(accounts Accounts) stepform.FieldSpec {
	return stepform.FieldSpec{
		ID:     FieldEmail,
		Prompt: "What is your email?",
		Validate: func(ctx context.Context, raw string, prior types.Entries) (string, error) {
			if !validEmail(raw) {
				return "", stepform.Invalid("The email address must be valid")
			}
			email := strings.ToLower(strings.TrimSpace(raw))
			if accounts != nil {
				taken, err := accounts.EmailTaken(ctx, email)
				if err != nil {
					return "", fmt.Errorf("check email: %w", err)
				}
				if taken {
					return "", stepform.Invalid("This email address is already in use")
				}
			}
			return email, nil
		},
	}
}

func validEmail(raw string) bool {
	addr, err := mail.ParseAddress(raw)
	if err != nil || addr.Address != raw || addr.Name != "" {
		return false
	}
	_, domain, ok := strings.Cut(addr.Address, "@")
	return ok && strings.Contains(domain, ".") && !strings.HasSuffix(domain, ".")
}

// Verification mails a 6 digit PIN once the email is captured and checks it afterwards.
type Verification struct {
	mailer Mailer
	from   string
	brand  string
	pin    string
	// Notify, when set, is told that the mail could not be sent.
	Notify stepform.PromptSink
}

func NewVerification(mailer Mailer, from, brand string) (*Verification, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return nil, fmt.Errorf("generate pin: %w", err)
	}
	return &Verification{
		mailer: mailer,
		from:   from,
		brand:  brand,
		pin:    fmt.Sprintf("%06d", n.Int64()+100000),
	}, nil
}

// SendPin is the side effect of the email field.
func (v *Verification) SendPin(ctx context.Context, collected types.Entries) error {
	to, ok := collected.Get(FieldEmail)
	if !ok {
		return fmt.Errorf("no %s collected", FieldEmail)
	}
	err := v.mailer.Send(ctx, Mail{
		From:    v.from,
		To:      to,
		Subject: fmt.Sprintf("%s - Here is your 6pin code", v.pin),
		Text: fmt.Sprintf("Thank you for registering at %s. Your 6pin verification code is: %s\n\nThanks and have a nice day!\n%s",
			v.brand, v.pin, v.brand),
	})
	if err != nil && v.Notify != nil {
		_ = v.Notify.Send(ctx, "Error sending the email")
	}
	return err
}

func (v *Verification) Field() stepform.FieldSpec {
	return stepform.FieldSpec{
		ID:         FieldPin,
		Prompt:     "What is the 6 pin code sent on your email?",
		RetryLimit: stepform.Retries(4),
		Secret:     true,
		Validate: func(ctx context.Context, raw string, prior types.Entries) (string, error) {
			if strings.TrimSpace(raw) != v.pin {
				return "", stepform.Invalid("The pin code is incorrect.")
			}
			return v.pin, nil
		},
	}
}
