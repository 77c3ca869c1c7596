package onboarding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tbxark/stepform/store"
)

var ErrAlreadyRegistered = errors.New("participant already has an account")

type Account struct {
	ParticipantID string    `json:"participant_id"`
	Username      string    `json:"username"`
	Email         string    `json:"email"`
	Verified      bool      `json:"verified"`
	CreatedAt     time.Time `json:"created_at"`
}

// registration is the record assembled from the collected entries.
type registration struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Pin      string `json:"pin6,omitempty"`
}

type Accounts interface {
	Get(ctx context.Context, participantID string) (Account, bool, error)
	Save(ctx context.Context, account Account) error
	EmailTaken(ctx context.Context, email string) (bool, error)
}

// MemoryAccounts keeps accounts in a store.Cache keyed by participant id.
type MemoryAccounts struct {
	// mu serializes Save so the email check and insert are atomic.
	mu    sync.Mutex
	cache store.Cache[Account]
}

func NewMemoryAccounts() *MemoryAccounts {
	return &MemoryAccounts{cache: store.NewMemoryCache[Account]()}
}

func NewAccounts(cache store.Cache[Account]) *MemoryAccounts {
	return &MemoryAccounts{cache: cache}
}

func (a *MemoryAccounts) Get(ctx context.Context, participantID string) (Account, bool, error) {
	return a.cache.Get(ctx, participantID)
}

func (a *MemoryAccounts) Save(ctx context.Context, account Account) error {
	if account.ParticipantID == "" {
		return errors.New("account has no participant id")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	taken, err := a.EmailTaken(ctx, account.Email)
	if err != nil {
		return err
	}
	if taken {
		return fmt.Errorf("email %s is already registered", account.Email)
	}
	return a.cache.Set(ctx, account.ParticipantID, account)
}

func (a *MemoryAccounts) EmailTaken(ctx context.Context, email string) (bool, error) {
	taken := false
	err := a.cache.Range(ctx, func(key string, acc Account) bool {
		taken = strings.EqualFold(acc.Email, email)
		return !taken
	})
	return taken, err
}

var _ Accounts = (*MemoryAccounts)(nil)
