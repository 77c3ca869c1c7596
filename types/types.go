package types

import (
	"slices"
	"time"
)

// Input is one inbound message from a conversation participant.
type Input struct {
	ConversationID string    `json:"conversation_id"`
	AuthorID       string    `json:"author_id"`
	Content        string    `json:"content"`
	ReceivedAt     time.Time `json:"received_at"`
}

// Filter reports whether an input belongs to the waiter that installed it.
type Filter func(in Input) bool

type EffectStatus string

const (
	EffectNone    EffectStatus = "none"
	EffectApplied EffectStatus = "applied"
	EffectFaulted EffectStatus = "faulted"
)

// Effect is the outcome of a field's post-capture side effect.
type Effect struct {
	Status EffectStatus `json:"status"`
	Reason string       `json:"reason,omitempty"`
}

func (e Effect) Faulted() bool {
	return e.Status == EffectFaulted
}

type Entry struct {
	ID     string `json:"id"`
	Value  string `json:"value"`
	Effect Effect `json:"effect"`
}

// Entries are captured values in field declaration order.
type Entries []Entry

func (e Entries) Get(id string) (string, bool) {
	for _, entry := range e {
		if entry.ID == id {
			return entry.Value, true
		}
	}
	return "", false
}

func (e Entries) Map() map[string]string {
	m := make(map[string]string, len(e))
	for _, entry := range e {
		m[entry.ID] = entry.Value
	}
	return m
}

func (e Entries) IDs() []string {
	ids := make([]string, 0, len(e))
	for _, entry := range e {
		ids = append(ids, entry.ID)
	}
	return ids
}

// Clone returns a copy that can be handed to callers without exposing the backing array.
func (e Entries) Clone() Entries {
	if e == nil {
		return Entries{}
	}
	return slices.Clone(e)
}

// Warnings lists entries whose side effect faulted.
func (e Entries) Warnings() []Entry {
	var out []Entry
	for _, entry := range e {
		if entry.Effect.Faulted() {
			out = append(out, entry)
		}
	}
	return out
}
