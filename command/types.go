package command

import (
	"context"

	"github.com/cloudwego/eino/schema"
)

type Command string

const (
	Cancel Command = "cancel"
	None   Command = "none"
)

// Request is the latest exchange of an active step.
type Request struct {
	FieldID  string
	Question string
	Answer   string
	// History is the run transcript so far, when one is recorded.
	History []*schema.Message
}

type Parser interface {
	ParseCommand(ctx context.Context, req *Request) (Command, error)
}
