package command

import (
	"context"
	"errors"
	"strings"
)

type LocalParser struct {
	CancelKeywords []string
}

func NewLocalParser() *LocalParser {
	return &LocalParser{
		CancelKeywords: []string{"cancel", "quit", "exit", "stop", "abort"},
	}
}

func (p *LocalParser) ParseCommand(ctx context.Context, req *Request) (Command, error) {
	if req == nil {
		return None, nil
	}
	normalized := strings.ToLower(strings.TrimSpace(req.Answer))
	for _, keyword := range p.CancelKeywords {
		if normalized == keyword {
			return Cancel, nil
		}
	}
	return None, nil
}

// FailbackParser returns the first result of a parser that did not error.
type FailbackParser struct {
	parsers []Parser
}

func NewFailbackParser(parsers ...Parser) *FailbackParser {
	return &FailbackParser{parsers: parsers}
}

func (p *FailbackParser) ParseCommand(ctx context.Context, req *Request) (Command, error) {
	lastErr := errors.New("no parser configured")
	for _, parser := range p.parsers {
		if parser == nil {
			continue
		}
		cmd, err := parser.ParseCommand(ctx, req)
		if err == nil {
			return cmd, nil
		}
		lastErr = err
	}
	return None, lastErr
}

var (
	_ Parser = (*LocalParser)(nil)
	_ Parser = (*FailbackParser)(nil)
)
