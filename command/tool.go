package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/tbxark/stepform/structured"
)

const (
	parseIntentToolName        = "parse_intent"
	parseIntentToolDescription = "Decide whether the user wants to abandon the registration or is answering the question."
)

// DefaultSystemPromptTemplate may contain a single "%s" placeholder for the tool name.
const DefaultSystemPromptTemplate = `You are assisting a chat bot that asks a user a series of registration questions.

Look at the latest question from the bot and the user's answer and decide the user's intent.

- cancel: only when the user clearly wants to stop or abandon the registration (e.g. "cancel", "I changed my mind, stop", "forget it"). A wrong or odd answer is NOT a cancel.
- none: the user is answering the question, even if the answer looks invalid.

Call the '%s' tool with the result.`

type parseIntentOutput struct {
	Intent Command `json:"intent" jsonschema:"required,enum=cancel,enum=none,description=The user's intent"`
}

type toolParserOptions struct {
	systemPromptTemplate string
	historyLimit         int
}

type ToolParserOption func(*toolParserOptions)

func WithSystemPromptTemplate(tpl string) ToolParserOption {
	return func(o *toolParserOptions) {
		o.systemPromptTemplate = tpl
	}
}

// WithHistoryLimit caps how many transcript messages are sent to the model.
func WithHistoryLimit(n int) ToolParserOption {
	return func(o *toolParserOptions) {
		o.historyLimit = n
	}
}

type ToolBasedParser struct {
	chain *structured.Chain[*Request, parseIntentOutput]
}

func NewToolBasedParser(chatModel model.ToolCallingChatModel, opts ...ToolParserOption) (*ToolBasedParser, error) {
	options := toolParserOptions{
		systemPromptTemplate: DefaultSystemPromptTemplate,
		historyLimit:         6,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	systemPrompt := options.systemPromptTemplate
	if strings.Contains(systemPrompt, "%s") {
		systemPrompt = fmt.Sprintf(systemPrompt, parseIntentToolName)
	}
	chain, err := structured.NewChain[*Request, parseIntentOutput](
		chatModel,
		func(ctx context.Context, req *Request) ([]*schema.Message, error) {
			return buildParseIntentPrompt(systemPrompt, options.historyLimit, req), nil
		},
		parseIntentToolName,
		parseIntentToolDescription,
	)
	if err != nil {
		return nil, err
	}
	return &ToolBasedParser{chain: chain}, nil
}

func (p *ToolBasedParser) ParseCommand(ctx context.Context, req *Request) (Command, error) {
	result, err := p.chain.Invoke(ctx, req)
	if err != nil {
		return None, err
	}
	switch result.Intent {
	case Cancel, None:
		return result.Intent, nil
	case "":
		return None, fmt.Errorf("empty intent returned by %s", parseIntentToolName)
	default:
		return None, fmt.Errorf("unknown intent %q returned by %s", result.Intent, parseIntentToolName)
	}
}

func buildParseIntentPrompt(systemPrompt string, historyLimit int, req *Request) []*schema.Message {
	sections := make([]string, 0, 3)
	if history := formatHistory(req.History, historyLimit); history != "" {
		sections = append(sections, "# Conversation so far:\n"+history)
	}
	sections = append(sections,
		fmt.Sprintf("# Bot question (%s):\n%s", req.FieldID, req.Question),
		fmt.Sprintf("# User answer:\n%s", req.Answer),
	)
	return []*schema.Message{
		schema.SystemMessage(systemPrompt),
		schema.UserMessage(strings.Join(sections, "\n\n")),
	}
}

func formatHistory(history []*schema.Message, limit int) string {
	if limit <= 0 || len(history) == 0 {
		return ""
	}
	// the last message is the answer being parsed
	history = history[:len(history)-1]
	if len(history) > limit {
		history = history[len(history)-limit:]
	}
	var sb strings.Builder
	for _, m := range history {
		if m == nil {
			continue
		}
		sb.WriteString(string(m.Role))
		sb.WriteString(": ")
		sb.WriteString(m.Content)
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

var _ Parser = (*ToolBasedParser)(nil)
