package dialogue

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// DefaultSystemPromptTemplate may contain a single "%s" placeholder for the language.
const DefaultSystemPromptTemplate = `You are the friendly registration assistant of a chat community. Tell the user how their registration ended.

- On success, congratulate them and briefly confirm what was registered. Never reveal masked values.
- On rejection of the terms, express regret and invite them to reach out with questions.
- On failure, explain what went wrong in plain words and how to start again.
- If the channel will be closed, say when.
- Keep it short, without lists. Reply in %s.
`

type ToolBasedGenerator struct {
	lang                 string
	systemPromptTemplate string
	chatModel            model.BaseChatModel
}

type generatorOptions struct {
	lang                 string
	systemPromptTemplate string
}

type GeneratorOption func(*generatorOptions)

func WithLang(lang string) GeneratorOption {
	return func(o *generatorOptions) {
		o.lang = lang
	}
}

func WithSystemPromptTemplate(tpl string) GeneratorOption {
	return func(o *generatorOptions) {
		o.systemPromptTemplate = tpl
	}
}

func NewToolBasedGenerator(chatModel model.BaseChatModel, opts ...GeneratorOption) (*ToolBasedGenerator, error) {
	if chatModel == nil {
		return nil, errors.New("chat model is nil")
	}
	options := generatorOptions{
		lang:                 "English",
		systemPromptTemplate: DefaultSystemPromptTemplate,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	return &ToolBasedGenerator{
		lang:                 options.lang,
		systemPromptTemplate: options.systemPromptTemplate,
		chatModel:            chatModel,
	}, nil
}

func (g *ToolBasedGenerator) GenerateDialogue(ctx context.Context, req *Request) (string, error) {
	if req == nil {
		return "", errors.New("nil dialogue request")
	}
	systemPrompt := g.systemPromptTemplate
	if strings.Contains(systemPrompt, "%s") {
		systemPrompt = fmt.Sprintf(systemPrompt, g.lang)
	}
	resp, err := g.chatModel.Generate(ctx, []*schema.Message{
		schema.SystemMessage(systemPrompt),
		schema.UserMessage(formatRequest(req)),
	})
	if err != nil {
		return "", fmt.Errorf("LLM call failed: %w", err)
	}
	content := strings.TrimSpace(resp.Content)
	if content == "" {
		return "", errors.New("LLM returned an empty message")
	}
	return content, nil
}

var _ Generator = (*ToolBasedGenerator)(nil)
