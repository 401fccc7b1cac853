package intent

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/openai/openai-go"
	openaioption "github.com/openai/openai-go/option"

	"github.com/vocalis/vocalis/internal/config"
)

const classifierSystemPrompt = "You classify the intent of a conversation turn. " +
	"Answer with exactly one label from the provided list, or the word none when no label applies. " +
	"Output only the label, nothing else."

// buildPrompt renders the turn and candidate conditions for the model.
func buildPrompt(turn Turn, candidates []string) string {
	var b strings.Builder
	b.WriteString("Labels:\n")
	for _, c := range candidates {
		b.WriteString("- ")
		b.WriteString(c)
		b.WriteString("\n")
	}
	if turn.AssistantText != "" {
		b.WriteString("\nAssistant said: ")
		b.WriteString(turn.AssistantText)
	}
	b.WriteString("\nUser said: ")
	b.WriteString(turn.UserText)
	b.WriteString("\n\nLabel:")
	return b.String()
}

// parseChoice maps a model answer onto a candidate, "" when the model
// declined or answered off-list.
func parseChoice(answer string, candidates []string) string {
	answer = strings.TrimSpace(answer)
	answer = strings.Trim(answer, `"'.`)
	if answer == "" || strings.EqualFold(answer, "none") {
		return ""
	}
	for _, c := range candidates {
		if strings.EqualFold(answer, c) {
			return c
		}
	}
	return ""
}

// openaiClassifier infers transition conditions with an OpenAI chat model.
type openaiClassifier struct {
	client openai.Client
	model  string
}

func newOpenAIClassifier(cfg config.IntentConfig) *openaiClassifier {
	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &openaiClassifier{
		client: openai.NewClient(openaioption.WithAPIKey(cfg.APIKey)),
		model:  model,
	}
}

func (c *openaiClassifier) Classify(ctx context.Context, turn Turn, candidates []string) (string, error) {
	if len(candidates) == 0 {
		return "", nil
	}

	response, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(classifierSystemPrompt),
			openai.UserMessage(buildPrompt(turn, candidates)),
		},
		MaxTokens:   openai.Int(16),
		Temperature: openai.Float(0),
	})
	if err != nil {
		return "", fmt.Errorf("intent classification failed: %w", err)
	}
	if len(response.Choices) == 0 {
		return "", fmt.Errorf("intent classification returned no choices")
	}
	return parseChoice(response.Choices[0].Message.Content, candidates), nil
}

// anthropicClassifier infers transition conditions with a Claude model.
type anthropicClassifier struct {
	client anthropic.Client
	model  string
}

func newAnthropicClassifier(cfg config.IntentConfig) *anthropicClassifier {
	model := cfg.Model
	if model == "" {
		model = "claude-3-5-haiku-latest"
	}
	return &anthropicClassifier{
		client: anthropic.NewClient(anthropicoption.WithAPIKey(cfg.APIKey)),
		model:  model,
	}
}

func (c *anthropicClassifier) Classify(ctx context.Context, turn Turn, candidates []string) (string, error) {
	if len(candidates) == 0 {
		return "", nil
	}

	response, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: 16,
		System: []anthropic.TextBlockParam{
			{Text: classifierSystemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(buildPrompt(turn, candidates))),
		},
	})
	if err != nil {
		return "", fmt.Errorf("intent classification failed: %w", err)
	}

	var answer string
	for _, block := range response.Content {
		if b, ok := block.AsAny().(anthropic.TextBlock); ok {
			answer += b.Text
		}
	}
	return parseChoice(answer, candidates), nil
}
