package provider

import (
	"context"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/blakebarnett/thymos/errs"
)

// ChatMessage is one turn of a GenerateRequest, mirroring the teacher's flat
// prompt-in/text-out Provider (internal/llm.go) generalized to the
// multi-message, structured-output contract spec §6.3 requires for the
// AutoMerge resolver and scope summarization.
type ChatMessage struct {
	Role    string // "user" or "assistant"
	Content string
}

type GenerateRequest struct {
	Messages       []ChatMessage
	Temperature    float64
	MaxTokens      int
	ResponseFormat string // "" or "json"
}

type TokenUsage struct {
	InputTokens  int
	OutputTokens int
}

type GenerateResponse struct {
	Content      string
	FinishReason string
	TokenUsage   TokenUsage
}

// LLMProvider is the contract consumed by vmr's AutoMerge conflict resolver
// (spec §6.3); package mlse does not use it. No streaming is required by
// the core.
type LLMProvider interface {
	Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, error)
}

// AnthropicProvider implements LLMProvider over anthropic-sdk-go, the
// successor to the teacher's own LLM-backed Provider (internal/llm.go),
// used the same way: AutoMerge conflict resolution and free-text
// summarization are both single-shot, non-streaming completions.
type AnthropicProvider struct {
	client anthropic.Client
	model  anthropic.Model
}

// NewAnthropicProvider constructs a provider against the given API key and
// model (e.g. anthropic.ModelClaude3_7SonnetLatest).
func NewAnthropicProvider(apiKey string, model anthropic.Model) *AnthropicProvider {
	return &AnthropicProvider{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

func (p *AnthropicProvider) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, error) {
	msgs := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, m := range req.Messages {
		block := anthropic.NewTextBlock(m.Content)
		switch m.Role {
		case "assistant":
			msgs = append(msgs, anthropic.NewAssistantMessage(block))
		default:
			msgs = append(msgs, anthropic.NewUserMessage(block))
		}
	}

	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	resp, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     p.model,
		MaxTokens: maxTokens,
		Messages:  msgs,
	})
	if err != nil {
		return GenerateResponse{}, errs.Wrap(errs.Transport, "provider.AnthropicProvider.Generate", err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	return GenerateResponse{
		Content:      text,
		FinishReason: string(resp.StopReason),
		TokenUsage: TokenUsage{
			InputTokens:  int(resp.Usage.InputTokens),
			OutputTokens: int(resp.Usage.OutputTokens),
		},
	}, nil
}
