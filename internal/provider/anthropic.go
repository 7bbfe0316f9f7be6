package provider

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"ordex/internal/config"
)

// AnthropicProvider implements the Client interface for the Anthropic
// Messages API.
type AnthropicProvider struct {
	config config.ModelConfig
	logger *zap.Logger
	client anthropic.Client
}

// NewAnthropicProvider creates a new AnthropicProvider instance
func NewAnthropicProvider(cfg config.ModelConfig, logger *zap.Logger) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, NewConfigurationError("api_key", "API key is required")
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.APIEndpoint != "" {
		opts = append(opts, option.WithBaseURL(cfg.APIEndpoint))
	}

	return &AnthropicProvider{
		config: cfg,
		logger: logger,
		client: anthropic.NewClient(opts...),
	}, nil
}

// ModelName implements the Client interface
func (p *AnthropicProvider) ModelName() string {
	return p.config.Name
}

// Complete implements the Client interface
func (p *AnthropicProvider) Complete(ctx context.Context, req Request) (*Completion, error) {
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	system := req.SystemPrompt
	if req.JSONOutput {
		system += "\n\nRespond with a single valid JSON object and nothing else."
	}

	message, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(p.config.Name),
		MaxTokens: maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: system},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.UserPrompt)),
		},
	})
	if err != nil {
		return nil, NewNetworkError("messages_new", fmt.Sprintf("Anthropic API error for model %s", p.config.Name), err)
	}

	usage := TokenUsage{
		PromptTokens:     int(message.Usage.InputTokens),
		CompletionTokens: int(message.Usage.OutputTokens),
	}

	for _, block := range message.Content {
		if block.Type == "text" {
			p.logger.Debug("Completion received",
				zap.String("model", p.config.Name),
				zap.Int("prompt_tokens", usage.PromptTokens),
				zap.Int("completion_tokens", usage.CompletionTokens))
			return &Completion{Text: block.Text, Usage: usage}, nil
		}
	}

	return nil, APIError{
		HTTPStatus: 200,
		ErrorCode:  ErrorCodeEmptyResponse,
		ErrorMsg:   "no text content in Anthropic response",
		Retryable:  true,
	}
}
