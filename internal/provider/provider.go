package provider

import (
	"context"
)

// Client defines the interface for LLM provider implementations
type Client interface {
	// Complete sends one prompt to the provider and returns the
	// generated text plus the token usage the provider reported.
	// ctx: context for timeout and cancellation control
	Complete(ctx context.Context, req Request) (*Completion, error)

	// ModelName returns the deployment name requests are sent to
	ModelName() string
}

// Request is one prompt destined for a provider. When JSONOutput is
// set the provider is instructed to answer with a bare JSON object
// rather than free text.
type Request struct {
	SystemPrompt string  `json:"system_prompt"`
	UserPrompt   string  `json:"user_prompt"`
	JSONOutput   bool    `json:"json_output"`
	Temperature  float64 `json:"temperature"`
	MaxTokens    int     `json:"max_tokens"`
}

// Completion is a provider's answer together with its usage counts.
type Completion struct {
	Text  string     `json:"text"`
	Usage TokenUsage `json:"usage"`
}

// TokenUsage holds the token counts the provider reported for one
// completed call.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Total returns the combined prompt and completion token count
func (u TokenUsage) Total() int {
	return u.PromptTokens + u.CompletionTokens
}

// EstimateTokens approximates the token cost of a prompt before the
// call is made, for rate-limit admission. Providers report the true
// count afterwards and the limiter reconciles the difference.
func EstimateTokens(req Request) int {
	// Roughly four characters per token for English legal text.
	est := (len(req.SystemPrompt)+len(req.UserPrompt))/4 + req.MaxTokens
	if est < 1 {
		est = 1
	}
	return est
}
