package provider

import (
	"fmt"

	"go.uber.org/zap"

	"ordex/internal/config"
)

// Provider type identifiers accepted in model configuration
const (
	TypeOpenAI    = "openai"
	TypeAzure     = "azure"
	TypeAnthropic = "anthropic"
)

// NewClient creates the provider client configured for a model
func NewClient(cfg config.ModelConfig, logger *zap.Logger) (Client, error) {
	switch cfg.Provider {
	case TypeOpenAI, TypeAzure, "":
		return NewOpenAIProvider(cfg, logger)
	case TypeAnthropic:
		return NewAnthropicProvider(cfg, logger)
	default:
		return nil, NewConfigurationError("provider", fmt.Sprintf("unknown provider type %q", cfg.Provider))
	}
}
