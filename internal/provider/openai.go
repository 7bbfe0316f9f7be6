package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"ordex/internal/config"
)

// OpenAIProvider implements the Client interface for OpenAI-compatible
// chat completion endpoints (hosted OpenAI, Azure deployments, and
// local gateways speaking the same wire format).
type OpenAIProvider struct {
	config     config.ModelConfig
	logger     *zap.Logger
	httpClient *http.Client
}

// chatRequest represents the request structure for the chat completions API
type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature,omitempty"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

// chatMessage represents one message in the conversation
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// responseFormat constrains the completion shape
type responseFormat struct {
	Type string `json:"type"`
}

// chatResponse represents the response from the chat completions API
type chatResponse struct {
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
	Error   *chatError   `json:"error,omitempty"`
}

// chatChoice represents a candidate completion
type chatChoice struct {
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

// chatUsage represents the token usage reported for a completion
type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// chatError represents an error from the API
type chatError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

// NewOpenAIProvider creates a new OpenAIProvider instance
func NewOpenAIProvider(cfg config.ModelConfig, logger *zap.Logger) (*OpenAIProvider, error) {
	if cfg.APIEndpoint == "" {
		return nil, NewConfigurationError("api_endpoint", "endpoint URL is required")
	}
	if cfg.APIKey == "" {
		return nil, NewConfigurationError("api_key", "API key is required")
	}

	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &OpenAIProvider{
		config: cfg,
		logger: logger,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// ModelName implements the Client interface
func (p *OpenAIProvider) ModelName() string {
	return p.config.Name
}

// Complete implements the Client interface
func (p *OpenAIProvider) Complete(ctx context.Context, req Request) (*Completion, error) {
	chatReq := chatRequest{
		Model:       p.config.Name,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Messages: []chatMessage{
			{Role: "system", Content: req.SystemPrompt},
			{Role: "user", Content: req.UserPrompt},
		},
	}
	if req.JSONOutput {
		chatReq.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	requestBody, err := json.Marshal(chatReq)
	if err != nil {
		return nil, NewNetworkError("marshal_request", "Failed to marshal request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.config.APIEndpoint, bytes.NewBuffer(requestBody))
	if err != nil {
		return nil, NewNetworkError("create_request", "Failed to create HTTP request", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.config.APIKey)

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, NewNetworkError("http_request", "Failed to make HTTP request", err)
	}
	defer httpResp.Body.Close()

	responseBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, NewNetworkError("read_response", "Failed to read response body", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, p.handleHTTPError(httpResp, responseBody)
	}

	return p.parseResponse(responseBody)
}

// parseResponse extracts the completion text and usage counts
func (p *OpenAIProvider) parseResponse(responseBody []byte) (*Completion, error) {
	var chatResp chatResponse
	if err := json.Unmarshal(responseBody, &chatResp); err != nil {
		return nil, NewAPIError(http.StatusOK, ErrorCodeUnknown, "Failed to parse API response", err.Error())
	}

	if chatResp.Error != nil {
		return nil, NewAPIError(http.StatusOK, chatResp.Error.Code, chatResp.Error.Message, chatResp.Error.Type)
	}

	if len(chatResp.Choices) == 0 {
		return nil, APIError{
			HTTPStatus: http.StatusOK,
			ErrorCode:  ErrorCodeEmptyResponse,
			ErrorMsg:   "No choices in API response",
			Retryable:  true,
		}
	}

	p.logger.Debug("Completion received",
		zap.String("model", p.config.Name),
		zap.String("finish_reason", chatResp.Choices[0].FinishReason),
		zap.Int("prompt_tokens", chatResp.Usage.PromptTokens),
		zap.Int("completion_tokens", chatResp.Usage.CompletionTokens))

	return &Completion{
		Text: chatResp.Choices[0].Message.Content,
		Usage: TokenUsage{
			PromptTokens:     chatResp.Usage.PromptTokens,
			CompletionTokens: chatResp.Usage.CompletionTokens,
		},
	}, nil
}

// handleHTTPError creates appropriate error based on HTTP status code
func (p *OpenAIProvider) handleHTTPError(resp *http.Response, responseBody []byte) error {
	errorMsg := "Unknown error"
	errorCode := ErrorCodeUnknown

	var chatResp chatResponse
	if err := json.Unmarshal(responseBody, &chatResp); err == nil && chatResp.Error != nil {
		errorMsg = chatResp.Error.Message
		errorCode = chatResp.Error.Code
	} else {
		errorMsg = string(responseBody)
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return NewAPIError(resp.StatusCode, ErrorCodeInvalidAPIKey, "Invalid API key", errorMsg)
	case http.StatusForbidden:
		return NewAPIError(resp.StatusCode, ErrorCodeInsufficientQuota, "Insufficient quota or permissions", errorMsg)
	case http.StatusNotFound:
		return NewAPIError(resp.StatusCode, ErrorCodeModelNotFound, "Model not found", errorMsg)
	case http.StatusRequestEntityTooLarge:
		return NewAPIError(resp.StatusCode, ErrorCodeRequestTooLarge, "Request too large", errorMsg)
	case http.StatusTooManyRequests:
		retryAfter := 60
		if v := resp.Header.Get("Retry-After"); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				retryAfter = parsed
			}
		}
		return NewRateLimitError(retryAfter, errorMsg)
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return NewAPIError(resp.StatusCode, ErrorCodeServiceUnavailable, "Service unavailable", errorMsg)
	default:
		return NewAPIError(resp.StatusCode, errorCode, errorMsg, string(responseBody))
	}
}
