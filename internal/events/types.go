package events

import (
	"time"

	"github.com/google/uuid"
)

// Topic constants for event publishing
const (
	TopicCallCompleted = "llm.call.completed"
	TopicCallFailed    = "llm.call.failed"
)

// Event represents the base event structure with common fields
type Event struct {
	CorrelationID string    `json:"correlation_id" validate:"required"`
	Timestamp     time.Time `json:"timestamp" validate:"required"`
}

// NewEvent creates a new base event with generated correlation ID
func NewEvent() Event {
	return Event{
		CorrelationID: uuid.New().String(),
		Timestamp:     time.Now(),
	}
}

// CallCompleted represents an event when a provider call finished
// successfully. The cost tracker subscribes to this topic; dispatch
// never depends on its handlers.
type CallCompleted struct {
	Event
	Model            string `json:"model" validate:"required"`
	TaskLabel        string `json:"task_label" validate:"required"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	DurationMs       int64  `json:"duration_ms"`
}

// CallFailed represents an event when a provider call exhausted its
// retries and was reported back to the caller as failed.
type CallFailed struct {
	Event
	Model     string `json:"model" validate:"required"`
	TaskLabel string `json:"task_label" validate:"required"`
	Reason    string `json:"reason"`
}
