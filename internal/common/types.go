package common

import (
	"github.com/google/uuid"
)

// ID represents a unique identifier
type ID string

// NewID generates a new unique identifier
func NewID() ID {
	return ID(uuid.New().String())
}

// IsValid checks if the ID is a valid UUID
func (id ID) IsValid() bool {
	_, err := uuid.Parse(string(id))
	return err == nil
}

// String returns the string representation of the ID
func (id ID) String() string {
	return string(id)
}

// Typed aliases for different ID types
type (
	RequestID   ID
	DocumentID  ID
	TraversalID ID
)

// TaskLabel names one logical LLM operation issued by the pipeline
// (e.g., "document_content_validation", "decision_tree_question").
// Labels are routed to model profiles by the dispatcher.
type TaskLabel string

// DefaultTaskLabel is the sentinel assignment that marks a model
// profile as the fallback for every label without an explicit match.
const DefaultTaskLabel TaskLabel = "default"

// String returns the string representation of the TaskLabel
func (t TaskLabel) String() string {
	return string(t)
}

// Task labels issued by the extraction pipeline. Every label listed
// here must resolve to a model profile at configuration time.
const (
	TaskDocumentContentValidation TaskLabel = "document_content_validation"
	TaskOrdinanceTextExtraction   TaskLabel = "ordinance_text_extraction"
	TaskDecisionTreeQuestion      TaskLabel = "decision_tree_question"
	TaskValueExtraction           TaskLabel = "value_extraction"
)

// PipelineTaskLabels enumerates every label the pipeline can issue.
// The config validator checks routing totality against this list.
func PipelineTaskLabels() []TaskLabel {
	return []TaskLabel{
		TaskDocumentContentValidation,
		TaskOrdinanceTextExtraction,
		TaskDecisionTreeQuestion,
		TaskValueExtraction,
	}
}
