package decision

import (
	"ordex/internal/common"
)

// Result is the finalized outcome of one feature's traversal over
// one document. Immutable once the traversal returns; aggregation
// joins results by feature name, never by completion order.
type Result struct {
	TraversalID common.TraversalID `json:"traversal_id"`
	Feature     string             `json:"feature"`
	Value       string             `json:"value,omitempty"`
	Found       bool               `json:"found"`

	// Undetermined marks a traversal that exhausted its parse
	// retries at some node; the value was recorded as unknown, not
	// coerced to a default.
	Undetermined bool `json:"undetermined"`

	// Failed marks a traversal whose provider calls exhausted their
	// retries. Failed traversals are recorded, never fatal to the
	// run.
	Failed bool   `json:"failed"`
	Err    string `json:"error,omitempty"`

	// Path is the sequence of nodes visited, in order.
	Path []NodeID `json:"path"`

	// Retries counts parse retries per node, for audit.
	Retries map[NodeID]int `json:"retries,omitempty"`

	// RawResponses retains the raw LLM text per visited node, for
	// audit.
	RawResponses []string `json:"raw_responses,omitempty"`
}
