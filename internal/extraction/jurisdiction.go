package extraction

import (
	"strings"
)

// Jurisdiction identifies one governing body whose ordinance
// documents are processed. Output records are keyed by Code.
type Jurisdiction struct {
	Code            string `json:"code"`
	Type            string `json:"type"`
	State           string `json:"state"`
	County          string `json:"county,omitempty"`
	SubdivisionName string `json:"subdivision_name,omitempty"`
}

// FullName renders the jurisdiction's display name, most specific
// part first.
func (j Jurisdiction) FullName() string {
	parts := make([]string, 0, 3)
	if j.SubdivisionName != "" {
		parts = append(parts, j.SubdivisionName)
	}
	if j.County != "" {
		parts = append(parts, j.County+" County")
	}
	if j.State != "" {
		parts = append(parts, j.State)
	}
	if len(parts) == 0 {
		return j.Code
	}
	return strings.Join(parts, ", ")
}
