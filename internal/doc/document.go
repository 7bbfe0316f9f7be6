// Package doc holds the per-ordinance-document context bag: named
// text and data fragments accumulated as the pipeline processes one
// document. The extraction core reads and writes only the keys it is
// explicitly told about and assumes single-writer access per
// document, enforced by the caller's per-jurisdiction sequencing.
package doc

import (
	"ordex/internal/common"
)

// Well-known attribute keys used by the extraction pipeline
const (
	KeyRawText      = "raw_text"
	KeyRelevantText = "relevant_text"
	KeySource       = "source"
	KeyResults      = "extraction_results"
)

// Document is one ordinance document plus its accumulating
// attributes.
type Document struct {
	ID    common.DocumentID
	attrs map[string]any
}

// New creates a document with its raw text set
func New(rawText string) *Document {
	d := &Document{
		ID:    common.DocumentID(common.NewID()),
		attrs: make(map[string]any),
	}
	d.attrs[KeyRawText] = rawText
	return d
}

// Get returns the attribute stored under key
func (d *Document) Get(key string) (any, bool) {
	v, ok := d.attrs[key]
	return v, ok
}

// GetText returns the string attribute stored under key, or "" when
// absent or not a string
func (d *Document) GetText(key string) string {
	if v, ok := d.attrs[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// Set stores an attribute under key
func (d *Document) Set(key string, value any) {
	d.attrs[key] = value
}

// RawText returns the document's original text
func (d *Document) RawText() string {
	return d.GetText(KeyRawText)
}
