// Package extraction runs the per-jurisdiction document pipeline:
// relevance filtering followed by independent decision-tree
// traversals for each configured feature, all dispatched through the
// active run scope.
package extraction

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"ordex/internal/common"
	"ordex/internal/decision"
	"ordex/internal/doc"
)

// Feature pairs a named quantity to extract with the decision tree
// that extracts it.
type Feature struct {
	Name string
	Tree *decision.Tree
}

// Status summarizes how far one jurisdiction's extraction got.
type Status string

const (
	StatusComplete Status = "complete"
	StatusPartial  Status = "partial"
	StatusFailed   Status = "failed"
)

// JurisdictionResult aggregates one jurisdiction's extraction run.
// Results are joined by feature name, not completion order.
type JurisdictionResult struct {
	Jurisdiction Jurisdiction               `json:"jurisdiction"`
	Status       Status                     `json:"status"`
	Features     map[string]decision.Result `json:"features"`
	Undetermined []string                   `json:"undetermined,omitempty"`
	FailedList   []string                   `json:"failed,omitempty"`
}

// Pipeline extracts every configured feature from a jurisdiction's
// documents. One Pipeline serves many jurisdictions; the caller
// sequences documents so no two traversals write one document at
// once.
type Pipeline struct {
	collector   *Collector
	features    []Feature
	maxAttempts int
	logger      *zap.Logger
}

// NewPipeline creates a pipeline over validated feature trees
func NewPipeline(collector *Collector, features []Feature, maxAttempts int, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		collector:   collector,
		features:    features,
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

// ProcessDocument filters the document's text and runs one traversal
// per feature. Traversals run concurrently and share the scope's
// services, so rate limits and concurrency caps apply across all of
// them jointly. A failure in one feature never aborts the others.
func (p *Pipeline) ProcessDocument(ctx context.Context, jur Jurisdiction, document *doc.Document) JurisdictionResult {
	logger := p.logger.With(zap.String("jurisdiction", jur.Code))

	out := JurisdictionResult{
		Jurisdiction: jur,
		Features:     make(map[string]decision.Result, len(p.features)),
	}

	text, err := p.collector.CollectRelevantText(ctx, document)
	if err != nil {
		logger.Error("Relevant text collection failed", zap.Error(err))
		out.Status = StatusFailed
		return out
	}
	if text == "" {
		// A document with no ordinance content gets per-feature
		// not-found results without spending any traversal calls
		logger.Info("No relevant ordinance text found, skipping extraction",
			zap.String("document_id", string(document.ID)))
		for _, feature := range p.features {
			out.Features[feature.Name] = decision.Result{
				TraversalID: common.TraversalID(common.NewID()),
				Feature:     feature.Name,
			}
		}
		out.Status = StatusComplete
		document.Set(doc.KeyResults, out)
		return out
	}

	results := make([]decision.Result, len(p.features))
	var wg sync.WaitGroup
	for i, feature := range p.features {
		wg.Add(1)
		go func(i int, feature Feature) {
			defer wg.Done()
			extractor := decision.NewExtractor(feature.Tree, p.maxAttempts, logger)
			results[i] = extractor.Extract(ctx, feature.Name, text)
		}(i, feature)
	}
	wg.Wait()

	for _, result := range results {
		out.Features[result.Feature] = result
		switch {
		case result.Failed:
			out.FailedList = append(out.FailedList, result.Feature)
		case result.Undetermined:
			out.Undetermined = append(out.Undetermined, result.Feature)
		}
	}

	switch {
	case len(out.FailedList) == len(p.features) && len(p.features) > 0:
		out.Status = StatusFailed
	case len(out.FailedList) > 0 || len(out.Undetermined) > 0:
		out.Status = StatusPartial
	default:
		out.Status = StatusComplete
	}

	document.Set(doc.KeyResults, out)

	logger.Info("Jurisdiction extraction finished",
		zap.String("status", string(out.Status)),
		zap.Int("features", len(p.features)),
		zap.Int("undetermined", len(out.Undetermined)),
		zap.Int("failed", len(out.FailedList)))

	return out
}
