// Package usage observes completed provider calls and aggregates
// token volume and cost. It is purely observational: nothing here
// affects dispatch, admission, or extraction results.
package usage

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"ordex/internal/config"
	"ordex/internal/events"
)

// Record is one completed call's usage
type Record struct {
	Model            string    `json:"model"`
	TaskLabel        string    `json:"task_label"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	Timestamp        time.Time `json:"timestamp"`
}

// TotalTokens returns the combined token count for the record
func (r Record) TotalTokens() int {
	return r.PromptTokens + r.CompletionTokens
}

// ModelTotals aggregates usage for one model
type ModelTotals struct {
	Model            string  `json:"model"`
	Calls            int     `json:"calls"`
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	Cost             float64 `json:"cost"`
}

// Report is the aggregate view over all recorded calls. Models
// absent from the pricing table contribute zero cost but their token
// counts still appear in volume totals.
type Report struct {
	Models      []ModelTotals `json:"models"`
	TotalTokens int           `json:"total_tokens"`
	TotalCost   float64       `json:"total_cost"`
}

// Tracker appends usage records and aggregates them on demand.
// Attach it to the event bus to observe services passively.
type Tracker struct {
	mu      sync.Mutex
	records []Record
	pricing map[string]config.Price
	store   *Store
	logger  *zap.Logger
}

// NewTracker creates a tracker with the configured pricing table.
// store may be nil when no persistent ledger is configured.
func NewTracker(pricing map[string]config.Price, store *Store, logger *zap.Logger) *Tracker {
	return &Tracker{
		pricing: pricing,
		store:   store,
		logger:  logger,
	}
}

// Attach subscribes the tracker to completed-call events
func (t *Tracker) Attach(bus events.EventBus) error {
	return bus.Subscribe(events.TopicCallCompleted, t.handleCallCompleted)
}

// handleCallCompleted records usage for one completed call
func (t *Tracker) handleCallCompleted(evt events.CallCompleted) {
	t.Add(Record{
		Model:            evt.Model,
		TaskLabel:        evt.TaskLabel,
		PromptTokens:     evt.PromptTokens,
		CompletionTokens: evt.CompletionTokens,
		Timestamp:        evt.Timestamp,
	})
}

// Add appends one usage record
func (t *Tracker) Add(rec Record) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	t.mu.Lock()
	t.records = append(t.records, rec)
	t.mu.Unlock()

	if t.store != nil {
		if err := t.store.Append(rec); err != nil {
			t.logger.Error("Failed to persist usage record",
				zap.String("model", rec.Model), zap.Error(err))
		}
	}
}

// Report aggregates tokens and cost per model. Cost is
// price-per-token times token count; unknown models cost zero.
func (t *Tracker) Report() Report {
	t.mu.Lock()
	defer t.mu.Unlock()

	byModel := make(map[string]*ModelTotals)
	for _, rec := range t.records {
		totals, ok := byModel[rec.Model]
		if !ok {
			totals = &ModelTotals{Model: rec.Model}
			byModel[rec.Model] = totals
		}
		totals.Calls++
		totals.PromptTokens += rec.PromptTokens
		totals.CompletionTokens += rec.CompletionTokens
		totals.TotalTokens += rec.TotalTokens()

		if price, priced := t.pricing[rec.Model]; priced {
			totals.Cost += float64(rec.PromptTokens)*price.PromptPerToken +
				float64(rec.CompletionTokens)*price.CompletionPerToken
		}
	}

	report := Report{Models: make([]ModelTotals, 0, len(byModel))}
	for _, totals := range byModel {
		report.Models = append(report.Models, *totals)
		report.TotalTokens += totals.TotalTokens
		report.TotalCost += totals.Cost
	}
	sort.Slice(report.Models, func(i, j int) bool {
		return report.Models[i].Model < report.Models[j].Model
	})

	return report
}

// Count returns the number of records tracked so far
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}
