package decision

import (
	"context"
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"ordex/internal/common"
	"ordex/internal/dispatch"
	"ordex/internal/provider"
)

// Extractor walks a decision tree for one feature of one document,
// dispatching each node's question through the active run scope.
// Multiple extractors may traverse concurrently; they share the
// underlying services, so concurrency caps and rate limits apply
// across all traversals jointly.
type Extractor struct {
	tree        *Tree
	maxAttempts int
	logger      *zap.Logger
}

// NewExtractor creates an extractor over a validated tree.
// maxAttempts bounds parse retries per node before the traversal is
// recorded as undetermined.
func NewExtractor(tree *Tree, maxAttempts int, logger *zap.Logger) *Extractor {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Extractor{
		tree:        tree,
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

// Extract traverses the tree from the root with the document's
// relevant text as context and returns the finalized result. The
// traversal depth is bounded by the tree's structure; failures are
// recorded in the result, never propagated as run-fatal errors.
func (e *Extractor) Extract(ctx context.Context, feature, text string) Result {
	result := Result{
		TraversalID: common.TraversalID(common.NewID()),
		Feature:     feature,
		Retries:     make(map[NodeID]int),
	}

	logger := e.logger.With(
		zap.String("feature", feature),
		zap.String("traversal_id", string(result.TraversalID)))

	current := e.tree.Root
	for hop := 0; hop < e.tree.MaxDepth(); hop++ {
		node := e.tree.Nodes[current]
		result.Path = append(result.Path, current)

		outcome, raw, err := e.askNode(ctx, node, text, &result)
		if err != nil {
			logger.Error("Node question failed, marking traversal failed",
				zap.String("node", string(current)),
				zap.Error(err))
			result.Failed = true
			result.Err = err.Error()
			return result
		}
		if raw != "" {
			result.RawResponses = append(result.RawResponses, raw)
		}
		if outcome == "" {
			logger.Warn("Node answer undetermined after retries",
				zap.String("node", string(current)),
				zap.Int("attempts", e.maxAttempts))
			result.Undetermined = true
			return result
		}

		branch := node.Outcomes[outcome]
		if branch.Terminal != nil {
			return e.finish(ctx, branch.Terminal, text, &result, logger)
		}
		current = branch.Next
	}

	// Unreachable for a validated tree; recorded rather than looped.
	logger.Error("Traversal exceeded tree depth", zap.String("node", string(current)))
	result.Undetermined = true
	return result
}

// askNode asks one node's question until the answer parses into a
// declared outcome or the attempt budget runs out. A transient call
// failure ends the traversal (the service already retried with
// backoff); a parse failure on a successful call is retried here.
// Returns the matched outcome ("" when undetermined) and the last
// raw response.
func (e *Extractor) askNode(ctx context.Context, node *Node, text string, result *Result) (string, string, error) {
	prompt := provider.Request{
		SystemPrompt: node.Prompt + "\n\n" + answerInstruction(node),
		UserPrompt:   text,
		JSONOutput:   true,
	}

	var raw string
	for attempt := 0; attempt < e.maxAttempts; attempt++ {
		if attempt > 0 {
			result.Retries[node.ID]++
		}

		callResult, err := dispatch.Call(ctx, common.TaskDecisionTreeQuestion, prompt)
		if err != nil {
			return "", raw, err
		}
		if callResult.Err != nil {
			return "", raw, callResult.Err
		}

		raw = callResult.Text
		if outcome, ok := parseOutcome(node, callResult.Text); ok {
			return outcome, raw, nil
		}

		e.logger.Debug("Answer outside declared outcome set, retrying",
			zap.String("node", string(node.ID)),
			zap.Int("attempt", attempt+1))
	}

	return "", raw, nil
}

// finish resolves a terminal action into the final result, issuing
// the follow-up value-extraction call when the terminal declares one.
func (e *Extractor) finish(ctx context.Context, terminal *TerminalAction, text string, result *Result, logger *zap.Logger) Result {
	if terminal.NotFound {
		result.Found = false
		logger.Debug("Traversal terminated with explicit not-found")
		return *result
	}

	if terminal.ValuePrompt == "" {
		result.Value = terminal.Value
		result.Found = true
		return *result
	}

	prompt := provider.Request{
		SystemPrompt: terminal.ValuePrompt + "\n\nReturn your answer as JSON with a single key \"value\".",
		UserPrompt:   text,
		JSONOutput:   true,
	}

	for attempt := 0; attempt < e.maxAttempts; attempt++ {
		callResult, err := dispatch.Call(ctx, common.TaskValueExtraction, prompt)
		if err != nil || callResult.Err != nil {
			if callResult.Err != nil {
				err = callResult.Err
			}
			logger.Error("Value extraction failed", zap.Error(err))
			result.Failed = true
			result.Err = err.Error()
			return *result
		}

		result.RawResponses = append(result.RawResponses, callResult.Text)
		if value, ok := parseValue(callResult.Text); ok {
			result.Value = value
			result.Found = true
			return *result
		}
	}

	logger.Warn("Value extraction undetermined after retries")
	result.Undetermined = true
	return *result
}

// answerInstruction renders the strict-output footer listing the
// node's declared outcomes.
func answerInstruction(node *Node) string {
	outcomes := make([]string, 0, len(node.Outcomes))
	for outcome := range node.Outcomes {
		outcomes = append(outcomes, outcome)
	}
	return "Answer with JSON containing a single key \"answer\" whose value is exactly one of: " +
		strings.Join(outcomes, ", ") + "."
}

// parseOutcome matches an LLM answer against the node's declared
// outcome set. Answers outside the set are a parse failure, not a
// silent default.
func parseOutcome(node *Node, text string) (string, bool) {
	answer := text
	var payload struct {
		Answer string `json:"answer"`
	}
	if err := json.Unmarshal([]byte(extractJSON(text)), &payload); err == nil && payload.Answer != "" {
		answer = payload.Answer
	}

	answer = normalize(answer)
	for outcome := range node.Outcomes {
		if normalize(outcome) == answer {
			return outcome, true
		}
	}
	return "", false
}

// parseValue pulls the extracted value out of a follow-up answer
func parseValue(text string) (string, bool) {
	var payload struct {
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal([]byte(extractJSON(text)), &payload); err != nil || len(payload.Value) == 0 {
		return "", false
	}

	var asString string
	if err := json.Unmarshal(payload.Value, &asString); err == nil {
		return asString, asString != ""
	}
	return strings.TrimSpace(string(payload.Value)), true
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(strings.Trim(strings.TrimSpace(s), ".\"'")))
}

// extractJSON extracts a JSON object from response text that might
// contain surrounding prose or markdown fences.
func extractJSON(text string) string {
	start := strings.Index(text, "{")
	if start == -1 {
		return text
	}

	braceCount := 0
	for i := start; i < len(text); i++ {
		switch text[i] {
		case '{':
			braceCount++
		case '}':
			braceCount--
			if braceCount == 0 {
				return text[start : i+1]
			}
		}
	}

	return text[start:]
}
