package extraction

import (
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"ordex/internal/decision"
	"ordex/internal/doc"
)

func yesNoTree(t *testing.T, prompt string, yes decision.Branch) *decision.Tree {
	t.Helper()
	tree, err := decision.NewTree("root", []*decision.Node{
		{
			ID:     "root",
			Prompt: prompt,
			Outcomes: map[string]decision.Branch{
				"yes": yes,
				"no":  {Terminal: &decision.TerminalAction{NotFound: true}},
			},
		},
	})
	require.NoError(t, err)
	return tree
}

func testFeatures(t *testing.T) []Feature {
	return []Feature{
		{
			Name: "setbacks",
			Tree: yesNoTree(t, "Does the text discuss setbacks?", decision.Branch{
				Terminal: &decision.TerminalAction{ValuePrompt: "Extract the setback distance."},
			}),
		},
		{
			Name: "height",
			Tree: yesNoTree(t, "Does the text limit turbine height?", decision.Branch{
				Terminal: &decision.TerminalAction{Value: "limited"},
			}),
		},
	}
}

// answerByPrompt routes on prompt content rather than call order, so
// the concurrent per-feature traversals stay deterministic
func answerByPrompt(system, user string) (string, error) {
	switch {
	case strings.Contains(system, "contains_ord_info"):
		return relevanceAnswer(true), nil
	case strings.Contains(system, "Does the text discuss setbacks"):
		return `{"answer": "yes"}`, nil
	case strings.Contains(system, "Does the text limit turbine height"):
		return `{"answer": "no"}`, nil
	case strings.Contains(system, "Extract the setback distance"):
		return `{"value": "1500 feet"}`, nil
	}
	return "", errors.New("unexpected prompt")
}

func TestPipeline_CompleteRun(t *testing.T) {
	ctx := scopeWithHandler(t, answerByPrompt)

	pipeline := NewPipeline(NewCollector(40, 0, 1, zaptest.NewLogger(t)), testFeatures(t), 3, zaptest.NewLogger(t))
	jur := Jurisdiction{Code: "il_decatur", Type: "county", State: "Illinois", County: "Macon"}
	document := threeChunkDocument()

	result := pipeline.ProcessDocument(ctx, jur, document)

	assert.Equal(t, StatusComplete, result.Status)
	assert.Empty(t, result.Undetermined)
	assert.Empty(t, result.FailedList)

	setbacks := result.Features["setbacks"]
	assert.True(t, setbacks.Found)
	assert.Equal(t, "1500 feet", setbacks.Value)

	// An explicit not-found answer is a complete result, not a failure
	height := result.Features["height"]
	assert.False(t, height.Found)
	assert.False(t, height.Undetermined)
	assert.False(t, height.Failed)

	stored, ok := document.Get(doc.KeyResults)
	require.True(t, ok)
	assert.Equal(t, result, stored)
}

func TestPipeline_PartialWhenOneFeatureUndetermined(t *testing.T) {
	ctx := scopeWithHandler(t, func(system, user string) (string, error) {
		if strings.Contains(system, "Does the text limit turbine height") {
			return "cannot say", nil
		}
		return answerByPrompt(system, user)
	})

	pipeline := NewPipeline(NewCollector(40, 0, 1, zaptest.NewLogger(t)), testFeatures(t), 2, zaptest.NewLogger(t))
	result := pipeline.ProcessDocument(ctx, Jurisdiction{Code: "il_decatur"}, threeChunkDocument())

	assert.Equal(t, StatusPartial, result.Status)
	assert.Equal(t, []string{"height"}, result.Undetermined)
	assert.Empty(t, result.FailedList)
	assert.True(t, result.Features["setbacks"].Found)
}

func TestPipeline_FailedWhenEveryFeatureFails(t *testing.T) {
	ctx := scopeWithHandler(t, func(system, user string) (string, error) {
		if strings.Contains(system, "contains_ord_info") {
			return relevanceAnswer(true), nil
		}
		return "", errors.New("provider down")
	})

	pipeline := NewPipeline(NewCollector(40, 0, 1, zaptest.NewLogger(t)), testFeatures(t), 2, zaptest.NewLogger(t))
	result := pipeline.ProcessDocument(ctx, Jurisdiction{Code: "il_decatur"}, threeChunkDocument())

	assert.Equal(t, StatusFailed, result.Status)
	assert.Len(t, result.FailedList, len(testFeatures(t)))
}

func TestPipeline_IrrelevantDocumentSkipsTraversals(t *testing.T) {
	var treeCalls atomic.Int32
	ctx := scopeWithHandler(t, func(system, user string) (string, error) {
		if strings.Contains(system, "contains_ord_info") {
			return relevanceAnswer(false), nil
		}
		treeCalls.Add(1)
		return "", errors.New("no traversal call expected")
	})

	pipeline := NewPipeline(NewCollector(40, 0, 1, zaptest.NewLogger(t)), testFeatures(t), 3, zaptest.NewLogger(t))
	document := threeChunkDocument()
	result := pipeline.ProcessDocument(ctx, Jurisdiction{Code: "il_decatur"}, document)

	// An irrelevant document completes with not-found features and
	// never reaches the decision trees
	assert.Zero(t, treeCalls.Load())
	assert.Equal(t, StatusComplete, result.Status)
	require.Len(t, result.Features, 2)
	for _, feature := range testFeatures(t) {
		res := result.Features[feature.Name]
		assert.False(t, res.Found)
		assert.False(t, res.Undetermined)
		assert.False(t, res.Failed)
	}

	stored, ok := document.Get(doc.KeyResults)
	require.True(t, ok)
	assert.Equal(t, result, stored)
}

func TestPipeline_FailedWhenCollectionFails(t *testing.T) {
	ctx := scopeWithHandler(t, func(system, user string) (string, error) {
		return "", errors.New("provider down")
	})

	pipeline := NewPipeline(NewCollector(40, 0, 1, zaptest.NewLogger(t)), testFeatures(t), 3, zaptest.NewLogger(t))
	result := pipeline.ProcessDocument(ctx, Jurisdiction{Code: "il_decatur"}, threeChunkDocument())

	assert.Equal(t, StatusFailed, result.Status)
	assert.Empty(t, result.Features)
}

func TestJurisdiction_FullName(t *testing.T) {
	tests := []struct {
		name string
		jur  Jurisdiction
		want string
	}{
		{
			name: "county",
			jur:  Jurisdiction{Code: "il_macon", State: "Illinois", County: "Macon"},
			want: "Macon County, Illinois",
		},
		{
			name: "subdivision",
			jur:  Jurisdiction{Code: "il_decatur", State: "Illinois", County: "Macon", SubdivisionName: "Decatur"},
			want: "Decatur, Macon County, Illinois",
		},
		{
			name: "state only",
			jur:  Jurisdiction{Code: "il", State: "Illinois"},
			want: "Illinois",
		},
		{
			name: "falls back to code",
			jur:  Jurisdiction{Code: "unknown_123"},
			want: "unknown_123",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.jur.FullName())
		})
	}
}
