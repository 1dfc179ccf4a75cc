package search

import (
	"context"
	stderrors "errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normatech/normrag/internal/llm"
)

func TestClassifyDefinitionByRules(t *testing.T) {
	// Two keyword hits out of seven: confidence = min(0.95, 2*2/7) ≈ 0.57,
	// below the acceptance bar, but with no generator the rules stand.
	c := NewIntentClassifier(nil, 16, nil)

	got := c.Classify(context.Background(), "Что такое несущая способность основания? Дайте определение.")
	assert.Equal(t, IntentDefinition, got.Intent)
	assert.Equal(t, "rules", got.Method)
	assert.Greater(t, got.Confidence, 0.5)

	// Rewrites: original first, then the definition templates.
	require.Len(t, got.ExpandedQueries, 5)
	assert.Equal(t, "Что такое несущая способность основания? Дайте определение.", got.ExpandedQueries[0])
	assert.Contains(t, got.ExpandedQueries[1], "определение")

	assert.Equal(t, []string{"термины", "определения"}, got.SectionFilters)
	assert.Equal(t, []string{"definition"}, got.ChunkTypeFilters)
}

func TestClassifyGeneralWhenNoKeywords(t *testing.T) {
	c := NewIntentClassifier(nil, 16, nil)
	got := c.Classify(context.Background(), "СП 22.13330 основания зданий")
	assert.Equal(t, IntentGeneral, got.Intent)
	assert.Zero(t, got.Confidence)
	assert.Empty(t, got.SectionFilters)
}

func TestClassifyLLMWinsOnHigherConfidence(t *testing.T) {
	gen := llm.GenerateFunc(func(ctx context.Context, prompt string, opts llm.Options) (string, error) {
		return `{"intent_type": "procedure", "confidence": 0.9, "reasoning": "описание процесса", "keywords": ["порядок"]}`, nil
	})
	c := NewIntentClassifier(gen, 16, nil)

	got := c.Classify(context.Background(), "Как выполняется монтаж свайного фундамента")
	assert.Equal(t, IntentProcedure, got.Intent)
	assert.Equal(t, "llm", got.Method)
	assert.Equal(t, 0.9, got.Confidence)
}

func TestClassifyLLMFailureKeepsRuleFloor(t *testing.T) {
	gen := llm.GenerateFunc(func(ctx context.Context, prompt string, opts llm.Options) (string, error) {
		return "", stderrors.New("model down")
	})
	c := NewIntentClassifier(gen, 16, nil)

	got := c.Classify(context.Background(), "Какие требования к бетону?")
	assert.Equal(t, IntentRequirements, got.Intent)
	assert.Equal(t, "rules", got.Method)
}

func TestClassifyRejectsMalformedLLMOutput(t *testing.T) {
	outputs := []string{
		"это не JSON",
		`{"intent_type": "unknown_intent", "confidence": 0.9}`,
		`{"intent_type": "procedure", "confidence": 7}`,
	}
	for _, output := range outputs {
		gen := llm.GenerateFunc(func(ctx context.Context, prompt string, opts llm.Options) (string, error) {
			return output, nil
		})
		c := NewIntentClassifier(gen, 16, nil)
		got := c.Classify(context.Background(), "Какие требования к бетону?")
		assert.Equal(t, "rules", got.Method, "output %q must fall back to rules", output)
	}
}

func TestClassifyParsesFencedJSON(t *testing.T) {
	gen := llm.GenerateFunc(func(ctx context.Context, prompt string, opts llm.Options) (string, error) {
		return "Вот классификация:\n```json\n" +
			`{"intent_type": "exceptions", "confidence": 0.85, "reasoning": "", "keywords": []}` +
			"\n```", nil
	})
	c := NewIntentClassifier(gen, 16, nil)
	got := c.Classify(context.Background(), "бетон марки М300")
	assert.Equal(t, IntentExceptions, got.Intent)
}

func TestClassifyCaches(t *testing.T) {
	var calls atomic.Int32
	gen := llm.GenerateFunc(func(ctx context.Context, prompt string, opts llm.Options) (string, error) {
		calls.Add(1)
		return `{"intent_type": "general", "confidence": 0.6, "reasoning": "", "keywords": []}`, nil
	})
	c := NewIntentClassifier(gen, 16, nil)

	c.Classify(context.Background(), "неоднозначный запрос о стройке")
	c.Classify(context.Background(), "  НЕОДНОЗНАЧНЫЙ запрос о стройке ")
	assert.Equal(t, int32(1), calls.Load())

	c.Flush()
	c.Classify(context.Background(), "неоднозначный запрос о стройке")
	assert.Equal(t, int32(2), calls.Load())
}

func TestRewriteDedupAndCap(t *testing.T) {
	c := NewIntentClassifier(nil, 16, nil)

	got := c.Rewrite("состав бетона", IntentDefinition)
	require.LessOrEqual(t, len(got), 5)
	assert.Equal(t, "состав бетона", got[0])

	seen := map[string]struct{}{}
	for _, q := range got {
		_, dup := seen[q]
		assert.False(t, dup, "duplicate expansion %q", q)
		seen[q] = struct{}{}
	}

	// Intents without templates keep only the original.
	got = c.Rewrite("любой запрос", IntentGeneral)
	assert.Equal(t, []string{"любой запрос"}, got)
}
