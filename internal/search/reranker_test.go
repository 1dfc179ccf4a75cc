package search

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normatech/normrag/internal/config"
	"github.com/normatech/normrag/internal/llm"
)

func rerankerConfig() config.RerankerConfig {
	return config.Default().Reranker
}

func candidates(n int) []Result {
	out := make([]Result, n)
	for i := range out {
		out[i] = Result{
			ChunkID: fmt.Sprintf("doc1_chunk_%d", i),
			Content: fmt.Sprintf("Фрагмент номер %d о требованиях к основаниям", i),
			Score:   float64(n-i) / float64(n),
			Rank:    i + 1,
		}
	}
	return out
}

func TestRerankBatchScores(t *testing.T) {
	gen := llm.GenerateFunc(func(ctx context.Context, prompt string, opts llm.Options) (string, error) {
		return "0.2\n0.9\n0.5", nil
	})
	r := NewReranker(gen, rerankerConfig(), nil)

	results := r.Rerank(context.Background(), "запрос", candidates(3), 3)
	require.Len(t, results, 3)

	assert.Equal(t, "doc1_chunk_1", results[0].ChunkID)
	assert.Equal(t, 0.9, results[0].Score)
	assert.Equal(t, 0.9, results[0].RerankScore)
	assert.Equal(t, "batch", results[0].RerankMethod)
	// Pre-rerank score is preserved.
	assert.InDelta(t, 2.0/3, results[0].OriginalScore, 1e-12)
	assert.Equal(t, 1, results[0].Rank)
}

func TestRerankTenScaleOutputRescales(t *testing.T) {
	gen := llm.GenerateFunc(func(ctx context.Context, prompt string, opts llm.Options) (string, error) {
		return "2\n9\n5", nil
	})
	r := NewReranker(gen, rerankerConfig(), nil)

	results := r.Rerank(context.Background(), "запрос", candidates(3), 3)
	require.Len(t, results, 3)
	assert.Equal(t, "doc1_chunk_1", results[0].ChunkID)
	assert.Equal(t, 0.9, results[0].Score)
}

func TestRerankFallsBackToPairwise(t *testing.T) {
	gen := llm.GenerateFunc(func(ctx context.Context, prompt string, opts llm.Options) (string, error) {
		if strings.Contains(prompt, "Оценки") {
			return "", stderrors.New("batch endpoint down")
		}
		// Pairwise path: score the last fragment highest.
		if strings.Contains(prompt, "номер 2") {
			return "9", nil
		}
		return "3", nil
	})
	r := NewReranker(gen, rerankerConfig(), nil)

	results := r.Rerank(context.Background(), "запрос", candidates(3), 3)
	require.Len(t, results, 3)
	assert.Equal(t, "pairwise", results[0].RerankMethod)
	assert.Equal(t, "doc1_chunk_2", results[0].ChunkID)
	assert.InDelta(t, 0.9, results[0].Score, 1e-12)
}

func TestRerankPassThroughWhenAllFail(t *testing.T) {
	gen := llm.GenerateFunc(func(ctx context.Context, prompt string, opts llm.Options) (string, error) {
		return "", stderrors.New("model unavailable")
	})
	r := NewReranker(gen, rerankerConfig(), nil)

	input := candidates(5)
	results := r.Rerank(context.Background(), "запрос", input, 3)
	require.Len(t, results, 3)

	// Exactly the pre-rerank top-k in the incoming order.
	for i, r := range results {
		assert.Equal(t, input[i].ChunkID, r.ChunkID)
		assert.Equal(t, "fallback", r.RerankMethod)
		assert.Equal(t, i+1, r.Rank)
	}
}

func TestRerankEmptyAndTopKBounds(t *testing.T) {
	gen := llm.GenerateFunc(func(ctx context.Context, prompt string, opts llm.Options) (string, error) {
		return "0.5", nil
	})
	r := NewReranker(gen, rerankerConfig(), nil)

	assert.Empty(t, r.Rerank(context.Background(), "q", nil, 3))

	// topK above len clamps to len.
	results := r.Rerank(context.Background(), "q", candidates(1), 10)
	assert.Len(t, results, 1)
}

func TestParseBatchScores(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   []float64
	}{
		{"plain floats", "0.1\n0.9", []float64{0.1, 0.9}},
		{"comma decimals", "0,3\n0,7", []float64{0.3, 0.7}},
		{"ten scale rescales", "3\n10", []float64{0.3, 1.0}},
		{"above ten clamps", "42\n0.5", []float64{1.0, 0.5}},
		{"missing pads with half", "0.8", []float64{0.8, 0.5}},
		{"extra truncates", "0.1\n0.2\n0.3", []float64{0.1, 0.2}},
		{"no numbers pads all", "не могу оценить", []float64{0.5, 0.5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseBatchScores(tt.output, 2)
			require.Len(t, got, len(tt.want))
			for i := range tt.want {
				assert.InDelta(t, tt.want[i], got[i], 1e-12)
			}
		})
	}
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "абв", truncateRunes("абвгд", 3))
	assert.Equal(t, "абв", truncateRunes("абв", 10))
}
