package search

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/normatech/normrag/internal/config"
	"github.com/normatech/normrag/internal/llm"
)

// rerankPassageLimit truncates passages before they enter the prompt.
const rerankPassageLimit = 500

// numberRe extracts numeric tokens from model output.
var numberRe = regexp.MustCompile(`\d+(?:[.,]\d+)?`)

// Reranker rescoring uses a chat model as a cross-encoder. The primary
// path scores a whole batch in one call; when it fails the reranker
// degrades to per-pair scoring, and when that fails too the input order
// passes through unchanged.
type Reranker struct {
	generator llm.Generator
	cfg       config.RerankerConfig
	logger    *slog.Logger
}

// NewReranker builds a reranker on top of the given generator.
func NewReranker(generator llm.Generator, cfg config.RerankerConfig, logger *slog.Logger) *Reranker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reranker{generator: generator, cfg: cfg, logger: logger}
}

// Rerank rescores candidates against the query and returns them sorted by
// the new score, truncated to topK. Candidates keep their pre-rerank score
// in OriginalScore. Rerank never fails: with both model paths down the
// incoming order is returned with rerank_method "fallback".
func (r *Reranker) Rerank(ctx context.Context, query string, candidates []Result, topK int) []Result {
	if len(candidates) == 0 {
		return candidates
	}
	if topK <= 0 || topK > len(candidates) {
		topK = len(candidates)
	}

	scores, method := r.scoreAll(ctx, query, candidates)
	if scores == nil {
		// Pass-through floor: keep incoming order.
		out := make([]Result, topK)
		for i := range out {
			out[i] = candidates[i]
			out[i].RerankMethod = "fallback"
			out[i].Rank = i + 1
		}
		return out
	}

	reranked := make([]Result, len(candidates))
	for i, c := range candidates {
		c.OriginalScore = c.Score
		c.RerankScore = scores[i]
		c.Score = scores[i]
		c.RerankMethod = method
		reranked[i] = c
	}
	sort.SliceStable(reranked, func(i, j int) bool {
		return reranked[i].Score > reranked[j].Score
	})

	reranked = reranked[:topK]
	for i := range reranked {
		reranked[i].Rank = i + 1
	}
	return reranked
}

// scoreAll tries batched scoring first and per-pair scoring second.
// A nil score slice means both paths failed.
func (r *Reranker) scoreAll(ctx context.Context, query string, candidates []Result) ([]float64, string) {
	scores, err := r.scoreBatched(ctx, query, candidates)
	if err == nil {
		return scores, "batch"
	}
	r.logger.Warn("rerank_batch_failed", slog.String("error", err.Error()))

	scores, err = r.scorePairwise(ctx, query, candidates)
	if err == nil {
		return scores, "pairwise"
	}
	r.logger.Warn("rerank_pairwise_failed", slog.String("error", err.Error()))
	return nil, ""
}

// scoreBatched scores candidates in batches of at most MaxBatchSize pairs
// per model call.
func (r *Reranker) scoreBatched(ctx context.Context, query string, candidates []Result) ([]float64, error) {
	batchSize := r.cfg.MaxBatchSize
	if batchSize <= 0 {
		batchSize = 10
	}

	scores := make([]float64, 0, len(candidates))
	for start := 0; start < len(candidates); start += batchSize {
		end := start + batchSize
		if end > len(candidates) {
			end = len(candidates)
		}
		batch := candidates[start:end]

		prompt := buildBatchPrompt(query, batch)
		output, err := r.generator.Generate(ctx, prompt, llm.Options{
			MaxTokens:   16 * len(batch),
			Temperature: 0,
			Timeout:     r.cfg.BatchTimeout,
		})
		if err != nil {
			return nil, err
		}
		scores = append(scores, parseBatchScores(output, len(batch))...)
	}
	return scores, nil
}

// scorePairwise scores one (query, passage) pair per model call on a
// 1-10 scale, normalized to [0,1]. The first pair failing fails the path.
func (r *Reranker) scorePairwise(ctx context.Context, query string, candidates []Result) ([]float64, error) {
	scores := make([]float64, len(candidates))
	for i, c := range candidates {
		prompt := fmt.Sprintf(
			"Оцени релевантность фрагмента нормативного документа запросу по шкале от 1 до 10.\n"+
				"Ответь одним числом, без пояснений.\n\nЗапрос: %s\n\nФрагмент: %s\n\nОценка:",
			query, truncateRunes(c.Content, rerankPassageLimit))

		output, err := r.generator.Generate(ctx, prompt, llm.Options{
			MaxTokens:   8,
			Temperature: 0,
			Timeout:     r.cfg.Timeout,
		})
		if err != nil {
			return nil, err
		}

		match := numberRe.FindString(output)
		if match == "" {
			return nil, fmt.Errorf("no numeric score in %q", output)
		}
		value, err := strconv.ParseFloat(strings.ReplaceAll(match, ",", "."), 64)
		if err != nil {
			return nil, err
		}
		scores[i] = clamp01(value / 10)
	}
	return scores, nil
}

// buildBatchPrompt lists the pairs and asks for one score per line.
func buildBatchPrompt(query string, batch []Result) string {
	var b strings.Builder
	b.WriteString("Оцени релевантность каждого фрагмента нормативного документа запросу.\n")
	b.WriteString("Для каждого фрагмента выведи одно число от 0 до 1 на отдельной строке, без пояснений.\n\n")
	fmt.Fprintf(&b, "Запрос: %s\n\n", query)
	for i, c := range batch {
		fmt.Fprintf(&b, "Фрагмент %d: %s\n\n", i+1, truncateRunes(c.Content, rerankPassageLimit))
	}
	fmt.Fprintf(&b, "Оценки (%d строк):", len(batch))
	return b.String()
}

// parseBatchScores pulls numeric tokens out of the model output in order.
// Values above 1 are treated as a 0-10 scale; values still above 1 after
// rescaling clamp to 1. Missing scores pad with 0.5, extras are dropped.
func parseBatchScores(output string, want int) []float64 {
	matches := numberRe.FindAllString(output, -1)
	scores := make([]float64, 0, want)
	for _, m := range matches {
		if len(scores) == want {
			break
		}
		value, err := strconv.ParseFloat(strings.ReplaceAll(m, ",", "."), 64)
		if err != nil {
			continue
		}
		if value > 1 {
			value /= 10
		}
		scores = append(scores, clamp01(value))
	}
	for len(scores) < want {
		scores = append(scores, 0.5)
	}
	return scores
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// truncateRunes cuts text to at most n runes.
func truncateRunes(text string, n int) string {
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n])
}
