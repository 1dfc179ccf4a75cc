// Package answer assembles the structured context returned to callers:
// deduplicated and merged retrieval candidates, per-candidate summaries,
// and a top-level meta-summary.
package answer

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/normatech/normrag/internal/llm"
	"github.com/normatech/normrag/internal/meta"
	"github.com/normatech/normrag/internal/search"
)

// Coverage quality labels.
const (
	CoverageHigh  = "высокая"
	CoverageMid   = "средняя"
	CoverageLow   = "низкая"
	CoverageEmpty = "нет результатов"
)

// Summary is the per-candidate structured summary produced by the model.
type Summary struct {
	Topic     string   `json:"topic"`
	NormType  string   `json:"norm_type"`
	KeyPoints []string `json:"key_points"`
	Relevance string   `json:"relevance"`
}

// ContextItem is one merged candidate in the structured context.
type ContextItem struct {
	Code         string   `json:"code"`
	Title        string   `json:"title"`
	Section      string   `json:"section,omitempty"`
	SectionTitle string   `json:"section_title,omitempty"`
	Content      string   `json:"content"`
	Pages        []int    `json:"pages"`
	Score        float64  `json:"score"`
	SearchType   string   `json:"search_type"`
	Summary      *Summary `json:"summary,omitempty"`
	Note         string   `json:"note,omitempty"`
}

// MetaSummary aggregates the candidate set.
type MetaSummary struct {
	QueryType       string   `json:"query_type"`
	DocumentsFound  int      `json:"documents_found"`
	SectionsCovered int      `json:"sections_covered"`
	AvgRelevance    float64  `json:"avg_relevance"`
	CoverageQuality string   `json:"coverage_quality"`
	KeyDocuments    []string `json:"key_documents"`
	KeySections     []string `json:"key_sections"`
}

// StructuredContext is the typed answer bundle.
type StructuredContext struct {
	Query           string        `json:"query"`
	Timestamp       time.Time     `json:"timestamp"`
	Status          string        `json:"status"`
	MissingDocument string        `json:"missing_document,omitempty"`
	Confidence      float64       `json:"confidence"`
	Context         []ContextItem `json:"context"`
	MetaSummary     MetaSummary   `json:"meta_summary"`
	TotalCandidates int           `json:"total_candidates"`
	AvgScore        float64       `json:"avg_score"`
}

// pageAdjacency is the maximum page distance for merging two candidates
// of the same (code, section) group.
const pageAdjacency = 2

// Builder turns ranked retrieval results into a StructuredContext.
// generator may be nil to skip per-candidate summaries.
type Builder struct {
	generator llm.Generator
	logger    *slog.Logger
}

// NewBuilder returns a context builder.
func NewBuilder(generator llm.Generator, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{generator: generator, logger: logger}
}

// Build deduplicates, merges, summarizes, and aggregates the candidates.
// It never fails: summary errors drop the summary, and empty input yields
// an empty context with coverage "нет результатов".
func (b *Builder) Build(ctx context.Context, query string, results []search.Result, withSummaries bool) StructuredContext {
	sc := StructuredContext{
		Query:      query,
		Timestamp:  time.Now().UTC(),
		Status:     "ok",
		Confidence: 1,
	}

	if len(results) == 0 {
		sc.MetaSummary = MetaSummary{
			QueryType:       queryType(query),
			CoverageQuality: CoverageEmpty,
		}
		if codes := meta.DetectCodes(query); len(codes) > 0 {
			sc.Status = "warning"
			sc.MissingDocument = codes[0]
			sc.Confidence = 0.5
		}
		return sc
	}

	items := mergeCandidates(results)

	if withSummaries && b.generator != nil {
		for i := range items {
			summary, err := b.summarize(ctx, query, &items[i])
			if err != nil {
				b.logger.Warn("candidate_summary_failed",
					slog.String("code", items[i].Code),
					slog.String("error", err.Error()))
				continue
			}
			items[i].Summary = summary
		}
	}

	b.flagMissingCodes(query, items, &sc)

	sc.Context = items
	sc.TotalCandidates = len(items)
	sc.AvgScore = averageScore(items)
	sc.MetaSummary = buildMetaSummary(query, items, sc.AvgScore)
	return sc
}

// mergeCandidates groups by (code, section), sorts each group by page,
// and merges page-adjacent candidates: contents concatenate, the higher
// score wins. Groups keep the order of their first appearance.
func mergeCandidates(results []search.Result) []ContextItem {
	type groupKey struct {
		code    string
		section string
	}

	var order []groupKey
	groups := map[groupKey][]search.Result{}
	for _, r := range results {
		key := groupKey{code: r.Code, section: r.Section}
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], r)
	}

	var items []ContextItem
	for _, key := range order {
		group := groups[key]
		sort.SliceStable(group, func(i, j int) bool { return group[i].Page < group[j].Page })

		current := itemFrom(group[0])
		for _, r := range group[1:] {
			lastPage := current.Pages[len(current.Pages)-1]
			if abs(r.Page-lastPage) <= pageAdjacency {
				current.Content += "\n" + r.Content
				current.Pages = append(current.Pages, r.Page)
				if r.Score > current.Score {
					current.Score = r.Score
					current.SearchType = string(r.SearchType)
				}
				continue
			}
			items = append(items, current)
			current = itemFrom(r)
		}
		items = append(items, current)
	}

	sort.SliceStable(items, func(i, j int) bool { return items[i].Score > items[j].Score })
	return items
}

func itemFrom(r search.Result) ContextItem {
	return ContextItem{
		Code:         r.Code,
		Title:        r.Title,
		Section:      r.Section,
		SectionTitle: r.SectionTitle,
		Content:      r.Content,
		Pages:        []int{r.Page},
		Score:        r.Score,
		SearchType:   string(r.SearchType),
	}
}

// summarize asks the model for a line-prefixed structured summary and
// parses it field by field.
func (b *Builder) summarize(ctx context.Context, query string, item *ContextItem) (*Summary, error) {
	prompt := fmt.Sprintf(
		"Составь краткую сводку фрагмента нормативного документа применительно к запросу.\n"+
			"Ответь строго в формате:\n"+
			"ТЕМА: <одна строка>\n"+
			"ТИП_НОРМЫ: <обязательная | рекомендательная | информационная>\n"+
			"КЛЮЧЕВЫЕ_МОМЕНТЫ:\n- <пункт>\n- <пункт>\n- <пункт>\n"+
			"ПРИЧИНА_РЕЛЕВАНТНОСТИ: <одна строка>\n\n"+
			"Запрос: %s\n\nДокумент: %s %s\n\nФрагмент: %s",
		query, item.Code, item.Section, item.Content)

	output, err := b.generator.Generate(ctx, prompt, llm.Options{
		MaxTokens:   384,
		Temperature: 0.2,
	})
	if err != nil {
		return nil, err
	}
	return parseSummary(output)
}

// parseSummary reads the line-prefixed fields. A summary without a topic
// is rejected; other fields are optional.
func parseSummary(output string) (*Summary, error) {
	s := &Summary{}
	inKeyPoints := false
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "ТЕМА:"):
			s.Topic = strings.TrimSpace(strings.TrimPrefix(line, "ТЕМА:"))
			inKeyPoints = false
		case strings.HasPrefix(line, "ТИП_НОРМЫ:"):
			s.NormType = normType(strings.TrimSpace(strings.TrimPrefix(line, "ТИП_НОРМЫ:")))
			inKeyPoints = false
		case strings.HasPrefix(line, "КЛЮЧЕВЫЕ_МОМЕНТЫ:"):
			inKeyPoints = true
		case strings.HasPrefix(line, "ПРИЧИНА_РЕЛЕВАНТНОСТИ:"):
			s.Relevance = strings.TrimSpace(strings.TrimPrefix(line, "ПРИЧИНА_РЕЛЕВАНТНОСТИ:"))
			inKeyPoints = false
		case inKeyPoints && strings.HasPrefix(line, "-"):
			point := strings.TrimSpace(strings.TrimPrefix(line, "-"))
			if point != "" && len(s.KeyPoints) < 4 {
				s.KeyPoints = append(s.KeyPoints, point)
			}
		}
	}
	if s.Topic == "" {
		return nil, fmt.Errorf("summary output missing ТЕМА field")
	}
	return s, nil
}

// normType snaps the model output to the closed norm-type set.
func normType(value string) string {
	lower := strings.ToLower(value)
	for _, t := range []string{"обязательная", "рекомендательная", "информационная"} {
		if strings.Contains(lower, t) {
			return t
		}
	}
	return "информационная"
}

// flagMissingCodes checks whether codes named in the query are present in
// the candidate set. A missing code downgrades the context to a warning
// and annotates every candidate as a nearest match, not the requested
// document.
func (b *Builder) flagMissingCodes(query string, items []ContextItem, sc *StructuredContext) {
	queryCodes := meta.DetectCodes(query)
	if len(queryCodes) == 0 {
		return
	}

	present := make(map[string]struct{}, len(items))
	for _, item := range items {
		present[item.Code] = struct{}{}
	}

	for _, code := range queryCodes {
		if _, ok := present[code]; ok {
			continue
		}
		sc.Status = "warning"
		sc.MissingDocument = code
		sc.Confidence = 0.5
		for i := range items {
			items[i].Note = "не является запрашиваемым документом " + code
		}
		b.logger.Warn("requested_code_missing",
			slog.String("code", code),
			slog.Int("nearest_matches", len(items)))
		return
	}
}

// buildMetaSummary aggregates distinct codes, sections, coverage quality,
// and the top three codes and sections by score.
func buildMetaSummary(query string, items []ContextItem, avgScore float64) MetaSummary {
	codeBest := map[string]float64{}
	sectionBest := map[string]float64{}
	for _, item := range items {
		if item.Code != "" && item.Score > codeBest[item.Code] {
			codeBest[item.Code] = item.Score
		}
		if item.Section != "" && item.Score > sectionBest[item.Section] {
			sectionBest[item.Section] = item.Score
		}
	}

	coverage := CoverageLow
	switch {
	case avgScore >= 0.7:
		coverage = CoverageHigh
	case avgScore >= 0.5:
		coverage = CoverageMid
	}

	return MetaSummary{
		QueryType:       queryType(query),
		DocumentsFound:  len(codeBest),
		SectionsCovered: len(sectionBest),
		AvgRelevance:    avgScore,
		CoverageQuality: coverage,
		KeyDocuments:    topByScore(codeBest, 3),
		KeySections:     topByScore(sectionBest, 3),
	}
}

// queryType classifies the query lexically for the meta-summary.
func queryType(query string) string {
	lower := strings.ToLower(query)
	switch {
	case strings.Contains(lower, "требован"), strings.Contains(lower, "должн"),
		strings.Contains(lower, "обязательн"):
		return "requirements"
	case strings.Contains(lower, "рекоменд"), strings.Contains(lower, "допускается"):
		return "recommendations"
	case strings.Contains(lower, "что такое"), strings.Contains(lower, "определение"),
		strings.Contains(lower, "термин"):
		return "definitions"
	default:
		return "general"
	}
}

// topByScore returns up to n keys ordered by score descending, key
// ascending on ties for determinism.
func topByScore(best map[string]float64, n int) []string {
	keys := make([]string, 0, len(best))
	for k := range best {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if best[keys[i]] != best[keys[j]] {
			return best[keys[i]] > best[keys[j]]
		}
		return keys[i] < keys[j]
	})
	if len(keys) > n {
		keys = keys[:n]
	}
	return keys
}

func averageScore(items []ContextItem) float64 {
	if len(items) == 0 {
		return 0
	}
	var sum float64
	for _, item := range items {
		sum += item.Score
	}
	return sum / float64(len(items))
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
