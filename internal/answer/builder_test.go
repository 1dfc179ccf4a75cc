package answer

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normatech/normrag/internal/llm"
	"github.com/normatech/normrag/internal/search"
)

func result(code, section string, page int, score float64, content string) search.Result {
	return search.Result{
		ChunkID:    code + "_" + section,
		Code:       code,
		Title:      code + " Основания зданий и сооружений",
		Section:    section,
		Content:    content,
		Page:       page,
		Score:      score,
		SearchType: search.SearchTypeHybrid,
	}
}

func TestBuildEmptyInput(t *testing.T) {
	b := NewBuilder(nil, nil)

	sc := b.Build(context.Background(), "требования к основаниям", nil, false)
	assert.Equal(t, "ok", sc.Status)
	assert.Zero(t, sc.TotalCandidates)
	assert.Empty(t, sc.Context)
	assert.Equal(t, CoverageEmpty, sc.MetaSummary.CoverageQuality)
	assert.Equal(t, "requirements", sc.MetaSummary.QueryType)
}

func TestBuildEmptyInputWithRequestedCode(t *testing.T) {
	b := NewBuilder(nil, nil)

	sc := b.Build(context.Background(), "Требования СП 99.99999 к основаниям", nil, false)
	assert.Equal(t, "warning", sc.Status)
	assert.Equal(t, "СП 99.99999", sc.MissingDocument)
	assert.Equal(t, 0.5, sc.Confidence)
	assert.Equal(t, CoverageEmpty, sc.MetaSummary.CoverageQuality)
}

func TestMergeCandidatesAdjacentPages(t *testing.T) {
	results := []search.Result{
		result("СП 22.13330", "5.2", 12, 0.6, "Продолжение раздела"),
		result("СП 22.13330", "5.2", 10, 0.9, "Начало раздела"),
		result("СП 22.13330", "5.2", 20, 0.4, "Дальний фрагмент"),
	}

	items := mergeCandidates(results)
	require.Len(t, items, 2)

	// Pages 10 and 12 merge (distance 2); page 20 stays apart.
	assert.Equal(t, []int{10, 12}, items[0].Pages)
	assert.Equal(t, "Начало раздела\nПродолжение раздела", items[0].Content)
	assert.Equal(t, 0.9, items[0].Score)
	assert.Equal(t, []int{20}, items[1].Pages)
}

func TestMergeCandidatesSeparatesSections(t *testing.T) {
	results := []search.Result{
		result("СП 22.13330", "5.2", 10, 0.9, "Расчёт оснований"),
		result("СП 22.13330", "7.1", 11, 0.8, "Свайные фундаменты"),
		result("ГОСТ 27751", "4.1", 10, 0.7, "Надежность конструкций"),
	}

	items := mergeCandidates(results)
	require.Len(t, items, 3)
	// Sorted by score, nothing merged across sections or codes.
	assert.Equal(t, "5.2", items[0].Section)
	assert.Equal(t, "7.1", items[1].Section)
	assert.Equal(t, "ГОСТ 27751", items[2].Code)
}

func TestBuildFlagsMissingCode(t *testing.T) {
	b := NewBuilder(nil, nil)
	results := []search.Result{
		result("ГОСТ 27751", "4.1", 10, 0.8, "Надежность строительных конструкций"),
	}

	sc := b.Build(context.Background(), "Что говорит СП 99.99999 о надежности?", results, false)
	assert.Equal(t, "warning", sc.Status)
	assert.Equal(t, "СП 99.99999", sc.MissingDocument)
	assert.Equal(t, 0.5, sc.Confidence)
	require.Len(t, sc.Context, 1)
	assert.Equal(t, "не является запрашиваемым документом СП 99.99999", sc.Context[0].Note)
}

func TestBuildPresentCodeKeepsOKStatus(t *testing.T) {
	b := NewBuilder(nil, nil)
	results := []search.Result{
		result("СП 22.13330", "5.2", 10, 0.8, "Расчёт оснований"),
	}

	sc := b.Build(context.Background(), "Что говорит СП 22.13330 о расчёте?", results, false)
	assert.Equal(t, "ok", sc.Status)
	assert.Empty(t, sc.MissingDocument)
	assert.Equal(t, float64(1), sc.Confidence)
	assert.Empty(t, sc.Context[0].Note)
}

func TestBuildWithSummaries(t *testing.T) {
	gen := llm.GenerateFunc(func(ctx context.Context, prompt string, opts llm.Options) (string, error) {
		return "ТЕМА: Расчёт несущей способности\n" +
			"ТИП_НОРМЫ: обязательная\n" +
			"КЛЮЧЕВЫЕ_МОМЕНТЫ:\n- Первый пункт\n- Второй пункт\n" +
			"ПРИЧИНА_РЕЛЕВАНТНОСТИ: Прямо отвечает на запрос", nil
	})
	b := NewBuilder(gen, nil)
	results := []search.Result{
		result("СП 22.13330", "5.2", 10, 0.8, "Расчёт оснований"),
	}

	sc := b.Build(context.Background(), "расчёт оснований", results, true)
	require.Len(t, sc.Context, 1)
	summary := sc.Context[0].Summary
	require.NotNil(t, summary)
	assert.Equal(t, "Расчёт несущей способности", summary.Topic)
	assert.Equal(t, "обязательная", summary.NormType)
	assert.Equal(t, []string{"Первый пункт", "Второй пункт"}, summary.KeyPoints)
	assert.Equal(t, "Прямо отвечает на запрос", summary.Relevance)
}

func TestBuildSummaryFailureDropsSummary(t *testing.T) {
	gen := llm.GenerateFunc(func(ctx context.Context, prompt string, opts llm.Options) (string, error) {
		return "", stderrors.New("model down")
	})
	b := NewBuilder(gen, nil)
	results := []search.Result{
		result("СП 22.13330", "5.2", 10, 0.8, "Расчёт оснований"),
	}

	sc := b.Build(context.Background(), "расчёт оснований", results, true)
	require.Len(t, sc.Context, 1)
	assert.Nil(t, sc.Context[0].Summary)
	assert.Equal(t, "ok", sc.Status)
}

func TestParseSummary(t *testing.T) {
	t.Run("missing topic is rejected", func(t *testing.T) {
		_, err := parseSummary("ТИП_НОРМЫ: обязательная")
		assert.Error(t, err)
	})

	t.Run("key points cap at four", func(t *testing.T) {
		s, err := parseSummary("ТЕМА: тема\nКЛЮЧЕВЫЕ_МОМЕНТЫ:\n- а\n- б\n- в\n- г\n- д")
		require.NoError(t, err)
		assert.Len(t, s.KeyPoints, 4)
	})

	t.Run("dashes outside key points are ignored", func(t *testing.T) {
		s, err := parseSummary("ТЕМА: тема\nПРИЧИНА_РЕЛЕВАНТНОСТИ: причина\n- не пункт")
		require.NoError(t, err)
		assert.Empty(t, s.KeyPoints)
		assert.Equal(t, "причина", s.Relevance)
	})
}

func TestNormTypeSnapsToClosedSet(t *testing.T) {
	assert.Equal(t, "обязательная", normType("Обязательная норма"))
	assert.Equal(t, "рекомендательная", normType("скорее рекомендательная"))
	assert.Equal(t, "информационная", normType("что-то невнятное"))
}

func TestBuildMetaSummary(t *testing.T) {
	items := []ContextItem{
		{Code: "СП 22.13330", Section: "5.2", Score: 0.9},
		{Code: "СП 22.13330", Section: "7.1", Score: 0.7},
		{Code: "ГОСТ 27751", Section: "4.1", Score: 0.6},
	}

	ms := buildMetaSummary("какие требования к основаниям", items, 0.73)
	assert.Equal(t, "requirements", ms.QueryType)
	assert.Equal(t, 2, ms.DocumentsFound)
	assert.Equal(t, 3, ms.SectionsCovered)
	assert.Equal(t, CoverageHigh, ms.CoverageQuality)
	assert.Equal(t, []string{"СП 22.13330", "ГОСТ 27751"}, ms.KeyDocuments)
	assert.Equal(t, []string{"5.2", "7.1", "4.1"}, ms.KeySections)
}

func TestCoverageThresholds(t *testing.T) {
	items := []ContextItem{{Code: "СП 22.13330", Score: 1}}

	assert.Equal(t, CoverageHigh, buildMetaSummary("q", items, 0.7).CoverageQuality)
	assert.Equal(t, CoverageMid, buildMetaSummary("q", items, 0.5).CoverageQuality)
	assert.Equal(t, CoverageLow, buildMetaSummary("q", items, 0.49).CoverageQuality)
}

func TestQueryType(t *testing.T) {
	assert.Equal(t, "requirements", queryType("какие требования к бетону"))
	assert.Equal(t, "recommendations", queryType("что рекомендуется для гидроизоляции"))
	assert.Equal(t, "definitions", queryType("что такое несущая способность"))
	assert.Equal(t, "general", queryType("СП 22.13330 основания"))
}

func TestTopByScoreDeterministicTies(t *testing.T) {
	best := map[string]float64{"б": 0.5, "а": 0.5, "в": 0.9, "г": 0.1}
	assert.Equal(t, []string{"в", "а", "б"}, topByScore(best, 3))
}
