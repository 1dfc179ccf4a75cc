package search

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normatech/normrag/internal/config"
	"github.com/normatech/normrag/internal/errors"
	"github.com/normatech/normrag/internal/llm"
	"github.com/normatech/normrag/internal/store"
)

type fakeChunkSource struct {
	chunks []store.Chunk
	calls  atomic.Int32
	err    error
}

func (f *fakeChunkSource) AllChunks(ctx context.Context, limit int) ([]store.Chunk, error) {
	f.calls.Add(1)
	return f.chunks, f.err
}

type fakeRetriever struct {
	results []Result
	err     error
	lastK   int
}

func (f *fakeRetriever) Search(ctx context.Context, query string, k int, filters Filters) ([]Result, error) {
	f.lastK = k
	if f.err != nil {
		return nil, f.err
	}
	out := f.results
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func testChunks() []store.Chunk {
	return []store.Chunk{
		{ChunkID: "doc1_chunk_0", DocumentID: 1, DocumentTitle: "СП 22.13330.2016 Основания зданий",
			ChunkType: "paragraph", Content: "Несущая способность основания определяется расчётом", PageNumber: 10, Section: "5.2"},
		{ChunkID: "doc1_chunk_1", DocumentID: 1, DocumentTitle: "СП 22.13330.2016 Основания зданий",
			ChunkType: "paragraph", Content: "Нагрузки на фундаменты принимаются по нормам", PageNumber: 12, Section: "5.3"},
		{ChunkID: "doc2_chunk_0", DocumentID: 2, DocumentTitle: "ГОСТ 27751-2014 Надежность конструкций",
			ChunkType: "paragraph", Content: "Пожарная безопасность эвакуационных путей зданий", PageNumber: 3, Section: "4.1"},
	}
}

func newTestEngine(source ChunkSource, dense Retriever, fusion config.FusionConfig) *Engine {
	return NewEngine(source, dense, nil, nil, nil, fusion, nil)
}

func TestEngineHybridSearch(t *testing.T) {
	source := &fakeChunkSource{chunks: testChunks()}
	dense := &fakeRetriever{results: []Result{
		{ChunkID: "doc2_chunk_0", DocumentID: 2, Content: "Пожарная безопасность эвакуационных путей зданий", Score: 0.9},
		{ChunkID: "doc1_chunk_0", DocumentID: 1, Content: "Несущая способность основания определяется расчётом", Score: 0.6},
	}}
	e := newTestEngine(source, dense, config.FusionConfig{Alpha: 0.6, RRFK: 60})

	results, err := e.Search(context.Background(), "несущая способность основания", 5, Filters{}, Flags{})
	require.NoError(t, err)
	require.NotEmpty(t, results)

	for i, r := range results {
		assert.Equal(t, i+1, r.Rank)
		assert.Equal(t, SearchTypeHybrid, r.SearchType)
	}
	// The BM25-matching chunk is present in the fused union.
	ids := idsOf(results)
	assert.Contains(t, ids, "doc1_chunk_0")
}

func TestEngineCorpusCacheLoadsOnce(t *testing.T) {
	source := &fakeChunkSource{chunks: testChunks()}
	e := newTestEngine(source, &fakeRetriever{}, config.FusionConfig{Alpha: 0.6})

	_, err := e.Search(context.Background(), "основания", 5, Filters{}, Flags{})
	require.NoError(t, err)
	_, err = e.Search(context.Background(), "фундаменты", 5, Filters{}, Flags{})
	require.NoError(t, err)
	assert.Equal(t, int32(1), source.calls.Load())

	e.Flush()
	_, err = e.Search(context.Background(), "основания", 5, Filters{}, Flags{})
	require.NoError(t, err)
	assert.Equal(t, int32(2), source.calls.Load())
}

func TestEngineBM25FilterByDocument(t *testing.T) {
	source := &fakeChunkSource{chunks: testChunks()}
	e := newTestEngine(source, &fakeRetriever{}, config.FusionConfig{Alpha: 0.6})

	results, err := e.Search(context.Background(), "зданий", 5, Filters{DocumentID: 2}, Flags{})
	require.NoError(t, err)
	for _, r := range results {
		assert.Equal(t, int64(2), r.DocumentID)
	}
}

func TestEngineCorpusCarriesCode(t *testing.T) {
	source := &fakeChunkSource{chunks: testChunks()}
	e := newTestEngine(source, &fakeRetriever{}, config.FusionConfig{Alpha: 0.6})

	results, err := e.Search(context.Background(), "несущая способность основания", 5, Filters{}, Flags{})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "СП 22.13330", results[0].Code)
}

func TestEngineDenseLegFailureFallsBackToBM25(t *testing.T) {
	source := &fakeChunkSource{chunks: testChunks()}
	dense := &fakeRetriever{err: errors.New(errors.KindTransient, "embedding down")}
	e := newTestEngine(source, dense, config.FusionConfig{Alpha: 0.6})

	results, err := e.Search(context.Background(), "несущая способность основания", 5, Filters{}, Flags{})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	for _, r := range results {
		assert.Equal(t, SearchTypeFallback, r.SearchType)
	}
}

func TestEngineBM25LegFailureFallsBackToDense(t *testing.T) {
	source := &fakeChunkSource{err: errors.New(errors.KindTransient, "db down")}
	dense := &fakeRetriever{results: []Result{{ChunkID: "doc1_chunk_0", Score: 0.9}}}
	e := newTestEngine(source, dense, config.FusionConfig{Alpha: 0.6})

	results, err := e.Search(context.Background(), "основания", 5, Filters{}, Flags{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, SearchTypeFallback, results[0].SearchType)
}

func TestEngineBothLegsFailingYieldsEmpty(t *testing.T) {
	source := &fakeChunkSource{err: errors.New(errors.KindTransient, "db down")}
	dense := &fakeRetriever{err: errors.New(errors.KindTransient, "embedding down")}
	e := newTestEngine(source, dense, config.FusionConfig{Alpha: 0.6})

	results, err := e.Search(context.Background(), "основания", 5, Filters{}, Flags{})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestEngineRRFMode(t *testing.T) {
	source := &fakeChunkSource{chunks: testChunks()}
	dense := &fakeRetriever{results: []Result{{ChunkID: "doc1_chunk_0", Score: 0.9}}}
	e := newTestEngine(source, dense, config.FusionConfig{UseRRF: true, RRFK: 60})

	results, err := e.Search(context.Background(), "несущая способность основания", 5, Filters{}, Flags{})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	// doc1_chunk_0 appears in both lists and must lead.
	assert.Equal(t, "doc1_chunk_0", results[0].ChunkID)
}

func TestEngineTruncatesAndRanks(t *testing.T) {
	source := &fakeChunkSource{chunks: testChunks()}
	dense := &fakeRetriever{results: []Result{
		{ChunkID: "doc1_chunk_0", Score: 0.9},
		{ChunkID: "doc1_chunk_1", Score: 0.8},
		{ChunkID: "doc2_chunk_0", Score: 0.7},
	}}
	e := newTestEngine(source, dense, config.FusionConfig{Alpha: 0.6})

	results, err := e.Search(context.Background(), "зданий основания фундаменты", 2, Filters{}, Flags{})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(results), 2)
	for i, r := range results {
		assert.Equal(t, i+1, r.Rank)
	}
}

func TestEngineRerankThenMMR(t *testing.T) {
	dense := &fakeRetriever{results: []Result{
		{ChunkID: "doc1_chunk_0", DocumentID: 1, Content: "несущая способность основания", Score: 0.9},
		{ChunkID: "doc2_chunk_0", DocumentID: 2, Content: "пожарная безопасность зданий", Score: 0.8},
		{ChunkID: "doc3_chunk_0", DocumentID: 3, Content: "вентиляция жилых помещений", Score: 0.7},
		{ChunkID: "doc4_chunk_0", DocumentID: 4, Content: "расчёт свайных фундаментов", Score: 0.6},
	}}
	gen := llm.GenerateFunc(func(ctx context.Context, prompt string, opts llm.Options) (string, error) {
		return "0.4\n0.6\n0.9\n0.2", nil
	})
	cfg := config.Default().Reranker
	cfg.InitialTopK = 17
	reranker := NewReranker(gen, cfg, nil)
	mmr := NewMMRDiversifier(0.7, 0.8)
	e := NewEngine(&fakeChunkSource{}, dense, reranker, mmr, nil, config.FusionConfig{Alpha: 0.6}, nil)

	results, err := e.Search(context.Background(), "вентиляция помещений", 2, Filters{},
		Flags{UseReranker: true, UseMMR: true})
	require.NoError(t, err)
	require.Len(t, results, 2)

	// The candidate pool width comes from the reranker config.
	assert.Equal(t, 17, dense.lastK)

	// Reranking promoted the third candidate, and diversification still
	// ran afterwards: every result carries both stages' metadata.
	assert.Equal(t, "doc3_chunk_0", results[0].ChunkID)
	for i, r := range results {
		assert.Equal(t, "batch", r.RerankMethod)
		assert.Equal(t, r.MMRScore, r.Score)
		assert.Equal(t, i+1, r.Rank)
	}
}

func TestMatchesFilters(t *testing.T) {
	r := Result{Code: "СП 22.13330", Section: "5.2.1", SectionTitle: "Расчёт оснований", ChunkType: "paragraph", DocumentID: 7}

	assert.True(t, matchesFilters(r, Filters{}))
	assert.True(t, matchesFilters(r, Filters{Code: "СП 22.13330"}))
	assert.False(t, matchesFilters(r, Filters{Code: "ГОСТ 27751"}))
	// Section prefix match selects subsections.
	assert.True(t, matchesFilters(r, Filters{Section: "5.2"}))
	assert.False(t, matchesFilters(r, Filters{Section: "7"}))
	// Section keyword match against the heading title.
	assert.True(t, matchesFilters(r, Filters{Section: "расчёт"}))
	assert.True(t, matchesFilters(r, Filters{DocumentID: 7}))
	assert.False(t, matchesFilters(r, Filters{DocumentID: 8}))
	assert.False(t, matchesFilters(r, Filters{ChunkType: "definition"}))
}
