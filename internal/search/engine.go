package search

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/normatech/normrag/internal/config"
	"github.com/normatech/normrag/internal/meta"
	"github.com/normatech/normrag/internal/store"
)

// rerankerSearchK is the candidate pool size ahead of reranking when the
// reranker config does not set one.
const rerankerSearchK = 50

// ChunkSource supplies the chunk corpus for BM25. *store.Manager
// satisfies it.
type ChunkSource interface {
	AllChunks(ctx context.Context, limit int) ([]store.Chunk, error)
}

// Engine is the retrieval orchestrator: it runs BM25 and dense retrieval,
// fuses them, and applies the optional reranking, MMR, and intent stages.
// Degradation ladder: hybrid, then dense-only, then BM25-only, then empty.
type Engine struct {
	chunks     ChunkSource
	bm25       *BM25Engine
	dense      Retriever
	reranker   *Reranker
	mmr        *MMRDiversifier
	classifier *IntentClassifier
	fusion     config.FusionConfig
	logger     *slog.Logger

	// BM25 corpus cache: lazily loaded from the database on first query,
	// immutable until Flush.
	corpusMu sync.RWMutex
	corpus   []BM25Document
	loaded   bool
}

// NewEngine wires the retrieval stages together. reranker, mmr, and
// classifier may be nil; the corresponding flags then have no effect.
func NewEngine(chunks ChunkSource, dense Retriever, reranker *Reranker,
	mmr *MMRDiversifier, classifier *IntentClassifier, fusion config.FusionConfig,
	logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		chunks:     chunks,
		bm25:       NewBM25Engine(),
		dense:      dense,
		reranker:   reranker,
		mmr:        mmr,
		classifier: classifier,
		fusion:     fusion,
		logger:     logger,
	}
}

// Search runs the full retrieval pipeline and returns at most k ranked
// results. Filters passed by the caller always win over intent-derived
// ones.
func (e *Engine) Search(ctx context.Context, query string, k int, filters Filters, flags Flags) ([]Result, error) {
	if k <= 0 {
		k = 8
	}

	if flags.UseIntentClassification && !flags.FastMode && e.classifier != nil {
		classification := e.classifier.Classify(ctx, query)
		if filters.Section == "" && len(classification.SectionFilters) > 0 {
			filters.Section = classification.SectionFilters[0]
		}
		if filters.ChunkType == "" && len(classification.ChunkTypeFilters) > 0 {
			filters.ChunkType = classification.ChunkTypeFilters[0]
		}
		e.logger.Debug("intent_classified",
			slog.String("intent", string(classification.Intent)),
			slog.Float64("confidence", classification.Confidence),
			slog.String("method", classification.Method))
	}

	searchK := k
	switch {
	case flags.UseReranker && !flags.FastMode && e.reranker != nil:
		searchK = e.reranker.cfg.InitialTopK
		if searchK <= 0 {
			searchK = rerankerSearchK
		}
		if searchK < k {
			searchK = k
		}
	case flags.UseMMR && !flags.FastMode && e.mmr != nil:
		searchK = 2 * k
	}

	results, err := e.retrieve(ctx, query, searchK, filters)
	if err != nil {
		return nil, err
	}

	if flags.UseReranker && !flags.FastMode && e.reranker != nil && len(results) > k {
		// The reranker keeps a wider slice than k when MMR still has to
		// run, so diversification has candidates to choose among.
		rerankK := e.reranker.cfg.TopK
		if rerankK < k {
			rerankK = k
		}
		if flags.UseMMR && e.mmr != nil && rerankK < 2*k {
			rerankK = 2 * k
		}
		if rerankK > len(results) {
			rerankK = len(results)
		}
		results = e.reranker.Rerank(ctx, query, results, rerankK)
	}
	if flags.UseMMR && !flags.FastMode && e.mmr != nil && len(results) > k {
		results = e.mmr.Diversify(query, results, k)
	}

	if len(results) > k {
		results = results[:k]
	}
	for i := range results {
		results[i].Rank = i + 1
	}
	return results, nil
}

// retrieve runs the hybrid stage with per-leg degradation: a failed BM25
// leg leaves dense-only results and vice versa; both failing yields an
// empty set, not an error.
func (e *Engine) retrieve(ctx context.Context, query string, k int, filters Filters) ([]Result, error) {
	bm25Results, bm25Err := e.searchBM25(ctx, query, k, filters)
	if bm25Err != nil {
		e.logger.Warn("bm25_leg_failed", slog.String("error", bm25Err.Error()))
	}

	denseResults, denseErr := e.dense.Search(ctx, query, k, filters)
	if denseErr != nil {
		e.logger.Warn("dense_leg_failed", slog.String("error", denseErr.Error()))
	}

	switch {
	case bm25Err == nil && denseErr == nil:
		if e.fusion.UseRRF {
			return RRF(bm25Results, denseResults, e.fusion.RRFK), nil
		}
		return AlphaBlend(bm25Results, denseResults, e.fusion.Alpha), nil
	case denseErr == nil:
		return markFallback(denseResults), nil
	case bm25Err == nil:
		return markFallback(bm25Results), nil
	default:
		e.logger.Error("retrieval_failed",
			slog.String("bm25_error", bm25Err.Error()),
			slog.String("dense_error", denseErr.Error()))
		return nil, nil
	}
}

// searchBM25 scores the query against the in-memory corpus, restricted to
// chunks matching the filters.
func (e *Engine) searchBM25(ctx context.Context, query string, k int, filters Filters) ([]Result, error) {
	corpus, err := e.loadCorpus(ctx)
	if err != nil {
		return nil, err
	}

	docs := corpus
	if !filters.IsZero() {
		docs = make([]BM25Document, 0, len(corpus))
		for _, d := range corpus {
			if matchesFilters(d.Result, filters) {
				docs = append(docs, d)
			}
		}
	}
	return e.bm25.Search(query, docs, k), nil
}

// loadCorpus returns the cached BM25 corpus, loading it from the database
// on first use.
func (e *Engine) loadCorpus(ctx context.Context) ([]BM25Document, error) {
	e.corpusMu.RLock()
	if e.loaded {
		corpus := e.corpus
		e.corpusMu.RUnlock()
		return corpus, nil
	}
	e.corpusMu.RUnlock()

	e.corpusMu.Lock()
	defer e.corpusMu.Unlock()
	if e.loaded {
		return e.corpus, nil
	}

	chunks, err := e.chunks.AllChunks(ctx, 0)
	if err != nil {
		return nil, err
	}

	corpus := make([]BM25Document, len(chunks))
	for i, c := range chunks {
		dm := meta.Extract(c.DocumentTitle, c.DocumentID)
		corpus[i] = BM25Document{
			ID:      c.ChunkID,
			Content: c.Content,
			Result: Result{
				ChunkID:      c.ChunkID,
				DocumentID:   c.DocumentID,
				Code:         dm.Code(),
				Title:        c.DocumentTitle,
				ChunkType:    c.ChunkType,
				Page:         c.PageNumber,
				Section:      c.Section,
				SectionTitle: c.Chapter,
			},
		}
	}

	e.corpus = corpus
	e.loaded = true
	e.logger.Info("bm25_corpus_loaded", slog.Int("chunks", len(corpus)))
	return corpus, nil
}

// Flush invalidates the BM25 corpus cache (and the intent cache); the
// next query reloads from the database. Call after indexing changes.
func (e *Engine) Flush() {
	e.corpusMu.Lock()
	e.corpus = nil
	e.loaded = false
	e.corpusMu.Unlock()
	if e.classifier != nil {
		e.classifier.Flush()
	}
}

// matchesFilters applies the conjunctive filter set to a chunk payload.
// Section matches by prefix so that "5.2" selects "5.2.1" as well.
func matchesFilters(r Result, f Filters) bool {
	if f.Code != "" && r.Code != f.Code {
		return false
	}
	if f.Section != "" && !strings.HasPrefix(r.Section, f.Section) &&
		!strings.Contains(strings.ToLower(r.SectionTitle), strings.ToLower(f.Section)) {
		return false
	}
	if f.ChunkType != "" && r.ChunkType != f.ChunkType {
		return false
	}
	if f.DocumentID != 0 && r.DocumentID != f.DocumentID {
		return false
	}
	return true
}

// markFallback tags a single-leg result list produced by degradation.
func markFallback(results []Result) []Result {
	for i := range results {
		results[i].SearchType = SearchTypeFallback
	}
	return results
}
