// Package search implements the retrieval pipeline: BM25 and dense
// retrieval, hybrid fusion, cross-encoder reranking, MMR diversification,
// intent classification, and the orchestrator that glues them together.
package search

import "context"

// SearchType identifies which retrieval strategy produced a result.
type SearchType string

const (
	SearchTypeBM25     SearchType = "bm25"
	SearchTypeDense    SearchType = "dense"
	SearchTypeHybrid   SearchType = "hybrid"
	SearchTypeFallback SearchType = "fallback"
)

// Result is a transient retrieval record. It mirrors the chunk payload and
// accumulates scores as it moves through fusion, reranking, and MMR.
type Result struct {
	ChunkID      string         `json:"chunk_id"`
	DocumentID   int64          `json:"document_id"`
	Code         string         `json:"code"`
	Title        string         `json:"title"`
	SectionTitle string         `json:"section_title,omitempty"`
	Content      string         `json:"content"`
	ChunkType    string         `json:"chunk_type"`
	Page         int            `json:"page"`
	Section      string         `json:"section,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`

	Score          float64    `json:"score"`
	Rank           int        `json:"rank"`
	OriginalScore  float64    `json:"original_score,omitempty"`
	RerankScore    float64    `json:"rerank_score,omitempty"`
	MMRScore       float64    `json:"mmr_score,omitempty"`
	RelevanceScore float64    `json:"relevance_score,omitempty"`
	DiversityScore float64    `json:"diversity_score,omitempty"`
	SearchType     SearchType `json:"search_type"`
	RerankMethod   string     `json:"rerank_method,omitempty"`

	// BM25Rank and DenseRank are the 1-indexed positions in the
	// constituent lists before fusion (0 if absent).
	BM25Rank  int `json:"bm25_rank,omitempty"`
	DenseRank int `json:"dense_rank,omitempty"`
}

// Filters restrict retrieval to matching chunks. Empty fields are
// unconstrained; set fields combine conjunctively.
type Filters struct {
	Code       string
	Section    string
	ChunkType  string
	DocumentID int64
}

// IsZero reports whether no constraint is set.
func (f Filters) IsZero() bool {
	return f.Code == "" && f.Section == "" && f.ChunkType == "" && f.DocumentID == 0
}

// Flags toggle optional pipeline stages per query.
type Flags struct {
	UseReranker             bool
	UseMMR                  bool
	UseIntentClassification bool
	// FastMode skips the reranker, MMR, and intent classification
	// regardless of the other flags.
	FastMode bool
}

// Retriever is the common contract of the BM25 and dense retrievers.
type Retriever interface {
	Search(ctx context.Context, query string, k int, filters Filters) ([]Result, error)
}
