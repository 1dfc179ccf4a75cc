package search

import (
	"context"

	"github.com/normatech/normrag/internal/embed"
	"github.com/normatech/normrag/internal/vectorstore"
)

// DenseRetriever queries the vector store with the embedded query.
type DenseRetriever struct {
	embedder embed.Embedder
	store    *vectorstore.Store
}

// NewDenseRetriever wires the embedding client to the vector store.
func NewDenseRetriever(embedder embed.Embedder, store *vectorstore.Store) *DenseRetriever {
	return &DenseRetriever{embedder: embedder, store: store}
}

// Search embeds the query and runs filtered ANN search.
func (d *DenseRetriever) Search(ctx context.Context, query string, k int, filters Filters) ([]Result, error) {
	vector, err := d.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	hits, err := d.store.Search(ctx, vector, k, denseFilter(filters))
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(hits))
	for rank, hit := range hits {
		r := resultFromPayload(hit.Payload)
		r.Score = float64(hit.Score)
		r.Rank = rank + 1
		r.SearchType = SearchTypeDense
		results = append(results, r)
	}
	return results, nil
}

// denseFilter converts retrieval filters to vector-store payload matches.
func denseFilter(filters Filters) vectorstore.Filter {
	if filters.IsZero() {
		return nil
	}
	f := vectorstore.Filter{}
	if filters.Code != "" {
		f["code"] = filters.Code
	}
	if filters.Section != "" {
		f["section"] = filters.Section
	}
	if filters.ChunkType != "" {
		f["chunk_type"] = filters.ChunkType
	}
	if filters.DocumentID != 0 {
		f["document_id"] = filters.DocumentID
	}
	return f
}

// resultFromPayload reconstructs a Result from the point payload mirror.
func resultFromPayload(payload map[string]any) Result {
	r := Result{Metadata: map[string]any{}}
	for key, value := range payload {
		switch key {
		case "chunk_id":
			r.ChunkID, _ = value.(string)
		case "document_id":
			if id, ok := value.(int64); ok {
				r.DocumentID = id
			}
		case "code":
			r.Code, _ = value.(string)
		case "title":
			r.Title, _ = value.(string)
		case "section_title":
			r.SectionTitle, _ = value.(string)
		case "content":
			r.Content, _ = value.(string)
		case "chunk_type":
			r.ChunkType, _ = value.(string)
		case "page":
			if page, ok := value.(int64); ok {
				r.Page = int(page)
			}
		case "section":
			r.Section, _ = value.(string)
		default:
			r.Metadata[key] = value
		}
	}
	return r
}

var _ Retriever = (*DenseRetriever)(nil)
