package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Chunk mirrors a row of normative_chunks. ChunkIndex is the chunk's
// ordinal within its document; chunk ids sort lexicographically
// ("doc1_chunk_10" before "doc1_chunk_2") and cannot order reads.
type Chunk struct {
	ChunkID       string
	DocumentID    int64
	DocumentTitle string
	ChunkType     string
	Content       string
	PageNumber    int
	Chapter       string
	Section       string
	ChunkIndex    int
}

// SaveChunks inserts the chunks of one document in a single transaction,
// in document order. Re-running for the same chunk ids upserts content.
func (m *Manager) SaveChunks(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	return m.withWrite(ctx, "save chunks", func(pool *pgxpool.Pool) error {
		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback(ctx) }()

		for _, c := range chunks {
			if _, err := tx.Exec(ctx, `
				INSERT INTO normative_chunks
					(chunk_id, document_id, document_title, chunk_type, content,
					 page_number, chapter, section, chunk_index)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
				ON CONFLICT (chunk_id) DO UPDATE SET
					content = EXCLUDED.content,
					chunk_type = EXCLUDED.chunk_type,
					page_number = EXCLUDED.page_number,
					chapter = EXCLUDED.chapter,
					section = EXCLUDED.section,
					chunk_index = EXCLUDED.chunk_index`,
				c.ChunkID, c.DocumentID, c.DocumentTitle, c.ChunkType, c.Content,
				c.PageNumber, c.Chapter, c.Section, c.ChunkIndex); err != nil {
				return err
			}
		}
		return tx.Commit(ctx)
	})
}

// GetChunks returns the chunks of a document in chunk order.
func (m *Manager) GetChunks(ctx context.Context, documentID int64) ([]Chunk, error) {
	var chunks []Chunk
	err := m.withRead(ctx, "get chunks", func(pool *pgxpool.Pool) error {
		rows, err := pool.Query(ctx, `
			SELECT chunk_id, document_id, document_title, chunk_type, content,
			       page_number, chapter, section, chunk_index
			FROM normative_chunks
			WHERE document_id = $1
			ORDER BY chunk_index`, documentID)
		if err != nil {
			return err
		}
		defer rows.Close()

		chunks = chunks[:0]
		for rows.Next() {
			var c Chunk
			if err := rows.Scan(&c.ChunkID, &c.DocumentID, &c.DocumentTitle,
				&c.ChunkType, &c.Content, &c.PageNumber, &c.Chapter, &c.Section,
				&c.ChunkIndex); err != nil {
				return err
			}
			chunks = append(chunks, c)
		}
		return rows.Err()
	})
	return chunks, err
}

// AllChunks streams every chunk, optionally filtered by document type via
// a join. Used to train the BM25 corpus cache.
func (m *Manager) AllChunks(ctx context.Context, limit int) ([]Chunk, error) {
	if limit <= 0 {
		limit = 50000
	}
	var chunks []Chunk
	err := m.withRead(ctx, "all chunks", func(pool *pgxpool.Pool) error {
		rows, err := pool.Query(ctx, `
			SELECT chunk_id, document_id, document_title, chunk_type, content,
			       page_number, chapter, section, chunk_index
			FROM normative_chunks
			ORDER BY document_id, chunk_index
			LIMIT $1`, limit)
		if err != nil {
			return err
		}
		defer rows.Close()

		chunks = chunks[:0]
		for rows.Next() {
			var c Chunk
			if err := rows.Scan(&c.ChunkID, &c.DocumentID, &c.DocumentTitle,
				&c.ChunkType, &c.Content, &c.PageNumber, &c.Chapter, &c.Section,
				&c.ChunkIndex); err != nil {
				return err
			}
			chunks = append(chunks, c)
		}
		return rows.Err()
	})
	return chunks, err
}
