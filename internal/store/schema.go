package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schema holds the idempotent DDL for the persisted entities.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS uploaded_documents (
		id                     BIGSERIAL PRIMARY KEY,
		filename               TEXT NOT NULL,
		original_filename      TEXT NOT NULL,
		file_type              TEXT NOT NULL,
		file_size              BIGINT NOT NULL,
		document_hash          TEXT NOT NULL,
		category               TEXT NOT NULL DEFAULT '',
		document_type          TEXT NOT NULL DEFAULT '',
		processing_status      TEXT NOT NULL DEFAULT 'pending',
		processing_error       TEXT,
		indexing_progress      INTEGER NOT NULL DEFAULT 0,
		retry_count            INTEGER NOT NULL DEFAULT 0,
		last_retry_attempt     TIMESTAMPTZ,
		last_processing_update TIMESTAMPTZ,
		token_count            BIGINT NOT NULL DEFAULT 0,
		upload_date            TIMESTAMPTZ NOT NULL DEFAULT now(),
		CONSTRAINT uploaded_documents_document_hash_key UNIQUE (document_hash)
	)`,
	`CREATE TABLE IF NOT EXISTS normative_chunks (
		chunk_id       TEXT PRIMARY KEY,
		document_id    BIGINT NOT NULL REFERENCES uploaded_documents(id) ON DELETE CASCADE,
		document_title TEXT NOT NULL DEFAULT '',
		chunk_type     TEXT NOT NULL DEFAULT 'paragraph',
		content        TEXT NOT NULL,
		page_number    INTEGER NOT NULL DEFAULT 1,
		chapter        TEXT NOT NULL DEFAULT '',
		section        TEXT NOT NULL DEFAULT '',
		chunk_index    INTEGER NOT NULL DEFAULT 0
	)`,
	`ALTER TABLE normative_chunks
		ADD COLUMN IF NOT EXISTS chunk_index INTEGER NOT NULL DEFAULT 0`,
	`CREATE INDEX IF NOT EXISTS normative_chunks_document_id_idx
		ON normative_chunks (document_id)`,
	`CREATE INDEX IF NOT EXISTS uploaded_documents_status_idx
		ON uploaded_documents (processing_status)`,
}

// EnsureSchema applies the schema DDL. Safe to run on every startup.
func (m *Manager) EnsureSchema(ctx context.Context) error {
	return m.withWrite(ctx, "ensure schema", func(pool *pgxpool.Pool) error {
		for _, ddl := range schema {
			if _, err := pool.Exec(ctx, ddl); err != nil {
				return err
			}
		}
		return nil
	})
}
