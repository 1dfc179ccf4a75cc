package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/normatech/normrag/internal/errors"
)

// ProcessingStatus is the document lifecycle state.
type ProcessingStatus string

const (
	StatusPending   ProcessingStatus = "pending"
	StatusIndexing  ProcessingStatus = "indexing"
	StatusCompleted ProcessingStatus = "completed"
	StatusFailed    ProcessingStatus = "failed"
)

// Document mirrors a row of uploaded_documents.
type Document struct {
	ID               int64
	Filename         string
	OriginalFilename string
	FileType         string
	FileSize         int64
	DocumentHash     string
	Category         string
	DocumentType     string
	ProcessingStatus ProcessingStatus
	ProcessingError  string
	IndexingProgress int
	RetryCount       int
	LastRetryAttempt time.Time
	TokenCount       int64
	UploadDate       time.Time
}

const documentColumns = `id, filename, original_filename, file_type, file_size, document_hash,
	category, document_type, processing_status, COALESCE(processing_error, ''),
	indexing_progress, retry_count, COALESCE(last_retry_attempt, 'epoch'::timestamptz),
	token_count, upload_date`

func scanDocument(row pgx.Row) (Document, error) {
	var d Document
	err := row.Scan(&d.ID, &d.Filename, &d.OriginalFilename, &d.FileType, &d.FileSize,
		&d.DocumentHash, &d.Category, &d.DocumentType, &d.ProcessingStatus,
		&d.ProcessingError, &d.IndexingProgress, &d.RetryCount, &d.LastRetryAttempt,
		&d.TokenCount, &d.UploadDate)
	return d, err
}

// SaveDocument inserts a new document in pending state and returns its id.
// Fails with the duplicate rejection when document_hash already exists.
func (m *Manager) SaveDocument(ctx context.Context, d *Document) (int64, error) {
	var id int64
	err := m.withWrite(ctx, "save document", func(pool *pgxpool.Pool) error {
		return pool.QueryRow(ctx, `
			INSERT INTO uploaded_documents
				(filename, original_filename, file_type, file_size, document_hash,
				 category, document_type, processing_status)
			VALUES ($1, $2, $3, $4, $5, $6, $7, 'pending')
			RETURNING id`,
			d.Filename, d.OriginalFilename, d.FileType, d.FileSize, d.DocumentHash,
			d.Category, d.DocumentType).Scan(&id)
	})
	if err != nil {
		if errors.IsKind(err, errors.KindInputInvalid) {
			return 0, errors.Duplicate(d.DocumentHash)
		}
		return 0, err
	}
	return id, nil
}

// GetDocument loads a single document by id.
func (m *Manager) GetDocument(ctx context.Context, id int64) (Document, error) {
	var d Document
	err := m.withRead(ctx, "get document", func(pool *pgxpool.Pool) error {
		var err error
		d, err = scanDocument(pool.QueryRow(ctx,
			`SELECT `+documentColumns+` FROM uploaded_documents WHERE id = $1`, id))
		return err
	})
	return d, err
}

// GetDocumentByHash loads a document by content hash.
func (m *Manager) GetDocumentByHash(ctx context.Context, hash string) (Document, error) {
	var d Document
	err := m.withRead(ctx, "get document by hash", func(pool *pgxpool.Pool) error {
		var err error
		d, err = scanDocument(pool.QueryRow(ctx,
			`SELECT `+documentColumns+` FROM uploaded_documents WHERE document_hash = $1`, hash))
		return err
	})
	return d, err
}

// GetDocuments lists documents, newest first.
func (m *Manager) GetDocuments(ctx context.Context, limit, offset int) ([]Document, error) {
	if limit <= 0 {
		limit = 100
	}
	var docs []Document
	err := m.withRead(ctx, "get documents", func(pool *pgxpool.Pool) error {
		rows, err := pool.Query(ctx,
			`SELECT `+documentColumns+` FROM uploaded_documents
			 ORDER BY upload_date DESC LIMIT $1 OFFSET $2`, limit, offset)
		if err != nil {
			return err
		}
		defer rows.Close()

		docs = docs[:0]
		for rows.Next() {
			d, err := scanDocument(rows)
			if err != nil {
				return err
			}
			docs = append(docs, d)
		}
		return rows.Err()
	})
	return docs, err
}

// UpdateStatus sets the processing status and optional error message.
func (m *Manager) UpdateStatus(ctx context.Context, id int64, status ProcessingStatus, processingError string) error {
	return m.withWrite(ctx, "update status", func(pool *pgxpool.Pool) error {
		tag, err := pool.Exec(ctx, `
			UPDATE uploaded_documents
			SET processing_status = $2,
			    processing_error = NULLIF($3, ''),
			    last_processing_update = now()
			WHERE id = $1`,
			id, status, processingError)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return pgx.ErrNoRows
		}
		return nil
	})
}

// UpdateProgress advances indexing progress. Progress is monotonic within
// an attempt: the update is a no-op when percent is below the stored value.
func (m *Manager) UpdateProgress(ctx context.Context, id int64, percent int, message string) error {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	return m.withWrite(ctx, "update progress", func(pool *pgxpool.Pool) error {
		_, err := pool.Exec(ctx, `
			UPDATE uploaded_documents
			SET indexing_progress = GREATEST(indexing_progress, $2),
			    processing_error = NULLIF($3, ''),
			    last_processing_update = now()
			WHERE id = $1`,
			id, percent, message)
		return err
	})
}

// SetTokenCount records the document token total.
func (m *Manager) SetTokenCount(ctx context.Context, id int64, tokens int64) error {
	return m.withWrite(ctx, "set token count", func(pool *pgxpool.Pool) error {
		_, err := pool.Exec(ctx,
			`UPDATE uploaded_documents SET token_count = $2 WHERE id = $1`, id, tokens)
		return err
	})
}

// GetPendingForIndexing returns documents awaiting indexing.
func (m *Manager) GetPendingForIndexing(ctx context.Context) ([]Document, error) {
	var docs []Document
	err := m.withRead(ctx, "get pending", func(pool *pgxpool.Pool) error {
		rows, err := pool.Query(ctx,
			`SELECT `+documentColumns+` FROM uploaded_documents
			 WHERE processing_status = 'pending'
			 ORDER BY upload_date ASC`)
		if err != nil {
			return err
		}
		defer rows.Close()

		docs = docs[:0]
		for rows.Next() {
			d, err := scanDocument(rows)
			if err != nil {
				return err
			}
			docs = append(docs, d)
		}
		return rows.Err()
	})
	return docs, err
}

// GetFailedForRetry returns failed documents still under the retry budget.
func (m *Manager) GetFailedForRetry(ctx context.Context, maxRetries int) ([]Document, error) {
	var docs []Document
	err := m.withRead(ctx, "get failed for retry", func(pool *pgxpool.Pool) error {
		rows, err := pool.Query(ctx,
			`SELECT `+documentColumns+` FROM uploaded_documents
			 WHERE processing_status = 'failed' AND retry_count < $1
			 ORDER BY upload_date ASC`, maxRetries)
		if err != nil {
			return err
		}
		defer rows.Close()

		docs = docs[:0]
		for rows.Next() {
			d, err := scanDocument(rows)
			if err != nil {
				return err
			}
			docs = append(docs, d)
		}
		return rows.Err()
	})
	return docs, err
}

// MarkForRetry moves a failed document back to pending and bumps its retry
// counter.
func (m *Manager) MarkForRetry(ctx context.Context, id int64, processingError string) error {
	return m.withWrite(ctx, "mark for retry", func(pool *pgxpool.Pool) error {
		tag, err := pool.Exec(ctx, `
			UPDATE uploaded_documents
			SET processing_status = 'pending',
			    processing_error = NULLIF($2, ''),
			    retry_count = retry_count + 1,
			    last_retry_attempt = now(),
			    indexing_progress = 0
			WHERE id = $1`,
			id, processingError)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return pgx.ErrNoRows
		}
		return nil
	})
}

// DeleteDocument removes the document and its chunks in one transaction.
// The caller is responsible for the vector-store filter-delete that
// completes the cascade.
func (m *Manager) DeleteDocument(ctx context.Context, id int64) error {
	return m.withWrite(ctx, "delete document", func(pool *pgxpool.Pool) error {
		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback(ctx) }()

		if _, err := tx.Exec(ctx,
			`DELETE FROM normative_chunks WHERE document_id = $1`, id); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx,
			`DELETE FROM uploaded_documents WHERE id = $1`, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return pgx.ErrNoRows
		}
		return tx.Commit(ctx)
	})
}
