package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/normatech/normrag/internal/chunker"
	"github.com/normatech/normrag/internal/config"
	"github.com/normatech/normrag/internal/embed"
	"github.com/normatech/normrag/internal/errors"
	"github.com/normatech/normrag/internal/meta"
	"github.com/normatech/normrag/internal/store"
	"github.com/normatech/normrag/internal/vectorstore"
)

// embedConcurrency bounds parallel embedding calls within one task.
const embedConcurrency = 4

// Parser extracts plain text from an uploaded file.
type Parser interface {
	ParseDocument(ctx context.Context, content []byte, filename string) (string, error)
}

// DocumentStore is the database surface the pipeline depends on.
type DocumentStore interface {
	UpdateStatus(ctx context.Context, id int64, status store.ProcessingStatus, processingError string) error
	UpdateProgress(ctx context.Context, id int64, percent int, message string) error
	SetTokenCount(ctx context.Context, id int64, tokens int64) error
	SaveChunks(ctx context.Context, chunks []store.Chunk) error
	MarkForRetry(ctx context.Context, id int64, processingError string) error
	GetPendingForIndexing(ctx context.Context) ([]store.Document, error)
}

// VectorWriter is the vector-store surface the pipeline depends on.
type VectorWriter interface {
	UpsertPoints(ctx context.Context, points []vectorstore.Point) error
}

// ChunkerProvider resolves the chunker for a document class, applying any
// per-class chunking overrides.
type ChunkerProvider func(docType string) *chunker.Chunker

// Stats is a snapshot of pipeline counters.
type Stats struct {
	Queued    int
	Active    int
	Completed int64
	Failed    int64
	Retried   int64
}

// Pipeline is the indexing worker pool.
type Pipeline struct {
	cfg      config.IndexingConfig
	docs     DocumentStore
	parser   Parser
	embedder embed.Embedder
	chunkers ChunkerProvider
	vectors  VectorWriter
	logger   *slog.Logger

	queue *Queue

	mu        sync.Mutex
	active    map[int64]*IndexingTask
	failed    []*IndexingTask
	completed int64
	failures  int64
	retried   int64

	wg       sync.WaitGroup
	shutdown chan struct{}
	once     sync.Once
}

// New assembles a pipeline; Start launches it.
func New(cfg config.IndexingConfig, docs DocumentStore, parser Parser, embedder embed.Embedder,
	chunkers ChunkerProvider, vectors VectorWriter, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxConcurrentTasks <= 0 {
		cfg.MaxConcurrentTasks = 3
	}
	return &Pipeline{
		cfg:      cfg,
		docs:     docs,
		parser:   parser,
		embedder: embedder,
		chunkers: chunkers,
		vectors:  vectors,
		logger:   logger,
		queue:    NewQueue(cfg.QueueCapacity),
		active:   map[int64]*IndexingTask{},
		shutdown: make(chan struct{}),
	}
}

// Start launches the workers and the recovery monitor. ctx cancellation
// is equivalent to Shutdown.
func (p *Pipeline) Start(ctx context.Context) {
	for i := 0; i < p.cfg.MaxConcurrentTasks; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	go p.monitor(ctx)
	go func() {
		select {
		case <-ctx.Done():
			p.stopDispatch()
		case <-p.shutdown:
		}
	}()
	p.logger.Info("pipeline_started",
		slog.Int("workers", p.cfg.MaxConcurrentTasks),
		slog.Int("queue_capacity", p.queue.capacity))
}

// Enqueue admits a task unless the document is already queued or active.
// A full queue surfaces Overload to the caller.
func (p *Pipeline) Enqueue(task *IndexingTask) error {
	if p.isActive(task.DocumentID) || p.queue.Contains(task.DocumentID) {
		p.logger.Debug("task_already_scheduled", slog.Int64("document_id", task.DocumentID))
		return nil
	}
	if err := p.queue.Enqueue(task); err != nil {
		return err
	}
	p.logger.Info("task_enqueued",
		slog.String("task_id", task.ID),
		slog.Int64("document_id", task.DocumentID),
		slog.String("priority", task.Priority.String()),
		slog.Int("retry_count", task.RetryCount))
	return nil
}

// Shutdown stops dispatch and waits up to the grace window for active
// tasks to drain. Abandoned tasks keep their database status so the
// monitor requeues them on the next start.
func (p *Pipeline) Shutdown() {
	p.stopDispatch()

	grace := p.cfg.ShutdownGrace
	if grace <= 0 {
		grace = 30 * time.Second
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("pipeline_drained")
	case <-time.After(grace):
		p.mu.Lock()
		abandoned := make([]int64, 0, len(p.active))
		for id := range p.active {
			abandoned = append(abandoned, id)
		}
		p.mu.Unlock()
		p.logger.Warn("pipeline_shutdown_timeout",
			slog.Duration("grace", grace),
			slog.Any("abandoned_documents", abandoned))
	}
}

func (p *Pipeline) stopDispatch() {
	p.once.Do(func() {
		close(p.shutdown)
		p.queue.Close()
	})
}

// Snapshot returns the current counters.
func (p *Pipeline) Snapshot() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Queued:    p.queue.Len(),
		Active:    len(p.active),
		Completed: p.completed,
		Failed:    p.failures,
		Retried:   p.retried,
	}
}

// worker pulls tasks until the queue closes, checking shutdown between
// tasks.
func (p *Pipeline) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		task, ok := p.queue.Dequeue()
		if !ok {
			return
		}
		select {
		case <-p.shutdown:
			return
		default:
		}

		if !p.activate(task) {
			p.logger.Warn("task_dropped_document_active",
				slog.String("task_id", task.ID),
				slog.Int64("document_id", task.DocumentID))
			continue
		}

		err := p.process(ctx, task)
		p.deactivate(task.DocumentID)

		if err != nil {
			p.handleFailure(ctx, task, err)
			continue
		}
		p.mu.Lock()
		p.completed++
		p.mu.Unlock()
		p.logger.Info("task_completed",
			slog.String("task_id", task.ID),
			slog.Int64("document_id", task.DocumentID),
			slog.Int("worker", id))
	}
}

// process runs one indexing attempt end to end, advancing the progress
// milestones as each step lands.
func (p *Pipeline) process(ctx context.Context, task *IndexingTask) error {
	docID := task.DocumentID

	if err := p.docs.UpdateStatus(ctx, docID, store.StatusIndexing, ""); err != nil {
		return err
	}
	if err := p.docs.UpdateProgress(ctx, docID, 10, "индексация начата"); err != nil {
		return err
	}

	content := task.Content
	if len(content) == 0 {
		data, err := os.ReadFile(task.Filename)
		if err != nil {
			return errors.Wrap(errors.KindInputInvalid, "read document file", err)
		}
		content = data
	}

	text, err := p.parser.ParseDocument(ctx, content, task.Filename)
	if err != nil {
		return err
	}
	if err := p.docs.UpdateProgress(ctx, docID, 20, "текст извлечён"); err != nil {
		return err
	}

	docMeta := meta.Extract(task.Filename, docID)
	chunks := p.chunkers(string(docMeta.DocType)).Chunk(text, docID, docMeta.DocTitle)
	if len(chunks) == 0 {
		return errors.New(errors.KindInputInvalid, "document produced no chunks")
	}
	if err := p.saveChunks(ctx, chunks); err != nil {
		return err
	}
	if err := p.docs.UpdateProgress(ctx, docID, 40, "разбиение завершено"); err != nil {
		return err
	}

	if err := p.embedAndIndex(ctx, docID, docMeta, chunks); err != nil {
		return err
	}

	tokens := int64(0)
	for i := range chunks {
		tokens += int64(chunks[i].Tokens(0))
	}
	if err := p.docs.SetTokenCount(ctx, docID, tokens); err != nil {
		return err
	}
	if err := p.docs.UpdateProgress(ctx, docID, 95, "токены подсчитаны"); err != nil {
		return err
	}

	if err := p.docs.UpdateStatus(ctx, docID, store.StatusCompleted, ""); err != nil {
		return err
	}
	return p.docs.UpdateProgress(ctx, docID, 100, "индексация завершена")
}

// embedAndIndex embeds every chunk with bounded concurrency, then upserts
// the points in document order. Progress climbs from 60 to 90 with the
// embedded share.
func (p *Pipeline) embedAndIndex(ctx context.Context, docID int64, docMeta meta.DocumentMeta, chunks []chunker.Chunk) error {
	vectors := make([][]float32, len(chunks))

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(embedConcurrency)

	var doneMu sync.Mutex
	done := 0
	for i := range chunks {
		group.Go(func() error {
			vec, err := p.embedder.Embed(gctx, chunks[i].Content)
			if err != nil {
				return err
			}
			vectors[i] = vec

			doneMu.Lock()
			done++
			percent := 60 + 30*done/len(chunks)
			doneMu.Unlock()
			return p.docs.UpdateProgress(gctx, docID, percent,
				fmt.Sprintf("векторизовано %d из %d", done, len(chunks)))
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}

	points := make([]vectorstore.Point, len(chunks))
	for i, c := range chunks {
		cm := meta.ForChunk(docMeta, c.ChunkID, c.ChunkType, c.Section, c.Page, c.Content)
		points[i] = vectorstore.Point{
			ID:     vectorstore.PointID(docID, c.ChunkID),
			Vector: vectors[i],
			Payload: map[string]any{
				"document_id":   docID,
				"chunk_id":      c.ChunkID,
				"code":          docMeta.Code(),
				"title":         c.DocumentTitle,
				"section_title": c.SectionTitle,
				"content":       c.Content,
				"chunk_type":    c.ChunkType,
				"page":          c.Page,
				"section":       c.Section,
				"metadata":      cm.Payload(),
			},
		}
	}
	return p.vectors.UpsertPoints(ctx, points)
}

func (p *Pipeline) saveChunks(ctx context.Context, chunks []chunker.Chunk) error {
	rows := make([]store.Chunk, len(chunks))
	for i, c := range chunks {
		rows[i] = store.Chunk{
			ChunkID:       c.ChunkID,
			DocumentID:    c.DocumentID,
			DocumentTitle: c.DocumentTitle,
			ChunkType:     c.ChunkType,
			Content:       c.Content,
			PageNumber:    c.Page,
			Chapter:       c.Chapter,
			Section:       c.Section,
			ChunkIndex:    i,
		}
	}
	return p.docs.SaveChunks(ctx, rows)
}

// handleFailure retries eligible tasks with a delayed enqueue; invalid
// input and exhausted retries are terminal.
func (p *Pipeline) handleFailure(ctx context.Context, task *IndexingTask, taskErr error) {
	p.logger.Error("task_failed",
		slog.String("task_id", task.ID),
		slog.Int64("document_id", task.DocumentID),
		slog.Int("retry_count", task.RetryCount),
		slog.String("error", taskErr.Error()))

	terminal := errors.IsKind(taskErr, errors.KindInputInvalid) || task.RetryCount >= task.MaxRetries
	if terminal {
		if err := p.docs.UpdateStatus(ctx, task.DocumentID, store.StatusFailed, taskErr.Error()); err != nil {
			p.logger.Error("status_update_failed",
				slog.Int64("document_id", task.DocumentID),
				slog.String("error", err.Error()))
		}
		p.mu.Lock()
		p.failures++
		p.failed = append(p.failed, task)
		p.mu.Unlock()
		return
	}

	if err := p.docs.MarkForRetry(ctx, task.DocumentID, taskErr.Error()); err != nil {
		p.logger.Error("mark_for_retry_failed",
			slog.Int64("document_id", task.DocumentID),
			slog.String("error", err.Error()))
	}

	delay := retryDelay(task.RetryCount)
	retry := *task
	retry.RetryCount++
	retry.LastAttempt = time.Now().UTC()

	p.mu.Lock()
	p.retried++
	p.mu.Unlock()

	p.logger.Info("task_retry_scheduled",
		slog.String("task_id", task.ID),
		slog.Int64("document_id", task.DocumentID),
		slog.Duration("delay", delay),
		slog.Int("next_attempt", retry.RetryCount))

	// Delay through the timer, not by sleeping inside a worker.
	time.AfterFunc(delay, func() {
		select {
		case <-p.shutdown:
			return
		default:
		}
		if err := p.Enqueue(&retry); err != nil {
			p.logger.Error("retry_enqueue_failed",
				slog.Int64("document_id", retry.DocumentID),
				slog.String("error", err.Error()))
		}
	})
}

// retryDelay is min(2^retryCount, 60) seconds.
func retryDelay(retryCount int) time.Duration {
	seconds := int64(1) << uint(retryCount)
	if seconds > 60 || seconds <= 0 {
		seconds = 60
	}
	return time.Duration(seconds) * time.Second
}

func (p *Pipeline) activate(task *IndexingTask) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, busy := p.active[task.DocumentID]; busy {
		return false
	}
	task.LastAttempt = time.Now().UTC()
	p.active[task.DocumentID] = task
	return true
}

func (p *Pipeline) deactivate(documentID int64) {
	p.mu.Lock()
	delete(p.active, documentID)
	p.mu.Unlock()
}

func (p *Pipeline) isActive(documentID int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, busy := p.active[documentID]
	return busy
}
