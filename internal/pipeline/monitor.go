package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/normatech/normrag/internal/store"
)

// monitor is the recovery loop: it logs pipeline stats, fails tasks stuck
// past the threshold, and requeues pending documents that fell out of the
// queue (for example after an unclean shutdown).
func (p *Pipeline) monitor(ctx context.Context) {
	interval := p.cfg.MonitorInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.shutdown:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.logStats()
			p.failStuckTasks(ctx)
			p.requeuePending(ctx)
		}
	}
}

func (p *Pipeline) logStats() {
	stats := p.Snapshot()
	p.logger.Info("pipeline_stats",
		slog.Int("queued", stats.Queued),
		slog.Int("active", stats.Active),
		slog.Int64("completed", stats.Completed),
		slog.Int64("failed", stats.Failed),
		slog.Int64("retried", stats.Retried))
}

// failStuckTasks marks active tasks whose attempt started longer than the
// stuck threshold ago as failed and removes them from the active set.
func (p *Pipeline) failStuckTasks(ctx context.Context) {
	threshold := p.cfg.StuckThreshold
	if threshold <= 0 {
		threshold = 10 * time.Minute
	}
	cutoff := time.Now().UTC().Add(-threshold)

	p.mu.Lock()
	var stuck []*IndexingTask
	for _, task := range p.active {
		if task.LastAttempt.Before(cutoff) {
			stuck = append(stuck, task)
		}
	}
	for _, task := range stuck {
		delete(p.active, task.DocumentID)
		p.failures++
		p.failed = append(p.failed, task)
	}
	p.mu.Unlock()

	for _, task := range stuck {
		p.logger.Warn("task_stuck",
			slog.String("task_id", task.ID),
			slog.Int64("document_id", task.DocumentID),
			slog.Time("last_attempt", task.LastAttempt))
		if err := p.docs.UpdateStatus(ctx, task.DocumentID, store.StatusFailed, "Task stuck"); err != nil {
			p.logger.Error("status_update_failed",
				slog.Int64("document_id", task.DocumentID),
				slog.String("error", err.Error()))
		}
	}
}

// requeuePending enqueues pending documents that are neither active nor
// already queued.
func (p *Pipeline) requeuePending(ctx context.Context) {
	pending, err := p.docs.GetPendingForIndexing(ctx)
	if err != nil {
		p.logger.Error("pending_lookup_failed", slog.String("error", err.Error()))
		return
	}

	for _, doc := range pending {
		if p.isActive(doc.ID) || p.queue.Contains(doc.ID) {
			continue
		}
		task := NewTask(doc.ID, doc.Filename, nil, doc.Category, PriorityNormal, p.cfg.MaxRetries)
		task.RetryCount = doc.RetryCount
		if err := p.Enqueue(task); err != nil {
			p.logger.Warn("requeue_failed",
				slog.Int64("document_id", doc.ID),
				slog.String("error", err.Error()))
			return
		}
		p.logger.Info("document_requeued", slog.Int64("document_id", doc.ID))
	}
}
