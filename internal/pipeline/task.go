// Package pipeline implements the resilient indexing pipeline: a bounded
// priority queue, a fixed worker pool, per-task retry with exponential
// delay, progress tracking, and a recovery monitor.
package pipeline

import (
	"time"

	"github.com/google/uuid"
)

// Priority orders tasks in the queue; FIFO within a priority.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

// ParsePriority maps the wire value to a Priority, defaulting to normal.
func ParsePriority(s string) Priority {
	switch s {
	case "low":
		return PriorityLow
	case "high":
		return PriorityHigh
	default:
		return PriorityNormal
	}
}

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityHigh:
		return "high"
	default:
		return "normal"
	}
}

// IndexingTask is one unit of indexing work for a single document.
type IndexingTask struct {
	ID         string
	DocumentID int64
	Filename   string
	// Content is the raw file bytes. Empty content makes the worker
	// read the file at Filename, which is how recovery requeues work.
	Content     []byte
	Category    string
	Priority    Priority
	RetryCount  int
	MaxRetries  int
	CreatedAt   time.Time
	LastAttempt time.Time
}

// NewTask creates a task for a document.
func NewTask(documentID int64, filename string, content []byte, category string, priority Priority, maxRetries int) *IndexingTask {
	return &IndexingTask{
		ID:         uuid.NewString(),
		DocumentID: documentID,
		Filename:   filename,
		Content:    content,
		Category:   category,
		Priority:   priority,
		MaxRetries: maxRetries,
		CreatedAt:  time.Now().UTC(),
	}
}
