package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/normatech/normrag/internal/errors"
	"github.com/normatech/normrag/internal/meta"
	"github.com/normatech/normrag/internal/parser"
	"github.com/normatech/normrag/internal/pipeline"
	"github.com/normatech/normrag/internal/store"
)

type indexOptions struct {
	category string
	priority string
	wait     bool
}

func newIndexCmd() *cobra.Command {
	var opts indexOptions

	cmd := &cobra.Command{
		Use:   "index <file>...",
		Short: "Index normative documents",
		Long: `Upload and index one or more normative documents (PDF, DOCX, TXT).

Each file is parsed, chunked, embedded, and written to the vector store.
Re-uploading a byte-identical file is rejected as a duplicate.

Examples:
  normrag index "СП 22.13330.2016.pdf"
  normrag index --category electrical --priority high *.pdf`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndex(cmd.Context(), args, opts)
		},
	}

	cmd.Flags().StringVar(&opts.category, "category", "", "Document category label")
	cmd.Flags().StringVar(&opts.priority, "priority", "normal", "Indexing priority: low, normal, high")
	cmd.Flags().BoolVar(&opts.wait, "wait", true, "Wait for indexing to finish")

	return cmd
}

func runIndex(ctx context.Context, files []string, opts indexOptions) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	a.pipeline.Start(ctx)
	defer a.pipeline.Shutdown()

	var ids []int64
	for _, file := range files {
		id, err := uploadFile(ctx, a, file, opts)
		if err != nil {
			if errors.IsDuplicate(err) {
				fmt.Printf("%s: already indexed (duplicate)\n", file)
				continue
			}
			return fmt.Errorf("%s: %w", file, err)
		}
		ids = append(ids, id)
		fmt.Printf("%s: queued as document %d\n", file, id)
	}

	if !opts.wait || len(ids) == 0 {
		return nil
	}
	return waitForDocuments(ctx, a, ids)
}

// uploadFile registers the document and enqueues its indexing task.
func uploadFile(ctx context.Context, a *app, file string, opts indexOptions) (int64, error) {
	if !parser.SupportedType(file) {
		return 0, errors.Newf(errors.KindInputInvalid, "unsupported file type %q", filepath.Ext(file))
	}

	content, err := os.ReadFile(file)
	if err != nil {
		return 0, errors.Wrap(errors.KindInputInvalid, "read file", err)
	}

	dm := meta.Extract(filepath.Base(file), 0)
	doc := &store.Document{
		Filename:         file,
		OriginalFilename: filepath.Base(file),
		FileType:         filepath.Ext(file),
		FileSize:         int64(len(content)),
		DocumentHash:     meta.Checksum(content),
		Category:         opts.category,
		DocumentType:     string(dm.DocType),
	}
	id, err := a.manager.SaveDocument(ctx, doc)
	if err != nil {
		return 0, err
	}

	task := pipeline.NewTask(id, file, content, opts.category,
		pipeline.ParsePriority(opts.priority), a.cfg.Indexing.MaxRetries)
	return id, a.pipeline.Enqueue(task)
}

// waitForDocuments polls until every document reaches a terminal status.
func waitForDocuments(ctx context.Context, a *app, ids []int64) error {
	pending := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		pending[id] = struct{}{}
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	failed := 0
	for len(pending) > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		for id := range pending {
			doc, err := a.manager.GetDocument(ctx, id)
			if err != nil {
				return err
			}
			switch doc.ProcessingStatus {
			case store.StatusCompleted:
				fmt.Printf("document %d: completed (%d tokens)\n", id, doc.TokenCount)
				delete(pending, id)
			case store.StatusFailed:
				// Retryable failures go back to pending; failed is terminal.
				fmt.Printf("document %d: failed: %s\n", id, doc.ProcessingError)
				delete(pending, id)
				failed++
			}
		}
	}

	a.engine.Flush()
	if failed > 0 {
		return fmt.Errorf("%d document(s) failed to index", failed)
	}
	return nil
}
