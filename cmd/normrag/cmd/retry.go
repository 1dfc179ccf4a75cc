package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newRetryCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "retry [document-id]",
		Short: "Move failed documents back to the indexing queue",
		Long: `Mark failed documents as pending so a running worker picks them up.

With --all, every failed document still under its retry budget is
readmitted. A single document id readmits that document regardless of
its retry count.`,
		Example: `  # Retry one document
  normrag retry 42

  # Retry everything eligible
  normrag retry --all`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) == 1) {
				return fmt.Errorf("pass either a document id or --all")
			}
			if all {
				return runRetryAll(cmd.Context())
			}
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid document id %q", args[0])
			}
			return runRetryOne(cmd.Context(), id)
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Retry all failed documents under the retry budget")
	return cmd
}

func runRetryOne(ctx context.Context, id int64) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.manager.MarkForRetry(ctx, id, ""); err != nil {
		return err
	}
	fmt.Printf("document %d queued for retry\n", id)
	return nil
}

func runRetryAll(ctx context.Context) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	docs, err := a.manager.GetFailedForRetry(ctx, a.cfg.Indexing.MaxRetries)
	if err != nil {
		return err
	}
	for _, d := range docs {
		if err := a.manager.MarkForRetry(ctx, d.ID, ""); err != nil {
			return err
		}
		fmt.Printf("document %d queued for retry (attempt %d)\n", d.ID, d.RetryCount+1)
	}
	if len(docs) == 0 {
		fmt.Println("No eligible documents.")
	}
	return nil
}
