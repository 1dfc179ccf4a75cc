package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show indexed documents and their processing state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context(), limit)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum number of documents to list")
	return cmd
}

func runStatus(ctx context.Context, limit int) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	docs, err := a.manager.GetDocuments(ctx, limit, 0)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		fmt.Println("No documents.")
		return nil
	}

	fmt.Printf("%-6s %-10s %-9s %-8s %-7s %s\n", "ID", "STATUS", "PROGRESS", "RETRIES", "TOKENS", "FILE")
	for _, d := range docs {
		fmt.Printf("%-6d %-10s %8d%% %-8d %-7d %s\n",
			d.ID, d.ProcessingStatus, d.IndexingProgress, d.RetryCount, d.TokenCount, d.OriginalFilename)
		if d.ProcessingError != "" {
			fmt.Printf("       error: %s\n", d.ProcessingError)
		}
	}
	return nil
}
