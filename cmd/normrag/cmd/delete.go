package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <document-id>",
		Short: "Delete a document, its chunks, and its vectors",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid document id %q", args[0])
			}
			return runDelete(cmd.Context(), id)
		},
	}
}

// runDelete cascades through database rows first, then the vector store.
func runDelete(ctx context.Context, id int64) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.manager.DeleteDocument(ctx, id); err != nil {
		return err
	}
	if err := a.vectors.DeleteByDocument(ctx, id); err != nil {
		return err
	}
	a.engine.Flush()

	fmt.Printf("document %d deleted\n", id)
	return nil
}
