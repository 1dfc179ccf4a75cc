package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the indexing worker pool",
		Long: `Run the indexing pipeline as a long-lived worker.

Pending documents are picked up by the recovery monitor and processed by
the worker pool. Stops on SIGINT/SIGTERM with a graceful drain.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(cmd.Context())
		},
	}
}

func runWorker(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	a.pipeline.Start(ctx)
	fmt.Println("worker started, press Ctrl+C to stop")

	<-ctx.Done()
	a.pipeline.Shutdown()
	return nil
}
