// Package cmd provides the CLI commands for normrag.
package cmd

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var configPath string

// NewRootCmd creates the root command for the normrag CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "normrag",
		Short: "RAG engine for Russian normative-technical documents",
		Long: `normrag indexes building codes and standards (ГОСТ, СП, СНиП, ФНП)
and answers queries over them with hybrid retrieval:
BM25 + dense vector search, reranking, and MMR diversification.`,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Best effort; a missing .env file is not an error.
			_ = godotenv.Load()
		},
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML config file")

	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newAskCmd())
	cmd.AddCommand(newWorkerCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newDeleteCmd())
	cmd.AddCommand(newRetryCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
