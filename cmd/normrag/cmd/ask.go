package cmd

import (
	"context"
	"encoding/json"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/normatech/normrag/internal/search"
)

type askOptions struct {
	limit     int
	summaries bool
	fast      bool
}

func newAskCmd() *cobra.Command {
	var opts askOptions

	cmd := &cobra.Command{
		Use:   "ask <query>",
		Short: "Build a structured context for a query",
		Long: `Run the full retrieval pipeline and assemble a structured context:
deduplicated and merged candidates, per-candidate summaries, and a
meta-summary of coverage. Output is JSON.

Examples:
  normrag ask "Что такое несущая способность основания?"
  normrag ask --summaries=false "требования к бетону B25"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd.Context(), strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 8, "Maximum number of candidates")
	cmd.Flags().BoolVar(&opts.summaries, "summaries", true, "Generate per-candidate summaries")
	cmd.Flags().BoolVar(&opts.fast, "fast", false, "Skip reranking, MMR, and intent classification")

	return cmd
}

func runAsk(ctx context.Context, query string, opts askOptions) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	results, err := a.engine.Search(ctx, query, opts.limit, search.Filters{}, search.Flags{
		UseReranker:             true,
		UseMMR:                  true,
		UseIntentClassification: true,
		FastMode:                opts.fast,
	})
	if err != nil {
		return err
	}

	sc := a.builder.Build(ctx, query, results, opts.summaries && !opts.fast)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(sc)
}
