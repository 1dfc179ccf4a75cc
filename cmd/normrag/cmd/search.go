package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/normatech/normrag/internal/search"
)

type searchOptions struct {
	limit     int
	code      string
	section   string
	chunkType string
	format    string
	rerank    bool
	mmr       bool
	intent    bool
	fast      bool
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search indexed normative documents",
		Long: `Search indexed documents with hybrid retrieval.

Combines BM25 (keyword) and dense (embedding) search with score fusion,
optionally followed by reranking and MMR diversification.

Examples:
  normrag search "несущая способность основания"
  normrag search "требования к сварным швам" --code "СП 16.13330" -n 5
  normrag search "что такое фундамент" --intent --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd.Context(), strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 8, "Maximum number of results")
	cmd.Flags().StringVar(&opts.code, "code", "", "Filter by document code")
	cmd.Flags().StringVar(&opts.section, "section", "", "Filter by section")
	cmd.Flags().StringVar(&opts.chunkType, "chunk-type", "", "Filter by chunk type")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")
	cmd.Flags().BoolVar(&opts.rerank, "rerank", true, "Rerank candidates with the LLM")
	cmd.Flags().BoolVar(&opts.mmr, "mmr", true, "Diversify results with MMR")
	cmd.Flags().BoolVar(&opts.intent, "intent", false, "Classify intent and derive filters")
	cmd.Flags().BoolVar(&opts.fast, "fast", false, "Skip reranking, MMR, and intent classification")

	return cmd
}

func runSearch(ctx context.Context, query string, opts searchOptions) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	results, err := a.engine.Search(ctx, query, opts.limit,
		search.Filters{Code: opts.code, Section: opts.section, ChunkType: opts.chunkType},
		search.Flags{
			UseReranker:             opts.rerank,
			UseMMR:                  opts.mmr,
			UseIntentClassification: opts.intent,
			FastMode:                opts.fast,
		})
	if err != nil {
		return err
	}

	if opts.format == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	if len(results) == 0 {
		fmt.Println("No results.")
		return nil
	}
	for _, r := range results {
		header := r.Code
		if r.Section != "" {
			header += " §" + r.Section
		}
		fmt.Printf("%2d. [%.3f] %s (стр. %d, %s)\n", r.Rank, r.Score, header, r.Page, r.SearchType)
		fmt.Printf("    %s\n", snippet(r.Content, 200))
	}
	return nil
}

// snippet trims content to a single display line.
func snippet(content string, n int) string {
	content = strings.Join(strings.Fields(content), " ")
	runes := []rune(content)
	if len(runes) > n {
		return string(runes[:n]) + "…"
	}
	return content
}
