package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kestrel-dev/mdvdb/internal/query"
)

func newSearchCmd() *cobra.Command {
	var limit int
	var mode string
	var pathPrefix string
	var minScore float64

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the indexed markdown vault",
		Long: `search runs hybrid (semantic + BM25) retrieval over the indexed vault
and prints the ranked results.

Examples:
  mdvdb search "what did I decide about the caching layer"
  mdvdb search "release checklist" --mode lexical --limit 5
  mdvdb search "auth tokens" --path docs/api`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			queryText := strings.Join(args, " ")

			e, err := openEngine()
			if err != nil {
				return err
			}
			defer func() { _ = e.Close() }()

			results, err := e.Search(cmd.Context(), queryText, query.Options{
				Mode:       query.Mode(mode),
				Limit:      limit,
				PathPrefix: pathPrefix,
				MinScore:   minScore,
			})
			if err != nil {
				return err
			}

			if len(results) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no results")
				return nil
			}

			for i, r := range results {
				fmt.Fprintf(cmd.OutOrStdout(), "%d. %s (score %.4f)\n", i+1, r.SourcePath, r.Score)
				if len(r.Breadcrumb) > 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "   %s\n", strings.Join(r.Breadcrumb, " > "))
				}
				fmt.Fprintf(cmd.OutOrStdout(), "   %s\n", truncate(r.Content, 200))
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Maximum number of results")
	cmd.Flags().StringVarP(&mode, "mode", "m", string(query.Hybrid), "Retrieval mode: hybrid, semantic, lexical")
	cmd.Flags().StringVar(&pathPrefix, "path", "", "Only return results whose source path starts with this prefix")
	cmd.Flags().Float64Var(&minScore, "min-score", 0, "Drop results scoring below this threshold")

	return cmd
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
