package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/docseek/docseek/internal/search"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	mode   string
	limit  int
	format string
}

func newSearchCmd(root *rootOptions) *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the indexed documents",
		Long: `Search runs a query against the local index.

Modes:
  full_text  keyword relevance only (BM25)
  semantic   embedding similarity only
  hybrid     weighted blend of both (default)

Examples:
  docseek search "quarterly revenue report"
  docseek search "onboarding checklist" --mode full_text --limit 5
  docseek search "vacation policy" --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return runSearch(cmd, root, query, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.mode, "mode", "m", "hybrid",
		"Search mode: full_text, semantic, hybrid")
	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 10, "Maximum number of results")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")

	return cmd
}

func runSearch(cmd *cobra.Command, root *rootOptions, query string, opts searchOptions) error {
	eng, err := root.openEngine(nil)
	if err != nil {
		return err
	}
	defer eng.Close()

	resp, err := eng.Search(cmd.Context(), query, search.Options{
		Mode:  search.Mode(opts.mode),
		Limit: opts.limit,
	})
	if err != nil {
		return err
	}

	rows := make([]resultRow, 0, len(resp.Results))
	for _, r := range resp.Results {
		row := resultRow{
			Path:    r.DocID,
			Score:   r.Score,
			Source:  string(r.Source),
			Snippet: r.Snippet,
		}
		if doc, err := eng.Document(cmd.Context(), r.DocID); err == nil && doc != nil {
			row.Path = doc.Path
			row.Title = doc.Title
		}
		rows = append(rows, row)
	}

	out := cmd.OutOrStdout()

	if opts.format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(searchOutput{
			Results:             rows,
			DegradedModeWarning: resp.DegradedModeWarning,
		})
	}

	if resp.DegradedModeWarning {
		fmt.Fprintln(out, "warning: embedding model unavailable, full-text results only")
	}
	if len(rows) == 0 {
		fmt.Fprintln(out, "no results")
		return nil
	}
	for i, row := range rows {
		fmt.Fprintf(out, "%2d. %-50s %.4f (%s)\n", i+1, row.Path, row.Score, row.Source)
		if row.Snippet != "" {
			fmt.Fprintf(out, "    %s\n", row.Snippet)
		}
	}
	return nil
}

// resultRow is the CLI-facing view of a search result.
type resultRow struct {
	Path    string  `json:"path"`
	Title   string  `json:"title,omitempty"`
	Score   float64 `json:"score"`
	Source  string  `json:"source"`
	Snippet string  `json:"snippet,omitempty"`
}

type searchOutput struct {
	Results             []resultRow `json:"results"`
	DegradedModeWarning bool        `json:"degraded_mode_warning,omitempty"`
}
