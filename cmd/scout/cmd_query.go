package main

import (
	"fmt"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"
)

var (
	queryTopK      int
	queryThreshold float64
	queryPlain     bool
)

var queryCmd = &cobra.Command{
	Use:   "query <index-id> <question>",
	Short: "Ask a question against a retrieval index",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		result, err := a.store.Query(cmd.Context(), args[0], args[1], queryTopK, queryThreshold)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		answer := result.Response
		if !queryPlain {
			if renderer, err := glamour.NewTermRenderer(
				glamour.WithAutoStyle(),
				glamour.WithWordWrap(100),
			); err == nil {
				if rendered, err := renderer.Render(answer); err == nil {
					answer = rendered
				}
			}
		}
		fmt.Fprintln(out, answer)

		if len(result.Sources) > 0 {
			fmt.Fprintln(out, "Sources:")
			for i, src := range result.Sources {
				fmt.Fprintf(out, "  %d. %s (%.2f) %s\n", i+1, src.Title, src.Score, src.URL)
			}
		}
		return nil
	},
}

func init() {
	queryCmd.Flags().IntVar(&queryTopK, "top-k", 0, "number of chunks to retrieve")
	queryCmd.Flags().Float64Var(&queryThreshold, "threshold", 0, "minimum similarity for a source")
	queryCmd.Flags().BoolVar(&queryPlain, "plain", false, "skip markdown rendering")
}
