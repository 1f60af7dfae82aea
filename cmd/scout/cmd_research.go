package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"deepscout/internal/orchestrator"
)

var (
	researchMaxResults int
	researchMaxCycles  int
	researchSave       bool
	researchIndexID    string
)

var researchCmd = &cobra.Command{
	Use:   "research <task>",
	Short: "Run the research loop for a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		outcome, err := a.orch.Research(cmd.Context(), args[0], orchestrator.Options{
			MaxResults: researchMaxResults,
			MaxCycles:  researchMaxCycles,
			Persist:    researchSave || researchIndexID != "",
			IndexID:    researchIndexID,
		})
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Task: %s\n", outcome.Task)
		fmt.Fprintf(out, "Cycles: %d  Queries: %d  Documents: %d\n",
			outcome.Cycles, len(outcome.Queries), len(outcome.Documents))
		for i, doc := range outcome.Documents {
			fmt.Fprintf(out, "\n%d. %s\n   %s\n   link %.2f  content %.2f\n",
				i+1, doc.Title, doc.URL, doc.LinkScore, doc.ContentScore)
			for _, point := range doc.KeyPoints {
				fmt.Fprintf(out, "   - %s\n", point)
			}
		}
		if outcome.IndexID != "" {
			fmt.Fprintf(out, "\nSaved to index %s (query it with: scout query %s \"...\")\n",
				outcome.IndexID, outcome.IndexID)
		}
		return nil
	},
}

func init() {
	researchCmd.Flags().IntVar(&researchMaxResults, "max-results", 0, "stop after this many accepted documents")
	researchCmd.Flags().IntVar(&researchMaxCycles, "max-cycles", 0, "maximum search cycles")
	researchCmd.Flags().BoolVar(&researchSave, "save", false, "persist accepted documents into a new retrieval index")
	researchCmd.Flags().StringVar(&researchIndexID, "index", "", "accumulate into an existing index instead of creating one")
}
