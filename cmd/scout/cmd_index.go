package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"deepscout/internal/embedding"
	"deepscout/internal/ragstore"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Inspect retrieval indexes",
}

var indexListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all retrieval indexes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		// Listing only reads metadata; no model backends needed.
		store, err := ragstore.New(cfg.IndexPath(), noEmbed{}, nil, log)
		if err != nil {
			return err
		}
		indexes, err := store.List()
		if err != nil {
			return err
		}
		if len(indexes) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No indexes yet. Run: scout research --save \"...\"")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tDOCS\tCREATED\tTASK")
		for _, meta := range indexes {
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\n",
				meta.ID, meta.NumDocuments, meta.CreatedAt.Format("2006-01-02 15:04"), meta.Task)
		}
		return w.Flush()
	},
}

func init() {
	indexCmd.AddCommand(indexListCmd)
}

// noEmbed satisfies embedding.Engine for metadata-only store access.
type noEmbed struct{}

func (noEmbed) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, fmt.Errorf("no embedding backend configured")
}

func (noEmbed) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, fmt.Errorf("no embedding backend configured")
}

func (noEmbed) Dimensions() int { return 0 }
func (noEmbed) Name() string    { return "none" }

var _ embedding.Engine = noEmbed{}
