package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"deepscout/internal/cache"
	"deepscout/internal/fetch"
)

var cacheOlderThan int

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and prune the content cache",
}

var cacheListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached pages",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		c, err := openCache()
		if err != nil {
			return err
		}
		entries, err := c.List()
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "Cache is empty.")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "FETCHED\tSIZE\tURL")
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%d\t%s\n", e.FetchedAt.Format("2006-01-02 15:04"), e.Size, e.URL)
		}
		return w.Flush()
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove cached pages",
	Long: `Remove cached pages. With --older-than N only entries fetched more than
N days ago are removed; without it the whole cache is cleared. Clearing is
also the way to retry URLs that previously failed to fetch.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		c, err := openCache()
		if err != nil {
			return err
		}
		removed, err := c.Clear(cacheOlderThan)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %d cache entries.\n", removed)
		return nil
	},
}

func openCache() (*cache.Cache, error) {
	cfg, log, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return cache.New(cfg.CachePath(), fetch.NewDocumentExtractor(log), log)
}

func init() {
	cacheClearCmd.Flags().IntVar(&cacheOlderThan, "older-than", 0, "only remove entries older than this many days")
	cacheCmd.AddCommand(cacheListCmd)
	cacheCmd.AddCommand(cacheClearCmd)
}
