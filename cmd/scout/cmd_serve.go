package main

import (
	"github.com/spf13/cobra"

	"deepscout/internal/jobs"
	"deepscout/internal/server"
	"deepscout/internal/tasks"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the JSON HTTP API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		// Pick up task edits made outside this process while serving.
		if err := a.tasks.Watch(ctx); err != nil {
			a.log.Warnw("task file watch unavailable", "error", err)
		}

		registry := jobs.NewRegistry(a.tasks, a.orch, a.store, a.cfg.LogPath(), a.log)
		generator := tasks.NewGenerator(a.client, a.log)
		api := server.New(a.tasks, generator, registry, a.store, a.log)

		addr := serveAddr
		if addr == "" {
			addr = a.cfg.Server.Addr
		}
		return api.ListenAndServe(ctx, addr)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
}
