package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"deepscout/internal/llm"
	"deepscout/internal/tasks"
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Manage research task lists",
}

var tasksListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show all task groups",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := tasks.NewStore(cfg.TaskFilePath(), log)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		data := store.Snapshot()
		for gi, group := range data.Groups {
			fmt.Fprintf(out, "[%d] %s", gi, group.Prompt)
			if group.IndexID != "" {
				fmt.Fprintf(out, " (index %s)", group.IndexID)
			}
			fmt.Fprintln(out)
			for ti, item := range group.Items {
				mark := " "
				if item.Completed {
					mark = "x"
				}
				fmt.Fprintf(out, "  [%s] %d. %s\n", mark, ti, item.Description)
			}
		}
		return nil
	},
}

var tasksGenerateCmd = &cobra.Command{
	Use:   "generate <prompt>",
	Short: "Generate research tasks from a prompt",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		client, err := llm.New(cmd.Context(), cfg.LLM, log)
		if err != nil {
			return err
		}
		store, err := tasks.NewStore(cfg.TaskFilePath(), log)
		if err != nil {
			return err
		}

		items, err := tasks.NewGenerator(client, log).Generate(cmd.Context(), args[0], store.Descriptions())
		if err != nil {
			return err
		}
		if err := store.AppendGenerated(args[0], items); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Added %d tasks:\n", len(items))
		for _, item := range items {
			fmt.Fprintf(out, "  - %s\n", item.Description)
		}
		return nil
	},
}

func init() {
	tasksCmd.AddCommand(tasksListCmd)
	tasksCmd.AddCommand(tasksGenerateCmd)
}
