package main

import (
	"fmt"
	"os"

	"dockhand/cmd/dockhand/ui"
	"dockhand/internal/config"

	"github.com/spf13/cobra"
)

func tasksCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List the tasks defined in the project",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ui.ConfigureInteraction(false)

			project, err := config.Load(cmd.Context(), configPath)
			if err != nil {
				return err
			}

			fmt.Printf("Tasks in project %s:\n", ui.Bold(project.Name))
			for _, name := range project.TaskNames() {
				task := project.Tasks[name]
				if task.Description != "" {
					fmt.Fprintf(os.Stdout, "  %s %s\n", ui.Accent(name), ui.Muted("— "+task.Description))
					continue
				}
				fmt.Fprintf(os.Stdout, "  %s\n", ui.Accent(name))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "f", config.DefaultFilename, "Project configuration file")

	return cmd
}
