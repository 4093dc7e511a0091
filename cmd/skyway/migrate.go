package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply all pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		o, closeDB, err := buildOrchestrator()
		if err != nil {
			return err
		}
		defer closeDB()

		res, err := o.Migrate(context.Background())
		if err != nil {
			return err
		}
		for _, w := range res.Warnings {
			color.Yellow("warning: %s", w)
		}
		for _, m := range res.Migrations {
			if m.Success {
				color.Green("%-12s %s (%s)", m.Version, m.Description, m.ExecutionTime)
			} else {
				color.Red("%-12s FAILED", m.Version)
			}
		}
		if !res.Success {
			return fmt.Errorf("migrate: %s", res.Error)
		}
		color.Green("Successfully applied %d migration(s)", len(res.Migrations))
		return nil
	},
}
