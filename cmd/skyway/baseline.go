package main

import (
	"context"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var baselineDescription string

var baselineCmd = &cobra.Command{
	Use:   "baseline [version]",
	Short: "Mark a version as the baseline without running any scripts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		o, closeDB, err := buildOrchestrator()
		if err != nil {
			return err
		}
		defer closeDB()

		res, err := o.Baseline(context.Background(), args[0], baselineDescription)
		if err != nil {
			return err
		}
		color.Green("Successfully baselined schema to version %s", res.Version)
		return nil
	},
}

func init() {
	baselineCmd.Flags().StringVar(&baselineDescription, "description", "<< baseline >>", "description recorded on the baseline row")
}
