package main

import (
	"context"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var repairCmd = &cobra.Command{
	Use:   "repair",
	Short: "Delete failed migration rows and realign drifted checksums",
	RunE: func(cmd *cobra.Command, args []string) error {
		o, closeDB, err := buildOrchestrator()
		if err != nil {
			return err
		}
		defer closeDB()

		res, err := o.Repair(context.Background())
		if err != nil {
			return err
		}
		color.Green("Deleted %d failed row(s), realigned %d checksum(s), realigned %d rank(s)",
			res.DeletedFailedRows, res.RealignedChecksums, res.RealignedRanks)
		return nil
	},
}
