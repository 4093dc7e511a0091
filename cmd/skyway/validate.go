package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Compare on-disk checksums against applied history",
	RunE: func(cmd *cobra.Command, args []string) error {
		o, closeDB, err := buildOrchestrator()
		if err != nil {
			return err
		}
		defer closeDB()

		res, err := o.Validate(context.Background())
		if err != nil {
			return err
		}
		for _, m := range res.Mismatch {
			color.Red("%-12s %s: checksum mismatch (applied %d, on disk %d)",
				m.Version, m.Description, m.AppliedChecksum, m.DiskChecksum)
		}
		if !res.Valid {
			return fmt.Errorf("validate: %d checksum mismatch(es) found, first: %w", len(res.Mismatch), res.Mismatch[0].Err)
		}
		color.Green("Validated, no checksum mismatches found")
		return nil
	},
}
