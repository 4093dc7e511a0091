package main

import (
	"bytes"
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/MemberJunction/skyway/migration"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Print the classified state of every migration",
	RunE: func(cmd *cobra.Command, args []string) error {
		o, closeDB, err := buildOrchestrator()
		if err != nil {
			return err
		}
		defer closeDB()

		res, err := o.Info(context.Background())
		if err != nil {
			return err
		}

		var b bytes.Buffer
		t := tablewriter.NewWriter(&b)
		t.SetAutoFormatHeaders(false)
		t.SetHeader([]string{"Version", "Description", "Type", "State"})
		for _, e := range res.Entries {
			t.Append([]string{e.Info.Version, e.Info.Description, string(e.Info.Type), colorState(e.State)})
		}
		t.Render()
		fmt.Print(b.String())

		for _, w := range res.Warnings {
			color.Yellow("warning: %s", w)
		}
		return nil
	},
}

func colorState(s migration.State) string {
	switch s {
	case migration.StateApplied, migration.StateBaseline:
		return color.GreenString(string(s))
	case migration.StateFailed, migration.StateMissing:
		return color.RedString(string(s))
	case migration.StateOutdated, migration.StateAboveBaseline:
		return color.YellowString(string(s))
	default:
		return string(s)
	}
}
