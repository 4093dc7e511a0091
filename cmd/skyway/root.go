// Package main is the skyway CLI: a thin cobra tree, one subcommand per
// orchestrator operation. It never reimplements migrate/resolve/execute
// logic itself — every RunE calls straight into the orchestrator package.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/MemberJunction/skyway/executor"
	"github.com/MemberJunction/skyway/internal/hclconfig"
	"github.com/MemberJunction/skyway/internal/sqlserver"
	"github.com/MemberJunction/skyway/orchestrator"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "skyway",
	Short: "A wire-compatible SQL Server schema migration runner",
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "skyway.hcl", "path to the project config file")
	rootCmd.AddCommand(migrateCmd, infoCmd, validateCmd, baselineCmd, repairCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildOrchestrator loads the project file and opens the database
// connection it describes; every subcommand calls this first.
func buildOrchestrator() (*orchestrator.Orchestrator, func() error, error) {
	f, err := hclconfig.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	connCfg := sqlserver.ConnectionConfig{
		Server:                 f.Connection.Server,
		Port:                   f.Connection.Port,
		Database:               f.Connection.Database,
		User:                   f.Connection.User,
		Password:               f.Connection.Password,
		Encrypt:                *f.Connection.Encrypt,
		TrustServerCertificate: *f.Connection.TrustServerCertificate,
		RequestTimeoutMS:       f.Connection.RequestTimeoutMS,
		ConnectionTimeoutMS:    f.Connection.ConnectionTimeoutMS,
	}
	db, err := sqlserver.Open(connCfg)
	if err != nil {
		return nil, nil, err
	}
	runtime := orchestrator.RuntimeConfig{
		Locations:         f.Runtime.Locations,
		DefaultSchema:     f.Runtime.DefaultSchema,
		HistoryTable:      f.Runtime.HistoryTable,
		BaselineVersion:   f.Runtime.BaselineVersion,
		BaselineOnMigrate: f.Runtime.BaselineOnMigrate,
		OutOfOrder:        f.Runtime.OutOfOrder,
		Placeholders:      f.Runtime.Placeholders,
		TransactionMode:   executor.TransactionMode(f.Runtime.TransactionMode),
		DryRun:            f.Runtime.DryRun,
		InsertFailedRows:  *f.Runtime.InsertFailedRows,
		User:              f.Connection.User,
		RequestTimeout:    time.Duration(f.Connection.RequestTimeoutMS) * time.Millisecond,
	}
	o := orchestrator.New(db, runtime)
	return o, db.Close, nil
}
