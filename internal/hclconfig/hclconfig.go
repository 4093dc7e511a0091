// Package hclconfig decodes the skyway project file: connection details and
// runtime migration options, as a plain HCL document (no schema-spec DSL,
// unlike the teacher's schemahcl block grammar — this module never diffs a
// desired schema, so it only needs gohcl's struct decoding).
package hclconfig

import (
	"fmt"

	"github.com/hashicorp/hcl/v2/hclsimple"
)

// ConnectionConfig is the `connection` block of the project file.
type ConnectionConfig struct {
	Server                 string `hcl:"server"`
	Port                   int    `hcl:"port,optional"`
	Database               string `hcl:"database"`
	User                   string `hcl:"user"`
	Password               string `hcl:"password"`
	Encrypt                *bool  `hcl:"encrypt,optional"`
	TrustServerCertificate *bool  `hcl:"trust_server_certificate,optional"`
	RequestTimeoutMS       int    `hcl:"request_timeout_ms,optional"`
	ConnectionTimeoutMS    int    `hcl:"connection_timeout_ms,optional"`
}

// RuntimeConfig is the `runtime` block of the project file.
type RuntimeConfig struct {
	Locations         []string          `hcl:"locations"`
	DefaultSchema     string            `hcl:"default_schema,optional"`
	HistoryTable      string            `hcl:"history_table,optional"`
	BaselineVersion   string            `hcl:"baseline_version,optional"`
	BaselineOnMigrate bool              `hcl:"baseline_on_migrate,optional"`
	OutOfOrder        bool              `hcl:"out_of_order,optional"`
	Placeholders      map[string]string `hcl:"placeholders,optional"`
	TransactionMode   string            `hcl:"transaction_mode,optional"`
	DryRun            bool              `hcl:"dry_run,optional"`
	InsertFailedRows  *bool             `hcl:"insert_failed_rows,optional"`
}

// File is the top-level shape of a skyway.hcl project file.
type File struct {
	Connection ConnectionConfig `hcl:"connection,block"`
	Runtime    RuntimeConfig    `hcl:"runtime,block"`
}

// defaults mirror §6's defaults: port 1433, encrypt/trust true, the standard
// request/connection timeouts, history table "skyway_history" under "dbo".
func (f *File) applyDefaults() {
	if f.Connection.Port == 0 {
		f.Connection.Port = 1433
	}
	if f.Connection.Encrypt == nil {
		t := true
		f.Connection.Encrypt = &t
	}
	if f.Connection.TrustServerCertificate == nil {
		t := true
		f.Connection.TrustServerCertificate = &t
	}
	if f.Connection.RequestTimeoutMS == 0 {
		f.Connection.RequestTimeoutMS = 300000
	}
	if f.Connection.ConnectionTimeoutMS == 0 {
		f.Connection.ConnectionTimeoutMS = 30000
	}
	if f.Runtime.DefaultSchema == "" {
		f.Runtime.DefaultSchema = "dbo"
	}
	if f.Runtime.HistoryTable == "" {
		f.Runtime.HistoryTable = "skyway_history"
	}
	if f.Runtime.BaselineVersion == "" {
		f.Runtime.BaselineVersion = "1"
	}
	if f.Runtime.TransactionMode == "" {
		f.Runtime.TransactionMode = "per-run"
	}
	if f.Runtime.InsertFailedRows == nil {
		// The reference tool records a FAILED row by default.
		t := true
		f.Runtime.InsertFailedRows = &t
	}
}

// Load decodes the project file at path.
func Load(path string) (*File, error) {
	var f File
	if err := hclsimple.DecodeFile(path, nil, &f); err != nil {
		return nil, fmt.Errorf("hclconfig: decode %s: %w", path, err)
	}
	f.applyDefaults()
	return &f, nil
}
