// Package migration parses migration filenames and resolves them against
// their on-disk content, producing the immutable records the resolver and
// executor work with.
package migration

import "github.com/MemberJunction/skyway/checksum"

// Type classifies a migration by its filename prefix.
type Type string

// The three migration types recognized by the filename grammar.
const (
	Versioned  Type = "versioned"
	Baseline   Type = "baseline"
	Repeatable Type = "repeatable"
)

// Info is a parsed migration filename. Version is empty for repeatable
// migrations and only for repeatable migrations: Type == Repeatable iff
// Version == "".
type Info struct {
	Type        Type
	Version     string // absent (empty) for Repeatable
	Description string
	Filename    string // basename, e.g. "V1__Init.sql"
	Path        string // absolute path on disk
	ScriptPath  string // path relative to the scan root, forward-slashed
}

// Resolved is an Info plus its script body and checksum. The checksum is
// computed over the raw file content by the scanner; the executor
// recomputes it over the placeholder-substituted body for repeatable
// migrations immediately before recording history, so that a changed
// runtime placeholder (e.g. ${flyway:timestamp}) forces a re-run.
type Resolved struct {
	Info
	SQL      string
	Checksum int32
}

// NewResolved computes the checksum of sql and returns a Resolved migration.
func NewResolved(info Info, sql string) Resolved {
	return Resolved{Info: info, SQL: sql, Checksum: checksum.Of(sql)}
}

// State is the classification the resolver assigns to a migration for
// reporting (Info command) purposes.
type State string

// The possible classification states.
const (
	StatePending       State = "PENDING"
	StateApplied       State = "APPLIED"
	StateMissing       State = "MISSING"
	StateFailed        State = "FAILED"
	StateOutdated      State = "OUTDATED"
	StateBaseline      State = "BASELINE"
	StateAboveBaseline State = "ABOVE_BASELINE"
)
