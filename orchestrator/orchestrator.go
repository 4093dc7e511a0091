// Package orchestrator wires the scanner, resolver, executor and history
// manager into the five operations an external caller (the CLI, or an
// embedder) drives a migration run through: Migrate, Info, Validate,
// Baseline and Repair.
package orchestrator

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/MemberJunction/skyway/executor"
	"github.com/MemberJunction/skyway/history"
	"github.com/MemberJunction/skyway/internal/dbutil"
	"github.com/MemberJunction/skyway/internal/sqlserver"
	"github.com/MemberJunction/skyway/logging"
	"github.com/MemberJunction/skyway/migration"
	"github.com/MemberJunction/skyway/placeholder"
	"github.com/MemberJunction/skyway/resolver"
)

// dbHandle is the subset of *sql.DB the orchestrator needs: the querying
// surface shared with history and executor, plus Conn for the single
// exclusive connection a migrate run executes on.
type dbHandle interface {
	dbutil.ExecQuerier
	Conn(ctx context.Context) (*sql.Conn, error)
}

// ConnectionConfig is an alias of sqlserver.ConnectionConfig, re-exported so
// the orchestrator package doesn't force callers to import
// internal/sqlserver directly.
type ConnectionConfig = sqlserver.ConnectionConfig

// RuntimeConfig is the migration-behavior half of the project file (spec.md
// §6's key list).
type RuntimeConfig struct {
	Locations         []string
	DefaultSchema     string
	HistoryTable      string
	BaselineVersion   string
	BaselineOnMigrate bool
	OutOfOrder        bool
	Placeholders      map[string]string
	TransactionMode   executor.TransactionMode
	DryRun            bool
	InsertFailedRows  bool
	User              string
	LockTimeout       time.Duration
	RequestTimeout    time.Duration // per-batch execution deadline; 0 means no override
}

// Orchestrator bundles the resources a single database target needs across
// its lifetime: the open connection, the configured history table, and the
// runtime options every operation reads from.
type Orchestrator struct {
	db      dbHandle
	hist    *history.Manager
	runtime RuntimeConfig
	logger  logging.Logger
}

// Option configures an Orchestrator at construction time.
type Option func(*Orchestrator)

// WithLogger attaches a progress Logger, the same functional-option shape
// the teacher uses for migrate.WithLogger.
func WithLogger(l logging.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// New builds an Orchestrator over an already-open database handle.
func New(db dbHandle, runtime RuntimeConfig, opts ...Option) *Orchestrator {
	if runtime.HistoryTable == "" {
		runtime.HistoryTable = "skyway_history"
	}
	if runtime.DefaultSchema == "" {
		runtime.DefaultSchema = "dbo"
	}
	if runtime.BaselineVersion == "" {
		runtime.BaselineVersion = resolver.BaselineSentinel
	}
	if runtime.TransactionMode == "" {
		runtime.TransactionMode = executor.PerRun
	}
	if runtime.LockTimeout == 0 {
		runtime.LockTimeout = 10 * time.Second
	}
	if runtime.RequestTimeout == 0 {
		runtime.RequestTimeout = 300 * time.Second
	}
	o := &Orchestrator{
		db:      db,
		hist:    history.NewManager(runtime.DefaultSchema, runtime.HistoryTable),
		runtime: runtime,
		logger:  logging.NopLogger{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) placeholderContext(filename string) placeholder.Context {
	return placeholder.NewContext().
		WithDefaultSchema(o.runtime.DefaultSchema).
		WithTable(o.runtime.HistoryTable).
		WithUser(o.runtime.User).
		WithTimestamp(nowStamp()).
		WithFilename(filename)
}

// discover scans the configured locations and warns through the logger.
func (o *Orchestrator) discover() ([]migration.Resolved, []string, error) {
	var warnings []string
	discovered, err := migration.Scan(o.runtime.Locations, func(msg string) { warnings = append(warnings, msg) })
	if err != nil {
		return nil, warnings, fmt.Errorf("orchestrator: scan: %w", err)
	}
	return discovered, warnings, nil
}

func (o *Orchestrator) resolve(ctx context.Context) (resolver.Result, []string, error) {
	discovered, warnings, err := o.discover()
	if err != nil {
		return resolver.Result{}, warnings, err
	}
	if err := o.hist.EnsureExists(ctx, o.db); err != nil {
		return resolver.Result{}, warnings, fmt.Errorf("orchestrator: ensure history table: %w", err)
	}
	applied, err := o.hist.GetAllRecords(ctx, o.db)
	if err != nil {
		return resolver.Result{}, warnings, fmt.Errorf("orchestrator: load history: %w", err)
	}
	res := resolver.Resolve(discovered, applied, o.runtime.BaselineVersion, o.runtime.BaselineOnMigrate, o.runtime.OutOfOrder)
	return res, warnings, nil
}

// MigrationResult reports the outcome of one migration within a run.
type MigrationResult struct {
	Version       string
	Description   string
	Script        string
	Success       bool
	ExecutionTime time.Duration
}

// MigrateResult is the outcome of Migrate.
type MigrateResult struct {
	Success    bool
	Error      string
	Migrations []MigrationResult
	Warnings   []string
}

// Migrate resolves pending migrations and executes them under the
// configured transaction discipline, with the advisory run lock held for
// the duration. Scan, driver and I/O errors outside the executor, and a
// *history.HistoryChangedError from the post-lock re-check, escape as a Go
// error; migration failures inside the executor are reported in the
// returned MigrateResult.
func (o *Orchestrator) Migrate(ctx context.Context) (MigrateResult, error) {
	res, warnings, err := o.resolve(ctx)
	if err != nil {
		return MigrateResult{}, err
	}
	if err := o.hist.InsertSchemaMarker(ctx, o.db, o.runtime.User); err != nil {
		return MigrateResult{}, fmt.Errorf("orchestrator: insert schema marker: %w", err)
	}
	if len(res.Pending) == 0 {
		return MigrateResult{Success: true, Warnings: warnings}, nil
	}

	conn, err := o.db.Conn(ctx)
	if err != nil {
		return MigrateResult{}, fmt.Errorf("orchestrator: acquire connection: %w", err)
	}
	defer conn.Close()

	unlock, err := sqlserver.Lock(ctx, conn, lockName(o.hist), o.runtime.LockTimeout)
	if err != nil {
		return MigrateResult{}, fmt.Errorf("orchestrator: acquire run lock: %w", err)
	}
	defer unlock(ctx)

	// Resolution happened before the lock was acquired; re-check against the
	// now-locked history in case a concurrent run recorded one of these
	// versions in between.
	// Both reads go through conn: the pool may hold only this one connection.
	if err := o.checkNotConcurrentlyApplied(ctx, conn, res.Pending); err != nil {
		return MigrateResult{}, err
	}

	rank, err := o.hist.GetNextRank(ctx, conn)
	if err != nil {
		return MigrateResult{}, fmt.Errorf("orchestrator: get next rank: %w", err)
	}
	if rank < 0 {
		rank = 1
	}

	cfg := executor.Config{
		Mode:               o.runtime.TransactionMode,
		User:               o.runtime.User,
		InsertFailedRows:   o.runtime.InsertFailedRows,
		DryRun:             o.runtime.DryRun,
		Placeholders:       o.runtime.Placeholders,
		PlaceholderContext: o.placeholderContext(""),
		Logger:             o.logger,
		RunID:              sessionToken(),
		RequestTimeout:     o.runtime.RequestTimeout,
	}
	execRes := executor.Run(ctx, conn, o.hist, res.Pending, rank, cfg)

	out := MigrateResult{Success: execRes.Success, Warnings: warnings}
	for _, am := range execRes.Applied {
		out.Migrations = append(out.Migrations, MigrationResult{
			Version:       am.Migration.Version,
			Description:   am.Migration.Description,
			Script:        am.Migration.ScriptPath,
			Success:       true,
			ExecutionTime: am.ExecutionTime,
		})
	}
	if !execRes.Success {
		out.Error = execRes.Error.Error()
		out.Migrations = append(out.Migrations, MigrationResult{
			Version: execRes.FailedVersion,
			Success: false,
		})
	}
	return out, nil
}

// InfoEntry is one row of an Info report.
type InfoEntry struct {
	Info  migration.Info
	State migration.State
}

// InfoResult is the outcome of Info.
type InfoResult struct {
	Entries  []InfoEntry
	Warnings []string
}

// Info reports the classified state of every discovered and applied
// migration without executing anything.
func (o *Orchestrator) Info(ctx context.Context) (InfoResult, error) {
	res, warnings, err := o.resolve(ctx)
	if err != nil {
		return InfoResult{}, err
	}
	out := InfoResult{Warnings: warnings}
	for _, e := range res.StatusReport {
		out.Entries = append(out.Entries, InfoEntry{Info: e.Info, State: e.State})
	}
	return out, nil
}

// ValidateResult is the outcome of Validate.
type ValidateResult struct {
	Valid    bool
	Mismatch []ChecksumMismatch
	Warnings []string
}

// ChecksumMismatch is one APPLIED migration whose on-disk checksum no
// longer matches its history row.
type ChecksumMismatch struct {
	Version         string
	Description     string
	AppliedChecksum int32
	DiskChecksum    int32
	Err             error // a *history.ChecksumMismatchError, for callers that want the typed form
}

// Validate compares on-disk checksums against the recorded history for
// every applied, non-repeatable migration. Unlike Migrate, which never
// invents an extra checksum check of its own, Validate is the one operation
// that performs this comparison explicitly, per the reference tool's own
// division of labor between the two commands.
func (o *Orchestrator) Validate(ctx context.Context) (ValidateResult, error) {
	discovered, warnings, err := o.discover()
	if err != nil {
		return ValidateResult{}, err
	}
	if err := o.hist.EnsureExists(ctx, o.db); err != nil {
		return ValidateResult{}, fmt.Errorf("orchestrator: ensure history table: %w", err)
	}
	applied, err := o.hist.GetAllRecords(ctx, o.db)
	if err != nil {
		return ValidateResult{}, fmt.Errorf("orchestrator: load history: %w", err)
	}

	diskByVersion := make(map[string]migration.Resolved, len(discovered))
	for _, m := range discovered {
		if m.Type != migration.Repeatable {
			diskByVersion[m.Version] = m
		}
	}

	out := ValidateResult{Valid: true, Warnings: warnings}
	for _, r := range applied {
		if !r.Version.Valid || !r.Checksum.Valid {
			continue
		}
		disk, ok := diskByVersion[r.Version.String]
		if !ok {
			continue // MISSING is reported by Info, not a validate mismatch
		}
		if disk.Checksum != r.Checksum.Int32 {
			out.Valid = false
			out.Mismatch = append(out.Mismatch, ChecksumMismatch{
				Version:         r.Version.String,
				Description:     r.Description,
				AppliedChecksum: r.Checksum.Int32,
				DiskChecksum:    disk.Checksum,
				Err: &history.ChecksumMismatchError{
					Version: r.Version.String,
					Applied: r.Checksum.Int32,
					Disk:    disk.Checksum,
				},
			})
		}
	}
	return out, nil
}

// BaselineResult is the outcome of Baseline.
type BaselineResult struct {
	Version string
}

// Baseline inserts a BASELINE marker row at the given version without
// running any migration scripts, for a database whose pre-existing state
// already matches that version. It refuses when the history table already
// holds migration rows — baselining only ever applies to a database that
// has never been migrated (or was only ever given its schema marker) — and
// ensures the rank-0 SCHEMA row exists before the baseline row is recorded.
func (o *Orchestrator) Baseline(ctx context.Context, version, description string) (BaselineResult, error) {
	if err := o.hist.EnsureExists(ctx, o.db); err != nil {
		return BaselineResult{}, fmt.Errorf("orchestrator: ensure history table: %w", err)
	}
	records, err := o.hist.GetAllRecords(ctx, o.db)
	if err != nil {
		return BaselineResult{}, fmt.Errorf("orchestrator: load history: %w", err)
	}
	for _, r := range records {
		if r.Type != history.RowSchema {
			return BaselineResult{}, fmt.Errorf("orchestrator: baseline: history already contains migration row %q at rank %d; baseline only applies to an unmigrated database", r.Type, r.InstalledRank)
		}
	}
	if err := o.hist.InsertSchemaMarker(ctx, o.db, o.runtime.User); err != nil {
		return BaselineResult{}, fmt.Errorf("orchestrator: insert schema marker: %w", err)
	}
	rank, err := o.hist.GetNextRank(ctx, o.db)
	if err != nil {
		return BaselineResult{}, fmt.Errorf("orchestrator: get next rank: %w", err)
	}
	if rank < 0 {
		rank = 1
	}
	if err := o.hist.InsertBaseline(ctx, o.db, version, description, rank, o.runtime.User); err != nil {
		return BaselineResult{}, fmt.Errorf("orchestrator: insert baseline: %w", err)
	}
	return BaselineResult{Version: version}, nil
}

// RepairResult reports what Repair changed.
type RepairResult struct {
	DeletedFailedRows  int
	RealignedChecksums int
	RealignedRanks     int
}

// Repair deletes FAILED rows, rewrites drifted checksums on APPLIED rows back
// to their on-disk value, and closes any installed_rank gaps the deletions
// left behind, per spec.md §3's repair-able conditions.
func (o *Orchestrator) Repair(ctx context.Context) (RepairResult, error) {
	discovered, _, err := o.discover()
	if err != nil {
		return RepairResult{}, err
	}
	diskByVersion := make(map[string]migration.Resolved, len(discovered))
	for _, m := range discovered {
		if m.Type != migration.Repeatable {
			diskByVersion[m.Version] = m
		}
	}

	records, err := o.hist.GetAllRecords(ctx, o.db)
	if err != nil {
		return RepairResult{}, fmt.Errorf("orchestrator: load history: %w", err)
	}

	var out RepairResult
	survivors := make([]history.Record, 0, len(records))
	for _, r := range records {
		if !r.Success {
			if err := o.hist.DeleteRecord(ctx, o.db, r.InstalledRank); err != nil {
				return out, fmt.Errorf("orchestrator: delete failed row %d: %w", r.InstalledRank, err)
			}
			out.DeletedFailedRows++
			continue
		}
		survivors = append(survivors, r)
	}

	for _, r := range survivors {
		if !r.Version.Valid || !r.Checksum.Valid {
			continue
		}
		disk, ok := diskByVersion[r.Version.String]
		if !ok || disk.Checksum == r.Checksum.Int32 {
			continue
		}
		if err := o.hist.UpdateChecksum(ctx, o.db, r.InstalledRank, disk.Checksum); err != nil {
			return out, fmt.Errorf("orchestrator: realign checksum at rank %d: %w", r.InstalledRank, err)
		}
		out.RealignedChecksums++
	}

	// survivors is already ordered by installed_rank; close any gap a
	// deletion left by renumbering consecutively from 0.
	for i, r := range survivors {
		want := int32(i)
		if r.InstalledRank == want {
			continue
		}
		if err := o.hist.UpdateRank(ctx, o.db, r.InstalledRank, want); err != nil {
			return out, fmt.Errorf("orchestrator: realign rank %d to %d: %w", r.InstalledRank, want, err)
		}
		out.RealignedRanks++
	}
	return out, nil
}

// Clean drops every table in the configured default schema (the history
// table included) and recreates the (now-empty) history table, per spec.md
// §1's description of clean as "trivial": drop-and-recreate rather than
// diff-and-revert. Views, procedures, functions and other non-table objects
// in the schema are not dropped.
func (o *Orchestrator) Clean(ctx context.Context) error {
	rows, err := o.db.QueryContext(ctx, `
		SELECT 'DROP TABLE IF EXISTS ' + QUOTENAME(s.name) + '.' + QUOTENAME(t.name)
		FROM sys.tables t JOIN sys.schemas s ON t.schema_id = s.schema_id
		WHERE s.name = @p1`, o.runtime.DefaultSchema)
	if err != nil {
		return fmt.Errorf("orchestrator: clean: list objects: %w", err)
	}
	var drops []string
	for rows.Next() {
		var stmt string
		if err := rows.Scan(&stmt); err != nil {
			rows.Close()
			return fmt.Errorf("orchestrator: clean: scan: %w", err)
		}
		drops = append(drops, stmt)
	}
	if err := rows.Close(); err != nil {
		return fmt.Errorf("orchestrator: clean: %w", err)
	}
	for _, stmt := range drops {
		if _, err := o.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("orchestrator: clean: %w", err)
		}
	}
	return o.hist.EnsureExists(ctx, o.db)
}

// checkNotConcurrentlyApplied re-reads history under the run lock and
// refuses to proceed if any version in pending has already been recorded,
// which means a concurrent run applied it between resolution and lock
// acquisition.
func (o *Orchestrator) checkNotConcurrentlyApplied(ctx context.Context, db dbutil.ExecQuerier, pending []migration.Resolved) error {
	records, err := o.hist.GetAllRecords(ctx, db)
	if err != nil {
		return fmt.Errorf("orchestrator: load history: %w", err)
	}
	rankByVersion := make(map[string]int32, len(records))
	for _, r := range records {
		if r.Version.Valid {
			rankByVersion[r.Version.String] = r.InstalledRank
		}
	}
	for _, m := range pending {
		if m.Type == migration.Repeatable {
			continue
		}
		if rank, ok := rankByVersion[m.Version]; ok {
			return &history.HistoryChangedError{Version: m.Version, Rank: rank}
		}
	}
	return nil
}

func lockName(hist *history.Manager) string {
	return fmt.Sprintf("skyway:%s.%s", hist.Schema(), hist.Table())
}

// sessionToken generates the run correlation id stamped on a Migrate run's
// LogExecution entry, so a log sink aggregating several runs can group
// entries belonging to the same invocation.
func sessionToken() string { return uuid.NewString() }

func nowStamp() string { return time.Now().UTC().Format(time.RFC3339) }
