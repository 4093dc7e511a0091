// Package executor runs the pending migration set against a database under
// one of two transaction disciplines, recording history rows in the same
// transaction as the batches that earned them.
package executor

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/MemberJunction/skyway/batch"
	"github.com/MemberJunction/skyway/checksum"
	"github.com/MemberJunction/skyway/history"
	"github.com/MemberJunction/skyway/logging"
	"github.com/MemberJunction/skyway/migration"
	"github.com/MemberJunction/skyway/placeholder"
)

// TransactionMode selects how batches and history inserts are grouped into
// database transactions.
type TransactionMode string

const (
	// PerRun executes every pending migration inside a single transaction:
	// on any failure the whole run rolls back, including history inserts
	// for migrations that had already succeeded in this run.
	PerRun TransactionMode = "per-run"
	// PerMigration opens and commits one transaction per migration: earlier
	// migrations remain committed if a later one fails.
	PerMigration TransactionMode = "per-migration"
)

// Config controls a single Run.
type Config struct {
	Mode               TransactionMode
	User               string
	InsertFailedRows   bool // only consulted in PerMigration mode
	DryRun             bool
	Placeholders       map[string]string
	PlaceholderContext placeholder.Context
	Logger             logging.Logger
	RequestTimeout     time.Duration // per-batch; 0 means no override
	RunID              string        // correlation id stamped on LogExecution
}

func (c Config) logger() logging.Logger {
	if c.Logger == nil {
		return logging.NopLogger{}
	}
	return c.Logger
}

// AppliedMigration records the outcome of one executed migration.
type AppliedMigration struct {
	Migration     migration.Resolved
	ExecutionTime time.Duration
}

// Result is the outcome of a Run.
type Result struct {
	Success bool
	Applied []AppliedMigration
	// FailedVersion and FailedBatch are populated when Success is false
	// because a migration failed; a failure to begin or commit a
	// transaction, or (in PerRun mode) to record history, sets only Error.
	// In PerMigration mode Applied also lists the migrations committed
	// before the failure.
	FailedVersion string
	FailedBatch   string
	Error         error
}

// Conn is the subset of *sql.Conn used by Run: a single exclusive connection
// that can both run statements directly (for a failed-row insert that must
// survive a rollback) and open transactions. *sql.Conn satisfies it
// directly; tests may substitute a narrower fake alongside sqlmock's *sql.DB.
type Conn interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Run executes pending in order against conn (the run's single, exclusive
// connection), recording history via hist starting at startRank. pending
// must already be in execution order, as produced by the resolver.
func Run(ctx context.Context, conn Conn, hist *history.Manager, pending []migration.Resolved, startRank int32, cfg Config) Result {
	log := cfg.logger()
	if cfg.DryRun || len(pending) == 0 {
		applied := make([]AppliedMigration, 0, len(pending))
		for _, m := range pending {
			applied = append(applied, AppliedMigration{Migration: m})
		}
		return Result{Success: true, Applied: applied}
	}
	log.Log(logging.LogExecution{RunID: cfg.RunID, To: pending[len(pending)-1].ScriptPath, Files: scriptPaths(pending)})

	switch cfg.Mode {
	case PerMigration:
		return runPerMigration(ctx, conn, hist, pending, startRank, cfg)
	default:
		return runPerRun(ctx, conn, hist, pending, startRank, cfg)
	}
}

func scriptPaths(pending []migration.Resolved) []string {
	out := make([]string, len(pending))
	for i, m := range pending {
		out[i] = m.ScriptPath
	}
	return out
}

func runPerRun(ctx context.Context, conn Conn, hist *history.Manager, pending []migration.Resolved, startRank int32, cfg Config) Result {
	log := cfg.logger()
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return Result{Error: fmt.Errorf("executor: begin transaction: %w", err)}
	}
	rank := startRank
	var applied []AppliedMigration
	for i := range pending {
		m, elapsed, err := executeOne(ctx, tx, pending[i], cfg, log)
		if err != nil {
			failedSQL, _ := firstFailedBatch(err)
			if rerr := tx.Rollback(); rerr != nil {
				return Result{Error: fmt.Errorf("executor: rollback after %q failed: %v (original: %w)", m.Version, rerr, err)}
			}
			return Result{
				Success:       false,
				FailedVersion: m.Version,
				FailedBatch:   failedSQL,
				Error:         fmt.Errorf("executor: migration %q: %w", m.ScriptPath, err),
			}
		}
		if err := hist.InsertAppliedMigration(ctx, tx, m, rank, int32(elapsed.Milliseconds()), cfg.User); err != nil {
			if rerr := tx.Rollback(); rerr != nil {
				return Result{Error: fmt.Errorf("executor: rollback after history insert failure failed: %v (original: %w)", rerr, err)}
			}
			return Result{Error: fmt.Errorf("executor: record history for %q: %w", m.ScriptPath, err)}
		}
		applied = append(applied, AppliedMigration{Migration: m, ExecutionTime: elapsed})
		rank++
	}
	if err := tx.Commit(); err != nil {
		return Result{Error: fmt.Errorf("executor: commit: %w", err)}
	}
	log.Log(logging.LogDone{Applied: len(applied)})
	return Result{Success: true, Applied: applied}
}

func runPerMigration(ctx context.Context, conn Conn, hist *history.Manager, pending []migration.Resolved, startRank int32, cfg Config) Result {
	log := cfg.logger()
	rank := startRank
	var applied []AppliedMigration
	for i := range pending {
		tx, err := conn.BeginTx(ctx, nil)
		if err != nil {
			return Result{Error: fmt.Errorf("executor: begin transaction: %w", err)}
		}
		m, elapsed, execErr := executeOne(ctx, tx, pending[i], cfg, log)
		if execErr == nil {
			execErr = hist.InsertAppliedMigration(ctx, tx, m, rank, int32(elapsed.Milliseconds()), cfg.User)
		}
		if execErr != nil {
			failedSQL, _ := firstFailedBatch(execErr)
			if rerr := tx.Rollback(); rerr != nil {
				return Result{Error: fmt.Errorf("executor: rollback after %q failed: %v (original: %w)", m.Version, rerr, execErr)}
			}
			if cfg.InsertFailedRows {
				// Recorded outside the rolled-back transaction so the
				// failure itself survives the rollback it describes.
				if ferr := hist.InsertFailedMigration(ctx, conn, m, rank, int32(elapsed.Milliseconds()), cfg.User); ferr != nil {
					execErr = fmt.Errorf("%w (additionally failed to record failure: %v)", execErr, ferr)
				}
			}
			return Result{
				Success:       false,
				Applied:       applied,
				FailedVersion: m.Version,
				FailedBatch:   failedSQL,
				Error:         fmt.Errorf("executor: migration %q: %w", m.ScriptPath, execErr),
			}
		}
		if err := tx.Commit(); err != nil {
			return Result{Error: fmt.Errorf("executor: commit %q: %w", m.ScriptPath, err)}
		}
		applied = append(applied, AppliedMigration{Migration: m, ExecutionTime: elapsed})
		rank++
	}
	log.Log(logging.LogDone{Applied: len(applied)})
	return Result{Success: true, Applied: applied}
}

// execer is satisfied by *sql.Tx, *sql.Conn and *sql.DB: anything that can
// run a statement.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// executeOne substitutes placeholders, recomputes the checksum for a
// repeatable migration over the substituted body, splits on GO and runs
// every batch/repetition in order against execQuerier.
func executeOne(ctx context.Context, execQuerier execer, m migration.Resolved, cfg Config, log logging.Logger) (migration.Resolved, time.Duration, error) {
	pctx := cfg.PlaceholderContext.WithFilename(m.Filename)
	substituted := placeholder.Substitute(m.SQL, cfg.Placeholders, pctx)
	if m.Type == migration.Repeatable {
		m.Checksum = checksum.Of(substituted)
	}
	log.Log(logging.LogFile{Version: m.Version, Description: m.Description})

	batches := batch.Split(substituted)
	start := time.Now()
	for _, b := range batches {
		for i := 0; i < b.RepeatCount; i++ {
			log.Log(logging.LogBatch{Version: m.Version, BatchSQL: b.SQL, Iteration: i + 1})
			if err := execBatch(ctx, execQuerier, b.SQL, cfg.RequestTimeout); err != nil {
				elapsed := time.Since(start)
				log.Log(logging.LogError{Version: m.Version, Error: err})
				return m, elapsed, &BatchError{Version: m.Version, SQL: truncate(b.SQL, 200), Cause: err}
			}
		}
	}
	return m, time.Since(start), nil
}

// execBatch runs one batch, bounding it by timeout when set so a hung
// statement doesn't block a run forever.
func execBatch(ctx context.Context, execQuerier execer, sqlText string, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	_, err := execQuerier.ExecContext(ctx, sqlText)
	if err != nil && ctx.Err() != nil {
		// Keep the deadline/cancellation visible to errors.Is whatever error
		// the driver reports for the aborted statement.
		return fmt.Errorf("%w: %w", ctx.Err(), err)
	}
	return err
}

// BatchError is returned when a batch fails; it carries enough context for
// the run's result to report the failing migration and a truncated prefix
// of the failing batch.
type BatchError struct {
	Version string
	SQL     string
	Cause   error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batch failed: %s: %v", e.SQL, e.Cause)
}

func (e *BatchError) Unwrap() error { return e.Cause }

func firstFailedBatch(err error) (string, bool) {
	var be *BatchError
	for err != nil {
		if b, ok := err.(*BatchError); ok {
			be = b
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	if be == nil {
		return "", false
	}
	return be.SQL, true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
