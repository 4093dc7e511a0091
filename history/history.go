// Package history manages the schema-history table: its on-disk shape is a
// compatibility surface dictated by the reference tool and must be
// reproduced exactly (widths, nullability, column names, index name).
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/MemberJunction/skyway/internal/dbutil"
	"github.com/MemberJunction/skyway/migration"
)

// ChecksumMismatchError reports that an applied migration's recorded
// checksum no longer matches the script currently on disk.
type ChecksumMismatchError struct {
	Version string
	Applied int32
	Disk    int32
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("history: checksum mismatch for version %s: applied %d, on disk %d", e.Version, e.Applied, e.Disk)
}

// HistoryChangedError is returned when a migration resolved as pending
// turns out, at execution time, to already have a history row for its
// version — the table changed between resolution and execution, most
// likely a concurrent run that slipped in before the advisory lock was
// acquired. Mirrors the teacher's migrate.HistoryChangedError, adapted from
// per-statement tracking to this module's per-file history rows.
type HistoryChangedError struct {
	Version string
	Rank    int32
}

func (e *HistoryChangedError) Error() string {
	return fmt.Sprintf("history: changed concurrently: version %s was already recorded at rank %d", e.Version, e.Rank)
}

// RowType is the value of the history table's "type" column.
type RowType string

// The four row types recorded in the history table.
const (
	RowSchema      RowType = "SCHEMA"
	RowSQL         RowType = "SQL"
	RowSQLBaseline RowType = "SQL_BASELINE"
	RowBaseline    RowType = "BASELINE"
)

// Record is a row of the schema-history table.
type Record struct {
	InstalledRank int32
	Version       sql.NullString // absent for repeatable and the schema marker
	Description   string
	Type          RowType
	Script        string
	Checksum      sql.NullInt32 // absent for the schema marker
	InstalledBy   string
	InstalledOn   time.Time
	ExecutionTime int32 // milliseconds
	Success       bool
}

// Manager creates and maintains the history table for one schema/table pair.
type Manager struct {
	schema string
	table  string
}

// NewManager returns a Manager for the history table identified by schema
// and table (the defaultSchema and historyTable runtime config values).
func NewManager(schema, table string) *Manager {
	return &Manager{schema: schema, table: table}
}

// Schema returns the configured schema name.
func (m *Manager) Schema() string { return m.schema }

// Table returns the configured table name.
func (m *Manager) Table() string { return m.table }

func (m *Manager) qualified() string {
	return dbutil.QuoteQualified(m.schema, m.table)
}

// pkName and idxName are compatibility surfaces: reproduced exactly as the
// reference tool names them, "<table>_pk" and "<table>_s_idx".
func (m *Manager) pkName() string  { return m.table + "_pk" }
func (m *Manager) idxName() string { return m.table + "_s_idx" }

// Exists reports whether the history table already exists.
func (m *Manager) Exists(ctx context.Context, db dbutil.ExecQuerier) (bool, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT 1 FROM sys.tables t
		JOIN sys.schemas s ON t.schema_id = s.schema_id
		WHERE s.name = @p1 AND t.name = @p2`, m.schema, m.table)
	if err != nil {
		return false, fmt.Errorf("history: exists: %w", err)
	}
	defer rows.Close()
	return rows.Next(), rows.Err()
}

// EnsureExists creates the target schema (if absent), the history table
// with the exact column spec below (if absent), and the success index. It
// is idempotent.
func (m *Manager) EnsureExists(ctx context.Context, db dbutil.ExecQuerier) error {
	ok, err := m.Exists(ctx, db)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	stmts := []string{
		fmt.Sprintf(`IF NOT EXISTS (SELECT 1 FROM sys.schemas WHERE name = %s) EXEC('CREATE SCHEMA %s')`,
			quoteLiteral(m.schema), dbutil.QuoteIdent(m.schema)),
		fmt.Sprintf(`CREATE TABLE %s (
			installed_rank INT NOT NULL,
			version NVARCHAR(50) NULL,
			description NVARCHAR(200) NOT NULL,
			type NVARCHAR(20) NOT NULL,
			script NVARCHAR(1000) NOT NULL,
			checksum INT NULL,
			installed_by NVARCHAR(100) NOT NULL,
			installed_on DATETIME NOT NULL DEFAULT GETDATE(),
			execution_time INT NOT NULL,
			success BIT NOT NULL,
			CONSTRAINT %s PRIMARY KEY (installed_rank)
		)`, m.qualified(), dbutil.QuoteIdent(m.pkName())),
		fmt.Sprintf(`CREATE INDEX %s ON %s (success)`, dbutil.QuoteIdent(m.idxName()), m.qualified()),
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("history: ensure exists: %w", err)
		}
	}
	return nil
}

// GetAllRecords returns all rows ordered by installed_rank.
func (m *Manager) GetAllRecords(ctx context.Context, db dbutil.ExecQuerier) ([]Record, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`
		SELECT installed_rank, version, description, type, script, checksum,
		       installed_by, installed_on, execution_time, success
		FROM %s ORDER BY installed_rank`, m.qualified()))
	if err != nil {
		return nil, fmt.Errorf("history: get all records: %w", err)
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.InstalledRank, &r.Version, &r.Description, &r.Type, &r.Script,
			&r.Checksum, &r.InstalledBy, &r.InstalledOn, &r.ExecutionTime, &r.Success); err != nil {
			return nil, fmt.Errorf("history: get all records: scan: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetNextRank returns max(installed_rank)+1, or -1 if the table is empty.
func (m *Manager) GetNextRank(ctx context.Context, db dbutil.ExecQuerier) (int32, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`SELECT MAX(installed_rank) FROM %s`, m.qualified()))
	if err != nil {
		return 0, fmt.Errorf("history: get next rank: %w", err)
	}
	var max sql.NullInt32
	if err := dbutil.ScanOne(rows, &max); err != nil {
		return 0, fmt.Errorf("history: get next rank: %w", err)
	}
	if !max.Valid {
		return -1, nil
	}
	return max.Int32 + 1, nil
}

const schemaMarkerDescription = "<< Flyway Schema Creation >>"

// InsertSchemaMarker inserts the rank-0 SCHEMA row if it does not already
// exist. It is idempotent.
func (m *Manager) InsertSchemaMarker(ctx context.Context, db dbutil.ExecQuerier, user string) error {
	recs, err := m.GetAllRecords(ctx, db)
	if err != nil {
		return err
	}
	for _, r := range recs {
		if r.InstalledRank == 0 {
			return nil
		}
	}
	_, err = db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (installed_rank, version, description, type, script, checksum, installed_by, execution_time, success)
		VALUES (0, NULL, @p1, @p2, @p3, NULL, @p4, 0, 1)`, m.qualified()),
		schemaMarkerDescription, string(RowSchema), fmt.Sprintf("[%s]", m.schema), user)
	if err != nil {
		return fmt.Errorf("history: insert schema marker: %w", err)
	}
	return nil
}

// InsertAppliedMigration records a successfully-applied migration.
func (m *Manager) InsertAppliedMigration(ctx context.Context, db dbutil.ExecQuerier, mig migration.Resolved, rank int32, executionTimeMS int32, user string) error {
	return m.insert(ctx, db, Record{
		InstalledRank: rank,
		Version:       nullableVersion(mig),
		Description:   mig.Description,
		Type:          rowTypeFor(mig.Type),
		Script:        mig.ScriptPath,
		Checksum:      sql.NullInt32{Int32: mig.Checksum, Valid: true},
		InstalledBy:   user,
		ExecutionTime: executionTimeMS,
		Success:       true,
	})
}

// InsertFailedMigration records a migration whose batch execution failed.
func (m *Manager) InsertFailedMigration(ctx context.Context, db dbutil.ExecQuerier, mig migration.Resolved, rank int32, executionTimeMS int32, user string) error {
	return m.insert(ctx, db, Record{
		InstalledRank: rank,
		Version:       nullableVersion(mig),
		Description:   mig.Description,
		Type:          rowTypeFor(mig.Type),
		Script:        mig.ScriptPath,
		Checksum:      sql.NullInt32{Int32: mig.Checksum, Valid: true},
		InstalledBy:   user,
		ExecutionTime: executionTimeMS,
		Success:       false,
	})
}

// InsertBaseline inserts a BASELINE marker row for the `baseline` command.
// description defaults to "<< baseline >>" if empty, matching the reference
// tool's own default.
func (m *Manager) InsertBaseline(ctx context.Context, db dbutil.ExecQuerier, version, description string, rank int32, user string) error {
	if description == "" {
		description = "<< baseline >>"
	}
	return m.insert(ctx, db, Record{
		InstalledRank: rank,
		Version:       sql.NullString{String: version, Valid: true},
		Description:   description,
		Type:          RowBaseline,
		Script:        "<< Flyway Baseline >>",
		InstalledBy:   user,
		Success:       true,
	})
}

func (m *Manager) insert(ctx context.Context, db dbutil.ExecQuerier, r Record) error {
	_, err := db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (installed_rank, version, description, type, script, checksum, installed_by, execution_time, success)
		VALUES (@p1, @p2, @p3, @p4, @p5, @p6, @p7, @p8, @p9)`, m.qualified()),
		r.InstalledRank, r.Version, r.Description, string(r.Type), r.Script, r.Checksum, r.InstalledBy, r.ExecutionTime, r.Success)
	if err != nil {
		return fmt.Errorf("history: insert record: %w", err)
	}
	return nil
}

// UpdateChecksum rewrites the checksum of the row at rank. Used only by repair.
func (m *Manager) UpdateChecksum(ctx context.Context, db dbutil.ExecQuerier, rank int32, newChecksum int32) error {
	_, err := db.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET checksum = @p1 WHERE installed_rank = @p2`, m.qualified()),
		newChecksum, rank)
	if err != nil {
		return fmt.Errorf("history: update checksum: %w", err)
	}
	return nil
}

// UpdateRank reassigns the row currently at oldRank to newRank. Used only by
// repair's gap-closing pass, after rows have been deleted.
func (m *Manager) UpdateRank(ctx context.Context, db dbutil.ExecQuerier, oldRank, newRank int32) error {
	_, err := db.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET installed_rank = @p1 WHERE installed_rank = @p2`, m.qualified()),
		newRank, oldRank)
	if err != nil {
		return fmt.Errorf("history: update rank: %w", err)
	}
	return nil
}

// DeleteRecord removes the row at rank. Used only by repair.
func (m *Manager) DeleteRecord(ctx context.Context, db dbutil.ExecQuerier, rank int32) error {
	_, err := db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE installed_rank = @p1`, m.qualified()), rank)
	if err != nil {
		return fmt.Errorf("history: delete record: %w", err)
	}
	return nil
}

func nullableVersion(mig migration.Resolved) sql.NullString {
	if mig.Type == migration.Repeatable {
		return sql.NullString{}
	}
	return sql.NullString{String: mig.Version, Valid: true}
}

func rowTypeFor(t migration.Type) RowType {
	if t == migration.Baseline {
		return RowSQLBaseline
	}
	return RowSQL
}

// quoteLiteral escapes a SQL Server string literal.
func quoteLiteral(s string) string {
	out := make([]byte, 0, len(s)+2)
	out = append(out, '\'')
	for i := 0; i < len(s); i++ {
		if s[i] == '\'' {
			out = append(out, '\'', '\'')
			continue
		}
		out = append(out, s[i])
	}
	out = append(out, '\'')
	return string(out)
}
