package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/MemberJunction/skyway/executor"
	"github.com/MemberJunction/skyway/migration"
	"github.com/stretchr/testify/require"
)

func writeMigration(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

func TestInfoReportsPendingAndApplied(t *testing.T) {
	dir := t.TempDir()
	writeMigration(t, dir, "V1__Init.sql", "CREATE TABLE t (id INT);")
	writeMigration(t, dir, "V2__Add_Col.sql", "ALTER TABLE t ADD c INT;")

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(".*sys.tables.*").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	mock.ExpectQuery(".*installed_rank.*").WillReturnRows(sqlmock.NewRows(
		[]string{"installed_rank", "version", "description", "type", "script", "checksum", "installed_by", "installed_on", "execution_time", "success"},
	).AddRow(1, "1", "Init", "SQL", "V1__Init.sql", 123, "sa", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 5, true))

	o := New(db, RuntimeConfig{Locations: []string{dir}})
	res, err := o.Info(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Entries, 2)
	require.Equal(t, migration.StateApplied, res.Entries[0].State)
	require.Equal(t, migration.StatePending, res.Entries[1].State)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrateNoPendingSkipsExecution(t *testing.T) {
	dir := t.TempDir()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(".*sys.tables.*").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	mock.ExpectQuery(".*installed_rank.*").WillReturnRows(sqlmock.NewRows(
		[]string{"installed_rank", "version", "description", "type", "script", "checksum", "installed_by", "installed_on", "execution_time", "success"},
	))
	mock.ExpectQuery(".*installed_rank.*").WillReturnRows(sqlmock.NewRows(
		[]string{"installed_rank", "version", "description", "type", "script", "checksum", "installed_by", "installed_on", "execution_time", "success"},
	))
	mock.ExpectExec(".*INSERT INTO.*").WillReturnResult(sqlmock.NewResult(1, 1))

	o := New(db, RuntimeConfig{Locations: []string{dir}, TransactionMode: executor.PerRun, User: "sa"})
	res, err := o.Migrate(context.Background())
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Empty(t, res.Migrations)
	require.NoError(t, mock.ExpectationsWereMet())
}

func emptyHistoryRows() *sqlmock.Rows {
	return sqlmock.NewRows(
		[]string{"installed_rank", "version", "description", "type", "script", "checksum", "installed_by", "installed_on", "execution_time", "success"},
	)
}

func TestBaselineInsertsMarkerRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(".*sys.tables.*").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	mock.ExpectQuery(".*installed_rank.*").WillReturnRows(emptyHistoryRows())  // Baseline's refusal check
	mock.ExpectQuery(".*installed_rank.*").WillReturnRows(emptyHistoryRows())  // InsertSchemaMarker's own check
	mock.ExpectExec(".*INSERT INTO.*").WillReturnResult(sqlmock.NewResult(1, 1)) // schema marker row
	mock.ExpectQuery(".*MAX.installed_rank.*").WillReturnRows(sqlmock.NewRows([]string{""}).AddRow(nil))
	mock.ExpectExec(".*INSERT INTO.*").WillReturnResult(sqlmock.NewResult(1, 1)) // baseline row

	o := New(db, RuntimeConfig{})
	res, err := o.Baseline(context.Background(), "3", "Pre-existing schema")
	require.NoError(t, err)
	require.Equal(t, "3", res.Version)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBaselineRefusesWhenMigrationRowsExist(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(".*sys.tables.*").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	mock.ExpectQuery(".*installed_rank.*").WillReturnRows(emptyHistoryRows().
		AddRow(1, "1", "Init", "SQL", "V1__Init.sql", 123, "sa", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 5, true))

	o := New(db, RuntimeConfig{})
	_, err = o.Baseline(context.Background(), "3", "Pre-existing schema")
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepairRealignsRanksAfterDeletingFailedRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(".*installed_rank.*").WillReturnRows(emptyHistoryRows().
		AddRow(0, nil, "<< Schema >>", "SCHEMA", "[dbo]", nil, "sa", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 0, true).
		AddRow(1, "1", "Init", "SQL", "V1__Init.sql", 111, "sa", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 5, false).
		AddRow(2, "2", "Add_Col", "SQL", "V2__Add_Col.sql", 222, "sa", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 5, true))
	mock.ExpectExec(".*DELETE FROM.*").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(".*SET installed_rank.*").WillReturnResult(sqlmock.NewResult(1, 1))

	o := New(db, RuntimeConfig{})
	res, err := o.Repair(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, res.DeletedFailedRows)
	require.Equal(t, 1, res.RealignedRanks)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestValidateReportsChecksumMismatch(t *testing.T) {
	dir := t.TempDir()
	writeMigration(t, dir, "V1__Init.sql", "CREATE TABLE t (id INT);")

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(".*sys.tables.*").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	mock.ExpectQuery(".*installed_rank.*").WillReturnRows(sqlmock.NewRows(
		[]string{"installed_rank", "version", "description", "type", "script", "checksum", "installed_by", "installed_on", "execution_time", "success"},
	).AddRow(1, "1", "Init", "SQL", "V1__Init.sql", 999999, "sa", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 10, true))

	o := New(db, RuntimeConfig{Locations: []string{dir}})
	res, err := o.Validate(context.Background())
	require.NoError(t, err)
	require.False(t, res.Valid)
	require.Len(t, res.Mismatch, 1)
	require.Equal(t, "1", res.Mismatch[0].Version)
	require.NoError(t, mock.ExpectationsWereMet())
}
