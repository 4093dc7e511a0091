package history

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/MemberJunction/skyway/migration"
	"github.com/stretchr/testify/require"
)

func TestEnsureExistsIsIdempotent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	m := NewManager("dbo", "skyway_history")

	mock.ExpectQuery(".*sys.tables.*").WillReturnRows(sqlmock.NewRows([]string{"1"}))
	mock.ExpectExec(".*CREATE SCHEMA.*").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(".*CREATE TABLE.*").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(".*CREATE INDEX.*").WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, m.EnsureExists(context.Background(), db))
	require.NoError(t, mock.ExpectationsWereMet())

	// Second call: table already exists, nothing more should run.
	mock.ExpectQuery(".*sys.tables.*").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	require.NoError(t, m.EnsureExists(context.Background(), db))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetNextRankEmptyTable(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	m := NewManager("dbo", "skyway_history")

	mock.ExpectQuery(".*MAX.installed_rank.*").WillReturnRows(sqlmock.NewRows([]string{""}).AddRow(nil))
	rank, err := m.GetNextRank(context.Background(), db)
	require.NoError(t, err)
	require.EqualValues(t, -1, rank)
}

func TestGetNextRankNonEmptyTable(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	m := NewManager("dbo", "skyway_history")

	mock.ExpectQuery(".*MAX.installed_rank.*").WillReturnRows(sqlmock.NewRows([]string{""}).AddRow(3))
	rank, err := m.GetNextRank(context.Background(), db)
	require.NoError(t, err)
	require.EqualValues(t, 4, rank)
}

func TestInsertSchemaMarkerIsIdempotent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	m := NewManager("dbo", "skyway_history")

	mock.ExpectQuery(".*installed_rank.*").WillReturnRows(sqlmock.NewRows(
		[]string{"installed_rank", "version", "description", "type", "script", "checksum", "installed_by", "installed_on", "execution_time", "success"},
	))
	mock.ExpectExec(".*INSERT INTO.*").WillReturnResult(sqlmock.NewResult(1, 1))
	require.NoError(t, m.InsertSchemaMarker(context.Background(), db, "sa"))
	require.NoError(t, mock.ExpectationsWereMet())

	// Second call: the rank-0 row exists, nothing more should be inserted.
	mock.ExpectQuery(".*installed_rank.*").WillReturnRows(sqlmock.NewRows(
		[]string{"installed_rank", "version", "description", "type", "script", "checksum", "installed_by", "installed_on", "execution_time", "success"},
	).AddRow(0, nil, "<< Flyway Schema Creation >>", "SCHEMA", "[dbo]", nil, "sa", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 0, true))
	require.NoError(t, m.InsertSchemaMarker(context.Background(), db, "sa"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertAppliedMigrationUsesRepeatableNullVersion(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	m := NewManager("dbo", "skyway_history")

	mig := migration.NewResolved(migration.Info{
		Type: migration.Repeatable, Description: "Refresh Views", ScriptPath: "R__Refresh_Views.sql",
	}, "CREATE VIEW ...")

	mock.ExpectExec(".*INSERT INTO.*").WithArgs(
		int32(1), nil, "Refresh Views", string(RowSQL), "R__Refresh_Views.sql", mig.Checksum, "sa", int32(42), true,
	).WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, m.InsertAppliedMigration(context.Background(), db, mig, 1, 42, "sa"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestQuoteIdentEscapesCloseBracket(t *testing.T) {
	m := NewManager("my]schema", "tbl")
	require.Contains(t, m.qualified(), "[my]]schema]")
}
