package store

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rustyeddy/custody/custody"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const pgTable = "custody_holdings_2025_06_25"

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s, err := New(sqlx.NewDb(db, "postgres"), Config{}, zap.NewNop())
	require.NoError(t, err)
	return s, mock
}

func expectTableExists(mock sqlmock.Sqlmock, table string, n int) *sqlmock.ExpectedQuery {
	return mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = $1")).
		WithArgs(table).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(n))
}

func TestPostgresEnsureTableToleratesRace(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	expectTableExists(mock, pgTable, 0)
	// Another loader created the table between the check and the create.
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS " + pgTable)).
		WillReturnError(&pq.Error{Code: "42P07", Message: "relation already exists"})
	mock.ExpectExec(regexp.QuoteMeta("CREATE INDEX IF NOT EXISTS " + pgTable + "_source_file_idx")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	table, err := s.EnsureTable(ctx, day("2025-06-25"))
	require.NoError(t, err)
	assert.Equal(t, pgTable, table)

	// Memoized: no further queries.
	_, err = s.EnsureTable(ctx, day("2025-06-25"))
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureTableSurvivesCanceledLeader(t *testing.T) {
	s, mock := newMockStore(t)

	expectTableExists(mock, pgTable, 1).WillDelayFor(150 * time.Millisecond)

	leaderCtx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	var leaderErr, waiterErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, leaderErr = s.EnsureTable(leaderCtx, day("2025-06-25"))
	}()
	time.Sleep(20 * time.Millisecond)
	go func() {
		defer wg.Done()
		_, waiterErr = s.EnsureTable(context.Background(), day("2025-06-25"))
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	wg.Wait()

	assert.NoError(t, leaderErr)
	assert.NoError(t, waiterErr)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureTableCanceledBeforeStart(t *testing.T) {
	s, mock := newMockStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.EnsureTable(ctx, day("2025-06-25"))
	assert.ErrorIs(t, err, custody.ErrStorage)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresEnsureTableFailure(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM information_schema.tables")).
		WillReturnError(errors.New("connection reset"))

	_, err := s.EnsureTable(context.Background(), day("2025-06-25"))
	require.Error(t, err)
	assert.ErrorIs(t, err, custody.ErrStorage)
	assert.Contains(t, err.Error(), "connection reset")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresListPartitions(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT table_name FROM information_schema.tables WHERE table_schema = current_schema() AND table_name LIKE $1")).
		WithArgs("custody_holdings_%").
		WillReturnRows(sqlmock.NewRows([]string{"table_name"}).
			AddRow("custody_holdings_2025_06_26").
			AddRow("custody_holdings_backup").
			AddRow("custody_holdings_2025_06_25"))

	parts, err := s.ListPartitions(context.Background())
	require.NoError(t, err)
	require.Len(t, parts, 2)
	assert.Equal(t, "custody_holdings_2025_06_25", parts[0].Table)
	assert.Equal(t, "custody_holdings_2025_06_26", parts[1].Table)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresWriteRetriesFailedChunkRowByRow(t *testing.T) {
	s, mock := newMockStore(t)
	insert := regexp.QuoteMeta("INSERT INTO " + pgTable + " (client_reference")
	ok := sqlmock.NewResult(0, 0)

	expectTableExists(mock, pgTable, 1)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM " + pgTable + " WHERE source_system = $1 AND file_name = $2")).
		WithArgs("axis", "axis_eod.xlsx").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("^SAVEPOINT chunk$").WillReturnResult(ok)
	mock.ExpectExec(insert).
		WillReturnError(&pq.Error{Code: "23514", Message: "new row violates check constraint"})
	mock.ExpectExec("^ROLLBACK TO SAVEPOINT chunk$").WillReturnResult(ok)

	mock.ExpectExec("^SAVEPOINT row$").WillReturnResult(ok)
	mock.ExpectExec(insert).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("^RELEASE SAVEPOINT row$").WillReturnResult(ok)

	mock.ExpectExec("^SAVEPOINT row$").WillReturnResult(ok)
	mock.ExpectExec(insert).
		WillReturnError(&pq.Error{Code: "23514", Message: "new row violates check constraint"})
	mock.ExpectExec("^ROLLBACK TO SAVEPOINT row$").WillReturnResult(ok)
	mock.ExpectExec("^RELEASE SAVEPOINT row$").WillReturnResult(ok)

	mock.ExpectExec("^RELEASE SAVEPOINT chunk$").WillReturnResult(ok)
	mock.ExpectCommit()

	res, err := s.Load(context.Background(), []custody.CanonicalRecord{
		holding("C1", "INE002A01018", "2025-06-25", 0, 10, 10),
		holding("C2", "INE002A01018", "2025-06-25", -1, 10, 11),
	}, "axis", "axis_eod.xlsx")
	require.NoError(t, err)
	assert.Equal(t, 2, int(res.Deleted))
	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.RowErrors, 1)
	assert.Contains(t, res.RowErrors[0], "C2/INE002A01018")
	assert.Contains(t, res.RowErrors[0], "check constraint")
	assert.NoError(t, mock.ExpectationsWereMet())
}
