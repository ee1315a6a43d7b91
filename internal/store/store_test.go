package store

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"nomination-workers/internal/allocation"
	apperrors "nomination-workers/internal/common/errors"
	"nomination-workers/internal/common/logger"
	"nomination-workers/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Test Helper Functions
// ==========================

func setupMockDB(t *testing.T) (*DatasetStore, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewDatasetStore(db, logger.NewTestLogger(t)), mock
}

func q(sql string) string {
	return regexp.QuoteMeta(sql)
}

// ==========================
// Datasets
// ==========================

func TestLoadRecordSet_Success(t *testing.T) {
	s, mock := setupMockDB(t)

	mock.ExpectQuery(q(`SELECT columns FROM datasets WHERE id = $1`)).
		WithArgs("caps-2024").
		WillReturnRows(sqlmock.NewRows([]string{"columns"}).AddRow(`["ID code","ALL"]`))
	mock.ExpectQuery(q(`SELECT data FROM dataset_rows WHERE dataset_id = $1 ORDER BY row_index`)).
		WithArgs("caps-2024").
		WillReturnRows(sqlmock.NewRows([]string{"data"}).
			AddRow(`{"ID code":"X1","ALL":2}`).
			AddRow(`{"ID code":"X2","ALL":"1"}`))

	set, err := s.LoadRecordSet(context.Background(), "caps-2024")

	require.NoError(t, err)
	assert.Equal(t, []string{"ID code", "ALL"}, set.Columns)
	require.Len(t, set.Rows, 2)
	assert.Equal(t, "X1", set.Rows[0]["ID code"])
	assert.Equal(t, 2, models.CellInt(set.Rows[0]["ALL"]))
	assert.Equal(t, 1, models.CellInt(set.Rows[1]["ALL"]))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadRecordSet_NotFound(t *testing.T) {
	s, mock := setupMockDB(t)

	mock.ExpectQuery(q(`SELECT columns FROM datasets WHERE id = $1`)).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"columns"}))

	_, err := s.LoadRecordSet(context.Background(), "missing")

	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeDatasetNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadRecordSet_QueryError(t *testing.T) {
	s, mock := setupMockDB(t)

	mock.ExpectQuery(q(`SELECT columns FROM datasets WHERE id = $1`)).
		WithArgs("caps").
		WillReturnError(errors.New("connection reset"))

	_, err := s.LoadRecordSet(context.Background(), "caps")

	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeQueryExecutionFailed))
}

func TestLoadRecordSet_Timeout(t *testing.T) {
	s, mock := setupMockDB(t)

	mock.ExpectQuery(q(`SELECT columns FROM datasets WHERE id = $1`)).
		WithArgs("caps").
		WillReturnError(context.DeadlineExceeded)

	_, err := s.LoadRecordSet(context.Background(), "caps")

	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeQueryTimeout))
}

func TestSaveRecordSet(t *testing.T) {
	s, mock := setupMockDB(t)
	set := models.NewRecordSet([]string{"ID code"}, models.Row{"ID code": "X1"}, models.Row{"ID code": "X2"})

	mock.ExpectBegin()
	mock.ExpectExec(q(`INSERT INTO datasets (id, kind, columns)`)).
		WithArgs("caps", KindCapacities, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q(`DELETE FROM dataset_rows WHERE dataset_id = $1`)).
		WithArgs("caps").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(q(`INSERT INTO dataset_rows`)).
		WithArgs("caps", 0, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q(`INSERT INTO dataset_rows`)).
		WithArgs("caps", 1, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, s.SaveRecordSet(context.Background(), "caps", KindCapacities, set))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ==========================
// Runs
// ==========================

func TestSaveRun_Success(t *testing.T) {
	s, mock := setupMockDB(t)
	run := RunRecord{ID: "run-1", CapacityDataset: "caps", ApplicationDataset: "apps", Iterations: 2, Finished: true,
		Log: []allocation.LogEntry{{Iteration: 1, Step: allocation.StepComputeOccupancy}}}
	outputs := map[string]models.RecordSet{
		OutputWorking: models.NewRecordSet([]string{"a"}),
		OutputResult:  models.NewRecordSet([]string{"a"}),
	}

	mock.ExpectBegin()
	mock.ExpectExec(q(`DELETE FROM allocation_outputs WHERE run_id = $1`)).
		WithArgs("run-1").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(q(`INSERT INTO allocation_runs`)).
		WithArgs("run-1", "caps", "apps", 2, true, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q(`INSERT INTO allocation_outputs`)).
		WithArgs("run-1", OutputWorking, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q(`INSERT INTO allocation_outputs`)).
		WithArgs("run-1", OutputResult, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, s.SaveRun(context.Background(), run, outputs))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveRun_RollsBackOnFailure(t *testing.T) {
	s, mock := setupMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec(q(`DELETE FROM allocation_outputs WHERE run_id = $1`)).
		WithArgs("run-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(q(`INSERT INTO allocation_runs`)).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := s.SaveRun(context.Background(), RunRecord{ID: "run-1"}, nil)

	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeDatabaseInsertFailed))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadOutput(t *testing.T) {
	s, mock := setupMockDB(t)

	mock.ExpectQuery(q(`SELECT columns, rows FROM allocation_outputs WHERE run_id = $1 AND output = $2`)).
		WithArgs("run-1", OutputResult).
		WillReturnRows(sqlmock.NewRows([]string{"columns", "rows"}).
			AddRow(`["Číslo UK","ID code"]`, `[{"Číslo UK":"S1","ID code":"X1"}]`))

	set, err := s.LoadOutput(context.Background(), "run-1", OutputResult)

	require.NoError(t, err)
	assert.Equal(t, []string{"Číslo UK", "ID code"}, set.Columns)
	require.Len(t, set.Rows, 1)
	assert.Equal(t, "S1", set.Rows[0]["Číslo UK"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadOutput_NotFound(t *testing.T) {
	s, mock := setupMockDB(t)

	mock.ExpectQuery(q(`SELECT columns, rows FROM allocation_outputs`)).
		WithArgs("run-9", OutputWorking).
		WillReturnRows(sqlmock.NewRows([]string{"columns", "rows"}))

	_, err := s.LoadOutput(context.Background(), "run-9", OutputWorking)

	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeRunNotFound))
}

func TestMigrate(t *testing.T) {
	s, mock := setupMockDB(t)
	for range schemaStatements {
		mock.ExpectExec(q(`CREATE TABLE IF NOT EXISTS`)).WillReturnResult(sqlmock.NewResult(0, 0))
	}

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
