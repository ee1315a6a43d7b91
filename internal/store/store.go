// Package store persists input datasets and allocation run outputs in PostgreSQL.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"nomination-workers/internal/allocation"
	apperrors "nomination-workers/internal/common/errors"
	"nomination-workers/internal/common/logger"
	"nomination-workers/internal/models"
)

// Dataset kinds.
const (
	KindCapacities   = "capacities"
	KindApplications = "applications"
)

// Run outputs.
const (
	OutputCapacities = "capacities"
	OutputWorking    = "working"
	OutputResult     = "result"
	OutputReport     = "report"
)

var outputOrder = []string{OutputCapacities, OutputWorking, OutputResult, OutputReport}

// RunRecord is the summary row of one allocation run.
type RunRecord struct {
	ID                 string
	CapacityDataset    string
	ApplicationDataset string
	Iterations         int
	Finished           bool
	Log                []allocation.LogEntry
}

// DatasetStore reads datasets and writes run outputs.
type DatasetStore struct {
	db     *sql.DB
	logger logger.Logger
}

func NewDatasetStore(db *sql.DB, log logger.Logger) *DatasetStore {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &DatasetStore{db: db, logger: log.WithFields(map[string]interface{}{"component": "dataset-store"})}
}

// Migrate creates the tables used by the store.
func (s *DatasetStore) Migrate(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return apperrors.NewQueryExecutionFailedError("migrate", err)
		}
	}
	return nil
}

// SaveRecordSet replaces the dataset id with set.
func (s *DatasetStore) SaveRecordSet(ctx context.Context, id, kind string, set models.RecordSet) (err error) {
	columns, err := json.Marshal(set.Columns)
	if err != nil {
		return apperrors.NewDatabaseInsertFailedError(fmt.Errorf("encode columns: %w", err))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.NewDatabaseConnectionFailedError(err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx,
		`INSERT INTO datasets (id, kind, columns) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET kind = EXCLUDED.kind, columns = EXCLUDED.columns`,
		id, kind, columns); err != nil {
		return apperrors.NewDatabaseInsertFailedError(err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM dataset_rows WHERE dataset_id = $1`, id); err != nil {
		return apperrors.NewDatabaseInsertFailedError(err)
	}

	for i, row := range set.Rows {
		data, mErr := json.Marshal(row)
		if mErr != nil {
			err = apperrors.NewDatabaseInsertFailedError(fmt.Errorf("encode row %d: %w", i, mErr))
			return err
		}
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO dataset_rows (dataset_id, row_index, data) VALUES ($1, $2, $3)`,
			id, i, data); err != nil {
			return apperrors.NewDatabaseInsertFailedError(err)
		}
	}

	if err = tx.Commit(); err != nil {
		return apperrors.NewDatabaseInsertFailedError(err)
	}

	s.logger.Info("Dataset saved", map[string]interface{}{"datasetId": id, "kind": kind, "rows": set.Len()})
	return nil
}

// LoadRecordSet returns the dataset with rows in their original order.
func (s *DatasetStore) LoadRecordSet(ctx context.Context, id string) (models.RecordSet, error) {
	var columnsJSON []byte
	err := s.db.QueryRowContext(ctx, `SELECT columns FROM datasets WHERE id = $1`, id).Scan(&columnsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return models.RecordSet{}, apperrors.NewDatasetNotFoundError(id)
	}
	if err != nil {
		return models.RecordSet{}, queryError("load_dataset", err)
	}

	var columns []string
	if err := json.Unmarshal(columnsJSON, &columns); err != nil {
		return models.RecordSet{}, apperrors.NewQueryExecutionFailedError("load_dataset", fmt.Errorf("decode columns: %w", err))
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM dataset_rows WHERE dataset_id = $1 ORDER BY row_index`, id)
	if err != nil {
		return models.RecordSet{}, queryError("load_dataset_rows", err)
	}
	defer rows.Close()

	set := models.NewRecordSet(columns)
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return models.RecordSet{}, apperrors.NewQueryExecutionFailedError("load_dataset_rows", err)
		}
		var row models.Row
		if err := json.Unmarshal(data, &row); err != nil {
			return models.RecordSet{}, apperrors.NewQueryExecutionFailedError("load_dataset_rows", fmt.Errorf("decode row: %w", err))
		}
		set.Rows = append(set.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return models.RecordSet{}, apperrors.NewQueryExecutionFailedError("load_dataset_rows", err)
	}

	return set, nil
}

// SaveRun stores the run summary and replaces its outputs in one transaction.
// Outputs missing from the map are not written.
func (s *DatasetStore) SaveRun(ctx context.Context, run RunRecord, outputs map[string]models.RecordSet) (err error) {
	logJSON, err := json.Marshal(run.Log)
	if err != nil {
		return apperrors.NewDatabaseInsertFailedError(fmt.Errorf("encode log: %w", err))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.NewDatabaseConnectionFailedError(err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM allocation_outputs WHERE run_id = $1`, run.ID); err != nil {
		return apperrors.NewDatabaseInsertFailedError(err)
	}

	if _, err = tx.ExecContext(ctx,
		`INSERT INTO allocation_runs (id, capacity_dataset, application_dataset, iterations, finished, log)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO UPDATE SET iterations = EXCLUDED.iterations, finished = EXCLUDED.finished,
		 log = EXCLUDED.log, updated_at = NOW()`,
		run.ID, run.CapacityDataset, run.ApplicationDataset, run.Iterations, run.Finished, logJSON); err != nil {
		return apperrors.NewDatabaseInsertFailedError(err)
	}

	for _, name := range outputOrder {
		set, ok := outputs[name]
		if !ok {
			continue
		}
		columns, mErr := json.Marshal(set.Columns)
		if mErr != nil {
			err = apperrors.NewDatabaseInsertFailedError(mErr)
			return err
		}
		rowsJSON, mErr := json.Marshal(set.Rows)
		if mErr != nil {
			err = apperrors.NewDatabaseInsertFailedError(mErr)
			return err
		}
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO allocation_outputs (run_id, output, columns, rows) VALUES ($1, $2, $3, $4)`,
			run.ID, name, columns, rowsJSON); err != nil {
			return apperrors.NewDatabaseInsertFailedError(err)
		}
	}

	if err = tx.Commit(); err != nil {
		return apperrors.NewDatabaseInsertFailedError(err)
	}

	s.logger.Info("Allocation run saved", map[string]interface{}{
		"runId":      run.ID,
		"iterations": run.Iterations,
		"finished":   run.Finished,
		"outputs":    len(outputs),
	})
	return nil
}

// LoadOutput returns one stored output of a run.
func (s *DatasetStore) LoadOutput(ctx context.Context, runID, output string) (models.RecordSet, error) {
	var columnsJSON, rowsJSON []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT columns, rows FROM allocation_outputs WHERE run_id = $1 AND output = $2`,
		runID, output).Scan(&columnsJSON, &rowsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return models.RecordSet{}, apperrors.NewRunNotFoundError(runID, output)
	}
	if err != nil {
		return models.RecordSet{}, queryError("load_output", err)
	}

	var columns []string
	var rows []models.Row
	if err := json.Unmarshal(columnsJSON, &columns); err != nil {
		return models.RecordSet{}, apperrors.NewQueryExecutionFailedError("load_output", err)
	}
	if err := json.Unmarshal(rowsJSON, &rows); err != nil {
		return models.RecordSet{}, apperrors.NewQueryExecutionFailedError("load_output", err)
	}
	return models.NewRecordSet(columns, rows...), nil
}

func queryError(queryType string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.NewQueryTimeoutError(queryType)
	}
	return apperrors.NewQueryExecutionFailedError(queryType, err)
}

// Outputs collects the stored sets of a workflow. The report is the result
// projected onto projection, or onto the default report columns when empty.
func Outputs(w *allocation.Workflow, projection []string) map[string]models.RecordSet {
	result := w.Result()
	return map[string]models.RecordSet{
		OutputCapacities: w.Capacities(),
		OutputWorking:    w.Working(),
		OutputResult:     result,
		OutputReport:     allocation.ProjectResult(result, projection),
	}
}
