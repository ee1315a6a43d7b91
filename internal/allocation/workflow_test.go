package allocation

import (
	"context"
	"errors"
	"testing"

	apperrors "nomination-workers/internal/common/errors"
	"nomination-workers/internal/common/logger"
	"nomination-workers/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Test Fixtures
// ==========================

var (
	capacityColumns    = []string{"ID code", "Name", "BC", "MGR", "PHD", "ALL"}
	applicationColumns = []string{"Číslo UK", "ID code", "Studying for degree", "NOMINOVÁN", "PRIORITA", "Pořadí", "E-mail"}
)

func capacityRow(code string, all int) models.Row {
	return models.Row{"ID code": code, "Name": "Institute " + code, "BC": "9", "MGR": "9", "PHD": "9", "ALL": all}
}

func applicationRow(student, institute, flag, priority, rank string) models.Row {
	return models.Row{
		"Číslo UK":            student,
		"ID code":             institute,
		"Studying for degree": "Bachelor",
		"NOMINOVÁN":           flag,
		"PRIORITA":            priority,
		"Pořadí":              rank,
		"E-mail":              student + "@example.org",
	}
}

// swapInputs holds two students who each hold the seat the other prefers.
func swapInputs() Inputs {
	return Inputs{
		RunID: "run-swap",
		Capacities: models.NewRecordSet(capacityColumns,
			capacityRow("XA", 4),
			capacityRow("XB", 4),
		),
		Applications: models.NewRecordSet(applicationColumns,
			applicationRow("A", "XA", "NE", "1", "2"),
			applicationRow("A", "XB", "ANO", "2", "1"),
			applicationRow("B", "XA", "ANO", "2", "1"),
			applicationRow("B", "XB", "NE", "1", "2"),
		),
	}
}

func simpleInputs() Inputs {
	return Inputs{
		RunID: "run-simple",
		Capacities: models.NewRecordSet(capacityColumns,
			capacityRow("X1", 1),
			capacityRow("X2", 1),
		),
		Applications: models.NewRecordSet(applicationColumns,
			applicationRow("S1", "X1", "ANO", "1", "1"),
			applicationRow("S2", "X2", "ano", "1", "1"),
		),
	}
}

func resultKeys(w *Workflow) []models.ApplicationKey {
	return keysOf(w.ResultRecords())
}

// ==========================
// Run-all Mode
// ==========================

func TestWorkflow_RunAll_NoConflictsFinishesAfterOneIteration(t *testing.T) {
	w := NewWorkflow(simpleInputs(), logger.NewTestLogger(t))

	require.NoError(t, w.RunAll(context.Background()))

	assert.True(t, w.Finished())
	assert.Equal(t, 1, w.Iterations())
	assert.Len(t, w.Log(), 6)
	assert.Equal(t, []models.ApplicationKey{key("S1", "X1"), key("S2", "X2")}, resultKeys(w))

	caps := w.Capacities()
	assert.Equal(t, 1, caps.Rows[0]["BC"])
	assert.Equal(t, 0, caps.Rows[0]["MGR"])
	assert.Equal(t, 0, caps.Rows[0]["PHD"])
	assert.Equal(t, 1, caps.Rows[0]["ALL"])
	assert.Equal(t, "Institute X1", caps.Rows[0]["Name"])
}

func TestWorkflow_RunAll_SwapCycleConverges(t *testing.T) {
	w := NewWorkflow(swapInputs(), logger.NewTestLogger(t))

	require.NoError(t, w.RunAll(context.Background()))

	assert.True(t, w.Finished())
	assert.Equal(t, 2, w.Iterations())
	assert.Len(t, w.Log(), 11)
	assert.ElementsMatch(t, []models.ApplicationKey{key("A", "XA"), key("B", "XB")}, resultKeys(w))

	working := w.Working()
	require.Len(t, working.Rows, 2)
	for _, row := range working.Rows {
		assert.Equal(t, "ANO", row["NOMINOVÁN"])
		assert.Equal(t, 1, row["Pořadí"])
		assert.NotEmpty(t, row["E-mail"], "untouched columns are carried through")
	}

	entries := w.Log()
	assert.Equal(t, StepResolveCycles, entries[5].Step)
	assert.Equal(t, 2, entries[5].Removed)
	require.Len(t, entries[5].Cycles, 1)
	assert.Equal(t, OutcomeVacated, entries[5].Cycles[0].Outcome)
	assert.Equal(t, 0, entries[10].Removed)
}

func TestWorkflow_WorkingSetNeverGrows(t *testing.T) {
	w := NewWorkflow(swapInputs(), logger.NewNoOpLogger())
	require.NoError(t, w.RunAll(context.Background()))

	previous := -1
	for _, entry := range w.Log() {
		if entry.Step == StepComputeOccupancy {
			continue
		}
		assert.LessOrEqual(t, entry.RowsAfter, entry.RowsBefore)
		if previous >= 0 {
			assert.LessOrEqual(t, entry.RowsBefore, previous)
		}
		previous = entry.RowsAfter
	}
}

func TestWorkflow_RunAll_HonoursCancellation(t *testing.T) {
	w := NewWorkflow(simpleInputs(), logger.NewNoOpLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := w.RunAll(ctx)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, PhaseInit, w.State().Phase)
	assert.Empty(t, w.Log())
}

// ==========================
// Single-step Mode
// ==========================

func TestWorkflow_Step_StateTransitions(t *testing.T) {
	w := NewWorkflow(simpleInputs(), logger.NewNoOpLogger())
	assert.Equal(t, State{Phase: PhaseInit, NextStep: StepComputeOccupancy}, w.State())

	want := []State{
		{Phase: PhaseStep1Done, NextStep: StepFilterDuplicates, Iteration: 1},
		{Phase: PhaseIterating, NextStep: StepNormalizeOrdering, Iteration: 1},
		{Phase: PhaseIterating, NextStep: StepSelectByCapacity, Iteration: 1},
		{Phase: PhaseIterating, NextStep: StepUpdateNominations, Iteration: 1},
		{Phase: PhaseIterating, NextStep: StepResolveCycles, Iteration: 1},
		{Phase: PhaseFinished, Iteration: 1},
	}
	for i, state := range want {
		entry, err := w.Step()
		require.NoError(t, err)
		assert.Equal(t, Step(i+1), entry.Step)
		assert.Equal(t, state, w.State())
	}
}

func TestWorkflow_Step_FinishedWorkflow(t *testing.T) {
	w := NewWorkflow(simpleInputs(), logger.NewNoOpLogger())
	require.NoError(t, w.RunAll(context.Background()))
	before := w.State()
	logLen := len(w.Log())

	_, err := w.Step()

	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeWorkflowFinished))
	assert.Equal(t, before, w.State())
	assert.Len(t, w.Log(), logLen)
}

func TestWorkflow_Step_ResultEmptyBeforeSelection(t *testing.T) {
	w := NewWorkflow(simpleInputs(), logger.NewNoOpLogger())
	for i := 0; i < 3; i++ {
		_, err := w.Step()
		require.NoError(t, err)
	}

	result := w.Result()
	assert.Empty(t, result.Rows)
	assert.Equal(t, applicationColumns, result.Columns)
}

// ==========================
// Structural Errors
// ==========================

func TestWorkflow_Step_MissingColumnFailsThatStep(t *testing.T) {
	in := simpleInputs()
	cols := []string{"Číslo UK", "ID code", "Studying for degree", "NOMINOVÁN", "Pořadí"}
	in.Applications = models.NewRecordSet(cols, in.Applications.Rows...)
	w := NewWorkflow(in, logger.NewNoOpLogger())

	_, err := w.Step()
	require.NoError(t, err, "step 1 does not need priorities")

	_, err = w.Step()
	require.Error(t, err)

	var stepErr *StepError
	require.True(t, errors.As(err, &stepErr))
	assert.Equal(t, StepFilterDuplicates, stepErr.Step)
	stdErr, ok := apperrors.AsStandardError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrCodeSchemaColumnMissing, stdErr.Code)
	assert.Equal(t, State{Phase: PhaseStep1Done, NextStep: StepFilterDuplicates, Iteration: 1}, w.State())
	assert.Len(t, w.Log(), 1)
}

func TestWorkflow_Step_UnmappedFieldFails(t *testing.T) {
	in := simpleInputs()
	in.CapacitySchema = models.DefaultCapacitySchema().Merge(map[string]string{models.FieldInstituteCode: ""})
	w := NewWorkflow(in, logger.NewNoOpLogger())

	_, err := w.Step()

	var stepErr *StepError
	require.True(t, errors.As(err, &stepErr))
	assert.Equal(t, StepComputeOccupancy, stepErr.Step)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeSchemaColumnMissing))
	assert.Equal(t, PhaseInit, w.State().Phase)
}

func TestWorkflow_Step_MappedCounterMustExist(t *testing.T) {
	in := simpleInputs()
	in.Capacities = models.NewRecordSet([]string{"ID code", "ALL"}, in.Capacities.Rows...)
	w := NewWorkflow(in, logger.NewNoOpLogger())

	_, err := w.Step()
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeSchemaColumnMissing))

	in.CapacitySchema = models.ColumnSchema{models.FieldInstituteCode: "ID code", models.FieldAll: "ALL"}
	w = NewWorkflow(in, logger.NewNoOpLogger())
	require.NoError(t, w.RunAll(context.Background()))
	assert.Len(t, w.ResultRecords(), 2)
}

// ==========================
// Snapshots
// ==========================

func TestWorkflow_SnapshotRestoreContinuesRun(t *testing.T) {
	straight := NewWorkflow(swapInputs(), logger.NewNoOpLogger())
	require.NoError(t, straight.RunAll(context.Background()))

	for stop := 0; stop <= 11; stop++ {
		w := NewWorkflow(swapInputs(), logger.NewNoOpLogger())
		for i := 0; i < stop; i++ {
			_, err := w.Step()
			require.NoError(t, err)
		}

		data, err := MarshalSnapshot(w.Snapshot())
		require.NoError(t, err)
		snap, err := UnmarshalSnapshot(data)
		require.NoError(t, err)

		restored, err := Restore(snap, logger.NewNoOpLogger())
		require.NoError(t, err)
		assert.Equal(t, w.State(), restored.State(), "stop %d", stop)

		require.NoError(t, restored.RunAll(context.Background()))
		assert.ElementsMatch(t, resultKeys(straight), resultKeys(restored), "stop %d", stop)
		assert.Equal(t, straight.Iterations(), restored.Iterations(), "stop %d", stop)
		assert.Len(t, restored.Log(), len(straight.Log()), "stop %d", stop)
	}
}

func TestRestore_RejectsInvalidState(t *testing.T) {
	_, err := Restore(Snapshot{RunID: "r", State: State{Phase: PhaseIterating, NextStep: 9, Iteration: 1}}, nil)
	assert.Error(t, err)

	_, err = Restore(Snapshot{RunID: "r", State: State{Phase: "paused"}}, nil)
	assert.Error(t, err)
}

// ==========================
// Projection
// ==========================

func TestProjectResult(t *testing.T) {
	w := NewWorkflow(simpleInputs(), logger.NewNoOpLogger())
	require.NoError(t, w.RunAll(context.Background()))

	projected := ProjectResult(w.Result(), nil)

	assert.Equal(t, DefaultResultColumns, projected.Columns)
	require.Len(t, projected.Rows, 2)
	row := projected.Rows[0]
	assert.Equal(t, "S1", row["Číslo UK"])
	assert.Equal(t, "X1", row["ID code"])
	assert.Equal(t, "ANO", row["NOMINOVÁN"])
	assert.Equal(t, "", row["Institut"])
	assert.Equal(t, "", row["UserID"])
}
