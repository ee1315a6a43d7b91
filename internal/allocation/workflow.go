// Package allocation implements the seat allocation pipeline: occupancy, the
// duplicate filter, rank normalization, capacity selection, nomination flags
// and cycle resolution, plus the workflow that iterates steps 2-6 until the
// working set stops shrinking.
package allocation

import (
	"context"
	"fmt"
	"time"

	apperrors "nomination-workers/internal/common/errors"
	"nomination-workers/internal/common/logger"
	"nomination-workers/internal/models"
)

// Phase is the coarse workflow state.
type Phase string

const (
	PhaseInit      Phase = "init"
	PhaseStep1Done Phase = "step1-done"
	PhaseIterating Phase = "iterating"
	PhaseFinished  Phase = "finished"
)

// Step numbers the six pipeline steps.
type Step int

const (
	StepComputeOccupancy Step = iota + 1
	StepFilterDuplicates
	StepNormalizeOrdering
	StepSelectByCapacity
	StepUpdateNominations
	StepResolveCycles
)

var stepNames = map[Step]string{
	StepComputeOccupancy:  "compute-occupancy",
	StepFilterDuplicates:  "filter-duplicates",
	StepNormalizeOrdering: "normalize-ordering",
	StepSelectByCapacity:  "select-by-capacity",
	StepUpdateNominations: "update-nominations",
	StepResolveCycles:     "resolve-cycles",
}

func (s Step) String() string {
	if name, ok := stepNames[s]; ok {
		return name
	}
	return fmt.Sprintf("step-%d", int(s))
}

// State is the workflow position. NextStep is 0 once finished.
type State struct {
	Phase     Phase `json:"phase"`
	NextStep  Step  `json:"nextStep"`
	Iteration int   `json:"iteration"`
}

// LogEntry is the advisory record of one executed step.
type LogEntry struct {
	Iteration  int             `json:"iteration"`
	Step       Step            `json:"step"`
	Name       string          `json:"name"`
	Message    string          `json:"message"`
	RowsBefore int             `json:"rowsBefore"`
	RowsAfter  int             `json:"rowsAfter"`
	Removed    int             `json:"removed"`
	Selected   int             `json:"selected,omitempty"`
	Cycles     []ResolvedCycle `json:"cycles,omitempty"`
	At         time.Time       `json:"at"`
}

// CycleOutcomes lists the outcome of every cycle resolved by the step.
func (e LogEntry) CycleOutcomes() []string {
	out := make([]string, 0, len(e.Cycles))
	for _, c := range e.Cycles {
		out = append(out, c.Outcome)
	}
	return out
}

// StepError reports a structural failure of one step. The workflow state is
// unchanged when it is returned.
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d (%s): %v", int(e.Step), e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Inputs are the tables and schemas a workflow starts from. Nil schemas fall
// back to the defaults.
type Inputs struct {
	RunID             string
	Capacities        models.RecordSet
	Applications      models.RecordSet
	CapacitySchema    models.ColumnSchema
	ApplicationSchema models.ColumnSchema
}

// Workflow owns the working set between steps. It is not safe for concurrent use.
type Workflow struct {
	runID     string
	capSchema models.ColumnSchema
	appSchema models.ColumnSchema

	capInput models.RecordSet
	appInput models.RecordSet

	capacities []models.InstituteCapacityRecord
	counters   CounterColumns
	quotas     Quotas
	working    []models.ApplicationRecord
	result     []models.ApplicationRecord

	state  State
	log    []LogEntry
	logger logger.Logger
	now    func() time.Time
}

func NewWorkflow(in Inputs, log logger.Logger) *Workflow {
	capSchema := in.CapacitySchema
	if capSchema == nil {
		capSchema = models.DefaultCapacitySchema()
	}
	appSchema := in.ApplicationSchema
	if appSchema == nil {
		appSchema = models.DefaultApplicationSchema()
	}
	if log == nil {
		log = logger.NewNoOpLogger()
	}

	w := &Workflow{
		runID:     in.RunID,
		capSchema: capSchema,
		appSchema: appSchema,
		capInput:  in.Capacities.Clone(),
		appInput:  in.Applications.Clone(),
		state:     State{Phase: PhaseInit, NextStep: StepComputeOccupancy},
		logger:    log.WithFields(map[string]interface{}{"runId": in.RunID}),
		now:       func() time.Time { return time.Now().UTC() },
	}
	w.capacities = models.DecodeCapacities(w.capInput, capSchema)
	w.working = models.DecodeApplications(w.appInput, appSchema)
	w.counters = CountersFromSchema(capSchema)
	return w
}

func (w *Workflow) RunID() string { return w.runID }

func (w *Workflow) State() State { return w.state }

func (w *Workflow) Finished() bool { return w.state.Phase == PhaseFinished }

// Iterations is the number of started step 2-6 passes.
func (w *Workflow) Iterations() int { return w.state.Iteration }

// Log returns a copy of the step log.
func (w *Workflow) Log() []LogEntry {
	out := make([]LogEntry, len(w.log))
	copy(out, w.log)
	return out
}

// Capacities returns the capacity table, adjusted once step 1 has run.
func (w *Workflow) Capacities() models.RecordSet {
	if w.state.Phase == PhaseInit {
		return w.capInput.Clone()
	}
	return models.EncodeCapacities(w.capacities, w.capInput.Columns, w.capSchema)
}

// Working returns the current working set.
func (w *Workflow) Working() models.RecordSet {
	if w.state.Phase == PhaseInit || w.state.Phase == PhaseStep1Done {
		return w.appInput.Clone()
	}
	return models.EncodeApplications(w.working, w.appInput.Columns, w.appSchema)
}

// Result returns the latest selection, empty before step 4 has run.
func (w *Workflow) Result() models.RecordSet {
	return models.EncodeApplications(w.result, w.appInput.Columns, w.appSchema)
}

// ResultRecords returns the typed result records.
func (w *Workflow) ResultRecords() []models.ApplicationRecord {
	out := make([]models.ApplicationRecord, len(w.result))
	copy(out, w.result)
	return out
}

// Step executes exactly one step. A finished workflow returns
// WORKFLOW_FINISHED and is left as is.
func (w *Workflow) Step() (LogEntry, error) {
	if w.Finished() {
		return LogEntry{}, apperrors.NewWorkflowFinishedError(w.runID)
	}

	step := w.state.NextStep
	var (
		entry LogEntry
		err   error
	)
	switch step {
	case StepComputeOccupancy:
		entry, err = w.computeOccupancy()
	case StepFilterDuplicates:
		entry, err = w.filterDuplicates()
	case StepNormalizeOrdering:
		entry, err = w.normalizeOrdering()
	case StepSelectByCapacity:
		entry, err = w.selectByCapacity()
	case StepUpdateNominations:
		entry, err = w.updateNominations()
	case StepResolveCycles:
		entry, err = w.resolveCycles()
	default:
		err = fmt.Errorf("unknown step %d", int(step))
	}
	if err != nil {
		w.logger.Error("Allocation step failed", map[string]interface{}{
			"step":      int(step),
			"name":      step.String(),
			"iteration": w.state.Iteration,
			"error":     err.Error(),
		})
		return LogEntry{}, &StepError{Step: step, Err: err}
	}

	entry.Step = step
	entry.Name = step.String()
	entry.At = w.now()
	w.log = append(w.log, entry)
	w.advance(step, entry)

	w.logger.Info("Allocation step completed", map[string]interface{}{
		"step":       int(step),
		"name":       entry.Name,
		"iteration":  entry.Iteration,
		"rowsBefore": entry.RowsBefore,
		"rowsAfter":  entry.RowsAfter,
		"removed":    entry.Removed,
		"phase":      string(w.state.Phase),
	})
	return entry, nil
}

// RunAll executes steps until the workflow finishes. Cancellation is checked
// between steps, never inside one.
func (w *Workflow) RunAll(ctx context.Context) error {
	for !w.Finished() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := w.Step(); err != nil {
			return err
		}
	}
	return nil
}

func (w *Workflow) advance(step Step, entry LogEntry) {
	switch step {
	case StepComputeOccupancy:
		w.state = State{Phase: PhaseStep1Done, NextStep: StepFilterDuplicates, Iteration: 1}
	case StepResolveCycles:
		if entry.Removed > 0 {
			w.state = State{Phase: PhaseIterating, NextStep: StepFilterDuplicates, Iteration: w.state.Iteration + 1}
			return
		}
		w.state = State{Phase: PhaseFinished, Iteration: w.state.Iteration}
	default:
		w.state = State{Phase: PhaseIterating, NextStep: step + 1, Iteration: w.state.Iteration}
	}
}

func (w *Workflow) requireCapacity(fields ...string) error {
	for _, field := range fields {
		if _, err := w.capSchema.Resolve(models.TableCapacities, w.capInput, field); err != nil {
			return err
		}
	}
	return nil
}

func (w *Workflow) requireApplication(fields ...string) error {
	for _, field := range fields {
		if _, err := w.appSchema.Resolve(models.TableApplications, w.appInput, field); err != nil {
			return err
		}
	}
	return nil
}

func (w *Workflow) computeOccupancy() (LogEntry, error) {
	if err := w.requireCapacity(models.FieldInstituteCode); err != nil {
		return LogEntry{}, err
	}
	for _, field := range []string{models.FieldBC, models.FieldMGR, models.FieldPHD, models.FieldAll} {
		if _, mapped := w.capSchema.Label(field); mapped {
			if err := w.requireCapacity(field); err != nil {
				return LogEntry{}, err
			}
		}
	}
	if err := w.requireApplication(models.FieldInstituteCode, models.FieldDegree, models.FieldNomination); err != nil {
		return LogEntry{}, err
	}

	accepted := 0
	for _, app := range w.working {
		if app.Accepted() && app.InstituteCode != "" {
			accepted++
		}
	}

	w.capacities = ComputeOccupancy(w.capacities, w.working, w.counters)
	w.quotas = QuotasFromCapacities(w.capacities, w.counters)

	return LogEntry{
		Message:    fmt.Sprintf("Step 1: occupancy of %d institutes recomputed from %d accepted applications", len(w.capacities), accepted),
		RowsBefore: len(w.capacities),
		RowsAfter:  len(w.capacities),
	}, nil
}

func (w *Workflow) filterDuplicates() (LogEntry, error) {
	if err := w.requireApplication(models.FieldStudentID, models.FieldNomination, models.FieldPriority); err != nil {
		return LogEntry{}, err
	}
	before := len(w.working)
	w.working = FilterDuplicates(w.working)
	removed := before - len(w.working)
	return LogEntry{
		Iteration:  w.state.Iteration,
		Message:    fmt.Sprintf("Step 2 (iteration %d): %d lower-priority duplicates removed", w.state.Iteration, removed),
		RowsBefore: before,
		RowsAfter:  len(w.working),
		Removed:    removed,
	}, nil
}

func (w *Workflow) normalizeOrdering() (LogEntry, error) {
	if err := w.requireApplication(models.FieldInstituteCode, models.FieldRank); err != nil {
		return LogEntry{}, err
	}
	w.working = NormalizeOrdering(w.working)
	return LogEntry{
		Iteration:  w.state.Iteration,
		Message:    fmt.Sprintf("Step 3 (iteration %d): ranks renumbered for %d applications", w.state.Iteration, len(w.working)),
		RowsBefore: len(w.working),
		RowsAfter:  len(w.working),
	}, nil
}

func (w *Workflow) selectByCapacity() (LogEntry, error) {
	if err := w.requireCapacity(models.FieldInstituteCode); err != nil {
		return LogEntry{}, err
	}
	if err := w.requireApplication(models.FieldInstituteCode, models.FieldRank); err != nil {
		return LogEntry{}, err
	}
	w.result = SelectByCapacity(w.working, w.quotas)
	return LogEntry{
		Iteration:  w.state.Iteration,
		Message:    fmt.Sprintf("Step 4 (iteration %d): %d of %d applications selected", w.state.Iteration, len(w.result), len(w.working)),
		RowsBefore: len(w.working),
		RowsAfter:  len(w.working),
		Selected:   len(w.result),
	}, nil
}

func (w *Workflow) updateNominations() (LogEntry, error) {
	if err := w.requireApplication(models.FieldNomination, models.FieldStudentID, models.FieldInstituteCode); err != nil {
		return LogEntry{}, err
	}
	w.working, w.result = UpdateNominations(w.working, w.result)
	accepted := 0
	for _, rec := range w.working {
		if rec.Nomination == models.NominationAccepted {
			accepted++
		}
	}
	return LogEntry{
		Iteration:  w.state.Iteration,
		Message:    fmt.Sprintf("Step 5 (iteration %d): %d applications nominated, %d not nominated", w.state.Iteration, accepted, len(w.working)-accepted),
		RowsBefore: len(w.working),
		RowsAfter:  len(w.working),
		Selected:   accepted,
	}, nil
}

func (w *Workflow) resolveCycles() (LogEntry, error) {
	if err := w.requireApplication(models.FieldStudentID, models.FieldNomination, models.FieldInstituteCode, models.FieldRank); err != nil {
		return LogEntry{}, err
	}
	before := len(w.working)
	working, report := ResolveCycles(w.working, w.quotas)
	w.working = working

	if len(report.Cycles) > 0 {
		w.logger.Debug("Duplicate cycles resolved", map[string]interface{}{
			"iteration":  w.state.Iteration,
			"cycles":     report.Cycles,
			"conflicted": len(report.Conflicted),
		})
	}

	return LogEntry{
		Iteration: w.state.Iteration,
		Message: fmt.Sprintf("Step 6 (iteration %d): %d rows removed (%d cycles, %d orphaned waiting applications)",
			w.state.Iteration, report.RowsRemoved(), len(report.Cycles), report.OrphanRowsRemoved),
		RowsBefore: before,
		RowsAfter:  len(w.working),
		Removed:    report.RowsRemoved(),
		Cycles:     report.Cycles,
	}, nil
}
