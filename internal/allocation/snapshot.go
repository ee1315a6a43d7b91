package allocation

import (
	"encoding/json"
	"fmt"
	"time"

	"nomination-workers/internal/common/logger"
	"nomination-workers/internal/models"
)

// Snapshot is the serializable form of a Workflow, kept in the session store
// between step-mode jobs.
type Snapshot struct {
	RunID             string              `json:"runId"`
	State             State               `json:"state"`
	CapacitySchema    models.ColumnSchema `json:"capacitySchema"`
	ApplicationSchema models.ColumnSchema `json:"applicationSchema"`
	Capacities        models.RecordSet    `json:"capacities"`
	Working           models.RecordSet    `json:"working"`
	Result            models.RecordSet    `json:"result"`
	Log               []LogEntry          `json:"log"`
	SavedAt           time.Time           `json:"savedAt"`
}

func (w *Workflow) Snapshot() Snapshot {
	return Snapshot{
		RunID:             w.runID,
		State:             w.state,
		CapacitySchema:    w.capSchema.Merge(nil),
		ApplicationSchema: w.appSchema.Merge(nil),
		Capacities:        w.Capacities(),
		Working:           w.Working(),
		Result:            w.Result(),
		Log:               w.Log(),
		SavedAt:           w.now(),
	}
}

// Restore rebuilds a workflow from a snapshot.
func Restore(s Snapshot, log logger.Logger) (*Workflow, error) {
	if err := s.State.validate(); err != nil {
		return nil, fmt.Errorf("restore run %s: %w", s.RunID, err)
	}

	w := NewWorkflow(Inputs{
		RunID:             s.RunID,
		Capacities:        s.Capacities,
		Applications:      s.Working,
		CapacitySchema:    s.CapacitySchema,
		ApplicationSchema: s.ApplicationSchema,
	}, log)

	w.state = s.State
	w.log = append([]LogEntry(nil), s.Log...)
	w.result = models.DecodeApplications(s.Result, w.appSchema)
	if s.State.Phase != PhaseInit {
		w.quotas = QuotasFromCapacities(w.capacities, w.counters)
	}
	return w, nil
}

// MarshalSnapshot and UnmarshalSnapshot fix the JSON encoding used by the
// session store and the offline runner.
func MarshalSnapshot(s Snapshot) ([]byte, error) {
	return json.Marshal(s)
}

func UnmarshalSnapshot(data []byte) (Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return s, nil
}

func (s State) validate() error {
	switch s.Phase {
	case PhaseInit:
		if s.NextStep != StepComputeOccupancy {
			return fmt.Errorf("phase %s expects step 1, got %d", s.Phase, s.NextStep)
		}
	case PhaseStep1Done, PhaseIterating:
		if s.NextStep < StepFilterDuplicates || s.NextStep > StepResolveCycles {
			return fmt.Errorf("phase %s expects steps 2-6, got %d", s.Phase, s.NextStep)
		}
		if s.Iteration < 1 {
			return fmt.Errorf("phase %s expects iteration >= 1, got %d", s.Phase, s.Iteration)
		}
	case PhaseFinished:
	default:
		return fmt.Errorf("unknown phase %q", s.Phase)
	}
	return nil
}
