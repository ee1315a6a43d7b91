package advanceallocation

import (
	"context"
	"time"

	"nomination-workers/internal/allocation"
	"nomination-workers/internal/models"
	"nomination-workers/internal/store"
)

type Input struct {
	RunID                string            `json:"runId"`
	CapacityDatasetID    string            `json:"capacityDatasetId,omitempty"`
	ApplicationDatasetID string            `json:"applicationDatasetId,omitempty"`
	CapacitySchema       map[string]string `json:"capacitySchema,omitempty"`
	ApplicationSchema    map[string]string `json:"applicationSchema,omitempty"`
	// Restart drops any stored session and starts over from the datasets.
	Restart bool `json:"restart,omitempty"`
}

type Output struct {
	RunID     string `json:"runId"`
	Step      int    `json:"step"`
	StepName  string `json:"stepName"`
	Message   string `json:"stepMessage"`
	Removed   int    `json:"rowsRemoved"`
	Phase     string `json:"phase"`
	NextStep  int    `json:"nextStep,omitempty"`
	Iteration int    `json:"iteration"`
	Finished  bool   `json:"finished"`
}

type DatasetStore interface {
	LoadRecordSet(ctx context.Context, id string) (models.RecordSet, error)
	SaveRun(ctx context.Context, run store.RunRecord, outputs map[string]models.RecordSet) error
}

type SessionStore interface {
	Save(ctx context.Context, snap allocation.Snapshot, ttl time.Duration) error
	Load(ctx context.Context, runID string) (allocation.Snapshot, error)
	Delete(ctx context.Context, runID string) error
}
