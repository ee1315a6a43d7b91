package runallocation

import (
	"context"

	"nomination-workers/internal/allocation"
	"nomination-workers/internal/models"
	"nomination-workers/internal/store"
)

type Input struct {
	RunID                string            `json:"runId,omitempty"`
	CapacityDatasetID    string            `json:"capacityDatasetId"`
	ApplicationDatasetID string            `json:"applicationDatasetId"`
	CapacitySchema       map[string]string `json:"capacitySchema,omitempty"`
	ApplicationSchema    map[string]string `json:"applicationSchema,omitempty"`
}

type Output struct {
	RunID       string                `json:"runId"`
	Iterations  int                   `json:"iterations"`
	WorkingRows int                   `json:"workingRows"`
	ResultRows  int                   `json:"resultRows"`
	Log         []allocation.LogEntry `json:"allocationLog"`
}

// DatasetStore is the part of store.DatasetStore the worker uses.
type DatasetStore interface {
	LoadRecordSet(ctx context.Context, id string) (models.RecordSet, error)
	SaveRun(ctx context.Context, run store.RunRecord, outputs map[string]models.RecordSet) error
}
