// internal/workers/allocation/run-allocation/handler.go
package runallocation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"nomination-workers/internal/allocation"
	apperrors "nomination-workers/internal/common/errors"
	"nomination-workers/internal/common/logger"
	"nomination-workers/internal/common/metrics"
	"nomination-workers/internal/common/observability"
	"nomination-workers/internal/common/validation"
	"nomination-workers/internal/models"
	"nomination-workers/internal/store"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/google/uuid"
)

const TaskType = "allocation.run"

// Handler runs the whole allocation pipeline for two stored datasets and
// persists every output of the run.
type Handler struct {
	config       *Config
	store        DatasetStore
	obs          *observability.Observability
	logger       logger.Logger
	errorHandler *apperrors.ErrorHandler
}

func NewHandler(cfg *Config, datasets DatasetStore, obs *observability.Observability, log logger.Logger) (*Handler, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration for %s: %w", ConfigKey, err)
	}
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})

	return &Handler{
		config:       cfg,
		store:        datasets,
		obs:          obs,
		logger:       log,
		errorHandler: apperrors.NewErrorHandler(log),
	}, nil
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	startTime := time.Now()
	metrics.WorkerJobsActive.WithLabelValues(TaskType).Inc()
	defer metrics.WorkerJobsActive.WithLabelValues(TaskType).Dec()

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	h.logger.Info("Processing allocation run", map[string]interface{}{
		"jobKey":             job.Key,
		"processInstanceKey": job.ProcessInstanceKey,
	})

	input, err := h.parseInput(job)
	if err != nil {
		h.failJob(ctx, client, job, err, startTime)
		return
	}

	output, err := h.Execute(ctx, input)
	if err != nil {
		h.failJob(ctx, client, job, err, startTime)
		return
	}

	h.completeJob(ctx, client, job, output)
	metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
	metrics.WorkerJobDuration.WithLabelValues(TaskType).Observe(time.Since(startTime).Seconds())
	h.obs.RecordJob(ctx, TaskType, "completed", time.Since(startTime))
}

// Execute loads both datasets, runs every step until the working set stops
// changing and saves the outputs under the run id.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	runID := input.RunID
	if runID == "" {
		runID = uuid.New().String()
	}
	log := h.logger.WithFields(map[string]interface{}{"runId": runID})

	capacities, err := h.store.LoadRecordSet(ctx, input.CapacityDatasetID)
	if err != nil {
		return nil, err
	}
	applications, err := h.store.LoadRecordSet(ctx, input.ApplicationDatasetID)
	if err != nil {
		return nil, err
	}

	w := allocation.NewWorkflow(allocation.Inputs{
		RunID:             runID,
		Capacities:        capacities,
		Applications:      applications,
		CapacitySchema:    models.DefaultCapacitySchema().Merge(h.config.CapacitySchema).Merge(input.CapacitySchema),
		ApplicationSchema: models.DefaultApplicationSchema().Merge(h.config.ApplicationSchema).Merge(input.ApplicationSchema),
	}, log)

	if err := w.RunAll(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, apperrors.NewTimeoutError("allocation", err)
		}
		return nil, err
	}

	for _, entry := range w.Log() {
		metrics.RecordStep(metrics.StepOutcome{
			Step:     int(entry.Step),
			Removed:  entry.Removed,
			Outcomes: entry.CycleOutcomes(),
		})
	}
	metrics.RecordRunFinished(w.Iterations())

	run := store.RunRecord{
		ID:                 runID,
		CapacityDataset:    input.CapacityDatasetID,
		ApplicationDataset: input.ApplicationDatasetID,
		Iterations:         w.Iterations(),
		Finished:           true,
		Log:                w.Log(),
	}
	if err := h.store.SaveRun(ctx, run, store.Outputs(w, h.config.ResultProjection)); err != nil {
		return nil, err
	}

	output := &Output{
		RunID:       runID,
		Iterations:  w.Iterations(),
		WorkingRows: w.Working().Len(),
		ResultRows:  w.Result().Len(),
		Log:         w.Log(),
	}
	log.Info("Allocation run finished", map[string]interface{}{
		"iterations":  output.Iterations,
		"workingRows": output.WorkingRows,
		"resultRows":  output.ResultRows,
	})
	return output, nil
}

func (h *Handler) parseInput(job entities.Job) (*Input, error) {
	variables, err := job.GetVariablesAsMap()
	if err != nil {
		return nil, apperrors.NewInputValidationFailedError(fmt.Sprintf("parse variables: %v", err))
	}

	result := validation.ValidateInput(variables, GetInputSchema())
	if !result.Valid {
		return nil, apperrors.NewInputValidationFailedError(strings.Join(result.GetErrorMessages(), "; "))
	}

	var input Input
	if err := json.Unmarshal([]byte(job.Variables), &input); err != nil {
		return nil, apperrors.NewInputValidationFailedError(fmt.Sprintf("decode variables: %v", err))
	}
	return &input, nil
}

func (h *Handler) completeJob(ctx context.Context, client worker.JobClient, job entities.Job, output *Output) {
	cmd, err := client.NewCompleteJobCommand().
		JobKey(job.Key).
		VariablesFromObject(output)
	if err != nil {
		h.logger.Error("Failed to create complete job command", map[string]interface{}{
			"jobKey": job.Key,
			"error":  err.Error(),
		})
		return
	}
	if _, err := cmd.Send(ctx); err != nil {
		h.logger.Error("Failed to complete job", map[string]interface{}{
			"jobKey": job.Key,
			"error":  err.Error(),
		})
	}
}

func (h *Handler) failJob(ctx context.Context, client worker.JobClient, job entities.Job, err error, startTime time.Time) {
	stdErr := apperrors.Normalize(err)
	metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(stdErr.Code)).Inc()
	h.obs.RecordJob(ctx, TaskType, "failed", time.Since(startTime))
	h.errorHandler.HandleJobError(ctx, client, job, err)
}
