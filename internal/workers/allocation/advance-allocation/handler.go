// internal/workers/allocation/advance-allocation/handler.go
package advanceallocation

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
)

const TaskType = "allocation.advance"

// Handler executes a single allocation step per job. The workflow between
// jobs lives in the session store under its run id.
type Handler struct {
	config       *Config
	store        DatasetStore
	sessions     SessionStore
	obs          *observability.Observability
	logger       logger.Logger
	errorHandler *apperrors.ErrorHandler
}

type Dependencies struct {
	Datasets      DatasetStore
	Sessions      SessionStore
	Observability *observability.Observability
	Logger        logger.Logger
}

func NewHandler(cfg *Config, deps Dependencies) (*Handler, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration for %s: %w", ConfigKey, err)
	}
	log := deps.Logger
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})

	return &Handler{
		config:       cfg,
		store:        deps.Datasets,
		sessions:     deps.Sessions,
		obs:          deps.Observability,
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

	h.logger.Info("Processing allocation step", map[string]interface{}{
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

// Execute runs the next step of the run's workflow, starting a new one from
// the datasets when no session exists. A failed step leaves the stored
// session untouched. When the last step finishes the outputs are saved like a
// full run and the finished session is kept, so further jobs report
// WORKFLOW_FINISHED.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	log := h.logger.WithFields(map[string]interface{}{"runId": input.RunID})

	if input.Restart {
		if err := h.sessions.Delete(ctx, input.RunID); err != nil {
			return nil, err
		}
		log.Info("Allocation session discarded", nil)
	}

	w, err := h.loadOrStart(ctx, input, log)
	if err != nil {
		return nil, err
	}

	entry, err := w.Step()
	if err != nil {
		return nil, err
	}
	metrics.RecordStep(metrics.StepOutcome{
		Step:     int(entry.Step),
		Removed:  entry.Removed,
		Outcomes: entry.CycleOutcomes(),
	})

	if w.Finished() {
		metrics.RecordRunFinished(w.Iterations())
		run := store.RunRecord{
			ID:                 input.RunID,
			CapacityDataset:    input.CapacityDatasetID,
			ApplicationDataset: input.ApplicationDatasetID,
			Iterations:         w.Iterations(),
			Finished:           true,
			Log:                w.Log(),
		}
		if err := h.store.SaveRun(ctx, run, store.Outputs(w, h.config.ResultProjection)); err != nil {
			return nil, err
		}
	}

	if err := h.sessions.Save(ctx, w.Snapshot(), h.config.SessionTTL); err != nil {
		return nil, err
	}

	state := w.State()
	return &Output{
		RunID:     input.RunID,
		Step:      int(entry.Step),
		StepName:  entry.Name,
		Message:   entry.Message,
		Removed:   entry.Removed,
		Phase:     string(state.Phase),
		NextStep:  int(state.NextStep),
		Iteration: state.Iteration,
		Finished:  w.Finished(),
	}, nil
}

func (h *Handler) loadOrStart(ctx context.Context, input *Input, log logger.Logger) (*allocation.Workflow, error) {
	snap, err := h.sessions.Load(ctx, input.RunID)
	if err == nil {
		w, restoreErr := allocation.Restore(snap, log)
		if restoreErr != nil {
			return nil, apperrors.NewSessionStoreFailedError("restore", restoreErr)
		}
		return w, nil
	}
	if !apperrors.HasCode(err, apperrors.ErrCodeSessionNotFound) {
		return nil, err
	}
	if input.CapacityDatasetID == "" || input.ApplicationDatasetID == "" {
		return nil, err
	}

	capacities, err := h.store.LoadRecordSet(ctx, input.CapacityDatasetID)
	if err != nil {
		return nil, err
	}
	applications, err := h.store.LoadRecordSet(ctx, input.ApplicationDatasetID)
	if err != nil {
		return nil, err
	}

	log.Info("Starting allocation session", map[string]interface{}{
		"capacityDatasetId":    input.CapacityDatasetID,
		"applicationDatasetId": input.ApplicationDatasetID,
	})
	return allocation.NewWorkflow(allocation.Inputs{
		RunID:             input.RunID,
		Capacities:        capacities,
		Applications:      applications,
		CapacitySchema:    models.DefaultCapacitySchema().Merge(h.config.CapacitySchema).Merge(input.CapacitySchema),
		ApplicationSchema: models.DefaultApplicationSchema().Merge(h.config.ApplicationSchema).Merge(input.ApplicationSchema),
	}, log), nil
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
