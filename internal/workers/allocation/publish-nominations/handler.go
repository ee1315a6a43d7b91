// internal/workers/allocation/publish-nominations/handler.go
package publishnominations

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	apperrors "nomination-workers/internal/common/errors"
	"nomination-workers/internal/common/logger"
	"nomination-workers/internal/common/metrics"
	"nomination-workers/internal/common/observability"
	"nomination-workers/internal/common/validation"
	"nomination-workers/internal/models"
	"nomination-workers/internal/store"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/elastic/go-elasticsearch/v8"
)

const TaskType = "nominations.publish"

// Handler indexes the accepted applications of a finished run so the
// nomination office can search them.
type Handler struct {
	config       *Config
	outputs      OutputStore
	es           *elasticsearch.Client
	obs          *observability.Observability
	logger       logger.Logger
	errorHandler *apperrors.ErrorHandler
	now          func() time.Time
}

func NewHandler(cfg *Config, outputs OutputStore, es *elasticsearch.Client, obs *observability.Observability, log logger.Logger) (*Handler, error) {
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
		outputs:      outputs,
		es:           es,
		obs:          obs,
		logger:       log,
		errorHandler: apperrors.NewErrorHandler(log),
		now:          func() time.Time { return time.Now().UTC() },
	}, nil
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	startTime := time.Now()
	metrics.WorkerJobsActive.WithLabelValues(TaskType).Inc()
	defer metrics.WorkerJobsActive.WithLabelValues(TaskType).Dec()

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	h.logger.Info("Publishing nominations", map[string]interface{}{
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

// Execute bulk-indexes the run's result rows. Rows without a student or an
// institute cannot be addressed and are skipped.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	index := input.Index
	if index == "" {
		index = h.config.Index
	}

	result, err := h.outputs.LoadOutput(ctx, input.RunID, store.OutputResult)
	if err != nil {
		return nil, err
	}

	schema := models.DefaultApplicationSchema().Merge(h.config.ApplicationSchema).Merge(input.ApplicationSchema)
	docs, skipped := h.buildDocuments(input.RunID, result, schema)

	indexed := 0
	for start := 0; start < len(docs); start += h.config.BatchSize {
		end := start + h.config.BatchSize
		if end > len(docs) {
			end = len(docs)
		}
		if err := h.bulkIndex(ctx, index, docs[start:end]); err != nil {
			return nil, err
		}
		indexed += end - start
	}
	metrics.NominationsPublished.Add(float64(indexed))

	h.logger.Info("Nominations published", map[string]interface{}{
		"runId":   input.RunID,
		"index":   index,
		"indexed": indexed,
		"skipped": skipped,
	})
	return &Output{RunID: input.RunID, Index: index, Indexed: indexed, Skipped: skipped}, nil
}

func (h *Handler) buildDocuments(runID string, result models.RecordSet, schema models.ColumnSchema) ([]NominationDocument, int) {
	publishedAt := h.now()
	docs := make([]NominationDocument, 0, result.Len())
	skipped := 0
	for _, rec := range models.DecodeApplications(result, schema) {
		if !rec.Key().Valid() {
			skipped++
			continue
		}
		docs = append(docs, NominationDocument{
			RunID:         runID,
			StudentID:     rec.StudentID,
			InstituteCode: rec.InstituteCode,
			Degree:        rec.DegreeText,
			Priority:      rec.Priority,
			Rank:          rec.Rank,
			Nomination:    rec.Nomination,
			Row:           rec.Extra,
			PublishedAt:   publishedAt,
		})
	}
	return docs, skipped
}

func (h *Handler) bulkIndex(ctx context.Context, index string, docs []NominationDocument) error {
	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	for _, doc := range docs {
		meta := map[string]interface{}{"index": map[string]interface{}{"_id": doc.DocumentID()}}
		if err := enc.Encode(meta); err != nil {
			return apperrors.NewIndexPublishFailedError(index, err)
		}
		if err := enc.Encode(doc); err != nil {
			return apperrors.NewIndexPublishFailedError(index, err)
		}
	}

	res, err := h.es.Bulk(&body,
		h.es.Bulk.WithContext(ctx),
		h.es.Bulk.WithIndex(index),
		h.es.Bulk.WithRefresh("wait_for"),
	)
	if err != nil {
		return apperrors.NewElasticsearchConnectionFailedError(err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return apperrors.NewIndexPublishFailedError(index, fmt.Errorf("bulk request: %s", res.Status()))
	}

	var parsed bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return apperrors.NewIndexPublishFailedError(index, fmt.Errorf("decode bulk response: %w", err))
	}
	if !parsed.Errors {
		return nil
	}

	var reasons []string
	for _, item := range parsed.Items {
		for _, r := range item {
			if r.Error != nil {
				reasons = append(reasons, fmt.Sprintf("%s: %s", r.ID, r.Error.Reason))
			}
		}
	}
	return apperrors.NewIndexPublishFailedError(index,
		fmt.Errorf("%d documents rejected: %s", len(reasons), strings.Join(reasons, "; ")))
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
