// internal/workers/allocation/notify-nominations/handler.go
package notifynominations

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	awsclient "nomination-workers/internal/common/aws"
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

const TaskType = "nominations.notify"

// Handler tells every student of a finished run where they were nominated,
// by email through SES and by SMS through SNS.
type Handler struct {
	config       *Config
	outputs      OutputStore
	email        awsclient.EmailSender
	sms          awsclient.SMSSender
	obs          *observability.Observability
	logger       logger.Logger
	errorHandler *apperrors.ErrorHandler
}

type Dependencies struct {
	Outputs       OutputStore
	Email         awsclient.EmailSender
	SMS           awsclient.SMSSender
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
	if cfg.EmailEnabled && deps.Email == nil {
		return nil, fmt.Errorf("email is enabled but no email sender is configured")
	}
	if cfg.SMSEnabled && deps.SMS == nil {
		return nil, fmt.Errorf("sms is enabled but no sms sender is configured")
	}
	log := deps.Logger
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})

	return &Handler{
		config:       cfg,
		outputs:      deps.Outputs,
		email:        deps.Email,
		sms:          deps.SMS,
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

	h.logger.Info("Notifying students", map[string]interface{}{
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

// Execute notifies each student of the run's final working set once. A
// failed message is counted and logged; the job only fails when every
// attempted message failed.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	working, err := h.outputs.LoadOutput(ctx, input.RunID, store.OutputWorking)
	if err != nil {
		return nil, err
	}

	schema := models.DefaultApplicationSchema().Merge(h.config.ApplicationSchema).Merge(input.ApplicationSchema)
	students := groupByStudent(models.DecodeApplications(working, schema))

	output := &Output{
		RunID:          input.RunID,
		NotificationID: uuid.New().String(),
		Students:       len(students),
	}
	var lastErr error
	for _, s := range students {
		message := composeMessage(s)
		attempted := false

		if h.config.EmailEnabled && s.Email != "" {
			attempted = true
			_, err := awsclient.SendEmail(ctx, h.email, awsclient.Email{
				From:    h.config.FromEmail,
				To:      s.Email,
				Subject: h.config.Subject,
				Text:    message,
			})
			if err != nil {
				lastErr = err
				output.Failed++
				h.logger.Error("Email send failed", map[string]interface{}{"studentId": s.StudentID, "error": err.Error()})
			} else {
				output.EmailsSent++
				metrics.NotificationsSent.WithLabelValues(ChannelEmail).Inc()
			}
		}

		if h.config.SMSEnabled && s.Phone != "" {
			attempted = true
			_, err := awsclient.SendSMS(ctx, h.sms, s.Phone, message, h.config.SenderID)
			if err != nil {
				lastErr = err
				output.Failed++
				h.logger.Error("SMS send failed", map[string]interface{}{"studentId": s.StudentID, "error": err.Error()})
			} else {
				output.SMSSent++
				metrics.NotificationsSent.WithLabelValues(ChannelSMS).Inc()
			}
		}

		if !attempted {
			output.Skipped++
		}
	}

	if output.Failed > 0 && output.EmailsSent+output.SMSSent == 0 {
		return nil, apperrors.NewNotificationSendFailedError("nomination", lastErr)
	}

	h.logger.Info("Students notified", map[string]interface{}{
		"runId":      input.RunID,
		"students":   output.Students,
		"emailsSent": output.EmailsSent,
		"smsSent":    output.SMSSent,
		"skipped":    output.Skipped,
		"failed":     output.Failed,
	})
	return output, nil
}

// groupByStudent collects the accepted institutes of each student in row order.
func groupByStudent(records []models.ApplicationRecord) []*studentOutcome {
	var out []*studentOutcome
	byID := make(map[string]*studentOutcome)
	for _, rec := range records {
		if rec.StudentID == "" {
			continue
		}
		s, ok := byID[rec.StudentID]
		if !ok {
			s = &studentOutcome{StudentID: rec.StudentID}
			byID[rec.StudentID] = s
			out = append(out, s)
		}
		if s.Email == "" {
			s.Email = strings.TrimSpace(rec.Email)
		}
		if s.Phone == "" {
			s.Phone = strings.TrimSpace(rec.Phone)
		}
		if rec.Accepted() && rec.InstituteCode != "" {
			s.Nominated = append(s.Nominated, rec.InstituteCode)
		}
	}
	return out
}

func composeMessage(s *studentOutcome) string {
	if len(s.Nominated) == 0 {
		return fmt.Sprintf("Student %s: you have not been nominated for any of your exchange applications.", s.StudentID)
	}
	return fmt.Sprintf("Student %s: you have been nominated for %s.", s.StudentID, strings.Join(s.Nominated, ", "))
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
