package notifynominations

import (
	"context"

	"nomination-workers/internal/models"
)

type Input struct {
	RunID             string            `json:"runId"`
	ApplicationSchema map[string]string `json:"applicationSchema,omitempty"`
}

type Output struct {
	RunID          string `json:"runId"`
	NotificationID string `json:"notificationId"`
	Students       int    `json:"studentsNotified"`
	EmailsSent     int    `json:"emailsSent"`
	SMSSent        int    `json:"smsSent"`
	Skipped        int    `json:"notificationsSkipped"`
	Failed         int    `json:"notificationsFailed"`
}

// Channels
const (
	ChannelEmail = "email"
	ChannelSMS   = "sms"
)

// studentOutcome is what one student is told about a run.
type studentOutcome struct {
	StudentID string
	Email     string
	Phone     string
	Nominated []string
}

type OutputStore interface {
	LoadOutput(ctx context.Context, runID, output string) (models.RecordSet, error)
}
