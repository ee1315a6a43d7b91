package publishnominations

import (
	"context"
	"time"

	"nomination-workers/internal/models"
)

type Input struct {
	RunID             string            `json:"runId"`
	Index             string            `json:"index,omitempty"`
	ApplicationSchema map[string]string `json:"applicationSchema,omitempty"`
}

type Output struct {
	RunID   string `json:"runId"`
	Index   string `json:"nominationIndex"`
	Indexed int    `json:"nominationsIndexed"`
	Skipped int    `json:"nominationsSkipped"`
}

// NominationDocument is one accepted application as stored in the search index.
type NominationDocument struct {
	RunID         string     `json:"runId"`
	StudentID     string     `json:"studentId"`
	InstituteCode string     `json:"instituteCode"`
	Degree        string     `json:"degree,omitempty"`
	Priority      int        `json:"priority"`
	Rank          int        `json:"rank"`
	Nomination    string     `json:"nomination"`
	Row           models.Row `json:"row"`
	PublishedAt   time.Time  `json:"publishedAt"`
}

// DocumentID keeps republishing a run idempotent.
func (d NominationDocument) DocumentID() string {
	return d.RunID + ":" + d.StudentID + ":" + d.InstituteCode
}

type OutputStore interface {
	LoadOutput(ctx context.Context, runID, output string) (models.RecordSet, error)
}

type bulkResponse struct {
	Errors bool                          `json:"errors"`
	Items  []map[string]bulkItemResponse `json:"items"`
}

type bulkItemResponse struct {
	ID     string `json:"_id"`
	Status int    `json:"status"`
	Error  *struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error,omitempty"`
}
