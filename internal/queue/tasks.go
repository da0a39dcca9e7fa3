package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dunamismax/filezenith/internal/domain"
	"github.com/hibiken/asynq"
)

const TypeProcessBatch = "filezenith:process_batch"

// ProcessBatchPayload carries everything the worker needs to run a job
// without reading it back from the job store.
type ProcessBatchPayload struct {
	JobID       string                `json:"job_id"`
	Kind        string                `json:"kind"`
	SourceType  string                `json:"source_type"`
	Format      string                `json:"format,omitempty"`
	Watermark   *domain.WatermarkSpec `json:"watermark,omitempty"`
	Preview     domain.Dimensions     `json:"preview"`
	Sources     []domain.SourceRef    `json:"sources"`
	WebhookURL  string                `json:"webhook_url,omitempty"`
	RequestedAt time.Time             `json:"requested_at"`
}

func NewProcessBatchTask(payload ProcessBatchPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal process payload: %w", err)
	}
	return asynq.NewTask(TypeProcessBatch, body), nil
}

func ParseProcessBatchPayload(task *asynq.Task) (ProcessBatchPayload, error) {
	var payload ProcessBatchPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return ProcessBatchPayload{}, fmt.Errorf("unmarshal process payload: %w", err)
	}
	if payload.JobID == "" {
		return ProcessBatchPayload{}, fmt.Errorf("process payload has no job_id")
	}
	if len(payload.Sources) == 0 {
		return ProcessBatchPayload{}, fmt.Errorf("process payload job_id=%s has no sources", payload.JobID)
	}
	return payload, nil
}
