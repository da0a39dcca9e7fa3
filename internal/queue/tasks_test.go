package queue

import (
	"testing"
	"time"

	"github.com/dunamismax/filezenith/internal/domain"
	"github.com/hibiken/asynq"
)

func TestProcessBatchTaskRoundTrip(t *testing.T) {
	wm := domain.DefaultWatermarkSpec()
	payload := ProcessBatchPayload{
		JobID:      "job-123",
		Kind:       domain.JobKindWatermark,
		SourceType: domain.SourceTypeS3Presigned,
		Watermark:  &wm,
		Preview:    domain.Dimensions{Width: 400, Height: 320},
		Sources: []domain.SourceRef{
			{Name: "a.png", ObjectKey: "uploads/job-123/0-a.png"},
			{Name: "b.png", ObjectKey: "uploads/job-123/1-b.png"},
		},
		RequestedAt: time.Now().UTC(),
	}

	task, err := NewProcessBatchTask(payload)
	if err != nil {
		t.Fatalf("NewProcessBatchTask returned error: %v", err)
	}
	if task.Type() != TypeProcessBatch {
		t.Fatalf("expected task type %s, got %s", TypeProcessBatch, task.Type())
	}

	parsed, err := ParseProcessBatchPayload(task)
	if err != nil {
		t.Fatalf("ParseProcessBatchPayload returned error: %v", err)
	}
	if parsed.JobID != payload.JobID {
		t.Fatalf("expected job_id %q, got %q", payload.JobID, parsed.JobID)
	}
	if len(parsed.Sources) != 2 || parsed.Sources[1].Name != "b.png" {
		t.Fatalf("unexpected sources %+v", parsed.Sources)
	}
	if parsed.Watermark == nil || parsed.Watermark.Text != wm.Text {
		t.Fatalf("expected watermark to survive, got %+v", parsed.Watermark)
	}
	if parsed.Preview != payload.Preview {
		t.Fatalf("expected preview %+v, got %+v", payload.Preview, parsed.Preview)
	}
}

func TestParseProcessBatchPayloadRejectsIncomplete(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "malformed", body: "{"},
		{name: "no job id", body: `{"sources":[{"name":"a.png"}]}`},
		{name: "no sources", body: `{"job_id":"job-1"}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseProcessBatchPayload(asynq.NewTask(TypeProcessBatch, []byte(tc.body))); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
