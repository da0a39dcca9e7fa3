package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dunamismax/filezenith/internal/domain"
)

func TestMemoryJobStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryJobStore()
	now := time.Now().UTC()

	job := domain.Job{
		ID:         "job-1",
		Kind:       domain.JobKindConvert,
		Status:     domain.JobStatusCreated,
		SourceType: domain.SourceTypeLocalFile,
		Format:     "PNG",
		Sources:    []domain.SourceRef{{Name: "a.jpg", ObjectKey: "/tmp/a.jpg"}},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.Create(ctx, job); err != nil {
		t.Fatalf("create: %v", err)
	}

	queued, err := s.UpdateStatus(ctx, "job-1", domain.JobStatusQueued)
	if err != nil {
		t.Fatalf("update status: %v", err)
	}
	if queued.Status != domain.JobStatusQueued {
		t.Fatalf("expected queued, got %s", queued.Status)
	}

	done, err := s.Complete(ctx, "job-1", []domain.JobOutput{{Name: "a.png", ObjectKey: "outputs/job-1/a.png", MimeType: "image/png", Bytes: 10}})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Status != domain.JobStatusSucceeded || len(done.Outputs) != 1 {
		t.Fatalf("unexpected completed job %+v", done)
	}

	got, ok, err := s.Get(ctx, "job-1")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	got.Sources[0].Name = "mutated"
	again, _, _ := s.Get(ctx, "job-1")
	if again.Sources[0].Name != "a.jpg" {
		t.Fatal("expected stored job to be isolated from caller mutation")
	}
}

func TestMemoryJobStoreFailAndMissing(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryJobStore()
	if err := s.Create(ctx, domain.Job{ID: "job-2", Status: domain.JobStatusProcessing}); err != nil {
		t.Fatalf("create: %v", err)
	}

	failed, err := s.Fail(ctx, "job-2", "decode image: bad header")
	if err != nil {
		t.Fatalf("fail: %v", err)
	}
	if failed.Status != domain.JobStatusFailed || failed.Error == "" {
		t.Fatalf("unexpected failed job %+v", failed)
	}

	if _, err := s.UpdateStatus(ctx, "missing", domain.JobStatusQueued); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
	if _, ok, err := s.Get(ctx, "missing"); ok || err != nil {
		t.Fatalf("expected missing job, ok=%v err=%v", ok, err)
	}
}

func TestMemoryJobStoreUsageLogs(t *testing.T) {
	s := NewMemoryJobStore()
	var _ UsageStore = s

	if err := s.CreateUsageLog(context.Background(), domain.UsageLog{JobID: "job-1", PixelsProcessed: 100}); err != nil {
		t.Fatalf("create usage log: %v", err)
	}
	logs := s.UsageLogs()
	if len(logs) != 1 || logs[0].PixelsProcessed != 100 {
		t.Fatalf("unexpected usage logs %+v", logs)
	}
}

func TestOpenWithoutDSNUsesMemory(t *testing.T) {
	s, closeStore, err := Open(context.Background(), "  ")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer closeStore()
	if _, ok := s.(*MemoryJobStore); !ok {
		t.Fatalf("expected memory store, got %T", s)
	}
}
