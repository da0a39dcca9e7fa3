package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/dunamismax/filezenith/internal/domain"
	"github.com/dunamismax/filezenith/internal/id"
	"github.com/dunamismax/filezenith/internal/pipeline"
	"github.com/dunamismax/filezenith/internal/queue"
)

type uploadSlot struct {
	Name              string `json:"name"`
	ObjectKey         string `json:"object_key"`
	PresignedPutURL   string `json:"presigned_put_url,omitempty"`
	PresignedURLState string `json:"presigned_url_state"`
}

type outputLink struct {
	domain.JobOutput
	PresignedGetURL string `json:"presigned_get_url,omitempty"`
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	if s.jobStore == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "jobs are not enabled"})
		return
	}

	var req domain.CreateJobRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if len(req.Files) > s.tools.MaxFiles {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("at most %d files per job", s.tools.MaxFiles)})
		return
	}

	now := time.Now().UTC()
	jobID := id.New()
	kind := strings.ToLower(strings.TrimSpace(req.Kind))
	sourceType := strings.ToLower(strings.TrimSpace(req.SourceType))
	if sourceType == domain.SourceTypeLocalFile {
		for _, f := range req.Files {
			if _, err := pipeline.ResolveLocalSource(s.sourceRoot, f.ObjectKey); err != nil {
				status := http.StatusBadRequest
				if errors.Is(err, pipeline.ErrLocalSourcesDisabled) {
					status = http.StatusForbidden
				}
				writeJSON(w, status, map[string]string{"error": err.Error()})
				return
			}
		}
	}

	sources := make([]domain.SourceRef, len(req.Files))
	uploads := make([]uploadSlot, len(req.Files))
	for i, f := range req.Files {
		src := domain.SourceRef{Name: f.Name, MimeType: f.MimeType, ObjectKey: strings.TrimSpace(f.ObjectKey)}
		slot := uploadSlot{Name: f.Name, PresignedURLState: "not_required"}

		if sourceType == domain.SourceTypeS3Presigned {
			src.ObjectKey = pipeline.UploadKey(jobID, i, f.Name)
			url, err := s.storage.PresignedPutURL(r.Context(), src.ObjectKey, s.presignTTL)
			if err != nil {
				s.logger.Printf("generate presigned url failed job_id=%s file=%s err=%v", jobID, f.Name, err)
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to generate upload URL"})
				return
			}
			slot.PresignedPutURL = url
			slot.PresignedURLState = "ready"
		}
		slot.ObjectKey = src.ObjectKey
		sources[i] = src
		uploads[i] = slot
	}

	var format string
	if kind == domain.JobKindConvert {
		spec, _ := domain.LookupFormat(req.Format)
		format = spec.Name
	}

	job := domain.Job{
		ID:         jobID,
		Kind:       kind,
		Status:     domain.JobStatusCreated,
		SourceType: sourceType,
		Format:     format,
		Watermark:  req.Watermark,
		Preview:    domain.Dimensions{Width: req.PreviewWidth, Height: req.PreviewHeight},
		Sources:    sources,
		WebhookURL: req.WebhookURL,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.jobStore.Create(r.Context(), job); err != nil {
		s.logger.Printf("create job failed job_id=%s err=%v", job.ID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to create job"})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":    job.ID,
		"kind":      job.Kind,
		"status":    job.Status,
		"uploads":   uploads,
		"start_url": fmt.Sprintf("/v1/jobs/%s/start", job.ID),
	})
}

func (s *Server) handleStartJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}
	if s.queueClient == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "job queue is unavailable"})
		return
	}
	switch job.Status {
	case domain.JobStatusQueued, domain.JobStatusProcessing:
		writeJSON(w, http.StatusConflict, map[string]string{"error": "job already started"})
		return
	case domain.JobStatusSucceeded:
		writeJSON(w, http.StatusConflict, map[string]string{"error": "job already finished"})
		return
	}

	if err := s.verifySourcesExist(r.Context(), job); err != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}

	payload := queue.ProcessBatchPayload{
		JobID:       job.ID,
		Kind:        job.Kind,
		SourceType:  job.SourceType,
		Format:      job.Format,
		Watermark:   job.Watermark,
		Preview:     job.Preview,
		Sources:     job.Sources,
		WebhookURL:  job.WebhookURL,
		RequestedAt: time.Now().UTC(),
	}

	taskInfo, err := s.queueClient.EnqueueProcessBatch(r.Context(), payload)
	if err != nil {
		s.logger.Printf("enqueue failed job_id=%s err=%v", job.ID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to enqueue job"})
		return
	}
	s.metrics.queueEnqueued.WithLabelValues(taskInfo.Queue, job.Kind).Inc()

	if _, err := s.jobStore.UpdateStatus(r.Context(), job.ID, domain.JobStatusQueued); err != nil {
		s.logger.Printf("update status failed job_id=%s err=%v", job.ID, err)
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":      job.ID,
		"status":      domain.JobStatusQueued,
		"queue":       taskInfo.Queue,
		"task_id":     taskInfo.ID,
		"state":       taskInfo.State.String(),
		"enqueued_at": taskInfo.NextProcessAt,
	})
}

// handleGetJob reports the job and, for finished object-store jobs, a
// short-lived download URL per output.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}

	outputs := make([]outputLink, len(job.Outputs))
	for i, out := range job.Outputs {
		outputs[i] = outputLink{JobOutput: out}
		if job.SourceType != domain.SourceTypeS3Presigned || job.Status != domain.JobStatusSucceeded {
			continue
		}
		url, err := s.storage.PresignedGetURL(r.Context(), out.ObjectKey, s.presignTTL)
		if err != nil {
			s.logger.Printf("presign output failed job_id=%s key=%s err=%v", job.ID, out.ObjectKey, err)
			continue
		}
		outputs[i].PresignedGetURL = url
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"job_id":      job.ID,
		"kind":        job.Kind,
		"status":      job.Status,
		"source_type": job.SourceType,
		"format":      job.Format,
		"sources":     job.Sources,
		"outputs":     outputs,
		"error":       job.Error,
		"created_at":  job.CreatedAt,
		"updated_at":  job.UpdatedAt,
	})
}

func (s *Server) loadJob(w http.ResponseWriter, r *http.Request) (domain.Job, bool) {
	if s.jobStore == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "jobs are not enabled"})
		return domain.Job{}, false
	}
	jobID := r.PathValue("id")
	job, ok, err := s.jobStore.Get(r.Context(), jobID)
	if err != nil {
		s.logger.Printf("fetch job failed job_id=%s err=%v", jobID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load job"})
		return domain.Job{}, false
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
		return domain.Job{}, false
	}
	return job, true
}

func (s *Server) verifySourcesExist(ctx context.Context, job domain.Job) error {
	for _, src := range job.Sources {
		switch job.SourceType {
		case domain.SourceTypeLocalFile:
			path, err := pipeline.ResolveLocalSource(s.sourceRoot, src.ObjectKey)
			if err != nil {
				return err
			}
			if _, err := os.Stat(path); err != nil {
				if errors.Is(err, os.ErrNotExist) {
					return fmt.Errorf("source object is missing: %s", src.ObjectKey)
				}
				return fmt.Errorf("source object check failed: %w", err)
			}
		default:
			exists, err := s.storage.ObjectExists(ctx, src.ObjectKey)
			if err != nil {
				return fmt.Errorf("source object check failed: %w", err)
			}
			if !exists {
				return fmt.Errorf("source object is missing: %s", src.ObjectKey)
			}
		}
	}
	return nil
}
