package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/dunamismax/filezenith/internal/config"
	"github.com/dunamismax/filezenith/internal/convert"
	"github.com/dunamismax/filezenith/internal/domain"
	"github.com/dunamismax/filezenith/internal/pipeline"
	"github.com/dunamismax/filezenith/internal/queue"
	"github.com/dunamismax/filezenith/internal/raster"
	"github.com/dunamismax/filezenith/internal/store"
	"github.com/dunamismax/filezenith/internal/webhook"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Server struct {
	logger          *log.Logger
	server          *asynq.Server
	sem             chan struct{}
	localProcessor  jobProcessor
	objectProcessor jobProcessor
	webhookClient   webhookSender
	jobStore        store.JobStore
	usageStore      store.UsageStore
	metrics         *metrics
	tracer          trace.Tracer
}

type jobProcessor interface {
	Process(ctx context.Context, req pipeline.Request) (pipeline.Result, error)
}

type webhookSender interface {
	Send(ctx context.Context, endpoint, event string, payload any) error
}

func NewServer(
	logger *log.Logger,
	queueCfg config.QueueConfig,
	workerCfg config.WorkerConfig,
	objectStore pipeline.ObjectStore,
	rasterizer *raster.Rasterizer,
	webhookClient *webhook.Client,
	jobStore store.JobStore,
	usageStore store.UsageStore,
) (*Server, error) {
	if objectStore == nil {
		return nil, fmt.Errorf("storage client is required")
	}

	localProcessor, err := pipeline.NewLocalProcessor(workerCfg.LocalSourceRoot, workerCfg.LocalOutputDir, rasterizer, logger)
	if err != nil {
		return nil, fmt.Errorf("initialize pipeline processor: %w", err)
	}

	objectProcessor, err := pipeline.NewObjectStoreProcessor(objectStore, "outputs", rasterizer, logger)
	if err != nil {
		return nil, fmt.Errorf("initialize object-store processor: %w", err)
	}

	if usageStore == nil {
		if jobAndUsageStore, ok := jobStore.(store.UsageStore); ok {
			usageStore = jobAndUsageStore
		}
	}

	s := &Server{
		logger: logger,
		server: asynq.NewServer(
			queueCfg.RedisClientOpt(),
			asynq.Config{
				Concurrency: workerCfg.Concurrency,
				Queues: map[string]int{
					queueCfg.Name: 1,
				},
				LogLevel: asynq.InfoLevel,
				ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
					retried, _ := asynq.GetRetryCount(ctx)
					maxRetry, _ := asynq.GetMaxRetry(ctx)
					logger.Printf("task failed type=%s retry=%d/%d err=%v", task.Type(), retried, maxRetry, err)
				}),
			},
		),
		sem:             make(chan struct{}, max(1, workerCfg.MaxActiveJobs)),
		localProcessor:  localProcessor,
		objectProcessor: objectProcessor,
		jobStore:        jobStore,
		usageStore:      usageStore,
		metrics:         newMetrics(),
		tracer:          otel.Tracer("filezenith/worker"),
	}
	if webhookClient != nil {
		s.webhookClient = webhookClient
	}
	return s, nil
}

func (s *Server) mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeProcessBatch, s.handleProcessBatch)
	return mux
}

// Start begins consuming tasks without blocking.
func (s *Server) Start() error {
	return s.server.Start(s.mux())
}

// Shutdown waits for in-flight tasks and stops the consumer.
func (s *Server) Shutdown() {
	s.server.Shutdown()
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

func (s *Server) handleProcessBatch(ctx context.Context, task *asynq.Task) error {
	startedAt := time.Now()
	outcome := domain.JobStatusFailed

	payload, err := queue.ParseProcessBatchPayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}

	ctx, span := s.tracer.Start(ctx, "worker.process_batch", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("job.id", payload.JobID),
		attribute.String("job.kind", payload.Kind),
		attribute.String("job.source_type", payload.SourceType),
		attribute.Int("job.sources", len(payload.Sources)),
	)
	defer span.End()
	defer func() {
		s.metrics.jobDuration.WithLabelValues(payload.Kind, payload.SourceType, outcome).Observe(time.Since(startedAt).Seconds())
		s.metrics.jobsTotal.WithLabelValues(payload.Kind, payload.SourceType, outcome).Inc()
	}()

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.metrics.activeJobs.Inc()
	defer func() {
		<-s.sem
		s.metrics.activeJobs.Dec()
	}()

	s.logger.Printf(
		"Working... job_id=%s kind=%s source_type=%s sources=%d",
		payload.JobID,
		payload.Kind,
		payload.SourceType,
		len(payload.Sources),
	)

	s.updateJobStatus(ctx, payload.JobID, domain.JobStatusProcessing)

	request := pipeline.Request{
		JobID:      payload.JobID,
		Kind:       payload.Kind,
		SourceType: payload.SourceType,
		Format:     payload.Format,
		Watermark:  payload.Watermark,
		Preview:    payload.Preview,
		Sources:    payload.Sources,
	}

	var result pipeline.Result
	switch payload.SourceType {
	case domain.SourceTypeLocalFile:
		result, err = s.localProcessor.Process(ctx, request)
	default:
		result, err = s.objectProcessor.Process(ctx, request)
	}
	if err != nil {
		s.failJob(ctx, payload.JobID, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "pipeline failed")
		_ = s.dispatchWebhook(ctx, payload, webhook.EventJobFailed, map[string]any{
			"job_id":       payload.JobID,
			"kind":         payload.Kind,
			"status":       domain.JobStatusFailed,
			"source_type":  payload.SourceType,
			"requested_at": payload.RequestedAt,
			"failed_at":    time.Now().UTC(),
			"error":        err.Error(),
		})
		if permanent(err) {
			return fmt.Errorf("run pipeline: %v: %w", err, asynq.SkipRetry)
		}
		return fmt.Errorf("run pipeline: %w", err)
	}

	s.logger.Printf("Processed job_id=%s outputs=%d", payload.JobID, len(result.Outputs))
	s.completeJob(ctx, payload.JobID, result.Outputs)
	s.metrics.outputsTotal.WithLabelValues(payload.Kind).Add(float64(len(result.Outputs)))
	s.recordUsage(ctx, payload, result, time.Since(startedAt))
	outcome = domain.JobStatusSucceeded

	// outputs are committed; a webhook failure is reported but does not
	// re-run the job
	if err := s.dispatchWebhook(ctx, payload, webhook.EventJobCompleted, map[string]any{
		"job_id":       payload.JobID,
		"kind":         payload.Kind,
		"status":       domain.JobStatusSucceeded,
		"source_type":  payload.SourceType,
		"requested_at": payload.RequestedAt,
		"completed_at": time.Now().UTC(),
		"outputs":      result.Outputs,
	}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "webhook dispatch failed")
		return nil
	}

	span.SetStatus(codes.Ok, "processed")
	return nil
}

// permanent reports failures that a retry cannot fix.
func permanent(err error) bool {
	return errors.Is(err, pipeline.ErrUnsupportedKind) ||
		errors.Is(err, pipeline.ErrUnsupportedSourceType) ||
		errors.Is(err, pipeline.ErrLocalSourcesDisabled) ||
		errors.Is(err, pipeline.ErrOutsideSourceRoot) ||
		errors.Is(err, domain.ErrUnsupportedFormat) ||
		errors.Is(err, domain.ErrInvalidWatermark) ||
		errors.Is(err, raster.ErrDecode) ||
		errors.Is(err, convert.ErrEmptyBatch)
}

func (s *Server) updateJobStatus(ctx context.Context, jobID, status string) {
	if s.jobStore == nil {
		return
	}
	if _, err := s.jobStore.UpdateStatus(ctx, jobID, status); err != nil {
		s.logger.Printf("job status update failed job_id=%s status=%s err=%v", jobID, status, err)
	}
}

func (s *Server) completeJob(ctx context.Context, jobID string, outputs []domain.JobOutput) {
	if s.jobStore == nil {
		return
	}
	if _, err := s.jobStore.Complete(ctx, jobID, outputs); err != nil {
		s.logger.Printf("job completion update failed job_id=%s err=%v", jobID, err)
	}
}

func (s *Server) failJob(ctx context.Context, jobID string, cause error) {
	if s.jobStore == nil {
		return
	}
	if _, err := s.jobStore.Fail(ctx, jobID, cause.Error()); err != nil {
		s.logger.Printf("job failure update failed job_id=%s err=%v", jobID, err)
	}
}

func (s *Server) dispatchWebhook(ctx context.Context, payload queue.ProcessBatchPayload, event string, body map[string]any) error {
	if payload.WebhookURL == "" || s.webhookClient == nil {
		return nil
	}

	if err := s.webhookClient.Send(ctx, payload.WebhookURL, event, body); err != nil {
		s.metrics.webhookFailures.WithLabelValues(event).Inc()
		s.logger.Printf("webhook delivery failed job_id=%s event=%s err=%v", payload.JobID, event, err)
		return fmt.Errorf("dispatch webhook: %w", err)
	}

	return nil
}

func (s *Server) recordUsage(ctx context.Context, payload queue.ProcessBatchPayload, result pipeline.Result, computeDuration time.Duration) {
	if s.usageStore == nil {
		return
	}

	var bytesOut int64
	for _, output := range result.Outputs {
		if output.Bundle {
			continue
		}
		bytesOut += int64(output.Bytes)
	}

	computeTimeMS := computeDuration.Milliseconds()
	if computeTimeMS < 1 {
		computeTimeMS = 1
	}

	usage := domain.UsageLog{
		JobID:           payload.JobID,
		Kind:            payload.Kind,
		PixelsProcessed: result.Pixels,
		BytesIn:         int64(result.SourceBytes),
		BytesOut:        bytesOut,
		ComputeTimeMS:   computeTimeMS,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.usageStore.CreateUsageLog(ctx, usage); err != nil {
		s.logger.Printf("usage log write failed job_id=%s err=%v", payload.JobID, err)
		return
	}

	s.metrics.pixelsProcessedTotal.Add(float64(usage.PixelsProcessed))
	s.metrics.bytesInTotal.Add(float64(usage.BytesIn))
	s.metrics.bytesOutTotal.Add(float64(usage.BytesOut))
	s.metrics.computeTimeMSTotal.Add(float64(computeTimeMS))
}
