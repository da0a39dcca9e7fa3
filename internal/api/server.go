package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/dunamismax/filezenith/internal/archive"
	"github.com/dunamismax/filezenith/internal/config"
	"github.com/dunamismax/filezenith/internal/convert"
	"github.com/dunamismax/filezenith/internal/domain"
	"github.com/dunamismax/filezenith/internal/handle"
	"github.com/dunamismax/filezenith/internal/queue"
	"github.com/dunamismax/filezenith/internal/raster"
	"github.com/dunamismax/filezenith/internal/session"
	"github.com/dunamismax/filezenith/internal/store"
	"github.com/dunamismax/filezenith/internal/watermark"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel/trace"
)

const HeaderSubstituted = "X-Filezenith-Substituted"

type Server struct {
	logger      *log.Logger
	raster      *raster.Rasterizer
	converter   *convert.Converter
	compositor  *watermark.Compositor
	sessions    *session.Manager
	registry    *handle.Registry
	queueClient queueEnqueuer
	jobStore    store.JobStore
	storage     objectStorage
	rateLimiter RateLimiter
	tracer      trace.Tracer
	metrics     *metrics
	tools       config.ToolsConfig
	presignTTL  time.Duration
	sourceRoot  string
	now         func() time.Time
	mux         *http.ServeMux
	handler     http.Handler
}

// Options wires the server. Logger and Rasterizer are required; a nil
// Sessions gets a fresh manager, a nil Storage answers job uploads with an
// error, and nil RateLimiter or Tracer disable that middleware. An empty
// LocalSourceRoot rejects local_file jobs.
type Options struct {
	Logger      *log.Logger
	Rasterizer  *raster.Rasterizer
	Sessions    *session.Manager
	Queue       queueEnqueuer
	JobStore    store.JobStore
	Storage     objectStorage
	RateLimiter RateLimiter
	Tracer      trace.Tracer
	Tools       config.ToolsConfig
	PresignTTL  time.Duration
	Now         func() time.Time

	// LocalSourceRoot confines local_file job sources.
	LocalSourceRoot string
}

type queueEnqueuer interface {
	EnqueueProcessBatch(ctx context.Context, payload queue.ProcessBatchPayload) (*asynq.TaskInfo, error)
}

type objectStorage interface {
	PresignedPutURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
	PresignedGetURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
	ObjectExists(ctx context.Context, objectKey string) (bool, error)
}

func NewServer(opts Options) *Server {
	presignTTL := opts.PresignTTL
	if presignTTL <= 0 {
		presignTTL = 15 * time.Minute
	}
	storage := opts.Storage
	if storage == nil {
		storage = unavailableObjectStorage{}
	}
	sessions := opts.Sessions
	if sessions == nil {
		sessions = session.NewManager(handle.NewRegistry(), 0)
	}
	tools := opts.Tools
	if tools.MaxUploadBytes <= 0 {
		tools.MaxUploadBytes = 64 << 20
	}
	if tools.MaxFiles <= 0 {
		tools.MaxFiles = 20
	}
	if tools.DefaultViewportWidth <= 0 {
		tools.DefaultViewportWidth = watermark.DefaultViewportWidth
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	s := &Server{
		logger:      opts.Logger,
		raster:      opts.Rasterizer,
		converter:   convert.NewConverter(opts.Rasterizer, opts.Logger),
		compositor:  watermark.NewCompositor(opts.Rasterizer, opts.Logger).WithClock(now),
		sessions:    sessions,
		registry:    sessions.Registry(),
		queueClient: opts.Queue,
		jobStore:    opts.JobStore,
		storage:     storage,
		rateLimiter: opts.RateLimiter,
		tracer:      opts.Tracer,
		tools:       tools,
		presignTTL:  presignTTL,
		sourceRoot:  opts.LocalSourceRoot,
		now:         now,
		mux:         http.NewServeMux(),
	}
	s.metrics = newMetrics(s.registry, s.sessions)
	s.routes()
	s.handler = s.metrics.withHTTPMetrics(s.withTracing(s.withRateLimit(s.mux)))
	return s
}

type unavailableObjectStorage struct{}

func (unavailableObjectStorage) PresignedPutURL(_ context.Context, _ string, _ time.Duration) (string, error) {
	return "", errors.New("object storage is unavailable")
}

func (unavailableObjectStorage) PresignedGetURL(_ context.Context, _ string, _ time.Duration) (string, error) {
	return "", errors.New("object storage is unavailable")
}

func (unavailableObjectStorage) ObjectExists(_ context.Context, _ string) (bool, error) {
	return false, errors.New("object storage is unavailable")
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.Handle("GET /metrics", s.metrics.metricsHandler())
	s.mux.HandleFunc("GET /v1/formats", s.handleFormats)

	s.mux.HandleFunc("POST /v1/convert", s.handleConvert)
	s.mux.HandleFunc("POST /v1/watermark", s.handleWatermark)
	s.mux.HandleFunc("POST /v1/watermark/preview", s.handleWatermarkPreview)

	s.mux.HandleFunc("POST /v1/batches", s.handleCreateBatch)
	s.mux.HandleFunc("GET /v1/batches/{id}", s.handleGetBatch)
	s.mux.HandleFunc("DELETE /v1/batches/{id}", s.handleCloseBatch)
	s.mux.HandleFunc("POST /v1/batches/{id}/files", s.handleAddBatchFiles)
	s.mux.HandleFunc("DELETE /v1/batches/{id}/files", s.handleClearBatch)
	s.mux.HandleFunc("DELETE /v1/batches/{id}/files/{index}", s.handleRemoveBatchFile)
	s.mux.HandleFunc("POST /v1/batches/{id}/convert", s.handleConvertBatch)
	s.mux.HandleFunc("GET /v1/batches/{id}/download", s.handleDownloadBatch)
	s.mux.HandleFunc("GET /v1/handles/{handle}", s.handleOpenHandle)

	s.mux.HandleFunc("POST /v1/jobs", s.handleCreateJob)
	s.mux.HandleFunc("POST /v1/jobs/{id}/start", s.handleStartJob)
	s.mux.HandleFunc("GET /v1/jobs/{id}", s.handleGetJob)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type formatView struct {
	domain.FormatSpec
	Native bool `json:"native"`
}

// handleFormats lists the output formats. native=false means the active
// codec falls back to PNG for that target.
func (s *Server) handleFormats(w http.ResponseWriter, _ *http.Request) {
	formats := domain.SupportedFormats()
	out := make([]formatView, len(formats))
	for i, f := range formats {
		out[i] = formatView{FormatSpec: f, Native: s.raster.Supports(f.MimeType)}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"codec":   s.raster.CodecName(),
		"default": domain.DefaultFormat().Name,
		"formats": out,
	})
}

// requestError is a client mistake with a status and a message safe to
// return verbatim.
type requestError struct {
	status int
	msg    string
}

func (e *requestError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &requestError{status: http.StatusBadRequest, msg: fmt.Sprintf(format, args...)}
}

// classifyError maps a failure to a status and one user-facing message.
func classifyError(err error) (int, string) {
	var reqErr *requestError
	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &reqErr):
		return reqErr.status, reqErr.msg
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", maxBytes.Limit)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "request cancelled"
	case errors.Is(err, domain.ErrInvalidWatermark):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, domain.ErrUnsupportedFormat):
		return http.StatusBadRequest, "unsupported output format"
	case errors.Is(err, convert.ErrEmptyBatch), errors.Is(err, session.ErrNoFiles):
		return http.StatusBadRequest, "no image files to process"
	case errors.Is(err, session.ErrClosed):
		return http.StatusNotFound, "batch not found"
	case errors.Is(err, session.ErrIndexInvalid):
		return http.StatusNotFound, "file not found"
	case errors.Is(err, session.ErrBusy):
		return http.StatusConflict, "batch conversion already running"
	case errors.Is(err, archive.ErrNoResults):
		return http.StatusConflict, "nothing to download"
	case errors.Is(err, raster.ErrDecode):
		return http.StatusUnprocessableEntity, "failed to load image"
	case errors.Is(err, raster.ErrFormatSubstituted):
		return http.StatusUnprocessableEntity, "output format is not supported by this server"
	case errors.Is(err, raster.ErrEncode):
		return http.StatusUnprocessableEntity, "failed to encode image"
	case errors.Is(err, raster.ErrSurface):
		return http.StatusUnprocessableEntity, "image cannot be drawn"
	case errors.Is(err, archive.ErrArchive):
		return http.StatusInternalServerError, "failed to build archive"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// writeError logs the failure once and answers with the classified message.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status, msg := classifyError(err)
	if status >= http.StatusInternalServerError || status == http.StatusUnprocessableEntity {
		s.logger.Printf("%s failed route=%s status=%d err=%v", op, routeLabel(r.URL.Path), status, err)
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(r *http.Request, into any) error {
	const maxBodyBytes = 1 << 20
	limited := io.LimitReader(r.Body, maxBodyBytes)
	decoder := json.NewDecoder(limited)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON body: multiple JSON values are not allowed")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
