package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dunamismax/filezenith/internal/domain"
	"github.com/dunamismax/filezenith/internal/queue"
	"github.com/dunamismax/filezenith/internal/store"
	"github.com/hibiken/asynq"
)

func TestCreateAndStartObjectStoreJob(t *testing.T) {
	jobStore := store.NewMemoryJobStore()
	storage := newFakeStorage()
	enqueuer := &fakeEnqueuer{}
	s := newTestServer(t, Options{JobStore: jobStore, Storage: storage, Queue: enqueuer})
	h := s.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/jobs", strings.NewReader(`{
		"kind": "convert",
		"source_type": "s3_presigned",
		"format": "webp",
		"files": [{"name": "a.png", "mime_type": "image/png"}, {"name": "b c.jpg"}],
		"webhook_url": "https://hooks.example.test/done"
	}`)))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("create job: expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var created struct {
		JobID   string       `json:"job_id"`
		Status  string       `json:"status"`
		Uploads []uploadSlot `json:"uploads"`
	}
	decodeBody(t, rec, &created)
	if created.Status != domain.JobStatusCreated || len(created.Uploads) != 2 {
		t.Fatalf("unexpected create response %+v", created)
	}
	wantKey := "uploads/" + created.JobID + "/1-b_c.jpg"
	if created.Uploads[1].ObjectKey != wantKey || created.Uploads[1].PresignedURLState != "ready" {
		t.Fatalf("unexpected upload slot %+v", created.Uploads[1])
	}
	if !strings.Contains(created.Uploads[0].PresignedPutURL, created.Uploads[0].ObjectKey) {
		t.Fatalf("expected presigned url for %s, got %s", created.Uploads[0].ObjectKey, created.Uploads[0].PresignedPutURL)
	}

	start := "/v1/jobs/" + created.JobID + "/start"
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, start, nil))
	if rec.Code != http.StatusConflict {
		t.Fatalf("start before upload: expected 409, got %d", rec.Code)
	}

	for _, slot := range created.Uploads {
		storage.put(slot.ObjectKey)
	}
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, start, nil))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("start: expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(enqueuer.payloads) != 1 {
		t.Fatalf("expected one enqueued task, got %d", len(enqueuer.payloads))
	}
	payload := enqueuer.payloads[0]
	if payload.JobID != created.JobID || payload.Format != "WEBP" || len(payload.Sources) != 2 || payload.WebhookURL == "" {
		t.Fatalf("unexpected payload %+v", payload)
	}

	job, _, _ := jobStore.Get(context.Background(), created.JobID)
	if job.Status != domain.JobStatusQueued {
		t.Fatalf("expected queued, got %s", job.Status)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, start, nil))
	if rec.Code != http.StatusConflict {
		t.Fatalf("second start: expected 409, got %d", rec.Code)
	}
}

func TestStartLocalJobChecksFiles(t *testing.T) {
	jobStore := store.NewMemoryJobStore()
	enqueuer := &fakeEnqueuer{}
	root := t.TempDir()
	s := newTestServer(t, Options{JobStore: jobStore, Queue: enqueuer, LocalSourceRoot: root})

	input := filepath.Join(root, "photo.png")
	body := `{"kind":"watermark","source_type":"local_file","watermark":{"text":"Draft","position":"full","font_size":20,"color":"#ff0000","opacity":0.4,"rotation":-30,"font_family":"Verdana","tile_spacing":120},"files":[{"name":"photo.png","object_key":"` + input + `"}]}`

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/jobs", strings.NewReader(body)))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("create job: expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var created struct {
		JobID string `json:"job_id"`
	}
	decodeBody(t, rec, &created)

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/jobs/"+created.JobID+"/start", nil))
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for missing local file, got %d", rec.Code)
	}

	if err := os.WriteFile(input, buildTestPNG(t, 10, 10), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/jobs/"+created.JobID+"/start", nil))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	if wm := enqueuer.payloads[0].Watermark; wm == nil || wm.Text != "Draft" || !wm.Tiled() {
		t.Fatalf("expected watermark settings in payload, got %+v", wm)
	}
}

func TestLocalJobSourcesAreConfined(t *testing.T) {
	body := func(key string) string {
		return `{"kind":"convert","source_type":"local_file","format":"png","files":[{"name":"a.png","object_key":"` + key + `"}]}`
	}

	disabled := newTestServer(t, Options{JobStore: store.NewMemoryJobStore()})
	rec := httptest.NewRecorder()
	disabled.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/jobs", strings.NewReader(body("/etc/passwd"))))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without a source root, got %d: %s", rec.Code, rec.Body.String())
	}

	root := t.TempDir()
	s := newTestServer(t, Options{JobStore: store.NewMemoryJobStore(), LocalSourceRoot: root})
	for _, key := range []string{"/etc/passwd", "../escape.png"} {
		rec = httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/jobs", strings.NewReader(body(key))))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("key %s: expected 400, got %d: %s", key, rec.Code, rec.Body.String())
		}
	}

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/jobs", strings.NewReader(body("inbox/a.png"))))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected relative key under the root to be accepted, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestCreateJobValidation(t *testing.T) {
	s := newTestServer(t, Options{JobStore: store.NewMemoryJobStore()})

	for _, body := range []string{
		`{"kind":"convert","source_type":"s3_presigned","format":"gif","files":[{"name":"a.png"}]}`,
		`{"kind":"watermark","source_type":"s3_presigned","files":[{"name":"a.png"}]}`,
		`{"kind":"convert","source_type":"ftp","format":"png","files":[{"name":"a.png"}]}`,
		`{"kind":"convert","source_type":"s3_presigned","format":"png","files":[]}`,
		`{"kind":"convert","source_type":"s3_presigned","format":"png","files":[{"name":"a.png"}],"extra":1}`,
		`{"kind":"watermark","source_type":"s3_presigned","watermark":{"text":"x","position":"center","font_size":16,"color":"#fff","opacity":0.5},"preview_width":1,"preview_height":1,"files":[{"name":"a.png"}]}`,
	} {
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/jobs", strings.NewReader(body)))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("body %s: expected 400, got %d", body, rec.Code)
		}
	}
}

func TestGetJobPresignsOutputs(t *testing.T) {
	jobStore := store.NewMemoryJobStore()
	now := time.Now().UTC()
	if err := jobStore.Create(context.Background(), domain.Job{
		ID:         "job-done",
		Kind:       domain.JobKindConvert,
		Status:     domain.JobStatusSucceeded,
		SourceType: domain.SourceTypeS3Presigned,
		Format:     "PNG",
		Sources:    []domain.SourceRef{{Name: "a.jpg", ObjectKey: "uploads/job-done/0-a.jpg"}},
		Outputs:    []domain.JobOutput{{Name: "a.png", ObjectKey: "outputs/job-done/a.png", MimeType: "image/png", Bytes: 10}},
		CreatedAt:  now,
		UpdatedAt:  now,
	}); err != nil {
		t.Fatalf("seed job: %v", err)
	}
	s := newTestServer(t, Options{JobStore: jobStore, Storage: newFakeStorage()})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/jobs/job-done", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Status  string       `json:"status"`
		Outputs []outputLink `json:"outputs"`
	}
	decodeBody(t, rec, &body)
	if body.Status != domain.JobStatusSucceeded || len(body.Outputs) != 1 {
		t.Fatalf("unexpected job body %+v", body)
	}
	if body.Outputs[0].PresignedGetURL != "https://storage.test/get/outputs/job-done/a.png" {
		t.Fatalf("unexpected download url %q", body.Outputs[0].PresignedGetURL)
	}

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/jobs/unknown", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown job, got %d", rec.Code)
	}
}

type fakeStorage struct {
	mu      sync.Mutex
	objects map[string]bool
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{objects: make(map[string]bool)}
}

func (f *fakeStorage) put(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = true
}

func (f *fakeStorage) PresignedPutURL(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://storage.test/put/" + key, nil
}

func (f *fakeStorage) PresignedGetURL(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://storage.test/get/" + key, nil
}

func (f *fakeStorage) ObjectExists(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.objects[key], nil
}

type fakeEnqueuer struct {
	payloads []queue.ProcessBatchPayload
}

func (f *fakeEnqueuer) EnqueueProcessBatch(_ context.Context, payload queue.ProcessBatchPayload) (*asynq.TaskInfo, error) {
	f.payloads = append(f.payloads, payload)
	return &asynq.TaskInfo{
		ID:            payload.JobID,
		Queue:         "filezenith",
		State:         asynq.TaskStatePending,
		NextProcessAt: time.Now(),
	}, nil
}
