package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	JobStatusCreated    = "created"
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusSucceeded  = "succeeded"
	JobStatusFailed     = "failed"

	JobKindConvert   = "convert"
	JobKindWatermark = "watermark"

	SourceTypeLocalFile   = "local_file"
	SourceTypeS3Presigned = "s3_presigned"
)

// SourceRef points at one job input. ObjectKey is a path for local_file
// sources and a bucket key for s3_presigned sources.
type SourceRef struct {
	Name      string `json:"name"`
	MimeType  string `json:"mime_type,omitempty"`
	ObjectKey string `json:"object_key,omitempty"`
}

type CreateJobRequest struct {
	Kind          string         `json:"kind"`
	SourceType    string         `json:"source_type"`
	Format        string         `json:"format,omitempty"`
	Watermark     *WatermarkSpec `json:"watermark,omitempty"`
	PreviewWidth  int            `json:"preview_width,omitempty"`
	PreviewHeight int            `json:"preview_height,omitempty"`
	Files         []SourceRef    `json:"files"`
	WebhookURL    string         `json:"webhook_url,omitempty"`
}

// JobOutput is one artifact written by the worker.
type JobOutput struct {
	Name        string `json:"name"`
	ObjectKey   string `json:"object_key"`
	MimeType    string `json:"mime_type"`
	Bytes       int    `json:"bytes"`
	Width       int    `json:"width,omitempty"`
	Height      int    `json:"height,omitempty"`
	Bundle      bool   `json:"bundle,omitempty"`
	Substituted bool   `json:"substituted,omitempty"`
}

type Job struct {
	ID         string         `json:"id"`
	Kind       string         `json:"kind"`
	Status     string         `json:"status"`
	SourceType string         `json:"source_type"`
	Format     string         `json:"format,omitempty"`
	Watermark  *WatermarkSpec `json:"watermark,omitempty"`
	Preview    Dimensions     `json:"preview"`
	Sources    []SourceRef    `json:"sources"`
	WebhookURL string         `json:"webhook_url,omitempty"`
	Outputs    []JobOutput    `json:"outputs,omitempty"`
	Error      string         `json:"error,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

func (r CreateJobRequest) Validate() error {
	kind := strings.ToLower(strings.TrimSpace(r.Kind))
	switch kind {
	case JobKindConvert:
		if _, err := LookupFormat(r.Format); err != nil {
			return fmt.Errorf("unsupported format: %q", r.Format)
		}
	case JobKindWatermark:
		if r.Watermark == nil {
			return errors.New("watermark settings are required for kind=watermark")
		}
		if err := r.Watermark.Validate(); err != nil {
			return err
		}
		if err := ValidatePreview(Dimensions{Width: r.PreviewWidth, Height: r.PreviewHeight}); err != nil {
			return err
		}
	case "":
		return errors.New("kind is required")
	default:
		return fmt.Errorf("unsupported kind: %s", r.Kind)
	}

	sourceType := strings.ToLower(strings.TrimSpace(r.SourceType))
	if sourceType == "" {
		return errors.New("source_type is required")
	}
	if sourceType != SourceTypeLocalFile && sourceType != SourceTypeS3Presigned {
		return fmt.Errorf("unsupported source_type: %s", r.SourceType)
	}
	if len(r.Files) == 0 {
		return errors.New("files must contain at least one entry")
	}
	for i, f := range r.Files {
		if strings.TrimSpace(f.Name) == "" {
			return fmt.Errorf("files[%d].name is required", i)
		}
		if f.MimeType != "" && !IsImageMime(f.MimeType) {
			return fmt.Errorf("files[%d].mime_type must be an image type", i)
		}
		if sourceType == SourceTypeLocalFile && strings.TrimSpace(f.ObjectKey) == "" {
			return fmt.Errorf("files[%d].object_key is required for source_type=local_file", i)
		}
	}
	return nil
}
