package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path"
	"strings"

	"github.com/dunamismax/filezenith/internal/domain"
	"github.com/dunamismax/filezenith/internal/raster"
	"github.com/dunamismax/filezenith/internal/storage"
)

// ObjectStore is the slice of the MinIO client the object-store stages use.
type ObjectStore interface {
	ReadObject(ctx context.Context, objectKey string) ([]byte, error)
	WriteObject(ctx context.Context, objectKey string, data []byte, contentType string) error
	DeleteObject(ctx context.Context, objectKey string) error
}

var _ ObjectStore = (*storage.Client)(nil)

func NewObjectStoreProcessor(store ObjectStore, outputPrefix string, r *raster.Rasterizer, logger *log.Logger) (*Processor, error) {
	if store == nil {
		return nil, errors.New("storage client is required")
	}
	return NewProcessor(
		ObjectStoreFetcher{Storage: store},
		ObjectStoreEmitter{Storage: store, OutputPrefix: outputPrefix},
		r,
		logger,
	)
}

type ObjectStoreFetcher struct {
	Storage ObjectStore
}

func (f ObjectStoreFetcher) Fetch(ctx context.Context, req Request, src domain.SourceRef) ([]byte, error) {
	if f.Storage == nil {
		return nil, errors.New("storage client is required")
	}
	if strings.EqualFold(req.SourceType, domain.SourceTypeLocalFile) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSourceType, req.SourceType)
	}
	return f.Storage.ReadObject(ctx, src.ObjectKey)
}

type ObjectStoreEmitter struct {
	Storage      ObjectStore
	OutputPrefix string
}

func (e ObjectStoreEmitter) Emit(ctx context.Context, req Request, name, mimeType string, data []byte) (domain.JobOutput, error) {
	if e.Storage == nil {
		return domain.JobOutput{}, errors.New("storage client is required")
	}

	objectKey := OutputKey(e.OutputPrefix, req.JobID, name)
	if err := e.Storage.WriteObject(ctx, objectKey, data, mimeType); err != nil {
		return domain.JobOutput{}, err
	}

	return domain.JobOutput{
		Name:      name,
		ObjectKey: objectKey,
		MimeType:  mimeType,
		Bytes:     len(data),
	}, nil
}

func (e ObjectStoreEmitter) Discard(ctx context.Context, outputs []domain.JobOutput) error {
	if e.Storage == nil {
		return errors.New("storage client is required")
	}
	var errs []error
	for _, o := range outputs {
		if err := e.Storage.DeleteObject(ctx, o.ObjectKey); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// OutputKey is outputs/<job>/<name> under the given prefix.
func OutputKey(prefix, jobID, name string) string {
	return path.Join(defaultOutputPrefix(prefix), sanitizePathToken(jobID), sanitizeFileName(name))
}

// UploadKey is where a presigned upload for the index-th source lands.
func UploadKey(jobID string, index int, name string) string {
	return path.Join("uploads", sanitizePathToken(jobID), fmt.Sprintf("%d-%s", index, sanitizeFileName(name)))
}

func defaultOutputPrefix(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return "outputs"
	}
	return prefix
}
