package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"mime"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/dunamismax/filezenith/internal/archive"
	"github.com/dunamismax/filezenith/internal/convert"
	"github.com/dunamismax/filezenith/internal/domain"
	"github.com/dunamismax/filezenith/internal/raster"
	"github.com/dunamismax/filezenith/internal/watermark"
)

const BundleName = "bundle.zip"

var (
	ErrUnsupportedSourceType = errors.New("unsupported source_type")
	ErrUnsupportedKind       = errors.New("unsupported job kind")
)

type Request struct {
	JobID      string
	Kind       string
	SourceType string
	Format     string
	Watermark  *domain.WatermarkSpec
	Preview    domain.Dimensions
	Sources    []domain.SourceRef
}

type Result struct {
	SourceBytes int
	Pixels      int64
	Outputs     []domain.JobOutput
}

type Fetcher interface {
	Fetch(ctx context.Context, req Request, src domain.SourceRef) ([]byte, error)
}

// Emitter persists outputs. Discard removes outputs already written by a job
// that later failed.
type Emitter interface {
	Emit(ctx context.Context, req Request, name, mimeType string, data []byte) (domain.JobOutput, error)
	Discard(ctx context.Context, outputs []domain.JobOutput) error
}

type Processor struct {
	fetcher    Fetcher
	emitter    Emitter
	converter  *convert.Converter
	compositor *watermark.Compositor
	logger     *log.Logger
	now        func() time.Time
}

func NewProcessor(fetcher Fetcher, emitter Emitter, r *raster.Rasterizer, logger *log.Logger) (*Processor, error) {
	if fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if emitter == nil {
		return nil, errors.New("emitter is required")
	}
	if r == nil {
		return nil, errors.New("rasterizer is required")
	}
	return &Processor{
		fetcher:    fetcher,
		emitter:    emitter,
		converter:  convert.NewConverter(r, logger),
		compositor: watermark.NewCompositor(r, logger),
		logger:     logger,
		now:        time.Now,
	}, nil
}

// NewLocalProcessor reads sources from under sourceRoot and writes outputs
// to outputDir. An empty sourceRoot rejects every local source.
func NewLocalProcessor(sourceRoot, outputDir string, r *raster.Rasterizer, logger *log.Logger) (*Processor, error) {
	return NewProcessor(LocalFileFetcher{Root: sourceRoot}, LocalFileEmitter{OutputDir: outputDir}, r, logger)
}

// Process fetches every source, renders the outputs and emits them in source
// order. A job with several outputs also gets a zip bundle. On failure any
// outputs already emitted are discarded.
func (p *Processor) Process(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.JobID) == "" {
		return Result{}, errors.New("job_id is required")
	}
	if len(req.Sources) == 0 {
		return Result{}, errors.New("job must reference at least one source")
	}

	files, sourceBytes, err := p.fetchAll(ctx, req)
	if err != nil {
		return Result{}, fmt.Errorf("fetch stage: %w", err)
	}

	rendered, err := p.render(ctx, req, files)
	if err != nil {
		return Result{}, fmt.Errorf("render stage: %w", err)
	}

	out := Result{SourceBytes: sourceBytes, Outputs: make([]domain.JobOutput, 0, len(rendered)+1)}
	names := make([]string, len(rendered))
	for i, r := range rendered {
		names[i] = r.Name
	}
	names = archive.UniqueNames(names)

	for i, r := range rendered {
		written, err := p.emitter.Emit(ctx, req, names[i], r.MimeType, r.Data)
		if err != nil {
			p.rollback(req, out.Outputs)
			return Result{}, fmt.Errorf("emit stage name=%s: %w", names[i], err)
		}
		written.Width = r.Width
		written.Height = r.Height
		written.Substituted = r.Substituted
		out.Outputs = append(out.Outputs, written)
		out.Pixels += int64(r.Width) * int64(r.Height)
	}

	if len(rendered) > 1 {
		bundle, err := archive.Bundle(rendered, p.now())
		if err != nil {
			p.rollback(req, out.Outputs)
			return Result{}, fmt.Errorf("bundle stage: %w", err)
		}
		written, err := p.emitter.Emit(ctx, req, BundleName, bundle.MimeType, bundle.Data)
		if err != nil {
			p.rollback(req, out.Outputs)
			return Result{}, fmt.Errorf("emit stage name=%s: %w", BundleName, err)
		}
		written.Bundle = true
		out.Outputs = append(out.Outputs, written)
	}

	return out, nil
}

func (p *Processor) fetchAll(ctx context.Context, req Request) ([]domain.SourceFile, int, error) {
	files := make([]domain.SourceFile, 0, len(req.Sources))
	total := 0
	for _, src := range req.Sources {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		data, err := p.fetcher.Fetch(ctx, req, src)
		if err != nil {
			return nil, 0, fmt.Errorf("source %s: %w", src.Name, err)
		}
		total += len(data)
		files = append(files, domain.SourceFile{
			Name:     src.Name,
			MimeType: sourceMimeType(src, data),
			Data:     data,
		})
	}
	return files, total, nil
}

func (p *Processor) render(ctx context.Context, req Request, files []domain.SourceFile) ([]domain.ConversionResult, error) {
	switch strings.ToLower(strings.TrimSpace(req.Kind)) {
	case domain.JobKindConvert:
		target, err := domain.LookupFormat(req.Format)
		if err != nil {
			return nil, fmt.Errorf("format %q: %w", req.Format, err)
		}
		return p.converter.Convert(ctx, domain.FilterImages(files), target)
	case domain.JobKindWatermark:
		if req.Watermark == nil {
			return nil, fmt.Errorf("%w: watermark settings missing", domain.ErrInvalidWatermark)
		}
		results := make([]domain.ConversionResult, 0, len(files))
		for _, f := range domain.FilterImages(files) {
			out, err := p.compositor.Apply(ctx, watermark.Request{
				Data:     f.Data,
				MimeType: f.MimeType,
				Spec:     *req.Watermark,
				Preview:  req.Preview,
			})
			if err != nil {
				return nil, fmt.Errorf("watermark %s: %w", f.Name, err)
			}
			results = append(results, domain.ConversionResult{
				Name:              out.Name,
				MimeType:          out.MimeType,
				RequestedMimeType: f.MimeType,
				Data:              out.Data,
				Width:             out.Dimensions.Width,
				Height:            out.Dimensions.Height,
				Substituted:       out.Substituted,
			})
		}
		if len(results) == 0 {
			return nil, convert.ErrEmptyBatch
		}
		return results, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedKind, req.Kind)
	}
}

func (p *Processor) rollback(req Request, written []domain.JobOutput) {
	if len(written) == 0 {
		return
	}
	// the job context may already be cancelled
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := p.emitter.Discard(ctx, written); err != nil && p.logger != nil {
		p.logger.Printf("discard outputs failed job_id=%s outputs=%d err=%v", req.JobID, len(written), err)
	}
}

// sourceMimeType trusts the declared type, then the extension, then the
// content itself.
func sourceMimeType(src domain.SourceRef, data []byte) string {
	if m := strings.TrimSpace(src.MimeType); m != "" {
		return m
	}
	if m := mime.TypeByExtension(strings.ToLower(path.Ext(src.Name))); m != "" {
		return m
	}
	return http.DetectContentType(data)
}

func sanitizePathToken(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return "unknown"
	}

	var b strings.Builder
	b.Grow(len(in))
	for _, r := range in {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// sanitizeFileName keeps the extension readable and never yields a hidden or
// relative name.
func sanitizeFileName(name string) string {
	name = path.Base(strings.ReplaceAll(strings.TrimSpace(name), `\`, "/"))
	ext := path.Ext(name)
	stem := sanitizePathToken(strings.TrimSuffix(name, ext))
	if ext != "" {
		ext = "." + sanitizePathToken(strings.TrimPrefix(ext, "."))
	}
	return stem + ext
}
