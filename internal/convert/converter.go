package convert

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/dunamismax/filezenith/internal/domain"
	"github.com/dunamismax/filezenith/internal/raster"
)

var ErrEmptyBatch = errors.New("no files to convert")

type Converter struct {
	raster *raster.Rasterizer
	logger *log.Logger
}

func NewConverter(r *raster.Rasterizer, logger *log.Logger) *Converter {
	return &Converter{raster: r, logger: logger}
}

// Convert processes files one at a time in input order. The first failure
// aborts the batch and no partial results are returned.
func (c *Converter) Convert(ctx context.Context, files []domain.SourceFile, target domain.FormatSpec) ([]domain.ConversionResult, error) {
	if len(files) == 0 {
		return nil, ErrEmptyBatch
	}

	startedAt := time.Now()
	results := make([]domain.ConversionResult, 0, len(files))
	for _, file := range files {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		result, err := c.ConvertOne(ctx, file, target)
		if err != nil {
			return nil, fmt.Errorf("convert %s: %w", file.Name, err)
		}
		results = append(results, result)
	}

	c.logf("converted files=%d target=%s elapsed=%s", len(results), target.Name, time.Since(startedAt).Round(time.Millisecond))
	return results, nil
}

func (c *Converter) ConvertOne(ctx context.Context, file domain.SourceFile, target domain.FormatSpec) (domain.ConversionResult, error) {
	if SameExtension(file.Name, target) {
		mimeType := file.MimeType
		if mimeType == "" {
			mimeType = target.MimeType
		}
		return domain.ConversionResult{
			Name:              file.Name,
			MimeType:          mimeType,
			RequestedMimeType: target.MimeType,
			Data:              file.Data,
			Passthrough:       true,
		}, nil
	}

	decoded, err := c.raster.Decode(ctx, file.Data, file.MimeType)
	if err != nil {
		return domain.ConversionResult{}, err
	}
	dims := decoded.Dimensions()

	surface, err := c.raster.DrawOnto(decoded, dims.Width, dims.Height)
	if err != nil {
		return domain.ConversionResult{}, err
	}

	encoded, err := c.raster.Encode(ctx, surface, target.MimeType, 0)
	if err != nil {
		return domain.ConversionResult{}, err
	}

	name := OutputName(file.Name, target)
	if encoded.Substituted() {
		if actual, ok := domain.FormatForMime(encoded.MimeType); ok {
			name = OutputName(file.Name, actual)
		}
		c.logf("format substituted file=%s requested=%s actual=%s", file.Name, encoded.RequestedMimeType, encoded.MimeType)
	}

	return domain.ConversionResult{
		Name:              name,
		MimeType:          encoded.MimeType,
		RequestedMimeType: encoded.RequestedMimeType,
		Data:              encoded.Data,
		Width:             dims.Width,
		Height:            dims.Height,
		Substituted:       encoded.Substituted(),
	}, nil
}

// SameExtension compares the file's extension with the target's, ignoring
// case only. A .jpeg file targeted at JPG is re-encoded as .jpg.
func SameExtension(name string, target domain.FormatSpec) bool {
	ext := domain.FileExtension(name)
	return ext != "" && ext == domain.NormalizeExtension(target.Extension)
}

// OutputName replaces the last extension of name with the target's.
func OutputName(name string, target domain.FormatSpec) string {
	base := name
	if i := strings.LastIndexByte(name, '.'); i > 0 && !strings.ContainsAny(name[i:], `/\`) {
		base = name[:i]
	}
	return base + target.Extension
}

func (c *Converter) logf(format string, args ...any) {
	if c.logger == nil {
		return
	}
	c.logger.Printf(format, args...)
}
