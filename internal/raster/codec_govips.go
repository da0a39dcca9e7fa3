//go:build govips && cgo

package raster

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"

	"github.com/davidbyttow/govips/v2/vips"
)

// VipsCodec exports through libvips, which adds WEBP output. BMP is not a
// libvips saver and is delegated to StdCodec.
type VipsCodec struct{}

func (VipsCodec) Name() string { return "govips" }

func (VipsCodec) Supports(mimeType string) bool {
	switch mimeType {
	case "image/jpeg", "image/png", "image/webp", "image/bmp":
		return true
	default:
		return false
	}
}

func (c VipsCodec) Encode(ctx context.Context, img image.Image, mimeType string, quality float64) (Encoded, error) {
	if err := ctx.Err(); err != nil {
		return Encoded{}, err
	}
	if mimeType == "image/bmp" {
		return StdCodec{}.Encode(ctx, img, mimeType, quality)
	}

	// libvips loads from an encoded buffer; an uncompressed PNG is the
	// cheapest lossless handoff.
	var raw bytes.Buffer
	handoff := png.Encoder{CompressionLevel: png.NoCompression}
	if err := handoff.Encode(&raw, img); err != nil {
		return Encoded{}, fmt.Errorf("prepare vips buffer: %w", err)
	}

	ref, err := vips.NewImageFromBuffer(raw.Bytes())
	if err != nil {
		return Encoded{}, fmt.Errorf("load vips image: %w", err)
	}
	defer ref.Close()

	var (
		data   []byte
		actual = mimeType
	)
	switch mimeType {
	case "image/jpeg":
		params := vips.NewJpegExportParams()
		params.Quality = qualityPercent(quality, defaultJPEGQuality)
		data, _, err = ref.ExportJpeg(params)
	case "image/webp":
		params := vips.NewWebpExportParams()
		params.Quality = qualityPercent(quality, 80)
		data, _, err = ref.ExportWebp(params)
	default:
		actual = "image/png"
		data, _, err = ref.ExportPng(vips.NewPngExportParams())
	}
	if err != nil {
		return Encoded{}, fmt.Errorf("vips export %s: %w", actual, err)
	}

	return Encoded{Data: data, MimeType: actual, RequestedMimeType: mimeType}, nil
}
