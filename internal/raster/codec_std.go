package raster

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"

	"github.com/HugoSmits86/nativewebp"
	"golang.org/x/image/bmp"
)

// defaultJPEGQuality matches the browser default for canvas exports.
const defaultJPEGQuality = 92

// StdCodec encodes with the standard library, x/image and nativewebp. WEBP
// output is lossless VP8L, so quality does not apply to it. Other mime types
// are substituted with PNG.
type StdCodec struct{}

func (StdCodec) Name() string { return "stdlib" }

func (StdCodec) Supports(mimeType string) bool {
	switch mimeType {
	case "image/jpeg", "image/png", "image/bmp", "image/webp":
		return true
	default:
		return false
	}
}

func (c StdCodec) Encode(ctx context.Context, img image.Image, mimeType string, quality float64) (Encoded, error) {
	if err := ctx.Err(); err != nil {
		return Encoded{}, err
	}

	var buf bytes.Buffer
	actual := mimeType
	switch mimeType {
	case "image/jpeg":
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: qualityPercent(quality, defaultJPEGQuality)}); err != nil {
			return Encoded{}, fmt.Errorf("encode jpeg: %w", err)
		}
	case "image/bmp":
		if err := bmp.Encode(&buf, img); err != nil {
			return Encoded{}, fmt.Errorf("encode bmp: %w", err)
		}
	case "image/webp":
		if err := nativewebp.Encode(&buf, img, nil); err != nil {
			return Encoded{}, fmt.Errorf("encode webp: %w", err)
		}
	default:
		actual = "image/png"
		encoder := png.Encoder{CompressionLevel: png.DefaultCompression}
		if err := encoder.Encode(&buf, img); err != nil {
			return Encoded{}, fmt.Errorf("encode png: %w", err)
		}
	}

	return Encoded{Data: buf.Bytes(), MimeType: actual, RequestedMimeType: mimeType}, nil
}
