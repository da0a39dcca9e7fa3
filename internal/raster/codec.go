package raster

import (
	"context"
	"image"
)

// Codec encodes RGBA surfaces. A codec asked for a mime type it cannot
// produce falls back to PNG and reports it through Encoded.
type Codec interface {
	Name() string
	Supports(mimeType string) bool
	Encode(ctx context.Context, img image.Image, mimeType string, quality float64) (Encoded, error)
}

type Encoded struct {
	Data              []byte
	MimeType          string
	RequestedMimeType string
}

func (e Encoded) Substituted() bool {
	return e.RequestedMimeType != "" && e.MimeType != e.RequestedMimeType
}

func qualityPercent(quality float64, fallback int) int {
	if quality <= 0 || quality > 1 {
		return fallback
	}
	q := int(quality*100 + 0.5)
	if q < 1 {
		q = 1
	}
	return q
}
