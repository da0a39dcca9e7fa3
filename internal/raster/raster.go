package raster

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"github.com/dunamismax/filezenith/internal/domain"
	_ "golang.org/x/image/bmp"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// MaxSurfacePixels bounds a single drawing surface (16384x16384).
const MaxSurfacePixels = 16384 * 16384

var (
	ErrDecode            = errors.New("decode image")
	ErrSurface           = errors.New("acquire drawing surface")
	ErrEncode            = errors.New("encode image")
	ErrFormatSubstituted = errors.New("output format substituted")
)

// Decoded is a source image decoded at its natural size.
type Decoded struct {
	img      image.Image
	format   string
	mimeType string
}

func (d *Decoded) Dimensions() domain.Dimensions {
	b := d.img.Bounds()
	return domain.Dimensions{Width: b.Dx(), Height: b.Dy()}
}

// Format is the decoder name reported by image.Decode ("png", "jpeg", ...).
func (d *Decoded) Format() string { return d.format }

// MimeType is the detected mime type, falling back to the caller's hint.
func (d *Decoded) MimeType() string { return d.mimeType }

func (d *Decoded) Image() image.Image { return d.img }

// Surface is a drawable RGBA buffer used for compositing and export.
type Surface struct {
	RGBA *image.RGBA
}

func NewSurface(width, height int) (*Surface, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: invalid dimensions %dx%d", ErrSurface, width, height)
	}
	if int64(width)*int64(height) > MaxSurfacePixels {
		return nil, fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrSurface, width, height, MaxSurfacePixels)
	}
	return &Surface{RGBA: image.NewRGBA(image.Rect(0, 0, width, height))}, nil
}

func (s *Surface) Dimensions() domain.Dimensions {
	b := s.RGBA.Bounds()
	return domain.Dimensions{Width: b.Dx(), Height: b.Dy()}
}

// Rasterizer decodes, draws and encodes images through a Codec.
type Rasterizer struct {
	codec  Codec
	strict bool
}

type Option func(*Rasterizer)

// WithStrictFormats turns a format substitution into an encode error.
func WithStrictFormats(strict bool) Option {
	return func(r *Rasterizer) { r.strict = strict }
}

func New(codec Codec, opts ...Option) *Rasterizer {
	if codec == nil {
		codec = StdCodec{}
	}
	r := &Rasterizer{codec: codec}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewDefault builds a Rasterizer on the codec selected by build tags.
func NewDefault(opts ...Option) (*Rasterizer, error) {
	codec, err := newCodec()
	if err != nil {
		return nil, fmt.Errorf("build codec: %w", err)
	}
	return New(codec, opts...), nil
}

func (r *Rasterizer) CodecName() string {
	return r.codec.Name()
}

// Supports reports whether mimeType can be encoded without substitution.
func (r *Rasterizer) Supports(mimeType string) bool {
	return r.codec.Supports(normalizeMime(mimeType))
}

func (r *Rasterizer) Decode(ctx context.Context, data []byte, mimeHint string) (*Decoded, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrDecode)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if b := img.Bounds(); b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, fmt.Errorf("%w: image has no pixels", ErrDecode)
	}

	mimeType := mimeForFormat(format)
	if mimeType == "" {
		mimeType = normalizeMime(mimeHint)
	}
	return &Decoded{img: img, format: format, mimeType: mimeType}, nil
}

// DrawOnto copies the decoded image onto a fresh export surface of the given
// size. The image is scaled only when the size differs from its natural size.
func (r *Rasterizer) DrawOnto(src *Decoded, width, height int) (*Surface, error) {
	dst, err := NewSurface(width, height)
	if err != nil {
		return nil, err
	}

	sb := src.img.Bounds()
	if sb.Dx() == width && sb.Dy() == height {
		draw.Draw(dst.RGBA, dst.RGBA.Bounds(), src.img, sb.Min, draw.Src)
		return dst, nil
	}
	xdraw.CatmullRom.Scale(dst.RGBA, dst.RGBA.Bounds(), src.img, sb, xdraw.Src, nil)
	return dst, nil
}

// Encode serializes the surface. quality is in (0, 1]; zero selects the
// codec default.
func (r *Rasterizer) Encode(ctx context.Context, s *Surface, mimeType string, quality float64) (Encoded, error) {
	if err := ctx.Err(); err != nil {
		return Encoded{}, err
	}
	if s == nil || s.RGBA == nil {
		return Encoded{}, fmt.Errorf("%w: no surface", ErrEncode)
	}

	requested := normalizeMime(mimeType)
	enc, err := r.codec.Encode(ctx, s.RGBA, requested, quality)
	if err != nil {
		return Encoded{}, fmt.Errorf("%w: %v", ErrEncode, err)
	}
	if len(enc.Data) == 0 {
		return Encoded{}, fmt.Errorf("%w: codec returned no data", ErrEncode)
	}
	if enc.Substituted() && r.strict {
		return Encoded{}, fmt.Errorf("%w: %w: %s encoded as %s", ErrEncode, ErrFormatSubstituted, enc.RequestedMimeType, enc.MimeType)
	}
	return enc, nil
}

// IsLossy reports whether mimeType honours a quality factor.
func IsLossy(mimeType string) bool {
	switch normalizeMime(mimeType) {
	case "image/jpeg", "image/webp":
		return true
	default:
		return false
	}
}

func normalizeMime(mimeType string) string {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	switch mimeType {
	case "image/jpg", "image/pjpeg":
		return "image/jpeg"
	case "image/x-ms-bmp", "image/x-bmp":
		return "image/bmp"
	default:
		return mimeType
	}
}

func mimeForFormat(format string) string {
	switch format {
	case "jpeg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "gif":
		return "image/gif"
	case "webp":
		return "image/webp"
	case "bmp":
		return "image/bmp"
	default:
		return ""
	}
}
