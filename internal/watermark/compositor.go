package watermark

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/dunamismax/filezenith/internal/domain"
	"github.com/dunamismax/filezenith/internal/raster"
)

// ExportQuality is the encoder quality used for lossy outputs.
const ExportQuality = 0.8

// Request is one image to watermark. Preview is the size the settings were
// authored against; when empty it is derived from ViewportWidth.
type Request struct {
	Data          []byte
	MimeType      string
	Spec          domain.WatermarkSpec
	Preview       domain.Dimensions
	ViewportWidth int
}

type Output struct {
	Name        string
	MimeType    string
	Data        []byte
	Dimensions  domain.Dimensions
	Preview     domain.Dimensions
	Scale       float64
	FontSize    int
	Spacing     int
	Instances   int
	Substituted bool
}

type Compositor struct {
	raster *raster.Rasterizer
	logger *log.Logger
	now    func() time.Time
}

func NewCompositor(r *raster.Rasterizer, logger *log.Logger) *Compositor {
	if r == nil {
		r = raster.New(nil)
	}
	return &Compositor{raster: r, logger: logger, now: time.Now}
}

// WithClock replaces the clock used for output filenames.
func (c *Compositor) WithClock(now func() time.Time) *Compositor {
	if now != nil {
		c.now = now
	}
	return c
}

// Apply draws the watermark onto a full-resolution copy of the image and
// encodes it in the source format.
func (c *Compositor) Apply(ctx context.Context, req Request) (Output, error) {
	spec, err := normalizeSpec(req.Spec)
	if err != nil {
		return Output{}, err
	}
	fill, err := ParseColor(spec.Color)
	if err != nil {
		return Output{}, err
	}
	if err := domain.ValidatePreview(req.Preview); err != nil {
		return Output{}, err
	}

	decoded, err := c.raster.Decode(ctx, req.Data, req.MimeType)
	if err != nil {
		return Output{}, err
	}
	natural := decoded.Dimensions()
	preview := req.Preview
	if preview.Empty() {
		preview = FitPreview(natural, req.ViewportWidth)
	}

	surface, err := c.raster.DrawOnto(decoded, natural.Width, natural.Height)
	if err != nil {
		return Output{}, err
	}

	scale := ScaleFactor(natural, preview)
	fontSize := ScaledFontSize(spec.FontSize, scale)
	spacing := ScaledSpacing(spec.TileSpacing, scale)

	st, err := renderStamp(stampStyle{
		text:    spec.Text,
		family:  spec.FontFamily,
		sizePx:  fontSize,
		color:   fill,
		opacity: spec.Opacity,
		shadow:  spec.Shadow,
	})
	if err != nil {
		return Output{}, fmt.Errorf("%w: %v", raster.ErrSurface, err)
	}

	var placements []Instance
	if spec.Tiled() {
		placements = TilePlacements(natural, spacing)
	} else {
		placements = []Instance{ExportPlacement(spec.Position, natural, st.width, float64(fontSize))}
	}
	for i, inst := range placements {
		if i%64 == 0 {
			if err := ctx.Err(); err != nil {
				return Output{}, err
			}
		}
		st.drawAt(surface.RGBA, inst, float64(spec.Rotation))
	}

	mimeType := decoded.MimeType()
	if mimeType == "" {
		mimeType = req.MimeType
	}
	enc, err := c.raster.Encode(ctx, surface, mimeType, ExportQuality)
	if err != nil {
		return Output{}, err
	}
	if enc.Substituted() {
		c.logf("watermark output substituted requested=%s actual=%s", enc.RequestedMimeType, enc.MimeType)
	}

	return Output{
		Name:        OutputName(c.now(), enc.MimeType),
		MimeType:    enc.MimeType,
		Data:        enc.Data,
		Dimensions:  natural,
		Preview:     preview,
		Scale:       scale,
		FontSize:    fontSize,
		Spacing:     spacing,
		Instances:   len(placements),
		Substituted: enc.Substituted(),
	}, nil
}

// OutputName is watermarked-YYYYMMDDHHMMSS.<mime subtype>.
func OutputName(now time.Time, mimeType string) string {
	subtype := "png"
	if i := strings.IndexByte(mimeType, '/'); i >= 0 && i+1 < len(mimeType) {
		subtype = mimeType[i+1:]
	}
	return fmt.Sprintf("watermarked-%s.%s", now.Format("20060102150405"), subtype)
}

// normalizeSpec fills zero values with defaults and validates the result.
func normalizeSpec(spec domain.WatermarkSpec) (domain.WatermarkSpec, error) {
	def := domain.DefaultWatermarkSpec()
	if spec.Position == "" {
		spec.Position = def.Position
	}
	pos, err := domain.ParsePosition(string(spec.Position))
	if err != nil {
		return spec, err
	}
	spec.Position = pos
	if spec.FontSize == 0 {
		spec.FontSize = def.FontSize
	}
	if spec.Color == "" {
		spec.Color = def.Color
	}
	if spec.FontFamily == "" {
		spec.FontFamily = def.FontFamily
	}
	if spec.TileSpacing == 0 {
		spec.TileSpacing = def.TileSpacing
	}
	if err := spec.Validate(); err != nil {
		return spec, err
	}
	return spec, nil
}

func (c *Compositor) logf(format string, args ...any) {
	if c.logger != nil {
		c.logger.Printf(format, args...)
	}
}
