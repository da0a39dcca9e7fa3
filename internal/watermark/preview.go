package watermark

import (
	"context"
	"fmt"
	"image"
	"image/draw"

	"github.com/disintegration/imaging"
	"github.com/dunamismax/filezenith/internal/domain"
	"github.com/dunamismax/filezenith/internal/raster"
)

// Preview renders what the editor shows: the image fitted into the preview
// box and the mark at its authored size. Single marks are box-aligned, so
// they sit a few pixels off the exported baseline position.
func (c *Compositor) Preview(ctx context.Context, req Request) (Output, error) {
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
	box := req.Preview
	if box.Empty() {
		box = FitPreview(decoded.Dimensions(), req.ViewportWidth)
	}

	surface, err := raster.NewSurface(box.Width, box.Height)
	if err != nil {
		return Output{}, err
	}
	fitted := imaging.Fit(decoded.Image(), box.Width, box.Height, imaging.Lanczos)
	fb := fitted.Bounds()
	at := image.Pt((box.Width-fb.Dx())/2, (box.Height-fb.Dy())/2)
	draw.Draw(surface.RGBA, fb.Sub(fb.Min).Add(at), fitted, fb.Min, draw.Src)

	st, err := renderStamp(stampStyle{
		text:    spec.Text,
		family:  spec.FontFamily,
		sizePx:  spec.FontSize,
		color:   fill,
		opacity: spec.Opacity,
		shadow:  spec.Shadow,
	})
	if err != nil {
		return Output{}, fmt.Errorf("%w: %v", raster.ErrSurface, err)
	}

	var placements []Instance
	if spec.Tiled() {
		placements = TilePlacements(box, spec.TileSpacing)
	} else {
		placements = []Instance{PreviewPlacement(spec.Position, box, st.width, st.ascent+st.descent)}
	}
	for _, inst := range placements {
		st.drawAt(surface.RGBA, inst, float64(spec.Rotation))
	}

	enc, err := c.raster.Encode(ctx, surface, domain.FormatPNG.MimeType, 0)
	if err != nil {
		return Output{}, err
	}
	return Output{
		Name:       "preview.png",
		MimeType:   enc.MimeType,
		Data:       enc.Data,
		Dimensions: box,
		Preview:    box,
		Scale:      1,
		FontSize:   spec.FontSize,
		Spacing:    spec.TileSpacing,
		Instances:  len(placements),
	}, nil
}
