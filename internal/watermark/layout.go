package watermark

import (
	"math"

	"github.com/dunamismax/filezenith/internal/domain"
)

const (
	// EdgeMargin is the export inset for corner positions. It is not scaled.
	EdgeMargin = 20
	// PreviewInset is the inset the on-screen preview uses for corner
	// positions (box-aligned, not baseline-aligned).
	PreviewInset = 10

	MaxPreviewWidth      = domain.MaxPreviewWidth
	MaxPreviewHeight     = domain.MaxPreviewHeight
	MinPreviewSide       = domain.MinPreviewSide
	ViewportGutter       = 80
	DefaultViewportWidth = 1280
)

// Anchor says which point of the rendered text an Instance positions.
type Anchor int

const (
	// AnchorBaseline places the left end of the text baseline.
	AnchorBaseline Anchor = iota
	// AnchorCenter places the center of the text box.
	AnchorCenter
)

// Instance is one watermark draw: where the text goes and the point it
// rotates around.
type Instance struct {
	X, Y           float64
	PivotX, PivotY float64
	Anchor         Anchor
}

// FitPreview computes the preview box the image is shown in: bounded by
// min(1200, viewport-80) x 800, aspect preserved, at least 100 per side.
func FitPreview(natural domain.Dimensions, viewportWidth int) domain.Dimensions {
	if natural.Empty() {
		return domain.Dimensions{Width: MinPreviewSide, Height: MinPreviewSide}
	}
	if viewportWidth <= 0 {
		viewportWidth = DefaultViewportWidth
	}

	maxWidth := math.Min(MaxPreviewWidth, float64(viewportWidth-ViewportGutter))
	maxHeight := float64(MaxPreviewHeight)
	nw, nh := float64(natural.Width), float64(natural.Height)
	aspect := nw / nh

	var w, h float64
	if natural.Width > natural.Height {
		w = math.Min(maxWidth, nw)
		h = w / aspect
		if h > maxHeight {
			h = maxHeight
			w = h * aspect
		}
	} else {
		h = math.Min(maxHeight, nh)
		w = h * aspect
		if w > maxWidth {
			w = maxWidth
			h = w / aspect
		}
	}

	return domain.Dimensions{
		Width:  max(MinPreviewSide, int(math.Round(w))),
		Height: max(MinPreviewSide, int(math.Round(h))),
	}
}

// ScaleFactor maps preview units to natural pixels along the constraining
// axis.
func ScaleFactor(natural, preview domain.Dimensions) float64 {
	if natural.Empty() || preview.Empty() {
		return 1
	}
	imageRatio := float64(natural.Width) / float64(natural.Height)
	previewRatio := float64(preview.Width) / float64(preview.Height)
	if imageRatio > previewRatio {
		return float64(natural.Width) / float64(preview.Width)
	}
	return float64(natural.Height) / float64(preview.Height)
}

func ScaledFontSize(fontSize int, scale float64) int {
	return max(int(math.Round(float64(fontSize)*scale)), domain.MinFontSize)
}

func ScaledSpacing(spacing int, scale float64) int {
	return max(int(math.Round(float64(spacing)*scale)), 1)
}

// Grid returns the tile grid for a surface: ceil(H/spacing) rows,
// ceil(W/spacing) columns, and the offset that centers it.
func Grid(surface domain.Dimensions, spacing int) (rows, cols int, offsetX, offsetY float64) {
	if spacing <= 0 || surface.Empty() {
		return 0, 0, 0, 0
	}
	rows = int(math.Ceil(float64(surface.Height) / float64(spacing)))
	cols = int(math.Ceil(float64(surface.Width) / float64(spacing)))
	offsetX = (float64(surface.Width) - float64((cols-1)*spacing)) / 2
	offsetY = (float64(surface.Height) - float64((rows-1)*spacing)) / 2
	return rows, cols, offsetX, offsetY
}

func TileCount(surface domain.Dimensions, spacing int) int {
	rows, cols, _, _ := Grid(surface, spacing)
	return rows * cols
}

// TilePlacements centers one instance on every grid point.
func TilePlacements(surface domain.Dimensions, spacing int) []Instance {
	rows, cols, offsetX, offsetY := Grid(surface, spacing)
	out := make([]Instance, 0, rows*cols)
	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			x := offsetX + float64(col*spacing)
			y := offsetY + float64(row*spacing)
			out = append(out, Instance{X: x, Y: y, PivotX: x, PivotY: y, Anchor: AnchorCenter})
		}
	}
	return out
}

// ExportPlacement positions a single mark on the full-resolution surface.
// Y is a baseline; textHeight is the scaled font size. The pivot is the
// visual center of the text.
func ExportPlacement(pos domain.Position, surface domain.Dimensions, textWidth, textHeight float64) Instance {
	w, h := float64(surface.Width), float64(surface.Height)
	const m = EdgeMargin

	var x, y float64
	switch pos {
	case domain.PositionTopLeft:
		x, y = m, textHeight+m
	case domain.PositionTopRight:
		x, y = w-textWidth-m, textHeight+m
	case domain.PositionBottomLeft:
		x, y = m, h-m
	case domain.PositionCenter:
		x, y = (w-textWidth)/2, h/2+textHeight/2
	default:
		x, y = w-textWidth-m, h-m
	}

	return Instance{
		X:      x,
		Y:      y,
		PivotX: x + textWidth/2,
		PivotY: y - textHeight/2,
		Anchor: AnchorBaseline,
	}
}

// PreviewPlacement positions a single mark the way the on-screen preview
// lays out its text box. It differs from ExportPlacement by a few pixels
// vertically because the export is baseline-aligned.
func PreviewPlacement(pos domain.Position, surface domain.Dimensions, boxWidth, boxHeight float64) Instance {
	w, h := float64(surface.Width), float64(surface.Height)
	const inset = PreviewInset

	var left, top float64
	switch pos {
	case domain.PositionTopLeft:
		left, top = inset, inset
	case domain.PositionTopRight:
		left, top = w-boxWidth-inset, inset
	case domain.PositionBottomLeft:
		left, top = inset, h-boxHeight-inset
	case domain.PositionCenter:
		left, top = (w-boxWidth)/2, (h-boxHeight)/2
	default:
		left, top = w-boxWidth-inset, h-boxHeight-inset
	}

	cx, cy := left+boxWidth/2, top+boxHeight/2
	return Instance{X: cx, Y: cy, PivotX: cx, PivotY: cy, Anchor: AnchorCenter}
}
