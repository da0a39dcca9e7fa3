package watermark

import (
	"math"
	"testing"

	"github.com/dunamismax/filezenith/internal/domain"
)

func TestFitPreview(t *testing.T) {
	tests := []struct {
		name     string
		natural  domain.Dimensions
		viewport int
		want     domain.Dimensions
	}{
		{name: "landscape capped by width and height", natural: domain.Dimensions{Width: 3000, Height: 2000}, viewport: 1280, want: domain.Dimensions{Width: 1200, Height: 800}},
		{name: "narrow viewport", natural: domain.Dimensions{Width: 4000, Height: 1000}, viewport: 800, want: domain.Dimensions{Width: 720, Height: 180}},
		{name: "portrait", natural: domain.Dimensions{Width: 1000, Height: 3000}, viewport: 1280, want: domain.Dimensions{Width: 267, Height: 800}},
		{name: "small image clamped to minimum", natural: domain.Dimensions{Width: 50, Height: 20}, viewport: 1280, want: domain.Dimensions{Width: 100, Height: 100}},
		{name: "default viewport", natural: domain.Dimensions{Width: 300, Height: 200}, viewport: 0, want: domain.Dimensions{Width: 300, Height: 200}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := FitPreview(tc.natural, tc.viewport); got != tc.want {
				t.Fatalf("expected %+v, got %+v", tc.want, got)
			}
		})
	}
}

func TestScaledFontSizeFromPreview(t *testing.T) {
	natural := domain.Dimensions{Width: 1000, Height: 800}
	preview := domain.Dimensions{Width: 400, Height: 320}

	scale := ScaleFactor(natural, preview)
	if math.Abs(scale-2.5) > 1e-9 {
		t.Fatalf("expected scale 2.5, got %v", scale)
	}
	if got := ScaledFontSize(16, scale); got != 40 {
		t.Fatalf("expected font size 40, got %d", got)
	}
	if got := ScaledFontSize(8, 0.5); got != domain.MinFontSize {
		t.Fatalf("expected font size floor %d, got %d", domain.MinFontSize, got)
	}
	if got := ScaledSpacing(150, scale); got != 375 {
		t.Fatalf("expected spacing 375, got %d", got)
	}
}

func TestScaleFactorUsesConstrainingAxis(t *testing.T) {
	// wider than the preview box: width constrains
	if got := ScaleFactor(domain.Dimensions{Width: 2000, Height: 500}, domain.Dimensions{Width: 400, Height: 200}); got != 5 {
		t.Fatalf("expected width scale 5, got %v", got)
	}
	if got := ScaleFactor(domain.Dimensions{Width: 500, Height: 2000}, domain.Dimensions{Width: 400, Height: 200}); got != 10 {
		t.Fatalf("expected height scale 10, got %v", got)
	}
}

func TestGridAndTileCount(t *testing.T) {
	surface := domain.Dimensions{Width: 1000, Height: 800}

	rows, cols, offsetX, offsetY := Grid(surface, 150)
	if rows != 6 || cols != 7 {
		t.Fatalf("expected 6x7 grid, got %dx%d", rows, cols)
	}
	if offsetX != 50 || offsetY != 25 {
		t.Fatalf("expected offsets (50, 25), got (%v, %v)", offsetX, offsetY)
	}
	if got := TileCount(surface, 150); got != 42 {
		t.Fatalf("expected 42 tiles, got %d", got)
	}

	placements := TilePlacements(surface, 150)
	if len(placements) != 42 {
		t.Fatalf("expected 42 placements, got %d", len(placements))
	}
	first := placements[0]
	if first.X != 50 || first.Y != 25 || first.Anchor != AnchorCenter {
		t.Fatalf("unexpected first placement %+v", first)
	}
	if first.PivotX != first.X || first.PivotY != first.Y {
		t.Fatalf("expected tiles to rotate about their cell point, got %+v", first)
	}
	if TileCount(surface, 0) != 0 {
		t.Fatal("expected zero spacing to produce no tiles")
	}
}

func TestExportPlacement(t *testing.T) {
	surface := domain.Dimensions{Width: 1000, Height: 800}
	const tw, th = 100.0, 40.0

	tests := []struct {
		pos  domain.Position
		x, y float64
	}{
		{domain.PositionTopLeft, 20, 60},
		{domain.PositionTopRight, 880, 60},
		{domain.PositionBottomLeft, 20, 780},
		{domain.PositionBottomRight, 880, 780},
		{domain.PositionCenter, 450, 420},
	}

	for _, tc := range tests {
		t.Run(string(tc.pos), func(t *testing.T) {
			got := ExportPlacement(tc.pos, surface, tw, th)
			if got.X != tc.x || got.Y != tc.y {
				t.Fatalf("expected (%v, %v), got (%v, %v)", tc.x, tc.y, got.X, got.Y)
			}
			if got.PivotX != tc.x+tw/2 || got.PivotY != tc.y-th/2 {
				t.Fatalf("unexpected pivot (%v, %v)", got.PivotX, got.PivotY)
			}
			if got.Anchor != AnchorBaseline {
				t.Fatalf("expected baseline anchor, got %v", got.Anchor)
			}
		})
	}
}

func TestPreviewPlacementIsBoxAligned(t *testing.T) {
	box := domain.Dimensions{Width: 400, Height: 300}
	got := PreviewPlacement(domain.PositionTopLeft, box, 80, 20)
	if got.X != 50 || got.Y != 20 {
		t.Fatalf("expected box center (50, 20), got (%v, %v)", got.X, got.Y)
	}
	got = PreviewPlacement(domain.PositionBottomRight, box, 80, 20)
	if got.X != 350 || got.Y != 280 {
		t.Fatalf("expected box center (350, 280), got (%v, %v)", got.X, got.Y)
	}
}
