package domain

import (
	"errors"
	"fmt"
	"strings"
)

type Position string

const (
	PositionTopLeft     Position = "top-left"
	PositionTopRight    Position = "top-right"
	PositionBottomLeft  Position = "bottom-left"
	PositionBottomRight Position = "bottom-right"
	PositionCenter      Position = "center"
	PositionFull        Position = "full"
)

const (
	MinFontSize    = 8
	MaxFontSize    = 36
	MinRotation    = -180
	MaxRotation    = 180
	MinTileSpacing = 50
	MaxTileSpacing = 300

	// Preview boxes are bounded the way the editor lays them out.
	MinPreviewSide   = 100
	MaxPreviewWidth  = 1200
	MaxPreviewHeight = 800
)

var ErrInvalidWatermark = errors.New("invalid watermark settings")

// WatermarkSpec describes a text watermark as authored against the preview.
type WatermarkSpec struct {
	Text        string   `json:"text"`
	Position    Position `json:"position"`
	FontSize    int      `json:"font_size"`
	Color       string   `json:"color"`
	Opacity     float64  `json:"opacity"`
	Rotation    int      `json:"rotation"`
	FontFamily  string   `json:"font_family"`
	Shadow      bool     `json:"shadow"`
	TileSpacing int      `json:"tile_spacing"`
}

func DefaultWatermarkSpec() WatermarkSpec {
	return WatermarkSpec{
		Text:        "File Zenith",
		Position:    PositionBottomRight,
		FontSize:    16,
		Color:       "#FFFFFF",
		Opacity:     0.5,
		Rotation:    0,
		FontFamily:  "Arial",
		Shadow:      false,
		TileSpacing: 150,
	}
}

func ParsePosition(raw string) (Position, error) {
	switch p := Position(strings.ToLower(strings.TrimSpace(raw))); p {
	case PositionTopLeft, PositionTopRight, PositionBottomLeft, PositionBottomRight, PositionCenter, PositionFull:
		return p, nil
	case "full-tile", "tile":
		return PositionFull, nil
	default:
		return "", fmt.Errorf("%w: unknown position %q", ErrInvalidWatermark, raw)
	}
}

func (w WatermarkSpec) Tiled() bool {
	return w.Position == PositionFull
}

func (w WatermarkSpec) Validate() error {
	if strings.TrimSpace(w.Text) == "" {
		return fmt.Errorf("%w: text is required", ErrInvalidWatermark)
	}
	if _, err := ParsePosition(string(w.Position)); err != nil {
		return err
	}
	if w.FontSize < MinFontSize || w.FontSize > MaxFontSize {
		return fmt.Errorf("%w: font_size must be between %d and %d", ErrInvalidWatermark, MinFontSize, MaxFontSize)
	}
	if w.Opacity < 0 || w.Opacity > 1 {
		return fmt.Errorf("%w: opacity must be between 0 and 1", ErrInvalidWatermark)
	}
	if w.Rotation < MinRotation || w.Rotation > MaxRotation {
		return fmt.Errorf("%w: rotation must be between %d and %d", ErrInvalidWatermark, MinRotation, MaxRotation)
	}
	if w.Tiled() && (w.TileSpacing < MinTileSpacing || w.TileSpacing > MaxTileSpacing) {
		return fmt.Errorf("%w: tile_spacing must be between %d and %d", ErrInvalidWatermark, MinTileSpacing, MaxTileSpacing)
	}
	if strings.TrimSpace(w.Color) == "" {
		return fmt.Errorf("%w: color is required", ErrInvalidWatermark)
	}
	return nil
}

// ValidatePreview checks an explicit preview box. The zero box is valid and
// means the box is derived from the image.
func ValidatePreview(d Dimensions) error {
	if d.Width == 0 && d.Height == 0 {
		return nil
	}
	if d.Width <= 0 || d.Height <= 0 {
		return fmt.Errorf("%w: preview_width and preview_height must be set together", ErrInvalidWatermark)
	}
	if d.Width < MinPreviewSide || d.Width > MaxPreviewWidth || d.Height < MinPreviewSide || d.Height > MaxPreviewHeight {
		return fmt.Errorf("%w: preview must be between %dx%d and %dx%d", ErrInvalidWatermark, MinPreviewSide, MinPreviewSide, MaxPreviewWidth, MaxPreviewHeight)
	}
	return nil
}
