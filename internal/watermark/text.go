package watermark

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/dunamismax/filezenith/internal/domain"
	"golang.org/x/image/colornames"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goitalic"
	"golang.org/x/image/font/gofont/gomedium"
	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/f64"
	"golang.org/x/image/math/fixed"
)

// FontFamilies lists the family names the picker offers.
var FontFamilies = []string{
	"Default", "Arial", "Verdana", "Helvetica", "Times New Roman", "Courier New",
	"Georgia", "Palatino", "Garamond", "Comic Sans MS", "Impact",
}

var (
	fontMu    sync.Mutex
	fontCache = map[string]*opentype.Font{}
)

func fontData(family string) (string, []byte) {
	switch strings.ToLower(strings.TrimSpace(family)) {
	case "courier new", "courier", "monospace":
		return "gomono", gomono.TTF
	case "impact":
		return "gobold", gobold.TTF
	case "comic sans ms":
		return "goitalic", goitalic.TTF
	case "times new roman", "georgia", "palatino", "garamond", "serif":
		return "gomedium", gomedium.TTF
	default:
		return "goregular", goregular.TTF
	}
}

func parsedFont(family string) (*opentype.Font, error) {
	key, ttf := fontData(family)

	fontMu.Lock()
	defer fontMu.Unlock()
	if f, ok := fontCache[key]; ok {
		return f, nil
	}
	f, err := opentype.Parse(ttf)
	if err != nil {
		return nil, fmt.Errorf("parse font %s: %w", key, err)
	}
	fontCache[key] = f
	return f, nil
}

// newFace returns a face sized in pixels. Faces are not safe for concurrent
// use, so each render gets its own.
func newFace(family string, sizePx int) (font.Face, error) {
	f, err := parsedFont(family)
	if err != nil {
		return nil, err
	}
	return opentype.NewFace(f, &opentype.FaceOptions{
		Size:    float64(sizePx),
		DPI:     72,
		Hinting: font.HintingNone,
	})
}

// ParseColor accepts #RGB, #RRGGBB, #RRGGBBAA and CSS color names.
func ParseColor(raw string) (color.NRGBA, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if !strings.HasPrefix(s, "#") {
		if c, ok := colornames.Map[s]; ok {
			return color.NRGBA{R: c.R, G: c.G, B: c.B, A: c.A}, nil
		}
		return color.NRGBA{}, fmt.Errorf("%w: unknown color %q", domain.ErrInvalidWatermark, raw)
	}

	hex := s[1:]
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) == 6 {
		hex += "ff"
	}
	if len(hex) != 8 {
		return color.NRGBA{}, fmt.Errorf("%w: malformed color %q", domain.ErrInvalidWatermark, raw)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("%w: malformed color %q", domain.ErrInvalidWatermark, raw)
	}
	return color.NRGBA{R: uint8(v >> 24), G: uint8(v >> 16), B: uint8(v >> 8), A: uint8(v)}, nil
}

// stamp is the watermark text rendered once, with its shadow, onto a
// transparent patch that is then composited at every placement.
type stamp struct {
	patch   *image.RGBA
	width   float64
	ascent  float64
	descent float64
	pad     float64
}

type stampStyle struct {
	text    string
	family  string
	sizePx  int
	color   color.NRGBA
	opacity float64
	shadow  bool
}

func renderStamp(style stampStyle) (*stamp, error) {
	face, err := newFace(style.family, style.sizePx)
	if err != nil {
		return nil, err
	}
	defer face.Close()

	metrics := face.Metrics()
	ascent := float64(metrics.Ascent.Ceil())
	descent := float64(metrics.Descent.Ceil())
	width := float64(font.MeasureString(face, style.text).Ceil())

	blur := float64(style.sizePx) / 4
	pad := 2.0
	if style.shadow {
		pad += math.Ceil(blur*1.5) + 1
	}

	w := int(width + 2*pad)
	h := int(ascent + descent + 2*pad)
	patch := image.NewRGBA(image.Rect(0, 0, max(w, 1), max(h, 1)))
	baseline := fixed.P(int(pad), int(pad+ascent))

	if style.shadow {
		shadow := image.NewRGBA(patch.Bounds())
		shadowDrawer := &font.Drawer{
			Dst:  shadow,
			Src:  image.NewUniform(color.NRGBA{A: uint8(math.Round(127.5 * clamp01(style.opacity)))}),
			Face: face,
			Dot:  baseline.Add(fixed.P(1, 1)),
		}
		shadowDrawer.DrawString(style.text)
		blurred := imaging.Blur(shadow, blur/2)
		draw.Draw(patch, patch.Bounds(), blurred, image.Point{}, draw.Over)
	}

	fill := style.color
	fill.A = uint8(math.Round(float64(fill.A) * clamp01(style.opacity)))
	drawer := &font.Drawer{
		Dst:  patch,
		Src:  image.NewUniform(fill),
		Face: face,
		Dot:  baseline,
	}
	drawer.DrawString(style.text)

	return &stamp{patch: patch, width: width, ascent: ascent, descent: descent, pad: pad}, nil
}

// anchorPoint is the patch coordinate an Instance's X/Y refers to.
func (s *stamp) anchorPoint(a Anchor) (float64, float64) {
	if a == AnchorCenter {
		return s.pad + s.width/2, s.pad + (s.ascent+s.descent)/2
	}
	return s.pad, s.pad + s.ascent
}

// drawAt composites the patch so its anchor lands on (X, Y), rotated by
// degrees around the instance pivot.
func (s *stamp) drawAt(dst draw.Image, inst Instance, degrees float64) {
	ax, ay := s.anchorPoint(inst.Anchor)
	rad := degrees * math.Pi / 180
	sin, cos := math.Sincos(rad)

	// surface = R * (patch - anchor + XY - pivot) + pivot
	tx := inst.X - inst.PivotX - ax
	ty := inst.Y - inst.PivotY - ay
	m := f64.Aff3{
		cos, -sin, cos*tx - sin*ty + inst.PivotX,
		sin, cos, sin*tx + cos*ty + inst.PivotY,
	}
	xdraw.BiLinear.Transform(dst, m, s.patch, s.patch.Bounds(), xdraw.Over, nil)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
