package domain

import (
	"errors"
	"path"
	"strings"
)

var ErrUnsupportedFormat = errors.New("unsupported image format")

// FormatSpec names one output format the converter can target.
type FormatSpec struct {
	Name      string `json:"name"`
	MimeType  string `json:"mime_type"`
	Extension string `json:"extension"`
}

var (
	FormatJPG  = FormatSpec{Name: "JPG", MimeType: "image/jpeg", Extension: ".jpg"}
	FormatPNG  = FormatSpec{Name: "PNG", MimeType: "image/png", Extension: ".png"}
	FormatWEBP = FormatSpec{Name: "WEBP", MimeType: "image/webp", Extension: ".webp"}
	FormatBMP  = FormatSpec{Name: "BMP", MimeType: "image/bmp", Extension: ".bmp"}
)

// SupportedFormats returns the fixed format set in display order.
func SupportedFormats() []FormatSpec {
	return []FormatSpec{FormatJPG, FormatPNG, FormatWEBP, FormatBMP}
}

// DefaultFormat is selected when a request does not name a target.
func DefaultFormat() FormatSpec {
	return FormatJPG
}

// LookupFormat resolves a format by name, extension (with or without the
// leading dot) or mime type. "jpeg" is accepted as an alias of JPG.
func LookupFormat(key string) (FormatSpec, error) {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" {
		return FormatSpec{}, ErrUnsupportedFormat
	}

	for _, f := range SupportedFormats() {
		switch key {
		case strings.ToLower(f.Name), f.MimeType, f.Extension, strings.TrimPrefix(f.Extension, "."):
			return f, nil
		}
	}
	if key == "jpeg" || key == ".jpeg" {
		return FormatJPG, nil
	}
	return FormatSpec{}, ErrUnsupportedFormat
}

// FormatForMime returns the format that produces mimeType.
func FormatForMime(mimeType string) (FormatSpec, bool) {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	for _, f := range SupportedFormats() {
		if f.MimeType == mimeType {
			return f, true
		}
	}
	return FormatSpec{}, false
}

// NormalizeExtension lowercases ext and adds the leading dot. Aliases such as
// .jpeg are kept as written.
func NormalizeExtension(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext == "" {
		return ""
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

// FileExtension returns the lowercased extension of a file name, or "" when
// the name has none.
func FileExtension(name string) string {
	return NormalizeExtension(path.Ext(name))
}
