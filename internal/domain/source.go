package domain

import "strings"

// SourceFile is an uploaded file as received from the client. It is never
// mutated after construction.
type SourceFile struct {
	Name     string
	MimeType string
	Data     []byte
}

// ConversionResult is one converted output. Passthrough results carry the
// source bytes unchanged.
type ConversionResult struct {
	Name              string `json:"name"`
	MimeType          string `json:"mime_type"`
	RequestedMimeType string `json:"requested_mime_type"`
	Data              []byte `json:"-"`
	Width             int    `json:"width,omitempty"`
	Height            int    `json:"height,omitempty"`
	Passthrough       bool   `json:"passthrough"`
	Substituted       bool   `json:"substituted"`
}

// Dimensions is the natural pixel size of a decoded image.
type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (d Dimensions) Empty() bool {
	return d.Width <= 0 || d.Height <= 0
}

func IsImageMime(mimeType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(mimeType)), "image/")
}

// FilterImages keeps files whose declared mime type starts with image/,
// preserving order.
func FilterImages(files []SourceFile) []SourceFile {
	out := make([]SourceFile, 0, len(files))
	for _, f := range files {
		if IsImageMime(f.MimeType) {
			out = append(out, f)
		}
	}
	return out
}
