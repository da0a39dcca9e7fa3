package api

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"mime"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dunamismax/filezenith/internal/handle"
	"github.com/dunamismax/filezenith/internal/raster"
	"github.com/dunamismax/filezenith/internal/session"
	"github.com/klauspost/compress/zip"
)

func TestConvertSingleFileDownload(t *testing.T) {
	registry := handle.NewRegistry()
	s := newTestServer(t, Options{Sessions: session.NewManager(registry, 0)})

	req := multipartRequest(t, "/v1/convert", []part{{field: "files", name: "photo.png", data: buildTestPNG(t, 300, 200)}}, map[string]string{"format": "jpg"})
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/jpeg" {
		t.Fatalf("expected image/jpeg, got %s", ct)
	}
	if name := dispositionName(t, rec); name != "photo.jpg" {
		t.Fatalf("expected photo.jpg, got %s", name)
	}
	img, err := jpeg.Decode(bytes.NewReader(rec.Body.Bytes()))
	if err != nil {
		t.Fatalf("decode jpeg body: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 300 || b.Dy() != 200 {
		t.Fatalf("expected 300x200, got %dx%d", b.Dx(), b.Dy())
	}
	if registry.Len() != 0 {
		t.Fatalf("expected one-shot conversion to leave no handles, %d live", registry.Len())
	}
}

func TestConvertSeveralFilesReturnsZip(t *testing.T) {
	s := newTestServer(t, Options{})

	req := multipartRequest(t, "/v1/convert", []part{
		{field: "files", name: "a.png", data: buildTestPNG(t, 20, 20)},
		{field: "files", name: "notes.txt", data: []byte("skip me")},
		{field: "files", name: "b.png", data: buildTestPNG(t, 30, 10)},
	}, map[string]string{"format": "bmp"})
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/zip" {
		t.Fatalf("expected application/zip, got %s", ct)
	}
	wantZip := fmt.Sprintf("converted-images-%d.zip", fixedNow.UnixMilli())
	if name := dispositionName(t, rec); name != wantZip {
		t.Fatalf("expected %s, got %s", wantZip, name)
	}

	zr, err := zip.NewReader(bytes.NewReader(rec.Body.Bytes()), int64(rec.Body.Len()))
	if err != nil {
		t.Fatalf("open zip: %v", err)
	}
	if len(zr.File) != 2 || zr.File[0].Name != "a.bmp" || zr.File[1].Name != "b.bmp" {
		names := make([]string, len(zr.File))
		for i, f := range zr.File {
			names[i] = f.Name
		}
		t.Fatalf("unexpected zip entries %v", names)
	}
}

func TestConvertPassthroughKeepsBytes(t *testing.T) {
	s := newTestServer(t, Options{})
	src := buildTestPNG(t, 16, 16)

	req := multipartRequest(t, "/v1/convert", []part{{field: "files", name: "same.PNG", data: src}}, map[string]string{"format": "png"})
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !bytes.Equal(rec.Body.Bytes(), src) {
		t.Fatal("expected passthrough bytes to equal the upload")
	}
}

func TestConvertWEBPIsNative(t *testing.T) {
	s := newTestServer(t, Options{})

	req := multipartRequest(t, "/v1/convert", []part{{field: "files", name: "photo.png", data: buildTestPNG(t, 300, 200)}}, map[string]string{"format": "webp"})
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get(HeaderSubstituted) != "" {
		t.Fatal("expected no substitution header for webp")
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/webp" {
		t.Fatalf("expected image/webp, got %s", ct)
	}
	if name := dispositionName(t, rec); name != "photo.webp" {
		t.Fatalf("expected photo.webp, got %s", name)
	}
}

func TestConvertSubstitutionHeader(t *testing.T) {
	s := newTestServer(t, Options{Rasterizer: raster.New(noWebpCodec{})})

	req := multipartRequest(t, "/v1/convert", []part{{field: "files", name: "photo.png", data: buildTestPNG(t, 16, 16)}}, map[string]string{"format": "webp"})
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get(HeaderSubstituted) != "true" {
		t.Fatal("expected substitution header for webp on a codec without a webp encoder")
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Fatalf("expected png fallback, got %s", ct)
	}
	if name := dispositionName(t, rec); name != "photo.png" {
		t.Fatalf("expected name with the actual extension, got %s", name)
	}
}

func TestConvertRejections(t *testing.T) {
	s := newTestServer(t, Options{})

	cases := []struct {
		name   string
		parts  []part
		fields map[string]string
		status int
	}{
		{
			name:   "no images",
			parts:  []part{{field: "files", name: "notes.txt", data: []byte("hello")}},
			status: http.StatusBadRequest,
		},
		{
			name:   "unknown format",
			parts:  []part{{field: "files", name: "a.png", data: buildTestPNG(t, 4, 4)}},
			fields: map[string]string{"format": "tiff"},
			status: http.StatusBadRequest,
		},
		{
			name: "too many files",
			parts: []part{
				{field: "files", name: "1.png", data: buildTestPNG(t, 4, 4)},
				{field: "files", name: "2.png", data: buildTestPNG(t, 4, 4)},
				{field: "files", name: "3.png", data: buildTestPNG(t, 4, 4)},
				{field: "files", name: "4.png", data: buildTestPNG(t, 4, 4)},
				{field: "files", name: "5.png", data: buildTestPNG(t, 4, 4)},
				{field: "files", name: "6.png", data: buildTestPNG(t, 4, 4)},
			},
			status: http.StatusBadRequest,
		},
		{
			name:   "undecodable image",
			parts:  []part{{field: "files", name: "broken.png", data: []byte("not a png")}},
			fields: map[string]string{"format": "jpg"},
			status: http.StatusUnprocessableEntity,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, multipartRequest(t, "/v1/convert", tc.parts, tc.fields))
			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, rec.Code, rec.Body.String())
			}
			if !strings.Contains(rec.Body.String(), `"error"`) {
				t.Fatalf("expected JSON error body, got %s", rec.Body.String())
			}
		})
	}
}

func TestWatermarkKeepsSourceDimensions(t *testing.T) {
	s := newTestServer(t, Options{})

	req := multipartRequest(t, "/v1/watermark", []part{{field: "image", name: "photo.png", data: buildTestPNG(t, 1000, 800)}}, map[string]string{
		"text":           "Copyright",
		"position":       "bottom-right",
		"font_size":      "16",
		"preview_width":  "400",
		"preview_height": "320",
	})
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if name := dispositionName(t, rec); name != "watermarked-20260102030405.png" {
		t.Fatalf("unexpected name %s", name)
	}
	if fs := rec.Header().Get("X-Filezenith-Font-Size"); fs != "40" {
		t.Fatalf("expected exported font size 40, got %s", fs)
	}
	img, err := png.Decode(bytes.NewReader(rec.Body.Bytes()))
	if err != nil {
		t.Fatalf("decode png body: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 1000 || b.Dy() != 800 {
		t.Fatalf("expected 1000x800, got %dx%d", b.Dx(), b.Dy())
	}
}

func TestWatermarkRejectsInvalidSettings(t *testing.T) {
	s := newTestServer(t, Options{})
	src := buildTestPNG(t, 40, 40)

	for _, fields := range []map[string]string{
		{"font_size": "99"},
		{"opacity": "1.5"},
		{"position": "middle"},
		{"text": "  "},
		{"preview_width": "200"},
		{"preview_width": "1", "preview_height": "1"},
		{"preview_width": "16384", "preview_height": "16384"},
		{"shadow": "maybe"},
	} {
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, multipartRequest(t, "/v1/watermark", []part{{field: "image", name: "a.png", data: src}}, fields))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("fields %v: expected 400, got %d", fields, rec.Code)
		}
	}
}

func TestWatermarkPreviewRejectsOversizedBox(t *testing.T) {
	s := newTestServer(t, Options{})

	req := multipartRequest(t, "/v1/watermark/preview", []part{{field: "image", name: "photo.png", data: buildTestPNG(t, 40, 40)}}, map[string]string{
		"preview_width":  "16384",
		"preview_height": "16384",
	})
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "preview must be between") {
		t.Fatalf("expected preview bounds message, got %s", rec.Body.String())
	}
}

func TestWatermarkPreviewMatchesBox(t *testing.T) {
	s := newTestServer(t, Options{})

	req := multipartRequest(t, "/v1/watermark/preview", []part{{field: "image", name: "photo.png", data: buildTestPNG(t, 1000, 800)}}, map[string]string{
		"position":       "full",
		"preview_width":  "400",
		"preview_height": "320",
	})
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(rec.Body.Bytes()))
	if err != nil {
		t.Fatalf("decode preview: %v", err)
	}
	if format != "png" || cfg.Width != 400 || cfg.Height != 320 {
		t.Fatalf("expected 400x320 png, got %s %dx%d", format, cfg.Width, cfg.Height)
	}
	if !strings.HasPrefix(rec.Header().Get("Content-Disposition"), "inline") {
		t.Fatalf("expected inline disposition, got %s", rec.Header().Get("Content-Disposition"))
	}
}

func dispositionName(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	_, params, err := mime.ParseMediaType(rec.Header().Get("Content-Disposition"))
	if err != nil {
		t.Fatalf("parse content disposition: %v", err)
	}
	return params["filename"]
}
