package api

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/dunamismax/filezenith/internal/archive"
	"github.com/dunamismax/filezenith/internal/domain"
	"github.com/dunamismax/filezenith/internal/watermark"
)

// multipartMemory is how much of a form is buffered before spilling to disk.
const multipartMemory = 32 << 20

func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	files, err := s.readUploads(w, r, "files")
	if err != nil {
		s.writeError(w, r, "convert", err)
		return
	}
	images := domain.FilterImages(files)
	if len(images) == 0 {
		s.writeError(w, r, "convert", badRequest("no image files to convert"))
		return
	}

	target := domain.DefaultFormat()
	if raw := strings.TrimSpace(r.FormValue("format")); raw != "" {
		if target, err = domain.LookupFormat(raw); err != nil {
			s.writeError(w, r, "convert", err)
			return
		}
	}

	results, err := s.converter.Convert(r.Context(), images, target)
	if err != nil {
		s.writeError(w, r, "convert", err)
		return
	}

	substituted := false
	for _, res := range results {
		substituted = substituted || res.Substituted
	}

	download, err := archive.Bundle(results, s.now())
	if err != nil {
		s.writeError(w, r, "convert", err)
		return
	}
	s.writeBlob(w, "attachment", download.Name, download.MimeType, download.Data, substituted)
}

func (s *Server) handleWatermark(w http.ResponseWriter, r *http.Request) {
	req, err := s.readWatermarkRequest(w, r)
	if err != nil {
		s.writeError(w, r, "watermark", err)
		return
	}

	out, err := s.compositor.Apply(r.Context(), req)
	if err != nil {
		s.writeError(w, r, "watermark", err)
		return
	}

	w.Header().Set("X-Filezenith-Font-Size", strconv.Itoa(out.FontSize))
	w.Header().Set("X-Filezenith-Marks", strconv.Itoa(out.Instances))
	s.writeBlob(w, "attachment", out.Name, out.MimeType, out.Data, out.Substituted)
}

func (s *Server) handleWatermarkPreview(w http.ResponseWriter, r *http.Request) {
	req, err := s.readWatermarkRequest(w, r)
	if err != nil {
		s.writeError(w, r, "watermark preview", err)
		return
	}

	out, err := s.compositor.Preview(r.Context(), req)
	if err != nil {
		s.writeError(w, r, "watermark preview", err)
		return
	}

	w.Header().Set("X-Filezenith-Preview-Width", strconv.Itoa(out.Preview.Width))
	w.Header().Set("X-Filezenith-Preview-Height", strconv.Itoa(out.Preview.Height))
	s.writeBlob(w, "inline", out.Name, out.MimeType, out.Data, false)
}

// readWatermarkRequest reads the single "image" part and the watermark fields.
// Absent fields keep their defaults.
func (s *Server) readWatermarkRequest(w http.ResponseWriter, r *http.Request) (watermark.Request, error) {
	files, err := s.readUploads(w, r, "image")
	if err != nil {
		return watermark.Request{}, err
	}
	images := domain.FilterImages(files)
	if len(images) != 1 {
		return watermark.Request{}, badRequest("exactly one image file is required")
	}

	spec, err := watermarkSpecFromForm(r)
	if err != nil {
		return watermark.Request{}, err
	}

	previewW, err := formInt(r, "preview_width", 0)
	if err != nil {
		return watermark.Request{}, err
	}
	previewH, err := formInt(r, "preview_height", 0)
	if err != nil {
		return watermark.Request{}, err
	}
	preview := domain.Dimensions{Width: previewW, Height: previewH}
	if err := domain.ValidatePreview(preview); err != nil {
		return watermark.Request{}, err
	}
	viewport, err := formInt(r, "viewport_width", s.tools.DefaultViewportWidth)
	if err != nil {
		return watermark.Request{}, err
	}

	return watermark.Request{
		Data:          images[0].Data,
		MimeType:      images[0].MimeType,
		Spec:          spec,
		Preview:       preview,
		ViewportWidth: viewport,
	}, nil
}

func watermarkSpecFromForm(r *http.Request) (domain.WatermarkSpec, error) {
	spec := domain.DefaultWatermarkSpec()

	if v, ok := formValue(r, "text"); ok {
		spec.Text = v
	}
	if v, ok := formValue(r, "position"); ok {
		pos, err := domain.ParsePosition(v)
		if err != nil {
			return spec, err
		}
		spec.Position = pos
	}
	if v, ok := formValue(r, "color"); ok {
		spec.Color = v
	}
	if v, ok := formValue(r, "font_family"); ok {
		spec.FontFamily = v
	}

	var err error
	if spec.FontSize, err = formInt(r, "font_size", spec.FontSize); err != nil {
		return spec, err
	}
	if spec.Rotation, err = formInt(r, "rotation", spec.Rotation); err != nil {
		return spec, err
	}
	if spec.TileSpacing, err = formInt(r, "tile_spacing", spec.TileSpacing); err != nil {
		return spec, err
	}
	if v, ok := formValue(r, "opacity"); ok {
		if spec.Opacity, err = strconv.ParseFloat(v, 64); err != nil {
			return spec, badRequest("opacity must be a number")
		}
	}
	if v, ok := formValue(r, "shadow"); ok {
		if spec.Shadow, err = strconv.ParseBool(v); err != nil {
			return spec, badRequest("shadow must be true or false")
		}
	}

	if err := spec.Validate(); err != nil {
		return spec, err
	}
	return spec, nil
}

func formValue(r *http.Request, key string) (string, bool) {
	if r.MultipartForm == nil {
		return "", false
	}
	values, ok := r.MultipartForm.Value[key]
	if !ok || len(values) == 0 {
		return "", false
	}
	return strings.TrimSpace(values[0]), true
}

func formInt(r *http.Request, key string, fallback int) (int, error) {
	v, ok := formValue(r, key)
	if !ok || v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, badRequest("%s must be an integer", key)
	}
	return n, nil
}

// readUploads parses a multipart body capped at MaxUploadBytes and reads the
// parts under field. The parsed form stays available through formValue.
func (s *Server) readUploads(w http.ResponseWriter, r *http.Request, field string) ([]domain.SourceFile, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.tools.MaxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			return nil, maxBytes
		}
		return nil, badRequest("invalid multipart body: %v", err)
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File[field]
	if len(headers) == 0 {
		return nil, badRequest("multipart field %q is required", field)
	}
	if len(headers) > s.tools.MaxFiles {
		return nil, badRequest("at most %d files per request", s.tools.MaxFiles)
	}

	files := make([]domain.SourceFile, 0, len(headers))
	for _, fh := range headers {
		data, err := readPart(fh)
		if err != nil {
			return nil, fmt.Errorf("read upload %s: %w", fh.Filename, err)
		}
		files = append(files, domain.SourceFile{
			Name:     path.Base(fh.Filename),
			MimeType: partMimeType(fh),
			Data:     data,
		})
	}
	return files, nil
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// partMimeType trusts the part's declared type unless it is missing or
// generic, in which case the filename decides.
func partMimeType(fh *multipart.FileHeader) string {
	declared := fh.Header.Get("Content-Type")
	if mediaType, _, err := mime.ParseMediaType(declared); err == nil && mediaType != "application/octet-stream" {
		return mediaType
	}
	if byExt := mime.TypeByExtension(strings.ToLower(path.Ext(fh.Filename))); byExt != "" {
		if mediaType, _, err := mime.ParseMediaType(byExt); err == nil {
			return mediaType
		}
	}
	return ""
}

func (s *Server) writeBlob(w http.ResponseWriter, disposition, name, mimeType string, data []byte, substituted bool) {
	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType(disposition, map[string]string{"filename": name}))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	if substituted {
		w.Header().Set(HeaderSubstituted, "true")
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		s.logger.Printf("write response failed name=%s err=%v", name, err)
	}
	s.metrics.bytesServed.Add(float64(len(data)))
}
