package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/dunamismax/filezenith/internal/domain"
	"github.com/dunamismax/filezenith/internal/session"
)

func (s *Server) handleCreateBatch(w http.ResponseWriter, _ *http.Request) {
	b := s.sessions.Create()
	writeJSON(w, http.StatusCreated, b.View())
}

func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	b, ok := s.batch(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, b.View())
}

func (s *Server) handleCloseBatch(w http.ResponseWriter, r *http.Request) {
	released, ok := s.sessions.Close(r.PathValue("id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "batch not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"closed": true, "released_handles": released})
}

func (s *Server) handleAddBatchFiles(w http.ResponseWriter, r *http.Request) {
	b, ok := s.batch(w, r)
	if !ok {
		return
	}
	files, err := s.readUploads(w, r, "files")
	if err != nil {
		s.writeError(w, r, "add batch files", err)
		return
	}

	added, err := b.Add(files)
	if err != nil {
		s.writeError(w, r, "add batch files", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"added":   added,
		"skipped": len(files) - added,
		"batch":   b.View(),
	})
}

func (s *Server) handleClearBatch(w http.ResponseWriter, r *http.Request) {
	b, ok := s.batch(w, r)
	if !ok {
		return
	}
	b.Clear()
	writeJSON(w, http.StatusOK, b.View())
}

func (s *Server) handleRemoveBatchFile(w http.ResponseWriter, r *http.Request) {
	b, ok := s.batch(w, r)
	if !ok {
		return
	}
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "file index must be an integer"})
		return
	}
	if err := b.Remove(index); err != nil {
		s.writeError(w, r, "remove batch file", err)
		return
	}
	writeJSON(w, http.StatusOK, b.View())
}

type convertBatchRequest struct {
	Format string `json:"format"`
}

func (s *Server) handleConvertBatch(w http.ResponseWriter, r *http.Request) {
	b, ok := s.batch(w, r)
	if !ok {
		return
	}

	var req convertBatchRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
	}
	target := domain.DefaultFormat()
	if strings.TrimSpace(req.Format) != "" {
		var err error
		if target, err = domain.LookupFormat(req.Format); err != nil {
			s.writeError(w, r, "convert batch", err)
			return
		}
	}

	results, err := b.Convert(r.Context(), s.converter, target)
	if err != nil {
		s.writeError(w, r, "convert batch", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"batch_id": b.ID(),
		"format":   target.Name,
		"results":  results,
	})
}

func (s *Server) handleDownloadBatch(w http.ResponseWriter, r *http.Request) {
	b, ok := s.batch(w, r)
	if !ok {
		return
	}

	download, err := b.Download(s.now())
	if err != nil {
		s.writeError(w, r, "download batch", err)
		return
	}
	substituted := false
	for _, res := range b.Results() {
		substituted = substituted || res.Substituted
	}
	s.writeBlob(w, "attachment", download.Name, download.MimeType, download.Data, substituted)
}

// handleOpenHandle serves a pending-file preview or a result by handle.
func (s *Server) handleOpenHandle(w http.ResponseWriter, r *http.Request) {
	h, data, ok := s.registry.Open(r.PathValue("handle"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "handle not found"})
		return
	}
	disposition := "inline"
	if r.URL.Query().Get("download") == "1" {
		disposition = "attachment"
	}
	s.writeBlob(w, disposition, h.Name, h.MimeType, data, false)
}

func (s *Server) batch(w http.ResponseWriter, r *http.Request) (*session.Batch, bool) {
	b, ok := s.sessions.Get(r.PathValue("id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "batch not found"})
		return nil, false
	}
	return b, true
}
