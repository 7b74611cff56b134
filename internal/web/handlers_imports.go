package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/product-importer/internal/core"
	"github.com/JonMunkholm/product-importer/internal/logging"
	"github.com/JonMunkholm/product-importer/internal/progress"
)

// multipartOverhead is allowed on top of the file size for form framing.
const multipartOverhead = 1 << 20

type uploadResponse struct {
	JobID   string `json:"job_id"`
	Message string `json:"message"`
}

type importListResponse struct {
	Items []core.ImportJob `json:"items"`
	Total int              `json:"total"`
}

// handleUpload stores a multipart "file" and queues its import.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	// The server read timeout is sized for small bodies.
	if d := s.cfg.Upload.ReadTimeout; d > 0 {
		if err := http.NewResponseController(w).SetReadDeadline(time.Now().Add(d)); err != nil && !errors.Is(err, http.ErrNotSupported) {
			logging.FromContext(r.Context()).Warn("could not extend upload read deadline", "error", err)
		}
	}

	if limit := s.cfg.Upload.MaxFileSize; limit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limit+multipartOverhead)
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr), strings.Contains(err.Error(), "request body too large"):
			s.respondError(w, r, core.ErrFileTooLarge)
		default:
			s.badRequest(w, r, "file is required")
		}
		return
	}
	defer file.Close()

	job, err := s.service.StartImport(withRequestMetadata(r), header.Filename, file)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, uploadResponse{
		JobID:   job.ID,
		Message: "File uploaded successfully. Processing started.",
	})
}

func (s *Server) handleImportStatus(w http.ResponseWriter, r *http.Request) {
	job, err := s.service.GetImportStatus(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleImportStream streams progress as Server-Sent Events. Each event is
// a bare data line carrying a snapshot; the last one is stream_ended.
func (s *Server) handleImportStream(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)
	started := false

	send := func(snap progress.Snapshot) error {
		if !started {
			w.Header().Set("Content-Type", "text/event-stream")
			w.Header().Set("Cache-Control", "no-cache")
			w.Header().Set("Connection", "keep-alive")
			w.Header().Set("X-Accel-Buffering", "no")
			w.WriteHeader(http.StatusOK)
			started = true
		}
		data, err := json.Marshal(snap)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return err
		}
		return rc.Flush()
	}

	err := s.service.StreamProgress(r.Context(), chi.URLParam(r, "jobID"), send)
	if err == nil {
		return
	}
	if !started {
		s.respondError(w, r, err)
		return
	}
	if r.Context().Err() == nil {
		logging.FromContext(r.Context()).Warn("progress stream ended early", "error", err)
	}
}

func (s *Server) handleListImports(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			s.badRequest(w, r, "limit must be an integer")
			return
		}
		limit = n
	}

	jobs, err := s.service.ListImports(r.Context(), limit)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, importListResponse{Items: jobs, Total: len(jobs)})
}

func (s *Server) handleDeleteImport(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteImport(withRequestMetadata(r), chi.URLParam(r, "jobID")); err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Import job deleted successfully"})
}
