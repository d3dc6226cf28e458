package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/dgallion1/texsync/internal/compiler"
	"github.com/dgallion1/texsync/internal/pipeline"
)

func (s *Server) handleCompile(w http.ResponseWriter, r *http.Request) {
	if !s.orchestrator.CanCompile() {
		jsonError(w, "no compile service configured", http.StatusServiceUnavailable)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)

	var req compiler.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := req.Validate(); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	job := pipeline.NewCompileJob(req)
	if err := s.orchestrator.Submit(job); err != nil {
		s.submitError(w, err)
		return
	}
	s.log.Info("compile job queued", "job_id", job.ID, "files", len(req.Files))
	writeJSON(w, http.StatusAccepted, job.Snapshot())
}

// handleResults accepts a compile result uploaded as multipart form data:
// "synctex" (gzip file, optional), "pdf" (file, optional), "exit_code" and
// any number of "log" values.
func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	// Limit total request size.
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+1024*1024) // extra 1MB for form overhead

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		jsonError(w, "invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	res := &compiler.Result{}
	if v := r.FormValue("exit_code"); v != "" {
		code, err := strconv.Atoi(v)
		if err != nil {
			jsonError(w, "exit_code must be an integer", http.StatusBadRequest)
			return
		}
		res.ExitCode = code
	}
	for _, l := range r.MultipartForm.Value["log"] {
		res.Logs = append(res.Logs, compiler.LogEntry{Log: l})
	}

	var err error
	if res.SyncTeX, err = s.readPart(r.MultipartForm, "synctex"); err != nil {
		s.partError(w, err)
		return
	}
	if res.PDF, err = s.readPart(r.MultipartForm, "pdf"); err != nil {
		s.partError(w, err)
		return
	}

	job := pipeline.NewResultJob(res)
	if s.cfg.InlineDecode {
		if err := s.orchestrator.Run(r.Context(), job); err != nil {
			s.submitError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, job.Snapshot())
		return
	}
	if err := s.orchestrator.Submit(job); err != nil {
		s.submitError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job.Snapshot())
}

var errPartTooLarge = errors.New("part too large")

// readPart returns the bytes of an uploaded file field, or nil when the
// field is absent.
func (s *Server) readPart(form *multipart.Form, field string) ([]byte, error) {
	headers := form.File[field]
	if len(headers) == 0 {
		return nil, nil
	}
	f, err := headers[0].Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", field, err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, s.cfg.MaxUploadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", field, err)
	}
	if int64(len(data)) > s.cfg.MaxUploadBytes {
		return nil, fmt.Errorf("%s exceeds max size (%d bytes): %w", field, s.cfg.MaxUploadBytes, errPartTooLarge)
	}
	return data, nil
}

func (s *Server) partError(w http.ResponseWriter, err error) {
	if errors.Is(err, errPartTooLarge) {
		jsonError(w, err.Error(), http.StatusRequestEntityTooLarge)
		return
	}
	jsonError(w, err.Error(), http.StatusBadRequest)
}

func (s *Server) submitError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pipeline.ErrQueueFull), errors.Is(err, pipeline.ErrNoCompiler),
		errors.Is(err, pipeline.ErrStopped):
		jsonError(w, err.Error(), http.StatusServiceUnavailable)
	default:
		jsonError(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	job := s.orchestrator.GetJob(jobID)
	if job == nil {
		jsonError(w, "job not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, job.Snapshot())
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]string{"error": msg})
}
