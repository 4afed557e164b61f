package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pagegrove/siteops/internal/siteops"
)

type jobRequest struct {
	SiteID string            `json:"site_id"`
	Kind   siteops.JobKind   `json:"kind"`
	Config siteops.JobConfig `json:"config"`
}

func (s *Server) previewJob(w http.ResponseWriter, r *http.Request) {
	var req jobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.SiteID == "" {
		writeError(w, http.StatusBadRequest, "site_id is required")
		return
	}
	preview, err := s.manager.Preview(r.Context(), req.SiteID, req.Kind, req.Config)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

func (s *Server) createJob(w http.ResponseWriter, r *http.Request) {
	var req jobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.SiteID == "" {
		writeError(w, http.StatusBadRequest, "site_id is required")
		return
	}
	jobID, err := s.manager.Create(r.Context(), req.SiteID, req.Kind, req.Config)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"job_id": jobID, "status": string(siteops.StatusQueued)})
}

func (s *Server) startJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if err := s.manager.Start(r.Context(), jobID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID, "status": string(siteops.StatusRunning)})
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if err := s.manager.Cancel(r.Context(), jobID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.manager.GetJob(r.Context(), jobID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	jobStats, err := s.stats.Stats(r.Context(), jobID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobStats)
}

func (s *Server) getResults(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	filter, offset, limit, err := parseResultQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	page, err := s.stats.Query(r.Context(), jobID, filter, offset, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) exportResults(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if _, err := s.manager.GetJob(r.Context(), jobID); err != nil {
		writeDomainError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "job-"+jobID+".csv"))
	if err := s.stats.ExportCSV(r.Context(), jobID, w); err != nil {
		// Headers are already out; log and truncate.
		s.logger.Error("export failed", zap.String("job_id", jobID), zap.Error(err))
	}
}

func parseResultQuery(r *http.Request) (siteops.ResultFilter, int, int, error) {
	q := r.URL.Query()
	var filter siteops.ResultFilter

	if v := q.Get("category"); v != "" {
		category := siteops.Category(v)
		switch category {
		case siteops.CategoryBook, siteops.CategoryAuthor, siteops.CategoryGenre, siteops.CategoryStatic:
			filter.Category = &category
		default:
			return filter, 0, 0, fmt.Errorf("unknown category %q", v)
		}
	}
	if v := q.Get("status_bucket"); v != "" {
		switch v {
		case "2xx", "3xx", "4xx", "5xx":
			filter.StatusBucket = v
		default:
			return filter, 0, 0, fmt.Errorf("unknown status_bucket %q", v)
		}
	}
	if v := q.Get("succeeded"); v != "" {
		succeeded, err := strconv.ParseBool(v)
		if err != nil {
			return filter, 0, 0, fmt.Errorf("invalid succeeded value %q", v)
		}
		filter.Succeeded = &succeeded
	}
	filter.MissingTitle = q.Get("missing_title") == "true"
	filter.MissingDescription = q.Get("missing_description") == "true"
	filter.MissingH1 = q.Get("missing_h1") == "true"

	offset, err := queryInt(q.Get("offset"), 0)
	if err != nil {
		return filter, 0, 0, fmt.Errorf("invalid offset: %w", err)
	}
	limit, err := queryInt(q.Get("limit"), 0)
	if err != nil {
		return filter, 0, 0, fmt.Errorf("invalid limit: %w", err)
	}
	return filter, offset, limit, nil
}

func queryInt(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, err
	}
	return n, nil
}

// writeDomainError maps engine errors onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, siteops.ErrNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, siteops.ErrNotQueued), errors.Is(err, siteops.ErrTerminal), errors.Is(err, siteops.ErrIllegalTransition):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, siteops.ErrInvalidConfig):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
