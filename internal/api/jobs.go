package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/zzpscan/zzpscan/internal/catalog"
	"github.com/zzpscan/zzpscan/internal/lifecycle"
)

type discoverJobRequest struct {
	Kind     string `json:"kind"`
	Name     string `json:"name"`
	Location string `json:"location"`
	Industry string `json:"industry"`
}

type checkJobRequest struct {
	Name        string  `json:"name"`
	BusinessIDs []int64 `json:"business_ids"`
}

func (s *Server) submitDiscoverJob(w http.ResponseWriter, r *http.Request) {
	var req discoverJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Location == "" {
		writeError(w, http.StatusBadRequest, "location is required")
		return
	}
	kind := catalog.JobKindGoogleMaps
	if req.Kind != "" {
		parsed, err := catalog.ParseJobKind(req.Kind)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		kind = parsed
	}
	if !kind.Discovery() {
		writeError(w, http.StatusBadRequest, "kind must be a discovery job kind")
		return
	}

	params := catalog.JobParams{"location": req.Location}
	if req.Industry != "" {
		params["industry"] = req.Industry
	}
	job, err := s.jobs.CreateJob(r.Context(), kind, req.Name, params)
	if err != nil {
		s.writeJobError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) submitCheckJob(w http.ResponseWriter, r *http.Request) {
	var req checkJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	params := catalog.JobParams{}
	if len(req.BusinessIDs) > 0 {
		ids := make([]any, 0, len(req.BusinessIDs))
		for _, id := range req.BusinessIDs {
			if id <= 0 {
				writeError(w, http.StatusBadRequest, "business_ids must be positive")
				return
			}
			ids = append(ids, id)
		}
		params["business_ids"] = ids
	}
	job, err := s.jobs.CreateJob(r.Context(), catalog.JobKindWebsiteCheck, req.Name, params)
	if err != nil {
		s.writeJobError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	var filter catalog.JobFilter
	if raw := r.URL.Query().Get("status"); raw != "" {
		state, err := catalog.ParseJobState(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter.State = &state
	}
	if raw := r.URL.Query().Get("kind"); raw != "" {
		kind, err := catalog.ParseJobKind(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter.Kind = &kind
	}
	var err error
	filter.Limit, filter.Offset, err = pagination(r, 50)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	jobs, err := s.jobs.List(r.Context(), filter)
	if err != nil {
		s.writeJobError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs, "count": len(jobs)})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "job_id")
	if !ok {
		return
	}
	job, err := s.jobs.Get(r.Context(), id)
	if err != nil {
		s.writeJobError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "job_id")
	if !ok {
		return
	}
	if err := s.jobs.Cancel(r.Context(), id); err != nil {
		s.writeJobError(w, err)
		return
	}
	job, err := s.jobs.Get(r.Context(), id)
	if err != nil {
		s.writeJobError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) retryJob(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "job_id")
	if !ok {
		return
	}
	job, err := s.jobs.Retry(r.Context(), id)
	if err != nil {
		s.writeJobError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

// writeJobError maps lifecycle and store errors onto HTTP statuses.
func (s *Server) writeJobError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, lifecycle.ErrInvalidTransition),
		errors.Is(err, lifecycle.ErrRetryExhausted):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// pathID parses a positive int64 path parameter, writing a 400 on failure.
func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return id, true
}

// pagination parses limit/offset query parameters with a default limit.
func pagination(r *http.Request, defaultLimit int) (limit, offset int, err error) {
	limit = defaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit <= 0 || limit > 500 {
			return 0, 0, errors.New("limit must be between 1 and 500")
		}
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		offset, err = strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return 0, 0, errors.New("offset must be non-negative")
		}
	}
	return limit, offset, nil
}
