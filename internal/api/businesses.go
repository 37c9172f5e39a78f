package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/zzpscan/zzpscan/internal/catalog"
)

func (s *Server) listBusinesses(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := catalog.BusinessFilter{
		City:     q.Get("city"),
		Country:  q.Get("country"),
		Source:   q.Get("source"),
		Industry: q.Get("industry"),
	}
	if raw := q.Get("website_exists"); raw != "" {
		exists, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "website_exists must be a boolean")
			return
		}
		filter.WebsiteExists = &exists
	}
	var err error
	filter.Limit, filter.Offset, err = pagination(r, 50)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	businesses, err := s.businesses.List(r.Context(), filter)
	if err != nil {
		s.writeStoreError(w, err, "business")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"businesses": businesses, "count": len(businesses)})
}

func (s *Server) createBusiness(w http.ResponseWriter, r *http.Request) {
	var b catalog.Business
	if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if b.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	// Server-controlled fields.
	b.ID = 0
	b.LastChecked = nil
	b.ConfidenceScore = catalog.ClampConfidence(b.ConfidenceScore)
	b.WebsiteConfidence = catalog.ClampConfidence(b.WebsiteConfidence)

	created, err := s.businesses.Create(r.Context(), b)
	if err != nil {
		s.writeStoreError(w, err, "business")
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) getBusiness(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "business_id")
	if !ok {
		return
	}
	b, err := s.businesses.Get(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, err, "business")
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) updateBusiness(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "business_id")
	if !ok {
		return
	}
	existing, err := s.businesses.Get(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, err, "business")
		return
	}

	updated := existing
	if err := json.NewDecoder(r.Body).Decode(&updated); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if updated.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	// Identity and check bookkeeping are not editable.
	updated.ID = existing.ID
	updated.UUID = existing.UUID
	updated.CreatedAt = existing.CreatedAt
	updated.LastChecked = existing.LastChecked
	updated.ConfidenceScore = catalog.ClampConfidence(updated.ConfidenceScore)
	updated.WebsiteConfidence = catalog.ClampConfidence(updated.WebsiteConfidence)

	if err := s.businesses.Update(r.Context(), updated); err != nil {
		s.writeStoreError(w, err, "business")
		return
	}
	b, err := s.businesses.Get(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, err, "business")
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) deleteBusiness(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "business_id")
	if !ok {
		return
	}
	if err := s.businesses.Delete(r.Context(), id); err != nil {
		s.writeStoreError(w, err, "business")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) businessStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.businesses.Stats(r.Context())
	if err != nil {
		s.writeStoreError(w, err, "business")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) listBusinessChecks(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "business_id")
	if !ok {
		return
	}
	// 404 for an unknown business, not an empty list.
	if _, err := s.businesses.Get(r.Context(), id); err != nil {
		s.writeStoreError(w, err, "business")
		return
	}
	checks, err := s.checks.ListByBusiness(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, err, "check")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"checks": checks, "count": len(checks)})
}

func (s *Server) listChecks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := catalog.CheckFilter{CheckType: q.Get("check_type")}
	if raw := q.Get("business_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			writeError(w, http.StatusBadRequest, "invalid business_id")
			return
		}
		filter.BusinessID = id
	}
	var err error
	filter.Limit, filter.Offset, err = pagination(r, 50)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	checks, err := s.checks.List(r.Context(), filter)
	if err != nil {
		s.writeStoreError(w, err, "check")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"checks": checks, "count": len(checks)})
}

func (s *Server) writeStoreError(w http.ResponseWriter, err error, kind string) {
	if errors.Is(err, catalog.ErrNotFound) {
		writeError(w, http.StatusNotFound, kind+" not found")
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}
