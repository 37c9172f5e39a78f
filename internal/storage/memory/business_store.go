// Package memory provides in-memory store implementations for development
// and testing. Every store is safe for concurrent use and returns copies so
// callers cannot mutate stored rows.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zzpscan/zzpscan/internal/catalog"
)

// BusinessStore keeps businesses in a mutex-guarded map.
type BusinessStore struct {
	mu       sync.RWMutex
	seq      int64
	rows     map[int64]catalog.Business
	bySource map[string]int64

	// cascade removes the checks owned by a deleted business; attached by
	// NewCheckStore.
	cascade func(businessID int64)
}

// NewBusinessStore constructs a BusinessStore.
func NewBusinessStore() *BusinessStore {
	return &BusinessStore{
		rows:     make(map[int64]catalog.Business),
		bySource: make(map[string]int64),
	}
}

func sourceKey(source, sourceID string) string {
	return source + "\x00" + sourceID
}

// Create stores a new business, assigning its id and timestamps.
func (s *BusinessStore) Create(_ context.Context, b catalog.Business) (catalog.Business, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	b.ID = s.seq
	if b.UUID == uuid.Nil {
		b.UUID = uuid.New()
	}
	now := time.Now().UTC()
	b.CreatedAt = now
	b.UpdatedAt = now

	s.rows[b.ID] = b
	if b.SourceID != "" {
		s.bySource[sourceKey(b.Source, b.SourceID)] = b.ID
	}
	return b, nil
}

// Get fetches a business by id.
func (s *BusinessStore) Get(_ context.Context, id int64) (catalog.Business, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.rows[id]
	if !ok {
		return catalog.Business{}, catalog.ErrNotFound
	}
	return b, nil
}

// GetBySource looks a business up by its (source, source_id) pair.
func (s *BusinessStore) GetBySource(_ context.Context, source, sourceID string) (catalog.Business, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.bySource[sourceKey(source, sourceID)]
	if !ok {
		return catalog.Business{}, catalog.ErrNotFound
	}
	return s.rows[id], nil
}

// Update replaces a stored business, preserving its creation timestamp.
func (s *BusinessStore) Update(_ context.Context, b catalog.Business) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.rows[b.ID]
	if !ok {
		return catalog.ErrNotFound
	}
	if prev.SourceID != "" {
		delete(s.bySource, sourceKey(prev.Source, prev.SourceID))
	}
	b.CreatedAt = prev.CreatedAt
	b.UpdatedAt = time.Now().UTC()
	s.rows[b.ID] = b
	if b.SourceID != "" {
		s.bySource[sourceKey(b.Source, b.SourceID)] = b.ID
	}
	return nil
}

// Delete removes the business and cascades to its website checks.
func (s *BusinessStore) Delete(_ context.Context, id int64) error {
	s.mu.Lock()
	b, ok := s.rows[id]
	if !ok {
		s.mu.Unlock()
		return catalog.ErrNotFound
	}
	delete(s.rows, id)
	if b.SourceID != "" {
		delete(s.bySource, sourceKey(b.Source, b.SourceID))
	}
	cascade := s.cascade
	s.mu.Unlock()

	if cascade != nil {
		cascade(id)
	}
	return nil
}

// List returns businesses matching the filter, ordered by id.
func (s *BusinessStore) List(_ context.Context, f catalog.BusinessFilter) ([]catalog.Business, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]catalog.Business, 0, len(s.rows))
	for _, b := range s.rows {
		if f.City != "" && b.City != f.City {
			continue
		}
		if f.Country != "" && b.Country != f.Country {
			continue
		}
		if f.Source != "" && b.Source != f.Source {
			continue
		}
		if f.Industry != "" && b.Industry != f.Industry {
			continue
		}
		if f.WebsiteExists != nil && b.WebsiteExists != *f.WebsiteExists {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return paginate(out, f.Offset, f.Limit), nil
}

// ListUnchecked returns never-checked businesses, oldest first, up to limit.
func (s *BusinessStore) ListUnchecked(_ context.Context, limit int) ([]catalog.Business, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]catalog.Business, 0, limit)
	for _, b := range s.rows {
		if b.LastChecked == nil {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Stats aggregates catalog counts.
func (s *BusinessStore) Stats(_ context.Context) (catalog.BusinessStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := catalog.BusinessStats{BySource: make(map[string]int64)}
	for _, b := range s.rows {
		stats.Total++
		if b.WebsiteExists {
			stats.WithWebsite++
		}
		if b.LastChecked != nil {
			stats.Checked++
		}
		if b.IsVerified {
			stats.Verified++
		}
		if b.Source != "" {
			stats.BySource[b.Source]++
		}
	}
	return stats, nil
}

// applyWebsiteCache overwrites the cached website fields for a business.
// The URL is cleared when the cache says the website does not exist.
func (s *BusinessStore) applyWebsiteCache(cache catalog.WebsiteCache) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.rows[cache.BusinessID]
	if !ok {
		return catalog.ErrNotFound
	}
	b.WebsiteExists = cache.Exists
	b.WebsiteConfidence = cache.Confidence
	b.WebsiteURL = cache.URL
	checked := cache.CheckedAt
	b.LastChecked = &checked
	b.UpdatedAt = time.Now().UTC()
	s.rows[b.ID] = b
	return nil
}

func (s *BusinessStore) attachCascade(fn func(businessID int64)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cascade = fn
}

func paginate[T any](rows []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(rows) {
			return []T{}
		}
		rows = rows[offset:]
	}
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows
}
