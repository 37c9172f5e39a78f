package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/zzpscan/zzpscan/internal/catalog"
)

// JobStore keeps jobs in a mutex-guarded map.
type JobStore struct {
	mu   sync.RWMutex
	seq  int64
	rows map[int64]catalog.Job
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{rows: make(map[int64]catalog.Job)}
}

// Create stores a new job, assigning its id and timestamps.
func (s *JobStore) Create(_ context.Context, j catalog.Job) (catalog.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	j.ID = s.seq
	now := time.Now().UTC()
	j.CreatedAt = now
	j.UpdatedAt = now
	s.rows[j.ID] = j
	return j, nil
}

// Get fetches a job by id.
func (s *JobStore) Get(_ context.Context, id int64) (catalog.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.rows[id]
	if !ok {
		return catalog.Job{}, catalog.ErrNotFound
	}
	return j, nil
}

// Update replaces a stored job, preserving its creation timestamp.
func (s *JobStore) Update(_ context.Context, j catalog.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.rows[j.ID]
	if !ok {
		return catalog.ErrNotFound
	}
	j.CreatedAt = prev.CreatedAt
	j.UpdatedAt = time.Now().UTC()
	s.rows[j.ID] = j
	return nil
}

// List returns jobs matching the filter, newest first.
func (s *JobStore) List(_ context.Context, f catalog.JobFilter) ([]catalog.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]catalog.Job, 0, len(s.rows))
	for _, j := range s.rows {
		if f.State != nil && j.State != *f.State {
			continue
		}
		if f.Kind != nil && j.Kind != *f.Kind {
			continue
		}
		out = append(out, j)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return paginate(out, f.Offset, f.Limit), nil
}
