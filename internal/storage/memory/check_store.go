package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zzpscan/zzpscan/internal/catalog"
)

// CheckStore keeps website checks in a mutex-guarded map. It holds the
// BusinessStore so SaveResult can apply the cache write, and it registers
// itself as the delete cascade for checks.
type CheckStore struct {
	mu         sync.RWMutex
	seq        int64
	rows       map[int64]catalog.WebsiteCheck
	businesses *BusinessStore
}

// NewCheckStore constructs a CheckStore bound to the business store.
func NewCheckStore(businesses *BusinessStore) *CheckStore {
	s := &CheckStore{
		rows:       make(map[int64]catalog.WebsiteCheck),
		businesses: businesses,
	}
	businesses.attachCascade(s.deleteByBusiness)
	return s
}

// Create stores a new check, assigning its id and timestamps.
func (s *CheckStore) Create(_ context.Context, c catalog.WebsiteCheck) (catalog.WebsiteCheck, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insert(c), nil
}

// SaveResult applies the business cache write and inserts the check. The
// cache write goes first so a missing business rejects the whole result.
func (s *CheckStore) SaveResult(_ context.Context, c catalog.WebsiteCheck, cache catalog.WebsiteCache) (catalog.WebsiteCheck, error) {
	if err := s.businesses.applyWebsiteCache(cache); err != nil {
		return catalog.WebsiteCheck{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insert(c), nil
}

// ListByBusiness returns all checks for a business, newest first.
func (s *CheckStore) ListByBusiness(_ context.Context, businessID int64) ([]catalog.WebsiteCheck, error) {
	return s.list(catalog.CheckFilter{BusinessID: businessID})
}

// List returns checks matching the filter, newest first.
func (s *CheckStore) List(_ context.Context, f catalog.CheckFilter) ([]catalog.WebsiteCheck, error) {
	return s.list(f)
}

func (s *CheckStore) list(f catalog.CheckFilter) ([]catalog.WebsiteCheck, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]catalog.WebsiteCheck, 0, len(s.rows))
	for _, c := range s.rows {
		if f.BusinessID != 0 && c.BusinessID != f.BusinessID {
			continue
		}
		if f.CheckType != "" && c.CheckType != f.CheckType {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return paginate(out, f.Offset, f.Limit), nil
}

// insert assumes s.mu is held.
func (s *CheckStore) insert(c catalog.WebsiteCheck) catalog.WebsiteCheck {
	s.seq++
	c.ID = s.seq
	if c.UUID == uuid.Nil {
		c.UUID = uuid.New()
	}
	c.CreatedAt = time.Now().UTC()
	if c.CheckedAt.IsZero() {
		c.CheckedAt = c.CreatedAt
	}
	s.rows[c.ID] = c
	return c
}

func (s *CheckStore) deleteByBusiness(businessID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.rows {
		if c.BusinessID == businessID {
			delete(s.rows, id)
		}
	}
}
