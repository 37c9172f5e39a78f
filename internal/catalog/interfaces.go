package catalog

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrDomainNotFound signals that a probed domain name does not resolve.
// It is distinct from probe failures: a missing name is an expected outcome,
// not an error.
var ErrDomainNotFound = errors.New("domain not found")

// BusinessFilter selects businesses in List queries. Zero values are ignored.
type BusinessFilter struct {
	City          string
	Country       string
	Source        string
	Industry      string
	WebsiteExists *bool
	Limit         int
	Offset        int
}

// BusinessStats aggregates catalog-wide counts for the dashboard endpoints.
type BusinessStats struct {
	Total       int64            `json:"total"`
	WithWebsite int64            `json:"with_website"`
	Checked     int64            `json:"checked"`
	Verified    int64            `json:"verified"`
	BySource    map[string]int64 `json:"by_source"`
}

// BusinessStore persists Business rows.
type BusinessStore interface {
	Create(ctx context.Context, b Business) (Business, error)
	Get(ctx context.Context, id int64) (Business, error)
	// GetBySource looks a business up by its (source, source_id) pair, the
	// dedup key used during discovery. Returns ErrNotFound when absent.
	GetBySource(ctx context.Context, source, sourceID string) (Business, error)
	Update(ctx context.Context, b Business) error
	// Delete removes the business and all of its website checks.
	Delete(ctx context.Context, id int64) error
	List(ctx context.Context, f BusinessFilter) ([]Business, error)
	// ListUnchecked returns businesses never yet checked, oldest first,
	// bounded by limit.
	ListUnchecked(ctx context.Context, limit int) ([]Business, error)
	Stats(ctx context.Context) (BusinessStats, error)
}

// JobFilter selects jobs in List queries. Nil fields are ignored.
type JobFilter struct {
	State  *JobState
	Kind   *JobKind
	Limit  int
	Offset int
}

// JobStore persists Job rows.
type JobStore interface {
	Create(ctx context.Context, j Job) (Job, error)
	Get(ctx context.Context, id int64) (Job, error)
	Update(ctx context.Context, j Job) error
	List(ctx context.Context, f JobFilter) ([]Job, error)
}

// CheckFilter selects website checks in List queries.
type CheckFilter struct {
	BusinessID int64
	CheckType  string
	Limit      int
	Offset     int
}

// CheckStore persists WebsiteCheck rows.
type CheckStore interface {
	Create(ctx context.Context, c WebsiteCheck) (WebsiteCheck, error)
	// SaveResult inserts the check and applies the business website cache
	// update in a single transaction, so a check is never observable
	// without its cache write.
	SaveResult(ctx context.Context, c WebsiteCheck, cache WebsiteCache) (WebsiteCheck, error)
	ListByBusiness(ctx context.Context, businessID int64) ([]WebsiteCheck, error)
	List(ctx context.Context, f CheckFilter) ([]WebsiteCheck, error)
}

// Discoverer produces candidate businesses for a discovery job. Real
// integrations sit behind this interface; the bundled implementation is a
// deterministic placeholder generator.
type Discoverer interface {
	Discover(ctx context.Context, kind JobKind, location, industry string, jobID int64) ([]Business, error)
}

// Probe is the external website-existence capability: DNS resolution plus
// a bounded HTTP fetch.
type Probe interface {
	// Resolve returns the address records for a domain, ErrDomainNotFound
	// when the name does not exist, or another error for probe failures.
	Resolve(ctx context.Context, domain string) ([]string, error)
	// Fetch performs a bounded GET with a descriptive client identifier.
	Fetch(ctx context.Context, url string) (FetchResult, error)
}

// Dispatcher hands a created job to its executor asynchronously and
// supports best-effort cancellation of the underlying task.
type Dispatcher interface {
	StartJob(ctx context.Context, job Job) (TaskHandle, error)
	Cancel(handle TaskHandle)
}

// Publisher pushes job lifecycle events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// BlobStore writes raw artifacts (probe response snapshots) and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
