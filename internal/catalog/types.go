package catalog

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// JobState represents the lifecycle state of a background job.
type JobState string

// Job states persisted in the job store.
const (
	JobStatePending   JobState = "pending"
	JobStateRunning   JobState = "running"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
	JobStateCancelled JobState = "cancelled"
)

// ParseJobState maps a stored string onto a JobState, rejecting unknown values.
func ParseJobState(s string) (JobState, error) {
	switch JobState(s) {
	case JobStatePending, JobStateRunning, JobStateCompleted, JobStateFailed, JobStateCancelled:
		return JobState(s), nil
	default:
		return "", fmt.Errorf("unknown job state %q", s)
	}
}

// Terminal reports whether the state admits no further transitions
// (other than failed -> pending via retry).
func (s JobState) Terminal() bool {
	switch s {
	case JobStateCompleted, JobStateFailed, JobStateCancelled:
		return true
	default:
		return false
	}
}

// JobKind identifies the work a job performs.
type JobKind string

// Job kinds persisted in the job store.
const (
	JobKindGoogleMaps        JobKind = "discover-google-maps"
	JobKindLinkedIn          JobKind = "discover-linkedin"
	JobKindFacebook          JobKind = "discover-facebook"
	JobKindChamberOfCommerce JobKind = "discover-chamber-of-commerce"
	JobKindWebsiteCheck      JobKind = "check-website"
	JobKindEnrichData        JobKind = "enrich-data"
)

// ParseJobKind maps a stored string onto a JobKind, rejecting unknown values.
func ParseJobKind(s string) (JobKind, error) {
	switch JobKind(s) {
	case JobKindGoogleMaps, JobKindLinkedIn, JobKindFacebook,
		JobKindChamberOfCommerce, JobKindWebsiteCheck, JobKindEnrichData:
		return JobKind(s), nil
	default:
		return "", fmt.Errorf("unknown job kind %q", s)
	}
}

// Discovery reports whether the kind produces new Business rows.
func (k JobKind) Discovery() bool {
	switch k {
	case JobKindGoogleMaps, JobKindLinkedIn, JobKindFacebook, JobKindChamberOfCommerce:
		return true
	default:
		return false
	}
}

// SourceName returns the provenance label written onto discovered businesses.
func (k JobKind) SourceName() string {
	switch k {
	case JobKindGoogleMaps:
		return "google_maps"
	case JobKindLinkedIn:
		return "linkedin"
	case JobKindFacebook:
		return "facebook"
	case JobKindChamberOfCommerce:
		return "chamber_of_commerce"
	default:
		return string(k)
	}
}

// JobCounters tracks per-item progress for a job. Invariants:
// Processed <= Total and Successful+Failed <= Processed.
type JobCounters struct {
	Total      int `json:"total_items"`
	Processed  int `json:"processed_items"`
	Successful int `json:"successful_items"`
	Failed     int `json:"failed_items"`
}

// Normalize clamps the counters back into their invariants. Executors build
// counters incrementally so this is a safety net, not a correction pass.
func (c JobCounters) Normalize() JobCounters {
	if c.Total < 0 {
		c.Total = 0
	}
	if c.Processed < 0 {
		c.Processed = 0
	}
	if c.Processed > c.Total {
		c.Total = c.Processed
	}
	if c.Successful < 0 {
		c.Successful = 0
	}
	if c.Failed < 0 {
		c.Failed = 0
	}
	if c.Successful+c.Failed > c.Processed {
		c.Processed = c.Successful + c.Failed
		if c.Processed > c.Total {
			c.Total = c.Processed
		}
	}
	return c
}

// JobParams is the opaque structured payload a job carries. Its shape depends
// on the job kind; the core serializes it as schema-less JSON.
type JobParams map[string]any

// Location returns the target location for discovery jobs.
func (p JobParams) Location() (string, bool) {
	s, ok := p["location"].(string)
	return s, ok && s != ""
}

// Industry returns the optional target industry for discovery jobs.
func (p JobParams) Industry() string {
	s, _ := p["industry"].(string)
	return s
}

// BusinessIDs returns the explicit business id list for check jobs, if any.
// JSON round-trips deliver numbers as float64, so both forms are accepted.
func (p JobParams) BusinessIDs() []int64 {
	raw, ok := p["business_ids"].([]any)
	if !ok {
		return nil
	}
	ids := make([]int64, 0, len(raw))
	for _, v := range raw {
		switch n := v.(type) {
		case float64:
			ids = append(ids, int64(n))
		case int64:
			ids = append(ids, n)
		case int:
			ids = append(ids, int64(n))
		case json.Number:
			if i, err := n.Int64(); err == nil {
				ids = append(ids, i)
			}
		}
	}
	return ids
}

// Clone returns a shallow copy so retries can adjust params without
// mutating the persisted original.
func (p JobParams) Clone() JobParams {
	out := make(JobParams, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// TaskHandle is the opaque reference to an asynchronous task instance
// returned by the Dispatcher.
type TaskHandle string

// Job represents a unit of background work with lifecycle state and
// progress counters.
type Job struct {
	ID         int64       `json:"id"`
	UUID       uuid.UUID   `json:"uuid"`
	Name       string      `json:"name"`
	Kind       JobKind     `json:"job_kind"`
	State      JobState    `json:"status"`
	Params     JobParams   `json:"parameters"`
	Counters   JobCounters `json:"counters"`
	ErrorText  string      `json:"error_message,omitempty"`
	RetryCount int         `json:"retry_count"`
	MaxRetries int         `json:"max_retries"`
	TaskHandle TaskHandle  `json:"task_handle,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Denormalized from Params for indexed filtering; Params stays the
	// source of truth.
	TargetLocation string `json:"target_location,omitempty"`
	TargetIndustry string `json:"target_industry,omitempty"`
}

// CanRetry reports whether a retry request would currently be accepted.
func (j Job) CanRetry() bool {
	return j.State == JobStateFailed && j.RetryCount < j.MaxRetries
}

// Business is a cataloged business with its denormalized website cache.
type Business struct {
	ID   int64     `json:"id"`
	UUID uuid.UUID `json:"uuid"`

	Name       string `json:"name"`
	Address    string `json:"address,omitempty"`
	City       string `json:"city,omitempty"`
	Country    string `json:"country,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	Phone      string `json:"phone,omitempty"`
	Email      string `json:"email,omitempty"`

	BusinessType   string `json:"business_type,omitempty"`
	Industry       string `json:"industry,omitempty"`
	EmployeeCount  string `json:"employee_count,omitempty"`
	IsSelfEmployed bool   `json:"is_zzp"`

	// Cached website fields: a snapshot of the most recent completed check,
	// not a view recomputed from history.
	WebsiteExists     bool    `json:"website_exists"`
	WebsiteURL        string  `json:"website_url,omitempty"`
	WebsiteConfidence float64 `json:"website_confidence_score"`

	Source   string          `json:"source,omitempty"`
	SourceID string          `json:"source_id,omitempty"`
	RawData  json.RawMessage `json:"raw_data,omitempty"`

	ConfidenceScore float64 `json:"confidence_score"`
	IsProcessed     bool    `json:"is_processed"`
	IsVerified      bool    `json:"is_verified"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	LastChecked *time.Time `json:"last_checked,omitempty"`
}

// WebsiteCheck records one website-existence check against a business.
// Checks are owned by their business; deleting the business removes them.
type WebsiteCheck struct {
	ID         int64     `json:"id"`
	UUID       uuid.UUID `json:"uuid"`
	BusinessID int64     `json:"business_id"`

	CheckType  string `json:"check_type"`
	URLChecked string `json:"url_checked"`

	WebsiteExists bool    `json:"website_exists"`
	Confidence    float64 `json:"confidence_score"`
	StatusCode    int     `json:"status_code,omitempty"`
	ResponseTime  float64 `json:"response_time,omitempty"`

	DNSRecords json.RawMessage `json:"dns_records,omitempty"`
	WhoisData  json.RawMessage `json:"whois_data,omitempty"`
	TLSInfo    json.RawMessage `json:"ssl_info,omitempty"`
	Headers    json.RawMessage `json:"headers,omitempty"`

	SnapshotURI string `json:"snapshot_uri,omitempty"`

	ErrorMessage string `json:"error_message,omitempty"`
	IsError      bool   `json:"is_error"`

	CreatedAt time.Time `json:"created_at"`
	CheckedAt time.Time `json:"checked_at"`
}

// WebsiteCache is the denormalized outcome written back onto a Business
// together with its WebsiteCheck row.
type WebsiteCache struct {
	BusinessID int64
	Exists     bool
	Confidence float64
	URL        string
	CheckedAt  time.Time
}

// ClampConfidence bounds a confidence score to [0, 1].
func ClampConfidence(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// FetchResult is what the website probe returns for a successful HTTP fetch.
type FetchResult struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Elapsed    time.Duration
}
