package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/zzpscan/zzpscan/internal/catalog"
	"github.com/zzpscan/zzpscan/internal/metrics"
)

// WebcheckConfig controls website-check batching and probing.
type WebcheckConfig struct {
	// TLDs is the ordered list of country TLDs tried per business.
	TLDs []string
	// BatchLimit bounds an implicit "all unchecked" run.
	BatchLimit int
	// Pacing is the fixed delay between businesses, bounding outbound
	// request rate. It is politeness, not correctness.
	Pacing time.Duration
	// SnapshotPrefix is the blob path prefix for archived response bodies.
	SnapshotPrefix string
}

// Webcheck verifies website existence for one check job.
type Webcheck struct {
	jobs       JobControl
	businesses catalog.BusinessStore
	checks     catalog.CheckStore
	probe      catalog.Probe
	blobs      catalog.BlobStore
	clock      catalog.Clock
	cfg        WebcheckConfig
	logger     *zap.Logger
}

// NewWebcheck constructs a Webcheck executor. blobs may be nil; snapshots
// are then skipped.
func NewWebcheck(
	jobs JobControl,
	businesses catalog.BusinessStore,
	checks catalog.CheckStore,
	probe catalog.Probe,
	blobs catalog.BlobStore,
	clock catalog.Clock,
	cfg WebcheckConfig,
	logger *zap.Logger,
) *Webcheck {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(cfg.TLDs) == 0 {
		cfg.TLDs = []string{"nl", "com", "be", "de", "lu"}
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 100
	}
	return &Webcheck{
		jobs:       jobs,
		businesses: businesses,
		checks:     checks,
		probe:      probe,
		blobs:      blobs,
		clock:      clock,
		cfg:        cfg,
		logger:     logger,
	}
}

// Execute checks every targeted business. An explicit business_ids param
// selects the targets; otherwise the batch is all never-checked businesses
// up to the batch limit. One WebsiteCheck row is written per business
// attempted, and the business's cached website fields are overwritten
// unconditionally — an errored check replaces the cache too.
func (e *Webcheck) Execute(ctx context.Context, job catalog.Job) {
	log := e.logger.With(zap.Int64("job_id", job.ID), zap.String("kind", string(job.Kind)))
	finishCtx := context.WithoutCancel(ctx)

	if err := e.jobs.Start(ctx, job.ID); err != nil {
		log.Warn("job start rejected", zap.Error(err))
		return
	}

	businesses, err := e.loadTargets(ctx, job.Params, log)
	if err != nil {
		e.fail(finishCtx, job.ID, err, log)
		return
	}

	total := len(businesses)
	log.Info("checking websites", zap.Int("businesses", total))

	var successful, failed int
	for i, business := range businesses {
		if ctx.Err() != nil {
			log.Info("website check interrupted", zap.Int("processed", i))
			e.fail(finishCtx, job.ID, fmt.Errorf("task interrupted: %w", ctx.Err()), log)
			return
		}

		if err := e.checkBusiness(ctx, business); err != nil {
			failed++
			metrics.ObserveJobItem(string(job.Kind), "failed")
			log.Error("website check failed",
				zap.Int64("business_id", business.ID),
				zap.String("name", business.Name),
				zap.Error(err),
			)
		} else {
			successful++
			metrics.ObserveJobItem(string(job.Kind), "successful")
		}

		if err := e.jobs.ReportProgress(ctx, job.ID, i+1, total); err != nil {
			log.Warn("progress report failed", zap.Error(err))
		}

		if e.cfg.Pacing > 0 && i < total-1 {
			select {
			case <-ctx.Done():
			case <-time.After(e.cfg.Pacing):
			}
		}
	}

	counters := catalog.JobCounters{
		Total:      total,
		Processed:  total,
		Successful: successful,
		Failed:     failed,
	}
	if err := e.jobs.Complete(finishCtx, job.ID, counters); err != nil {
		log.Error("job completion rejected", zap.Error(err))
		return
	}
	log.Info("website check finished",
		zap.Int("total", total),
		zap.Int("successful", successful),
		zap.Int("failed", failed),
	)
}

// loadTargets resolves the business batch for the job. Unknown explicit ids
// are skipped with a warning rather than failing the batch.
func (e *Webcheck) loadTargets(ctx context.Context, params catalog.JobParams, log *zap.Logger) ([]catalog.Business, error) {
	ids := params.BusinessIDs()
	if len(ids) == 0 {
		businesses, err := e.businesses.ListUnchecked(ctx, e.cfg.BatchLimit)
		if err != nil {
			return nil, fmt.Errorf("list unchecked businesses: %w", err)
		}
		return businesses, nil
	}

	out := make([]catalog.Business, 0, len(ids))
	for _, id := range ids {
		business, err := e.businesses.Get(ctx, id)
		if errors.Is(err, catalog.ErrNotFound) {
			log.Warn("business not found, skipping", zap.Int64("business_id", id))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load business %d: %w", id, err)
		}
		out = append(out, business)
	}
	return out, nil
}

// checkBusiness probes one business and persists the check row together
// with the business cache update in a single transaction.
func (e *Webcheck) checkBusiness(ctx context.Context, business catalog.Business) error {
	start := e.clock.Now()
	outcome := e.probeWebsite(ctx, business.Name)
	e.observeProbe(outcome, time.Since(start))

	now := e.clock.Now()
	check := catalog.WebsiteCheck{
		BusinessID:    business.ID,
		CheckType:     "combined",
		URLChecked:    outcome.url,
		WebsiteExists: outcome.exists,
		Confidence:    catalog.ClampConfidence(outcome.confidence),
		StatusCode:    outcome.statusCode,
		ResponseTime:  outcome.responseTime,
		ErrorMessage:  outcome.errMessage,
		IsError:       outcome.isError,
		CheckedAt:     now,
	}
	if len(outcome.dnsRecords) > 0 {
		raw, err := json.Marshal(outcome.dnsRecords)
		if err != nil {
			return fmt.Errorf("marshal dns records: %w", err)
		}
		check.DNSRecords = raw
	}
	if len(outcome.headers) > 0 {
		raw, err := json.Marshal(outcome.headers)
		if err != nil {
			return fmt.Errorf("marshal headers: %w", err)
		}
		check.Headers = raw
	}

	if outcome.exists && e.blobs != nil && len(outcome.body) > 0 {
		path := fmt.Sprintf("%s/%d/%d.html", e.cfg.SnapshotPrefix, business.ID, now.UnixMilli())
		uri, err := e.blobs.PutObject(ctx, path, "text/html; charset=utf-8", outcome.body)
		if err != nil {
			// Archival is best-effort; the check row still records the outcome.
			e.logger.Warn("snapshot archive failed",
				zap.Int64("business_id", business.ID),
				zap.Error(err),
			)
		} else {
			check.SnapshotURI = uri
		}
	}

	cache := catalog.WebsiteCache{
		BusinessID: business.ID,
		Exists:     outcome.exists,
		Confidence: catalog.ClampConfidence(outcome.confidence),
		CheckedAt:  now,
	}
	if outcome.exists {
		cache.URL = outcome.url
	}

	if _, err := e.checks.SaveResult(ctx, check, cache); err != nil {
		return fmt.Errorf("save check result: %w", err)
	}
	// A probe error with nothing found counts against the job even though
	// the check row and cache update were persisted.
	if outcome.isError && !outcome.exists {
		return fmt.Errorf("probe: %s", outcome.errMessage)
	}
	return nil
}

// probeOutcome accumulates whatever diagnostics were gathered before a
// candidate succeeded or the candidate list was exhausted.
type probeOutcome struct {
	url          string
	exists       bool
	confidence   float64
	statusCode   int
	responseTime float64
	dnsRecords   []string
	headers      http.Header
	body         []byte
	errMessage   string
	isError      bool
}

// probeWebsite walks the candidate domains in order: resolve, then fetch,
// stopping at the first domain answering with a status below 400. A name
// that does not resolve moves on silently; any other probe error is
// recorded and the walk continues.
func (e *Webcheck) probeWebsite(ctx context.Context, name string) probeOutcome {
	candidates := CandidateDomains(name, e.cfg.TLDs)
	outcome := probeOutcome{}
	if len(candidates) > 0 {
		outcome.url = "https://" + candidates[0]
	}

	for _, domain := range candidates {
		records, err := e.probe.Resolve(ctx, domain)
		if errors.Is(err, catalog.ErrDomainNotFound) {
			continue
		}
		if err != nil {
			outcome.errMessage = err.Error()
			outcome.isError = true
			continue
		}
		outcome.dnsRecords = records

		result, err := e.probe.Fetch(ctx, "https://"+domain)
		if err != nil {
			outcome.errMessage = err.Error()
			outcome.isError = true
			continue
		}

		outcome.statusCode = result.StatusCode
		outcome.responseTime = result.Elapsed.Seconds()
		outcome.headers = result.Headers
		outcome.url = result.URL
		if outcome.url == "" {
			outcome.url = "https://" + domain
		}

		if result.StatusCode == 200 {
			outcome.exists = true
			outcome.confidence = 0.9
			outcome.body = result.Body
			return outcome
		}
		if result.StatusCode < 400 {
			outcome.exists = true
			outcome.confidence = 0.7
			outcome.body = result.Body
			return outcome
		}
	}

	outcome.exists = false
	outcome.confidence = 0.0
	return outcome
}

func (e *Webcheck) observeProbe(outcome probeOutcome, elapsed time.Duration) {
	switch {
	case outcome.isError:
		metrics.ObserveProbe("error", elapsed)
	case outcome.exists:
		metrics.ObserveProbe("hit", elapsed)
	default:
		metrics.ObserveProbe("miss", elapsed)
	}
}

func (e *Webcheck) fail(ctx context.Context, jobID int64, cause error, log *zap.Logger) {
	if err := e.jobs.Fail(ctx, jobID, cause); err != nil {
		log.Error("job failure report rejected", zap.Error(err))
	}
}
