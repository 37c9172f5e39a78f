// Package executor implements the per-item work behind each job kind: the
// crawl executor discovers businesses, the website-check executor verifies
// their websites. Executors report lifecycle transitions and progress back
// to the lifecycle manager and never decide terminal states themselves.
package executor

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/zzpscan/zzpscan/internal/catalog"
	"github.com/zzpscan/zzpscan/internal/metrics"
)

// JobControl is the slice of the lifecycle manager executors drive.
type JobControl interface {
	Start(ctx context.Context, jobID int64) error
	ReportProgress(ctx context.Context, jobID int64, current, total int) error
	Complete(ctx context.Context, jobID int64, counters catalog.JobCounters) error
	Fail(ctx context.Context, jobID int64, cause error) error
}

// Crawl discovers businesses for one discovery job.
type Crawl struct {
	jobs       JobControl
	businesses catalog.BusinessStore
	source     catalog.Discoverer
	logger     *zap.Logger
}

// NewCrawl constructs a Crawl executor.
func NewCrawl(jobs JobControl, businesses catalog.BusinessStore, source catalog.Discoverer, logger *zap.Logger) *Crawl {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Crawl{
		jobs:       jobs,
		businesses: businesses,
		source:     source,
		logger:     logger,
	}
}

// Execute runs the discovery batch for the job. Per-candidate failures are
// logged and counted without aborting the batch; only batch-fatal errors
// (an unusable parameter set, a dead discovery source) fail the job.
//
// The aggregate failed counter lumps "already known" together with real
// per-candidate errors; logs and metrics keep the two apart.
func (e *Crawl) Execute(ctx context.Context, job catalog.Job) {
	log := e.logger.With(zap.Int64("job_id", job.ID), zap.String("kind", string(job.Kind)))
	finishCtx := context.WithoutCancel(ctx)

	if err := e.jobs.Start(ctx, job.ID); err != nil {
		log.Warn("job start rejected", zap.Error(err))
		return
	}

	location, ok := job.Params.Location()
	if !ok {
		e.fail(finishCtx, job.ID, errors.New("target location missing from job parameters"), log)
		return
	}
	industry := job.Params.Industry()

	candidates, err := e.source.Discover(ctx, job.Kind, location, industry, job.ID)
	if err != nil {
		e.fail(finishCtx, job.ID, fmt.Errorf("discover candidates: %w", err), log)
		return
	}

	total := len(candidates)
	var created, alreadyKnown, errored int
	for i, candidate := range candidates {
		if ctx.Err() != nil {
			log.Info("discovery interrupted", zap.Int("processed", i))
			e.fail(finishCtx, job.ID, fmt.Errorf("task interrupted: %w", ctx.Err()), log)
			return
		}

		switch err := e.processCandidate(ctx, candidate); {
		case err == nil:
			created++
			metrics.ObserveJobItem(string(job.Kind), "successful")
			log.Info("business discovered",
				zap.String("name", candidate.Name),
				zap.String("source_id", candidate.SourceID),
			)
		case errors.Is(err, errAlreadyKnown):
			alreadyKnown++
			metrics.ObserveJobItem(string(job.Kind), "already_known")
			log.Info("business already known",
				zap.String("name", candidate.Name),
				zap.String("source_id", candidate.SourceID),
			)
		default:
			errored++
			metrics.ObserveJobItem(string(job.Kind), "failed")
			log.Error("candidate processing failed",
				zap.String("name", candidate.Name),
				zap.Error(err),
			)
		}

		if err := e.jobs.ReportProgress(ctx, job.ID, i+1, total); err != nil {
			log.Warn("progress report failed", zap.Error(err))
		}
	}

	counters := catalog.JobCounters{
		Total:      total,
		Processed:  total,
		Successful: created,
		Failed:     alreadyKnown + errored,
	}
	if err := e.jobs.Complete(finishCtx, job.ID, counters); err != nil {
		log.Error("job completion rejected", zap.Error(err))
		return
	}
	log.Info("discovery finished",
		zap.Int("total", total),
		zap.Int("created", created),
		zap.Int("already_known", alreadyKnown),
		zap.Int("errors", errored),
	)
}

var errAlreadyKnown = errors.New("business already known")

// processCandidate persists one discovered business unless its
// (source, source_id) pair already identifies a stored row.
func (e *Crawl) processCandidate(ctx context.Context, candidate catalog.Business) error {
	if candidate.SourceID != "" {
		_, err := e.businesses.GetBySource(ctx, candidate.Source, candidate.SourceID)
		switch {
		case err == nil:
			return errAlreadyKnown
		case errors.Is(err, catalog.ErrNotFound):
		default:
			return fmt.Errorf("dedup lookup: %w", err)
		}
	}
	candidate.ConfidenceScore = catalog.ClampConfidence(candidate.ConfidenceScore)
	if _, err := e.businesses.Create(ctx, candidate); err != nil {
		return fmt.Errorf("create business: %w", err)
	}
	return nil
}

func (e *Crawl) fail(ctx context.Context, jobID int64, cause error, log *zap.Logger) {
	if err := e.jobs.Fail(ctx, jobID, cause); err != nil {
		log.Error("job failure report rejected", zap.Error(err))
	}
}
