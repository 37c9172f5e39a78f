package executor

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/zzpscan/zzpscan/internal/catalog"
	"github.com/zzpscan/zzpscan/internal/metrics"
)

// Enrich marks businesses as processed and fills in fields derivable from
// data already on the record. No external enrichment providers are wired
// yet, so this stays a normalization pass.
type Enrich struct {
	jobs       JobControl
	businesses catalog.BusinessStore
	logger     *zap.Logger

	// batchLimit bounds an implicit "all unprocessed" run.
	batchLimit int
}

// NewEnrich constructs an Enrich executor.
func NewEnrich(jobs JobControl, businesses catalog.BusinessStore, logger *zap.Logger) *Enrich {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enrich{
		jobs:       jobs,
		businesses: businesses,
		logger:     logger,
		batchLimit: 100,
	}
}

// Execute enriches every targeted business. An explicit business_ids param
// selects the targets; otherwise the batch is unprocessed businesses up to
// the batch limit.
func (e *Enrich) Execute(ctx context.Context, job catalog.Job) {
	log := e.logger.With(zap.Int64("job_id", job.ID), zap.String("kind", string(job.Kind)))
	finishCtx := context.WithoutCancel(ctx)

	if err := e.jobs.Start(ctx, job.ID); err != nil {
		log.Warn("job start rejected", zap.Error(err))
		return
	}

	targets, err := e.loadTargets(ctx, job.Params, log)
	if err != nil {
		if ferr := e.jobs.Fail(finishCtx, job.ID, err); ferr != nil {
			log.Error("job failure report rejected", zap.Error(ferr))
		}
		return
	}

	total := len(targets)
	var successful, failed int
	for i, business := range targets {
		if ctx.Err() != nil {
			log.Info("enrichment interrupted", zap.Int("processed", i))
			if ferr := e.jobs.Fail(finishCtx, job.ID, fmt.Errorf("task interrupted: %w", ctx.Err())); ferr != nil {
				log.Error("job failure report rejected", zap.Error(ferr))
			}
			return
		}

		if err := e.enrichBusiness(ctx, business); err != nil {
			failed++
			metrics.ObserveJobItem(string(job.Kind), "failed")
			log.Error("enrichment failed", zap.Int64("business_id", business.ID), zap.Error(err))
		} else {
			successful++
			metrics.ObserveJobItem(string(job.Kind), "successful")
		}
		if err := e.jobs.ReportProgress(ctx, job.ID, i+1, total); err != nil {
			log.Warn("progress report failed", zap.Error(err))
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
	log.Info("enrichment finished", zap.Int("total", total), zap.Int("successful", successful))
}

func (e *Enrich) loadTargets(ctx context.Context, params catalog.JobParams, log *zap.Logger) ([]catalog.Business, error) {
	ids := params.BusinessIDs()
	if len(ids) == 0 {
		all, err := e.businesses.List(ctx, catalog.BusinessFilter{Limit: e.batchLimit})
		if err != nil {
			return nil, fmt.Errorf("list businesses: %w", err)
		}
		out := all[:0]
		for _, b := range all {
			if !b.IsProcessed {
				out = append(out, b)
			}
		}
		return out, nil
	}

	out := make([]catalog.Business, 0, len(ids))
	for _, id := range ids {
		b, err := e.businesses.Get(ctx, id)
		if errors.Is(err, catalog.ErrNotFound) {
			log.Warn("business not found, skipping", zap.Int64("business_id", id))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load business %d: %w", id, err)
		}
		out = append(out, b)
	}
	return out, nil
}

// enrichBusiness normalizes derivable fields and stamps the processed flag.
func (e *Enrich) enrichBusiness(ctx context.Context, b catalog.Business) error {
	if b.BusinessType == "" && b.Industry != "" {
		b.BusinessType = b.Industry
	}
	if b.Country == "" {
		b.Country = "Netherlands"
	}
	b.ConfidenceScore = catalog.ClampConfidence(b.ConfidenceScore)
	b.IsProcessed = true
	if err := e.businesses.Update(ctx, b); err != nil {
		return fmt.Errorf("update business: %w", err)
	}
	return nil
}
