// Package lifecycle owns the job state machine: valid transitions, retry
// eligibility, progress snapshots, and the consistency rules around
// terminal states.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zzpscan/zzpscan/internal/catalog"
	"github.com/zzpscan/zzpscan/internal/metrics"
)

// ErrInvalidTransition signals a state transition request that the state
// machine rejects; the job record is left unchanged.
var ErrInvalidTransition = errors.New("invalid job state transition")

// ErrRetryExhausted signals a retry request on a job whose retry budget is
// spent; the job record is left unchanged.
var ErrRetryExhausted = errors.New("job retries exhausted")

// IDGenerator produces external identifiers for new jobs.
type IDGenerator interface {
	NewRawID() (uuid.UUID, error)
}

// Config carries lifecycle defaults.
type Config struct {
	// MaxRetries is the default retry budget stamped onto new jobs.
	MaxRetries int
	// EventTopic is the publisher topic for lifecycle events; empty
	// disables publishing.
	EventTopic string
}

// Manager enforces the job state machine over a JobStore and signals the
// Dispatcher. It serializes transitions; there is exactly one
// worker task per job, so contention is between an executor and API calls.
type Manager struct {
	jobs       catalog.JobStore
	dispatcher catalog.Dispatcher
	publisher  catalog.Publisher
	clock      catalog.Clock
	idGen      IDGenerator
	logger     *zap.Logger
	cfg        Config

	mu sync.Mutex
}

// New constructs a Manager.
func New(
	jobs catalog.JobStore,
	dispatcher catalog.Dispatcher,
	publisher catalog.Publisher,
	clock catalog.Clock,
	idGen IDGenerator,
	cfg Config,
	logger *zap.Logger,
) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	return &Manager{
		jobs:       jobs,
		dispatcher: dispatcher,
		publisher:  publisher,
		clock:      clock,
		idGen:      idGen,
		logger:     logger,
		cfg:        cfg,
	}
}

// CreateJob persists a pending job and hands it to the dispatcher. The
// params payload is stored as-is; its shape depends on the job kind.
func (m *Manager) CreateJob(ctx context.Context, kind catalog.JobKind, name string, params catalog.JobParams) (catalog.Job, error) {
	if _, err := catalog.ParseJobKind(string(kind)); err != nil {
		return catalog.Job{}, err
	}
	if params == nil {
		params = catalog.JobParams{}
	}
	if name == "" {
		name = defaultJobName(kind, params)
	}

	extID, err := m.idGen.NewRawID()
	if err != nil {
		return catalog.Job{}, fmt.Errorf("generate job uuid: %w", err)
	}

	now := m.clock.Now()
	job := catalog.Job{
		UUID:       extID,
		Name:       name,
		Kind:       kind,
		State:      catalog.JobStatePending,
		Params:     params,
		MaxRetries: m.cfg.MaxRetries,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if loc, ok := params.Location(); ok {
		job.TargetLocation = loc
	}
	job.TargetIndustry = params.Industry()

	job, err = m.jobs.Create(ctx, job)
	if err != nil {
		return catalog.Job{}, fmt.Errorf("create job: %w", err)
	}

	if err := m.dispatch(ctx, &job); err != nil {
		return catalog.Job{}, err
	}

	m.logger.Info("job created",
		zap.Int64("job_id", job.ID),
		zap.String("kind", string(job.Kind)),
		zap.String("name", job.Name),
	)
	metrics.ObserveJobTransition(string(job.Kind), string(job.State))
	m.publish(ctx, job, "created")
	return job, nil
}

// Get loads a single job.
func (m *Manager) Get(ctx context.Context, jobID int64) (catalog.Job, error) {
	return m.jobs.Get(ctx, jobID)
}

// List passes a filtered job query through to the store.
func (m *Manager) List(ctx context.Context, f catalog.JobFilter) ([]catalog.Job, error) {
	return m.jobs.List(ctx, f)
}

// Start transitions pending -> running. StartedAt is stamped the first time
// the job ever runs and never reset by retries.
func (m *Manager) Start(ctx context.Context, jobID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, err := m.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.State != catalog.JobStatePending {
		return fmt.Errorf("%w: start from %s", ErrInvalidTransition, job.State)
	}
	job.State = catalog.JobStateRunning
	if job.StartedAt == nil {
		now := m.clock.Now()
		job.StartedAt = &now
	}
	job.UpdatedAt = m.clock.Now()
	if err := m.jobs.Update(ctx, job); err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	metrics.ObserveJobTransition(string(job.Kind), string(job.State))
	metrics.IncActiveJobs()
	m.publish(ctx, job, "started")
	return nil
}

// ReportProgress stores a (current, total) snapshot while the job runs.
// Snapshots are monotonically non-decreasing: a report below the stored
// value is ignored, not an error, to tolerate out-of-order delivery.
// Reports against non-running jobs are ignored.
func (m *Manager) ReportProgress(ctx context.Context, jobID int64, current, total int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, err := m.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.State != catalog.JobStateRunning {
		return nil
	}
	if current < job.Counters.Processed {
		return nil
	}
	job.Counters.Processed = current
	if total > job.Counters.Total {
		job.Counters.Total = total
	}
	job.Counters = job.Counters.Normalize()
	job.UpdatedAt = m.clock.Now()
	if err := m.jobs.Update(ctx, job); err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return nil
}

// Complete transitions running -> completed and finalizes counters from the
// executor's report. A completion arriving after cancellation is a no-op.
func (m *Manager) Complete(ctx context.Context, jobID int64, counters catalog.JobCounters) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, err := m.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.State == catalog.JobStateCancelled {
		m.logger.Debug("completion report after cancellation ignored", zap.Int64("job_id", jobID))
		return nil
	}
	if job.State != catalog.JobStateRunning {
		return fmt.Errorf("%w: complete from %s", ErrInvalidTransition, job.State)
	}
	job.State = catalog.JobStateCompleted
	job.Counters = counters.Normalize()
	now := m.clock.Now()
	job.CompletedAt = &now
	job.UpdatedAt = now
	if err := m.jobs.Update(ctx, job); err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	m.logger.Info("job completed",
		zap.Int64("job_id", jobID),
		zap.Int("total", job.Counters.Total),
		zap.Int("successful", job.Counters.Successful),
		zap.Int("failed", job.Counters.Failed),
	)
	metrics.ObserveJobTransition(string(job.Kind), string(job.State))
	metrics.DecActiveJobs()
	m.publish(ctx, job, "completed")
	return nil
}

// Fail transitions running -> failed, recording the triggering error.
// Counters are left at their last reported partial values. A failure report
// arriving after cancellation is a no-op.
func (m *Manager) Fail(ctx context.Context, jobID int64, cause error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, err := m.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.State == catalog.JobStateCancelled {
		m.logger.Debug("failure report after cancellation ignored", zap.Int64("job_id", jobID))
		return nil
	}
	if job.State != catalog.JobStateRunning {
		return fmt.Errorf("%w: fail from %s", ErrInvalidTransition, job.State)
	}
	job.State = catalog.JobStateFailed
	if cause != nil {
		job.ErrorText = cause.Error()
	}
	now := m.clock.Now()
	job.CompletedAt = &now
	job.UpdatedAt = now
	if err := m.jobs.Update(ctx, job); err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	m.logger.Warn("job failed", zap.Int64("job_id", jobID), zap.String("error", job.ErrorText))
	metrics.ObserveJobTransition(string(job.Kind), string(job.State))
	metrics.DecActiveJobs()
	m.publish(ctx, job, "failed")
	return nil
}

// Cancel transitions pending|running -> cancelled and asks the dispatcher to
// terminate the attached task. Cancellation is cooperative: in-flight
// per-item work is not forcibly stopped, but no later report can move the
// job out of cancelled.
func (m *Manager) Cancel(ctx context.Context, jobID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, err := m.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	switch job.State {
	case catalog.JobStatePending, catalog.JobStateRunning:
	default:
		return fmt.Errorf("%w: cancel from %s", ErrInvalidTransition, job.State)
	}
	wasRunning := job.State == catalog.JobStateRunning
	job.State = catalog.JobStateCancelled
	now := m.clock.Now()
	job.CompletedAt = &now
	job.UpdatedAt = now
	if err := m.jobs.Update(ctx, job); err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if job.TaskHandle != "" {
		m.dispatcher.Cancel(job.TaskHandle)
	}
	m.logger.Info("job cancelled", zap.Int64("job_id", jobID))
	metrics.ObserveJobTransition(string(job.Kind), string(job.State))
	if wasRunning {
		metrics.DecActiveJobs()
	}
	m.publish(ctx, job, "cancelled")
	return nil
}

// Retry transitions failed -> pending when the retry budget allows and
// re-dispatches the job with its original parameters. Check jobs are
// re-targeted at all businesses rather than the original subset; that
// simplification is deliberate and mirrors the discovery-job behavior of
// re-running from the stored location/industry.
func (m *Manager) Retry(ctx context.Context, jobID int64) (catalog.Job, error) {
	job, err := m.retryTransition(ctx, jobID)
	if err != nil {
		return catalog.Job{}, err
	}
	if err := m.dispatch(ctx, &job); err != nil {
		return catalog.Job{}, err
	}

	m.logger.Info("job retried",
		zap.Int64("job_id", jobID),
		zap.Int("retry_count", job.RetryCount),
	)
	metrics.ObserveRetry(string(job.Kind))
	m.publish(ctx, job, "retried")
	return job, nil
}

// retryTransition applies the failed -> pending reset under the lock; the
// re-dispatch happens outside it, like CreateJob's initial dispatch.
func (m *Manager) retryTransition(ctx context.Context, jobID int64) (catalog.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, err := m.jobs.Get(ctx, jobID)
	if err != nil {
		return catalog.Job{}, err
	}
	if job.State != catalog.JobStateFailed {
		return catalog.Job{}, fmt.Errorf("%w: retry from %s", ErrInvalidTransition, job.State)
	}
	if job.RetryCount >= job.MaxRetries {
		return catalog.Job{}, fmt.Errorf("%w: %d of %d used", ErrRetryExhausted, job.RetryCount, job.MaxRetries)
	}

	job.State = catalog.JobStatePending
	job.RetryCount++
	job.ErrorText = ""
	job.CompletedAt = nil
	job.Counters = catalog.JobCounters{}
	job.UpdatedAt = m.clock.Now()

	if job.Kind == catalog.JobKindWebsiteCheck {
		params := job.Params.Clone()
		delete(params, "business_ids")
		job.Params = params
	}

	if err := m.jobs.Update(ctx, job); err != nil {
		return catalog.Job{}, fmt.Errorf("update job: %w", err)
	}
	return job, nil
}

// dispatch hands the job to the dispatcher and records the task handle.
// A dispatch failure marks the job failed so it stays retryable.
//
// The executor may transition the job before StartJob even returns, so both
// writes here re-read the current row under the lock and touch only the
// fields they own instead of replaying the caller's pre-dispatch copy.
func (m *Manager) dispatch(ctx context.Context, job *catalog.Job) error {
	handle, err := m.dispatcher.StartJob(ctx, *job)

	m.mu.Lock()
	defer m.mu.Unlock()

	stored, gerr := m.jobs.Get(ctx, job.ID)
	if err != nil {
		if gerr != nil {
			m.logger.Error("mark dispatch failure", zap.Int64("job_id", job.ID), zap.Error(gerr))
			return fmt.Errorf("dispatch job: %w", err)
		}
		now := m.clock.Now()
		stored.State = catalog.JobStateFailed
		stored.ErrorText = err.Error()
		stored.CompletedAt = &now
		stored.UpdatedAt = now
		if uerr := m.jobs.Update(ctx, stored); uerr != nil {
			m.logger.Error("mark dispatch failure", zap.Int64("job_id", job.ID), zap.Error(uerr))
		}
		return fmt.Errorf("dispatch job: %w", err)
	}

	if gerr != nil {
		return fmt.Errorf("record task handle: %w", gerr)
	}
	stored.TaskHandle = handle
	stored.UpdatedAt = m.clock.Now()
	if uerr := m.jobs.Update(ctx, stored); uerr != nil {
		return fmt.Errorf("record task handle: %w", uerr)
	}
	*job = stored
	return nil
}

func (m *Manager) publish(ctx context.Context, job catalog.Job, event string) {
	if m.publisher == nil || m.cfg.EventTopic == "" {
		return
	}
	payload := map[string]any{
		"event":      event,
		"job_id":     job.ID,
		"uuid":       job.UUID,
		"kind":       string(job.Kind),
		"state":      string(job.State),
		"counters":   job.Counters,
		"retry":      job.RetryCount,
		"occurred":   m.clock.Now(),
		"error_text": job.ErrorText,
	}
	if _, err := m.publisher.Publish(ctx, m.cfg.EventTopic, payload); err != nil {
		m.logger.Warn("publish lifecycle event failed",
			zap.Int64("job_id", job.ID),
			zap.String("event", event),
			zap.Error(err),
		)
	}
}

func defaultJobName(kind catalog.JobKind, params catalog.JobParams) string {
	switch kind {
	case catalog.JobKindWebsiteCheck:
		return "Website check job"
	case catalog.JobKindEnrichData:
		return "Data enrichment job"
	default:
		if loc, ok := params.Location(); ok {
			return fmt.Sprintf("%s crawl - %s", kind.SourceName(), loc)
		}
		return fmt.Sprintf("%s crawl", kind.SourceName())
	}
}
