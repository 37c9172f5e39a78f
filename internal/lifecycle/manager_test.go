package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zzpscan/zzpscan/internal/catalog"
	"github.com/zzpscan/zzpscan/internal/id/uuid"
	memorypublisher "github.com/zzpscan/zzpscan/internal/publisher/memory"
	memorystorage "github.com/zzpscan/zzpscan/internal/storage/memory"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

// stubDispatcher records starts and cancels without running anything.
type stubDispatcher struct {
	mu        sync.Mutex
	started   []catalog.Job
	cancelled []catalog.TaskHandle
	failStart error
}

func (d *stubDispatcher) StartJob(_ context.Context, job catalog.Job) (catalog.TaskHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failStart != nil {
		return "", d.failStart
	}
	d.started = append(d.started, job)
	return catalog.TaskHandle("task-1"), nil
}

func (d *stubDispatcher) Cancel(handle catalog.TaskHandle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelled = append(d.cancelled, handle)
}

func newTestManager(t *testing.T) (*Manager, *stubDispatcher, *memorypublisher.Publisher) {
	t.Helper()
	dispatcher := &stubDispatcher{}
	publisher := memorypublisher.New()
	manager := New(
		memorystorage.NewJobStore(),
		dispatcher,
		publisher,
		fixedClock{t: time.Unix(1700000000, 0).UTC()},
		uuid.New(),
		Config{MaxRetries: 3, EventTopic: "job-events"},
		nil,
	)
	return manager, dispatcher, publisher
}

func requireTerminalConsistency(t *testing.T, job catalog.Job) {
	t.Helper()
	if job.State.Terminal() {
		require.NotNil(t, job.CompletedAt, "terminal job must carry completed_at")
	} else {
		require.Nil(t, job.CompletedAt, "non-terminal job must not carry completed_at")
	}
	require.LessOrEqual(t, job.Counters.Processed, job.Counters.Total)
	require.LessOrEqual(t, job.Counters.Successful+job.Counters.Failed, job.Counters.Processed)
}

func TestCreateJobDefaults(t *testing.T) {
	t.Parallel()
	manager, dispatcher, publisher := newTestManager(t)
	ctx := context.Background()

	job, err := manager.CreateJob(ctx, catalog.JobKindGoogleMaps, "", catalog.JobParams{
		"location": "Utrecht, Netherlands",
		"industry": "Technology",
	})
	require.NoError(t, err)
	require.Equal(t, catalog.JobStatePending, job.State)
	require.Equal(t, "google_maps crawl - Utrecht, Netherlands", job.Name)
	require.Equal(t, 3, job.MaxRetries)
	require.Equal(t, "Utrecht, Netherlands", job.TargetLocation)
	require.Equal(t, "Technology", job.TargetIndustry)
	require.Equal(t, catalog.TaskHandle("task-1"), job.TaskHandle)
	require.NotEqual(t, "00000000-0000-0000-0000-000000000000", job.UUID.String())
	requireTerminalConsistency(t, job)

	require.Len(t, dispatcher.started, 1)
	msgs := publisher.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "job-events", msgs[0].Topic)

	_, err = manager.CreateJob(ctx, catalog.JobKind("bogus"), "", nil)
	require.ErrorContains(t, err, "unknown job kind")
}

// inlineDispatcher runs the job to completion inside StartJob, the earliest
// interleaving a goroutine-per-job dispatcher allows.
type inlineDispatcher struct {
	manager *Manager
}

func (d *inlineDispatcher) StartJob(ctx context.Context, job catalog.Job) (catalog.TaskHandle, error) {
	if err := d.manager.Start(ctx, job.ID); err != nil {
		return "", err
	}
	counters := catalog.JobCounters{Total: 2, Processed: 2, Successful: 2}
	if err := d.manager.Complete(ctx, job.ID, counters); err != nil {
		return "", err
	}
	return catalog.TaskHandle("task-inline"), nil
}

func (d *inlineDispatcher) Cancel(catalog.TaskHandle) {}

func TestCreateJobHandleWriteKeepsExecutorState(t *testing.T) {
	t.Parallel()
	dispatcher := &inlineDispatcher{}
	manager := New(
		memorystorage.NewJobStore(),
		dispatcher,
		memorypublisher.New(),
		fixedClock{t: time.Unix(1700000000, 0).UTC()},
		uuid.New(),
		Config{MaxRetries: 3},
		nil,
	)
	dispatcher.manager = manager
	ctx := context.Background()

	created, err := manager.CreateJob(ctx, catalog.JobKindGoogleMaps, "", catalog.JobParams{"location": "Utrecht"})
	require.NoError(t, err)
	require.Equal(t, catalog.TaskHandle("task-inline"), created.TaskHandle)

	// The executor finished before the handle write; recording the handle
	// must not roll the job back to pending or drop its bookkeeping.
	job, err := manager.Get(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, catalog.JobStateCompleted, job.State)
	require.Equal(t, catalog.TaskHandle("task-inline"), job.TaskHandle)
	require.NotNil(t, job.StartedAt)
	require.NotNil(t, job.CompletedAt)
	require.Equal(t, catalog.JobCounters{Total: 2, Processed: 2, Successful: 2}, job.Counters)
	requireTerminalConsistency(t, job)
}

func TestCreateJobDispatchFailureStaysRetryable(t *testing.T) {
	t.Parallel()
	manager, dispatcher, _ := newTestManager(t)
	dispatcher.failStart = errors.New("queue is down")

	_, err := manager.CreateJob(context.Background(), catalog.JobKindWebsiteCheck, "", nil)
	require.ErrorContains(t, err, "queue is down")

	job, err := manager.Get(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, catalog.JobStateFailed, job.State)
	require.True(t, job.CanRetry())
	requireTerminalConsistency(t, job)
}

func TestStartTransition(t *testing.T) {
	t.Parallel()
	manager, _, _ := newTestManager(t)
	ctx := context.Background()

	job, err := manager.CreateJob(ctx, catalog.JobKindGoogleMaps, "", catalog.JobParams{"location": "Utrecht"})
	require.NoError(t, err)

	require.NoError(t, manager.Start(ctx, job.ID))
	running, _ := manager.Get(ctx, job.ID)
	require.Equal(t, catalog.JobStateRunning, running.State)
	require.NotNil(t, running.StartedAt)

	err = manager.Start(ctx, job.ID)
	require.ErrorIs(t, err, ErrInvalidTransition)

	require.ErrorIs(t, manager.Start(ctx, 999), catalog.ErrNotFound)
}

func TestReportProgressMonotonic(t *testing.T) {
	t.Parallel()
	manager, _, _ := newTestManager(t)
	ctx := context.Background()

	job, _ := manager.CreateJob(ctx, catalog.JobKindWebsiteCheck, "", nil)

	// Reports against a pending job are ignored.
	require.NoError(t, manager.ReportProgress(ctx, job.ID, 3, 10))
	pending, _ := manager.Get(ctx, job.ID)
	require.Zero(t, pending.Counters.Processed)

	require.NoError(t, manager.Start(ctx, job.ID))
	require.NoError(t, manager.ReportProgress(ctx, job.ID, 3, 10))
	require.NoError(t, manager.ReportProgress(ctx, job.ID, 2, 10)) // stale, ignored
	got, _ := manager.Get(ctx, job.ID)
	require.Equal(t, 3, got.Counters.Processed)
	require.Equal(t, 10, got.Counters.Total)

	require.NoError(t, manager.ReportProgress(ctx, job.ID, 7, 10))
	got, _ = manager.Get(ctx, job.ID)
	require.Equal(t, 7, got.Counters.Processed)
	requireTerminalConsistency(t, got)
}

func TestCompleteFinalizesCounters(t *testing.T) {
	t.Parallel()
	manager, _, _ := newTestManager(t)
	ctx := context.Background()

	job, _ := manager.CreateJob(ctx, catalog.JobKindGoogleMaps, "", catalog.JobParams{"location": "Utrecht"})

	err := manager.Complete(ctx, job.ID, catalog.JobCounters{})
	require.ErrorIs(t, err, ErrInvalidTransition)

	require.NoError(t, manager.Start(ctx, job.ID))
	counters := catalog.JobCounters{Total: 5, Processed: 5, Successful: 4, Failed: 1}
	require.NoError(t, manager.Complete(ctx, job.ID, counters))

	done, _ := manager.Get(ctx, job.ID)
	require.Equal(t, catalog.JobStateCompleted, done.State)
	require.Equal(t, counters, done.Counters)
	requireTerminalConsistency(t, done)
}

func TestFailKeepsPartialCounters(t *testing.T) {
	t.Parallel()
	manager, _, _ := newTestManager(t)
	ctx := context.Background()

	job, _ := manager.CreateJob(ctx, catalog.JobKindGoogleMaps, "", catalog.JobParams{"location": "Utrecht"})
	require.NoError(t, manager.Start(ctx, job.ID))
	require.NoError(t, manager.ReportProgress(ctx, job.ID, 2, 6))

	require.NoError(t, manager.Fail(ctx, job.ID, errors.New("source unavailable")))
	failed, _ := manager.Get(ctx, job.ID)
	require.Equal(t, catalog.JobStateFailed, failed.State)
	require.Equal(t, "source unavailable", failed.ErrorText)
	require.Equal(t, 2, failed.Counters.Processed)
	require.Equal(t, 6, failed.Counters.Total)
	requireTerminalConsistency(t, failed)
}

func TestCancelGates(t *testing.T) {
	t.Parallel()
	manager, dispatcher, _ := newTestManager(t)
	ctx := context.Background()

	// Cancel from pending.
	pending, _ := manager.CreateJob(ctx, catalog.JobKindGoogleMaps, "", catalog.JobParams{"location": "Utrecht"})
	require.NoError(t, manager.Cancel(ctx, pending.ID))
	got, _ := manager.Get(ctx, pending.ID)
	require.Equal(t, catalog.JobStateCancelled, got.State)
	require.Contains(t, dispatcher.cancelled, catalog.TaskHandle("task-1"))
	requireTerminalConsistency(t, got)

	// Cancel from running.
	running, _ := manager.CreateJob(ctx, catalog.JobKindGoogleMaps, "", catalog.JobParams{"location": "Leiden"})
	require.NoError(t, manager.Start(ctx, running.ID))
	require.NoError(t, manager.Cancel(ctx, running.ID))

	// Cancel from a terminal state is rejected.
	require.ErrorIs(t, manager.Cancel(ctx, running.ID), ErrInvalidTransition)

	// Late terminal reports after cancellation are no-ops.
	require.NoError(t, manager.Complete(ctx, running.ID, catalog.JobCounters{Total: 9, Processed: 9}))
	require.NoError(t, manager.Fail(ctx, running.ID, errors.New("late")))
	final, _ := manager.Get(ctx, running.ID)
	require.Equal(t, catalog.JobStateCancelled, final.State)
	require.Empty(t, final.ErrorText)
	require.Zero(t, final.Counters.Total)
}

func TestRetryBudgetAndReset(t *testing.T) {
	t.Parallel()
	manager, _, _ := newTestManager(t)
	ctx := context.Background()

	job, _ := manager.CreateJob(ctx, catalog.JobKindGoogleMaps, "", catalog.JobParams{"location": "Utrecht"})

	_, err := manager.Retry(ctx, job.ID)
	require.ErrorIs(t, err, ErrInvalidTransition)

	failOnce := func() {
		require.NoError(t, manager.Start(ctx, job.ID))
		require.NoError(t, manager.ReportProgress(ctx, job.ID, 1, 4))
		require.NoError(t, manager.Fail(ctx, job.ID, errors.New("boom")))
	}

	failOnce()
	for i := 1; i <= 3; i++ {
		retried, err := manager.Retry(ctx, job.ID)
		require.NoError(t, err)
		require.Equal(t, catalog.JobStatePending, retried.State)
		require.Equal(t, i, retried.RetryCount)
		require.Empty(t, retried.ErrorText)
		require.Zero(t, retried.Counters.Processed)
		require.Nil(t, retried.CompletedAt)
		require.NotNil(t, retried.StartedAt, "started_at survives retries")
		failOnce()
	}

	_, err = manager.Retry(ctx, job.ID)
	require.ErrorIs(t, err, ErrRetryExhausted)
}

func TestRetryCheckJobDropsBusinessIDs(t *testing.T) {
	t.Parallel()
	manager, _, _ := newTestManager(t)
	ctx := context.Background()

	job, err := manager.CreateJob(ctx, catalog.JobKindWebsiteCheck, "", catalog.JobParams{
		"business_ids": []any{int64(1), int64(2)},
	})
	require.NoError(t, err)

	require.NoError(t, manager.Start(ctx, job.ID))
	require.NoError(t, manager.Fail(ctx, job.ID, errors.New("probe down")))

	retried, err := manager.Retry(ctx, job.ID)
	require.NoError(t, err)
	require.NotContains(t, retried.Params, "business_ids")

	// The original record's params are not mutated in place.
	require.Len(t, job.Params.BusinessIDs(), 2)
}
