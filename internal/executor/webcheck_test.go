package executor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zzpscan/zzpscan/internal/catalog"
	"github.com/zzpscan/zzpscan/internal/clock/system"
	memorystorage "github.com/zzpscan/zzpscan/internal/storage/memory"
)

// stubProbe answers DNS and fetch calls from fixed tables. Domains absent
// from the tables do not resolve.
type stubProbe struct {
	resolveErr map[string]error
	responses  map[string]catalog.FetchResult
	fetchErr   map[string]error
}

func (p *stubProbe) Resolve(_ context.Context, domain string) ([]string, error) {
	if err, ok := p.resolveErr[domain]; ok {
		return nil, err
	}
	if _, ok := p.responses["https://"+domain]; ok {
		return []string{"93.184.216.34"}, nil
	}
	if _, ok := p.fetchErr["https://"+domain]; ok {
		return []string{"93.184.216.34"}, nil
	}
	return nil, catalog.ErrDomainNotFound
}

func (p *stubProbe) Fetch(_ context.Context, url string) (catalog.FetchResult, error) {
	if err, ok := p.fetchErr[url]; ok {
		return catalog.FetchResult{}, err
	}
	if res, ok := p.responses[url]; ok {
		return res, nil
	}
	return catalog.FetchResult{}, fmt.Errorf("unexpected fetch %s", url)
}

type webcheckFixture struct {
	jobs       *jobControlRecorder
	businesses *memorystorage.BusinessStore
	checks     *memorystorage.CheckStore
	blobs      *memorystorage.BlobStore
}

func newWebcheck(t *testing.T, probe catalog.Probe) (*Webcheck, *webcheckFixture) {
	t.Helper()
	f := &webcheckFixture{
		jobs:       &jobControlRecorder{},
		businesses: memorystorage.NewBusinessStore(),
		blobs:      memorystorage.NewBlobStore(),
	}
	f.checks = memorystorage.NewCheckStore(f.businesses)
	w := NewWebcheck(
		f.jobs, f.businesses, f.checks, probe, f.blobs, system.New(),
		WebcheckConfig{TLDs: []string{"nl", "com"}, BatchLimit: 100, SnapshotPrefix: "snapshots"},
		nil,
	)
	return w, f
}

func checkJob(id int64, params catalog.JobParams) catalog.Job {
	return catalog.Job{ID: id, Kind: catalog.JobKindWebsiteCheck, State: catalog.JobStatePending, Params: params}
}

func TestWebcheckFindsWebsite(t *testing.T) {
	t.Parallel()

	probe := &stubProbe{
		responses: map[string]catalog.FetchResult{
			"https://testbusiness2.nl": {
				URL:        "https://testbusiness2.nl",
				StatusCode: 200,
				Headers:    http.Header{"Content-Type": {"text/html"}},
				Body:       []byte("<html>ok</html>"),
				Elapsed:    120 * time.Millisecond,
			},
		},
	}
	w, f := newWebcheck(t, probe)
	ctx := context.Background()

	business, err := f.businesses.Create(ctx, catalog.Business{Name: "Test Business 2"})
	require.NoError(t, err)

	w.Execute(ctx, checkJob(1, catalog.JobParams{"business_ids": []any{business.ID}}))

	require.Empty(t, f.jobs.failures)
	require.Len(t, f.jobs.completed, 1)
	require.Equal(t, catalog.JobCounters{Total: 1, Processed: 1, Successful: 1, Failed: 0}, f.jobs.completed[0])

	cached, _ := f.businesses.Get(ctx, business.ID)
	require.True(t, cached.WebsiteExists)
	require.Equal(t, "https://testbusiness2.nl", cached.WebsiteURL)
	require.InDelta(t, 0.9, cached.WebsiteConfidence, 1e-9)
	require.NotNil(t, cached.LastChecked)

	checks, _ := f.checks.ListByBusiness(ctx, business.ID)
	require.Len(t, checks, 1)
	require.Equal(t, 200, checks[0].StatusCode)
	require.Equal(t, "combined", checks[0].CheckType)
	require.False(t, checks[0].IsError)
	require.NotEmpty(t, checks[0].SnapshotURI, "a found page gets an archived snapshot")
	require.NotEmpty(t, checks[0].DNSRecords)
}

func TestWebcheckNonOKBelow400StillCounts(t *testing.T) {
	t.Parallel()

	probe := &stubProbe{
		responses: map[string]catalog.FetchResult{
			"https://acme.nl": {URL: "https://acme.nl", StatusCode: 302, Elapsed: 40 * time.Millisecond},
		},
	}
	w, f := newWebcheck(t, probe)
	ctx := context.Background()

	business, _ := f.businesses.Create(ctx, catalog.Business{Name: "Acme"})
	w.Execute(ctx, checkJob(1, catalog.JobParams{"business_ids": []any{business.ID}}))

	cached, _ := f.businesses.Get(ctx, business.ID)
	require.True(t, cached.WebsiteExists)
	require.InDelta(t, 0.7, cached.WebsiteConfidence, 1e-9)
}

func TestWebcheckNoCandidateResolves(t *testing.T) {
	t.Parallel()

	w, f := newWebcheck(t, &stubProbe{})
	ctx := context.Background()

	business, _ := f.businesses.Create(ctx, catalog.Business{Name: "Ghost Company"})
	w.Execute(ctx, checkJob(1, catalog.JobParams{"business_ids": []any{business.ID}}))

	// A negative result is still a completed check.
	require.Len(t, f.jobs.completed, 1)
	require.Equal(t, catalog.JobCounters{Total: 1, Processed: 1, Successful: 1, Failed: 0}, f.jobs.completed[0])

	cached, _ := f.businesses.Get(ctx, business.ID)
	require.False(t, cached.WebsiteExists)
	require.Zero(t, cached.WebsiteConfidence)
	require.Empty(t, cached.WebsiteURL)
	require.NotNil(t, cached.LastChecked, "cache is updated even for misses")

	checks, _ := f.checks.ListByBusiness(ctx, business.ID)
	require.Len(t, checks, 1)
	require.False(t, checks[0].WebsiteExists)
}

func TestWebcheckRecordsProbeErrors(t *testing.T) {
	t.Parallel()

	probe := &stubProbe{
		resolveErr: map[string]error{
			"acme.nl":  errors.New("dns timeout"),
			"acme.com": errors.New("dns timeout"),
		},
	}
	w, f := newWebcheck(t, probe)
	ctx := context.Background()

	business, _ := f.businesses.Create(ctx, catalog.Business{Name: "Acme"})
	w.Execute(ctx, checkJob(1, catalog.JobParams{"business_ids": []any{business.ID}}))

	// The errored probe counts against the job, but the check row and
	// cache update are still persisted.
	require.Equal(t, catalog.JobCounters{Total: 1, Processed: 1, Successful: 0, Failed: 1}, f.jobs.completed[0])

	checks, _ := f.checks.ListByBusiness(ctx, business.ID)
	require.Len(t, checks, 1)
	require.True(t, checks[0].IsError)
	require.Contains(t, checks[0].ErrorMessage, "dns timeout")
	require.False(t, checks[0].WebsiteExists)

	cached, _ := f.businesses.Get(ctx, business.ID)
	require.NotNil(t, cached.LastChecked)
	require.False(t, cached.WebsiteExists)
}

func TestWebcheckMixedOutcomeBatch(t *testing.T) {
	t.Parallel()

	probe := &stubProbe{
		responses: map[string]catalog.FetchResult{
			"https://findable.nl": {URL: "https://findable.nl", StatusCode: 200, Elapsed: time.Millisecond},
		},
		resolveErr: map[string]error{
			"broken.nl":  errors.New("dns timeout"),
			"broken.com": errors.New("dns timeout"),
		},
	}
	w, f := newWebcheck(t, probe)
	ctx := context.Background()

	findable, _ := f.businesses.Create(ctx, catalog.Business{Name: "Findable"})
	broken, _ := f.businesses.Create(ctx, catalog.Business{Name: "Broken"})

	w.Execute(ctx, checkJob(1, catalog.JobParams{"business_ids": []any{findable.ID, broken.ID}}))

	require.Empty(t, f.jobs.failures)
	require.Equal(t, catalog.JobCounters{Total: 2, Processed: 2, Successful: 1, Failed: 1}, f.jobs.completed[0])

	// Both businesses end up with a check row and a refreshed cache.
	for _, id := range []int64{findable.ID, broken.ID} {
		checks, err := f.checks.ListByBusiness(ctx, id)
		require.NoError(t, err)
		require.Len(t, checks, 1)
		cached, err := f.businesses.Get(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, cached.LastChecked)
	}
}

func TestWebcheckDefaultsToUncheckedBatch(t *testing.T) {
	t.Parallel()

	probe := &stubProbe{
		responses: map[string]catalog.FetchResult{
			"https://first.nl": {URL: "https://first.nl", StatusCode: 200, Elapsed: time.Millisecond},
		},
	}
	w, f := newWebcheck(t, probe)
	ctx := context.Background()

	first, _ := f.businesses.Create(ctx, catalog.Business{Name: "First"})
	second, _ := f.businesses.Create(ctx, catalog.Business{Name: "Second"})

	w.Execute(ctx, checkJob(1, catalog.JobParams{}))

	require.Equal(t, catalog.JobCounters{Total: 2, Processed: 2, Successful: 2, Failed: 0}, f.jobs.completed[0])

	firstCached, _ := f.businesses.Get(ctx, first.ID)
	require.True(t, firstCached.WebsiteExists)
	secondCached, _ := f.businesses.Get(ctx, second.ID)
	require.False(t, secondCached.WebsiteExists)
	require.NotNil(t, secondCached.LastChecked)

	// A second implicit run finds nothing left to check.
	w.Execute(ctx, checkJob(2, catalog.JobParams{}))
	require.Equal(t, catalog.JobCounters{}, f.jobs.completed[1])
}

func TestWebcheckSkipsUnknownIDs(t *testing.T) {
	t.Parallel()

	probe := &stubProbe{
		responses: map[string]catalog.FetchResult{
			"https://first.nl": {URL: "https://first.nl", StatusCode: 200, Elapsed: time.Millisecond},
		},
	}
	w, f := newWebcheck(t, probe)
	ctx := context.Background()

	first, _ := f.businesses.Create(ctx, catalog.Business{Name: "First"})
	w.Execute(ctx, checkJob(1, catalog.JobParams{"business_ids": []any{first.ID, int64(999)}}))

	require.Empty(t, f.jobs.failures)
	require.Equal(t, catalog.JobCounters{Total: 1, Processed: 1, Successful: 1, Failed: 0}, f.jobs.completed[0])
}

// failingCheckStore wraps the memory check store and fails SaveResult for
// one business id.
type failingCheckStore struct {
	*memorystorage.CheckStore
	failFor int64
}

func (s *failingCheckStore) SaveResult(ctx context.Context, c catalog.WebsiteCheck, cache catalog.WebsiteCache) (catalog.WebsiteCheck, error) {
	if c.BusinessID == s.failFor {
		return catalog.WebsiteCheck{}, errors.New("storage unavailable")
	}
	return s.CheckStore.SaveResult(ctx, c, cache)
}

func TestWebcheckCountsStoreFailures(t *testing.T) {
	t.Parallel()

	probe := &stubProbe{
		responses: map[string]catalog.FetchResult{
			"https://first.nl":  {URL: "https://first.nl", StatusCode: 200, Elapsed: time.Millisecond},
			"https://second.nl": {URL: "https://second.nl", StatusCode: 200, Elapsed: time.Millisecond},
		},
	}
	jobs := &jobControlRecorder{}
	businesses := memorystorage.NewBusinessStore()
	checks := &failingCheckStore{CheckStore: memorystorage.NewCheckStore(businesses)}

	ctx := context.Background()
	first, _ := businesses.Create(ctx, catalog.Business{Name: "First"})
	second, _ := businesses.Create(ctx, catalog.Business{Name: "Second"})
	checks.failFor = second.ID

	w := NewWebcheck(jobs, businesses, checks, probe, nil, system.New(),
		WebcheckConfig{TLDs: []string{"nl"}}, nil)
	w.Execute(ctx, checkJob(1, catalog.JobParams{"business_ids": []any{first.ID, second.ID}}))

	require.Equal(t, catalog.JobCounters{Total: 2, Processed: 2, Successful: 1, Failed: 1}, jobs.completed[0])
}

func TestWebcheckInterruptedByCancellation(t *testing.T) {
	t.Parallel()

	w, f := newWebcheck(t, &stubProbe{})
	ctx := context.Background()
	_, err := f.businesses.Create(ctx, catalog.Business{Name: "First"})
	require.NoError(t, err)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	w.Execute(cancelled, checkJob(1, catalog.JobParams{}))

	require.Len(t, f.jobs.failures, 1)
	require.ErrorContains(t, f.jobs.failures[0], "task interrupted")
}
