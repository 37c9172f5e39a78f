package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/zzpscan/zzpscan/internal/catalog"
)

var jobColumnNames = []string{
	"id", "uuid", "name", "job_kind", "status", "parameters",
	"total_items", "processed_items", "successful_items", "failed_items",
	"error_message", "retry_count", "max_retries", "task_handle",
	"created_at", "updated_at", "started_at", "completed_at",
	"target_location", "target_industry",
}

func jobRow(j catalog.Job) *pgxmock.Rows {
	var params []byte
	if j.Params != nil {
		params = []byte(`{"location":"Utrecht"}`)
	}
	return pgxmock.NewRows(jobColumnNames).AddRow(
		j.ID, j.UUID, j.Name, string(j.Kind), string(j.State), params,
		j.Counters.Total, j.Counters.Processed, j.Counters.Successful, j.Counters.Failed,
		j.ErrorText, j.RetryCount, j.MaxRetries, string(j.TaskHandle),
		j.CreatedAt, j.UpdatedAt, j.StartedAt, j.CompletedAt,
		j.TargetLocation, j.TargetIndustry,
	)
}

func TestJobStoreCreate(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewJobStore(mock)
	now := time.Unix(1700000000, 0).UTC()
	j := catalog.Job{
		UUID:       uuid.New(),
		Name:       "Google Maps crawl - Utrecht",
		Kind:       catalog.JobKindGoogleMaps,
		State:      catalog.JobStatePending,
		Params:     catalog.JobParams{"location": "Utrecht"},
		MaxRetries: 3,
	}

	mock.ExpectQuery("INSERT INTO jobs").
		WithArgs(
			j.UUID, j.Name, string(j.Kind), string(j.State), []byte(`{"location":"Utrecht"}`),
			0, 0, 0, 0,
			"", 0, 3, "",
			(*time.Time)(nil), (*time.Time)(nil), "", "",
		).
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at", "updated_at"}).
			AddRow(int64(1), now, now))

	created, err := store.Create(context.Background(), j)
	require.NoError(t, err)
	require.Equal(t, int64(1), created.ID)
	require.Equal(t, now, created.UpdatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobStoreGet(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewJobStore(mock)
	now := time.Unix(1700000000, 0).UTC()
	want := catalog.Job{
		ID:         4,
		UUID:       uuid.New(),
		Name:       "Website check job",
		Kind:       catalog.JobKindWebsiteCheck,
		State:      catalog.JobStateRunning,
		Params:     catalog.JobParams{"location": "Utrecht"},
		Counters:   catalog.JobCounters{Total: 10, Processed: 5, Successful: 4, Failed: 1},
		MaxRetries: 3,
		CreatedAt:  now,
		UpdatedAt:  now,
		StartedAt:  &now,
	}

	mock.ExpectQuery("SELECT (.+) FROM jobs WHERE id").
		WithArgs(int64(4)).
		WillReturnRows(jobRow(want))

	got, err := store.Get(context.Background(), 4)
	require.NoError(t, err)
	require.Equal(t, catalog.JobKindWebsiteCheck, got.Kind)
	require.Equal(t, catalog.JobStateRunning, got.State)
	require.Equal(t, 5, got.Counters.Processed)
	require.Equal(t, "Utrecht", got.Params["location"])
	require.NotNil(t, got.StartedAt)

	mock.ExpectQuery("SELECT (.+) FROM jobs WHERE id").
		WithArgs(int64(999)).
		WillReturnError(pgx.ErrNoRows)
	_, err = store.Get(context.Background(), 999)
	require.ErrorIs(t, err, catalog.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobStoreGetRejectsUnknownState(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewJobStore(mock)
	now := time.Unix(1700000000, 0).UTC()
	rows := pgxmock.NewRows(jobColumnNames).AddRow(
		int64(1), uuid.New(), "bad", "discover-google-maps", "sleeping", []byte(nil),
		0, 0, 0, 0,
		"", 0, 3, "",
		now, now, (*time.Time)(nil), (*time.Time)(nil),
		"", "",
	)
	mock.ExpectQuery("SELECT (.+) FROM jobs WHERE id").
		WithArgs(int64(1)).
		WillReturnRows(rows)

	_, err = store.Get(context.Background(), 1)
	require.ErrorContains(t, err, "unknown job state")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobStoreList(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewJobStore(mock)
	now := time.Unix(1700000000, 0).UTC()
	rows := jobRow(catalog.Job{
		ID: 2, UUID: uuid.New(), Name: "n",
		Kind: catalog.JobKindGoogleMaps, State: catalog.JobStatePending,
		CreatedAt: now, UpdatedAt: now,
	})

	state := catalog.JobStatePending
	mock.ExpectQuery(`SELECT (.+) FROM jobs WHERE status = \$1 ORDER BY id DESC LIMIT \$2`).
		WithArgs("pending", 20).
		WillReturnRows(rows)

	got, err := store.List(context.Background(), catalog.JobFilter{State: &state, Limit: 20})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, int64(2), got[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobStoreUpdateNotFound(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewJobStore(mock)

	mock.ExpectExec("UPDATE jobs SET").
		WithArgs(
			int64(77), "", "pending", []byte(`{}`),
			0, 0, 0, 0,
			"", 0, 0, "",
			(*time.Time)(nil), (*time.Time)(nil),
		).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err = store.Update(context.Background(), catalog.Job{
		ID:     77,
		State:  catalog.JobStatePending,
		Params: catalog.JobParams{},
	})
	require.ErrorIs(t, err, catalog.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
