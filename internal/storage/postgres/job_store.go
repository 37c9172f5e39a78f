package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/zzpscan/zzpscan/internal/catalog"
)

// JobStore implements catalog.JobStore on Postgres.
type JobStore struct {
	pool Pool
}

// NewJobStore constructs a JobStore on an existing pool.
func NewJobStore(pool Pool) *JobStore {
	return &JobStore{pool: pool}
}

const jobColumns = `id, uuid, name, job_kind, status, parameters,
	total_items, processed_items, successful_items, failed_items,
	error_message, retry_count, max_retries, task_handle,
	created_at, updated_at, started_at, completed_at,
	target_location, target_industry`

func scanJob(row pgx.Row) (catalog.Job, error) {
	var (
		j      catalog.Job
		kind   string
		state  string
		params []byte
	)
	err := row.Scan(
		&j.ID, &j.UUID, &j.Name, &kind, &state, &params,
		&j.Counters.Total, &j.Counters.Processed, &j.Counters.Successful, &j.Counters.Failed,
		&j.ErrorText, &j.RetryCount, &j.MaxRetries, &j.TaskHandle,
		&j.CreatedAt, &j.UpdatedAt, &j.StartedAt, &j.CompletedAt,
		&j.TargetLocation, &j.TargetIndustry,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return catalog.Job{}, catalog.ErrNotFound
	}
	if err != nil {
		return catalog.Job{}, fmt.Errorf("scan job: %w", err)
	}
	if j.Kind, err = catalog.ParseJobKind(kind); err != nil {
		return catalog.Job{}, fmt.Errorf("stored job %d: %w", j.ID, err)
	}
	if j.State, err = catalog.ParseJobState(state); err != nil {
		return catalog.Job{}, fmt.Errorf("stored job %d: %w", j.ID, err)
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &j.Params); err != nil {
			return catalog.Job{}, fmt.Errorf("decode job %d parameters: %w", j.ID, err)
		}
	}
	return j, nil
}

// Create inserts a job and returns it with generated fields filled in.
func (s *JobStore) Create(ctx context.Context, j catalog.Job) (catalog.Job, error) {
	params, err := json.Marshal(j.Params)
	if err != nil {
		return catalog.Job{}, fmt.Errorf("encode job parameters: %w", err)
	}
	query := `
		INSERT INTO jobs (
			uuid, name, job_kind, status, parameters,
			total_items, processed_items, successful_items, failed_items,
			error_message, retry_count, max_retries, task_handle,
			started_at, completed_at, target_location, target_industry
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		RETURNING id, created_at, updated_at`
	err = s.pool.QueryRow(ctx, query,
		j.UUID, j.Name, string(j.Kind), string(j.State), params,
		j.Counters.Total, j.Counters.Processed, j.Counters.Successful, j.Counters.Failed,
		j.ErrorText, j.RetryCount, j.MaxRetries, string(j.TaskHandle),
		j.StartedAt, j.CompletedAt, j.TargetLocation, j.TargetIndustry,
	).Scan(&j.ID, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return catalog.Job{}, fmt.Errorf("insert job: %w", err)
	}
	return j, nil
}

// Get fetches a job by id.
func (s *JobStore) Get(ctx context.Context, id int64) (catalog.Job, error) {
	query := fmt.Sprintf(`SELECT %s FROM jobs WHERE id = $1`, jobColumns)
	return scanJob(s.pool.QueryRow(ctx, query, id))
}

// Update rewrites the mutable columns of a job.
func (s *JobStore) Update(ctx context.Context, j catalog.Job) error {
	params, err := json.Marshal(j.Params)
	if err != nil {
		return fmt.Errorf("encode job parameters: %w", err)
	}
	query := `
		UPDATE jobs SET
			name = $2, status = $3, parameters = $4,
			total_items = $5, processed_items = $6, successful_items = $7, failed_items = $8,
			error_message = $9, retry_count = $10, max_retries = $11, task_handle = $12,
			started_at = $13, completed_at = $14, updated_at = now()
		WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query,
		j.ID, j.Name, string(j.State), params,
		j.Counters.Total, j.Counters.Processed, j.Counters.Successful, j.Counters.Failed,
		j.ErrorText, j.RetryCount, j.MaxRetries, string(j.TaskHandle),
		j.StartedAt, j.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return catalog.ErrNotFound
	}
	return nil
}

// List returns jobs matching the filter, newest first.
func (s *JobStore) List(ctx context.Context, f catalog.JobFilter) ([]catalog.Job, error) {
	var (
		conds []string
		args  []any
	)
	if f.State != nil {
		args = append(args, string(*f.State))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.Kind != nil {
		args = append(args, string(*f.Kind))
		conds = append(conds, fmt.Sprintf("job_kind = $%d", len(args)))
	}

	query := fmt.Sprintf(`SELECT %s FROM jobs`, jobColumns)
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY id DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	out := []catalog.Job{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return out, nil
}
