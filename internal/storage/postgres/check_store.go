package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/zzpscan/zzpscan/internal/catalog"
)

// CheckStore implements catalog.CheckStore on Postgres.
type CheckStore struct {
	pool Pool
}

// NewCheckStore constructs a CheckStore on an existing pool.
func NewCheckStore(pool Pool) *CheckStore {
	return &CheckStore{pool: pool}
}

const checkColumns = `id, uuid, business_id, check_type, url_checked,
	website_exists, confidence_score, status_code, response_time,
	dns_records, whois_data, ssl_info, headers, snapshot_uri,
	error_message, is_error, created_at, checked_at`

const insertCheckQuery = `
	INSERT INTO website_checks (
		uuid, business_id, check_type, url_checked,
		website_exists, confidence_score, status_code, response_time,
		dns_records, whois_data, ssl_info, headers, snapshot_uri,
		error_message, is_error, checked_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	RETURNING id, created_at`

const applyCacheQuery = `
	UPDATE businesses SET
		website_exists = $2, website_url = $3, website_confidence_score = $4,
		last_checked = $5, updated_at = now()
	WHERE id = $1`

func scanCheck(row pgx.Row) (catalog.WebsiteCheck, error) {
	var c catalog.WebsiteCheck
	err := row.Scan(
		&c.ID, &c.UUID, &c.BusinessID, &c.CheckType, &c.URLChecked,
		&c.WebsiteExists, &c.Confidence, &c.StatusCode, &c.ResponseTime,
		&c.DNSRecords, &c.WhoisData, &c.TLSInfo, &c.Headers, &c.SnapshotURI,
		&c.ErrorMessage, &c.IsError, &c.CreatedAt, &c.CheckedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return catalog.WebsiteCheck{}, catalog.ErrNotFound
	}
	if err != nil {
		return catalog.WebsiteCheck{}, fmt.Errorf("scan website check: %w", err)
	}
	return c, nil
}

func checkArgs(c catalog.WebsiteCheck) []any {
	return []any{
		c.UUID, c.BusinessID, c.CheckType, c.URLChecked,
		c.WebsiteExists, c.Confidence, c.StatusCode, c.ResponseTime,
		nullJSON(c.DNSRecords), nullJSON(c.WhoisData), nullJSON(c.TLSInfo), nullJSON(c.Headers), c.SnapshotURI,
		c.ErrorMessage, c.IsError, c.CheckedAt,
	}
}

// Create inserts a check row outside of a cache update.
func (s *CheckStore) Create(ctx context.Context, c catalog.WebsiteCheck) (catalog.WebsiteCheck, error) {
	if c.UUID == uuid.Nil {
		c.UUID = uuid.New()
	}
	err := s.pool.QueryRow(ctx, insertCheckQuery, checkArgs(c)...).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		return catalog.WebsiteCheck{}, fmt.Errorf("insert website check: %w", err)
	}
	return c, nil
}

// SaveResult inserts the check and applies the business cache update in one
// transaction; neither write lands without the other.
func (s *CheckStore) SaveResult(ctx context.Context, c catalog.WebsiteCheck, cache catalog.WebsiteCache) (catalog.WebsiteCheck, error) {
	if c.UUID == uuid.Nil {
		c.UUID = uuid.New()
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return catalog.WebsiteCheck{}, fmt.Errorf("begin save result: %w", err)
	}

	if err := tx.QueryRow(ctx, insertCheckQuery, checkArgs(c)...).Scan(&c.ID, &c.CreatedAt); err != nil {
		_ = tx.Rollback(ctx)
		return catalog.WebsiteCheck{}, fmt.Errorf("insert website check: %w", err)
	}

	tag, err := tx.Exec(ctx, applyCacheQuery,
		cache.BusinessID, cache.Exists, cache.URL, cache.Confidence, cache.CheckedAt,
	)
	if err != nil {
		_ = tx.Rollback(ctx)
		return catalog.WebsiteCheck{}, fmt.Errorf("update website cache: %w", err)
	}
	if tag.RowsAffected() == 0 {
		_ = tx.Rollback(ctx)
		return catalog.WebsiteCheck{}, catalog.ErrNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return catalog.WebsiteCheck{}, fmt.Errorf("commit save result: %w", err)
	}
	return c, nil
}

// ListByBusiness returns all checks for a business, newest first.
func (s *CheckStore) ListByBusiness(ctx context.Context, businessID int64) ([]catalog.WebsiteCheck, error) {
	return s.List(ctx, catalog.CheckFilter{BusinessID: businessID})
}

// List returns checks matching the filter, newest first.
func (s *CheckStore) List(ctx context.Context, f catalog.CheckFilter) ([]catalog.WebsiteCheck, error) {
	var (
		conds []string
		args  []any
	)
	if f.BusinessID != 0 {
		args = append(args, f.BusinessID)
		conds = append(conds, fmt.Sprintf("business_id = $%d", len(args)))
	}
	if f.CheckType != "" {
		args = append(args, f.CheckType)
		conds = append(conds, fmt.Sprintf("check_type = $%d", len(args)))
	}

	query := fmt.Sprintf(`SELECT %s FROM website_checks`, checkColumns)
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
		return nil, fmt.Errorf("list website checks: %w", err)
	}
	defer rows.Close()

	out := []catalog.WebsiteCheck{}
	for rows.Next() {
		c, err := scanCheck(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate website checks: %w", err)
	}
	return out, nil
}
