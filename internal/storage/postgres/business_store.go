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

// BusinessStore implements catalog.BusinessStore on Postgres.
type BusinessStore struct {
	pool Pool
}

// NewBusinessStore constructs a BusinessStore on an existing pool.
func NewBusinessStore(pool Pool) *BusinessStore {
	return &BusinessStore{pool: pool}
}

const businessColumns = `id, uuid, name, address, city, country, postal_code, phone, email,
	business_type, industry, employee_count, is_zzp,
	website_exists, website_url, website_confidence_score,
	source, source_id, raw_data, confidence_score, is_processed, is_verified,
	created_at, updated_at, last_checked`

func scanBusiness(row pgx.Row) (catalog.Business, error) {
	var b catalog.Business
	err := row.Scan(
		&b.ID, &b.UUID, &b.Name, &b.Address, &b.City, &b.Country, &b.PostalCode, &b.Phone, &b.Email,
		&b.BusinessType, &b.Industry, &b.EmployeeCount, &b.IsSelfEmployed,
		&b.WebsiteExists, &b.WebsiteURL, &b.WebsiteConfidence,
		&b.Source, &b.SourceID, &b.RawData, &b.ConfidenceScore, &b.IsProcessed, &b.IsVerified,
		&b.CreatedAt, &b.UpdatedAt, &b.LastChecked,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return catalog.Business{}, catalog.ErrNotFound
	}
	if err != nil {
		return catalog.Business{}, fmt.Errorf("scan business: %w", err)
	}
	return b, nil
}

// Create inserts a business and returns it with generated fields filled in.
func (s *BusinessStore) Create(ctx context.Context, b catalog.Business) (catalog.Business, error) {
	if b.UUID == uuid.Nil {
		b.UUID = uuid.New()
	}
	query := `
		INSERT INTO businesses (
			uuid, name, address, city, country, postal_code, phone, email,
			business_type, industry, employee_count, is_zzp,
			website_exists, website_url, website_confidence_score,
			source, source_id, raw_data, confidence_score, is_processed, is_verified
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
		RETURNING id, created_at, updated_at`
	err := s.pool.QueryRow(ctx, query,
		b.UUID, b.Name, b.Address, b.City, b.Country, b.PostalCode, b.Phone, b.Email,
		b.BusinessType, b.Industry, b.EmployeeCount, b.IsSelfEmployed,
		b.WebsiteExists, b.WebsiteURL, b.WebsiteConfidence,
		b.Source, b.SourceID, nullJSON(b.RawData), b.ConfidenceScore, b.IsProcessed, b.IsVerified,
	).Scan(&b.ID, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return catalog.Business{}, fmt.Errorf("insert business: %w", err)
	}
	return b, nil
}

// Get fetches a business by id.
func (s *BusinessStore) Get(ctx context.Context, id int64) (catalog.Business, error) {
	query := fmt.Sprintf(`SELECT %s FROM businesses WHERE id = $1`, businessColumns)
	return scanBusiness(s.pool.QueryRow(ctx, query, id))
}

// GetBySource looks a business up by its (source, source_id) pair.
func (s *BusinessStore) GetBySource(ctx context.Context, source, sourceID string) (catalog.Business, error) {
	query := fmt.Sprintf(`SELECT %s FROM businesses WHERE source = $1 AND source_id = $2`, businessColumns)
	return scanBusiness(s.pool.QueryRow(ctx, query, source, sourceID))
}

// Update rewrites the mutable columns of a business.
func (s *BusinessStore) Update(ctx context.Context, b catalog.Business) error {
	query := `
		UPDATE businesses SET
			name = $2, address = $3, city = $4, country = $5, postal_code = $6, phone = $7, email = $8,
			business_type = $9, industry = $10, employee_count = $11, is_zzp = $12,
			website_exists = $13, website_url = $14, website_confidence_score = $15,
			source = $16, source_id = $17, raw_data = $18,
			confidence_score = $19, is_processed = $20, is_verified = $21,
			last_checked = $22, updated_at = now()
		WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query,
		b.ID, b.Name, b.Address, b.City, b.Country, b.PostalCode, b.Phone, b.Email,
		b.BusinessType, b.Industry, b.EmployeeCount, b.IsSelfEmployed,
		b.WebsiteExists, b.WebsiteURL, b.WebsiteConfidence,
		b.Source, b.SourceID, nullJSON(b.RawData),
		b.ConfidenceScore, b.IsProcessed, b.IsVerified,
		b.LastChecked,
	)
	if err != nil {
		return fmt.Errorf("update business: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return catalog.ErrNotFound
	}
	return nil
}

// Delete removes a business; its checks go with it via ON DELETE CASCADE.
func (s *BusinessStore) Delete(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM businesses WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete business: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return catalog.ErrNotFound
	}
	return nil
}

// List returns businesses matching the filter, ordered by id.
func (s *BusinessStore) List(ctx context.Context, f catalog.BusinessFilter) ([]catalog.Business, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.City != "" {
		add("city = $%d", f.City)
	}
	if f.Country != "" {
		add("country = $%d", f.Country)
	}
	if f.Source != "" {
		add("source = $%d", f.Source)
	}
	if f.Industry != "" {
		add("industry = $%d", f.Industry)
	}
	if f.WebsiteExists != nil {
		add("website_exists = $%d", *f.WebsiteExists)
	}

	query := fmt.Sprintf(`SELECT %s FROM businesses`, businessColumns)
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY id"
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
		return nil, fmt.Errorf("list businesses: %w", err)
	}
	defer rows.Close()
	return collectBusinesses(rows)
}

// ListUnchecked returns never-checked businesses, oldest first, up to limit.
func (s *BusinessStore) ListUnchecked(ctx context.Context, limit int) ([]catalog.Business, error) {
	query := fmt.Sprintf(
		`SELECT %s FROM businesses WHERE last_checked IS NULL ORDER BY id LIMIT $1`,
		businessColumns,
	)
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list unchecked businesses: %w", err)
	}
	defer rows.Close()
	return collectBusinesses(rows)
}

func collectBusinesses(rows pgx.Rows) ([]catalog.Business, error) {
	out := []catalog.Business{}
	for rows.Next() {
		b, err := scanBusiness(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate businesses: %w", err)
	}
	return out, nil
}

// Stats aggregates catalog counts in two queries.
func (s *BusinessStore) Stats(ctx context.Context) (catalog.BusinessStats, error) {
	stats := catalog.BusinessStats{BySource: make(map[string]int64)}

	totalsQuery := `
		SELECT count(*),
			count(*) FILTER (WHERE website_exists),
			count(*) FILTER (WHERE last_checked IS NOT NULL),
			count(*) FILTER (WHERE is_verified)
		FROM businesses`
	err := s.pool.QueryRow(ctx, totalsQuery).Scan(
		&stats.Total, &stats.WithWebsite, &stats.Checked, &stats.Verified,
	)
	if err != nil {
		return catalog.BusinessStats{}, fmt.Errorf("aggregate business stats: %w", err)
	}

	bySourceQuery := `SELECT source, count(*) FROM businesses WHERE source <> '' GROUP BY source`
	rows, err := s.pool.Query(ctx, bySourceQuery)
	if err != nil {
		return catalog.BusinessStats{}, fmt.Errorf("per-source business stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var source string
		var count int64
		if err := rows.Scan(&source, &count); err != nil {
			return catalog.BusinessStats{}, fmt.Errorf("scan source stats: %w", err)
		}
		stats.BySource[source] = count
	}
	if err := rows.Err(); err != nil {
		return catalog.BusinessStats{}, fmt.Errorf("iterate source stats: %w", err)
	}
	return stats, nil
}
