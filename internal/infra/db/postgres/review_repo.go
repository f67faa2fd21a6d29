package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	domain "github.com/bryanwahyu/contract-review/internal/domain/reviews"
)

var _ domain.Repository = (*ReviewRepository)(nil)

type ReviewRepository struct{ db *sql.DB }

func NewReviewRepository(db *sql.DB) *ReviewRepository { return &ReviewRepository{db: db} }

const reviewColumns = `id, tenant_id, source, triggered_at, status, stage, contract_type, clause_count,
       critical, high, medium, low, unknown, findings_total,
       report_url, error_kind, error_message, duration_ms, state_json`

// Save insert/update Review record
func (r *ReviewRepository) Save(ctx context.Context, rv *domain.Review) error {
	const q = `
INSERT INTO contract_reviews
(id, tenant_id, source, triggered_at, status, stage, contract_type, clause_count,
 critical, high, medium, low, unknown, findings_total,
 report_url, error_kind, error_message, duration_ms, state_json)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,
        $9,$10,$11,$12,$13,$14,
        $15,$16,$17,$18,$19)
ON CONFLICT (id) DO UPDATE SET
 status = EXCLUDED.status,
 stage = EXCLUDED.stage,
 contract_type = EXCLUDED.contract_type,
 clause_count = EXCLUDED.clause_count,
 critical = EXCLUDED.critical,
 high = EXCLUDED.high,
 medium = EXCLUDED.medium,
 low = EXCLUDED.low,
 unknown = EXCLUDED.unknown,
 findings_total = EXCLUDED.findings_total,
 report_url = EXCLUDED.report_url,
 error_kind = EXCLUDED.error_kind,
 error_message = EXCLUDED.error_message,
 duration_ms = EXCLUDED.duration_ms,
 state_json = EXCLUDED.state_json;`

	triggered := rv.TriggeredAt
	if triggered.IsZero() {
		triggered = time.Now()
	}
	c := rv.Counts
	_, err := r.db.ExecContext(ctx, q,
		rv.ID, stringOrDash(rv.TenantID), stringOrDash(rv.Source), triggered,
		stringOrDash(string(rv.Status)), stringOrDash(string(rv.Stage)), rv.ContractType, rv.ClauseCount,
		c.Critical, c.High, c.Medium, c.Low, c.Unknown, c.Total,
		rv.ReportURL, rv.ErrorKind, rv.ErrorMessage, rv.DurationMS, jsonOrEmpty(rv.StateJSON),
	)
	return err
}

// Get by ID + Tenant
func (r *ReviewRepository) Get(ctx context.Context, tenant string, id domain.ReviewID) (*domain.Review, error) {
	q := `SELECT ` + reviewColumns + `
FROM contract_reviews
WHERE tenant_id=$1 AND id=$2
LIMIT 1;`
	rv, err := scanReview(r.db.QueryRowContext(ctx, q, tenant, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return rv, err
}

// Latest reviews per tenant
func (r *ReviewRepository) Latest(ctx context.Context, tenant string, limit int) ([]*domain.Review, error) {
	if limit <= 0 {
		limit = 20
	}
	q := `SELECT ` + reviewColumns + `
FROM contract_reviews
WHERE tenant_id=$1
ORDER BY triggered_at DESC, id DESC
LIMIT $2;`
	rows, err := r.db.QueryContext(ctx, q, tenant, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Review
	for rows.Next() {
		rv, err := scanReview(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rv)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReview(row rowScanner) (*domain.Review, error) {
	var rv domain.Review
	c := &rv.Counts
	if err := row.Scan(
		&rv.ID, &rv.TenantID, &rv.Source, &rv.TriggeredAt, &rv.Status, &rv.Stage, &rv.ContractType, &rv.ClauseCount,
		&c.Critical, &c.High, &c.Medium, &c.Low, &c.Unknown, &c.Total,
		&rv.ReportURL, &rv.ErrorKind, &rv.ErrorMessage, &rv.DurationMS, &rv.StateJSON,
	); err != nil {
		return nil, err
	}
	return &rv, nil
}
