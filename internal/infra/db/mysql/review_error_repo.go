package mysql

import (
	"context"
	"database/sql"
	"time"

	domain "github.com/bryanwahyu/contract-review/internal/domain/reviews"
)

var _ domain.ErrorRepository = (*ReviewErrorRepository)(nil)

type ReviewErrorRepository struct {
	db *sql.DB
}

func NewReviewErrorRepository(db *sql.DB) *ReviewErrorRepository {
	return &ReviewErrorRepository{db: db}
}

func (r *ReviewErrorRepository) Save(ctx context.Context, e *domain.ReviewError) error {
	const q = `
INSERT INTO contract_review_errors
  (tenant_id, review_id, source, stage, kind, message, details_json, created_at)
VALUES (?,?,?,?,?,?,?,?)
`
	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	res, err := r.db.ExecContext(ctx, q,
		stringOrDash(e.TenantID), stringOrDash(e.ReviewID), stringOrDash(e.Source),
		stringOrDash(e.Stage), stringOrDash(e.Kind), stringOrDash(e.Message),
		jsonOrEmpty(e.DetailsJSON), created,
	)
	if err != nil {
		return err
	}
	if id, err := res.LastInsertId(); err == nil {
		e.ID = id
	}
	return nil
}

func (r *ReviewErrorRepository) ListByReview(ctx context.Context, tenant string, reviewID string, limit int) ([]*domain.ReviewError, error) {
	if limit <= 0 {
		limit = 20
	}
	const q = `
SELECT id, tenant_id, review_id, source, stage, kind, message, details_json, created_at
FROM contract_review_errors
WHERE tenant_id = ? AND review_id = ?
ORDER BY created_at DESC, id DESC
LIMIT ?;`
	rows, err := r.db.QueryContext(ctx, q, tenant, reviewID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.ReviewError
	for rows.Next() {
		var e domain.ReviewError
		if err := rows.Scan(&e.ID, &e.TenantID, &e.ReviewID, &e.Source, &e.Stage, &e.Kind, &e.Message, &e.DetailsJSON, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
