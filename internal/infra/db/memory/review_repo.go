// Package memory holds in-process review repositories for the CLI and for
// deployments without a database.
package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/bryanwahyu/contract-review/internal/domain/reviews"
)

var (
	_ reviews.Repository      = (*ReviewRepo)(nil)
	_ reviews.ErrorRepository = (*ReviewErrorRepo)(nil)
)

type ReviewRepo struct {
	mu      sync.RWMutex
	reviews map[reviews.ReviewID]reviews.Review
}

func NewReviewRepo() *ReviewRepo {
	return &ReviewRepo{reviews: make(map[reviews.ReviewID]reviews.Review)}
}

// Save upserts by id.
func (r *ReviewRepo) Save(_ context.Context, rv *reviews.Review) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reviews[rv.ID] = *rv
	return nil
}

func (r *ReviewRepo) Get(_ context.Context, tenant string, id reviews.ReviewID) (*reviews.Review, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rv, ok := r.reviews[id]
	if !ok || rv.TenantID != tenant {
		return nil, reviews.ErrNotFound
	}
	return &rv, nil
}

func (r *ReviewRepo) Latest(_ context.Context, tenant string, limit int) ([]*reviews.Review, error) {
	r.mu.RLock()
	var out []*reviews.Review
	for _, rv := range r.reviews {
		if rv.TenantID == tenant {
			cp := rv
			out = append(out, &cp)
		}
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b *reviews.Review) int { return b.TriggeredAt.Compare(a.TriggeredAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type ReviewErrorRepo struct {
	mu     sync.RWMutex
	nextID int64
	errs   []reviews.ReviewError
}

func NewReviewErrorRepo() *ReviewErrorRepo { return &ReviewErrorRepo{} }

func (r *ReviewErrorRepo) Save(_ context.Context, e *reviews.ReviewError) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	e.ID = r.nextID
	r.errs = append(r.errs, *e)
	return nil
}

// ListByReview returns newest first.
func (r *ReviewErrorRepo) ListByReview(_ context.Context, tenant, reviewID string, limit int) ([]*reviews.ReviewError, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*reviews.ReviewError
	for i := len(r.errs) - 1; i >= 0; i-- {
		e := r.errs[i]
		if e.TenantID != tenant || e.ReviewID != reviewID {
			continue
		}
		out = append(out, &e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
