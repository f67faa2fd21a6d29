package reviews

import "context"

// Repository port (interface untuk persistence)
type Repository interface {
	Save(ctx context.Context, r *Review) error
	Get(ctx context.Context, tenant string, id ReviewID) (*Review, error)
	Latest(ctx context.Context, tenant string, limit int) ([]*Review, error)
}

// ErrorRepository defines persistence for run failures
type ErrorRepository interface {
	Save(ctx context.Context, e *ReviewError) error
	ListByReview(ctx context.Context, tenant string, reviewID string, limit int) ([]*ReviewError, error)
}

// ReportStore port (interface untuk penyimpanan laporan)
type ReportStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}
