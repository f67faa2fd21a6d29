package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bryanwahyu/contract-review/internal/domain/reviews"
)

var _ reviews.ReportStore = (*LocalStore)(nil)

// LocalStore writes reports below a directory. Used when MinIO is disabled.
type LocalStore struct {
	root string
}

func NewLocal(root string) (*LocalStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create report dir: %w", err)
	}
	return &LocalStore{root: root}, nil
}

// Put returns a file:// URL of the written report.
func (s *LocalStore) Put(_ context.Context, key string, data []byte, _ string) (string, error) {
	// rooting the key first keeps ".." segments inside s.root
	path := filepath.Join(s.root, filepath.Clean("/"+key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return "file://" + filepath.ToSlash(abs), nil
}

// ContentType guesses the MIME type from the key extension.
func ContentType(key string) string {
	switch filepath.Ext(key) {
	case ".md":
		return "text/markdown; charset=utf-8"
	case ".json":
		return "application/json"
	case ".html":
		return "text/html"
	}
	return "application/octet-stream"
}
