package reviews

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bryanwahyu/contract-review/internal/domain/contracts"
	domain "github.com/bryanwahyu/contract-review/internal/domain/reviews"
)

// SupportedExtensions are the document types the loaders understand.
var SupportedExtensions = []string{".pdf", ".txt", ".md"}

// BatchItem is the outcome for one document of a batch.
type BatchItem struct {
	Path   string
	Review *domain.Review
	State  *contracts.AnalysisState
	Err    error
}

// Name is the file name without its extension; artifacts are named after it.
func (i BatchItem) Name() string {
	base := filepath.Base(i.Path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

type BatchResult struct {
	Items []BatchItem
}

// Failed returns the items whose run did not complete.
func (r BatchResult) Failed() []BatchItem {
	var out []BatchItem
	for _, it := range r.Items {
		if it.Err != nil {
			out = append(out, it)
		}
	}
	return out
}

// Documents lists the supported documents directly inside dir, sorted by name.
func Documents(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read batch dir: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if slices.Contains(SupportedExtensions, strings.ToLower(filepath.Ext(e.Name()))) {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	slices.Sort(paths)
	return paths, nil
}

// Batch reviews every supported document in dir one after another. A failed
// document is recorded and the batch moves on; only cancellation stops it.
func (s *Service) Batch(ctx context.Context, tenant, dir string) (BatchResult, error) {
	paths, err := Documents(dir)
	if err != nil {
		return BatchResult{}, err
	}

	var res BatchResult
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("%w: %w", contracts.ErrCanceled, err)
		}
		out, err := s.Review(ctx, ReviewCommand{TenantID: tenant, Path: p})
		res.Items = append(res.Items, BatchItem{Path: p, Review: out.Review, State: out.State, Err: err})
	}
	s.logger().InfoContext(ctx, "batch finished",
		"dir", dir, "documents", len(res.Items), "failed", len(res.Failed()))
	return res, nil
}

// WriteArtifacts writes <name>.json with the analysis state and, for a
// completed run, <name>.md with the report.
func WriteArtifacts(outDir string, item BatchItem) error {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return err
	}
	if item.State == nil {
		return nil
	}
	raw, err := json.MarshalIndent(item.State, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if err := os.WriteFile(filepath.Join(outDir, item.Name()+".json"), raw, 0o644); err != nil {
		return err
	}
	if item.Err != nil || item.State.Report == "" {
		return nil
	}
	return os.WriteFile(filepath.Join(outDir, item.Name()+".md"), []byte(item.State.Report), 0o644)
}
