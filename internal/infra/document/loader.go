// Package document turns uploaded contracts into plain text split into
// sections.
package document

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/bryanwahyu/contract-review/internal/domain/contracts"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported document format")
	ErrEmptyDocument     = errors.New("document contains no text")
)

var _ contracts.DocumentLoader = (*Loader)(nil)

// Loader reads .pdf, .txt and .md files.
type Loader struct {
	// MaxBytes rejects larger files; 0 means no limit.
	MaxBytes int64
}

func NewLoader(maxBytes int64) *Loader {
	return &Loader{MaxBytes: maxBytes}
}

func (l *Loader) Load(ctx context.Context, path string) (contracts.Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		return contracts.Document{}, err
	}
	if l.MaxBytes > 0 && info.Size() > l.MaxBytes {
		return contracts.Document{}, fmt.Errorf("%s is %d bytes, limit is %d", filepath.Base(path), info.Size(), l.MaxBytes)
	}

	var text string
	var pages int
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".pdf":
		text, pages, err = readPDF(ctx, path)
	case ".txt", ".md":
		text, pages, err = readText(path)
	default:
		return contracts.Document{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	if err != nil {
		return contracts.Document{}, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	return FromText(filepath.Base(path), text, pages)
}

// FromText builds a Document from already extracted text.
func FromText(source, text string, pages int) (contracts.Document, error) {
	text = normalize(text)
	if strings.TrimSpace(text) == "" {
		return contracts.Document{}, fmt.Errorf("%w: %s", ErrEmptyDocument, source)
	}
	if pages <= 0 {
		pages = 1
	}
	return contracts.Document{
		Source:   source,
		Text:     text,
		Pages:    pages,
		Sections: SplitSections(text),
	}, nil
}

func readText(path string) (string, int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", 0, err
	}
	s := string(raw)
	// form feeds mark page breaks in exported text
	return s, strings.Count(s, "\f") + 1, nil
}

func readPDF(ctx context.Context, path string) (string, int, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	var b strings.Builder
	n := r.NumPage()
	for i := 1; i <= n; i++ {
		if err := ctx.Err(); err != nil {
			return "", 0, err
		}
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		t, err := p.GetPlainText(nil)
		if err != nil {
			return "", 0, fmt.Errorf("page %d: %w", i, err)
		}
		b.WriteString(t)
		b.WriteString("\n")
	}
	return b.String(), n, nil
}

func normalize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return strings.ReplaceAll(s, "\f", "\n")
}
