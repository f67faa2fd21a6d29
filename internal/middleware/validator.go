package middleware

import (
	"fmt"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

// MaxQuestionLength bounds a Q&A question in characters.
const MaxQuestionLength = 4000

var tenantPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// ValidateTenantID validates tenant ID format
func ValidateTenantID(tenant string) error {
	if tenant == "" {
		return fmt.Errorf("tenant ID cannot be empty")
	}
	if !tenantPattern.MatchString(tenant) {
		return fmt.Errorf("invalid tenant ID format (alphanumeric, dash, underscore only, max 64 chars)")
	}
	return nil
}

// ValidateReviewID checks that id is a UUID as issued by the reviews service.
func ValidateReviewID(id string) error {
	if id == "" {
		return fmt.Errorf("review ID cannot be empty")
	}
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("invalid review ID format")
	}
	return nil
}

func ValidateSessionID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("invalid session ID format")
	}
	return nil
}

// ValidateQuestion sanitizes a Q&A question and enforces its length.
func ValidateQuestion(q string) (string, error) {
	q = SanitizeString(q)
	if q == "" {
		return "", fmt.Errorf("question cannot be empty")
	}
	if utf8.RuneCountInString(q) > MaxQuestionLength {
		return "", fmt.Errorf("question exceeds %d characters", MaxQuestionLength)
	}
	return q, nil
}

// ValidateUploadName checks an uploaded file name: a bare name with one of
// the allowed extensions.
func ValidateUploadName(name string, allowed []string) error {
	if name == "" {
		return fmt.Errorf("file name cannot be empty")
	}
	if filepath.Base(name) != name || strings.Contains(name, "..") {
		return fmt.Errorf("path traversal detected")
	}
	dangerous := []string{"$(", "`", "&", "|", ";", "\n", "\r", "\x00"}
	for _, d := range dangerous {
		if strings.Contains(name, d) {
			return fmt.Errorf("invalid characters in file name")
		}
	}
	ext := strings.ToLower(filepath.Ext(name))
	if !slices.Contains(allowed, ext) {
		return fmt.Errorf("unsupported file type %q (allowed: %s)", ext, strings.Join(allowed, ", "))
	}
	return nil
}

// SanitizeString removes dangerous characters from strings
func SanitizeString(input string) string {
	input = strings.ReplaceAll(input, "\x00", "")

	var result strings.Builder
	for _, r := range input {
		if r >= 32 || r == '\t' || r == '\n' {
			result.WriteRune(r)
		}
	}
	return strings.TrimSpace(result.String())
}

// ValidateLimit validates pagination limit
func ValidateLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	if limit > 100 {
		return 100
	}
	return limit
}
