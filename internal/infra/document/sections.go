package document

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/bryanwahyu/contract-review/internal/domain/contracts"
)

var headingRe = regexp.MustCompile(`^(?:\d{1,2}\.\s+\S|(?i:section|article)\s+[\dIVXLC]+\b)`)

const maxHeadingLen = 100

// SplitSections cuts text at heading lines: numbered clauses ("1. Fees"),
// SECTION/ARTICLE markers and short all-caps lines. Text before the first
// heading becomes a "Preamble" section. An all-caps heading followed directly
// by another heading is folded into it. Returns nil when no heading is found.
func SplitSections(text string) []contracts.Section {
	type draft struct {
		title string
		lines []string
		body  bool
	}
	var drafts []*draft
	var cur *draft
	found := false

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if isHeading(trimmed) {
			found = true
			if cur != nil && !cur.body {
				// bare heading: keep its line, retitle
				cur.title = trimmed
				cur.lines = append(cur.lines, line)
				continue
			}
			// numbered headings often carry the clause text inline
			cur = &draft{title: trimmed, lines: []string{line}, body: !isUpper(trimmed)}
			drafts = append(drafts, cur)
			continue
		}
		if cur == nil {
			if trimmed == "" {
				continue
			}
			cur = &draft{title: "Preamble"}
			drafts = append(drafts, cur)
		}
		cur.lines = append(cur.lines, line)
		if trimmed != "" {
			cur.body = true
		}
	}
	if !found {
		return nil
	}

	out := make([]contracts.Section, 0, len(drafts))
	for _, d := range drafts {
		body := strings.TrimSpace(strings.Join(d.lines, "\n"))
		if body == "" {
			continue
		}
		out = append(out, contracts.Section{Index: len(out) + 1, Title: d.title, Text: body})
	}
	return out
}

func isHeading(line string) bool {
	if line == "" || len(line) > maxHeadingLen {
		return false
	}
	if headingRe.MatchString(line) {
		return true
	}
	return isUpper(line)
}

// isUpper reports whether line has at least three letters, all upper case.
func isUpper(line string) bool {
	letters := 0
	for _, r := range line {
		if unicode.IsLetter(r) {
			if !unicode.IsUpper(r) {
				return false
			}
			letters++
		}
	}
	return letters >= 3
}
