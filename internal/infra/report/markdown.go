// Package report renders a finished analysis as a markdown review.
package report

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"text/template"
	"unicode"
	"unicode/utf8"

	"github.com/bryanwahyu/contract-review/internal/domain/contracts"
)

var _ contracts.ReportRenderer = (*Markdown)(nil)

// Markdown renders the fixed report layout.
type Markdown struct {
	tmpl *template.Template
}

func NewMarkdown() *Markdown {
	return &Markdown{tmpl: template.Must(template.New("report").Funcs(template.FuncMap{
		"cell":  cell,
		"human": human,
		"clean": Clean,
		"inc":   func(i int) int { return i + 1 },
	}).Parse(reportTemplate))}
}

type row struct {
	Clause     contracts.Clause
	Risk       contracts.RiskFinding
	Compliance contracts.ComplianceFinding
}

type view struct {
	Source     string
	Meta       contracts.Metadata
	Syn        contracts.Synthesis
	Critical   []row
	High       []row
	Medium     []row
	Acceptable []row
	Unknown    int
	Rows       []row
}

func (m *Markdown) Render(state *contracts.AnalysisState, syn contracts.Synthesis) (string, error) {
	v := view{Source: state.Document.Source, Syn: syn}
	if state.Metadata != nil {
		v.Meta = *state.Metadata
	}
	for _, c := range state.Clauses {
		r := row{Clause: c, Risk: state.Risks[c.ID], Compliance: state.Compliance[c.ID]}
		v.Rows = append(v.Rows, r)
		switch r.Risk.Severity {
		case contracts.SeverityCritical:
			v.Critical = append(v.Critical, r)
		case contracts.SeverityHigh:
			v.High = append(v.High, r)
		case contracts.SeverityMedium:
			v.Medium = append(v.Medium, r)
		case contracts.SeverityLow:
			v.Acceptable = append(v.Acceptable, r)
		default:
			v.Unknown++
		}
	}
	for _, group := range [][]row{v.Critical, v.High, v.Medium} {
		slices.SortStableFunc(group, func(a, b row) int { return b.Risk.Score - a.Risk.Score })
	}

	var b strings.Builder
	if err := m.tmpl.Execute(&b, v); err != nil {
		return "", fmt.Errorf("render report: %w", err)
	}
	return b.String(), nil
}

var (
	fenceRe    = regexp.MustCompile("(?m)^```[a-zA-Z]*\\s*$")
	preambleRe = regexp.MustCompile(`(?i)^\s*(?:sure[,!.]?\s*)?(?:here(?:'s| is) (?:the|your) [^\n:]*:)\s*`)
)

// Clean strips code fences and a chatty lead-in from model prose.
func Clean(s string) string {
	s = fenceRe.ReplaceAllString(s, "")
	s = preambleRe.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// cell makes s safe for a single markdown table cell.
func cell(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	s = strings.ReplaceAll(s, "|", `\|`)
	if r := []rune(s); len(r) > 120 {
		s = string(r[:117]) + "..."
	}
	return s
}

// human turns "limitation_of_liability" into "Limitation Of Liability".
func human(s string) string {
	words := strings.Fields(strings.ReplaceAll(s, "_", " "))
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + w[size:]
	}
	return strings.Join(words, " ")
}

const reportTemplate = `# Contract Review: {{.Source}}

## Executive Summary

{{clean .Syn.ExecutiveSummary}}
{{- if .Unknown}}

> {{.Unknown}} clause(s) could not be scored automatically and need manual review.
{{- end}}

## Critical Issues
{{template "findings" .Critical}}
## High-Priority Issues
{{template "findings" .High}}
## Medium-Priority Items
{{template "findings" .Medium}}
## Acceptable Terms
{{if .Acceptable}}
{{range .Acceptable}}- **{{.Clause.ID}} {{human .Clause.Category}}**: {{cell .Risk.Justification}}
{{end}}{{else}}
_None identified._
{{end}}
## Contract Details

| Field | Value |
|---|---|
| Contract type | {{cell .Meta.ContractType}}{{with .Meta.Subtype}} ({{cell .}}){{end}} |
| Parties | {{range $i, $p := .Meta.Parties}}{{if $i}}; {{end}}{{cell $p.Name}} ({{cell $p.Role}}){{end}} |
| Effective date | {{or .Meta.EffectiveDate "n/a"}} |
| Expiration date | {{or .Meta.ExpirationDate "n/a"}} |
| Term | {{or .Meta.TermLength "n/a"}} |
| Auto-renewal | {{if .Meta.AutoRenewal}}yes{{with .Meta.RenewalNotice}}, notice {{cell .}}{{end}}{{else}}no{{end}} |
| Governing law | {{or .Meta.GoverningLaw "n/a"}} |
| Jurisdiction | {{or .Meta.Jurisdiction "n/a"}} |
| Estimated value | {{or .Meta.EstimatedValue "n/a"}} |

## Negotiation Strategy

{{clean .Syn.NegotiationStrategy}}
{{- if .Syn.Recommendations}}

### Key Recommendations
{{range $i, $r := .Syn.Recommendations}}
{{inc $i}}. {{cell $r}}
{{- end}}
{{- end}}

## Clause-by-Clause Analysis

| ID | Clause | Section | Risk | Score | Playbook | Notes |
|---|---|---|---|---|---|---|
{{range .Rows}}| {{.Clause.ID}} | {{human .Clause.Category}} | {{cell .Clause.Section}} | {{.Risk.Severity}} | {{.Risk.Score}} | {{.Compliance.Verdict}}{{with .Compliance.RuleID}} ({{.}}){{end}} | {{cell (or .Compliance.Deviation .Risk.Justification)}} |
{{end}}
{{- define "findings"}}{{if .}}{{range .}}
### {{.Clause.ID}} {{human .Clause.Category}}{{with .Clause.Section}} ({{cell .}}){{end}}

- **Risk:** {{.Risk.Severity}} ({{.Risk.Score}}/10). {{cell .Risk.Justification}}
{{- range .Risk.Factors}}
  - {{cell .Description}}
{{- end}}
- **Playbook:** {{.Compliance.Verdict}}{{with .Compliance.RuleID}} ({{.}}){{end}}{{with .Compliance.Deviation}}: {{cell .}}{{end}}
{{- with (or .Compliance.Remediation .Risk.Recommendation)}}
- **Recommendation:** {{cell .}}
{{- end}}
{{end}}{{else}}
_None identified._
{{end}}{{end}}`
