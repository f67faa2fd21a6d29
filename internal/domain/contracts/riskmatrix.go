package contracts

import (
	"slices"
	"strconv"
	"strings"
)

// MatrixRule is a deterministic risk rule keyed on extracted clause terms.
type MatrixRule struct {
	Condition   string
	Severity    Severity
	Score       int
	Description string
	match       func(terms map[string]any) bool
}

// RiskMatrix encodes known deal-breakers per clause category. It is used as a
// floor under the model's own assessment.
type RiskMatrix struct {
	rules map[string][]MatrixRule
}

func NewRiskMatrix() *RiskMatrix {
	return &RiskMatrix{rules: map[string][]MatrixRule{
		"limitation_of_liability": {
			{Condition: "no_cap", Severity: SeverityCritical, Score: 10, Description: "No liability cap found (unlimited liability).",
				match: func(t map[string]any) bool {
					_, hasMonths := number(t, "cap_months_fees")
					capped, ok := boolean(t, "has_cap")
					return ok && !capped && !hasMonths
				}},
			{Condition: "cap_lt_12_months", Severity: SeverityHigh, Score: 8, Description: "Liability cap is less than 12 months of fees.",
				match: func(t map[string]any) bool { v, ok := number(t, "cap_months_fees"); return ok && v < 12 }},
			{Condition: "cap_lt_24_months", Severity: SeverityMedium, Score: 5, Description: "Liability cap is less than 24 months of fees.",
				match: func(t map[string]any) bool { v, ok := number(t, "cap_months_fees"); return ok && v >= 12 && v < 24 }},
		},
		"data_privacy": {
			{Condition: "vendor_owns_data", Severity: SeverityCritical, Score: 10, Description: "Vendor claims ownership of customer data.",
				match: func(t map[string]any) bool { v, ok := boolean(t, "vendor_owns_data"); return ok && v }},
			{Condition: "ambiguous_ownership", Severity: SeverityHigh, Score: 8, Description: "Data ownership is ambiguous.",
				match: func(t map[string]any) bool { v, ok := boolean(t, "ambiguous_ownership"); return ok && v }},
		},
		"service_level_agreement": {
			{Condition: "missing_sla", Severity: SeverityCritical, Score: 10, Description: "No Service Level Agreement (SLA) found.",
				match: func(t map[string]any) bool { v, ok := boolean(t, "missing"); return ok && v }},
			{Condition: "uptime_lt_99", Severity: SeverityHigh, Score: 8, Description: "Uptime guarantee is less than 99%.",
				match: func(t map[string]any) bool { v, ok := number(t, "uptime_percentage"); return ok && v < 99.0 }},
		},
		"termination": {
			{Condition: "vendor_terminate_no_cause", Severity: SeverityCritical, Score: 9, Description: "Vendor can terminate without cause, but customer cannot.",
				match: func(t map[string]any) bool { v, ok := boolean(t, "vendor_terminate_no_cause"); return ok && v }},
			{Condition: "short_notice", Severity: SeverityHigh, Score: 7, Description: "Termination notice period is very short (< 30 days).",
				match: func(t map[string]any) bool { v, ok := number(t, "notice_days"); return ok && v < 30 }},
		},
		"payment_terms": {
			{Condition: "payment_upfront", Severity: SeverityHigh, Score: 7, Description: "Full payment required in advance.",
				match: func(t map[string]any) bool { v, ok := boolean(t, "payment_upfront"); return ok && v }},
			{Condition: "net_gt_45", Severity: SeverityMedium, Score: 4, Description: "Payment terms > Net 45.",
				match: func(t map[string]any) bool { v, ok := number(t, "net_days"); return ok && v > 45 }},
		},
		"non_compete": {
			{Condition: "unlimited_scope", Severity: SeverityCritical, Score: 10, Description: "Unlimited geography or duration for non-compete.",
				match: func(t map[string]any) bool { v, ok := boolean(t, "unlimited_scope"); return ok && v }},
			{Condition: "duration_gt_2_years", Severity: SeverityHigh, Score: 8, Description: "Non-compete duration > 2 years.",
				match: func(t map[string]any) bool { v, ok := number(t, "duration_months"); return ok && v > 24 }},
		},
	}}
}

// Evaluate returns the matched rules for a clause, worst first.
func (m *RiskMatrix) Evaluate(category string, terms map[string]any) []MatrixRule {
	var out []MatrixRule
	for _, r := range m.rules[NormalizeCategory(category)] {
		if r.match(terms) {
			out = append(out, r)
		}
	}
	slices.SortStableFunc(out, func(a, b MatrixRule) int { return b.Score - a.Score })
	return out
}

// Apply raises f to the worst matched rule and appends the matched rules as
// factors. The model's assessment is never lowered.
func (m *RiskMatrix) Apply(f RiskFinding, c Clause) RiskFinding {
	matched := m.Evaluate(c.Category, c.KeyTerms)
	if len(matched) == 0 {
		return f
	}
	worst := matched[0]
	if worst.Severity.Rank() > f.Severity.Rank() {
		f.Severity = worst.Severity
	}
	if worst.Score > f.Score {
		f.Score = worst.Score
	}
	for _, r := range matched {
		f.Factors = append(f.Factors, RiskFactor{
			Factor:      r.Condition,
			Description: r.Description,
			Severity:    string(r.Severity),
		})
	}
	return f
}

func number(terms map[string]any, key string) (float64, bool) {
	switch v := terms[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(v), "%"), 64)
		return f, err == nil
	}
	return 0, false
}

func boolean(terms map[string]any, key string) (bool, bool) {
	switch v := terms[key].(type) {
	case bool:
		return v, true
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		return b, err == nil
	}
	return false, false
}
