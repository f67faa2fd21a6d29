package contracts

import (
	"strings"
	"time"
)

// Document is the plain-text form of an uploaded contract. It is built once by
// the loader and never modified afterwards.
type Document struct {
	Source   string    `json:"source"`
	Text     string    `json:"text"`
	Pages    int       `json:"pages"`
	Sections []Section `json:"sections,omitempty"`
}

// Section is one heading-delimited slice of the contract text.
type Section struct {
	Index int    `json:"index"`
	Title string `json:"title"`
	Text  string `json:"text"`
}

// Party to the contract
type Party struct {
	Role string `json:"role"`
	Name string `json:"name"`
}

// Metadata produced by the intake stage.
type Metadata struct {
	ContractType   string  `json:"contract_type"`
	Subtype        string  `json:"contract_subtype,omitempty"`
	PlaybookKey    string  `json:"playbook_key"`
	Parties        []Party `json:"parties"`
	EffectiveDate  string  `json:"effective_date,omitempty"`
	ExpirationDate string  `json:"expiration_date,omitempty"`
	TermLength     string  `json:"term_length,omitempty"`
	AutoRenewal    bool    `json:"auto_renewal"`
	RenewalNotice  string  `json:"renewal_notice_period,omitempty"`
	Jurisdiction   string  `json:"jurisdiction,omitempty"`
	GoverningLaw   string  `json:"governing_law,omitempty"`
	EstimatedValue string  `json:"estimated_value,omitempty"`
	Confidence     float64 `json:"confidence"`
}

// ClauseID is unique within one pipeline run
type ClauseID string

// Clause is a discrete provision found by the extraction stage.
type Clause struct {
	ID         ClauseID       `json:"id"`
	Section    string         `json:"section"`
	Text       string         `json:"text"`
	Category   string         `json:"category"`
	KeyTerms   map[string]any `json:"key_terms,omitempty"`
	Confidence float64        `json:"confidence"`
}

// Severity tier of a risk finding
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	// SeverityUnknown marks a clause whose scoring call failed.
	SeverityUnknown Severity = "unknown"
)

// ParseSeverity accepts the four scored tiers in any case.
func ParseSeverity(s string) (Severity, bool) {
	switch Severity(strings.ToLower(strings.TrimSpace(s))) {
	case SeverityCritical:
		return SeverityCritical, true
	case SeverityHigh:
		return SeverityHigh, true
	case SeverityMedium:
		return SeverityMedium, true
	case SeverityLow:
		return SeverityLow, true
	}
	return "", false
}

// Rank orders severities; unknown ranks below low.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	}
	return 0
}

// RiskFactor explains one contribution to a clause's risk.
type RiskFactor struct {
	Factor      string `json:"factor"`
	Description string `json:"description"`
	Severity    string `json:"severity,omitempty"`
	Impact      string `json:"impact,omitempty"`
}

// RiskFinding is the risk assessment of exactly one clause.
type RiskFinding struct {
	ClauseID       ClauseID     `json:"clause_id"`
	Severity       Severity     `json:"severity"`
	Score          int          `json:"score"`
	Justification  string       `json:"justification"`
	Factors        []RiskFactor `json:"factors,omitempty"`
	Recommendation string       `json:"recommendation,omitempty"`
}

// Verdict of a playbook comparison
type Verdict string

const (
	VerdictPass Verdict = "pass"
	VerdictFail Verdict = "fail"
	VerdictFlag Verdict = "flag"
	// VerdictNoRuleMatched marks a clause whose category has no playbook rule.
	VerdictNoRuleMatched Verdict = "no_rule_matched"
)

// ParseVerdict accepts pass, fail and flag.
func ParseVerdict(s string) (Verdict, bool) {
	switch Verdict(strings.ToLower(strings.TrimSpace(s))) {
	case VerdictPass:
		return VerdictPass, true
	case VerdictFail:
		return VerdictFail, true
	case VerdictFlag:
		return VerdictFlag, true
	}
	return "", false
}

// ComplianceFinding is the playbook comparison of exactly one clause.
type ComplianceFinding struct {
	ClauseID    ClauseID `json:"clause_id"`
	RuleID      string   `json:"rule_id,omitempty"`
	Verdict     Verdict  `json:"verdict"`
	Deviation   string   `json:"deviation,omitempty"`
	Remediation string   `json:"remediation,omitempty"`
}

// Rule is one playbook standard for a clause category.
type Rule struct {
	ID          string `json:"id" yaml:"id"`
	Category    string `json:"category" yaml:"category"`
	Condition   string `json:"condition" yaml:"condition"`
	Standard    string `json:"standard" yaml:"standard"`
	Remediation string `json:"remediation" yaml:"remediation"`
}

// Playbook holds the company standards for one contract type.
type Playbook struct {
	ContractType string `json:"contract_type" yaml:"contract_type"`
	Name         string `json:"name" yaml:"name"`
	Rules        []Rule `json:"rules" yaml:"rules"`
}

// RulesFor returns the rules for a clause category, preserving playbook order.
func (p *Playbook) RulesFor(category string) []Rule {
	want := NormalizeCategory(category)
	var out []Rule
	for _, r := range p.Rules {
		if NormalizeCategory(r.Category) == want {
			out = append(out, r)
		}
	}
	return out
}

// NormalizeCategory maps "Limitation of Liability" and "limitation-of-liability"
// to "limitation_of_liability".
func NormalizeCategory(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer(" ", "_", "-", "_", "&", "and").Replace(s)
}

// Synthesis is the narrative part of the report written by the model.
type Synthesis struct {
	ExecutiveSummary    string   `json:"executive_summary"`
	NegotiationStrategy string   `json:"negotiation_strategy"`
	Recommendations     []string `json:"recommendations,omitempty"`
}

// Trace records one stage executor call for later display.
type Trace struct {
	Stage           Stage         `json:"stage"`
	Instruction     string        `json:"instruction"`
	PromptSummary   string        `json:"prompt_summary"`
	ResponseSummary string        `json:"response_summary"`
	Latency         time.Duration `json:"latency"`
	Attempts        int           `json:"attempts"`
	Error           string        `json:"error,omitempty"`
	At              time.Time     `json:"at"`
}
