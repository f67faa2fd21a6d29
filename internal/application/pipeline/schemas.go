package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bryanwahyu/contract-review/internal/domain/contracts"
)

// text accepts a JSON string, number or null. Models are loose about
// optional metadata fields such as estimated_value.
type text string

func (t *text) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*t = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*t = text(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected a string, got %s", b)
	}
	*t = text(n.String())
	return nil
}

type intakeResponse struct {
	ContractType   string            `json:"contract_type"`
	Subtype        text              `json:"contract_subtype"`
	Parties        []contracts.Party `json:"parties"`
	EffectiveDate  text              `json:"effective_date"`
	TermLength     text              `json:"term_length"`
	ExpirationDate text              `json:"expiration_date"`
	AutoRenewal    bool              `json:"auto_renewal"`
	RenewalNotice  text              `json:"renewal_notice_period"`
	Jurisdiction   text              `json:"jurisdiction"`
	GoverningLaw   text              `json:"governing_law"`
	EstimatedValue text              `json:"estimated_value"`
	Confidence     float64           `json:"confidence"`
}

func (r *intakeResponse) Validate() error {
	for i, p := range r.Parties {
		if p.Name == "" {
			return fmt.Errorf("parties[%d].name is required", i)
		}
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return fmt.Errorf("confidence must be between 0 and 1, got %v", r.Confidence)
	}
	return nil
}

func (r *intakeResponse) metadata() contracts.Metadata {
	return contracts.Metadata{
		ContractType:   r.ContractType,
		Subtype:        string(r.Subtype),
		Parties:        r.Parties,
		EffectiveDate:  string(r.EffectiveDate),
		ExpirationDate: string(r.ExpirationDate),
		TermLength:     string(r.TermLength),
		AutoRenewal:    r.AutoRenewal,
		RenewalNotice:  string(r.RenewalNotice),
		Jurisdiction:   string(r.Jurisdiction),
		GoverningLaw:   string(r.GoverningLaw),
		EstimatedValue: string(r.EstimatedValue),
		Confidence:     r.Confidence,
	}
}

type extractedClause struct {
	ClauseType   string         `json:"clause_type"`
	SectionTitle text           `json:"section_title"`
	Text         string         `json:"text"`
	KeyTerms     map[string]any `json:"key_terms"`
	Confidence   float64        `json:"confidence"`
}

type extractionResponse struct {
	Clauses []extractedClause `json:"clauses"`
}

func (r *extractionResponse) Validate() error {
	for i, c := range r.Clauses {
		if c.ClauseType == "" {
			return fmt.Errorf("clauses[%d].clause_type is required", i)
		}
		if c.Text == "" {
			return fmt.Errorf("clauses[%d].text is required", i)
		}
	}
	return nil
}

type riskResponse struct {
	RiskLevel      string                 `json:"risk_level"`
	RiskScore      float64                `json:"risk_score"`
	Rationale      string                 `json:"rationale"`
	RiskFactors    []contracts.RiskFactor `json:"risk_factors"`
	Recommendation string                 `json:"recommendation"`
}

func (r *riskResponse) Validate() error {
	if _, ok := contracts.ParseSeverity(r.RiskLevel); !ok {
		return fmt.Errorf("risk_level must be one of critical, high, medium, low; got %q", r.RiskLevel)
	}
	if r.RiskScore < 0 || r.RiskScore > 10 {
		return fmt.Errorf("risk_score must be between 0 and 10, got %v", r.RiskScore)
	}
	if r.Rationale == "" {
		return errors.New("rationale is required")
	}
	return nil
}

func (r *riskResponse) finding(id contracts.ClauseID) contracts.RiskFinding {
	sev, _ := contracts.ParseSeverity(r.RiskLevel)
	return contracts.RiskFinding{
		ClauseID:       id,
		Severity:       sev,
		Score:          int(r.RiskScore + 0.5),
		Justification:  r.Rationale,
		Factors:        r.RiskFactors,
		Recommendation: r.Recommendation,
	}
}

type complianceResponse struct {
	Verdict     string `json:"verdict"`
	RuleID      string `json:"rule_id"`
	Deviation   string `json:"deviation"`
	Remediation string `json:"remediation"`
}

func (r *complianceResponse) Validate() error {
	if _, ok := contracts.ParseVerdict(r.Verdict); !ok {
		return fmt.Errorf("verdict must be one of pass, flag, fail; got %q", r.Verdict)
	}
	return nil
}

type synthesisResponse struct {
	ExecutiveSummary    string   `json:"executive_summary"`
	NegotiationStrategy string   `json:"negotiation_strategy"`
	Recommendations     []string `json:"recommendations"`
}

func (r *synthesisResponse) Validate() error {
	if r.ExecutiveSummary == "" {
		return errors.New("executive_summary is required")
	}
	if r.NegotiationStrategy == "" {
		return errors.New("negotiation_strategy is required")
	}
	return nil
}
