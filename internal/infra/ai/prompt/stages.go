package prompt

import (
	"encoding/json"
	"strings"
	"text/template"

	"github.com/bryanwahyu/contract-review/internal/domain/ai"
)

var funcs = template.FuncMap{
	"json": func(v any) string {
		b, err := json.Marshal(v)
		if err != nil {
			return "{}"
		}
		return string(b)
	},
	"join": strings.Join,
}

func instruction(name, system, user string) ai.Instruction {
	return ai.Instruction{
		Name:   name,
		System: system,
		User:   template.Must(template.New(name).Funcs(funcs).Parse(user)),
	}
}

// Intake classifies the contract and extracts its metadata.
func Intake() ai.Instruction {
	return instruction("contract_intake", `You are a legal contract intake specialist. You must produce one valid JSON object only (no markdown, no commentary).

Tasks:
1. Classify the contract type (SaaS Agreement, Employment Agreement, NDA, MSA, etc.)
2. Extract the contracting parties
3. Extract key dates (effective date, term length, expiration date)
4. Identify auto-renewal terms and the notice period
5. Determine jurisdiction and governing law
6. Extract the contract value if mentioned

Schema:
{
  "contract_type": "<string>",
  "contract_subtype": "<string or null>",
  "parties": [{"role": "<provider|customer|employer|employee|discloser|recipient|...>", "name": "<string>"}],
  "effective_date": "<YYYY-MM-DD or null>",
  "term_length": "<string or null>",
  "expiration_date": "<YYYY-MM-DD or null>",
  "auto_renewal": <true|false>,
  "renewal_notice_period": "<string or null>",
  "jurisdiction": "<string or null>",
  "governing_law": "<string or null>",
  "estimated_value": "<string or null>",
  "confidence": <0.0-1.0>
}`, `Supported contract types: {{join .ContractTypes ", "}}

CONTRACT: {{.Source}}
PAGES: {{.Pages}}

TEXT:
{{.Text}}`)
}

// ClauseExtraction extracts the clauses of one section.
func ClauseExtraction() ai.Instruction {
	return instruction("clause_extraction", `You are a legal clause extraction specialist. For the contract section provided, extract every distinct clause. You must produce one valid JSON object only.

Use snake_case clause types, for example: license_grant, payment_terms, term_and_termination, termination, warranties, limitation_of_liability, indemnification, data_privacy, service_level_agreement, confidentiality, dispute_resolution, auto_renewal, position_and_duties, compensation_and_benefits, non_compete, non_solicitation, ip_assignment, severance.

Do not group distinct concepts into a single "general" clause. If a paragraph mentions the role, the salary and the start date, return three clauses.

Record structured key terms when present: cap_months_fees, has_cap, uptime_percentage, missing, notice_days, vendor_terminate_no_cause, payment_upfront, net_days, duration_months, unlimited_scope, vendor_owns_data, ambiguous_ownership.

Schema:
{
  "clauses": [
    {"clause_type": "<string>", "section_title": "<string>", "text": "<string>", "key_terms": {}, "confidence": <0.0-1.0>}
  ]
}
If the section holds no clause, return {"clauses": []}.`, `Contract type: {{.ContractType}}

SECTION {{.Section.Index}}: {{.Section.Title}}
{{.Section.Text}}`)
}

// RiskScoring scores one clause.
func RiskScoring() ai.Instruction {
	return instruction("risk_scoring", `You are a legal risk assessment specialist. Analyze the clause directly; do not ask for clarification. You must produce one valid JSON object only.

Risk levels:
- critical (9-10): deal-breakers, must address before signing
- high (7-8): significant concerns, should negotiate
- medium (4-6): moderate issues, consider negotiating
- low (1-3): minor concerns or standard terms

Guidance by clause type:
- Limitation of liability: critical when no cap or < 3 months fees; high when < 12 months; medium when < 24 months.
- Data privacy: critical when the vendor owns customer data; high when ownership is ambiguous.
- Non-compete: critical when > 18 months or unlimited geography; high for 12-18 months; medium for 6-12 months.
- Service level agreement: critical when missing for critical services; high when no credits or uptime < 99%.
- Payment terms: high when full payment in advance and non-refundable; medium when > Net 45.
- Compensation: critical when unpaid or below minimum wage; high when > 20% below market.

Schema:
{
  "risk_level": "<critical|high|medium|low>",
  "risk_score": <1-10>,
  "rationale": "<string>",
  "risk_factors": [{"factor": "<string>", "description": "<string>", "severity": "<string>", "impact": "<string>"}],
  "recommendation": "<string>"
}`, `Contract type: {{.ContractType}}
Clause {{.Clause.ID}} ({{.Clause.Category}}) from section "{{.Clause.Section}}":
{{.Clause.Text}}

Key terms: {{json .Clause.KeyTerms}}`)
}

// Compliance compares one clause against the matching playbook rules.
func Compliance() ai.Instruction {
	return instruction("playbook_compliance", `You are a strict playbook compliance auditor. Compare the clause against the company playbook rules provided. You must produce one valid JSON object only.

Verdicts:
- pass: the clause meets the standard
- flag: the clause deviates but is negotiable
- fail: the clause violates the standard

Schema:
{
  "verdict": "<pass|flag|fail>",
  "rule_id": "<id of the rule that decided the verdict>",
  "deviation": "<string, empty when pass>",
  "remediation": "<string, empty when pass>"
}`, `Contract type: {{.ContractType}}
Clause {{.Clause.ID}} ({{.Clause.Category}}):
{{.Clause.Text}}

Playbook rules:
{{range .Rules}}- [{{.ID}}] condition: {{.Condition}}; standard: {{.Standard}}; remediation: {{.Remediation}}
{{end}}`)
}

// ReportSynthesis writes the narrative parts of the report.
func ReportSynthesis() ai.Instruction {
	return instruction("report_synthesis", `You are a legal report writer. Write for business users, not just lawyers. Be specific and constructive. You must produce one valid JSON object only; the clause tables are rendered separately.

Schema:
{
  "executive_summary": "<3-4 paragraphs with the key findings>",
  "negotiation_strategy": "<prioritised negotiation plan>",
  "recommendations": ["<actionable recommendation>"]
}`, `Contract: {{.Metadata.ContractType}}{{with .Metadata.Subtype}} ({{.}}){{end}}
Parties: {{range $i, $p := .Metadata.Parties}}{{if $i}}, {{end}}{{$p.Name}} ({{$p.Role}}){{end}}
Governing law: {{.Metadata.GoverningLaw}}

Findings:
{{range .Rows}}- {{.Clause.ID}} {{.Clause.Category}}: risk {{.Risk.Severity}} ({{.Risk.Score}}/10) {{.Risk.Justification}}; playbook {{.Compliance.Verdict}}{{with .Compliance.Deviation}}: {{.}}{{end}}
{{end}}`)
}

// QA answers follow-up questions about a reviewed contract. The user template
// renders the context block sent ahead of the conversation.
func QA() ai.Instruction {
	return instruction("contract_qa", `You are a helpful legal assistant. You have analyzed a contract. Answer the user's question based on the contract and the report. Be concise and helpful. If the answer is not in the contract, say so.`, `CONTRACT TEXT:
{{.ContractText}}

ANALYSIS REPORT:
{{.Report}}`)
}
