package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/contract-review/internal/application/stage"
	"github.com/bryanwahyu/contract-review/internal/domain/ai"
	"github.com/bryanwahyu/contract-review/internal/domain/contracts"
	"github.com/bryanwahyu/contract-review/internal/infra/ai/mock"
	"github.com/bryanwahyu/contract-review/internal/infra/ai/prompt"
)

const intakeJSON = `{"contract_type":"SaaS Agreement","parties":[{"role":"provider","name":"Acme Cloud"},{"role":"customer","name":"Globex"}],"effective_date":"2024-01-01","auto_renewal":true,"estimated_value":120000,"confidence":0.9}`

type testPlaybooks struct{}

func (testPlaybooks) Classify(contractType string) (string, bool) {
	if strings.Contains(strings.ToLower(contractType), "saas") {
		return "saas_agreement", true
	}
	return "", false
}

func (testPlaybooks) Keys() []string { return []string{"saas_agreement"} }

func (testPlaybooks) Get(ctx context.Context, key string) (*contracts.Playbook, error) {
	if key != "saas_agreement" {
		return nil, contracts.ErrPlaybookNotFound
	}
	return &contracts.Playbook{ContractType: key, Rules: []contracts.Rule{
		{ID: "LOL-1", Category: "limitation_of_liability", Standard: "Cap at 12 months of fees"},
		{ID: "PAY-1", Category: "payment_terms", Standard: "Net 30"},
	}}, nil
}

type renderFunc func(*contracts.AnalysisState, contracts.Synthesis) (string, error)

func (f renderFunc) Render(s *contracts.AnalysisState, syn contracts.Synthesis) (string, error) {
	return f(s, syn)
}

var plainRenderer = renderFunc(func(s *contracts.AnalysisState, syn contracts.Synthesis) (string, error) {
	return fmt.Sprintf("# Report\n%s\n%d clauses", syn.ExecutiveSummary, len(s.Clauses)), nil
})

func instructions() Instructions {
	return Instructions{
		Intake:           prompt.Intake(),
		ClauseExtraction: prompt.ClauseExtraction(),
		RiskScoring:      prompt.RiskScoring(),
		Compliance:       prompt.Compliance(),
		ReportSynthesis:  prompt.ReportSynthesis(),
	}
}

func newTestOrchestrator(client ai.Client, cfg Config) *Orchestrator {
	discard := slog.New(slog.DiscardHandler)
	retry := stage.NewRetrier(stage.RetryConfig{MaxRetries: 1, BaseBackoff: time.Millisecond, MaxBackoff: time.Millisecond})
	exec := stage.NewExecutor(client, retry, stage.WithLogger(discard))
	return New(exec, instructions(), testPlaybooks{}, plainRenderer, cfg, WithLogger(discard))
}

func reply(s string) mock.HandlerFunc {
	return func(ctx context.Context, req ai.Request) (string, error) { return s, nil }
}

var clauseRe = regexp.MustCompile(`C\d{3}`)

func clauseOf(req ai.Request) string {
	return clauseRe.FindString(req.Messages[0].Content)
}

// clausesJSON builds an extraction answer with n clauses of the given type.
func clausesJSON(n int, clauseType string) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf(`{"clause_type":%q,"text":"clause text %d","confidence":0.8}`, clauseType, i)
	}
	return `{"clauses":[` + strings.Join(parts, ",") + `]}`
}

func baseRoutes() map[string]mock.HandlerFunc {
	return map[string]mock.HandlerFunc{
		"contract_intake": reply(intakeJSON),
		"clause_extraction": reply(`{"clauses":[
			{"clause_type":"Limitation of Liability","section_title":"Liability","text":"Liability is unlimited.","key_terms":{"has_cap":false}},
			{"clause_type":"payment_terms","text":"Fees are due net 30.","key_terms":{"net_days":30}},
			{"clause_type":"governing_law","text":"Laws of Delaware."}
		]}`),
		"risk_scoring":        reply(`{"risk_level":"low","risk_score":2,"rationale":"standard wording"}`),
		"playbook_compliance": reply(`{"verdict":"flag","rule_id":"lol-1","deviation":"no cap","remediation":"add a cap"}`),
		"report_synthesis":    reply(`{"executive_summary":"Summary.","negotiation_strategy":"Push on liability.","recommendations":["Add a cap"]}`),
	}
}

func TestRunCompletesEveryStage(t *testing.T) {
	client := mock.NewClient(mock.Route(baseRoutes()))
	o := newTestOrchestrator(client, DefaultConfig())

	state, err := o.Run(context.Background(), contracts.Document{Source: "msa.pdf", Text: "full text", Pages: 3})

	require.NoError(t, err)
	assert.Equal(t, contracts.StageDone, state.Stage)
	assert.NoError(t, state.Validate())
	assert.Equal(t, "saas_agreement", state.Metadata.PlaybookKey)
	assert.Equal(t, "120000", state.Metadata.EstimatedValue)
	require.Len(t, state.Clauses, 3)
	assert.Equal(t, []contracts.ClauseID{"C001", "C002", "C003"},
		[]contracts.ClauseID{state.Clauses[0].ID, state.Clauses[1].ID, state.Clauses[2].ID})
	assert.Equal(t, "limitation_of_liability", state.Clauses[0].Category)
	assert.Equal(t, "Liability", state.Clauses[0].Section)
	assert.Equal(t, "Full Document", state.Clauses[1].Section)

	// the risk matrix raises an uncapped liability clause
	assert.Equal(t, contracts.SeverityCritical, state.Risks["C001"].Severity)
	assert.Equal(t, 10, state.Risks["C001"].Score)
	assert.Equal(t, contracts.SeverityLow, state.Risks["C002"].Severity)

	assert.Equal(t, contracts.VerdictFlag, state.Compliance["C001"].Verdict)
	assert.Equal(t, "LOL-1", state.Compliance["C001"].RuleID)
	assert.Equal(t, "PAY-1", state.Compliance["C002"].RuleID)
	assert.Equal(t, contracts.VerdictNoRuleMatched, state.Compliance["C003"].Verdict)
	assert.Equal(t, 2, client.CallsNamed("playbook_compliance"))

	assert.Contains(t, state.Report, "Summary.")
	assert.Equal(t, "Push on liability.", state.Synthesis.NegotiationStrategy)
	assert.Len(t, state.Traces, 1+1+3+2+1)
}

func TestEmptyRiskMatrixKeepsModelSeverity(t *testing.T) {
	client := mock.NewClient(mock.Route(baseRoutes()))
	discard := slog.New(slog.DiscardHandler)
	retry := stage.NewRetrier(stage.RetryConfig{MaxRetries: 1, BaseBackoff: time.Millisecond, MaxBackoff: time.Millisecond})
	exec := stage.NewExecutor(client, retry, stage.WithLogger(discard))
	o := New(exec, instructions(), testPlaybooks{}, plainRenderer, DefaultConfig(),
		WithLogger(discard), WithRiskMatrix(&contracts.RiskMatrix{}))

	state, err := o.Run(context.Background(), contracts.Document{Source: "msa.pdf", Text: "full text"})

	require.NoError(t, err)
	assert.Equal(t, contracts.SeverityLow, state.Risks["C001"].Severity)
	assert.Equal(t, 2, state.Risks["C001"].Score)
}

func TestRiskScoringRunsConcurrently(t *testing.T) {
	const n = 8
	var inFlight, peak atomic.Int32
	routes := baseRoutes()
	routes["clause_extraction"] = reply(clausesJSON(n, "warranties"))
	routes["risk_scoring"] = func(ctx context.Context, req ai.Request) (string, error) {
		cur := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if cur <= p || peak.CompareAndSwap(p, cur) {
				break
			}
		}
		var idx int
		fmt.Sscanf(clauseOf(req), "C%03d", &idx)
		time.Sleep(time.Duration(idx*20) * time.Millisecond)
		return `{"risk_level":"medium","risk_score":5,"rationale":"ok"}`, nil
	}
	client := mock.NewClient(mock.Route(routes))
	o := newTestOrchestrator(client, Config{WorkerCap: n})

	start := time.Now()
	state, err := o.Run(context.Background(), contracts.Document{Source: "a.txt", Text: "x"})
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Len(t, state.Risks, n)
	// sequential scoring would take 20+40+...+160 = 720ms
	assert.Less(t, elapsed, 450*time.Millisecond)
	assert.Greater(t, peak.Load(), int32(1))
}

func TestRiskScoringRespectsWorkerCap(t *testing.T) {
	var inFlight, peak atomic.Int32
	routes := baseRoutes()
	routes["clause_extraction"] = reply(clausesJSON(6, "warranties"))
	routes["risk_scoring"] = func(ctx context.Context, req ai.Request) (string, error) {
		cur := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if cur <= p || peak.CompareAndSwap(p, cur) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		return `{"risk_level":"low","risk_score":1,"rationale":"ok"}`, nil
	}
	o := newTestOrchestrator(mock.NewClient(mock.Route(routes)), Config{WorkerCap: 2})

	_, err := o.Run(context.Background(), contracts.Document{Source: "a.txt", Text: "x"})

	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestFailedClauseScoringIsRecordedAsUnknown(t *testing.T) {
	routes := baseRoutes()
	routes["clause_extraction"] = reply(clausesJSON(3, "warranties"))
	routes["risk_scoring"] = func(ctx context.Context, req ai.Request) (string, error) {
		if clauseOf(req) == "C002" {
			return "", errors.New("connection reset")
		}
		return `{"risk_level":"high","risk_score":7,"rationale":"one-sided"}`, nil
	}
	client := mock.NewClient(mock.Route(routes))
	o := newTestOrchestrator(client, DefaultConfig())

	state, err := o.Run(context.Background(), contracts.Document{Source: "a.txt", Text: "x"})

	require.NoError(t, err)
	assert.Equal(t, contracts.StageDone, state.Stage)
	require.Len(t, state.Risks, 3)
	assert.Equal(t, contracts.SeverityUnknown, state.Risks["C002"].Severity)
	assert.Contains(t, state.Risks["C002"].Justification, "connection reset")
	assert.Equal(t, contracts.SeverityHigh, state.Risks["C001"].Severity)
	assert.Equal(t, contracts.SeverityHigh, state.Risks["C003"].Severity)
	assert.NotEmpty(t, state.Report)
}

func TestSynthesisRejectsIncompleteAnalysis(t *testing.T) {
	client := mock.NewClient(mock.Route(baseRoutes()))
	o := newTestOrchestrator(client, DefaultConfig())

	state := contracts.NewAnalysisState(contracts.Document{Source: "a.txt", Text: "x"})
	require.NoError(t, state.SetMetadata(contracts.Metadata{ContractType: "SaaS Agreement", PlaybookKey: "saas_agreement"}))
	require.NoError(t, state.AddClauses(
		contracts.Clause{ID: "C001", Category: "payment_terms", Text: "a"},
		contracts.Clause{ID: "C002", Category: "warranties", Text: "b"},
	))
	require.NoError(t, state.RecordRisk(contracts.RiskFinding{ClauseID: "C001", Severity: contracts.SeverityLow}))
	require.NoError(t, state.RecordRisk(contracts.RiskFinding{ClauseID: "C002", Severity: contracts.SeverityLow}))
	require.NoError(t, state.RecordCompliance(contracts.ComplianceFinding{ClauseID: "C001", Verdict: contracts.VerdictPass}))
	state.Stage = contracts.StageCompliance

	err := o.Continue(context.Background(), state)

	assert.ErrorIs(t, err, contracts.ErrIncompleteAnalysis)
	var se *contracts.StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, contracts.StageReportSynthesis, se.Stage)
	assert.Equal(t, contracts.StageFailed, state.Stage)
	assert.Empty(t, state.Report)
	assert.Nil(t, state.Synthesis)
	assert.Zero(t, client.CallsNamed("report_synthesis"))
	assert.Len(t, state.Clauses, 2, "accumulated state is kept")
}

func TestIntakeFailsForUnsupportedContractType(t *testing.T) {
	routes := baseRoutes()
	routes["contract_intake"] = reply(`{"contract_type":"Residential Lease","parties":[{"role":"landlord","name":"A"}]}`)
	client := mock.NewClient(mock.Route(routes))
	o := newTestOrchestrator(client, DefaultConfig())

	state, err := o.Run(context.Background(), contracts.Document{Source: "lease.pdf", Text: "x"})

	assert.ErrorIs(t, err, contracts.ErrIntakeIncomplete)
	assert.Equal(t, contracts.StageFailed, state.Stage)
	require.NotNil(t, state.Failure)
	assert.Equal(t, contracts.StageIntake, state.Failure.Stage)
	assert.Equal(t, "intake_incomplete", state.Failure.Kind)
	assert.Zero(t, client.CallsNamed("clause_extraction"))
	assert.Empty(t, state.Report)
}

func TestIntakeRequiresParties(t *testing.T) {
	routes := baseRoutes()
	routes["contract_intake"] = reply(`{"contract_type":"SaaS Agreement","parties":[]}`)
	o := newTestOrchestrator(mock.NewClient(mock.Route(routes)), DefaultConfig())

	_, err := o.Run(context.Background(), contracts.Document{Source: "a.txt", Text: "x"})

	assert.ErrorIs(t, err, contracts.ErrIntakeIncomplete)
}

func TestExtractionMergesSectionsInOrder(t *testing.T) {
	var mu sync.Mutex
	var finished []string
	routes := baseRoutes()
	routes["clause_extraction"] = func(ctx context.Context, req ai.Request) (string, error) {
		content := req.Messages[0].Content
		var out string
		var delay time.Duration
		switch {
		case strings.Contains(content, "SECTION 1:"):
			out, delay = clausesJSON(2, "payment_terms"), 60*time.Millisecond
		case strings.Contains(content, "SECTION 2:"):
			out, delay = `{"clauses":[]}`, 30*time.Millisecond
		default:
			out = clausesJSON(1, "warranties")
		}
		time.Sleep(delay)
		mu.Lock()
		finished = append(finished, content[strings.Index(content, "SECTION"):][:9])
		mu.Unlock()
		return out, nil
	}
	o := newTestOrchestrator(mock.NewClient(mock.Route(routes)), Config{WorkerCap: 4, ExtractionWorkers: 3})

	doc := contracts.Document{Source: "a.txt", Text: "x", Sections: []contracts.Section{
		{Index: 1, Title: "Fees", Text: "..."},
		{Index: 2, Title: "Definitions", Text: "..."},
		{Index: 3, Title: "Warranty", Text: "..."},
	}}
	state, err := o.Run(context.Background(), doc)

	require.NoError(t, err)
	require.Len(t, state.Clauses, 3)
	assert.Equal(t, "SECTION 3", finished[0], "sections ran concurrently")
	assert.Equal(t, contracts.ClauseID("C001"), state.Clauses[0].ID)
	assert.Equal(t, "Fees", state.Clauses[1].Section)
	assert.Equal(t, contracts.ClauseID("C003"), state.Clauses[2].ID)
	assert.Equal(t, "Warranty", state.Clauses[2].Section)
}

func TestComplianceFailureFailsRun(t *testing.T) {
	routes := baseRoutes()
	routes["playbook_compliance"] = reply("I cannot help with that")
	o := newTestOrchestrator(mock.NewClient(mock.Route(routes)), DefaultConfig())

	state, err := o.Run(context.Background(), contracts.Document{Source: "a.txt", Text: "x"})

	assert.ErrorIs(t, err, contracts.ErrMalformedResponse)
	assert.Equal(t, contracts.StageCompliance, state.Failure.Stage)
	// clauses without rules were still recorded
	assert.Equal(t, contracts.VerdictNoRuleMatched, state.Compliance["C003"].Verdict)
	assert.Empty(t, state.Report)
}

func TestCancellationStopsScheduling(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	routes := baseRoutes()
	routes["clause_extraction"] = reply(clausesJSON(5, "warranties"))
	routes["risk_scoring"] = func(_ context.Context, req ai.Request) (string, error) {
		cancel()
		return `{"risk_level":"low","risk_score":1,"rationale":"ok"}`, nil
	}
	client := mock.NewClient(mock.Route(routes))
	o := newTestOrchestrator(client, Config{WorkerCap: 1})

	state, err := o.Run(ctx, contracts.Document{Source: "a.txt", Text: "x"})

	assert.ErrorIs(t, err, contracts.ErrCanceled)
	assert.Equal(t, 1, client.CallsNamed("risk_scoring"))
	assert.Equal(t, "canceled", state.Failure.Kind)
	assert.Equal(t, contracts.StageRiskScoring, state.Failure.Stage)
	assert.Zero(t, client.CallsNamed("playbook_compliance"))
}

func TestContinueRejectsTerminalState(t *testing.T) {
	o := newTestOrchestrator(mock.NewClient(mock.Route(baseRoutes())), DefaultConfig())
	state := contracts.NewAnalysisState(contracts.Document{})
	state.Stage = contracts.StageDone

	assert.ErrorIs(t, o.Continue(context.Background(), state), contracts.ErrInvalidTransition)
}
