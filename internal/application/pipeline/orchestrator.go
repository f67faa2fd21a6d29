// Package pipeline sequences the analysis stages of one contract review and
// aggregates their results into a contracts.AnalysisState.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/bryanwahyu/contract-review/internal/application/stage"
	"github.com/bryanwahyu/contract-review/internal/domain/ai"
	"github.com/bryanwahyu/contract-review/internal/domain/contracts"
)

// Config bounds the fan-out of the per-clause and per-section stages.
type Config struct {
	WorkerCap         int `yaml:"workerCap"`
	ExtractionWorkers int `yaml:"extractionWorkers"`
}

func DefaultConfig() Config {
	return Config{WorkerCap: 4, ExtractionWorkers: 1}
}

// Instructions holds the prompt of every model-backed stage.
type Instructions struct {
	Intake           ai.Instruction
	ClauseExtraction ai.Instruction
	RiskScoring      ai.Instruction
	Compliance       ai.Instruction
	ReportSynthesis  ai.Instruction
}

// Template inputs. Field names are referenced by the instruction templates.
type (
	IntakeInput struct {
		Source        string
		Pages         int
		Text          string
		ContractTypes []string
	}
	SectionInput struct {
		ContractType string
		Section      contracts.Section
	}
	ClauseInput struct {
		ContractType string
		Clause       contracts.Clause
	}
	ComplianceInput struct {
		ContractType string
		Clause       contracts.Clause
		Rules        []contracts.Rule
	}
	ClauseRow struct {
		Clause     contracts.Clause
		Risk       contracts.RiskFinding
		Compliance contracts.ComplianceFinding
	}
	SynthesisInput struct {
		Metadata contracts.Metadata
		Rows     []ClauseRow
	}
)

// Orchestrator runs the review pipeline. One Orchestrator serves many
// concurrent runs; each run owns its AnalysisState.
type Orchestrator struct {
	exec      *stage.Executor
	instr     Instructions
	playbooks contracts.PlaybookSource
	renderer  contracts.ReportRenderer
	matrix    *contracts.RiskMatrix
	cfg       Config
	logger    *slog.Logger
}

type Option func(*Orchestrator)

func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithRiskMatrix replaces the default deterministic risk floor.
func WithRiskMatrix(m *contracts.RiskMatrix) Option {
	return func(o *Orchestrator) { o.matrix = m }
}

func New(exec *stage.Executor, instr Instructions, playbooks contracts.PlaybookSource, renderer contracts.ReportRenderer, cfg Config, opts ...Option) *Orchestrator {
	def := DefaultConfig()
	if cfg.WorkerCap <= 0 {
		cfg.WorkerCap = def.WorkerCap
	}
	if cfg.ExtractionWorkers <= 0 {
		cfg.ExtractionWorkers = def.ExtractionWorkers
	}
	o := &Orchestrator{
		exec:      exec,
		instr:     instr,
		playbooks: playbooks,
		renderer:  renderer,
		matrix:    contracts.NewRiskMatrix(),
		cfg:       cfg,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

type step struct {
	stage contracts.Stage
	run   func(ctx context.Context, exec *stage.Executor, s *contracts.AnalysisState) error
}

func (o *Orchestrator) steps() []step {
	return []step{
		{contracts.StageIntake, o.intake},
		{contracts.StageClauseExtraction, o.extractClauses},
		{contracts.StageRiskScoring, o.scoreRisks},
		{contracts.StageCompliance, o.checkCompliance},
		{contracts.StageReportSynthesis, o.synthesize},
	}
}

// Run analyses doc from scratch. The returned state is never nil; on failure
// it holds everything accumulated up to the failing stage and the error is a
// *contracts.StageError.
func (o *Orchestrator) Run(ctx context.Context, doc contracts.Document) (*contracts.AnalysisState, error) {
	state := contracts.NewAnalysisState(doc)
	return state, o.Continue(ctx, state)
}

// Continue runs the stages that follow state.Stage until done or failed.
func (o *Orchestrator) Continue(ctx context.Context, state *contracts.AnalysisState) error {
	if state.Stage.Terminal() {
		return fmt.Errorf("%w: run already %s", contracts.ErrInvalidTransition, state.Stage)
	}
	traces := stage.NewTraceLog()
	exec := o.exec.WithTrace(traces)
	defer func() { state.Traces = append(state.Traces, traces.Records()...) }()

	start := time.Now()
	for _, st := range o.steps() {
		if stageOrder(st.stage) <= stageOrder(state.Stage) {
			continue
		}
		if err := state.Advance(st.stage); err != nil {
			return o.fail(ctx, state, err)
		}
		if err := ctx.Err(); err != nil {
			return o.fail(ctx, state, fmt.Errorf("%w: %w", contracts.ErrCanceled, err))
		}
		stageStart := time.Now()
		if err := st.run(ctx, exec, state); err != nil {
			return o.fail(ctx, state, err)
		}
		o.logger.InfoContext(ctx, "stage completed",
			"source", state.Document.Source,
			"stage", st.stage,
			"clauses", len(state.Clauses),
			"duration_ms", time.Since(stageStart).Milliseconds(),
		)
	}
	if err := state.Advance(contracts.StageDone); err != nil {
		return o.fail(ctx, state, err)
	}
	o.logger.InfoContext(ctx, "review completed",
		"source", state.Document.Source,
		"clauses", len(state.Clauses),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func (o *Orchestrator) fail(ctx context.Context, state *contracts.AnalysisState, err error) error {
	se := state.Fail(err)
	o.logger.ErrorContext(ctx, "review failed",
		"source", state.Document.Source,
		"stage", se.Stage,
		"kind", contracts.KindName(se),
		"error", se.Err,
	)
	return se
}

var order = []contracts.Stage{
	contracts.StagePending,
	contracts.StageIntake,
	contracts.StageClauseExtraction,
	contracts.StageRiskScoring,
	contracts.StageCompliance,
	contracts.StageReportSynthesis,
	contracts.StageDone,
}

func stageOrder(s contracts.Stage) int { return slices.Index(order, s) }

func (o *Orchestrator) intake(ctx context.Context, exec *stage.Executor, state *contracts.AnalysisState) error {
	doc := state.Document
	keys := o.playbooks.Keys()
	var resp intakeResponse
	err := exec.Execute(ctx, contracts.StageIntake, o.instr.Intake, IntakeInput{
		Source:        doc.Source,
		Pages:         doc.Pages,
		Text:          doc.Text,
		ContractTypes: keys,
	}, &resp)
	if err != nil {
		return err
	}

	meta := resp.metadata()
	if strings.TrimSpace(meta.ContractType) == "" {
		return fmt.Errorf("%w: no contract type found", contracts.ErrIntakeIncomplete)
	}
	if len(meta.Parties) == 0 {
		return fmt.Errorf("%w: no parties found", contracts.ErrIntakeIncomplete)
	}
	key, ok := o.playbooks.Classify(meta.ContractType)
	if !ok {
		return fmt.Errorf("%w: contract type %q is not one of %s",
			contracts.ErrIntakeIncomplete, meta.ContractType, strings.Join(keys, ", "))
	}
	meta.PlaybookKey = key
	return state.SetMetadata(meta)
}

func (o *Orchestrator) extractClauses(ctx context.Context, exec *stage.Executor, state *contracts.AnalysisState) error {
	sections := state.Document.Sections
	if len(sections) == 0 {
		sections = []contracts.Section{{Index: 1, Title: "Full Document", Text: state.Document.Text}}
	}
	contractType := state.Metadata.ContractType

	outcomes := processParallel(ctx, o.cfg.ExtractionWorkers, sections,
		func(ctx context.Context, sec contracts.Section) (extractionResponse, error) {
			var resp extractionResponse
			err := exec.Execute(ctx, contracts.StageClauseExtraction, o.instr.ClauseExtraction,
				SectionInput{ContractType: contractType, Section: sec}, &resp)
			return resp, err
		})
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", contracts.ErrCanceled, err)
	}

	// merge in section order so ids follow the document
	next := len(state.Clauses) + 1
	for i, oc := range outcomes {
		if oc.Err != nil {
			return fmt.Errorf("section %d (%s): %w", sections[i].Index, sections[i].Title, oc.Err)
		}
		for _, c := range oc.Value.Clauses {
			section := string(c.SectionTitle)
			if section == "" {
				section = sections[i].Title
			}
			clause := contracts.Clause{
				ID:         clauseID(next),
				Section:    section,
				Text:       c.Text,
				Category:   contracts.NormalizeCategory(c.ClauseType),
				KeyTerms:   c.KeyTerms,
				Confidence: c.Confidence,
			}
			if err := state.AddClauses(clause); err != nil {
				return err
			}
			next++
		}
	}
	return nil
}

func clauseID(n int) contracts.ClauseID {
	return contracts.ClauseID(fmt.Sprintf("C%03d", n))
}

func (o *Orchestrator) scoreRisks(ctx context.Context, exec *stage.Executor, state *contracts.AnalysisState) error {
	contractType := state.Metadata.ContractType
	clauses := slices.Clone(state.Clauses)

	outcomes := processParallel(ctx, o.cfg.WorkerCap, clauses,
		func(ctx context.Context, c contracts.Clause) (contracts.RiskFinding, error) {
			var resp riskResponse
			if err := exec.Execute(ctx, contracts.StageRiskScoring, o.instr.RiskScoring,
				ClauseInput{ContractType: contractType, Clause: c}, &resp); err != nil {
				return contracts.RiskFinding{}, err
			}
			return o.matrix.Apply(resp.finding(c.ID), c), nil
		})
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", contracts.ErrCanceled, err)
	}

	for i, oc := range outcomes {
		f := oc.Value
		if oc.Err != nil {
			o.logger.WarnContext(ctx, "clause scoring failed, recording unknown severity",
				"clause_id", clauses[i].ID, "kind", contracts.KindName(oc.Err), "error", oc.Err)
			f = contracts.RiskFinding{
				ClauseID:      clauses[i].ID,
				Severity:      contracts.SeverityUnknown,
				Justification: "risk scoring failed: " + oc.Err.Error(),
			}
		}
		if err := state.RecordRisk(f); err != nil {
			return err
		}
	}
	return nil
}

type complianceTask struct {
	clause contracts.Clause
	rules  []contracts.Rule
}

func (o *Orchestrator) checkCompliance(ctx context.Context, exec *stage.Executor, state *contracts.AnalysisState) error {
	pb, err := o.playbooks.Get(ctx, state.Metadata.PlaybookKey)
	if err != nil {
		return fmt.Errorf("load playbook %s: %w", state.Metadata.PlaybookKey, err)
	}
	contractType := state.Metadata.ContractType

	var tasks []complianceTask
	for _, c := range state.Clauses {
		rules := pb.RulesFor(c.Category)
		if len(rules) == 0 {
			if err := state.RecordCompliance(contracts.ComplianceFinding{
				ClauseID: c.ID,
				Verdict:  contracts.VerdictNoRuleMatched,
			}); err != nil {
				return err
			}
			continue
		}
		tasks = append(tasks, complianceTask{clause: c, rules: rules})
	}

	outcomes := processParallel(ctx, o.cfg.WorkerCap, tasks,
		func(ctx context.Context, t complianceTask) (contracts.ComplianceFinding, error) {
			var resp complianceResponse
			if err := exec.Execute(ctx, contracts.StageCompliance, o.instr.Compliance,
				ComplianceInput{ContractType: contractType, Clause: t.clause, Rules: t.rules}, &resp); err != nil {
				return contracts.ComplianceFinding{}, err
			}
			verdict, _ := contracts.ParseVerdict(resp.Verdict)
			return contracts.ComplianceFinding{
				ClauseID:    t.clause.ID,
				RuleID:      matchRule(resp.RuleID, t.rules),
				Verdict:     verdict,
				Deviation:   resp.Deviation,
				Remediation: resp.Remediation,
			}, nil
		})
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", contracts.ErrCanceled, err)
	}

	// successful findings are kept even when another clause failed
	var firstErr error
	for i, oc := range outcomes {
		if oc.Err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("clause %s: %w", tasks[i].clause.ID, oc.Err)
			}
			continue
		}
		if err := state.RecordCompliance(oc.Value); err != nil {
			return err
		}
	}
	return firstErr
}

// matchRule keeps the model's rule id only when it names one of the offered
// rules. A single offered rule is attributed even when the model omits it.
func matchRule(id string, rules []contracts.Rule) string {
	for _, r := range rules {
		if strings.EqualFold(r.ID, strings.TrimSpace(id)) {
			return r.ID
		}
	}
	if len(rules) == 1 {
		return rules[0].ID
	}
	return ""
}

func (o *Orchestrator) synthesize(ctx context.Context, exec *stage.Executor, state *contracts.AnalysisState) error {
	if state.Metadata == nil {
		return fmt.Errorf("%w: no contract metadata", contracts.ErrIncompleteAnalysis)
	}
	if err := state.Validate(); err != nil {
		return err
	}

	rows := make([]ClauseRow, 0, len(state.Clauses))
	for _, c := range state.Clauses {
		rows = append(rows, ClauseRow{Clause: c, Risk: state.Risks[c.ID], Compliance: state.Compliance[c.ID]})
	}
	var resp synthesisResponse
	if err := exec.Execute(ctx, contracts.StageReportSynthesis, o.instr.ReportSynthesis,
		SynthesisInput{Metadata: *state.Metadata, Rows: rows}, &resp); err != nil {
		return err
	}

	syn := contracts.Synthesis{
		ExecutiveSummary:    resp.ExecutiveSummary,
		NegotiationStrategy: resp.NegotiationStrategy,
		Recommendations:     resp.Recommendations,
	}
	report, err := o.renderer.Render(state, syn)
	if err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	return state.SetReport(syn, report)
}
