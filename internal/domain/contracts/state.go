package contracts

import (
	"errors"
	"fmt"
	"strings"
)

// Stage is a state of the analysis pipeline.
type Stage string

const (
	StagePending          Stage = "pending"
	StageIntake           Stage = "intake"
	StageClauseExtraction Stage = "clause_extraction"
	StageRiskScoring      Stage = "risk_scoring"
	StageCompliance       Stage = "compliance"
	StageReportSynthesis  Stage = "report_synthesis"
	StageDone             Stage = "done"
	StageFailed           Stage = "failed"
)

var nextStage = map[Stage]Stage{
	StagePending:          StageIntake,
	StageIntake:           StageClauseExtraction,
	StageClauseExtraction: StageRiskScoring,
	StageRiskScoring:      StageCompliance,
	StageCompliance:       StageReportSynthesis,
	StageReportSynthesis:  StageDone,
}

// Terminal reports whether no further transition is possible.
func (s Stage) Terminal() bool { return s == StageDone || s == StageFailed }

var (
	ErrInvalidTransition = errors.New("invalid stage transition")
	ErrDuplicateFinding  = errors.New("duplicate finding")
	ErrUnknownClause     = errors.New("unknown clause")
)

// Failure is the persisted record of a failed run.
type Failure struct {
	Stage   Stage  `json:"stage"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// AnalysisState accumulates the outputs of every stage of one run. It only
// grows: findings are recorded once and nothing is rolled back on failure.
// It is not safe for concurrent use; the orchestrator is its only writer.
type AnalysisState struct {
	Document   Document                       `json:"document"`
	Stage      Stage                          `json:"stage"`
	Metadata   *Metadata                      `json:"metadata,omitempty"`
	Clauses    []Clause                       `json:"clauses"`
	Risks      map[ClauseID]RiskFinding       `json:"risks"`
	Compliance map[ClauseID]ComplianceFinding `json:"compliance"`
	Synthesis  *Synthesis                     `json:"synthesis,omitempty"`
	Report     string                         `json:"report,omitempty"`
	Failure    *Failure                       `json:"failure,omitempty"`
	Traces     []Trace                        `json:"traces,omitempty"`

	clauseIndex map[ClauseID]int
}

func NewAnalysisState(doc Document) *AnalysisState {
	return &AnalysisState{
		Document:    doc,
		Stage:       StagePending,
		Risks:       make(map[ClauseID]RiskFinding),
		Compliance:  make(map[ClauseID]ComplianceFinding),
		clauseIndex: make(map[ClauseID]int),
	}
}

// Advance moves to the next stage. Only the strictly sequential successor of
// the current stage is accepted.
func (s *AnalysisState) Advance(to Stage) error {
	if next, ok := nextStage[s.Stage]; !ok || next != to {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Stage, to)
	}
	s.Stage = to
	return nil
}

// Fail moves the state to failed and records the originating stage and cause.
func (s *AnalysisState) Fail(err error) *StageError {
	se := NewStageError(s.Stage, err)
	s.Failure = &Failure{
		Stage:   se.Stage,
		Kind:    KindName(se),
		Message: se.Err.Error(),
	}
	s.Stage = StageFailed
	return se
}

func (s *AnalysisState) SetMetadata(m Metadata) error {
	if s.Metadata != nil {
		return fmt.Errorf("metadata already recorded")
	}
	s.Metadata = &m
	return nil
}

// AddClauses appends clauses in order. Ids must be unique within the run.
func (s *AnalysisState) AddClauses(clauses ...Clause) error {
	s.ensureIndex()
	for _, c := range clauses {
		if c.ID == "" {
			return fmt.Errorf("clause without id")
		}
		if _, dup := s.clauseIndex[c.ID]; dup {
			return fmt.Errorf("clause %s already recorded", c.ID)
		}
		s.clauseIndex[c.ID] = len(s.Clauses)
		s.Clauses = append(s.Clauses, c)
	}
	return nil
}

// Clause looks up a clause by id.
func (s *AnalysisState) Clause(id ClauseID) (Clause, bool) {
	s.ensureIndex()
	i, ok := s.clauseIndex[id]
	if !ok {
		return Clause{}, false
	}
	return s.Clauses[i], true
}

func (s *AnalysisState) RecordRisk(f RiskFinding) error {
	if _, ok := s.Clause(f.ClauseID); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownClause, f.ClauseID)
	}
	if _, dup := s.Risks[f.ClauseID]; dup {
		return fmt.Errorf("%w: risk for %s", ErrDuplicateFinding, f.ClauseID)
	}
	s.Risks[f.ClauseID] = f
	return nil
}

func (s *AnalysisState) RecordCompliance(f ComplianceFinding) error {
	if _, ok := s.Clause(f.ClauseID); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownClause, f.ClauseID)
	}
	if _, dup := s.Compliance[f.ClauseID]; dup {
		return fmt.Errorf("%w: compliance for %s", ErrDuplicateFinding, f.ClauseID)
	}
	s.Compliance[f.ClauseID] = f
	return nil
}

// SetReport stores the synthesis narrative and the rendered report.
func (s *AnalysisState) SetReport(syn Synthesis, report string) error {
	if s.Report != "" {
		return fmt.Errorf("report already recorded")
	}
	s.Synthesis = &syn
	s.Report = report
	return nil
}

// Validate checks that every clause has exactly one risk finding and one
// compliance finding.
func (s *AnalysisState) Validate() error {
	var missing []string
	for _, c := range s.Clauses {
		if _, ok := s.Risks[c.ID]; !ok {
			missing = append(missing, string(c.ID)+" (risk)")
		}
		if _, ok := s.Compliance[c.ID]; !ok {
			missing = append(missing, string(c.ID)+" (compliance)")
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing findings for %s", ErrIncompleteAnalysis, strings.Join(missing, ", "))
	}
	return nil
}

// SeverityCounts tallies risk findings per severity.
func (s *AnalysisState) SeverityCounts() map[Severity]int {
	out := make(map[Severity]int)
	for _, f := range s.Risks {
		out[f.Severity]++
	}
	return out
}

func (s *AnalysisState) ensureIndex() {
	if s.clauseIndex != nil && len(s.clauseIndex) == len(s.Clauses) {
		return
	}
	// rebuilt after JSON decoding
	s.clauseIndex = make(map[ClauseID]int, len(s.Clauses))
	for i, c := range s.Clauses {
		s.clauseIndex[c.ID] = i
	}
	if s.Risks == nil {
		s.Risks = make(map[ClauseID]RiskFinding)
	}
	if s.Compliance == nil {
		s.Compliance = make(map[ClauseID]ComplianceFinding)
	}
}
