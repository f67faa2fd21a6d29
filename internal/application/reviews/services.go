package reviews

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/bryanwahyu/contract-review/internal/application"
	"github.com/bryanwahyu/contract-review/internal/domain/contracts"
	domain "github.com/bryanwahyu/contract-review/internal/domain/reviews"
)

// Runner executes the analysis pipeline over one document.
type Runner interface {
	Run(ctx context.Context, doc contracts.Document) (*contracts.AnalysisState, error)
}

// Service implements use-cases untuk Review
// Service is designed to be used concurrently and is thread-safe
type Service struct {
	Repo     domain.Repository
	Errors   domain.ErrorRepository
	Reports  domain.ReportStore
	Loader   contracts.DocumentLoader
	Pipeline Runner
	Clock    application.Clock
	Logger   *slog.Logger
	// OnFinish, when set, receives every review once its run has ended.
	OnFinish func(r domain.Review)

	wg sync.WaitGroup
}

//
// ==== USE CASES ====
//

// ReviewCommand untuk trigger review. Document is used as-is when set,
// otherwise Path is loaded.
type ReviewCommand struct {
	TenantID string
	Path     string
	Document *contracts.Document
}

type ReviewResult struct {
	Review *domain.Review
	State  *contracts.AnalysisState
}

// Review runs the pipeline synchronously and persists the outcome. A failed
// run returns both the persisted review and the *contracts.StageError.
func (s *Service) Review(ctx context.Context, cmd ReviewCommand) (ReviewResult, error) {
	r, err := s.create(ctx, cmd)
	if err != nil {
		return ReviewResult{Review: r}, err
	}
	return s.run(ctx, r, cmd)
}

// Enqueue saves a running review and analyses it in the background. The run
// outlives ctx; Wait blocks until every enqueued run finished.
func (s *Service) Enqueue(ctx context.Context, cmd ReviewCommand) (*domain.Review, error) {
	r, err := s.create(ctx, cmd)
	if err != nil {
		return nil, err
	}
	snapshot := *r
	bg := context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		// errors are persisted on the review
		_, _ = s.run(bg, r, cmd)
	}()
	return &snapshot, nil
}

// Wait blocks until background reviews are done.
func (s *Service) Wait() { s.wg.Wait() }

func (s *Service) create(ctx context.Context, cmd ReviewCommand) (*domain.Review, error) {
	source := cmd.Path
	if cmd.Document != nil && cmd.Document.Source != "" {
		source = cmd.Document.Source
	}
	r := &domain.Review{
		ID:          domain.ReviewID(uuid.New().String()),
		TenantID:    cmd.TenantID,
		Source:      source,
		TriggeredAt: s.Clock.Now(),
		Status:      domain.StatusRunning,
		Stage:       contracts.StagePending,
	}
	if err := s.Repo.Save(ctx, r); err != nil {
		return r, fmt.Errorf("save review: %w", err)
	}
	return r, nil
}

func (s *Service) run(ctx context.Context, r *domain.Review, cmd ReviewCommand) (ReviewResult, error) {
	log := s.logger().With("review_id", r.ID, "tenant", r.TenantID, "source", r.Source)
	if s.OnFinish != nil {
		defer func() { s.OnFinish(*r) }()
	}
	// persistence must happen even when the run was cancelled
	persistCtx := context.WithoutCancel(ctx)

	var doc contracts.Document
	if cmd.Document != nil {
		doc = *cmd.Document
	} else {
		loaded, err := s.Loader.Load(ctx, cmd.Path)
		if err != nil {
			err = fmt.Errorf("load document: %w", err)
			s.finishFailed(persistCtx, log, r, nil, contracts.NewStageError(contracts.StagePending, err))
			return ReviewResult{Review: r}, err
		}
		doc = loaded
	}

	log.InfoContext(ctx, "review started", "pages", doc.Pages, "sections", len(doc.Sections))
	state, runErr := s.Pipeline.Run(ctx, doc)

	r.Stage = state.Stage
	r.ClauseCount = len(state.Clauses)
	r.Counts = domain.CountsFrom(state)
	r.DurationMS = s.Clock.Now().Sub(r.TriggeredAt).Milliseconds()
	if state.Metadata != nil {
		r.ContractType = state.Metadata.ContractType
	}
	if raw, err := json.Marshal(state); err == nil {
		r.StateJSON = string(raw)
	} else {
		log.WarnContext(ctx, "state not serialisable", "error", err)
	}

	if runErr != nil {
		var se *contracts.StageError
		if !errors.As(runErr, &se) {
			se = contracts.NewStageError(state.Stage, runErr)
		}
		s.finishFailed(persistCtx, log, r, state, se)
		return ReviewResult{Review: r, State: state}, runErr
	}

	key := fmt.Sprintf("%s/%s/report.md", r.TenantID, r.ID)
	url, err := s.Reports.Put(persistCtx, key, []byte(state.Report), "text/markdown; charset=utf-8")
	if err != nil {
		err = fmt.Errorf("store report: %w", err)
		s.finishFailed(persistCtx, log, r, state, contracts.NewStageError(contracts.StageDone, err))
		return ReviewResult{Review: r, State: state}, err
	}
	r.ReportURL = url
	r.Status = domain.StatusSuccess
	if err := s.Repo.Save(persistCtx, r); err != nil {
		return ReviewResult{Review: r, State: state}, fmt.Errorf("save review: %w", err)
	}
	log.InfoContext(ctx, "review finished",
		"clauses", r.ClauseCount, "critical", r.Counts.Critical, "high", r.Counts.High, "duration_ms", r.DurationMS)
	return ReviewResult{Review: r, State: state}, nil
}

func (s *Service) finishFailed(ctx context.Context, log *slog.Logger, r *domain.Review, state *contracts.AnalysisState, se *contracts.StageError) {
	r.Status = domain.StatusFailed
	r.ErrorKind = contracts.KindName(se)
	r.ErrorMessage = se.Error()
	if err := s.Repo.Save(ctx, r); err != nil {
		log.ErrorContext(ctx, "failed to save review", "error", err)
	}

	details := map[string]any{"stage": se.Stage, "kind": r.ErrorKind}
	if state != nil {
		details["clauses"] = len(state.Clauses)
		details["risk_findings"] = len(state.Risks)
		details["compliance_findings"] = len(state.Compliance)
	}
	raw, _ := json.Marshal(details)
	rerr := &domain.ReviewError{
		TenantID:    r.TenantID,
		ReviewID:    string(r.ID),
		Source:      r.Source,
		Stage:       string(se.Stage),
		Kind:        r.ErrorKind,
		Message:     se.Err.Error(),
		DetailsJSON: string(raw),
		CreatedAt:   s.Clock.Now(),
	}
	if err := s.Errors.Save(ctx, rerr); err != nil {
		log.ErrorContext(ctx, "failed to save review error", "error", err)
	}
	log.WarnContext(ctx, "review failed", "stage", se.Stage, "kind", r.ErrorKind, "error", se.Err)
}

// Latest ambil N review terakhir
func (s *Service) Latest(ctx context.Context, tenant string, limit int) ([]*domain.Review, error) {
	return s.Repo.Latest(ctx, tenant, limit)
}

// Get ambil 1 review by id
func (s *Service) Get(ctx context.Context, tenant string, id domain.ReviewID) (*domain.Review, error) {
	return s.Repo.Get(ctx, tenant, id)
}

// State decodes the analysis state persisted with a review.
func (s *Service) State(ctx context.Context, tenant string, id domain.ReviewID) (*contracts.AnalysisState, error) {
	r, err := s.Repo.Get(ctx, tenant, id)
	if err != nil {
		return nil, err
	}
	if r.StateJSON == "" {
		return nil, fmt.Errorf("review %s has no recorded state", id)
	}
	var state contracts.AnalysisState
	if err := json.Unmarshal([]byte(r.StateJSON), &state); err != nil {
		return nil, fmt.Errorf("decode review state: %w", err)
	}
	return &state, nil
}

// ErrorsFor lists the failures recorded for a review.
func (s *Service) ErrorsFor(ctx context.Context, tenant string, id domain.ReviewID, limit int) ([]*domain.ReviewError, error) {
	return s.Errors.ListByReview(ctx, tenant, string(id), limit)
}

func (s *Service) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
