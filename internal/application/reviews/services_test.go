package reviews

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/contract-review/internal/application"
	"github.com/bryanwahyu/contract-review/internal/application/pipeline"
	"github.com/bryanwahyu/contract-review/internal/application/stage"
	"github.com/bryanwahyu/contract-review/internal/domain/ai"
	"github.com/bryanwahyu/contract-review/internal/domain/contracts"
	domain "github.com/bryanwahyu/contract-review/internal/domain/reviews"
	"github.com/bryanwahyu/contract-review/internal/infra/ai/mock"
	"github.com/bryanwahyu/contract-review/internal/infra/ai/prompt"
	"github.com/bryanwahyu/contract-review/internal/infra/db/memory"
	"github.com/bryanwahyu/contract-review/internal/infra/document"
	"github.com/bryanwahyu/contract-review/internal/infra/playbook"
	"github.com/bryanwahyu/contract-review/internal/infra/report"
	"github.com/bryanwahyu/contract-review/internal/infra/storage"
)

func reply(s string) mock.HandlerFunc {
	return func(ctx context.Context, req ai.Request) (string, error) { return s, nil }
}

func routes() map[string]mock.HandlerFunc {
	return map[string]mock.HandlerFunc{
		"contract_intake": func(ctx context.Context, req ai.Request) (string, error) {
			if strings.Contains(req.Messages[0].Content, "doc2") {
				return `{"contract_type":"Residential Lease","parties":[{"role":"landlord","name":"A"}]}`, nil
			}
			return `{"contract_type":"NDA","parties":[{"role":"discloser","name":"Acme"}]}`, nil
		},
		"clause_extraction":   reply(`{"clauses":[{"clause_type":"confidentiality","text":"Keep it secret for 3 years."}]}`),
		"risk_scoring":        reply(`{"risk_level":"low","risk_score":2,"rationale":"market standard"}`),
		"playbook_compliance": reply(`{"verdict":"pass","rule_id":"NDA-1"}`),
		"report_synthesis":    reply(`{"executive_summary":"Fine.","negotiation_strategy":"Sign."}`),
	}
}

type fixture struct {
	svc     *Service
	repo    *memory.ReviewRepo
	errs    *memory.ReviewErrorRepo
	reports string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	discard := slog.New(slog.DiscardHandler)
	retry := stage.NewRetrier(stage.RetryConfig{MaxRetries: 0})
	exec := stage.NewExecutor(mock.NewClient(mock.Route(routes())), retry, stage.WithLogger(discard))
	pb := playbook.New(&contracts.Playbook{ContractType: "nda", Rules: []contracts.Rule{{ID: "NDA-1", Category: "confidentiality"}}})
	orch := pipeline.New(exec, pipeline.Instructions{
		Intake:           prompt.Intake(),
		ClauseExtraction: prompt.ClauseExtraction(),
		RiskScoring:      prompt.RiskScoring(),
		Compliance:       prompt.Compliance(),
		ReportSynthesis:  prompt.ReportSynthesis(),
	}, pb, report.NewMarkdown(), pipeline.DefaultConfig(), pipeline.WithLogger(discard))

	reportsDir := t.TempDir()
	store, err := storage.NewLocal(reportsDir)
	require.NoError(t, err)

	f := fixture{repo: memory.NewReviewRepo(), errs: memory.NewReviewErrorRepo(), reports: reportsDir}
	f.svc = &Service{
		Repo:     f.repo,
		Errors:   f.errs,
		Reports:  store,
		Loader:   document.NewLoader(0),
		Pipeline: orch,
		Clock:    application.FixedClock(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)),
		Logger:   discard,
	}
	return f
}

func TestBatchIsolatesFailures(t *testing.T) {
	f := newFixture(t)
	in := t.TempDir()
	for _, name := range []string{"doc1.txt", "doc2.txt", "doc3.md"} {
		require.NoError(t, os.WriteFile(filepath.Join(in, name), []byte("1. Confidentiality. Keep it secret."), 0o644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(in, "notes.docx"), []byte("skip"), 0o644))

	res, err := f.svc.Batch(context.Background(), "acme", in)
	require.NoError(t, err)
	require.Len(t, res.Items, 3)

	failed := res.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, "doc2", failed[0].Name())
	assert.ErrorIs(t, failed[0].Err, contracts.ErrIntakeIncomplete)
	assert.Equal(t, domain.StatusFailed, failed[0].Review.Status)
	assert.Equal(t, "intake_incomplete", failed[0].Review.ErrorKind)

	for _, i := range []int{0, 2} {
		it := res.Items[i]
		require.NoError(t, it.Err)
		assert.Equal(t, domain.StatusSuccess, it.Review.Status)
		assert.Contains(t, it.State.Report, "## Executive Summary")
		assert.Contains(t, it.Review.ReportURL, "file://")
	}

	errs, err := f.svc.ErrorsFor(context.Background(), "acme", failed[0].Review.ID, 10)
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Equal(t, "intake", errs[0].Stage)
	assert.Contains(t, errs[0].DetailsJSON, `"kind":"intake_incomplete"`)

	out := t.TempDir()
	for _, it := range res.Items {
		require.NoError(t, WriteArtifacts(out, it))
	}
	for _, name := range []string{"doc1.md", "doc1.json", "doc2.json", "doc3.md", "doc3.json"} {
		assert.FileExists(t, filepath.Join(out, name))
	}
	assert.NoFileExists(t, filepath.Join(out, "doc2.md"))
}

func TestReviewPersistsState(t *testing.T) {
	f := newFixture(t)
	doc, err := document.FromText("pasted.txt", "1. Confidentiality. Keep it secret.", 1)
	require.NoError(t, err)

	res, err := f.svc.Review(context.Background(), ReviewCommand{TenantID: "acme", Document: &doc})
	require.NoError(t, err)

	got, err := f.svc.Get(context.Background(), "acme", res.Review.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, got.Status)
	assert.Equal(t, contracts.StageDone, got.Stage)
	assert.Equal(t, 1, got.ClauseCount)
	assert.Equal(t, 1, got.Counts.Low)
	assert.Equal(t, "pasted.txt", got.Source)

	state, err := f.svc.State(context.Background(), "acme", res.Review.ID)
	require.NoError(t, err)
	assert.Equal(t, res.State.Report, state.Report)
	c, ok := state.Clause("C001")
	require.True(t, ok)
	assert.Equal(t, "confidentiality", c.Category)

	_, err = f.svc.Get(context.Background(), "other-tenant", res.Review.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestReviewRecordsLoadFailure(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.Review(context.Background(), ReviewCommand{TenantID: "acme", Path: "/nope/missing.pdf"})

	require.Error(t, err)
	assert.Equal(t, domain.StatusFailed, res.Review.Status)
	errs, _ := f.errs.ListByReview(context.Background(), "acme", string(res.Review.ID), 0)
	require.Len(t, errs, 1)
	assert.Equal(t, "pending", errs[0].Stage)
}

func TestEnqueueRunsInBackground(t *testing.T) {
	f := newFixture(t)
	var finished []domain.Status
	f.svc.OnFinish = func(r domain.Review) { finished = append(finished, r.Status) }
	doc, err := document.FromText("bg.txt", "1. Confidentiality. Keep it secret.", 1)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	r, err := f.svc.Enqueue(ctx, ReviewCommand{TenantID: "acme", Document: &doc})
	cancel()
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRunning, r.Status)

	f.svc.Wait()

	got, err := f.svc.Get(context.Background(), "acme", r.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, got.Status)
	assert.Equal(t, []domain.Status{domain.StatusSuccess}, finished)

	latest, err := f.svc.Latest(context.Background(), "acme", 5)
	require.NoError(t, err)
	assert.Len(t, latest, 1)
}
