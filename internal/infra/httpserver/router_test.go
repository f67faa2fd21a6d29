package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/contract-review/internal/application/pipeline"
	appqa "github.com/bryanwahyu/contract-review/internal/application/qa"
	appreviews "github.com/bryanwahyu/contract-review/internal/application/reviews"
	"github.com/bryanwahyu/contract-review/internal/application/stage"
	"github.com/bryanwahyu/contract-review/internal/domain/ai"
	"github.com/bryanwahyu/contract-review/internal/domain/contracts"
	domain "github.com/bryanwahyu/contract-review/internal/domain/reviews"
	"github.com/bryanwahyu/contract-review/internal/infra/ai/mock"
	"github.com/bryanwahyu/contract-review/internal/infra/ai/prompt"
	"github.com/bryanwahyu/contract-review/internal/infra/cache/memory"
	dbmemory "github.com/bryanwahyu/contract-review/internal/infra/db/memory"
	"github.com/bryanwahyu/contract-review/internal/infra/document"
	"github.com/bryanwahyu/contract-review/internal/infra/playbook"
	"github.com/bryanwahyu/contract-review/internal/infra/report"
	"github.com/bryanwahyu/contract-review/internal/infra/storage"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func reply(s string) mock.HandlerFunc {
	return func(ctx context.Context, req ai.Request) (string, error) { return s, nil }
}

const contractText = "1. Confidentiality. The recipient keeps all information secret for 3 years."

type server struct {
	handler http.Handler
	reviews *appreviews.Service
}

func newServer(t *testing.T, apiKeys map[string]string) server {
	t.Helper()
	discard := slog.New(slog.DiscardHandler)
	client := mock.NewClient(mock.Route(map[string]mock.HandlerFunc{
		"contract_intake": func(ctx context.Context, req ai.Request) (string, error) {
			if strings.Contains(req.Messages[0].Content, "lease") {
				return `{"contract_type":"Residential Lease","parties":[{"role":"landlord","name":"A"}]}`, nil
			}
			return `{"contract_type":"NDA","parties":[{"role":"discloser","name":"Acme"}]}`, nil
		},
		"clause_extraction":   reply(`{"clauses":[{"clause_type":"confidentiality","text":"Keep it secret for 3 years."}]}`),
		"risk_scoring":        reply(`{"risk_level":"medium","risk_score":5,"rationale":"long survival period"}`),
		"playbook_compliance": reply(`{"verdict":"flag","rule_id":"NDA-1","deviation":"3 years instead of 2"}`),
		"report_synthesis":    reply(`{"executive_summary":"Mostly standard.","negotiation_strategy":"Shorten the term."}`),
		"contract_qa": func(ctx context.Context, req ai.Request) (string, error) {
			return "The confidentiality term is 3 years.", nil
		},
	}))
	retry := stage.NewRetrier(stage.RetryConfig{})
	exec := stage.NewExecutor(client, retry, stage.WithLogger(discard))
	pb := playbook.New(&contracts.Playbook{ContractType: "nda", Rules: []contracts.Rule{{ID: "NDA-1", Category: "confidentiality"}}})
	orch := pipeline.New(exec, pipeline.Instructions{
		Intake:           prompt.Intake(),
		ClauseExtraction: prompt.ClauseExtraction(),
		RiskScoring:      prompt.RiskScoring(),
		Compliance:       prompt.Compliance(),
		ReportSynthesis:  prompt.ReportSynthesis(),
	}, pb, report.NewMarkdown(), pipeline.DefaultConfig(), pipeline.WithLogger(discard))

	store, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)
	clock := fixedClock{time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)}
	loader := document.NewLoader(0)

	reviewsSvc := &appreviews.Service{
		Repo:     dbmemory.NewReviewRepo(),
		Errors:   dbmemory.NewReviewErrorRepo(),
		Reports:  store,
		Loader:   loader,
		Pipeline: orch,
		Clock:    clock,
		Logger:   discard,
	}
	qaSvc := &appqa.Service{
		Client:      client,
		Store:       memory.NewSessionStore(),
		Retry:       retry,
		Instruction: prompt.QA(),
		Clock:       clock,
		Logger:      discard,
	}
	h := NewRouter(reviewsSvc, qaSvc, loader, Options{APIKeys: apiKeys, Logger: discard})
	return server{handler: h, reviews: reviewsSvc}
}

func (s server) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestCreateReviewAndReadBack(t *testing.T) {
	s := newServer(t, nil)

	rec := s.do(t, http.MethodPost, "/v1/acme/reviews?wait=true", map[string]any{"source": "nda.txt", "text": contractText})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rv := decode[domain.Review](t, rec)
	assert.Equal(t, domain.StatusSuccess, rv.Status)
	assert.Equal(t, "nda.txt", rv.Source)
	assert.Equal(t, 1, rv.Counts.Medium)

	rec = s.do(t, http.MethodGet, "/v1/acme/reviews/"+string(rv.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/v1/acme/reviews/"+string(rv.ID)+"/report", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/markdown; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "## Executive Summary")
	assert.Contains(t, rec.Body.String(), "3 years instead of 2")

	rec = s.do(t, http.MethodGet, "/v1/acme/reviews/"+string(rv.ID)+"/state", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	state := decode[contracts.AnalysisState](t, rec)
	assert.Equal(t, contracts.StageDone, state.Stage)
	assert.Len(t, state.Clauses, 1)

	rec = s.do(t, http.MethodGet, "/v1/acme/reviews/latest", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]domain.Review](t, rec), 1)

	rec = s.do(t, http.MethodGet, "/v1/globex/reviews/"+string(rv.ID), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateReviewQueues(t *testing.T) {
	s := newServer(t, nil)

	rec := s.do(t, http.MethodPost, "/v1/acme/reviews", map[string]any{"text": contractText})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	body := decode[map[string]any](t, rec)
	id := body["id"].(string)
	assert.Equal(t, fmt.Sprintf("/v1/acme/reviews/%s", id), rec.Header().Get("Location"))

	s.reviews.Wait()
	rec = s.do(t, http.MethodGet, "/v1/acme/reviews/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.StatusSuccess, decode[domain.Review](t, rec).Status)
}

func TestCreateReviewFromUpload(t *testing.T) {
	s := newServer(t, nil)

	upload := func(name string) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		fw, err := mw.CreateFormFile("file", name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(contractText))
		require.NoError(t, err)
		require.NoError(t, mw.Close())

		req := httptest.NewRequest(http.MethodPost, "/v1/acme/reviews?wait=true", &buf)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		rec := httptest.NewRecorder()
		s.handler.ServeHTTP(rec, req)
		return rec
	}

	rec := upload("mutual-nda.md")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "mutual-nda.md", decode[domain.Review](t, rec).Source)

	rec = upload("mutual-nda.docx")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateReviewReportsFailedRun(t *testing.T) {
	s := newServer(t, nil)

	rec := s.do(t, http.MethodPost, "/v1/acme/reviews?wait=true", map[string]any{"source": "lease.txt", "text": contractText})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
	rv := decode[domain.Review](t, rec)
	assert.Equal(t, domain.StatusFailed, rv.Status)
	assert.Equal(t, "intake_incomplete", rv.ErrorKind)

	rec = s.do(t, http.MethodGet, "/v1/acme/reviews/"+string(rv.ID)+"/errors", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	errs := decode[[]domain.ReviewError](t, rec)
	require.Len(t, errs, 1)
	assert.Equal(t, "intake", errs[0].Stage)

	rec = s.do(t, http.MethodGet, "/v1/acme/reviews/"+string(rv.ID)+"/report", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCreateReviewRejectsBadInput(t *testing.T) {
	s := newServer(t, nil)

	rec := s.do(t, http.MethodPost, "/v1/acme/reviews", map[string]any{"source": "x.txt"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "bad_request", decode[map[string]string](t, rec)["kind"])

	rec = s.do(t, http.MethodGet, "/v1/acme/reviews/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/v1/acme/reviews/6f1c2a3e-8d4b-4c1a-9b2e-1f0a2b3c4d5e", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decode[map[string]string](t, rec)["kind"])
}

func TestQASession(t *testing.T) {
	s := newServer(t, nil)

	rec := s.do(t, http.MethodPost, "/v1/acme/reviews?wait=true", map[string]any{"text": contractText})
	require.Equal(t, http.StatusOK, rec.Code)
	rv := decode[domain.Review](t, rec)

	rec = s.do(t, http.MethodPost, "/v1/acme/reviews/"+string(rv.ID)+"/sessions", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	sess := decode[sessionResponse](t, rec)
	assert.Empty(t, sess.Turns)

	rec = s.do(t, http.MethodPost, "/v1/acme/sessions/"+sess.ID+"/ask", map[string]string{"question": "How long is confidentiality?"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "3 years")

	rec = s.do(t, http.MethodPost, "/v1/acme/sessions/"+sess.ID+"/ask", map[string]string{"question": "   "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/v1/acme/sessions/"+sess.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[sessionResponse](t, rec).Turns, 1)

	rec = s.do(t, http.MethodGet, "/v1/globex/sessions/"+sess.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRoutesRequireAPIKey(t *testing.T) {
	s := newServer(t, map[string]string{"acme": "secret"})

	rec := s.do(t, http.MethodGet, "/v1/acme/reviews/latest", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/acme/reviews/latest", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/live", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{contracts.NewStageError(contracts.StageRiskScoring, fmt.Errorf("%w: timeout", contracts.ErrUpstreamUnavailable)), http.StatusBadGateway},
		{contracts.ErrMalformedResponse, http.StatusBadGateway},
		{contracts.ErrCanceled, http.StatusServiceUnavailable},
		{fmt.Errorf("call: %w", ai.ErrQuotaExceeded), http.StatusTooManyRequests},
		{fmt.Errorf("load: %w", document.ErrUnsupportedFormat), http.StatusUnsupportedMediaType},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		status, _ := classify(tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
	}
}
