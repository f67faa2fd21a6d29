package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	appqa "github.com/bryanwahyu/contract-review/internal/application/qa"
	appreviews "github.com/bryanwahyu/contract-review/internal/application/reviews"
	domai "github.com/bryanwahyu/contract-review/internal/domain/ai"
	"github.com/bryanwahyu/contract-review/internal/domain/contracts"
	domqa "github.com/bryanwahyu/contract-review/internal/domain/qa"
	domain "github.com/bryanwahyu/contract-review/internal/domain/reviews"
	"github.com/bryanwahyu/contract-review/internal/infra/document"
	"github.com/bryanwahyu/contract-review/internal/logger"
	"github.com/bryanwahyu/contract-review/internal/middleware"
)

// Options configures the HTTP surface.
type Options struct {
	APIKeys        map[string]string
	AllowedOrigins []string
	// RateLimiter is optional; nil disables rate limiting.
	RateLimiter    *middleware.RateLimiter
	HealthCheckers map[string]middleware.HealthChecker
	MaxUploadBytes int64
	Logger         *slog.Logger
}

type Router struct {
	reviewsSvc *appreviews.Service
	qaSvc      *appqa.Service
	loader     contracts.DocumentLoader
	maxUpload  int64
	log        *slog.Logger
}

func NewRouter(reviewsSvc *appreviews.Service, qaSvc *appqa.Service, loader contracts.DocumentLoader, opts Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 20 << 20
	}
	r := &Router{reviewsSvc: reviewsSvc, qaSvc: qaSvc, loader: loader, maxUpload: opts.MaxUploadBytes, log: opts.Logger}

	mux := chi.NewRouter()
	mux.Use(chimw.RequestID)
	mux.Use(chimw.Recoverer)
	mux.Use(middleware.LoggingMiddleware(opts.Logger))
	mux.Use(middleware.MetricsMiddleware)
	if len(opts.AllowedOrigins) > 0 {
		mux.Use(cors.Handler(cors.Options{
			AllowedOrigins:   opts.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
			ExposedHeaders:   []string{"Location"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}
	mux.Use(middleware.APIKeyAuth(opts.APIKeys))
	if opts.RateLimiter != nil {
		mux.Use(middleware.RateLimitMiddleware(opts.RateLimiter))
	}

	mux.Get("/health", middleware.HealthHandler(opts.HealthCheckers))
	mux.Get("/ready", middleware.ReadinessHandler)
	mux.Get("/live", middleware.LivenessHandler)
	mux.Get("/metrics", middleware.MetricsHandler)

	mux.Route("/v1/{tenant}", func(rt chi.Router) {
		rt.Use(middleware.RequireValidTenant)
		rt.Post("/reviews", r.wrap(r.handleCreateReview))
		rt.Get("/reviews/latest", r.wrap(r.handleLatest))
		rt.Get("/reviews/{id}", r.wrap(r.handleGet))
		rt.Get("/reviews/{id}/state", r.wrap(r.handleState))
		rt.Get("/reviews/{id}/report", r.wrap(r.handleReport))
		rt.Get("/reviews/{id}/errors", r.wrap(r.handleErrors))
		rt.Post("/reviews/{id}/sessions", r.wrap(r.handleStartSession))
		rt.Get("/sessions/{sid}", r.wrap(r.handleGetSession))
		rt.Post("/sessions/{sid}/ask", r.wrap(r.handleAsk))
	})

	return mux
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

// badRequest marks client input errors.
type badRequest struct{ err error }

func (e badRequest) Error() string { return e.err.Error() }
func (e badRequest) Unwrap() error { return e.err }

func invalid(format string, args ...any) error {
	return badRequest{fmt.Errorf(format, args...)}
}

func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		err := h(w, req)
		if err == nil {
			return
		}
		status, kind := classify(err)
		if status >= http.StatusInternalServerError {
			logger.WithContext(req.Context(), r.log).ErrorContext(req.Context(), "request failed", "error", err)
		}
		writeJSON(w, status, map[string]string{"error": err.Error(), "kind": kind})
	}
}

func classify(err error) (int, string) {
	var br badRequest
	switch {
	case errors.As(err, &br), errors.Is(err, domqa.ErrEmptyQuestion):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domqa.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domqa.ErrNoReport):
		return http.StatusConflict, "no_report"
	case errors.Is(err, document.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType, "unsupported_format"
	case errors.Is(err, document.ErrEmptyDocument):
		return http.StatusUnprocessableEntity, "empty_document"
	case errors.Is(err, domai.ErrQuotaExceeded):
		return http.StatusTooManyRequests, "quota_exceeded"
	case errors.Is(err, contracts.ErrIntakeIncomplete), errors.Is(err, contracts.ErrIncompleteAnalysis):
		return http.StatusUnprocessableEntity, contracts.KindName(err)
	case errors.Is(err, contracts.ErrUpstreamUnavailable), errors.Is(err, contracts.ErrMalformedResponse):
		return http.StatusBadGateway, contracts.KindName(err)
	case errors.Is(err, contracts.ErrCanceled):
		return http.StatusServiceUnavailable, "canceled"
	}
	return http.StatusInternalServerError, "internal"
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

// POST /v1/{tenant}/reviews
// Body: {"source": "msa.txt", "text": "..."} or multipart form with a "file" part.
// ?wait=true runs the review in the request; otherwise it is queued (202).
func (r *Router) handleCreateReview(w http.ResponseWriter, req *http.Request) error {
	tenant := chi.URLParam(req, "tenant")
	req.Body = http.MaxBytesReader(w, req.Body, r.maxUpload)

	doc, err := r.readDocument(req)
	if err != nil {
		return err
	}
	cmd := appreviews.ReviewCommand{TenantID: tenant, Document: &doc}

	if wait, _ := strconv.ParseBool(req.URL.Query().Get("wait")); wait {
		res, err := r.reviewsSvc.Review(req.Context(), cmd)
		if err != nil && res.Review == nil {
			return err
		}
		status := http.StatusOK
		if err != nil {
			status, _ = classify(err)
		}
		return writeJSON(w, status, res.Review)
	}

	rv, err := r.reviewsSvc.Enqueue(req.Context(), cmd)
	if err != nil {
		return err
	}
	w.Header().Set("Location", fmt.Sprintf("/v1/%s/reviews/%s", tenant, rv.ID))
	return writeJSON(w, http.StatusAccepted, map[string]any{
		"status":   "queued",
		"tenant":   tenant,
		"id":       rv.ID,
		"source":   rv.Source,
		"message":  "review started in background",
		"queuedAt": rv.TriggeredAt,
	})
}

func (r *Router) readDocument(req *http.Request) (contracts.Document, error) {
	if strings.HasPrefix(req.Header.Get("Content-Type"), "multipart/form-data") {
		return r.readUpload(req)
	}

	var body struct {
		Source string `json:"source"`
		Text   string `json:"text"`
		Pages  int    `json:"pages"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		return contracts.Document{}, invalid("invalid JSON body: %v", err)
	}
	if body.Text == "" {
		return contracts.Document{}, invalid("text is required")
	}
	if body.Source == "" {
		body.Source = "inline.txt"
	}
	return document.FromText(middleware.SanitizeString(filepath.Base(body.Source)), body.Text, body.Pages)
}

// readUpload spools the upload to a temp file so the PDF reader can seek it.
func (r *Router) readUpload(req *http.Request) (contracts.Document, error) {
	file, header, err := req.FormFile("file")
	if err != nil {
		return contracts.Document{}, invalid("file part is required: %v", err)
	}
	defer file.Close()
	if err := middleware.ValidateUploadName(header.Filename, appreviews.SupportedExtensions); err != nil {
		return contracts.Document{}, badRequest{err}
	}

	tmp, err := os.CreateTemp("", "upload-*"+filepath.Ext(header.Filename))
	if err != nil {
		return contracts.Document{}, err
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, file); err != nil {
		tmp.Close()
		return contracts.Document{}, invalid("read upload: %v", err)
	}
	if err := tmp.Close(); err != nil {
		return contracts.Document{}, err
	}

	doc, err := r.loader.Load(req.Context(), tmp.Name())
	if err != nil {
		return contracts.Document{}, err
	}
	doc.Source = header.Filename
	return doc, nil
}

// GET /v1/{tenant}/reviews/latest?limit=20
func (r *Router) handleLatest(w http.ResponseWriter, req *http.Request) error {
	tenant := chi.URLParam(req, "tenant")
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))

	list, err := r.reviewsSvc.Latest(req.Context(), tenant, middleware.ValidateLimit(limit))
	if err != nil {
		return err
	}
	if list == nil {
		list = []*domain.Review{}
	}
	return writeJSON(w, http.StatusOK, list)
}

func reviewID(req *http.Request) (domain.ReviewID, error) {
	id := chi.URLParam(req, "id")
	if err := middleware.ValidateReviewID(id); err != nil {
		return "", badRequest{err}
	}
	return domain.ReviewID(id), nil
}

// GET /v1/{tenant}/reviews/{id}
func (r *Router) handleGet(w http.ResponseWriter, req *http.Request) error {
	id, err := reviewID(req)
	if err != nil {
		return err
	}
	rv, err := r.reviewsSvc.Get(req.Context(), chi.URLParam(req, "tenant"), id)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, rv)
}

// GET /v1/{tenant}/reviews/{id}/state
func (r *Router) handleState(w http.ResponseWriter, req *http.Request) error {
	id, err := reviewID(req)
	if err != nil {
		return err
	}
	state, err := r.reviewsSvc.State(req.Context(), chi.URLParam(req, "tenant"), id)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, state)
}

// GET /v1/{tenant}/reviews/{id}/report
func (r *Router) handleReport(w http.ResponseWriter, req *http.Request) error {
	id, err := reviewID(req)
	if err != nil {
		return err
	}
	state, err := r.reviewsSvc.State(req.Context(), chi.URLParam(req, "tenant"), id)
	if err != nil {
		return err
	}
	if state.Report == "" {
		return domqa.ErrNoReport
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	_, err = io.WriteString(w, state.Report)
	return err
}

// GET /v1/{tenant}/reviews/{id}/errors?limit=20
func (r *Router) handleErrors(w http.ResponseWriter, req *http.Request) error {
	id, err := reviewID(req)
	if err != nil {
		return err
	}
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
	list, err := r.reviewsSvc.ErrorsFor(req.Context(), chi.URLParam(req, "tenant"), id, middleware.ValidateLimit(limit))
	if err != nil {
		return err
	}
	if list == nil {
		list = []*domain.ReviewError{}
	}
	return writeJSON(w, http.StatusOK, list)
}

// POST /v1/{tenant}/reviews/{id}/sessions
func (r *Router) handleStartSession(w http.ResponseWriter, req *http.Request) error {
	tenant := chi.URLParam(req, "tenant")
	id, err := reviewID(req)
	if err != nil {
		return err
	}
	state, err := r.reviewsSvc.State(req.Context(), tenant, id)
	if err != nil {
		return err
	}
	session, err := r.qaSvc.Start(req.Context(), appqa.StartCommand{
		TenantID:     tenant,
		ReviewID:     string(id),
		ContractText: state.Document.Text,
		Report:       state.Report,
	})
	if err != nil {
		return err
	}
	w.Header().Set("Location", fmt.Sprintf("/v1/%s/sessions/%s", tenant, session.ID))
	return writeJSON(w, http.StatusCreated, sessionView(session))
}

// session loads sid and hides sessions of other tenants.
func (r *Router) session(req *http.Request) (*domqa.Session, error) {
	sid := chi.URLParam(req, "sid")
	if err := middleware.ValidateSessionID(sid); err != nil {
		return nil, badRequest{err}
	}
	s, err := r.qaSvc.Get(req.Context(), sid)
	if err != nil {
		return nil, err
	}
	if s.TenantID != chi.URLParam(req, "tenant") {
		return nil, domqa.ErrNotFound
	}
	return s, nil
}

// GET /v1/{tenant}/sessions/{sid}
func (r *Router) handleGetSession(w http.ResponseWriter, req *http.Request) error {
	s, err := r.session(req)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, sessionView(s))
}

// POST /v1/{tenant}/sessions/{sid}/ask
// Body: {"question": "..."}
func (r *Router) handleAsk(w http.ResponseWriter, req *http.Request) error {
	s, err := r.session(req)
	if err != nil {
		return err
	}
	var body struct {
		Question string `json:"question"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		return invalid("invalid JSON body: %v", err)
	}
	q, err := middleware.ValidateQuestion(body.Question)
	if err != nil {
		return badRequest{err}
	}

	turn, err := r.qaSvc.Ask(req.Context(), s.ID, q)
	if err != nil {
		return err
	}
	middleware.IncrementQuestions()
	return writeJSON(w, http.StatusOK, turn)
}

type sessionResponse struct {
	ID        string       `json:"id"`
	ReviewID  string       `json:"review_id"`
	Turns     []domqa.Turn `json:"turns"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// sessionView leaves out the contract text and report.
func sessionView(s *domqa.Session) sessionResponse {
	turns := s.Turns
	if turns == nil {
		turns = []domqa.Turn{}
	}
	return sessionResponse{ID: s.ID, ReviewID: s.ReviewID, Turns: turns, CreatedAt: s.CreatedAt, UpdatedAt: s.UpdatedAt}
}
