// Package bootstrap wires the configured adapters into the application
// services shared by the API server and the CLIs.
package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/bryanwahyu/contract-review/internal/application"
	"github.com/bryanwahyu/contract-review/internal/application/pipeline"
	"github.com/bryanwahyu/contract-review/internal/application/qa"
	"github.com/bryanwahyu/contract-review/internal/application/reviews"
	"github.com/bryanwahyu/contract-review/internal/application/stage"
	"github.com/bryanwahyu/contract-review/internal/config"
	"github.com/bryanwahyu/contract-review/internal/domain/ai"
	domqa "github.com/bryanwahyu/contract-review/internal/domain/qa"
	domreviews "github.com/bryanwahyu/contract-review/internal/domain/reviews"
	"github.com/bryanwahyu/contract-review/internal/infra/ai/openai"
	"github.com/bryanwahyu/contract-review/internal/infra/ai/prompt"
	"github.com/bryanwahyu/contract-review/internal/infra/cache/memory"
	rediscache "github.com/bryanwahyu/contract-review/internal/infra/cache/redis"
	dbmemory "github.com/bryanwahyu/contract-review/internal/infra/db/memory"
	mysqlp "github.com/bryanwahyu/contract-review/internal/infra/db/mysql"
	"github.com/bryanwahyu/contract-review/internal/infra/db/postgres"
	"github.com/bryanwahyu/contract-review/internal/infra/document"
	"github.com/bryanwahyu/contract-review/internal/infra/playbook"
	"github.com/bryanwahyu/contract-review/internal/infra/report"
	"github.com/bryanwahyu/contract-review/internal/infra/storage"
	"github.com/bryanwahyu/contract-review/internal/middleware"
)

var ErrNoModel = errors.New("no model configured: set OPENAI_API_KEY or openai.baseURL")

// App holds the wired services.
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Loader   *document.Loader
	Pipeline *pipeline.Orchestrator
	Reviews  *reviews.Service
	QA       *qa.Service
	// Checkers backs the /health endpoint.
	Checkers map[string]middleware.HealthChecker

	closers []func() error
}

type options struct {
	client    ai.Client
	localOnly bool
}

type Option func(*options)

// WithClient replaces the OpenAI client, mainly for tests and dry runs.
func WithClient(c ai.Client) Option {
	return func(o *options) { o.client = c }
}

// LocalOnly ignores the database, MinIO and Redis sections: the CLIs keep
// everything in memory and write reports to storage.reportsDir.
func LocalOnly() Option {
	return func(o *options) { o.localOnly = true }
}

func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = slog.Default()
	}
	app := &App{Config: cfg, Logger: logger, Checkers: map[string]middleware.HealthChecker{}}
	if err := app.build(ctx, o); err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context, o options) error {
	cfg := a.Config

	client := o.client
	if client == nil {
		c, err := newModelClient(cfg.OpenAI)
		if err != nil {
			return err
		}
		client = c
	}

	playbooks, err := playbook.LoadDir(cfg.Storage.PlaybooksDir)
	if err != nil {
		return fmt.Errorf("load playbooks: %w", err)
	}
	a.Logger.Info("playbooks loaded", "dir", cfg.Storage.PlaybooksDir, "keys", playbooks.Keys())

	retry := stage.NewRetrier(cfg.Retry)
	exec := stage.NewExecutor(client, retry, stage.WithLogger(a.Logger))
	a.Pipeline = pipeline.New(exec, pipeline.Instructions{
		Intake:           prompt.Intake(),
		ClauseExtraction: prompt.ClauseExtraction(),
		RiskScoring:      prompt.RiskScoring(),
		Compliance:       prompt.Compliance(),
		ReportSynthesis:  prompt.ReportSynthesis(),
	}, playbooks, report.NewMarkdown(), cfg.Pipeline, pipeline.WithLogger(a.Logger))
	a.Loader = document.NewLoader(cfg.Storage.MaxUploadBytes)

	repo, errRepo, err := a.repositories(ctx, o.localOnly)
	if err != nil {
		return err
	}
	reports, err := a.reportStore(ctx, o.localOnly)
	if err != nil {
		return err
	}
	sessions, err := a.sessionStore(ctx, o.localOnly)
	if err != nil {
		return err
	}

	clock := application.SystemClock{}
	a.Reviews = &reviews.Service{
		Repo:     repo,
		Errors:   errRepo,
		Reports:  reports,
		Loader:   a.Loader,
		Pipeline: a.Pipeline,
		Clock:    clock,
		Logger:   a.Logger,
	}
	a.QA = &qa.Service{
		Client:      client,
		Store:       sessions,
		Retry:       retry,
		Instruction: prompt.QA(),
		MaxTurns:    cfg.QA.MaxTurns,
		Clock:       clock,
		Logger:      a.Logger,
	}
	return nil
}

func newModelClient(cfg config.OpenAIConfig) (*openai.Client, error) {
	if cfg.APIKey == "" && cfg.BaseURL == "" {
		return nil, ErrNoModel
	}
	var c *openai.Client
	if cfg.BaseURL != "" {
		c = openai.NewClientWithBaseURL(cfg.APIKey, cfg.BaseURL, cfg.Model)
	} else {
		c = openai.NewClient(cfg.APIKey, cfg.Model)
	}
	c.MaxTokens = cfg.MaxTokens
	c.Timeout = cfg.Timeout
	return c, nil
}

func (a *App) repositories(ctx context.Context, localOnly bool) (domreviews.Repository, domreviews.ErrorRepository, error) {
	driver := a.Config.Database.Driver
	if localOnly {
		driver = "none"
	}

	var db *sql.DB
	var err error
	switch driver {
	case "mysql":
		db, err = mysqlp.Connect(ctx, a.Config.MySQLDSN())
		if err != nil {
			return nil, nil, fmt.Errorf("mysql connect: %w", err)
		}
		a.closers = append(a.closers, db.Close)
		a.Checkers["database"] = &middleware.DatabaseHealthChecker{DB: db}
		return mysqlp.NewReviewRepository(db), mysqlp.NewReviewErrorRepository(db), nil
	case "postgres":
		db, err = postgres.Connect(ctx, a.Config.PostgresDSN())
		if err != nil {
			return nil, nil, fmt.Errorf("postgres connect: %w", err)
		}
		a.closers = append(a.closers, db.Close)
		a.Checkers["database"] = &middleware.DatabaseHealthChecker{DB: db}
		return postgres.NewReviewRepository(db), postgres.NewReviewErrorRepository(db), nil
	}
	return dbmemory.NewReviewRepo(), dbmemory.NewReviewErrorRepo(), nil
}

func (a *App) reportStore(ctx context.Context, localOnly bool) (domreviews.ReportStore, error) {
	m := a.Config.Minio
	if localOnly || m.Endpoint == "" {
		return storage.NewLocal(a.Config.Storage.ReportsDir)
	}
	var opts []storage.Option
	if m.PresignTTL > 0 {
		opts = append(opts, storage.WithPresignedURLs(m.PresignTTL))
	}
	store, err := storage.New(ctx, m.Endpoint, m.Region, m.BucketName, m.AccessKey, m.SecretKey, m.UseSSL, opts...)
	if err != nil {
		return nil, fmt.Errorf("minio init: %w", err)
	}
	return store, nil
}

func (a *App) sessionStore(ctx context.Context, localOnly bool) (domqa.Store, error) {
	r := a.Config.Redis
	if localOnly || r.Addr == "" {
		return memory.NewSessionStore(), nil
	}
	client := goredis.NewClient(&goredis.Options{Addr: r.Addr, Password: r.Password, DB: r.DB})
	a.closers = append(a.closers, client.Close)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	a.Checkers["redis"] = &middleware.RedisHealthChecker{Client: client}
	return rediscache.NewSessionStore(client, a.Config.QA.SessionTTL), nil
}

// Close releases connections in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
