package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bryanwahyu/contract-review/internal/bootstrap"
	"github.com/bryanwahyu/contract-review/internal/config"
	domain "github.com/bryanwahyu/contract-review/internal/domain/reviews"
	"github.com/bryanwahyu/contract-review/internal/infra/httpserver"
	"github.com/bryanwahyu/contract-review/internal/logger"
	"github.com/bryanwahyu/contract-review/internal/middleware"
)

func main() {
	cfg, err := config.Load(config.Path())
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}
	log := logger.Init(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, log)
	if err != nil {
		log.Error("bootstrap failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()
	app.Reviews.OnFinish = func(r domain.Review) {
		middleware.RecordReview(r.Status == domain.StatusFailed)
	}

	var limiter *middleware.RateLimiter
	if cfg.Server.RateLimit > 0 {
		limiter = middleware.NewRateLimiter(cfg.Server.RateLimit)
		go limiter.Cleanup(ctx)
	}

	handler := httpserver.NewRouter(app.Reviews, app.QA, app.Loader, httpserver.Options{
		APIKeys:        cfg.Auth.APIKeys,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RateLimiter:    limiter,
		HealthCheckers: app.Checkers,
		MaxUploadBytes: cfg.Storage.MaxUploadBytes,
		Logger:         log,
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute, // ?wait=true runs a full review in the request
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("server listening", "addr", addr, "database", cfg.Database.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down server...")

	ctx2, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx2); err != nil {
		log.Warn("shutdown error", "error", err)
	}
	// let queued reviews persist their outcome
	app.Reviews.Wait()
	log.Info("server stopped")
}
