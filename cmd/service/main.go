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

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/crop-advisory-service/internal/app"
	"github.com/kjstillabower/crop-advisory-service/internal/config"
	"github.com/kjstillabower/crop-advisory-service/internal/health"
	httphandler "github.com/kjstillabower/crop-advisory-service/internal/http"
	"github.com/kjstillabower/crop-advisory-service/internal/observability"
	"github.com/kjstillabower/crop-advisory-service/internal/traffic"
)

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	startCtx, startCancel := context.WithTimeout(ctx, cfg.MySQLConnectTimeout+10*time.Second)
	a, err := app.New(startCtx, cfg, logger)
	startCancel()
	if err != nil {
		logger.Fatal("startup", zap.Error(err))
	}

	tracker := traffic.NewTracker(0)
	evaluator := health.NewEvaluator(health.Config{
		OverloadWindow:         cfg.OverloadWindow,
		OverloadThresholdPct:   cfg.OverloadThresholdPct,
		RateLimitRPS:           cfg.RateLimitRPS,
		DegradedWindow:         cfg.DegradedWindow,
		DegradedErrorPct:       cfg.DegradedErrorPct,
		IdleWindow:             cfg.IdleWindow,
		IdleThresholdReqPerMin: cfg.IdleThresholdReqPerMin,
		MinimumLifespan:        cfg.MinimumLifespan,
		StartTime:              time.Now(),
	}, tracker)
	a.RegisterHealthChecks(evaluator)
	observability.RegisterRateLimitGauges(tracker, cfg.OverloadWindow)

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	handler := httphandler.NewHandler(a.Service, evaluator, tracker, logger, httphandler.Options{
		Version:       cfg.ServiceVersion,
		MaxBodyBytes:  cfg.MaxBodyBytes,
		CityMinLength: cfg.CityMinLength,
		CityMaxLength: cfg.CityMaxLength,
	})
	router := httphandler.NewRouter(handler, logger, httphandler.RouterConfig{
		Limiter:        limiter,
		Tracker:        tracker,
		RequestTimeout: cfg.RequestTimeout,
	})

	go func() {
		if err := a.RunCacheSweeper(ctx, cfg.CacheTTL); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("cache sweeper stopped", zap.Error(err))
		}
	}()

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      cfg.RequestTimeout + 5*time.Second,
	}

	go func() {
		logger.Info("server starting",
			zap.String("addr", srv.Addr),
			zap.String("version", cfg.ServiceVersion))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	health.SetShuttingDown(true)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	logger.Info("waiting for in-flight requests", zap.Int64("count", httphandler.InFlightCount()))
	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownInFlightTimeout)
	defer waitCancel()
	if err := httphandler.WaitForInFlight(waitCtx, cfg.ShutdownInFlightCheckInterval); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}

	if err := a.Close(); err != nil {
		logger.Error("cache close", zap.Error(err))
	}
	logger.Info("shutdown complete")
	if err := observability.FlushLogs(logger); err != nil {
		fmt.Fprintf(os.Stderr, "flush logs: %v\n", err)
	}
}
