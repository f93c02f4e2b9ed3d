// Package app builds the prediction stack from configuration. The server and the CLI share it.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kjstillabower/crop-advisory-service/internal/cache"
	"github.com/kjstillabower/crop-advisory-service/internal/cities"
	"github.com/kjstillabower/crop-advisory-service/internal/config"
	"github.com/kjstillabower/crop-advisory-service/internal/health"
	"github.com/kjstillabower/crop-advisory-service/internal/observability"
	"github.com/kjstillabower/crop-advisory-service/internal/pesticide"
	"github.com/kjstillabower/crop-advisory-service/internal/predictor"
	"github.com/kjstillabower/crop-advisory-service/internal/service"
)

// App holds the immutable reference data, models and service built at startup.
type App struct {
	Cities          *cities.Table
	Pesticides      *pesticide.Table
	CropModel       *predictor.Instrumented
	FertilizerModel *predictor.Instrumented
	Cache           cache.Cache
	Service         *service.PredictionService

	memory    *cache.InMemoryCache
	memcached *cache.MemcachedCache
}

// New loads the city table and both models concurrently, then wires the prediction service.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{}

	pests, err := pesticide.New(cfg.Pesticides, cfg.PesticideDefault)
	if err != nil {
		return nil, fmt.Errorf("pesticide table: %w", err)
	}
	a.Pesticides = pests

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		table, err := LoadCities(gctx, cfg)
		if err != nil {
			return fmt.Errorf("city table: %w", err)
		}
		a.Cities = table
		return nil
	})
	g.Go(func() error {
		m, err := LoadModel(cfg, "crop", cfg.CropModel)
		if err != nil {
			return err
		}
		a.CropModel = m
		return nil
	})
	g.Go(func() error {
		m, err := LoadModel(cfg, "fertilizer", cfg.FertilizerModel)
		if err != nil {
			return err
		}
		a.FertilizerModel = m
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	observability.CityTableRecords.Set(float64(a.Cities.Len()))
	observability.SetTrackedCrops(cfg.TrackedCrops)
	logger.Info("reference data loaded",
		zap.String("cities_source", cfg.CitiesSource),
		zap.Int("cities", a.Cities.Len()),
		zap.Int("pesticide_crops", a.Pesticides.Crops()),
		zap.String("models_backend", cfg.ModelsBackend))

	switch cfg.CacheBackend {
	case config.CacheBackendMemcached:
		a.memcached = cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		a.Cache = a.memcached
		logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
	case config.CacheBackendInMemory:
		a.memory = cache.NewInMemoryCache(cfg.CacheMaxEntries)
		a.Cache = a.memory
		logger.Info("cache backend: in_memory", zap.Int("max_entries", cfg.CacheMaxEntries))
	default:
		logger.Info("cache disabled")
	}

	svc, err := service.NewPredictionService(a.Cities, a.CropModel, a.FertilizerModel, a.Pesticides, service.Options{
		Cache:            a.Cache,
		CacheTTL:         cfg.CacheTTL,
		CacheNamespace:   cfg.ModelVersion,
		Coalesce:         cfg.CoalesceEnabled,
		InferenceTimeout: cfg.CoalesceTimeout,
	})
	if err != nil {
		return nil, err
	}
	a.Service = svc
	return a, nil
}

// LoadCities reads the city table from the configured source. A MySQL connection is
// closed once the rows are read.
func LoadCities(ctx context.Context, cfg *config.Config) (*cities.Table, error) {
	switch cfg.CitiesSource {
	case config.CitiesSourceMySQL:
		db, err := cities.OpenMySQL(ctx, cfg.MySQLDSN, cfg.MySQLConnectTimeout)
		if err != nil {
			return nil, err
		}
		defer db.Close()
		return cities.LoadMySQL(ctx, db, cfg.MySQLTable)
	default:
		return cities.LoadCSV(cfg.CitiesPath)
	}
}

// LoadModel builds the named predictor for the configured backend and instruments it.
func LoadModel(cfg *config.Config, name string, mc config.ModelConfig) (*predictor.Instrumented, error) {
	var p predictor.Predictor
	switch cfg.ModelsBackend {
	case config.ModelsBackendRemote:
		rc := predictor.RemoteConfig{
			Name:           name,
			URL:            mc.URL,
			HealthURL:      mc.HealthURL,
			APIKey:         cfg.ModelAPIKey,
			Timeout:        cfg.ModelTimeout,
			RetryAttempts:  cfg.RetryAttempts,
			RetryBaseDelay: cfg.RetryBaseDelay,
			RetryMaxDelay:  cfg.RetryMaxDelay,
		}
		if cfg.CircuitBreakerEnabled {
			rc.Breaker = &predictor.BreakerConfig{
				FailureThreshold: cfg.CircuitBreakerFailureThreshold,
				Timeout:          cfg.CircuitBreakerTimeout,
				Interval:         cfg.CircuitBreakerInterval,
			}
		}
		m, err := predictor.NewRemoteModel(rc)
		if err != nil {
			return nil, err
		}
		p = m
	default:
		m, err := predictor.LoadCentroidFile(mc.Path)
		if err != nil {
			return nil, fmt.Errorf("%s model: %w", name, err)
		}
		if n := m.Name(); n != "" && !strings.EqualFold(n, name) {
			return nil, fmt.Errorf("%s model: %s declares name %q", name, mc.Path, n)
		}
		p = m
	}
	return predictor.Instrument(name, p), nil
}

// RegisterHealthChecks adds the city table and model checks (critical) and the memcached
// check (reported only) to eval.
func (a *App) RegisterHealthChecks(eval *health.Evaluator) {
	eval.AddCheck("cityTable", true, func(ctx context.Context) error {
		if a.Cities.Len() == 0 {
			return errors.New("city table is empty")
		}
		return nil
	})
	eval.AddCheck("cropModel", true, a.CropModel.Ping)
	eval.AddCheck("fertilizerModel", true, a.FertilizerModel.Ping)
	if a.memcached != nil {
		eval.AddCheck("cache", false, func(ctx context.Context) error {
			return a.memcached.Ping()
		})
	}
}

// RunCacheSweeper drops expired in-memory cache entries every interval until ctx ends.
// It returns immediately when the in-memory backend is not in use.
func (a *App) RunCacheSweeper(ctx context.Context, interval time.Duration) error {
	if a.memory == nil || interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			a.memory.Sweep()
		}
	}
}

// Close releases cache connections.
func (a *App) Close() error {
	if a.memcached != nil {
		return a.memcached.Close()
	}
	return nil
}
