package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/kjstillabower/crop-advisory-service/internal/cache"
	"github.com/kjstillabower/crop-advisory-service/internal/models"
	"github.com/kjstillabower/crop-advisory-service/internal/observability"
	"github.com/kjstillabower/crop-advisory-service/internal/pesticide"
	"github.com/kjstillabower/crop-advisory-service/internal/predictor"
)

// CityDirectory resolves farming eligibility for a city name.
type CityDirectory interface {
	Eligible(name string) (eligible bool, found bool)
}

// PesticideLookup resolves the pesticides recommended for a crop.
type PesticideLookup interface {
	Lookup(crop string) []string
}

// Options holds optional behaviour. The zero value disables caching and coalescing.
type Options struct {
	// Cache memoises model output per feature vector. Nil disables caching.
	Cache    cache.Cache
	CacheTTL time.Duration
	// CacheNamespace is prefixed to cache keys; change it when models change.
	CacheNamespace string
	// Coalesce shares one inference between concurrent identical requests.
	Coalesce bool
	// InferenceTimeout bounds a shared inference, which outlives any single caller's context.
	InferenceTimeout time.Duration
}

// PredictionService gates predictions on city eligibility and assembles the result from
// the crop model, fertilizer model and pesticide table. Safe for concurrent use.
type PredictionService struct {
	cities     CityDirectory
	crop       predictor.Predictor
	fertilizer predictor.Predictor
	pesticides PesticideLookup
	opts       Options
	group      *singleflight.Group
}

// NewPredictionService wires the service. All four collaborators are required.
func NewPredictionService(cities CityDirectory, crop, fertilizer predictor.Predictor, pesticides PesticideLookup, opts Options) (*PredictionService, error) {
	switch {
	case cities == nil:
		return nil, errors.New("prediction service: city directory is required")
	case crop == nil:
		return nil, errors.New("prediction service: crop predictor is required")
	case fertilizer == nil:
		return nil, errors.New("prediction service: fertilizer predictor is required")
	case pesticides == nil:
		return nil, errors.New("prediction service: pesticide table is required")
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 10 * time.Minute
	}
	if opts.InferenceTimeout <= 0 {
		opts.InferenceTimeout = 10 * time.Second
	}
	s := &PredictionService{
		cities:     cities,
		crop:       crop,
		fertilizer: fertilizer,
		pesticides: pesticides,
		opts:       opts,
	}
	if opts.Coalesce {
		s.group = &singleflight.Group{}
	}
	return s, nil
}

// Predict returns the recommendation for city under reading f.
// Unknown cities and cities whose farming status is not "Yes" get models.Ineligible()
// without touching the models. Model failures are returned as errors wrapping
// predictor.ErrModelUnavailable or predictor.ErrInvalidPrediction.
func (s *PredictionService) Predict(ctx context.Context, city string, f models.Features) (models.PredictionResult, error) {
	logger := observability.LoggerFromContext(ctx)
	start := time.Now()

	eligible, found := s.cities.Eligible(city)
	if !found {
		observability.RecordPrediction(observability.OutcomeUnknownCity, "")
		logger.Debug("city not in reference table", zap.String("city", city))
		return models.Ineligible(), nil
	}
	if !eligible {
		observability.RecordPrediction(observability.OutcomeIneligible, "")
		logger.Debug("city not eligible for farming", zap.String("city", city))
		return models.Ineligible(), nil
	}

	out, err := s.modelOutput(ctx, f)
	if err != nil {
		observability.RecordPrediction(observability.OutcomeError, "")
		return models.PredictionResult{}, fmt.Errorf("predict for %s: %w", city, err)
	}

	pesticides := s.pesticides.Lookup(out.Crop)
	if len(pesticides) == 0 {
		pesticides = append([]string(nil), pesticide.DefaultFallback...)
	}
	observability.RecordPrediction(observability.OutcomePredicted, out.Crop)
	logger.Debug("prediction served",
		zap.String("city", city),
		zap.String("crop", out.Crop),
		zap.String("fertilizer", out.Fertilizer),
		zap.Duration("duration", time.Since(start)))

	return models.PredictionResult{
		Crop:        out.Crop,
		Fertilizers: []string{out.Fertilizer},
		Pesticides:  pesticides,
	}, nil
}

// modelOutput is cache-aside around infer.
func (s *PredictionService) modelOutput(ctx context.Context, f models.Features) (models.ModelOutput, error) {
	key := s.cacheKey(f)
	logger := observability.LoggerFromContext(ctx)

	if s.opts.Cache != nil {
		cached, ok, err := s.opts.Cache.Get(ctx, key)
		switch {
		case err != nil:
			observability.CacheErrorsTotal.WithLabelValues("get", categorizeCacheError(err)).Inc()
			logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		case ok:
			observability.CacheHitsTotal.Inc()
			return cached, nil
		default:
			observability.CacheMissesTotal.Inc()
		}
	}

	out, err := s.inferShared(ctx, key, f)
	if err != nil {
		return models.ModelOutput{}, err
	}

	if s.opts.Cache != nil {
		if err := s.opts.Cache.Set(ctx, key, out, s.opts.CacheTTL); err != nil {
			observability.CacheErrorsTotal.WithLabelValues("set", categorizeCacheError(err)).Inc()
			logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
		}
	}
	return out, nil
}

// inferShared runs infer through the singleflight group when coalescing is on.
// The shared call is detached from the leader's cancellation; each caller still
// stops waiting when its own context ends.
func (s *PredictionService) inferShared(ctx context.Context, key string, f models.Features) (models.ModelOutput, error) {
	if s.group == nil {
		return s.infer(ctx, f)
	}
	ch := s.group.DoChan(key, func() (interface{}, error) {
		sharedCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.InferenceTimeout)
		defer cancel()
		return s.infer(sharedCtx, f)
	})
	select {
	case <-ctx.Done():
		return models.ModelOutput{}, fmt.Errorf("%w: %w", predictor.ErrModelUnavailable, ctx.Err())
	case res := <-ch:
		if res.Shared {
			observability.CoalescedInferencesTotal.Inc()
		}
		if res.Err != nil {
			return models.ModelOutput{}, res.Err
		}
		return res.Val.(models.ModelOutput), nil
	}
}

// infer calls both models concurrently; the first failure cancels the other call.
func (s *PredictionService) infer(ctx context.Context, f models.Features) (models.ModelOutput, error) {
	var out models.ModelOutput
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		crop, err := s.crop.Predict(gctx, f)
		if err != nil {
			return fmt.Errorf("crop model: %w", err)
		}
		out.Crop = crop
		return nil
	})
	g.Go(func() error {
		fert, err := s.fertilizer.Predict(gctx, f)
		if err != nil {
			return fmt.Errorf("fertilizer model: %w", err)
		}
		out.Fertilizer = fert
		return nil
	})
	if err := g.Wait(); err != nil {
		return models.ModelOutput{}, err
	}
	return out, nil
}

func (s *PredictionService) cacheKey(f models.Features) string {
	key := FeatureKey(f)
	if s.opts.CacheNamespace != "" {
		key = s.opts.CacheNamespace + ":" + key
	}
	return key
}

// FeatureKey renders f as a stable, memcached-safe key (no spaces or control characters).
func FeatureKey(f models.Features) string {
	parts := make([]string, 0, 3)
	for _, v := range f.Vector() {
		parts = append(parts, strconv.FormatFloat(v, 'g', -1, 64))
	}
	return strings.Join(parts, "|")
}

// categorizeCacheError returns a stable label for cache error metrics.
func categorizeCacheError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "timeout"):
		return "timeout"
	case strings.Contains(msg, "connection") || strings.Contains(msg, "network"):
		return "connection"
	default:
		return "unknown"
	}
}
