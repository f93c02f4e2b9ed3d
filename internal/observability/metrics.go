package observability

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kjstillabower/crop-advisory-service/internal/traffic"
)

// Prediction outcome labels.
const (
	OutcomePredicted   = "predicted"
	OutcomeIneligible  = "ineligible"
	OutcomeUnknownCity = "unknown_city"
	OutcomeError       = "error"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes.
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency. Watch for: p99 approaching request timeout.
	HTTPRequestDuration *prometheus.HistogramVec

	HTTPRequestsInFlight prometheus.Gauge

	// Model invocations by model (crop, fertilizer) and status.
	ModelCallsTotal *prometheus.CounterVec

	// Model latency. Remote backends: watch p95 against models.timeout.
	ModelCallDuration *prometheus.HistogramVec

	ModelRetriesTotal *prometheus.CounterVec

	// Circuit breaker state per model: 0 closed, 1 half-open, 2 open.
	CircuitBreakerState *prometheus.GaugeVec

	CircuitBreakerTransitionsTotal *prometheus.CounterVec

	// Prediction cache. Hit rate = hits/(hits+misses).
	CacheHitsTotal   prometheus.Counter
	CacheMissesTotal prometheus.Counter
	CacheErrorsTotal *prometheus.CounterVec

	// Inferences answered by an identical in-flight call.
	CoalescedInferencesTotal prometheus.Counter

	// Predictions by outcome: predicted, ineligible, unknown_city, error.
	PredictionsTotal *prometheus.CounterVec

	// Predicted crops (allow-list; others go to "other").
	PredictionsByCropTotal *prometheus.CounterVec

	CityTableRecords prometheus.Gauge

	RateLimitDeniedTotal prometheus.Counter

	trackedCropsMu sync.RWMutex
	trackedCrops   map[string]struct{}

	rateLimitGaugesOnce sync.Once
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	ModelCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelCallsTotal",
			Help: "Total number of model invocations",
		},
		[]string{"model", "status"},
	)
	ModelCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "modelCallDurationSeconds",
			Help:    "Model invocation latency in seconds",
			Buckets: []float64{.001, .005, .025, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"model", "status"},
	)
	ModelRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelRetriesTotal",
			Help: "Total number of retried remote model calls",
		},
		[]string{"model"},
	)
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuitBreakerState",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"component"},
	)
	CircuitBreakerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuitBreakerTransitionsTotal",
			Help: "Circuit breaker state transitions",
		},
		[]string{"component", "from", "to"},
	)
	CacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheHitsTotal",
			Help: "Prediction cache hits",
		},
	)
	CacheMissesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheMissesTotal",
			Help: "Prediction cache misses",
		},
	)
	CacheErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheErrorsTotal",
			Help: "Prediction cache errors by operation and category",
		},
		[]string{"operation", "category"},
	)
	CoalescedInferencesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "coalescedInferencesTotal",
			Help: "Inferences served by an identical in-flight call",
		},
	)
	PredictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "predictionsTotal",
			Help: "Prediction requests by outcome",
		},
		[]string{"outcome"},
	)
	PredictionsByCropTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "predictionsByCropTotal",
			Help: "Predicted crops (allow-list; others use crop=other)",
		},
		[]string{"crop"},
	)
	CityTableRecords = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cityTableRecords",
			Help: "Number of cities loaded into the reference table",
		},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		ModelCallsTotal, ModelCallDuration, ModelRetriesTotal,
		CircuitBreakerState, CircuitBreakerTransitionsTotal,
		CacheHitsTotal, CacheMissesTotal, CacheErrorsTotal,
		CoalescedInferencesTotal,
		PredictionsTotal, PredictionsByCropTotal,
		CityTableRecords,
		RateLimitDeniedTotal,
	)
}

// RegisterRateLimitGauges exposes request and rejection counts over window from tracker.
// Only the first call registers.
func RegisterRateLimitGauges(tracker *traffic.Tracker, window time.Duration) {
	rateLimitGaugesOnce.Do(func() {
		registry.MustRegister(
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "rateLimitRequestsInWindow",
					Help: "Requests on the rate-limited path in the sliding window",
				},
				func() float64 { return float64(tracker.RequestCount(window)) },
			),
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "rateLimitRejectsInWindow",
					Help: "429 responses in the sliding window",
				},
				func() float64 { return float64(tracker.Count(traffic.OutcomeDenied, window)) },
			),
		)
	})
}

// SetTrackedCrops sets the allow-list for the per-crop counter.
func SetTrackedCrops(crops []string) {
	trackedCropsMu.Lock()
	defer trackedCropsMu.Unlock()
	trackedCrops = make(map[string]struct{}, len(crops))
	for _, c := range crops {
		trackedCrops[normalizeLabel(c)] = struct{}{}
	}
}

// RecordPrediction records a prediction outcome; crop is only used for OutcomePredicted.
func RecordPrediction(outcome, crop string) {
	PredictionsTotal.WithLabelValues(outcome).Inc()
	if outcome != OutcomePredicted {
		return
	}
	PredictionsByCropTotal.WithLabelValues(cropLabel(crop)).Inc()
}

func cropLabel(crop string) string {
	c := normalizeLabel(crop)
	trackedCropsMu.RLock()
	_, ok := trackedCrops[c]
	trackedCropsMu.RUnlock()
	if ok {
		return c
	}
	return "other"
}

// RecordCircuitBreakerTransition records a state change and updates the state gauge.
// States use gobreaker's names: "closed", "half-open", "open".
func RecordCircuitBreakerTransition(component, from, to string) {
	CircuitBreakerTransitionsTotal.WithLabelValues(component, from, to).Inc()
	CircuitBreakerState.WithLabelValues(component).Set(circuitBreakerStateValue(to))
}

func circuitBreakerStateValue(state string) float64 {
	switch state {
	case "half-open":
		return 1
	case "open":
		return 2
	default:
		return 0
	}
}

func normalizeLabel(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// MetricsHandler serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
