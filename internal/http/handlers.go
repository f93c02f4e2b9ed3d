package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/crop-advisory-service/internal/health"
	"github.com/kjstillabower/crop-advisory-service/internal/models"
	"github.com/kjstillabower/crop-advisory-service/internal/observability"
	"github.com/kjstillabower/crop-advisory-service/internal/predictor"
	"github.com/kjstillabower/crop-advisory-service/internal/traffic"
	"github.com/kjstillabower/crop-advisory-service/internal/validation"
)

// ServiceName is reported by /health.
const ServiceName = "crop-advisory-service"

// DefaultMaxBodyBytes bounds the /predict request body when Options.MaxBodyBytes is unset.
const DefaultMaxBodyBytes = 64 << 10

// Predictor is the prediction flow the handler serves.
type Predictor interface {
	Predict(ctx context.Context, city string, f models.Features) (models.PredictionResult, error)
}

// HealthEvaluator computes the current service status.
type HealthEvaluator interface {
	Evaluate(ctx context.Context) health.Report
}

// Options holds request limits and reporting metadata.
type Options struct {
	Version       string
	MaxBodyBytes  int64
	CityMinLength int
	CityMaxLength int
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	predictor Predictor
	evaluator HealthEvaluator
	tracker   *traffic.Tracker
	logger    *zap.Logger
	opts      Options

	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler. tracker may be nil to skip traffic accounting.
func NewHandler(p Predictor, evaluator HealthEvaluator, tracker *traffic.Tracker, logger *zap.Logger, opts Options) *Handler {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if opts.CityMinLength <= 0 {
		opts.CityMinLength = validation.DefaultCityMinLength
	}
	if opts.CityMaxLength <= 0 {
		opts.CityMaxLength = validation.DefaultCityMaxLength
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		predictor: p,
		evaluator: evaluator,
		tracker:   tracker,
		logger:    logger,
		opts:      opts,
	}
}

// predictRequest uses pointers so missing and null fields are distinguishable from zero.
type predictRequest struct {
	City        *string  `json:"city"`
	Temperature *float64 `json:"temperature"`
	Humidity    *float64 `json:"humidity"`
	Rainfall    *float64 `json:"rainfall"`
}

// PostPredict handles POST /predict.
func (h *Handler) PostPredict(w http.ResponseWriter, r *http.Request) {
	logger := observability.LoggerFromContext(r.Context())

	city, features, status, err := h.decodePredictRequest(w, r)
	if err != nil {
		logger.Debug("invalid predict request", zap.Error(err))
		h.record(traffic.OutcomeSuccess)
		if status == http.StatusRequestEntityTooLarge {
			writeError(w, r, status, "REQUEST_TOO_LARGE", err.Error())
			return
		}
		writeError(w, r, status, "INVALID_REQUEST", err.Error())
		return
	}

	result, err := h.predictor.Predict(r.Context(), city, features)
	if err != nil {
		h.record(traffic.OutcomeError)
		writeServiceError(w, r, err)
		return
	}
	h.record(traffic.OutcomeSuccess)
	writeJSON(w, http.StatusOK, result)
}

// decodePredictRequest parses and validates the body. On failure it returns the HTTP status
// to use and an error whose message is safe to return to the client.
func (h *Handler) decodePredictRequest(w http.ResponseWriter, r *http.Request) (string, models.Features, int, error) {
	body := http.MaxBytesReader(w, r.Body, h.opts.MaxBodyBytes)
	dec := json.NewDecoder(body)

	var req predictRequest
	if err := dec.Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		var typeErr *json.UnmarshalTypeError
		switch {
		case errors.As(err, &tooLarge):
			return "", models.Features{}, http.StatusRequestEntityTooLarge, errors.New("request body too large")
		case errors.As(err, &typeErr) && typeErr.Field != "":
			return "", models.Features{}, http.StatusBadRequest, errors.New(typeErr.Field + " has the wrong type")
		case errors.Is(err, io.EOF):
			return "", models.Features{}, http.StatusBadRequest, errors.New("request body is required")
		default:
			return "", models.Features{}, http.StatusBadRequest, errors.New("request body must be a JSON object")
		}
	}
	if err := dec.Decode(&json.RawMessage{}); !errors.Is(err, io.EOF) {
		return "", models.Features{}, http.StatusBadRequest, errors.New("request body must contain a single JSON object")
	}

	if req.City == nil {
		return "", models.Features{}, http.StatusBadRequest, errors.New("city is required")
	}
	for _, f := range []struct {
		name string
		v    *float64
	}{
		{"temperature", req.Temperature},
		{"humidity", req.Humidity},
		{"rainfall", req.Rainfall},
	} {
		if f.v == nil {
			return "", models.Features{}, http.StatusBadRequest, errors.New(f.name + " is required")
		}
	}

	city, err := validation.ValidateCity(*req.City, h.opts.CityMinLength, h.opts.CityMaxLength)
	if err != nil {
		return "", models.Features{}, http.StatusBadRequest, err
	}
	features := models.Features{
		Temperature: *req.Temperature,
		Humidity:    *req.Humidity,
		Rainfall:    *req.Rainfall,
	}
	if err := validation.ValidateFeatures(features); err != nil {
		return "", models.Features{}, http.StatusBadRequest, err
	}
	return city, features, http.StatusOK, nil
}

func (h *Handler) record(o traffic.Outcome) {
	if h.tracker != nil {
		h.tracker.Record(o)
	}
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	report := health.Report{Status: health.StatusHealthy, HTTPCode: http.StatusOK}
	if h.evaluator != nil {
		report = h.evaluator.Evaluate(r.Context())
	} else if health.IsShuttingDown() {
		report = health.Report{Status: health.StatusShuttingDown, HTTPCode: http.StatusServiceUnavailable, Reason: "signal"}
	}

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != report.Status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", report.Status),
			zap.String("reason", report.Reason))
	}
	h.healthStatusPrev = report.Status
	h.healthStatusMu.Unlock()

	checks := report.Checks
	if checks == nil {
		checks = map[string]string{}
	}
	writeJSON(w, report.HTTPCode, map[string]interface{}{
		"status":    report.Status,
		"service":   ServiceName,
		"version":   h.opts.Version,
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the standard error format with code, message,
// and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": observability.CorrelationID(r.Context()),
		},
	})
}

// writeServiceError maps prediction failures to 500 PREDICTION_FAILED or 503 MODEL_UNAVAILABLE.
// The underlying error is logged, never returned to the client.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	logger := observability.LoggerFromContext(r.Context())
	if errors.Is(err, predictor.ErrInvalidPrediction) {
		logger.Warn("model returned an invalid prediction", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "PREDICTION_FAILED", "Prediction failed")
		return
	}
	logger.Warn("model unavailable", zap.Error(err), zap.String("category", string(predictor.Categorize(err))))
	writeError(w, r, http.StatusServiceUnavailable, "MODEL_UNAVAILABLE", "Prediction model unavailable")
}
