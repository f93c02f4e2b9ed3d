package predictor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/kjstillabower/crop-advisory-service/internal/models"
	"github.com/kjstillabower/crop-advisory-service/internal/observability"
)

const maxResponseBytes = 1 << 20

var (
	errRateLimited = errors.New("rate limited")
	errUpstream5xx = errors.New("upstream server error")
	errUpstream4xx = errors.New("upstream rejected request")
)

// RemoteConfig configures a RemoteModel.
type RemoteConfig struct {
	// Name labels metrics and the circuit breaker ("crop", "fertilizer").
	Name string
	// URL receives POST {"instances":[[t,h,r]]} and answers {"predictions":["label"]}.
	URL string
	// HealthURL is probed with GET by Ping. Empty disables the probe.
	HealthURL string
	APIKey    string
	Timeout   time.Duration

	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	// Breaker enables a circuit breaker around each call when non-nil.
	Breaker *BreakerConfig

	HTTPClient *http.Client
}

// BreakerConfig configures the circuit breaker.
type BreakerConfig struct {
	// FailureThreshold consecutive failures open the breaker.
	FailureThreshold int
	// Timeout is how long the breaker stays open before a half-open probe.
	Timeout time.Duration
	// Interval clears closed-state counts periodically; 0 never clears.
	Interval time.Duration
}

// RemoteModel calls a model server over HTTP. Safe for concurrent use.
type RemoteModel struct {
	cfg     RemoteConfig
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

type predictRequest struct {
	Instances [][]float64 `json:"instances"`
}

type predictResponse struct {
	Predictions []json.RawMessage `json:"predictions"`
}

// NewRemoteModel validates cfg and returns a RemoteModel.
func NewRemoteModel(cfg RemoteConfig) (*RemoteModel, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("%s model: url is required", cfg.Name)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 1
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 100 * time.Millisecond
	}
	if cfg.RetryMaxDelay < cfg.RetryBaseDelay {
		cfg.RetryMaxDelay = cfg.RetryBaseDelay
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	m := &RemoteModel{cfg: cfg, client: client}
	if cfg.Breaker != nil {
		m.breaker = newBreaker(cfg.Name+"_model", *cfg.Breaker)
		observability.CircuitBreakerState.WithLabelValues(cfg.Name + "_model").Set(0)
	}
	return m, nil
}

func newBreaker(name string, bc BreakerConfig) *gobreaker.CircuitBreaker {
	fails := bc.FailureThreshold
	if fails <= 0 {
		fails = 5
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     name,
		Interval: bc.Interval,
		Timeout:  bc.Timeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= uint32(fails)
		},
		// A malformed answer means the model is up; it must not trip the breaker.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrInvalidPrediction)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			observability.RecordCircuitBreakerTransition(name, from.String(), to.String())
		},
	})
}

// Predict implements Predictor. Retryable failures (timeouts, network, 429, 5xx) are
// retried with exponential backoff; every returned error wraps ErrModelUnavailable or
// ErrInvalidPrediction.
func (m *RemoteModel) Predict(ctx context.Context, f models.Features) (string, error) {
	var label string
	attempt := 0
	op := func() error {
		if attempt > 0 {
			observability.ModelRetriesTotal.WithLabelValues(m.cfg.Name).Inc()
		}
		attempt++
		l, err := m.callThroughBreaker(ctx, f)
		if err != nil {
			if !isRetryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		label = l
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = m.cfg.RetryBaseDelay
	bo.MaxInterval = m.cfg.RetryMaxDelay
	bo.RandomizationFactor = 0.1
	bo.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(m.cfg.RetryAttempts-1)), ctx)

	if err := backoff.Retry(op, policy); err != nil {
		if errors.Is(err, ErrInvalidPrediction) || errors.Is(err, ErrModelUnavailable) {
			return "", err
		}
		return "", fmt.Errorf("%w: %s model: %w", ErrModelUnavailable, m.cfg.Name, err)
	}
	return label, nil
}

func (m *RemoteModel) callThroughBreaker(ctx context.Context, f models.Features) (string, error) {
	if m.breaker == nil {
		return m.call(ctx, f)
	}
	res, err := m.breaker.Execute(func() (interface{}, error) {
		return m.call(ctx, f)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", fmt.Errorf("%w: %s model: %w", ErrModelUnavailable, m.cfg.Name, err)
		}
		return "", err
	}
	return res.(string), nil
}

func (m *RemoteModel) call(ctx context.Context, f models.Features) (string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	body, err := json.Marshal(predictRequest{Instances: [][]float64{f.Vector()}})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, m.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: build request: %w", ErrModelUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if corrID := observability.CorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}
	if m.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+m.cfg.APIKey)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%s model request: %w", m.cfg.Name, err)
	}
	defer resp.Body.Close()

	if err := statusError(resp.StatusCode); err != nil {
		return "", err
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("read %s model response: %w", m.cfg.Name, err)
	}
	return decodeLabel(raw)
}

func statusError(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %w", ErrModelUnavailable, errRateLimited)
	case code == http.StatusRequestTimeout || code >= 500:
		return fmt.Errorf("%w: %w: HTTP %d", ErrModelUnavailable, errUpstream5xx, code)
	default:
		return fmt.Errorf("%w: %w: HTTP %d", ErrModelUnavailable, errUpstream4xx, code)
	}
}

// decodeLabel enforces the response contract: exactly one prediction, and it is a string.
func decodeLabel(raw []byte) (string, error) {
	var resp predictResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("%w: parse response: %v", ErrInvalidPrediction, err)
	}
	if len(resp.Predictions) != 1 {
		return "", fmt.Errorf("%w: want 1 prediction, got %d", ErrInvalidPrediction, len(resp.Predictions))
	}
	var label string
	if err := json.Unmarshal(resp.Predictions[0], &label); err != nil {
		return "", fmt.Errorf("%w: prediction is not a string: %s", ErrInvalidPrediction, resp.Predictions[0])
	}
	return label, nil
}

func isRetryable(err error) bool {
	if errors.Is(err, ErrInvalidPrediction) || errors.Is(err, errUpstream4xx) {
		return false
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return true
}

// Ping probes HealthURL. Returns nil when no health URL is configured.
func (m *RemoteModel) Ping(ctx context.Context) error {
	if m.cfg.HealthURL == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.cfg.HealthURL, nil)
	if err != nil {
		return fmt.Errorf("build health request: %w", err)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s model health: %w", ErrModelUnavailable, m.cfg.Name, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: %s model health: HTTP %d", ErrModelUnavailable, m.cfg.Name, resp.StatusCode)
	}
	return nil
}
