package predictor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kjstillabower/crop-advisory-service/internal/models"
	"github.com/kjstillabower/crop-advisory-service/internal/observability"
)

var (
	// ErrModelUnavailable covers transport failures, timeouts, 4xx/5xx responses and an open breaker.
	ErrModelUnavailable = errors.New("model unavailable")
	// ErrInvalidPrediction is returned when a model answers with anything other than one non-empty string label.
	ErrInvalidPrediction = errors.New("invalid prediction")
)

// Predictor maps a weather reading to a single label. Implementations must be safe for concurrent use.
type Predictor interface {
	Predict(ctx context.Context, f models.Features) (string, error)
}

// Pinger is implemented by predictors whose backing service can be probed for health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Func adapts a function to Predictor.
type Func func(ctx context.Context, f models.Features) (string, error)

// Predict calls fn.
func (fn Func) Predict(ctx context.Context, f models.Features) (string, error) {
	return fn(ctx, f)
}

// Instrumented wraps a Predictor with metrics and the output contract: the label is
// trimmed and must be non-empty.
type Instrumented struct {
	name string
	next Predictor
}

// Instrument wraps p. name labels metrics ("crop", "fertilizer").
func Instrument(name string, p Predictor) *Instrumented {
	return &Instrumented{name: name, next: p}
}

// Name returns the metrics label.
func (i *Instrumented) Name() string {
	return i.name
}

// Predict implements Predictor.
func (i *Instrumented) Predict(ctx context.Context, f models.Features) (string, error) {
	start := time.Now()
	label, err := i.next.Predict(ctx, f)
	if err == nil {
		label = strings.TrimSpace(label)
		if label == "" {
			err = fmt.Errorf("%w: %s model returned an empty label", ErrInvalidPrediction, i.name)
		}
	}
	status := "success"
	if err != nil {
		status = string(Categorize(err))
	}
	observability.ModelCallsTotal.WithLabelValues(i.name, status).Inc()
	observability.ModelCallDuration.WithLabelValues(i.name, status).Observe(time.Since(start).Seconds())
	if err != nil {
		return "", err
	}
	return label, nil
}

// Ping forwards to the wrapped predictor when it supports health probes.
func (i *Instrumented) Ping(ctx context.Context) error {
	if p, ok := i.next.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}
