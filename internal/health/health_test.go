package health

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/kjstillabower/crop-advisory-service/internal/traffic"
)

func TestEvaluate_Healthy(t *testing.T) {
	SetShuttingDown(false)
	e := NewEvaluator(Config{}, traffic.NewTracker(0))
	e.AddCheck("cityTable", true, func(context.Context) error { return nil })

	r := e.Evaluate(context.Background())
	if r.Status != StatusHealthy || r.HTTPCode != http.StatusOK {
		t.Fatalf("Evaluate() = %+v, want healthy/200", r)
	}
	if r.Checks["cityTable"] != "healthy" {
		t.Errorf("checks[cityTable] = %q, want healthy", r.Checks["cityTable"])
	}
}

func TestEvaluate_ShuttingDownWins(t *testing.T) {
	SetShuttingDown(true)
	defer SetShuttingDown(false)
	e := NewEvaluator(Config{}, traffic.NewTracker(0))
	e.AddCheck("cropModel", true, func(context.Context) error { return errors.New("down") })

	r := e.Evaluate(context.Background())
	if r.Status != StatusShuttingDown || r.HTTPCode != http.StatusServiceUnavailable {
		t.Fatalf("Evaluate() = %+v, want shutting-down/503", r)
	}
}

func TestEvaluate_CriticalCheckFailure(t *testing.T) {
	SetShuttingDown(false)
	e := NewEvaluator(Config{}, traffic.NewTracker(0))
	e.AddCheck("cropModel", true, func(context.Context) error { return errors.New("connection refused") })
	e.AddCheck("cache", false, func(context.Context) error { return errors.New("timeout") })

	r := e.Evaluate(context.Background())
	if r.Status != StatusDegraded {
		t.Fatalf("Status = %q, want degraded", r.Status)
	}
	if r.Reason != "cropModel_unhealthy" {
		t.Errorf("Reason = %q, want cropModel_unhealthy", r.Reason)
	}
	if r.Checks["cache"] != "unhealthy" {
		t.Errorf("checks[cache] = %q, want unhealthy", r.Checks["cache"])
	}
}

func TestEvaluate_NonCriticalFailureStaysHealthy(t *testing.T) {
	SetShuttingDown(false)
	e := NewEvaluator(Config{}, traffic.NewTracker(0))
	e.AddCheck("cache", false, func(context.Context) error { return errors.New("timeout") })

	if r := e.Evaluate(context.Background()); r.Status != StatusHealthy {
		t.Fatalf("Status = %q, want healthy", r.Status)
	}
}

func TestEvaluate_Overloaded(t *testing.T) {
	SetShuttingDown(false)
	tr := traffic.NewTracker(0)
	tr.RecordN(traffic.OutcomeDenied, 11)
	e := NewEvaluator(Config{OverloadWindow: 10 * time.Second, OverloadThresholdPct: 100, RateLimitRPS: 1}, tr)

	r := e.Evaluate(context.Background())
	if r.Status != StatusOverloaded {
		t.Fatalf("Status = %q, want overloaded", r.Status)
	}
}

func TestEvaluate_Idle(t *testing.T) {
	SetShuttingDown(false)
	tr := traffic.NewTracker(0)
	tr.Record(traffic.OutcomeSuccess)
	e := NewEvaluator(Config{
		IdleWindow:             time.Minute,
		IdleThresholdReqPerMin: 5,
		StartTime:              time.Now().Add(-time.Hour),
		MinimumLifespan:        time.Minute,
	}, tr)

	r := e.Evaluate(context.Background())
	if r.Status != StatusIdle || r.HTTPCode != http.StatusOK {
		t.Fatalf("Evaluate() = %+v, want idle/200", r)
	}
}

func TestEvaluate_IdleSuppressedDuringMinimumLifespan(t *testing.T) {
	SetShuttingDown(false)
	e := NewEvaluator(Config{
		IdleWindow:             time.Minute,
		IdleThresholdReqPerMin: 5,
		StartTime:              time.Now(),
		MinimumLifespan:        time.Hour,
	}, traffic.NewTracker(0))

	if r := e.Evaluate(context.Background()); r.Status != StatusHealthy {
		t.Fatalf("Status = %q, want healthy", r.Status)
	}
}

func TestEvaluate_ErrorRateDegraded(t *testing.T) {
	SetShuttingDown(false)
	tr := traffic.NewTracker(0)
	tr.RecordN(traffic.OutcomeSuccess, 9)
	tr.Record(traffic.OutcomeError)
	e := NewEvaluator(Config{DegradedWindow: time.Minute, DegradedErrorPct: 10}, tr)

	r := e.Evaluate(context.Background())
	if r.Status != StatusDegraded || r.Reason != "error_rate_breach" {
		t.Fatalf("Evaluate() = %+v, want degraded/error_rate_breach", r)
	}
}
