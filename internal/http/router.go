package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/crop-advisory-service/internal/observability"
	"github.com/kjstillabower/crop-advisory-service/internal/traffic"
)

// RouterConfig configures the /predict route. A nil Limiter disables rate limiting.
type RouterConfig struct {
	Limiter        *rate.Limiter
	Tracker        *traffic.Tracker
	RequestTimeout time.Duration
}

// NewRouter mounts /predict, /health and /metrics. Correlation and metrics middleware wrap
// every route; rate limiting and the request deadline apply to /predict only.
func NewRouter(h *Handler, logger *zap.Logger, cfg RouterConfig) *mux.Router {
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)
	router.HandleFunc("/health", h.GetHealth).Methods("GET")
	router.Handle("/metrics", observability.MetricsHandler()).Methods("GET")

	var predict http.Handler = http.HandlerFunc(h.PostPredict)
	if cfg.RequestTimeout > 0 {
		predict = TimeoutMiddleware(cfg.RequestTimeout)(predict)
	}
	predict = RateLimitMiddleware(cfg.Limiter, cfg.Tracker)(predict)
	router.Handle("/predict", predict).Methods("POST")
	return router
}
