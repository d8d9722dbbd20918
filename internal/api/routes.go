package api

import (
	"net/http"

	"batchbridge/internal/observability"
)

// RouterConfig holds dependencies for building the router.
type RouterConfig struct {
	Handler *Handler
	Metrics *observability.Metrics
	APIKey  string
}

// NewRouter builds the HTTP routing for the jobs API.
func NewRouter(cfg RouterConfig) http.Handler {
	mux := http.NewServeMux()

	auth := AuthMiddleware(cfg.APIKey)

	// Job API (authenticated when a key is configured)
	mux.Handle("POST /v1/jobs", auth(http.HandlerFunc(cfg.Handler.SubmitJob)))
	mux.Handle("GET /v1/jobs", auth(http.HandlerFunc(cfg.Handler.ListJobs)))
	mux.Handle("GET /v1/jobs/{jobId}", auth(http.HandlerFunc(cfg.Handler.GetJob)))
	mux.Handle("POST /v1/jobs/{jobId}/poll", auth(http.HandlerFunc(cfg.Handler.PollJob)))
	mux.Handle("DELETE /v1/jobs/{jobId}", auth(http.HandlerFunc(cfg.Handler.DeleteJob)))

	// Health endpoints (unauthenticated, for orchestration probes)
	mux.HandleFunc("GET /livez", cfg.Handler.Livez)
	mux.HandleFunc("GET /readyz", cfg.Handler.Readyz)

	// Middleware chain: recovery outermost, then logging, metrics, CORS,
	// content-type validation.
	var handler http.Handler = mux
	handler = ContentTypeMiddleware(handler)
	handler = CORSMiddleware(handler)
	handler = MetricsMiddleware(cfg.Metrics)(handler)
	handler = LoggingMiddleware(handler)
	handler = RecoveryMiddleware(handler)

	return handler
}
