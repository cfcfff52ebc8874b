package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/nikhilbhutani/financial-analyzer/internal/api/handlers"
	"github.com/nikhilbhutani/financial-analyzer/internal/api/middleware"
	"github.com/nikhilbhutani/financial-analyzer/internal/config"
)

type Router struct {
	mux     *chi.Mux
	cfg     config.ServerConfig
	svc     handlers.AnalysisService
	checks  map[string]handlers.Check
	limiter *middleware.RateLimiter
}

func NewRouter(cfg config.ServerConfig, svc handlers.AnalysisService, checks map[string]handlers.Check) *Router {
	return &Router{
		mux:    chi.NewRouter(),
		cfg:    cfg,
		svc:    svc,
		checks: checks,
	}
}

func (rt *Router) Setup() http.Handler {
	r := rt.mux

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS([]string{"*"}))

	if rt.cfg.RateLimitRPS > 0 {
		rt.limiter = middleware.NewRateLimiter(rt.cfg.RateLimitRPS, max(rt.cfg.RateLimitBurst, 1))
		r.Use(rt.limiter.Limit)
	}

	health := handlers.NewHealthHandler(rt.checks)
	r.Get("/healthz", health.Healthz)
	r.Get("/readyz", health.Readyz)

	h := handlers.NewAnalysisHandler(rt.svc, rt.cfg.MaxUploadBytes)
	r.Get("/", h.Root)
	r.Post("/analyze", h.Analyze)
	r.Post("/analyze/async", h.AnalyzeAsync)
	r.Get("/status/{job_id}", h.Status)
	r.Get("/results", h.List)
	r.Get("/results/{job_id}", h.Result)

	return r
}

// Close stops background work started by Setup.
func (rt *Router) Close() {
	if rt.limiter != nil {
		rt.limiter.Stop()
	}
}
