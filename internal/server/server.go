// Package server is the thin HTTP surface over the core: it maps routes
// to endpoint names, endpoint errors to status codes, and serves the
// observability endpoints. No aggregation logic lives here.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/wurstmineberg/api/internal/health"
	"github.com/wurstmineberg/api/internal/logging"
	"github.com/wurstmineberg/api/internal/response"
)

// Config holds server configuration
type Config struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	RateLimit    float64 // requests per second across all clients, 0 disables
	RateBurst    int

	Builder  *response.Builder
	Registry *prometheus.Registry
	Health   *health.Checker
	Logger   *logging.Logger
}

// Server serves the read-only JSON API
type Server struct {
	server  *http.Server
	builder *response.Builder
	logger  *logging.Logger
}

// New creates a new server
func New(cfg Config) *Server {
	s := &Server{
		builder: cfg.Builder,
		logger:  cfg.Logger.WithComponent("server"),
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = int(cfg.RateLimit)
		}
		r.Use(rateLimiter(rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)))
	}

	r.Route("/v2", func(r chi.Router) {
		r.Get("/people.json", s.endpoint("people", nil))
		r.Get("/player/{player}/info.json", s.endpoint("player_info", pathParams("player")))
		r.Get("/server/players.json", s.endpoint("server_players", nil))
		r.Get("/server/worlds.json", s.endpoint("server_worlds", nil))
		r.Get("/server/sessions/lastseen.json", s.endpoint("world_sessions_lastseen", nil))

		r.Route("/world/{world}", func(r chi.Router) {
			params := pathParams("world")
			r.Get("/status.json", s.endpoint("world_status", params))
			r.Get("/sessions/lastseen.json", s.endpoint("world_sessions_lastseen", params))
			r.Get("/sessions/overview.json", s.endpoint("world_sessions_overview", params))
			r.Get("/deaths/latest.json", s.endpoint("world_deaths_latest", params))
			r.Get("/deaths/overview.json", s.endpoint("world_deaths_overview", params))
			r.Get("/playtime.json", s.endpoint("world_playtime", params))
			r.Get("/achievements/scoreboard.json", s.endpoint("world_achievements_scoreboard", params))
			r.Get("/achievements/winners.json", s.endpoint("world_achievements_winners", params))
		})
	})

	if cfg.Registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(
			cfg.Registry,
			promhttp.HandlerOpts{EnableOpenMetrics: true},
		))
	}
	if cfg.Health != nil {
		r.Get("/healthz", health.LivenessHandler())
		r.Get("/readyz", cfg.Health.Handler())
	}

	s.server = &http.Server{
		Addr:         cfg.Address,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// pathParams extracts the named chi URL parameters into endpoint params
func pathParams(names ...string) func(*http.Request) response.Params {
	return func(r *http.Request) response.Params {
		params := make(response.Params, len(names))
		for _, name := range names {
			params[name] = chi.URLParam(r, name)
		}
		return params
	}
}

func (s *Server) endpoint(name string, params func(*http.Request) response.Params) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var p response.Params
		if params != nil {
			p = params(r)
		}

		data, err := s.builder.GetEndpointData(r.Context(), name, p)
		switch {
		case errors.Is(err, response.ErrNotFound):
			http.Error(w, "not found", http.StatusNotFound)
			return
		case errors.Is(err, response.ErrUnavailable):
			http.Error(w, "service unavailable", http.StatusServiceUnavailable)
			return
		case err != nil:
			s.logger.Error().Err(err).Str("endpoint", name).Msg("Endpoint failed")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(data); err != nil {
			s.logger.Error().Err(err).Str("endpoint", name).Msg("Failed to encode response")
		}
	}
}

func rateLimiter(limiter *rate.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				http.Error(w, "too many requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Start starts serving in the background
func (s *Server) Start() {
	go func() {
		s.logger.Info().Str("address", s.server.Addr).Msg("HTTP server listening")
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("HTTP server failed")
		}
	}()
}

// Stop gracefully shuts the server down
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
