// Package server exposes the job triggers, the payment webhook and health
// endpoints over HTTP.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smith3v/wa-word-reminder/pkg/jobs"
	"github.com/smith3v/wa-word-reminder/pkg/logger"
	"github.com/smith3v/wa-word-reminder/pkg/outbox"
	"github.com/smith3v/wa-word-reminder/pkg/scheduler"
)

const shutdownTimeout = 10 * time.Second

type Config struct {
	Addr              string
	CronSecret        string
	WebhookSecret     string
	RateLimitRequests int
	RateLimitWindow   time.Duration
}

type ScheduleJob interface {
	Run(ctx context.Context) (*scheduler.Summary, error)
}

type ProcessJob interface {
	Run(ctx context.Context) (*outbox.Summary, error)
}

type Deps struct {
	Runner        *jobs.Runner
	Scheduler     ScheduleJob
	Processor     ProcessJob
	Subscriptions Lifecycle
	Ping          func(ctx context.Context) error
}

type Server struct {
	cfg  Config
	deps Deps
}

func New(cfg Config, deps Deps) *Server {
	if cfg.RateLimitRequests <= 0 {
		cfg.RateLimitRequests = 60
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}
	if deps.Runner == nil {
		deps.Runner = jobs.NewRunner(nil, 0)
	}
	return &Server{cfg: cfg, deps: deps}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/jobs", func(r chi.Router) {
		r.Use(httprate.LimitByIP(s.cfg.RateLimitRequests, s.cfg.RateLimitWindow))
		r.Use(bearerAuth(s.cfg.CronSecret))
		r.Post("/schedule", s.handleSchedule)
		r.Post("/process", s.handleProcess)
	})

	r.Route("/webhooks", func(r chi.Router) {
		r.Use(httprate.LimitByIP(s.cfg.RateLimitRequests, s.cfg.RateLimitWindow))
		r.Post("/payments", s.handlePayment)
	})

	return r
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s.cfg.CronSecret == "" {
		logger.Warn("cron secret is empty, job endpoints are unauthenticated")
	}
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("http server stopped")
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ping != nil {
		if err := s.deps.Ping(r.Context()); err != nil {
			logger.Warn("health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	var summary *scheduler.Summary
	err := s.deps.Runner.Run(r.Context(), jobs.JobSchedule, func(ctx context.Context) error {
		var err error
		summary, err = s.deps.Scheduler.Run(ctx)
		return err
	})
	s.writeJobResult(w, summary, err)
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	var summary *outbox.Summary
	err := s.deps.Runner.Run(r.Context(), jobs.JobProcess, func(ctx context.Context) error {
		var err error
		summary, err = s.deps.Processor.Run(ctx)
		return err
	})
	s.writeJobResult(w, summary, err)
}

func (s *Server) writeJobResult(w http.ResponseWriter, summary any, err error) {
	switch {
	case errors.Is(err, jobs.ErrAlreadyRunning):
		writeError(w, http.StatusConflict, err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
	default:
		writeJSON(w, http.StatusOK, summary)
	}
}

func bearerAuth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret != "" {
				token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
				if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
					writeError(w, http.StatusUnauthorized, errors.New("unauthorized"))
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", chimiddleware.GetReqID(r.Context()),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
