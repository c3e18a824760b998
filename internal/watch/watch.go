package watch

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/psantana5/velero-watchdog/internal/logging"
	"github.com/psantana5/velero-watchdog/internal/metrics"
	"github.com/psantana5/velero-watchdog/internal/reconcile"
)

// Runner performs one reconciliation pass
type Runner interface {
	Run(ctx context.Context) (*reconcile.Summary, error)
}

// Config configures the watch service
type Config struct {
	Interval    time.Duration
	Listen      string // empty disables the HTTP endpoint
	MetricsFile string // empty disables the textfile export
}

// Service runs reconciliation passes on a fixed interval and exposes
// Prometheus metrics and a health endpoint while doing so
type Service struct {
	cfg       Config
	runner    Runner
	collector *metrics.Collector
	log       *logging.Logger

	mu       sync.RWMutex
	lastPass time.Time
	lastErr  string
}

// NewService creates a watch service
func NewService(cfg Config, runner Runner, collector *metrics.Collector, log *logging.Logger) *Service {
	return &Service{
		cfg:       cfg,
		runner:    runner,
		collector: collector,
		log:       log,
	}
}

// Start runs passes until the context is cancelled. The first pass runs
// immediately, then one per interval.
func (s *Service) Start(ctx context.Context) error {
	var srv *http.Server
	if s.cfg.Listen != "" {
		srv = &http.Server{
			Addr:         s.cfg.Listen,
			Handler:      s.routes(),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
		go func() {
			s.log.Info("Metrics endpoint listening", map[string]interface{}{"addr": s.cfg.Listen})
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				s.log.Error("Metrics endpoint failed", map[string]interface{}{"error": err.Error()})
			}
		}()
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.pass(ctx)

	for {
		select {
		case <-ctx.Done():
			if srv != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}
			return ctx.Err()
		case <-ticker.C:
			s.pass(ctx)
		}
	}
}

func (s *Service) pass(ctx context.Context) {
	summary, err := s.runner.Run(ctx)

	s.mu.Lock()
	s.lastPass = time.Now()
	if err != nil {
		s.lastErr = err.Error()
	} else {
		s.lastErr = ""
	}
	s.mu.Unlock()

	if err != nil {
		s.log.Error("Reconciliation pass failed", map[string]interface{}{"error": err.Error()})
		s.collector.ObserveError()
		return
	}

	s.collector.Observe(summary)

	if s.cfg.MetricsFile != "" {
		if err := s.collector.WriteTextfile(s.cfg.MetricsFile); err != nil {
			s.log.Warn("Failed to export metrics file", map[string]interface{}{"error": err.Error()})
		}
	}
}

func (s *Service) routes() http.Handler {
	router := mux.NewRouter()
	router.Handle("/metrics", s.collector.Handler()).Methods("GET")
	router.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	return router
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	lastPass := s.lastPass
	lastErr := s.lastErr
	s.mu.RUnlock()

	status := "ok"
	code := http.StatusOK
	if lastErr != "" {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    status,
		"last_pass": lastPass.Format(time.RFC3339),
		"error":     lastErr,
	})
}
