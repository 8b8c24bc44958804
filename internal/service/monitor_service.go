package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/exec"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/tradepipe/internal/scheduler"
)

// MonitorService exposes liveness/readiness HTTP endpoints and runs a
// best-effort NTP skew check (supplement: spec.md §6 names `monitor` as a
// CLI verb but places its internals out of core scope — see
// SPEC_FULL.md §6.4).
type MonitorService struct {
	log       zerolog.Logger
	router    *chi.Mux
	server    *http.Server
	scheduler *scheduler.Scheduler
}

// NewMonitorService wires the HTTP router and cron scheduler for the
// monitor process.
func NewMonitorService(log zerolog.Logger, port int) *MonitorService {
	s := &MonitorService{
		log:       log.With().Str("service", "monitor").Logger(),
		router:    chi.NewRouter(),
		scheduler: scheduler.New(log),
	}

	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET"},
	}))

	s.router.Get("/live", s.handleLive)
	s.router.Get("/ready", s.handleReady)
	s.router.Get("/metrics", s.handleMetrics)

	s.server = &http.Server{
		Addr:         addrFromPort(port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	return s
}

// Run starts the HTTP server and the NTP-skew cron job, blocking until ctx
// is canceled.
func (s *MonitorService) Run(ctx context.Context) {
	if err := s.scheduler.AddJob("0 */5 * * * *", ntpSkewJob{log: s.log}); err != nil {
		s.log.Error().Err(err).Msg("failed to register ntp skew job")
	}
	s.scheduler.Start()
	defer s.scheduler.Stop()

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error().Err(err).Msg("monitor http server failed")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		s.log.Error().Err(err).Msg("monitor http server shutdown failed")
	}
}

func (s *MonitorService) handleLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"status": "live"})
}

func (s *MonitorService) handleReady(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"status": "ready"})
}

// handleMetrics is a placeholder text response; wiring a real Prometheus
// exposition format is out of core scope (spec.md §1).
func (s *MonitorService) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("# metrics exposition not implemented in core\n"))
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func addrFromPort(port int) string {
	if port <= 0 {
		port = 8080
	}
	return fmt.Sprintf(":%d", port)
}

// ntpSkewJob runs `timedatectl status` and logs a warning if the system
// clock isn't reported synchronized, the same best-effort check
// original_source/src/trader/utils/time.py performs.
type ntpSkewJob struct {
	log zerolog.Logger
}

func (j ntpSkewJob) Name() string { return "ntp_skew_check" }

func (j ntpSkewJob) Run() error {
	out, err := exec.Command("timedatectl", "status").CombinedOutput()
	if err != nil {
		j.log.Warn().Err(err).Msg("ntp.timedatectl_missing")
		return nil
	}
	if !strings.Contains(string(out), "System clock synchronized: yes") {
		j.log.Warn().Str("output", string(out)).Msg("ntp.unsynchronized")
	}
	return nil
}
