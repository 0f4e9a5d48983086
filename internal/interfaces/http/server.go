package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/crml-dev/crmlrun/internal/persistence"
)

// Server is the engine monitoring HTTP server.
type Server struct {
	router  *mux.Router
	metrics *Metrics
	hub     *ProgressHub
	results persistence.ResultsRepo

	httpServer *http.Server
}

// NewServer wires the monitoring routes. results may be nil when no result
// store is configured; the result endpoints then answer 404.
func NewServer(listen string, metrics *Metrics, hub *ProgressHub, results persistence.ResultsRepo) *Server {
	s := &Server{
		router:  mux.NewRouter(),
		metrics: metrics,
		hub:     hub,
		results: results,
	}

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{})).Methods(http.MethodGet)
	s.router.HandleFunc("/api/v1/results/{portfolio}", s.handleResults).Methods(http.MethodGet)
	s.router.HandleFunc("/api/v1/results/run/{id}", s.handleResultByRun).Methods(http.MethodGet)
	s.router.HandleFunc("/ws/progress", hub.handleWS)

	s.httpServer = &http.Server{
		Addr:         listen,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Start serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("listen", s.httpServer.Addr).Msg("Monitoring server listening")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler { return s.router }

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":               "ok",
		"progress_subscribers": s.hub.SubscriberCount(),
		"results_store":        s.results != nil,
	})
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	if s.results == nil {
		http.Error(w, "no result store configured", http.StatusNotFound)
		return
	}
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			limit = v
		}
	}
	records, err := s.results.Latest(r.Context(), mux.Vars(r)["portfolio"], limit)
	if err != nil {
		log.Error().Err(err).Msg("Result listing failed")
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleResultByRun(w http.ResponseWriter, r *http.Request) {
	if s.results == nil {
		http.Error(w, "no result store configured", http.StatusNotFound)
		return
	}
	record, err := s.results.GetByRunID(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "result not found", http.StatusNotFound)
		return
	}
	// serve the stored envelope verbatim
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(record.Envelope)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("Failed to encode response")
	}
}
