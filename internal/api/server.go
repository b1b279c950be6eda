package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/crosshair-trading/crosshair/internal/detector"
	"github.com/crosshair-trading/crosshair/internal/position"
	"github.com/crosshair-trading/crosshair/internal/safety"
)

// ---------------------------------------------------------------------------
// Control/status HTTP API. Observability plus the two runtime mutations the
// core allows: manual position close and add-only safety list updates.
// ---------------------------------------------------------------------------

// Server exposes the control API.
type Server struct {
	coordinator *detector.Coordinator
	manager     *position.Manager
	filter      *safety.Filter
	httpServer  *http.Server
}

// NewServer creates the control API server.
func NewServer(addr string, coordinator *detector.Coordinator, manager *position.Manager, filter *safety.Filter) *Server {
	s := &Server{
		coordinator: coordinator,
		manager:     manager,
		filter:      filter,
	}

	r := mux.NewRouter()
	r.Use(requestLogging)

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/chains", s.handleChains).Methods(http.MethodGet)
	v1.HandleFunc("/positions", s.handlePositions).Methods(http.MethodGet)
	v1.HandleFunc("/positions/{id}/close", s.handleClose).Methods(http.MethodPost)
	v1.HandleFunc("/safety/blacklist", s.handleAddBlacklist).Methods(http.MethodPost)
	v1.HandleFunc("/safety/whitelist", s.handleAddWhitelist).Methods(http.MethodPost)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Start runs the server until Shutdown.
func (s *Server) Start() {
	go func() {
		log.Info().Str("addr", s.httpServer.Addr).Msg("api: listening")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("api: server failed")
		}
	}()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleChains(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.coordinator.Status())
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("all") == "true" {
		writeJSON(w, http.StatusOK, s.manager.All())
		return
	}
	writeJSON(w, http.StatusOK, s.manager.Active())
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	result, err := s.manager.CloseNow(r.Context(), id, position.CloseManual)
	if err != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type listRequest struct {
	Addresses []string `json:"addresses"`
}

func (s *Server) handleAddBlacklist(w http.ResponseWriter, r *http.Request) {
	var req listRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Addresses) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "addresses required"})
		return
	}
	s.filter.AddBlacklist(req.Addresses...)
	writeJSON(w, http.StatusOK, map[string]int{"added": len(req.Addresses)})
}

func (s *Server) handleAddWhitelist(w http.ResponseWriter, r *http.Request) {
	var req listRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Addresses) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "addresses required"})
		return
	}
	s.filter.AddWhitelist(req.Addresses...)
	writeJSON(w, http.StatusOK, map[string]int{"added": len(req.Addresses)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("api: response encode failed")
	}
}

// requestLogging logs every request with latency.
func requestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("latency", time.Since(start)).
			Msg("api: request")
	})
}
