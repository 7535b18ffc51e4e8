package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/samijaber1/aegis-relay/internal/breach"
	"github.com/samijaber1/aegis-relay/internal/eval"
	"github.com/samijaber1/aegis-relay/internal/scheduler"
	"github.com/samijaber1/aegis-relay/internal/storage"
)

// Server is the HTTP admin and read surface.
type Server struct {
	store    storage.Store
	engine   *eval.Engine
	breaches *breach.Manager
	sched    *scheduler.Scheduler
	logger   *zap.SugaredLogger
	token    string
	server   *http.Server
}

// NewServer creates the API server. An empty adminToken disables every
// mutating route.
func NewServer(store storage.Store, engine *eval.Engine, breaches *breach.Manager, sched *scheduler.Scheduler, logger *zap.SugaredLogger, addr, adminToken string) *Server {
	s := &Server{
		store:    store,
		engine:   engine,
		breaches: breaches,
		sched:    sched,
		logger:   logger,
		token:    adminToken,
	}

	r := mux.NewRouter()
	r.Use(s.loggingMiddleware)

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/readyz", s.handleReady).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()

	v1.HandleFunc("/definitions", s.handleDefinitionList).Methods(http.MethodGet)
	v1.HandleFunc("/definitions/{id}", s.handleDefinitionGet).Methods(http.MethodGet)
	v1.HandleFunc("/instances", s.handleInstanceList).Methods(http.MethodGet)
	v1.HandleFunc("/breaches", s.handleBreachList).Methods(http.MethodGet)
	v1.HandleFunc("/breaches/{id}", s.handleBreachGet).Methods(http.MethodGet)
	v1.HandleFunc("/endpoints", s.handleEndpointList).Methods(http.MethodGet)
	v1.HandleFunc("/endpoints/{id}", s.handleEndpointGet).Methods(http.MethodGet)
	v1.HandleFunc("/events", s.handleEventList).Methods(http.MethodGet)
	v1.HandleFunc("/events/{id}", s.handleEventGet).Methods(http.MethodGet)
	v1.HandleFunc("/events/{id}/attempts", s.handleEventAttempts).Methods(http.MethodGet)
	v1.HandleFunc("/compliance", s.handleCompliance).Methods(http.MethodGet)

	admin := v1.NewRoute().Subrouter()
	admin.Use(s.authMiddleware)
	admin.HandleFunc("/definitions", s.handleDefinitionCreate).Methods(http.MethodPost)
	admin.HandleFunc("/definitions/{id}", s.handleDefinitionUpdate).Methods(http.MethodPut)
	admin.HandleFunc("/definitions/{id}", s.handleDefinitionDelete).Methods(http.MethodDelete)
	admin.HandleFunc("/breaches/{id}/acknowledge", s.handleBreachAcknowledge).Methods(http.MethodPost)
	admin.HandleFunc("/breaches/{id}/resolve", s.handleBreachResolve).Methods(http.MethodPost)
	admin.HandleFunc("/endpoints", s.handleEndpointCreate).Methods(http.MethodPost)
	admin.HandleFunc("/endpoints/{id}", s.handleEndpointUpdate).Methods(http.MethodPut)
	admin.HandleFunc("/endpoints/{id}", s.handleEndpointDelete).Methods(http.MethodDelete)
	admin.HandleFunc("/evaluate", s.handleEvaluate).Methods(http.MethodPost)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return s
}

// Start starts the HTTP server and blocks until shutdown.
func (s *Server) Start() error {
	s.logger.Infow("API server listening", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Infow("Shutting down API server")
	return s.server.Shutdown(ctx)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debugw("Request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

// authMiddleware guards mutating routes with a bearer token. No configured
// token means no write surface at all.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token == "" {
			respondError(w, http.StatusForbidden, "admin API disabled: no token configured")
			return
		}
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(s.token)) != 1 {
			respondError(w, http.StatusUnauthorized, "invalid or missing bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	defs, err := s.store.ListDefinitions(r.Context(), false)
	if err != nil {
		respondJSON(w, http.StatusServiceUnavailable, ReadyResponse{
			Ready:   false,
			Reasons: []string{"storage unavailable: " + err.Error()},
		})
		return
	}

	var reasons []string
	if len(defs) == 0 {
		reasons = append(reasons, "no definitions loaded")
	}
	if s.engine.Cache().Size() == 0 {
		reasons = append(reasons, "no evaluations cached yet")
	}

	ready := len(defs) > 0
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}

	respondJSON(w, status, ReadyResponse{
		Ready:       ready,
		Definitions: len(defs),
		Reasons:     reasons,
	})
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, ErrorResponse{Error: message})
}

func decodeJSON(r *http.Request, dst interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
