package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/greenlight-sh/greenlight/pkg/approval"
	"github.com/greenlight-sh/greenlight/pkg/log"
	"github.com/greenlight-sh/greenlight/pkg/metrics"
	"github.com/greenlight-sh/greenlight/pkg/orchestrator"
	"github.com/greenlight-sh/greenlight/pkg/storage"
	"github.com/greenlight-sh/greenlight/pkg/types"
)

// Server exposes the greenlight control plane over REST
type Server struct {
	store     storage.Store
	orch      *orchestrator.Orchestrator
	approvals *approval.Manager
	router    *mux.Router
	http      *http.Server
}

// NewServer creates a new API server and registers its routes
func NewServer(store storage.Store, orch *orchestrator.Orchestrator, approvals *approval.Manager) *Server {
	s := &Server{
		store:     store,
		orch:      orch,
		approvals: approvals,
		router:    mux.NewRouter().StrictSlash(true),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/services", s.handleCreateService).Methods(http.MethodPost)
	api.HandleFunc("/services", s.handleListServices).Methods(http.MethodGet)
	api.HandleFunc("/services/{id}", s.handleGetService).Methods(http.MethodGet)
	api.HandleFunc("/services/{id}/releases", s.handleCreateRelease).Methods(http.MethodPost)
	api.HandleFunc("/services/{id}/releases", s.handleListServiceReleases).Methods(http.MethodGet)
	api.HandleFunc("/services/{id}/rollback", s.handleRollback).Methods(http.MethodPost)

	api.HandleFunc("/releases", s.handleListReleases).Methods(http.MethodGet)
	api.HandleFunc("/releases/{id}", s.handleGetRelease).Methods(http.MethodGet)
	api.HandleFunc("/releases/{id}/approve", s.handleApprove).Methods(http.MethodPost)
	api.HandleFunc("/releases/{id}/reject", s.handleReject).Methods(http.MethodPost)
	api.HandleFunc("/releases/{id}/events", s.handleReleaseEvents).Methods(http.MethodGet)

	s.router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	s.router.HandleFunc("/health", metrics.HealthHandler()).Methods(http.MethodGet)
	s.router.HandleFunc("/ready", metrics.ReadyHandler()).Methods(http.MethodGet)

	s.router.Use(instrument)
}

// Handler returns the root handler, for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins serving on addr and blocks until shutdown
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	log.WithComponent("api").Info().Str("addr", addr).Msg("API listening")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// instrument records per-route request counts and latency
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if tmpl, err := current.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}

		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(recorder, r)

		metrics.APIRequestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		metrics.APIRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) handleCreateService(w http.ResponseWriter, r *http.Request) {
	var service types.Service
	if err := json.NewDecoder(r.Body).Decode(&service); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid service: %w", err))
		return
	}
	if service.Name == "" || service.Image == "" {
		writeError(w, http.StatusBadRequest, errors.New("service name and image are required"))
		return
	}

	created, err := s.orch.RegisterService(&service)
	if err != nil {
		if errors.Is(err, orchestrator.ErrServiceExists) {
			writeError(w, http.StatusConflict, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleListServices(w http.ResponseWriter, r *http.Request) {
	services, err := s.store.ListServices()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, services)
}

func (s *Server) handleGetService(w http.ResponseWriter, r *http.Request) {
	service, err := s.lookupService(mux.Vars(r)["id"])
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, service)
}

type createReleaseRequest struct {
	Image string `json:"image"`
}

func (s *Server) handleCreateRelease(w http.ResponseWriter, r *http.Request) {
	service, err := s.lookupService(mux.Vars(r)["id"])
	if err != nil {
		writeStoreError(w, err)
		return
	}

	var req createReleaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request: %w", err))
		return
	}
	if req.Image == "" {
		writeError(w, http.StatusBadRequest, errors.New("image is required"))
		return
	}

	release, err := s.orch.CreateRelease(service.ID, req.Image)
	if err != nil {
		if errors.Is(err, orchestrator.ErrReleaseInFlight) {
			writeError(w, http.StatusConflict, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, release)
}

func (s *Server) handleListServiceReleases(w http.ResponseWriter, r *http.Request) {
	service, err := s.lookupService(mux.Vars(r)["id"])
	if err != nil {
		writeStoreError(w, err)
		return
	}
	releases, err := s.store.ListReleasesByService(service.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, releases)
}

type rollbackRequest struct {
	Operator string `json:"operator"`
}

func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	service, err := s.lookupService(mux.Vars(r)["id"])
	if err != nil {
		writeStoreError(w, err)
		return
	}

	var req rollbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request: %w", err))
		return
	}
	if req.Operator == "" {
		writeError(w, http.StatusBadRequest, errors.New("operator is required"))
		return
	}

	release, err := s.orch.ManualRollback(service.ID, req.Operator)
	if err != nil {
		if errors.Is(err, orchestrator.ErrReleaseInFlight) {
			writeError(w, http.StatusConflict, err)
			return
		}
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusCreated, release)
}

func (s *Server) handleListReleases(w http.ResponseWriter, r *http.Request) {
	releases, err := s.store.ListReleases()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, releases)
}

func (s *Server) handleGetRelease(w http.ResponseWriter, r *http.Request) {
	release, err := s.store.GetRelease(mux.Vars(r)["id"])
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, release)
}

type decisionRequest struct {
	Approver string `json:"approver"`
	Comment  string `json:"comment"`
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	s.decide(w, r, s.approvals.Approve)
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	s.decide(w, r, s.approvals.Reject)
}

func (s *Server) decide(w http.ResponseWriter, r *http.Request, decide func(releaseID, approver, comment string) (*types.Release, error)) {
	var req decisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request: %w", err))
		return
	}
	if req.Approver == "" {
		writeError(w, http.StatusBadRequest, errors.New("approver is required"))
		return
	}

	release, err := decide(mux.Vars(r)["id"], req.Approver, req.Comment)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			writeError(w, http.StatusNotFound, err)
		case errors.Is(err, approval.ErrAlreadyDecided), errors.Is(err, approval.ErrNotPending):
			writeError(w, http.StatusConflict, err)
		default:
			writeError(w, http.StatusInternalServerError, err)
		}
		return
	}
	writeJSON(w, http.StatusOK, release)
}

func (s *Server) handleReleaseEvents(w http.ResponseWriter, r *http.Request) {
	releaseID := mux.Vars(r)["id"]
	if _, err := s.store.GetRelease(releaseID); err != nil {
		writeStoreError(w, err)
		return
	}
	trail, err := s.store.ListEventsByRelease(releaseID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, trail)
}

// lookupService resolves a path parameter as a service ID first, then
// as a name
func (s *Server) lookupService(idOrName string) (*types.Service, error) {
	service, err := s.store.GetService(idOrName)
	if err == nil {
		return service, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	return s.store.GetServiceByName(idOrName)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.WithComponent("api").Error().Err(err).Msg("failed to encode response")
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeError(w, http.StatusInternalServerError, err)
}
