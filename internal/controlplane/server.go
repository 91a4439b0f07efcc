package controlplane

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/fentz26/shipctl/internal/engine"
	"github.com/fentz26/shipctl/internal/models"
)

// Server provides the HTTP API for shipctl.
type Server struct {
	service *Service
	addr    string
	server  *http.Server
}

// NewServer creates a new HTTP server.
func NewServer(service *Service, addr string) *Server {
	return &Server{
		service: service,
		addr:    addr,
	}
}

// Router builds the chi router serving the API.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Post("/refresh", s.handleRefresh)
		r.Post("/workflows/{name}/dispatch", s.handleDispatch)
		r.Route("/runs", func(r chi.Router) {
			r.Post("/cancel", s.handleCancelAll)
			r.Post("/{id}/cancel", s.handleCancelRun)
		})
		r.Get("/history", s.handleHistory)
		r.Get("/credentials", s.handleGetCredentials)
		r.Put("/credentials", s.handlePutCredentials)
	})

	return r
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 45 * time.Second,
	}

	log.Printf("Starting shipctl daemon on %s", s.addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), errorResponse{Error: err.Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := s.service.Health(r.Context())
	status := http.StatusOK
	if !health.OK {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Status())
}

// RefreshResponse is the body returned by POST /api/v1/refresh.
type RefreshResponse struct {
	Started bool `json:"started"`
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	full, _ := strconv.ParseBool(r.URL.Query().Get("full"))
	wait, _ := strconv.ParseBool(r.URL.Query().Get("wait"))

	started := s.service.Refresh(r.Context(), full, wait)
	status := http.StatusAccepted
	if wait && started {
		status = http.StatusOK
	}
	writeJSON(w, status, RefreshResponse{Started: started})
}

// DispatchRequest is the body of POST /api/v1/workflows/{name}/dispatch.
type DispatchRequest struct {
	Ref    string            `json:"ref,omitempty"`
	Inputs map[string]string `json:"inputs,omitempty"`
}

func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var req DispatchRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, ErrInvalidJSON)
			return
		}
	}

	if err := s.service.Trigger(r.Context(), name, req.Ref, req.Inputs); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "dispatched", "workflow": name})
}

func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	runID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || runID <= 0 {
		writeError(w, ErrInvalidRunID)
		return
	}

	if err := s.service.CancelRun(r.Context(), runID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"status": "cancelling", "run_id": runID})
}

// CancelFailure is one failed cancellation in a CancelAllResponse.
type CancelFailure struct {
	Name  string `json:"name"`
	RunID int64  `json:"run_id"`
	Error string `json:"error"`
}

// CancelAllResponse is the body returned by POST /api/v1/runs/cancel.
type CancelAllResponse struct {
	Attempted       int             `json:"attempted"`
	Succeeded       int             `json:"succeeded"`
	Failures        []CancelFailure `json:"failures"`
	NothingToCancel bool            `json:"nothing_to_cancel"`
}

func (s *Server) handleCancelAll(w http.ResponseWriter, r *http.Request) {
	report, err := s.service.CancelAll(r.Context())
	if err != nil && !errors.Is(err, engine.ErrNothingToCancel) && report.Attempted == 0 {
		writeError(w, err)
		return
	}

	resp := CancelAllResponse{
		Attempted:       report.Attempted,
		Succeeded:       report.Succeeded,
		Failures:        []CancelFailure{},
		NothingToCancel: report.NothingToCancel,
	}
	for _, f := range report.Failures {
		resp.Failures = append(resp.Failures, CancelFailure{Name: f.Name, RunID: f.RunID, Error: f.Err.Error()})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := s.service.History(r.Context(), r.URL.Query().Get("target"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []models.JournalEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleGetCredentials(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Credentials())
}

// CredentialsResponse is the body returned by PUT /api/v1/credentials.
type CredentialsResponse struct {
	Changed bool `json:"changed"`
}

func (s *Server) handlePutCredentials(w http.ResponseWriter, r *http.Request) {
	var creds engine.Credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		writeError(w, ErrInvalidJSON)
		return
	}

	changed, err := s.service.SetCredentials(r.Context(), creds)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, CredentialsResponse{Changed: changed})
}
