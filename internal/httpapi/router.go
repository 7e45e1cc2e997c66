// Package httpapi exposes the request-tier surface from spec.md §6
// (create_job, get_job, regenerate_page, detailed_health) over HTTP via
// gorilla/mux, following the teacher's server/api.go initRouter layout:
// a metrics middleware wrapping the whole router, job routes under a /v1
// path prefix, admin-style operational routes (health/metrics)
// broken out separately.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/sterlingstarai-ai/ai-story-book/internal/admission"
	"github.com/sterlingstarai-ai/ai-story-book/internal/health"
	"github.com/sterlingstarai-ai/ai-story-book/internal/job"
	"github.com/sterlingstarai-ai/ai-story-book/internal/metrics"
	"github.com/sterlingstarai-ai/ai-story-book/internal/regenerate"
	"github.com/sterlingstarai-ai/ai-story-book/internal/store"
)

// Logger is the structured-logging interface the HTTP surface depends on.
type Logger interface {
	Errorw(msg string, kv ...any)
}

// Server wires the admission controller, job store, health checker, and
// metrics registry into an HTTP router.
type Server struct {
	Admission  *admission.Controller
	Jobs       store.JobStore
	Artifacts  store.ArtifactStore
	Regenerate *regenerate.Controller
	Health     *health.Checker
	Metrics    *metrics.Registry
	Log        Logger
}

// Router builds the full mux.Router for this server.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.Use(s.Metrics.Middleware)

	api := router.PathPrefix("/v1").Subrouter()
	api.HandleFunc("/jobs", s.handleCreateJob).Methods(http.MethodPost)
	api.HandleFunc("/jobs/{id}", s.handleGetJob).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{id}/pages/{page}/regenerate", s.handleRegeneratePage).Methods(http.MethodPost)

	router.HandleFunc("/healthz", s.handleLivez).Methods(http.MethodGet)
	router.HandleFunc("/detailed_health", s.handleDetailedHealth).Methods(http.MethodGet)

	return router
}

type createJobRequest struct {
	UserKey        string             `json:"user_key"`
	Spec           job.Specification  `json:"spec"`
	IdempotencyKey string             `json:"idempotency_key,omitempty"`
}

type createJobResponse struct {
	JobID  string     `json:"job_id"`
	Status job.Status `json:"status"`
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	jobID, err := s.Admission.Admit(r.Context(), admission.Request{
		UserKey:        req.UserKey,
		Spec:           req.Spec,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		writeAdmissionError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, createJobResponse{JobID: jobID, Status: job.StatusQueued})
}

type getJobResponse struct {
	JobID        string             `json:"job_id"`
	Status       job.Status         `json:"status"`
	Progress     int                `json:"progress"`
	CurrentStep  string             `json:"current_step,omitempty"`
	ErrorCode    job.ErrorCode      `json:"error_code,omitempty"`
	ErrorMessage string             `json:"error_message,omitempty"`
	Book         *job.Book          `json:"book,omitempty"`
	Pages        []job.Page         `json:"pages,omitempty"`
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]
	j, err := s.Jobs.Get(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}
		s.Log.Errorw("get job failed", "job_id", jobID, "error", err.Error())
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	resp := getJobResponse{
		JobID:        j.JobID,
		Status:       j.Status,
		Progress:     j.Progress,
		CurrentStep:  j.CurrentStep,
		ErrorCode:    j.ErrorCode,
		ErrorMessage: j.ErrorMessage,
	}
	if j.Status == job.StatusDone && j.BookID != "" {
		book, pages, err := s.Artifacts.GetBookByJobID(r.Context(), j.JobID)
		if err == nil {
			resp.Book = book
			resp.Pages = pages
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRegeneratePage(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	jobID := vars["id"]

	var req struct {
		Target string `json:"target"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	pageNumber, err := parsePageNumber(vars["page"])
	if err != nil {
		http.Error(w, "invalid page number", http.StatusBadRequest)
		return
	}

	if err := s.Regenerate.RegeneratePage(r.Context(), jobID, pageNumber, regenerate.Target(req.Target)); err != nil {
		s.Log.Errorw("regenerate page failed", "job_id", jobID, "page", pageNumber, "error", err.Error())
		http.Error(w, "regeneration failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleLivez(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Health.Livez())
}

func (s *Server) handleDetailedHealth(w http.ResponseWriter, r *http.Request) {
	detailed, err := s.Health.DetailedHealth(r.Context())
	if err != nil {
		s.Log.Errorw("detailed health failed", "error", err.Error())
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Jobs     any `json:"jobs"`
		Services any `json:"services"`
		Config   any `json:"config"`
		Stages   any `json:"stages"`
	}{
		Jobs:     detailed.Jobs,
		Services: detailed.Services,
		Config:   detailed.Config,
		Stages:   s.Metrics.Snapshot().StageCounts,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeAdmissionError(w http.ResponseWriter, err error) {
	var admErr *admission.AdmissionError
	if e, ok := err.(*admission.AdmissionError); ok {
		admErr = e
	}
	if admErr == nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	status := http.StatusServiceUnavailable
	switch admErr.Code {
	case job.ErrRateLimited:
		status = http.StatusTooManyRequests
	case job.ErrNoCredits:
		status = http.StatusPaymentRequired
	case job.ErrDailyLimit, job.ErrOverloaded:
		status = http.StatusTooManyRequests
	}
	writeJSON(w, status, map[string]string{"error_code": string(admErr.Code), "error": admErr.Error()})
}

func parsePageNumber(raw string) (int, error) {
	n := 0
	if raw == "" {
		return 0, errInvalidPageNumber
	}
	for _, r := range raw {
		if r < '0' || r > '9' {
			return 0, errInvalidPageNumber
		}
		n = n*10 + int(r-'0')
	}
	return n, nil
}

var errInvalidPageNumber = httpAPIError("invalid page number")

type httpAPIError string

func (e httpAPIError) Error() string { return string(e) }
