package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"report-generator/internal/artifact"
	"report-generator/internal/models"
	"report-generator/internal/ratelimit"
	"report-generator/internal/reports"
	"report-generator/internal/store"
	"report-generator/internal/telemetry"
)

// Reports is the service the gateway fronts.
type Reports interface {
	Submit(ctx context.Context, template string, data map[string]any) (string, error)
	Status(ctx context.Context, id string) (models.Job, error)
	Retrieve(ctx context.Context, id string) (models.Job, []byte, error)
	Stats() reports.Stats
	Templates() ([]string, error)
}

// Limiter gates submissions per tenant.
type Limiter interface {
	Allow(ctx context.Context, key string) (ratelimit.Decision, error)
}

// Server wires HTTP handlers for the report API.
type Server struct {
	reports Reports
	limiter Limiter
	logger  *slog.Logger
}

// New constructs the API server. limiter may be nil.
func New(svc Reports, limiter Limiter, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		reports: svc,
		limiter: limiter,
		logger:  logger,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.StripSlashes)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/metrics", telemetry.Handler())

	r.Post("/queue", s.handleQueue)
	r.Get("/status", s.handleQueueStatus)
	r.Get("/status/{id}", s.handleJobStatus)
	r.Get("/retrieve/{id}", s.handleRetrieve)
	r.Get("/templates", s.handleTemplates)
	return r
}

type queueRequest struct {
	Template string         `json:"template"`
	Content  map[string]any `json:"content"`
}

type queueResponse struct {
	RequestID string `json:"request_id"`
}

type retrieveResponse struct {
	Status models.Status `json:"status"`
	Result *string       `json:"result"`
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	var req queueRequest
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Template == "" {
		writeError(w, http.StatusBadRequest, "template is required")
		return
	}
	if req.Content == nil {
		writeError(w, http.StatusBadRequest, "content must be an object")
		return
	}

	if s.limiter != nil {
		decision, err := s.limiter.Allow(r.Context(), tenantFromRequest(r))
		if err != nil {
			s.logger.Error("rate limiter unavailable", slog.Any("error", err))
			writeError(w, http.StatusInternalServerError, "rate limit error")
			return
		}
		if !decision.Allowed {
			telemetry.RateLimitRejects.Inc()
			if decision.RetryAfter > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(decision.RetryAfter.Seconds()))))
			}
			writeError(w, http.StatusTooManyRequests, "rate limited")
			return
		}
	}

	id, err := s.reports.Submit(r.Context(), req.Template, req.Content)
	if err != nil {
		if errors.Is(err, reports.ErrShuttingDown) {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		s.logger.Error("submit failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "enqueue failed")
		return
	}
	writeJSON(w, http.StatusAccepted, queueResponse{RequestID: id})
}

func (s *Server) handleQueueStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.reports.Stats())
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	job, err := s.reports.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeLookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	job, _, err := s.reports.Retrieve(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		var ioErr *artifact.IOError
		if errors.As(err, &ioErr) {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to read or delete PDF file: %v", ioErr.Err))
			return
		}
		s.writeLookupError(w, err)
		return
	}

	resp := retrieveResponse{Status: job.Status}
	switch job.Status {
	case models.StatusSuccess:
		resp.Result = &job.Encoded
	case models.StatusFailure:
		resp.Result = &job.Error
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTemplates(w http.ResponseWriter, _ *http.Request) {
	names, err := s.reports.Templates()
	if err != nil {
		s.logger.Error("list templates failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to list templates")
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"templates": names})
}

func (s *Server) writeLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Report not found")
		return
	}
	s.logger.Error("job lookup failed", slog.Any("error", err))
	writeError(w, http.StatusInternalServerError, err.Error())
}

func tenantFromRequest(r *http.Request) string {
	if v := r.Header.Get("X-Tenant-ID"); v != "" {
		return v
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return "default"
}

func writeError(w http.ResponseWriter, code int, detail string) {
	writeJSON(w, code, map[string]string{"detail": detail})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
