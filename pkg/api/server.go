package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/oiwn/fetchbox/pkg/log"
	"github.com/oiwn/fetchbox/pkg/metrics"
)

// Server composes the Controller into a routable http.Handler with a
// logging/metrics middleware chain, following the mux-plus-
// methodHandler composition idiom used across the pack's net/http
// services rather than a routing framework.
type Server struct {
	controller *Controller
	version    string
}

// NewServer builds a Server around controller. version is surfaced in
// health responses.
func NewServer(controller *Controller, version string) *Server {
	return &Server{controller: controller, version: version}
}

// Handler returns the fully composed http.Handler: routes wrapped in
// the observability middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/jobs", methodHandler(http.MethodPost, s.handleIngestJob))
	mux.HandleFunc("/operators/jobs/", methodHandler(http.MethodGet, s.handleGetJob))
	mux.HandleFunc("/health", methodHandler(http.MethodGet, s.handleHealth))
	mux.HandleFunc("/operators/health", methodHandler(http.MethodGet, s.handleHealth))
	mux.Handle("/metrics", metrics.Handler())

	return withObservability(mux)
}

func (s *Server) handleIngestJob(w http.ResponseWriter, r *http.Request) {
	resp, err := s.controller.IngestJob(r.Context(), r.Header, r.Body)
	if err != nil {
		writeControllerError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, resp)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := strings.TrimPrefix(r.URL.Path, "/operators/jobs/")
	if jobID == "" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "job id is required")
		return
	}

	snapshot, err := s.controller.GetJob(jobID)
	if err != nil {
		writeControllerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.controller.Health(s.version)
	code := http.StatusOK
	if status.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

func writeControllerError(w http.ResponseWriter, err error) {
	apiErr, ok := err.(*Error)
	if !ok {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	writeError(w, apiErr.StatusCode(), apiErr.Code(), apiErr.Message)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Code: code, Message: message})
}

// methodHandler rejects any request whose method doesn't match method.
func methodHandler(method string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
			return
		}
		handler(w, r)
	}
}

// statusRecorder captures the status code written so the observability
// middleware can label fetchbox_api_requests_total after the handler
// runs.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// withObservability logs each request and records its duration/status
// against the API's Prometheus collectors.
func withObservability(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		timer := metrics.NewTimer()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		duration := timer.Duration()
		metrics.APIRequestsTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(rec.status)).Inc()
		metrics.APIRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration.Seconds())

		log.WithComponent("api").Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", duration).
			Msg("api request")
	})
}

// ListenAndServe starts an http.Server bound to addr serving s's
// handler, with read/write timeouts matching the teacher's listener
// defaults.
func (s *Server) ListenAndServe(addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return srv.ListenAndServe()
}
