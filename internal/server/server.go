// Package server exposes the datasource over HTTP for a dashboard host.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/gorilla/mux"

	"github.com/beekhof/calendar-datasource/internal/auth"
	"github.com/beekhof/calendar-datasource/internal/calendar"
	"github.com/beekhof/calendar-datasource/internal/datasource"
	"github.com/beekhof/calendar-datasource/internal/directive"
	"github.com/beekhof/calendar-datasource/internal/frame"
)

// Service is the part of *datasource.DataSource the handlers use.
type Service interface {
	Query(ctx context.Context, req datasource.QueryRequest) (*datasource.QueryResponse, error)
	MetricFindQuery(ctx context.Context, query string, opts datasource.VariableOptions) ([]frame.MetricFindValue, error)
	CheckHealth(ctx context.Context) datasource.HealthResult
	Events(ctx context.Context, calendarID string, tr datasource.TimeRange) ([]calendar.NormalizedEvent, error)
	Now() time.Time
}

// Server routes host requests to a Service.
type Server struct {
	svc    Service
	logger log.Logger
	router *mux.Router
}

// New creates a Server and registers its routes.
func New(svc Service, logger log.Logger) *Server {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	s := &Server{
		svc:    svc,
		logger: log.With(logger, "component", "server"),
		router: mux.NewRouter(),
	}
	s.router.HandleFunc("/query", s.handleQuery).Methods(http.MethodPost)
	s.router.HandleFunc("/variable", s.handleVariable).Methods(http.MethodPost)
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/export.ics", s.handleExport).Methods(http.MethodGet)
	s.router.Use(s.logRequests)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Run serves on addr until ctx is canceled.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		level.Info(s.logger).Log("msg", "listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server stopped: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return nil
}

// epochRange is a time range in milliseconds since the epoch.
type epochRange struct {
	From int64 `json:"from"`
	To   int64 `json:"to"`
}

func (e epochRange) timeRange() datasource.TimeRange {
	return datasource.TimeRange{From: time.UnixMilli(e.From), To: time.UnixMilli(e.To)}
}

type queryRequest struct {
	Targets []datasource.Target `json:"targets"`
	Range   epochRange          `json:"range"`
}

type variableRequest struct {
	Query      string     `json:"query"`
	Range      epochRange `json:"range"`
	CalendarID string     `json:"calendarId,omitempty"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, &badRequestError{fmt.Errorf("failed to decode query request: %w", err)})
		return
	}

	resp, err := s.svc.Query(r.Context(), datasource.QueryRequest{Targets: req.Targets, Range: req.Range.timeRange()})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleVariable(w http.ResponseWriter, r *http.Request) {
	var req variableRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, &badRequestError{fmt.Errorf("failed to decode variable request: %w", err)})
		return
	}

	values, err := s.svc.MetricFindQuery(r.Context(), req.Query, datasource.VariableOptions{
		Range:             req.Range.timeRange(),
		DefaultCalendarID: req.CalendarID,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, values)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	res := s.svc.CheckHealth(r.Context())
	status := http.StatusOK
	if res.Status != datasource.HealthOK {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, res)
}

// handleExport serves the events of one calendar as iCalendar. The range
// comes from the from and to parameters in epoch milliseconds, as the
// $__from and $__to template variables render them.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tr, err := datasource.RangeFromVariables(map[string]string{
		datasource.VarFrom: q.Get("from"),
		datasource.VarTo:   q.Get("to"),
	})
	if err != nil {
		s.writeError(w, &badRequestError{err})
		return
	}

	events, err := s.svc.Events(r.Context(), q.Get("calendarId"), tr)
	if err != nil {
		s.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	if err := frame.WriteICS(w, events, s.svc.Now()); err != nil {
		level.Error(s.logger).Log("msg", "failed to write calendar", "err", err)
	}
}

type badRequestError struct {
	err error
}

func (e *badRequestError) Error() string { return e.err.Error() }
func (e *badRequestError) Unwrap() error { return e.err }

// statusCode maps the datasource's error types onto HTTP statuses.
func statusCode(err error) int {
	var (
		badRequest *badRequestError
		invalid    *directive.InvalidDirectiveError
		authErr    *auth.AuthenticationError
		remote     *calendar.RemoteAPIError
		malformed  *calendar.MalformedTimeError
	)
	switch {
	case errors.As(err, &badRequest), errors.As(err, &invalid):
		return http.StatusBadRequest
	case errors.As(err, &authErr):
		return http.StatusUnauthorized
	case errors.As(err, &remote), errors.As(err, &malformed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusCode(err)
	logger := level.Info(s.logger)
	if status >= http.StatusInternalServerError {
		logger = level.Error(s.logger)
	}
	logger.Log("msg", "request failed", "status", status, "err", err)
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		level.Error(s.logger).Log("msg", "failed to encode response", "err", err)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		level.Debug(s.logger).Log(
			"method", r.Method,
			"path", r.URL.Path,
			"status", strconv.Itoa(rec.status),
			"took", time.Since(start),
		)
	})
}
