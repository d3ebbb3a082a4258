// Package httpapi exposes health, metrics and flow control over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jeeves-cluster-organization/flowkernel/coreengine/config"
	"github.com/jeeves-cluster-organization/flowkernel/coreengine/kernel"
	"github.com/jeeves-cluster-organization/flowkernel/coreengine/processor"
	"github.com/jeeves-cluster-organization/flowkernel/coreengine/typeutil"
)

// Logger interface for the HTTP surface.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Controller is the part of the flow controller exposed over HTTP.
type Controller interface {
	Start(ctx context.Context) error
	Stop(drain bool) error
	StopWithTimeout(drain bool, timeout time.Duration) error
	IsRunning() bool
	SetDrainTimeout(d time.Duration)
	DrainTimeout() time.Duration
	Status() kernel.Status
}

// Server holds the routes.
type Server struct {
	logger     Logger
	controller Controller
}

// NewHandler returns the router:
//
//	GET  /healthz
//	GET  /metrics
//	GET  /status
//	POST /flow/start
//	POST /flow/stop?drain=true&timeout=10s
//	PUT  /flow/drain-timeout   {"timeout": "30s"}
func NewHandler(logger Logger, controller Controller) http.Handler {
	s := &Server{logger: logger, controller: controller}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.health)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/status", s.status)

	r.Route("/flow", func(r chi.Router) {
		r.Post("/start", s.start)
		r.Post("/stop", s.stop)
		r.Put("/drain-timeout", s.setDrainTimeout)
	})
	return r
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"running": s.controller.IsRunning(),
	})
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.controller.Status())
}

func (s *Server) start(w http.ResponseWriter, r *http.Request) {
	if err := s.controller.Start(r.Context()); err != nil {
		s.fail(w, "start", err)
		return
	}
	s.logger.Info("flow_started_by_operator", "surface", "http")
	writeJSON(w, http.StatusOK, s.controller.Status())
}

func (s *Server) stop(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	drain := true
	if v := q.Get("drain"); v != "" {
		b, ok := typeutil.SafeBool(v)
		if !ok {
			writeError(w, http.StatusBadRequest, "drain must be a boolean")
			return
		}
		drain = b
	}

	var err error
	if v := q.Get("timeout"); v != "" {
		d, perr := typeutil.ParseDuration(v)
		if perr != nil || d < 0 {
			writeError(w, http.StatusBadRequest, "timeout must be a non-negative duration")
			return
		}
		s.logger.Info("flow_stop_requested", "surface", "http", "drain", drain, "timeout", d.String())
		err = s.controller.StopWithTimeout(drain, d)
	} else {
		s.logger.Info("flow_stop_requested", "surface", "http", "drain", drain, "timeout", "configured")
		err = s.controller.Stop(drain)
	}
	if err != nil {
		s.fail(w, "stop", err)
		return
	}
	writeJSON(w, http.StatusOK, s.controller.Status())
}

type drainTimeoutRequest struct {
	Timeout any `json:"timeout"`
}

func (s *Server) setDrainTimeout(w http.ResponseWriter, r *http.Request) {
	var body drainTimeoutRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	d, ok := typeutil.SafeDuration(body.Timeout)
	if !ok || d < 0 {
		writeError(w, http.StatusBadRequest, "timeout must be a non-negative duration")
		return
	}
	s.controller.SetDrainTimeout(d)
	writeJSON(w, http.StatusOK, map[string]any{"drain_timeout": d.String()})
}

// fail maps controller errors onto HTTP status codes.
func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	code := http.StatusInternalServerError
	var shutdown *kernel.ShutdownError
	switch {
	case processor.IsStartupResourceFailure(err), errors.Is(err, kernel.ErrInvalidTransition):
		code = http.StatusConflict
	case processor.IsPropertyError(err), config.IsConfigError(err):
		code = http.StatusUnprocessableEntity
	case errors.As(err, &shutdown):
		code = http.StatusGatewayTimeout
	}
	s.logger.Error("http_request_failed", "op", op, "status", code, "error", err.Error())
	writeError(w, code, err.Error())
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
