package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"reviewflow/api/internal/auth"
	"reviewflow/api/internal/catalog"
	"reviewflow/api/internal/export"
	"reviewflow/api/internal/lifecycle"
	"reviewflow/api/internal/logging"
	"reviewflow/api/internal/metrics"
	"reviewflow/api/internal/rbac"
	"reviewflow/api/internal/reconcile"
	"reviewflow/api/internal/search"
)

const callerHeader = "X-Caller-ID"

// Pinger is a dependency checked by /api/ready.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a plain function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

type Deps struct {
	Engine     *lifecycle.Engine
	Catalog    *catalog.Catalog
	Search     *search.Service
	Scheduler  *reconcile.Scheduler
	Dossiers   *export.Service
	Checks     map[string]Pinger
	CORSOrigin string

	// Governance callbacks require a bearer token when set.
	Callbacks *auth.Verifier
	Operators rbac.Operators
	Log       *zap.Logger
}

type HTTPServer struct {
	engine     *lifecycle.Engine
	catalog    *catalog.Catalog
	search     *search.Service
	scheduler  *reconcile.Scheduler
	dossiers   *export.Service
	checks     map[string]Pinger
	corsOrigin string
	callbacks  *auth.Verifier
	operators  rbac.Operators
	log        *zap.Logger
}

func NewHTTPServer(d Deps) *HTTPServer {
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &HTTPServer{
		engine:     d.Engine,
		catalog:    d.Catalog,
		search:     d.Search,
		scheduler:  d.Scheduler,
		dossiers:   d.Dossiers,
		checks:     d.Checks,
		corsOrigin: d.CORSOrigin,
		callbacks:  d.Callbacks,
		operators:  d.Operators,
		log:        log,
	}
}

func (s *HTTPServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.withMiddleware)
	r.Use(s.recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Options("/*", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})
		r.Get("/health", s.handleHealth)
		r.Get("/ready", s.handleReady)
		r.Method(http.MethodGet, "/metrics", promhttp.Handler())

		r.Get("/templates", s.handleTemplates)
		r.Get("/config/tunables", s.handleGetTunables)
		r.Put("/config/tunables", s.handleUpdateTunables)
		r.Get("/categories", s.handleListCategories)
		r.Post("/categories", s.handleCreateCategory)
		r.Post("/categories/{categoryID}/deactivate", s.handleDeactivateCategory)

		r.Post("/projects", s.handleCreateProject)
		r.Get("/projects", s.handleListProjects)
		r.Route("/projects/{projectID}", func(r chi.Router) {
			r.Get("/", s.handleGetProject)
			r.Patch("/", s.handleUpdateProject)
			r.Get("/dossier", s.handleExportDossier)
			r.Get("/phases", s.handleListPhases)
			r.Route("/phases/{phase}", func(r chi.Router) {
				r.Get("/", s.handleGetPhase)
				r.Post("/close", s.handleClosePhase)
				r.Get("/steps", s.handleListSteps)
				r.Get("/steps/{step}", s.handleGetStep)
				r.Put("/steps/{step}", s.handleRecordSubmission)
				r.Post("/steps/{step}/uploads", s.handleIssueUpload)
				r.Post("/steps/{step}/grades", s.handleSubmitGrade)
				r.Get("/grades", s.handleListGrades)
				r.Get("/grade-result", s.handleGradeResult)
				r.Get("/vote-result", s.handleVoteResult)
				r.Get("/proposal", s.handleProposalLink)
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(s.requireCallbackToken)
			r.Post("/governance/validate", s.handleValidateProposal)
			r.Post("/governance/execute", s.handleExecuteProposal)
		})
		r.Get("/search/projects", s.handleSearchProjects)
		r.Post("/reconcile", s.handleReconcile)
	})
	return r
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := make(map[string]any, len(s.checks))
	for name, check := range s.checks {
		if err := check.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks[name] = map[string]any{"status": "error", "error": err.Error()}
			continue
		}
		checks[name] = map[string]any{"status": "ok"}
	}
	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		r = r.WithContext(logging.WithRequestID(r.Context(), requestID))

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		elapsed := time.Since(started)
		metrics.RecordHTTPRequest(r.Method, route, strconv.Itoa(writer.status), elapsed)
		s.log.Info("request",
			zap.String("request_id", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", writer.status),
			zap.Int64("duration_ms", elapsed.Milliseconds()))
	})
}

func (s *HTTPServer) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logging.WithRequest(r.Context(), s.log).Error("panic in handler",
					zap.Any("panic", rec),
					zap.String("path", r.URL.Path))
				writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *HTTPServer) requireCallbackToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.callbacks == nil {
			next.ServeHTTP(w, r)
			return
		}
		raw, err := auth.BearerToken(r.Header.Get("Authorization"))
		if err == nil {
			_, err = s.callbacks.Parse(raw)
		}
		if err != nil {
			logging.WithRequest(r.Context(), s.log).Warn("rejected governance callback", zap.Error(err))
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Valid callback token required", nil)
			return
		}
		next.ServeHTTP(w, r)
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

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, X-Caller-ID, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

// writeFailure maps a service error onto the response and logs server
// side failures.
func (s *HTTPServer) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		logging.WithRequest(r.Context(), s.log).Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("code", code),
			zap.Error(err))
	}
	writeError(w, status, code, message, details)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

// callerID returns the identity set by the upstream auth layer. It writes
// a 401 and returns false when the header is missing.
func callerID(w http.ResponseWriter, r *http.Request) (string, bool) {
	caller := strings.TrimSpace(r.Header.Get(callerHeader))
	if caller == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Caller identity is required", nil)
		return "", false
	}
	return caller, true
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (uint64, bool) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_PATH", fmt.Sprintf("%s must be a non-negative integer", name), nil)
		return 0, false
	}
	return id, true
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
