// Package httpapi serves the read-only admin API: index catalog, action
// audit trail, health, and Prometheus metrics.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/searchops/indexmigrate/internal/engine"
	"github.com/searchops/indexmigrate/internal/logger"
	"github.com/searchops/indexmigrate/internal/version"
)

// Config holds HTTP server settings.
type Config struct {
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Server is the admin HTTP server.
type Server struct {
	eng  *engine.Engine
	http *http.Server
	cfg  Config
}

// New builds the server and its routes. reg may be nil to skip /metrics.
func New(eng *engine.Engine, reg *prometheus.Registry, cfg Config) *Server {
	s := &Server{eng: eng, cfg: cfg}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Get("/healthz", s.handleHealth)
	r.Get("/version", s.handleVersion)
	r.Get("/indexes", s.handleIndexes)
	r.Get("/actions", s.handleActions)
	r.Get("/actions/{id}", s.handleAction)
	if reg != nil {
		r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}

	s.http = &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Port),
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// ListenAndServe blocks until the server stops.
func (s *Server) ListenAndServe(ctx context.Context) error {
	logger.FromContext(ctx).Info("admin api listening", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()
	return s.http.Shutdown(shutdownCtx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.eng.Manager().Search().Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "degraded", "error": err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"version": version.Version,
		"commit":  version.Commit,
		"tag":     version.CodebaseTag(),
	})
}

type indexRow struct {
	Index     string    `json:"index"`
	Version   int64     `json:"version,omitempty"`
	Physical  string    `json:"physical_name,omitempty"`
	Active    bool      `json:"active"`
	Deleted   bool      `json:"deleted"`
	DocCount  int64     `json:"doc_count"`
	Tag       string    `json:"tag,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

func (s *Server) handleIndexes(w http.ResponseWriter, r *http.Request) {
	rows, err := s.eng.List(r.Context(), engine.ListOptions{
		ESOnly:     r.URL.Query().Get("es_only") == "true",
		JustPrefix: r.URL.Query().Get("prefix"),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]indexRow, 0, len(rows))
	for _, row := range rows {
		out = append(out, indexRow{
			Index:     row.Index,
			Version:   row.VersionID,
			Physical:  row.Physical,
			Active:    row.Active,
			Deleted:   row.Deleted,
			DocCount:  row.DocCount,
			Tag:       row.Tag,
			CreatedAt: row.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type actionRow struct {
	ID           int64     `json:"id"`
	Kind         string    `json:"kind"`
	Status       string    `json:"status"`
	Index        string    `json:"index"`
	Version      int64     `json:"version,omitempty"`
	Parent       int64     `json:"parent,omitempty"`
	DocsAffected int64     `json:"docs_affected"`
	DocsFailed   int64     `json:"docs_failed"`
	StartedAt    time.Time `json:"started_at,omitempty"`
	EndedAt      time.Time `json:"ended_at,omitempty"`
	Argv         string    `json:"argv,omitempty"`
	Log          []string  `json:"log,omitempty"`
}

func (s *Server) handleActions(w http.ResponseWriter, r *http.Request) {
	actions, err := s.eng.Manager().Registry().ListActions(r.Context(), r.URL.Query().Get("index"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]actionRow, 0, len(actions))
	for _, a := range actions {
		out = append(out, actionRow{
			ID:           a.ID,
			Kind:         string(a.Kind),
			Status:       string(a.Status),
			Index:        a.Index,
			Version:      a.VersionID,
			Parent:       a.ParentID,
			DocsAffected: a.DocsAffected,
			DocsFailed:   a.DocsFailed,
			StartedAt:    a.StartedAt,
			EndedAt:      a.EndedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid action id"})
		return
	}
	reg := s.eng.Manager().Registry()
	a, err := reg.GetAction(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	log, err := reg.ActionLog(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, actionRow{
		ID:           a.ID,
		Kind:         string(a.Kind),
		Status:       string(a.Status),
		Index:        a.Index,
		Version:      a.VersionID,
		Parent:       a.ParentID,
		DocsAffected: a.DocsAffected,
		DocsFailed:   a.DocsFailed,
		StartedAt:    a.StartedAt,
		EndedAt:      a.EndedAt,
		Argv:         a.Argv,
		Log:          log,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	logger.FromContext(r.Context()).Error("request failed",
		zap.String("path", r.URL.Path), zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
}
