// Package admin exposes a read-only HTTP surface over a ServiceManager:
// a health check and a list/detail view of running services, enough for
// an operator or a liveness probe to see what a process is hosting.
// Styled after the teacher's internal/handler/lp package — a thin,
// chi-routed handler struct holding only the dependency it needs.
package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/webitel/corehub/internal/manager"
	"github.com/webitel/corehub/internal/service"
)

// Server is the admin HTTP surface bound to one process's Manager.
type Server struct {
	mgr *manager.Manager
	srv *http.Server

	// configReloads counts OnConfigReload notifications cmd's
	// RegisterConfigWatcher has forwarded here, surfaced on /healthz so an
	// operator can see that reload watching is actually wired up.
	configReloads atomic.Int64
}

// NewServer builds a Server listening on addr, routed with chi.
func NewServer(addr string, mgr *manager.Manager) *Server {
	s := &Server{mgr: mgr}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/services", s.handleListServices)
	r.Get("/services/{name}", s.handleGetService)

	s.srv = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the underlying http.Handler, for tests that want to
// exercise routes via httptest without binding a real port.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Start begins serving in the background. Errors other than the expected
// shutdown sentinel are sent to errCh.
func (s *Server) Start(errCh chan<- error) {
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
}

// Shutdown gracefully stops accepting and drains in-flight requests.
func (s *Server) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.srv.Shutdown(ctx)
}

// RecordReload increments the config-reload counter /healthz reports. Called
// by cmd's RegisterConfigWatcher whenever a config.ReloadEvent arrives.
func (s *Server) RecordReload() {
	s.configReloads.Add(1)
}

type healthzView struct {
	Status        string `json:"status"`
	ConfigReloads int64  `json:"config_reloads"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthzView{Status: "ok", ConfigReloads: s.configReloads.Load()})
}

// serviceView is the JSON projection of a running service, deliberately
// narrower than service.Service itself (no registry/dispatcher internals).
type serviceView struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	State        string `json:"state"`
	SessionCount int    `json:"session_count"`
	Components   int    `json:"component_count"`
}

func (s *Server) handleListServices(w http.ResponseWriter, r *http.Request) {
	snapshot := s.mgr.Snapshot()
	views := make([]serviceView, 0, len(snapshot))
	for _, svc := range snapshot {
		views = append(views, toView(svc))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetService(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	svc, ok := s.mgr.GetByName(name)
	if !ok {
		http.Error(w, "no such service", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, toView(svc))
}

func toView(svc *service.Service) serviceView {
	return serviceView{
		ID:           svc.ID.String(),
		Name:         svc.Config.Name,
		State:        svc.State().String(),
		SessionCount: svc.SessionCount(),
		Components:   svc.Registry.Len(),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
