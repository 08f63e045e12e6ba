// Package control implements the control-plane HTTP API: ping, zone
// reload, and stats, gated by an API-key header, entirely outside the
// query hot path.
//
// Routes hang off a mux.NewRouter().StrictSlash(true) with a
// Headers("X-API-Key", ...) subrouter wrapping every route.
package control

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/mux"
)

// ReloadFunc reloads zone configuration on demand; supplied by the
// process wiring (cmd/znsd), since only it knows how to re-read config
// and re-run zoneload.
type ReloadFunc func() error

// StatsFunc reports the running query count; supplied by the process
// wiring as a thin read of the query engine's own atomic counter.
type StatsFunc func() uint64

// Server holds the dependencies the API handlers need. It carries no
// namedb reference of its own: zone state lives behind the query
// engine's atomic pointer, and the control plane only ever triggers a
// reload or reports counters, never reads namedb contents directly.
type Server struct {
	Reload ReloadFunc
	Stats  StatsFunc
	APIKey string
}

// NewServer builds a Server.
func NewServer(reload ReloadFunc, stats StatsFunc, apikey string) *Server {
	return &Server{Reload: reload, Stats: stats, APIKey: apikey}
}

// Router builds the mux.Router: a StrictSlash root, an API-key-gated
// subrouter under /api/v1.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter().StrictSlash(true)
	sr := r.PathPrefix("/api/v1").Headers("X-API-Key", s.APIKey).Subrouter()

	sr.HandleFunc("/ping", s.handlePing).Methods(http.MethodGet)
	sr.HandleFunc("/zone/reload", s.handleReload).Methods(http.MethodPost)
	sr.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)

	walkRoutes(r)
	return r
}

// walkRoutes logs every registered route at startup.
func walkRoutes(r *mux.Router) {
	_ = r.Walk(func(route *mux.Route, router *mux.Router, ancestors []*mux.Route) error {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			log.Printf("control: registered route %s", tmpl)
		}
		return nil
	})
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if s.Reload == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "reload not configured"})
		return
	}
	if err := s.Reload(); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	var n uint64
	if s.Stats != nil {
		n = s.Stats()
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"queries": n})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
