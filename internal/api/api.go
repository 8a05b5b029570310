// Package api wires the Proxy's HTTP surface: the management routes under
// /servers and /sessions, plus the catch-all proxy route. Route
// registration and the jsonOK-style envelope helper are carried over from
// the teacher's internal/api/api.go; the envelope shape itself is
// generalized to the {"status": "success"|"error", ...} contract this
// system uses instead of the teacher's bare-JSON responses.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/drsoft-oss/runtimefleet/internal/forwarder"
	"github.com/drsoft-oss/runtimefleet/internal/logging"
	"github.com/drsoft-oss/runtimefleet/internal/metrics"
	"github.com/drsoft-oss/runtimefleet/internal/registry"
)

// Server wires the management mux and catch-all forwarder into a single
// http.Server.
type Server struct {
	reg       *registry.Registry
	forwarder *forwarder.Forwarder
	log       *logging.Logger
	m         *metrics.Metrics
	apiKey    string
	server    *http.Server
}

// Config configures the HTTP surface.
type Config struct {
	Addr string
	// APIKey, when non-empty, is required via the X-API-Key header on
	// every /servers and /sessions management request. Supplements the
	// spec: the original proxy config carries an api_key field that the
	// reference proxy server never actually checks, while the sibling
	// runtime-server implementation in the same codebase does enforce it
	// via an X-API-Key dependency — that enforcement is adopted here.
	APIKey string
}

// New builds the Server and wires its mux. gatherer is the Prometheus
// registry metrics were registered against (metrics.New's argument); passing
// it through here rather than defaulting to promhttp.Handler()'s global
// registry keeps /metrics reporting the same collectors the rest of the
// proxy actually updates.
func New(cfg Config, reg *registry.Registry, fwd *forwarder.Forwarder, m *metrics.Metrics, gatherer prometheus.Gatherer, log *logging.Logger) *Server {
	if log == nil {
		log = logging.Default("[api]")
	}
	s := &Server{reg: reg, forwarder: fwd, log: log, m: m, apiKey: cfg.APIKey}

	mux := http.NewServeMux()
	mux.HandleFunc("/servers/register", s.requireAPIKey(s.handleRegisterServer))
	mux.HandleFunc("/servers/unregister/", s.requireAPIKey(s.handleUnregisterServer))
	mux.HandleFunc("/servers", s.requireAPIKey(s.handleListServers))
	mux.HandleFunc("/sessions", s.requireAPIKey(s.handleListSessions))
	mux.HandleFunc("/sessions/", s.requireAPIKey(s.handleGetSession))
	if gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	mux.HandleFunc("/", s.dispatch)

	s.server = &http.Server{Addr: cfg.Addr, Handler: mux}
	return s
}

// dispatch routes /servers/{id}/heartbeat specially (path depth matters)
// and falls through to the forwarder for everything else — the catch-all
// proxy route from the spec's HTTP surface.
func (s *Server) dispatch(w http.ResponseWriter, r *http.Request) {
	if seg, ok := heartbeatServerID(r.URL.Path); ok && r.Method == http.MethodPost {
		s.requireAPIKey(func(w http.ResponseWriter, r *http.Request) {
			s.handleHeartbeat(w, r, seg)
		})(w, r)
		return
	}
	s.forwarder.ServeHTTP(w, r)
}

func heartbeatServerID(path string) (string, bool) {
	const prefix = "/servers/"
	const suffix = "/heartbeat"
	if !strings.HasPrefix(path, prefix) || !strings.HasSuffix(path, suffix) {
		return "", false
	}
	id := strings.TrimSuffix(strings.TrimPrefix(path, prefix), suffix)
	if id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}

// Start begins listening. Blocks until the server stops.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop shuts the server down.
func (s *Server) Stop() error {
	return s.server.Close()
}

// -----------------------------------------------------------------------
// Envelope
// -----------------------------------------------------------------------

type envelope struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Detail  string `json:"detail,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func writeSuccess(w http.ResponseWriter, message string, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(envelope{Status: "success", Message: message, Data: data})
}

func writeError(w http.ResponseWriter, code int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(envelope{Status: "error", Detail: detail})
}

// -----------------------------------------------------------------------
// Auth middleware
// -----------------------------------------------------------------------

func (s *Server) requireAPIKey(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" {
			next(w, r)
			return
		}
		if r.Header.Get("X-API-Key") != s.apiKey {
			writeError(w, http.StatusUnauthorized, "invalid or missing X-API-Key")
			return
		}
		next(w, r)
	}
}

// -----------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------

func (s *Server) handleRegisterServer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var srv registry.RuntimeServer
	if err := json.NewDecoder(r.Body).Decode(&srv); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if srv.ServerID == "" {
		writeError(w, http.StatusBadRequest, "server_id is required")
		return
	}
	if srv.Status == "" {
		srv.Status = registry.StatusOnline
	}
	s.reg.RegisterServer(srv)
	s.refreshGauges()
	s.log.Infof("server %s registered (%s:%d)", srv.ServerID, srv.Host, srv.Port)
	writeSuccess(w, "server registered", nil)
}

func (s *Server) handleUnregisterServer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/servers/unregister/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "server id is required")
		return
	}
	if err := s.reg.UnregisterServer(id); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.refreshGauges()
	s.log.Infof("server %s unregistered", id)
	writeSuccess(w, "server unregistered", nil)
}

func (s *Server) handleListServers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeSuccess(w, "", map[string]any{"servers": s.reg.ListServers()})
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request, serverID string) {
	var srv registry.RuntimeServer
	if err := json.NewDecoder(r.Body).Decode(&srv); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	srv.ServerID = serverID

	if err := s.reg.UpdateServerCapacity(serverID, srv.Capacity); err != nil {
		// Unknown server: auto-register, per the spec's heartbeat contract.
		if srv.Status == "" {
			srv.Status = registry.StatusOnline
		}
		s.reg.RegisterServer(srv)
		s.log.Infof("server %s auto-registered via heartbeat", serverID)
	}
	if s.m != nil {
		s.m.HeartbeatsReceived.Inc()
	}
	s.refreshGauges()
	writeSuccess(w, "heartbeat accepted", nil)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeSuccess(w, "", map[string]any{"sessions": s.reg.ListSessions()})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/sessions/")
	sess, err := s.reg.GetSession(id)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeSuccess(w, "", sess)
}

func (s *Server) refreshGauges() {
	if s.m == nil {
		return
	}
	servers := s.reg.ListServers()
	online, offline := 0, 0
	for _, srv := range servers {
		if srv.Status == registry.StatusOnline {
			online++
		} else if srv.Status == registry.StatusOffline {
			offline++
		}
	}
	s.m.SetFleetGauges(online, offline, len(s.reg.ListSessions()))
}
