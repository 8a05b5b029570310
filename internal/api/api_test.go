package api

import (
	"bytes"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/drsoft-oss/runtimefleet/internal/forwarder"
	"github.com/drsoft-oss/runtimefleet/internal/metrics"
	"github.com/drsoft-oss/runtimefleet/internal/registry"
	"github.com/drsoft-oss/runtimefleet/internal/router"
)

func newTestServer(t *testing.T) (*Server, *registry.Registry) {
	t.Helper()
	reg := registry.New()
	r := router.New(reg, nil)
	fwd := forwarder.New(r, nil, nil)
	promReg := prometheus.NewRegistry()
	m := metrics.New(promReg)
	return New(Config{Addr: "127.0.0.1:0"}, reg, fwd, m, promReg, nil), reg
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		r = httptest.NewRequest(method, path, bytes.NewReader(b))
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestColdRegistrationAndList(t *testing.T) {
	s, _ := newTestServer(t)
	w := doJSON(t, s.server.Handler, http.MethodPost, "/servers/register", registry.RuntimeServer{
		ServerID: "A",
		Host:     "h1",
		Port:     9001,
		Capacity: registry.Capacity{MaxSessions: 10, LastUpdated: time.Now()},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("register: expected 200, got %d body=%s", w.Code, w.Body.String())
	}

	w = doJSON(t, s.server.Handler, http.MethodGet, "/servers", nil)
	var resp struct {
		Status string `json:"status"`
		Data   struct {
			Servers []registry.RuntimeServer `json:"servers"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Data.Servers) != 1 || resp.Data.Servers[0].Status != registry.StatusOnline {
		t.Fatalf("expected one online server, got %+v", resp.Data.Servers)
	}
}

func TestLeastLoadedSelectionViaCatchAll(t *testing.T) {
	s, reg := newTestServer(t)
	reg.RegisterServer(registry.RuntimeServer{ServerID: "A", Host: "h1", Port: 1, Status: registry.StatusOnline,
		Capacity: registry.Capacity{MaxSessions: 10, CurrentSessions: 5, LastUpdated: time.Now()}})

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()
	u, err := url.Parse(upstream.URL)
	if err != nil {
		t.Fatalf("parse upstream url: %v", err)
	}
	host, portStr, err := net.SplitHostPort(u.Host)
	if err != nil {
		t.Fatalf("split host port: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}
	reg.RegisterServer(registry.RuntimeServer{ServerID: "B", Host: host, Port: port, Status: registry.StatusOnline,
		Capacity: registry.Capacity{MaxSessions: 10, CurrentSessions: 2, LastUpdated: time.Now()}})

	w := doJSON(t, s.server.Handler, http.MethodGet, "/some/path", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected request routed to B and succeed, got %d", w.Code)
	}

	w = doJSON(t, s.server.Handler, http.MethodGet, "/sessions", nil)
	var resp struct {
		Data struct {
			Sessions []registry.SessionInfo `json:"sessions"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Data.Sessions) != 1 || resp.Data.Sessions[0].ServerID != "B" {
		t.Fatalf("expected one session bound to B, got %+v", resp.Data.Sessions)
	}
}

func TestCascadeDeleteViaAPI(t *testing.T) {
	s, reg := newTestServer(t)
	reg.RegisterServer(registry.RuntimeServer{ServerID: "A", Host: "h1", Port: 1, Status: registry.StatusOnline,
		Capacity: registry.Capacity{MaxSessions: 10, LastUpdated: time.Now()}})
	if err := reg.RegisterSession(registry.SessionInfo{SessionID: "S1", ServerID: "A"}); err != nil {
		t.Fatalf("register session: %v", err)
	}

	w := doJSON(t, s.server.Handler, http.MethodPost, "/servers/unregister/A", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("unregister: expected 200, got %d", w.Code)
	}

	w = doJSON(t, s.server.Handler, http.MethodGet, "/sessions/S1", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for cascaded session, got %d", w.Code)
	}
}

func TestHeartbeatAutoRegistersUnknownServer(t *testing.T) {
	s, reg := newTestServer(t)
	w := doJSON(t, s.server.Handler, http.MethodPost, "/servers/new-worker/heartbeat", registry.RuntimeServer{
		Host: "h9", Port: 9, Capacity: registry.Capacity{MaxSessions: 5, LastUpdated: time.Now()},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("heartbeat: expected 200, got %d body=%s", w.Code, w.Body.String())
	}
	srv, err := reg.GetServer("new-worker")
	if err != nil {
		t.Fatalf("expected auto-registered server: %v", err)
	}
	if srv.Status != registry.StatusOnline {
		t.Fatalf("expected auto-registered server online, got %s", srv.Status)
	}
}

func TestAPIKeyRequiredWhenConfigured(t *testing.T) {
	reg := registry.New()
	r := router.New(reg, nil)
	fwd := forwarder.New(r, nil, nil)
	promReg := prometheus.NewRegistry()
	m := metrics.New(promReg)
	s := New(Config{Addr: "127.0.0.1:0", APIKey: "secret"}, reg, fwd, m, promReg, nil)

	w := doJSON(t, s.server.Handler, http.MethodGet, "/servers", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without key, got %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/servers", nil)
	req.Header.Set("X-API-Key", "secret")
	w2 := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(w2, req)
	if w2.Code != http.StatusOK {
		t.Fatalf("expected 200 with correct key, got %d", w2.Code)
	}
}
