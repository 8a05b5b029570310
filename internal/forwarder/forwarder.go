// Package forwarder dispatches a routed request to its target runtime
// server and relays the response back verbatim. It wraps
// net/http/httputil.ReverseProxy with a per-request Director that points at
// whichever server the Router chose, the same "build one reverse proxy,
// rewrite the Director per destination" idiom used elsewhere in the pack for
// multi-backend fan-out, generalized here from the teacher's raw-socket
// CONNECT tunnel (which has no equivalent in a plain-HTTP upstream world).
package forwarder

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/drsoft-oss/runtimefleet/internal/logging"
	"github.com/drsoft-oss/runtimefleet/internal/metrics"
	"github.com/drsoft-oss/runtimefleet/internal/router"
)

// SessionHeader is the header carrying the client's session identifier.
const SessionHeader = "X-Session-Id"

// Forwarder routes and proxies client requests.
type Forwarder struct {
	router *router.Router
	log    *logging.Logger
	m      *metrics.Metrics
}

// New creates a Forwarder.
func New(r *router.Router, log *logging.Logger, m *metrics.Metrics) *Forwarder {
	if log == nil {
		log = logging.Default("[forwarder]")
	}
	return &Forwarder{router: r, log: log, m: m}
}

// ServeHTTP implements the catch-all proxy route.
func (f *Forwarder) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	sessionID := req.Header.Get(SessionHeader)

	dec, err := f.router.Route(sessionID)
	if err != nil {
		if errors.Is(err, router.ErrNoCapacity) {
			writeEnvelopeError(w, http.StatusServiceUnavailable, "no online server with available capacity")
			if f.m != nil {
				f.m.NoCapacity.Inc()
			}
			return
		}
		f.log.Errorf("route request: %v", err)
		writeEnvelopeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	target := &url.URL{Scheme: "http", Host: fmt.Sprintf("%s:%d", dec.Server.Host, dec.Server.Port)}

	proxy := &httputil.ReverseProxy{
		Director: func(r *http.Request) {
			r.URL.Scheme = target.Scheme
			r.URL.Host = target.Host
			r.Host = target.Host

			xff := r.Header.Get("X-Forwarded-For")
			if xff == "" {
				xff = peerAddr(r)
			}
			r.Header.Set("X-Forwarded-For", xff)
		},
		ModifyResponse: func(resp *http.Response) error {
			if dec.Synthesized {
				resp.Header.Set(SessionHeader, dec.SessionID)
			}
			return nil
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			f.log.Errorf("upstream %s (%s) error: %v", dec.Server.ServerID, target.Host, err)
			writeEnvelopeError(w, http.StatusBadGateway, fmt.Sprintf("upstream error: %v", err))
			if f.m != nil {
				f.m.UpstreamErrors.Inc()
			}
		},
	}

	start := time.Now()
	proxy.ServeHTTP(w, req)
	f.router.Touch(dec.SessionID)
	if f.m != nil {
		f.m.ObserveRequest(dec.Server.ServerID, time.Since(start))
	}
}

func peerAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type envelope struct {
	Status string `json:"status"`
	Detail string `json:"detail"`
}

func writeEnvelopeError(w http.ResponseWriter, code int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(envelope{Status: "error", Detail: detail})
}
