// Package router maps an inbound client request to the runtime server that
// should handle it, generalizing the teacher's rotator.ProxyFor domain
// pinning (a map of pin-key to chosen backend, invalidated when the pinned
// backend drops out) from "destination domain" to "session id".
package router

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/drsoft-oss/runtimefleet/internal/balancer"
	"github.com/drsoft-oss/runtimefleet/internal/logging"
	"github.com/drsoft-oss/runtimefleet/internal/registry"
)

// ErrNoCapacity is returned when no server is eligible to host a new
// session.
var ErrNoCapacity = fmt.Errorf("no online server with available capacity")

// Decision is the outcome of routing a single request.
type Decision struct {
	Server    registry.RuntimeServer
	SessionID string
	// Synthesized is true when the request carried no session id and the
	// router generated one; callers should echo it back to the client.
	Synthesized bool
}

// Router resolves requests to servers, creating sticky session bindings on
// first contact.
type Router struct {
	reg *registry.Registry
	log *logging.Logger
}

// New creates a Router backed by reg.
func New(reg *registry.Registry, log *logging.Logger) *Router {
	if log == nil {
		log = logging.Default("[router]")
	}
	return &Router{reg: reg, log: log}
}

// Route resolves sessionID (may be empty) to a target server, per the
// affinity-with-fallback contract:
//  1. If sessionID is present and bound to a server that is still online,
//     reuse that binding.
//  2. Otherwise ask the Balancer for the least-loaded online server. If the
//     session existed but its bound server had gone offline, the offline
//     server's stale binding is torn down and replaced with the new one,
//     since a session may only ever point at one server at a time.
//  3. If sessionID was absent, synthesize a fresh UUID.
//
// The router never selects an offline server even via affinity — the
// source this is modeled on skips that check; the routing contract amends
// it explicitly.
func (r *Router) Route(sessionID string) (Decision, error) {
	synthesized := false
	if sessionID == "" {
		sessionID = uuid.NewString()
		synthesized = true
	}

	if !synthesized {
		if sess, err := r.reg.GetSession(sessionID); err == nil {
			if srv, err := r.reg.GetServer(sess.ServerID); err == nil && srv.Status == registry.StatusOnline {
				return Decision{Server: srv, SessionID: sessionID}, nil
			}
			// Bound server is gone or offline: drop the stale binding so a
			// fresh one can be created against a healthy server below.
			if err := r.reg.UnregisterSession(sessionID); err != nil {
				r.log.Errorf("drop stale session %s: %v", sessionID, err)
			}
		}
	}

	srv, ok := balancer.Select(r.reg.ListServers())
	if !ok {
		return Decision{}, ErrNoCapacity
	}

	now := time.Now()
	err := r.reg.RegisterSession(registry.SessionInfo{
		SessionID:  sessionID,
		ServerID:   srv.ServerID,
		CreatedAt:  now,
		LastActive: now,
		Metadata:   map[string]string{},
	})
	if err != nil {
		return Decision{}, fmt.Errorf("bind session %s to %s: %w", sessionID, srv.ServerID, err)
	}

	return Decision{Server: srv, SessionID: sessionID, Synthesized: synthesized}, nil
}

// Touch bumps the session's last-active timestamp; called by the forwarder
// after every proxied request, whether or not the upstream call succeeded.
func (r *Router) Touch(sessionID string) {
	if err := r.reg.TouchSession(sessionID, time.Now()); err != nil {
		r.log.Errorf("touch session %s: %v", sessionID, err)
	}
}
