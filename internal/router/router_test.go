package router

import (
	"errors"
	"testing"
	"time"

	"github.com/drsoft-oss/runtimefleet/internal/registry"
)

func onlineServer(id string, cur, max int) registry.RuntimeServer {
	return registry.RuntimeServer{
		ServerID: id,
		Host:     "h",
		Port:     9000,
		Status:   registry.StatusOnline,
		Capacity: registry.Capacity{MaxSessions: max, CurrentSessions: cur, LastUpdated: time.Now()},
	}
}

func TestRouteNoSessionPicksLeastLoaded(t *testing.T) {
	reg := registry.New()
	reg.RegisterServer(onlineServer("A", 5, 10))
	reg.RegisterServer(onlineServer("B", 1, 10))

	r := New(reg, nil)
	dec, err := r.Route("")
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if dec.Server.ServerID != "B" {
		t.Fatalf("expected B, got %s", dec.Server.ServerID)
	}
	if !dec.Synthesized || dec.SessionID == "" {
		t.Fatalf("expected a synthesized session id")
	}

	sessions := reg.GetSessionsByServer("B")
	if len(sessions) != 1 {
		t.Fatalf("expected one session bound to B, got %d", len(sessions))
	}
}

func TestRouteAffinityStaysOnSameServer(t *testing.T) {
	reg := registry.New()
	reg.RegisterServer(onlineServer("A", 0, 10))
	reg.RegisterServer(onlineServer("B", 0, 10))

	r := New(reg, nil)
	first, err := r.Route("S1")
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	second, err := r.Route("S1")
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if first.Server.ServerID != second.Server.ServerID {
		t.Fatalf("expected sticky routing, got %s then %s", first.Server.ServerID, second.Server.ServerID)
	}
}

func TestRouteFallsThroughWhenBoundServerOffline(t *testing.T) {
	reg := registry.New()
	reg.RegisterServer(onlineServer("A", 0, 10))

	r := New(reg, nil)
	first, err := r.Route("S1")
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if first.Server.ServerID != "A" {
		t.Fatalf("expected A, got %s", first.Server.ServerID)
	}

	if err := reg.UpdateServerStatus("A", registry.StatusOffline); err != nil {
		t.Fatalf("update status: %v", err)
	}
	reg.RegisterServer(onlineServer("B", 0, 10))

	second, err := r.Route("S1")
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if second.Server.ServerID != "B" {
		t.Fatalf("expected fallback to B, got %s", second.Server.ServerID)
	}
}

func TestRouteNoCapacity(t *testing.T) {
	reg := registry.New()
	r := New(reg, nil)
	_, err := r.Route("")
	if !errors.Is(err, ErrNoCapacity) {
		t.Fatalf("expected ErrNoCapacity, got %v", err)
	}
}

func TestTouchBumpsLastActive(t *testing.T) {
	reg := registry.New()
	reg.RegisterServer(onlineServer("A", 0, 10))
	r := New(reg, nil)
	dec, err := r.Route("S1")
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	before, err := reg.GetSession(dec.SessionID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	time.Sleep(time.Millisecond)
	r.Touch(dec.SessionID)
	after, err := reg.GetSession(dec.SessionID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if !after.LastActive.After(before.LastActive) {
		t.Fatalf("expected last_active to advance")
	}
}
