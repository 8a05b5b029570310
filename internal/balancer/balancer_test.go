package balancer

import (
	"testing"

	"github.com/drsoft-oss/runtimefleet/internal/registry"
)

func srv(id string, cur, max int, status registry.Status) registry.RuntimeServer {
	return registry.RuntimeServer{
		ServerID: id,
		Status:   status,
		Capacity: registry.Capacity{MaxSessions: max, CurrentSessions: cur},
	}
}

func TestSelectPicksLeastLoaded(t *testing.T) {
	servers := []registry.RuntimeServer{
		srv("A", 5, 10, registry.StatusOnline),
		srv("B", 2, 10, registry.StatusOnline),
		srv("C", 0, 10, registry.StatusOffline),
	}
	got, ok := Select(servers)
	if !ok {
		t.Fatalf("expected a selection")
	}
	if got.ServerID != "B" {
		t.Fatalf("expected B (load 0.2), got %s", got.ServerID)
	}
}

func TestSelectExcludesOffline(t *testing.T) {
	servers := []registry.RuntimeServer{
		srv("A", 0, 10, registry.StatusOffline),
		srv("B", 0, 10, registry.StatusMaintenance),
	}
	_, ok := Select(servers)
	if ok {
		t.Fatalf("expected no eligible server")
	}
}

func TestSelectExcludesZeroCapacity(t *testing.T) {
	servers := []registry.RuntimeServer{
		srv("A", 0, 0, registry.StatusOnline),
	}
	_, ok := Select(servers)
	if ok {
		t.Fatalf("expected zero-capacity server to be ineligible")
	}
}

func TestSelectTieBreaksLexicographically(t *testing.T) {
	servers := []registry.RuntimeServer{
		srv("zebra", 1, 10, registry.StatusOnline),
		srv("alpha", 1, 10, registry.StatusOnline),
		srv("mango", 1, 10, registry.StatusOnline),
	}
	got, ok := Select(servers)
	if !ok {
		t.Fatalf("expected a selection")
	}
	if got.ServerID != "alpha" {
		t.Fatalf("expected lexicographically-first tie winner alpha, got %s", got.ServerID)
	}
}

func TestSelectEmptyInput(t *testing.T) {
	_, ok := Select(nil)
	if ok {
		t.Fatalf("expected no selection from empty input")
	}
}
