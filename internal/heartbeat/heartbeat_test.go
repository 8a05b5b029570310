package heartbeat

import (
	"testing"
	"time"

	"github.com/drsoft-oss/runtimefleet/internal/registry"
)

func TestRunOnceMarksStaleServerOffline(t *testing.T) {
	reg := registry.New()
	reg.RegisterServer(registry.RuntimeServer{
		ServerID: "A",
		Status:   registry.StatusOnline,
		Capacity: registry.Capacity{
			MaxSessions: 10,
			LastUpdated: time.Now().Add(-2 * time.Minute),
		},
	})

	var notified []string
	c := New(reg, Config{Timeout: 60 * time.Second, OnOffline: func(id string) {
		notified = append(notified, id)
	}}, nil)
	c.RunOnce()

	s, err := reg.GetServer("A")
	if err != nil {
		t.Fatalf("get server: %v", err)
	}
	if s.Status != registry.StatusOffline {
		t.Fatalf("expected offline, got %s", s.Status)
	}
	if len(notified) != 1 || notified[0] != "A" {
		t.Fatalf("expected offline hook called for A, got %v", notified)
	}
}

func TestRunOnceSkipsFreshServer(t *testing.T) {
	reg := registry.New()
	reg.RegisterServer(registry.RuntimeServer{
		ServerID: "A",
		Status:   registry.StatusOnline,
		Capacity: registry.Capacity{MaxSessions: 10, LastUpdated: time.Now()},
	})

	c := New(reg, Config{Timeout: 60 * time.Second}, nil)
	c.RunOnce()

	s, err := reg.GetServer("A")
	if err != nil {
		t.Fatalf("get server: %v", err)
	}
	if s.Status != registry.StatusOnline {
		t.Fatalf("expected still online, got %s", s.Status)
	}
}

func TestRunOnceSkipsAlreadyOffline(t *testing.T) {
	reg := registry.New()
	reg.RegisterServer(registry.RuntimeServer{
		ServerID: "A",
		Status:   registry.StatusOffline,
		Capacity: registry.Capacity{MaxSessions: 10, LastUpdated: time.Now().Add(-time.Hour)},
	})

	calls := 0
	c := New(reg, Config{Timeout: 60 * time.Second, OnOffline: func(string) { calls++ }}, nil)
	c.RunOnce()

	if calls != 0 {
		t.Fatalf("expected no hook call for a server already offline, got %d", calls)
	}
}

func TestStartStopHonorsShutdown(t *testing.T) {
	reg := registry.New()
	c := New(reg, Config{Interval: 5 * time.Millisecond}, nil)
	c.Start()

	done := make(chan struct{})
	go func() {
		c.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Stop did not return promptly")
	}
}
