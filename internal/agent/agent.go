// Package agent implements the worker-side registration and heartbeat
// state machine: Init (register) -> Running (periodic heartbeat) -> Stop
// (unregister). It is modeled directly on
// RuntimeRegistrationClient.start/_heartbeat_loop/stop from the system this
// was distilled from, with the ticker-driven loop shape (stop channel,
// WaitGroup, sync.Once-guarded close of the stop channel in Stop) carried over from the teacher's
// monitor/rotator background-loop idiom.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/drsoft-oss/runtimefleet/internal/driver"
	"github.com/drsoft-oss/runtimefleet/internal/logging"
	"github.com/drsoft-oss/runtimefleet/internal/registry"
	"github.com/drsoft-oss/runtimefleet/internal/store"
)

// Config configures one worker agent instance.
type Config struct {
	ProxyURL          string
	Host              string
	Port              int
	ServerID          string // defaults to a fresh UUID if empty
	HeartbeatInterval time.Duration
	MaxSessions       int
	HTTPClient        *http.Client

	// Driver controls the sandbox this worker hosts. Nil disables
	// sandbox lifecycle calls entirely.
	Driver driver.Driver
	// Store persists this worker's last-known registration state across
	// restarts. Nil disables persistence entirely.
	Store store.Store
}

// Agent registers with the Proxy, heartbeats on an interval, and
// unregisters on Stop.
type Agent struct {
	cfg Config
	log *logging.Logger
	hc  *http.Client

	// currentSessions is read by the capacity gatherer; callers update it
	// via SetCurrentSessions as the worker's own session count changes.
	mu               sync.RWMutex
	currentSessions  int

	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// New creates an Agent. server_id defaults to a fresh UUID when empty and
// remains fixed thereafter, per the registration contract.
func New(cfg Config, log *logging.Logger) *Agent {
	if cfg.ServerID == "" {
		cfg.ServerID = uuid.NewString()
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.MaxSessions == 0 {
		cfg.MaxSessions = 100
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if log == nil {
		log = logging.Default("[agent]")
	}
	return &Agent{cfg: cfg, log: log, hc: cfg.HTTPClient, stop: make(chan struct{})}
}

// ServerID returns this agent's fixed server id.
func (a *Agent) ServerID() string { return a.cfg.ServerID }

// SetCurrentSessions updates the session count reported on the next
// heartbeat.
func (a *Agent) SetCurrentSessions(n int) {
	a.mu.Lock()
	a.currentSessions = n
	a.mu.Unlock()
}

// Start creates this worker's sandbox, registers with the Proxy, persists
// the registration state, and launches the background heartbeat loop.
// Returns an error if sandbox creation or registration fails (startup-failed).
func (a *Agent) Start(ctx context.Context) error {
	if a.cfg.Driver != nil {
		if err := a.cfg.Driver.Create(ctx, a.cfg.ServerID); err != nil {
			return fmt.Errorf("startup-failed: create sandbox: %w", err)
		}
	}
	if err := a.register(ctx); err != nil {
		return fmt.Errorf("startup-failed: %w", err)
	}
	a.persistState(ctx)
	a.wg.Add(1)
	go a.heartbeatLoop()
	return nil
}

// Stop halts the heartbeat loop, unregisters from the Proxy, deletes this
// worker's persisted state, and tears down its sandbox. Failures during
// teardown are logged, not returned, matching the best-effort teardown
// contract.
func (a *Agent) Stop(ctx context.Context) {
	a.once.Do(func() { close(a.stop) })
	a.wg.Wait()
	if err := a.unregister(ctx); err != nil {
		a.log.Errorf("unregister during shutdown: %v", err)
	}
	if a.cfg.Store != nil {
		if err := a.cfg.Store.Delete(ctx, a.cfg.ServerID); err != nil {
			a.log.Errorf("delete persisted state during shutdown: %v", err)
		}
	}
	if a.cfg.Driver != nil {
		if err := a.cfg.Driver.Delete(ctx, a.cfg.ServerID); err != nil {
			a.log.Errorf("delete sandbox during shutdown: %v", err)
		}
	}
}

// persistState writes the current registration payload to Store, if
// configured. Failures are logged, not fatal: losing the on-disk snapshot
// doesn't affect the live heartbeat loop, only a future restart's recovery.
func (a *Agent) persistState(ctx context.Context) {
	if a.cfg.Store == nil {
		return
	}
	payload, err := a.registrationPayload()
	if err != nil {
		a.log.Errorf("gather state for persistence: %v", err)
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		a.log.Errorf("marshal state for persistence: %v", err)
		return
	}
	if err := a.cfg.Store.Write(ctx, a.cfg.ServerID, data); err != nil {
		a.log.Errorf("persist state: %v", err)
	}
}

func (a *Agent) heartbeatLoop() {
	defer a.wg.Done()
	ticker := time.NewTicker(a.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), a.cfg.HeartbeatInterval)
			if err := a.heartbeat(ctx); err != nil {
				a.log.Errorf("heartbeat failed, continuing: %v", err)
			}
			cancel()
		case <-a.stop:
			return
		}
	}
}

func (a *Agent) register(ctx context.Context) error {
	payload, err := a.registrationPayload()
	if err != nil {
		return err
	}
	return a.post(ctx, fmt.Sprintf("%s/servers/register", a.cfg.ProxyURL), payload)
}

func (a *Agent) heartbeat(ctx context.Context) error {
	payload, err := a.registrationPayload()
	if err != nil {
		return err
	}
	return a.post(ctx, fmt.Sprintf("%s/servers/%s/heartbeat", a.cfg.ProxyURL, a.cfg.ServerID), payload)
}

func (a *Agent) unregister(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/servers/unregister/%s", a.cfg.ProxyURL, a.cfg.ServerID), nil)
	if err != nil {
		return err
	}
	resp, err := a.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("unregister: unexpected status %d", resp.StatusCode)
	}
	return nil
}

func (a *Agent) post(ctx context.Context, url string, payload registry.RuntimeServer) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.hc.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("post %s: unexpected status %d", url, resp.StatusCode)
	}
	return nil
}

// registrationPayload assembles the current RuntimeServer view of this
// worker, gathering live CPU/memory telemetry the way
// _get_capacity gathers it via psutil.
func (a *Agent) registrationPayload() (registry.RuntimeServer, error) {
	cap, err := a.gatherCapacity()
	if err != nil {
		return registry.RuntimeServer{}, err
	}
	return registry.RuntimeServer{
		ServerID: a.cfg.ServerID,
		Host:     a.cfg.Host,
		Port:     a.cfg.Port,
		Status:   registry.StatusOnline,
		Capacity: cap,
		Metadata: map[string]string{},
	}, nil
}

func (a *Agent) gatherCapacity() (registry.Capacity, error) {
	cpuUsage := 0.0
	if pcts, err := cpu.Percent(0, false); err == nil && len(pcts) > 0 {
		cpuUsage = pcts[0]
	} else if err != nil {
		a.log.Errorf("read cpu usage: %v", err)
	}

	memUsage := 0.0
	if vm, err := mem.VirtualMemory(); err == nil {
		memUsage = vm.UsedPercent
	} else {
		a.log.Errorf("read memory usage: %v", err)
	}

	a.mu.RLock()
	current := a.currentSessions
	a.mu.RUnlock()

	return registry.Capacity{
		MaxSessions:     a.cfg.MaxSessions,
		CurrentSessions: current,
		CPUUsage:        cpuUsage,
		MemoryUsage:     memUsage,
		LastUpdated:     time.Now(),
	}, nil
}
