// Package heartbeat runs the background liveness sweep that marks silent
// runtime servers offline. Its shape — Config struct, ticker-driven loop,
// Start/Stop lifecycle with a stop channel and WaitGroup, and a RunOnce
// method callable standalone before the first tick — is carried over from
// the teacher's internal/monitor package, generalized from proxy
// health-probing to registry liveness sweeping.
package heartbeat

import (
	"sync"
	"time"

	"github.com/drsoft-oss/runtimefleet/internal/logging"
	"github.com/drsoft-oss/runtimefleet/internal/registry"
)

const (
	defaultTimeout  = 60 * time.Second
	defaultInterval = 30 * time.Second
)

// Config controls the sweep cadence and offline threshold.
type Config struct {
	// Timeout is how long a server may go without a fresh heartbeat before
	// it is marked offline.
	Timeout time.Duration

	// Interval is the sleep between sweeps.
	Interval time.Duration

	// OnOffline is invoked for every server transitioned to offline during
	// a sweep. It is the extension point the spec calls an
	// offline-notification hook; nil means no-op, matching the teacher's
	// bare log-only transition notice generalized into a callback.
	OnOffline func(serverID string)
}

// Checker owns the background sweep goroutine.
type Checker struct {
	reg *registry.Registry
	cfg Config
	log *logging.Logger

	stop chan struct{}
	wg   sync.WaitGroup
}

// New creates a Checker. Call Start to begin sweeping in the background.
func New(reg *registry.Registry, cfg Config, log *logging.Logger) *Checker {
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Interval == 0 {
		cfg.Interval = defaultInterval
	}
	if log == nil {
		log = logging.Default("[heartbeat]")
	}
	return &Checker{reg: reg, cfg: cfg, log: log, stop: make(chan struct{})}
}

// Start launches the background sweep goroutine.
func (c *Checker) Start() {
	c.wg.Add(1)
	go c.loop()
}

// Stop signals the sweep loop to exit and waits for it to finish. The loop's
// only suspension point is the inter-sweep sleep, so shutdown is honored
// within one sleep quantum.
func (c *Checker) Stop() {
	close(c.stop)
	c.wg.Wait()
}

// RunOnce performs a single sweep over the current server snapshot. Safe to
// call directly (e.g. once at startup before the first tick).
func (c *Checker) RunOnce() {
	now := time.Now()
	servers := c.reg.ListServers()

	offlined := 0
	for _, s := range servers {
		if s.Status == registry.StatusOffline {
			continue
		}
		if now.Sub(s.Capacity.LastUpdated) <= c.cfg.Timeout {
			continue
		}
		if err := c.reg.UpdateServerStatus(s.ServerID, registry.StatusOffline); err != nil {
			c.log.Errorf("mark %s offline: %v", s.ServerID, err)
			continue
		}
		c.log.Infof("server %s marked offline (silent for %s)", s.ServerID, now.Sub(s.Capacity.LastUpdated).Round(time.Second))
		offlined++
		if c.cfg.OnOffline != nil {
			c.cfg.OnOffline(s.ServerID)
		}
	}
	if offlined > 0 {
		c.log.Infof("sweep complete: %d server(s) transitioned offline", offlined)
	}
}

func (c *Checker) loop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.safeRunOnce()
		case <-c.stop:
			return
		}
	}
}

// safeRunOnce guards the sweep against panics from a single misbehaving
// check so that one broken server can't kill the whole background task —
// the spec requires the checker to log and continue on any failure.
func (c *Checker) safeRunOnce() {
	defer func() {
		if r := recover(); r != nil {
			c.log.Errorf("sweep panicked, continuing: %v", r)
		}
	}()
	c.RunOnce()
}
