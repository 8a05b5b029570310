// Package main implements the runtimefleet-proxy CLI using Cobra, following
// the flag-vars-plus-init()-plus-RunE shape of the teacher's cmd/root.go.
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/drsoft-oss/runtimefleet/internal/api"
	"github.com/drsoft-oss/runtimefleet/internal/config"
	"github.com/drsoft-oss/runtimefleet/internal/forwarder"
	"github.com/drsoft-oss/runtimefleet/internal/heartbeat"
	"github.com/drsoft-oss/runtimefleet/internal/logging"
	"github.com/drsoft-oss/runtimefleet/internal/metrics"
	"github.com/drsoft-oss/runtimefleet/internal/registry"
	"github.com/drsoft-oss/runtimefleet/internal/router"
)

// version is injected at build time via ldflags.
var version = "dev"

// -----------------------------------------------------------------------
// Flag variables
// -----------------------------------------------------------------------

var (
	flagHost              string
	flagPort              int
	flagAPIKey            string
	flagHealthInterval    string
	flagSessionTimeout    string
	flagHeartbeatTimeout  string
)

// -----------------------------------------------------------------------
// Root command
// -----------------------------------------------------------------------

var rootCmd = &cobra.Command{
	Use:   "runtimefleet-proxy",
	Short: "Control-plane proxy and session router for a runtime-server fleet",
	Long: `runtimefleet-proxy routes session-bound client requests to the runtime
server that hosts them, load-balancing new sessions across whichever
online worker has the most spare capacity.

Workers register themselves and post periodic heartbeats; a silent worker
is marked offline and its sessions fall back to the balancer on their next
request. Flags fall back to the OPENHANDS_PROXY_API_KEY, HEALTH_CHECK_INTERVAL,
SESSION_TIMEOUT, PROXY_HOST, and PROXY_PORT environment variables when unset.
`,
	Version:      version,
	SilenceUsage: true,
	RunE:         run,
}

// Execute is the entry point called from main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cfg := config.DefaultProxyConfig()

	f := rootCmd.Flags()
	f.StringVar(&flagHost, "host", cfg.Host, "Address to bind the proxy HTTP surface on")
	f.IntVar(&flagPort, "port", cfg.Port, "Port to bind the proxy HTTP surface on")
	f.StringVar(&flagAPIKey, "api-key", "", "Required X-API-Key for /servers and /sessions routes (falls back to OPENHANDS_PROXY_API_KEY; an empty key disables auth)")
	f.StringVar(&flagHealthInterval, "heartbeat-check-interval", "30s", "Sleep between heartbeat sweeps")
	f.StringVar(&flagSessionTimeout, "session-timeout", "1h", "Reserved for future session-expiry enforcement")
	f.StringVar(&flagHeartbeatTimeout, "heartbeat-timeout", "60s", "Silence duration after which a server is marked offline")
}

// -----------------------------------------------------------------------
// Main run logic
// -----------------------------------------------------------------------

func run(_ *cobra.Command, _ []string) error {
	envCfg, err := config.LoadProxyConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if !rootCmd.Flags().Changed("host") {
		flagHost = envCfg.Host
	}
	if !rootCmd.Flags().Changed("port") {
		flagPort = envCfg.Port
	}
	if !rootCmd.Flags().Changed("heartbeat-check-interval") {
		flagHealthInterval = envCfg.HealthCheckInterval.String()
	}
	if !rootCmd.Flags().Changed("session-timeout") {
		flagSessionTimeout = envCfg.SessionTimeout.String()
	}
	if flagAPIKey == "" {
		flagAPIKey = envCfg.APIKey
		if flagAPIKey == "default_key" {
			flagAPIKey = "" // the reference default key means "auth disabled"
		}
	}

	heartbeatCheckInterval, err := time.ParseDuration(flagHealthInterval)
	if err != nil {
		return fmt.Errorf("--heartbeat-check-interval: %w", err)
	}
	heartbeatTimeout, err := time.ParseDuration(flagHeartbeatTimeout)
	if err != nil {
		return fmt.Errorf("--heartbeat-timeout: %w", err)
	}

	log := logging.Default("[proxy]")

	reg := registry.New()
	promReg := prometheus.NewRegistry()
	m := metrics.New(promReg)

	hb := heartbeat.New(reg, heartbeat.Config{
		Timeout:  heartbeatTimeout,
		Interval: heartbeatCheckInterval,
		OnOffline: func(id string) {
			m.OfflineTransitions.Inc()
		},
	}, log.With("heartbeat"))
	hb.Start()
	defer hb.Stop()

	rt := router.New(reg, log.With("router"))
	fwd := forwarder.New(rt, log.With("forwarder"), m)

	addr := fmt.Sprintf("%s:%d", flagHost, flagPort)
	apiSrv := api.New(api.Config{Addr: addr, APIKey: flagAPIKey}, reg, fwd, m, promReg, log.With("api"))

	log.Infof("listening on http://%s (auth=%v)", addr, flagAPIKey != "")

	srvErr := make(chan error, 1)
	go func() { srvErr <- apiSrv.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Infof("received %s — shutting down", sig)
	case err := <-srvErr:
		if err != nil && err != http.ErrServerClosed {
			log.Errorf("server error: %v", err)
		}
	}

	return apiSrv.Stop()
}
