// Package main implements the runtimefleet-worker CLI using Cobra, the
// counterpart of runtimefleet-proxy's root command.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/drsoft-oss/runtimefleet/internal/agent"
	"github.com/drsoft-oss/runtimefleet/internal/config"
	"github.com/drsoft-oss/runtimefleet/internal/driver"
	"github.com/drsoft-oss/runtimefleet/internal/logging"
	"github.com/drsoft-oss/runtimefleet/internal/store"
)

var version = "dev"

var (
	flagProxyURL          string
	flagHost              string
	flagPort              int
	flagServerID          string
	flagHeartbeatInterval string
	flagMaxSessions       int
	flagStateDir          string
)

var rootCmd = &cobra.Command{
	Use:   "runtimefleet-worker",
	Short: "Registers a runtime server with the proxy and keeps it alive via heartbeats",
	Long: `runtimefleet-worker registers this host as a runtime server with the
proxy named by --proxy-url (or OPENHANDS_PROXY_URL), then posts a heartbeat
with live CPU/memory telemetry on --heartbeat-interval until it receives a
shutdown signal, at which point it unregisters cleanly.
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
	f := rootCmd.Flags()
	f.StringVar(&flagProxyURL, "proxy-url", "", "Base URL of the proxy to register with (required; falls back to OPENHANDS_PROXY_URL)")
	f.StringVar(&flagHost, "host", "", "Host this worker's runtime API is reachable on (falls back to WORKER_HOST)")
	f.IntVar(&flagPort, "port", 0, "Port this worker's runtime API is reachable on (falls back to WORKER_PORT)")
	f.StringVar(&flagServerID, "server-id", "", "Stable server id (default: a fresh UUID, falls back to WORKER_SERVER_ID)")
	f.StringVar(&flagHeartbeatInterval, "heartbeat-interval", "30s", "Interval between heartbeat POSTs")
	f.IntVar(&flagMaxSessions, "max-sessions", 100, "Advertised session capacity")
	f.StringVar(&flagStateDir, "state-dir", "", "Directory for persisting runtime bookkeeping across restarts (empty disables persistence)")
}

func run(_ *cobra.Command, _ []string) error {
	envCfg, err := config.LoadWorkerConfig()
	if err != nil && flagProxyURL == "" {
		return fmt.Errorf("load config: %w", err)
	}
	if flagProxyURL == "" {
		flagProxyURL = envCfg.ProxyURL
	}
	if flagHost == "" {
		flagHost = envCfg.Host
	}
	if flagPort == 0 {
		flagPort = envCfg.Port
	}
	if flagServerID == "" {
		flagServerID = envCfg.ServerID
	}

	heartbeatInterval, err := time.ParseDuration(flagHeartbeatInterval)
	if err != nil {
		return fmt.Errorf("--heartbeat-interval: %w", err)
	}

	log := logging.Default("[worker]")
	drv := driver.NewNoopDriver(log.With("driver"))

	var st store.Store
	if flagStateDir != "" {
		fileStore, err := store.NewFileStore(flagStateDir)
		if err != nil {
			return fmt.Errorf("init state store: %w", err)
		}
		st = fileStore
	}

	a := agent.New(agent.Config{
		ProxyURL:          flagProxyURL,
		Host:              flagHost,
		Port:              flagPort,
		ServerID:          flagServerID,
		HeartbeatInterval: heartbeatInterval,
		MaxSessions:       flagMaxSessions,
		Driver:            drv,
		Store:             st,
	}, log.With("agent"))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.Start(ctx); err != nil {
		return fmt.Errorf("register with proxy: %w", err)
	}
	log.Infof("registered as %s with %s", a.ServerID(), flagProxyURL)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	log.Infof("received %s — unregistering", sig)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	a.Stop(stopCtx)
	return nil
}
