// Package config loads process configuration from environment variables,
// the way the spec's external-interface contract requires and the way
// GoSessionEngine's config package structures defaults: a plain struct with
// a DefaultX() constructor, overridden field-by-field from the process
// environment rather than a config file, since the whole surface here is a
// handful of scalars.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// ProxyConfig configures the Proxy binary.
type ProxyConfig struct {
	APIKey                string
	HealthCheckInterval   time.Duration
	SessionTimeout        time.Duration
	Host                  string
	Port                  int
}

// DefaultProxyConfig returns the proxy's defaults before env overrides.
func DefaultProxyConfig() ProxyConfig {
	return ProxyConfig{
		APIKey:              "default_key",
		HealthCheckInterval: 30 * time.Second,
		SessionTimeout:      time.Hour,
		Host:                "0.0.0.0",
		Port:                8080,
	}
}

// LoadProxyConfig builds a ProxyConfig from DefaultProxyConfig overridden by
// OPENHANDS_PROXY_API_KEY, HEALTH_CHECK_INTERVAL, SESSION_TIMEOUT,
// PROXY_HOST, and PROXY_PORT.
func LoadProxyConfig() (ProxyConfig, error) {
	cfg := DefaultProxyConfig()

	if v, ok := os.LookupEnv("OPENHANDS_PROXY_API_KEY"); ok && v != "" {
		cfg.APIKey = v
	}
	if v, ok := os.LookupEnv("HEALTH_CHECK_INTERVAL"); ok && v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return ProxyConfig{}, fmt.Errorf("HEALTH_CHECK_INTERVAL: %w", err)
		}
		cfg.HealthCheckInterval = time.Duration(secs) * time.Second
	}
	if v, ok := os.LookupEnv("SESSION_TIMEOUT"); ok && v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return ProxyConfig{}, fmt.Errorf("SESSION_TIMEOUT: %w", err)
		}
		cfg.SessionTimeout = time.Duration(secs) * time.Second
	}
	if v, ok := os.LookupEnv("PROXY_HOST"); ok && v != "" {
		cfg.Host = v
	}
	if v, ok := os.LookupEnv("PROXY_PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return ProxyConfig{}, fmt.Errorf("PROXY_PORT: %w", err)
		}
		cfg.Port = port
	}
	return cfg, nil
}

// WorkerConfig configures the Worker Agent binary.
type WorkerConfig struct {
	ProxyURL         string
	Host             string
	Port             int
	ServerID         string
	HeartbeatInterval time.Duration
}

// DefaultWorkerConfig returns the worker's defaults before env overrides.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		HeartbeatInterval: 30 * time.Second,
	}
}

// LoadWorkerConfig builds a WorkerConfig from DefaultWorkerConfig overridden
// by OPENHANDS_PROXY_URL, WORKER_HOST, WORKER_PORT, and WORKER_SERVER_ID.
// ProxyURL is required.
func LoadWorkerConfig() (WorkerConfig, error) {
	cfg := DefaultWorkerConfig()

	cfg.ProxyURL = os.Getenv("OPENHANDS_PROXY_URL")
	if cfg.ProxyURL == "" {
		return WorkerConfig{}, fmt.Errorf("OPENHANDS_PROXY_URL is required")
	}
	cfg.Host = os.Getenv("WORKER_HOST")
	if cfg.Host == "" {
		cfg.Host = "0.0.0.0"
	}
	if v, ok := os.LookupEnv("WORKER_PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return WorkerConfig{}, fmt.Errorf("WORKER_PORT: %w", err)
		}
		cfg.Port = port
	} else {
		cfg.Port = 8000
	}
	cfg.ServerID = os.Getenv("WORKER_SERVER_ID")
	if cfg.ProxyURL == "" {
		return cfg, fmt.Errorf("OPENHANDS_PROXY_URL is required")
	}
	return cfg, nil
}
