// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package bridgeconfig loads the bridge's own startup descriptor —
// server socket URL, local HTTP listen address, and per-backend binary
// overrides — from a bridge.hjson file. This is process bootstrap, not a
// general configuration-file facility: the bridge has no other config
// surface.
package bridgeconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hjson/hjson-go/v4"
)

// BackendOverride lets an operator point a backend name at a non-default
// binary path or add extra argv.
type BackendOverride struct {
	BinaryPath string   `json:"binaryPath,omitempty"`
	ExtraArgs  []string `json:"extraArgs,omitempty"`
}

// Config is the bridge's startup descriptor.
type Config struct {
	ServerURL         string                     `json:"serverUrl"`
	APIBaseURL        string                     `json:"apiBaseUrl,omitempty"`
	HTTPListenAddr    string                     `json:"httpListenAddr"`
	HeartbeatInterval string                     `json:"heartbeatInterval"`
	ShutdownGrace     string                     `json:"shutdownGrace"`
	DefaultBackend    string                     `json:"defaultBackend,omitempty"`
	Backends          map[string]BackendOverride `json:"backends,omitempty"`
}

// HeartbeatIntervalDuration parses HeartbeatInterval, defaulting to 30s.
func (c *Config) HeartbeatIntervalDuration() time.Duration {
	return parseDurationOrDefault(c.HeartbeatInterval, 30*time.Second)
}

// ShutdownGraceDuration parses ShutdownGrace, defaulting to 5s.
func (c *Config) ShutdownGraceDuration() time.Duration {
	return parseDurationOrDefault(c.ShutdownGrace, 5*time.Second)
}

func parseDurationOrDefault(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

// Loader reads bridge.hjson files.
type Loader struct{}

// NewLoader creates a config loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load reads and parses the bridge descriptor at path.
func (l *Loader) Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read bridge config: %w", err)
	}

	var raw map[string]interface{}
	if err := hjson.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse hjson: %w", err)
	}

	jsonData, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("convert to json: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(jsonData, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal bridge config: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// FindConfig looks for bridge.hjson, then bridge.json, in the current
// directory.
func (l *Loader) FindConfig() (string, error) {
	for _, name := range []string{"bridge.hjson", "bridge.json"} {
		path := filepath.Join(".", name)
		if _, err := os.Stat(path); err == nil {
			abs, err := filepath.Abs(path)
			if err != nil {
				return path, nil
			}
			return abs, nil
		}
	}
	return "", fmt.Errorf("bridge config not found (looked for bridge.hjson, bridge.json)")
}

func applyDefaults(cfg *Config) {
	if cfg.HTTPListenAddr == "" {
		cfg.HTTPListenAddr = "127.0.0.1:7171"
	}
	if cfg.HeartbeatInterval == "" {
		cfg.HeartbeatInterval = "30s"
	}
	if cfg.ShutdownGrace == "" {
		cfg.ShutdownGrace = "5s"
	}
	if cfg.DefaultBackend == "" {
		cfg.DefaultBackend = "claude"
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = deriveAPIBaseURL(cfg.ServerURL)
	}
}

// deriveAPIBaseURL turns a ws(s):// socket URL into the matching http(s)://
// base, since the server's HTTP API and websocket endpoint share a host by
// convention unless apiBaseUrl is set explicitly.
func deriveAPIBaseURL(serverURL string) string {
	switch {
	case strings.HasPrefix(serverURL, "wss://"):
		return "https://" + strings.TrimPrefix(serverURL, "wss://")
	case strings.HasPrefix(serverURL, "ws://"):
		return "http://" + strings.TrimPrefix(serverURL, "ws://")
	default:
		return serverURL
	}
}
