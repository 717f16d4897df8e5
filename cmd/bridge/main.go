// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/agentbridge/bridge/internal/backend"
	"github.com/agentbridge/bridge/internal/bridge"
	"github.com/agentbridge/bridge/internal/bridgeconfig"
)

var version = "0.1"

func main() {
	var (
		configPath  string
		showVersion bool
	)

	flag.StringVar(&configPath, "config", "", "Path to bridge config file (default: auto-detect)")
	flag.StringVar(&configPath, "c", "", "Path to bridge config file (short)")
	flag.BoolVar(&showVersion, "version", false, "Show version")
	flag.BoolVar(&showVersion, "v", false, "Show version (short)")
	flag.Parse()

	if showVersion {
		fmt.Printf("agent-bridge %s\n", version)
		os.Exit(0)
	}

	loader := bridgeconfig.NewLoader()
	if configPath == "" {
		found, err := loader.FindConfig()
		if err != nil {
			log.Fatalf("Error: %v", err)
		}
		configPath = found
	}

	log.Printf("Using config: %s", configPath)

	cfg, err := loader.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	registry := backend.NewRegistry()
	for name, override := range cfg.Backends {
		b, err := registry.Get(name)
		if err != nil {
			log.Printf("ignoring override for unknown backend %q", name)
			continue
		}
		if override.BinaryPath != "" {
			b.Binary = override.BinaryPath
		}
		if len(override.ExtraArgs) > 0 {
			extra := override.ExtraArgs
			build := b.BuildArgv
			b.BuildArgv = func(sc backend.SessionConfig, baseArgs []string) []string {
				sc.ExtraArgs = append(append([]string{}, extra...), sc.ExtraArgs...)
				return build(sc, baseArgs)
			}
		}
		registry.Register(b)
	}

	apiClient := bridge.NewAPIClient(cfg.APIBaseURL)
	resolver := func(string) (string, backend.SessionConfig) {
		return cfg.DefaultBackend, backend.SessionConfig{}
	}

	supervisor := bridge.New(cfg, registry, apiClient, apiClient, resolver, nil)

	if err := supervisor.Run(context.Background()); err != nil {
		log.Fatalf("Bridge error: %v", err)
	}
}
