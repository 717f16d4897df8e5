// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package bridgeconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bridge.hjson")
	require.NoError(t, os.WriteFile(path, []byte(`{
		serverUrl: ws://localhost:4000/bridge
	}`), 0644))

	l := NewLoader()
	cfg, err := l.Load(path)
	require.NoError(t, err)
	require.Equal(t, "ws://localhost:4000/bridge", cfg.ServerURL)
	require.Equal(t, "127.0.0.1:7171", cfg.HTTPListenAddr)
	require.Equal(t, "30s", cfg.HeartbeatInterval)
	require.Equal(t, "claude", cfg.DefaultBackend)
	require.Equal(t, "http://localhost:4000/bridge", cfg.APIBaseURL)
}

func TestLoadBackendOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bridge.hjson")
	require.NoError(t, os.WriteFile(path, []byte(`{
		serverUrl: ws://localhost:4000/bridge
		backends: {
			claude: { binaryPath: "/usr/local/bin/claude", extraArgs: ["--verbose"] }
		}
	}`), 0644))

	cfg, err := NewLoader().Load(path)
	require.NoError(t, err)
	require.Equal(t, "/usr/local/bin/claude", cfg.Backends["claude"].BinaryPath)
	require.Equal(t, []string{"--verbose"}, cfg.Backends["claude"].ExtraArgs)
}

func TestFindConfigMissing(t *testing.T) {
	dir := t.TempDir()
	cwd, err := os.Getwd()
	require.NoError(t, err)
	defer os.Chdir(cwd)
	require.NoError(t, os.Chdir(dir))

	_, err = NewLoader().FindConfig()
	require.Error(t, err)
}
