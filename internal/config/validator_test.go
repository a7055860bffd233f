// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAcceptsDefaults(t *testing.T) {
	cfg := &Config{}
	applyDefaults(cfg)
	cfg.Agent.DataDir = t.TempDir()

	v := NewValidator()
	assert.NoError(t, v.Validate(cfg))
}

func TestValidateRejectsBadBind(t *testing.T) {
	cfg := &Config{Server: ServerConfig{Bind: "not-a-host-port"}, Agent: AgentConfig{DataDir: t.TempDir()}}
	v := NewValidator()
	err := v.Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.bind")
}

func TestValidateRejectsNonExecutableCodexPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "codex")
	require.NoError(t, os.WriteFile(path, []byte("not a binary"), 0o644))

	cfg := &Config{Server: ServerConfig{Bind: "127.0.0.1:8765"}, Agent: AgentConfig{DataDir: dir, CodexPath: path}}
	v := NewValidator()
	err := v.Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "agent.codex_path")
}

func TestValidateRejectsBadLogLevel(t *testing.T) {
	cfg := &Config{Server: ServerConfig{Bind: "127.0.0.1:8765"}, Agent: AgentConfig{DataDir: t.TempDir()}, Logging: LoggingConfig{Level: "verbose"}}
	v := NewValidator()
	err := v.Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logging.level")
}
