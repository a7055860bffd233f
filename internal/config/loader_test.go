// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaultsOnBlankPath(t *testing.T) {
	l := NewLoader()
	cfg, err := l.Load(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8765", cfg.Server.Bind)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadParsesHJSONWithComments(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "codexd.hjson")
	content := `{
  // bind address
  server: { bind: "0.0.0.0:9999" }
  agent: { data_dir: "/tmp/codexd-data" }
}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	l := NewLoader()
	cfg, err := l.Load(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9999", cfg.Server.Bind)
	assert.Equal(t, "/tmp/codexd-data", cfg.Agent.DataDir)
	assert.Equal(t, "info", cfg.Logging.Level, "missing fields still get defaults")
}

func TestLoadMissingFileErrors(t *testing.T) {
	l := NewLoader()
	_, err := l.Load(context.Background(), "/nonexistent/codexd.hjson")
	assert.Error(t, err)
}

func TestApplyFlagOverridesWinOverFile(t *testing.T) {
	cfg := &Config{Server: ServerConfig{Bind: "127.0.0.1:1"}}
	ApplyFlagOverrides(cfg, "127.0.0.1:2", "", "", "", "", "")
	assert.Equal(t, "127.0.0.1:2", cfg.Server.Bind)

	ApplyFlagOverrides(cfg, "", "", "", "", "", "")
	assert.Equal(t, "127.0.0.1:2", cfg.Server.Bind, "blank flag values leave existing config alone")
}
