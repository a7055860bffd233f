// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/hjson/hjson-go/v4"
)

// Loader handles configuration file loading.
type Loader struct{}

// NewLoader creates a new config loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load reads and parses the configuration from the given path. A blank path
// yields an all-defaults config: the file is optional, flags win.
func (l *Loader) Load(ctx context.Context, path string) (*Config, error) {
	cfg := &Config{}
	if path == "" {
		applyDefaults(cfg)
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var raw map[string]interface{}
	if err := hjson.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse hjson: %w", err)
	}

	// Convert to JSON and unmarshal to struct (for type safety), the same
	// two-step hjson-then-json conversion the rest of this dependency's
	// callers use rather than unmarshalling hjson directly into the struct.
	jsonData, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("convert to json: %w", err)
	}

	if err := json.Unmarshal(jsonData, cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyDefaults(cfg)
	return cfg, nil
}

// applyDefaults sets default values for missing config fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Bind == "" {
		cfg.Server.Bind = "127.0.0.1:8765"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// ApplyFlagOverrides overwrites config fields with non-empty flag values.
// Flags always win over the config file, matching the CLI's own posture.
func ApplyFlagOverrides(cfg *Config, bind, dataDir, codexPath, codexHome, webDist, logLevel string) {
	if bind != "" {
		cfg.Server.Bind = bind
	}
	if dataDir != "" {
		cfg.Agent.DataDir = dataDir
	}
	if codexPath != "" {
		cfg.Agent.CodexPath = codexPath
	}
	if codexHome != "" {
		cfg.Agent.CodexHome = codexHome
	}
	if webDist != "" {
		cfg.Agent.WebDist = webDist
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
}
