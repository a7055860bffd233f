// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package config handles HJSON configuration loading for the agent bridge.
package config

// Config is the root configuration structure.
type Config struct {
	Server  ServerConfig  `json:"server"`
	Agent   AgentConfig   `json:"agent"`
	Logging LoggingConfig `json:"logging"`
}

// ServerConfig controls the HTTP/SSE listener.
type ServerConfig struct {
	// Bind is the "host:port" the HTTP server listens on.
	Bind string `json:"bind"`
}

// AgentConfig locates the external agent executable and its on-disk state.
type AgentConfig struct {
	// DataDir is the root under which this service keeps its own session directories.
	DataDir string `json:"data_dir"`
	// CodexPath is the path to the agent CLI executable.
	CodexPath string `json:"codex_path"`
	// CodexHome is the agent's own home directory (rollouts, skills, titles).
	CodexHome string `json:"codex_home"`
	// WebDist, if set, points at a pre-built static web asset directory.
	// Serving it is an external collaborator's responsibility; this field
	// only exists so the flag/config surface matches the external contract.
	WebDist string `json:"web_dist"`
}

// LoggingConfig holds the logging settings. Level is defaulted and validated
// at load time but is not applied to any logger.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `json:"level"`
}
