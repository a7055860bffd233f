// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"net"
	"os"
	"os/exec"
	"strings"
)

// Validator validates configuration against schema rules.
type Validator struct{}

// NewValidator creates a new config validator.
func NewValidator() *Validator {
	return &Validator{}
}

// ValidationError contains multiple validation failures.
type ValidationError struct {
	Errors []FieldError
}

// FieldError represents a single field validation error.
type FieldError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	var msgs []string
	for _, fe := range e.Errors {
		msgs = append(msgs, fmt.Sprintf("%s: %s", fe.Field, fe.Message))
	}
	return strings.Join(msgs, "; ")
}

// IsEmpty returns true if there are no validation errors.
func (e *ValidationError) IsEmpty() bool {
	return len(e.Errors) == 0
}

// Add adds a field error.
func (e *ValidationError) Add(field, message string) {
	e.Errors = append(e.Errors, FieldError{Field: field, Message: message})
}

// Validate checks configuration validity before the HTTP listener binds.
func (v *Validator) Validate(cfg *Config) error {
	errs := &ValidationError{}

	v.validateServer(cfg, errs)
	v.validateAgent(cfg, errs)
	v.validateLogging(cfg, errs)

	if !errs.IsEmpty() {
		return errs
	}
	return nil
}

func (v *Validator) validateServer(cfg *Config, errs *ValidationError) {
	if cfg.Server.Bind == "" {
		errs.Add("server.bind", "must not be empty")
		return
	}
	if _, _, err := net.SplitHostPort(cfg.Server.Bind); err != nil {
		errs.Add("server.bind", fmt.Sprintf("must be host:port: %v", err))
	}
}

func (v *Validator) validateAgent(cfg *Config, errs *ValidationError) {
	if cfg.Agent.DataDir == "" {
		errs.Add("agent.data_dir", "must not be empty")
	} else if err := os.MkdirAll(cfg.Agent.DataDir, 0o755); err != nil {
		errs.Add("agent.data_dir", fmt.Sprintf("cannot create: %v", err))
	}

	if cfg.Agent.CodexPath != "" {
		path := cfg.Agent.CodexPath
		if !strings.ContainsRune(path, os.PathSeparator) {
			if resolved, err := exec.LookPath(path); err == nil {
				path = resolved
			}
		}
		info, err := os.Stat(path)
		if err != nil {
			errs.Add("agent.codex_path", fmt.Sprintf("not found: %v", err))
		} else if info.IsDir() {
			errs.Add("agent.codex_path", "is a directory, not an executable")
		} else if info.Mode()&0o111 == 0 {
			errs.Add("agent.codex_path", "is not executable")
		}
	}
}

func (v *Validator) validateLogging(cfg *Config, errs *ValidationError) {
	switch cfg.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		errs.Add("logging.level", "must be one of debug, info, warn, error")
	}
}
