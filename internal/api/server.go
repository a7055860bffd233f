// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package api implements the HTTP/SSE Surface (component H): thin handlers
// over the session store, event bus, turn runner, and native archive
// reader, wired together per the external route contract.
package api

import (
	"log"

	"github.com/arborly/codexd/internal/agent"
	"github.com/arborly/codexd/internal/archive"
	"github.com/arborly/codexd/internal/bus"
	"github.com/arborly/codexd/internal/session"
	"github.com/arborly/codexd/internal/skills"
)

// Deps bundles every component the HTTP surface calls into.
type Deps struct {
	Store     *session.Store
	Bus       *bus.Bus
	Runner    *agent.Runner
	Archive   *archive.Reader // nil when the agent home could not be resolved
	AgentHome string
	Logger    *log.Logger
}

// ListEntry is one row of the merged /api/sessions response.
type ListEntry struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	CreatedAt  int64  `json:"created_at"`
	LastUsedAt int64  `json:"last_used_at"`
	CWD        string `json:"cwd,omitempty"`
	Status     string `json:"status"`
	ThreadID   string `json:"thread_id,omitempty"`
}

func (d *Deps) log() *log.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return log.Default()
}

// skillsCatalog returns the skills discovered under the agent home, or an
// empty list if no agent home is configured.
func (d *Deps) skillsCatalog() ([]skills.Skill, error) {
	if d.AgentHome == "" {
		return nil, nil
	}
	return skills.List(d.AgentHome)
}
