// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"github.com/gorilla/mux"

	"github.com/arborly/codexd/internal/api/middleware"
)

// NewRouter builds the full HTTP route table, wiring every handler to the
// same Deps instance.
func NewRouter(d *Deps) *mux.Router {
	r := mux.NewRouter()

	r.Use(middleware.Logging)
	r.Use(middleware.Recovery)
	r.Use(middleware.CORS)

	r.HandleFunc("/healthz", d.HandleHealthz).Methods("GET")
	r.HandleFunc("/api/skills", d.HandleSkills).Methods("GET")
	r.HandleFunc("/api/usage", d.HandleUsage).Methods("GET")
	r.HandleFunc("/api/sessions", d.HandleListSessions).Methods("GET")
	r.HandleFunc("/api/sessions", d.HandleCreateSession).Methods("POST")
	r.HandleFunc("/api/sessions/{id}/turn", d.HandleContinueTurn).Methods("POST")
	r.HandleFunc("/api/sessions/{id}/stop", d.HandleStop).Methods("POST")
	r.HandleFunc("/api/sessions/{id}/rename", d.HandleRename).Methods("POST")
	r.HandleFunc("/api/sessions/{id}/touch", d.HandleTouch).Methods("POST")
	r.HandleFunc("/api/sessions/{id}/conclusion", d.HandleConclusion).Methods("GET")
	r.HandleFunc("/api/sessions/{id}/stream", d.HandleStream).Methods("GET")
	r.HandleFunc("/api/sessions/{id}", d.HandleDelete).Methods("DELETE")

	return r
}
