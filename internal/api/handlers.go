// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/arborly/codexd/internal/archive"
	"github.com/arborly/codexd/internal/clock"
	"github.com/arborly/codexd/internal/session"
)

var validSessionID = regexp.MustCompile(`^[a-zA-Z0-9._-]{1,128}$`)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, msg string) {
	http.Error(w, msg, status)
}

// HandleHealthz answers GET /healthz.
func (d *Deps) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("ok"))
}

// HandleSkills answers GET /api/skills.
func (d *Deps) HandleSkills(w http.ResponseWriter, r *http.Request) {
	list, err := d.skillsCatalog()
	if err != nil {
		d.log().Printf("skills: list: %v", err)
		writeErr(w, http.StatusInternalServerError, "failed to list skills")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// HandleUsage answers GET /api/usage?max_records=N.
func (d *Deps) HandleUsage(w http.ResponseWriter, r *http.Request) {
	maxRecords := 5000
	if raw := r.URL.Query().Get("max_records"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			maxRecords = n
		}
	}
	if maxRecords < 1 {
		maxRecords = 1
	}
	if maxRecords > 200000 {
		maxRecords = 200000
	}

	lines, err := d.Store.ReadTail(d.Store.UsagePath(), maxRecords)
	if err != nil {
		d.log().Printf("usage: read tail: %v", err)
		writeErr(w, http.StatusInternalServerError, "failed to read usage ledger")
		return
	}

	records := make([]session.UsageRecord, 0, len(lines))
	for _, line := range lines {
		var rec session.UsageRecord
		if json.Unmarshal([]byte(line), &rec) == nil {
			records = append(records, rec)
		}
	}
	writeJSON(w, http.StatusOK, records)
}

// HandleListSessions answers GET /api/sessions.
func (d *Deps) HandleListSessions(w http.ResponseWriter, r *http.Request) {
	list, err := d.ListSessions()
	if err != nil {
		d.log().Printf("sessions: list: %v", err)
		writeErr(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

type createSessionRequest struct {
	Prompt    string `json:"prompt"`
	CWD       string `json:"cwd,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// HandleCreateSession answers POST /api/sessions.
func (d *Deps) HandleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeErr(w, http.StatusBadRequest, "prompt must not be blank")
		return
	}

	id := req.SessionID
	if id == "" {
		id = clock.NewSessionID()
	} else if !validSessionID.MatchString(id) {
		writeErr(w, http.StatusBadRequest, "invalid session id")
		return
	}

	meta, err := d.Store.Create(id, req.CWD)
	if err != nil {
		if err == session.ErrExists {
			writeErr(w, http.StatusConflict, "session already exists")
			return
		}
		d.log().Printf("sessions: create: %v", err)
		writeErr(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	d.recordPrompt(meta, req.Prompt)
	d.startTurn(meta, req.Prompt)

	writeJSON(w, http.StatusOK, meta)
}

type continueTurnRequest struct {
	Prompt string `json:"prompt"`
	CWD    string `json:"cwd,omitempty"`
}

// HandleContinueTurn answers POST /api/sessions/:id/turn.
func (d *Deps) HandleContinueTurn(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req continueTurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeErr(w, http.StatusBadRequest, "prompt must not be blank")
		return
	}

	if _, exists := d.Runner.Handle(id); exists {
		writeErr(w, http.StatusConflict, "turn already in progress")
		return
	}

	meta, err := d.Store.ReadMeta(id)
	if err == session.ErrNotFound {
		meta, err = d.adoptNative(id, req.CWD)
		if err != nil {
			writeErr(w, http.StatusNotFound, "session not found")
			return
		}
	} else if err != nil {
		d.log().Printf("sessions: read meta: %v", err)
		writeErr(w, http.StatusInternalServerError, "failed to read session")
		return
	}
	if req.CWD != "" {
		meta.CWD = req.CWD
	}

	d.recordPrompt(meta, req.Prompt)
	d.startTurn(meta, req.Prompt)

	writeJSON(w, http.StatusOK, meta)
}

// adoptNative materializes a local directory for a session known only to
// the native archive, seeded with its archive-derived title/created-at/cwd.
func (d *Deps) adoptNative(threadID, cwd string) (session.Meta, error) {
	if d.Archive == nil {
		return session.Meta{}, session.ErrNotFound
	}
	_ = d.Archive.Scan()
	ref, ok := d.Archive.Derive(threadID)
	if !ok || ref.Hidden() {
		return session.Meta{}, session.ErrNotFound
	}

	if cwd == "" {
		cwd = ref.CWD
	}
	meta, err := d.Store.Create(threadID, cwd)
	if err != nil {
		return session.Meta{}, err
	}
	meta.ThreadID = threadID
	meta.CreatedAt = ref.CreatedAtMs
	titles := archive.TitleMap(d.AgentHome)
	if t := titles[threadID]; t != "" {
		meta.Title = t
	} else {
		meta.Title = ref.LastPrompt
	}
	_ = d.Store.WriteMeta(threadID, meta)
	return meta, nil
}

func (d *Deps) recordPrompt(meta session.Meta, prompt string) {
	payload := map[string]interface{}{
		"type":       "app.prompt",
		"session_id": meta.ID,
		"ts_ms":      clock.NowMillis(),
		"prompt":     prompt,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	_ = d.Store.AppendEvent(meta.EventLogPath, data)
}

// startTurn launches the turn runner in the background; the HTTP response
// does not wait for the turn to finish (see the propagation policy: once
// accepted, failures are reported in-band via SSE).
func (d *Deps) startTurn(meta session.Meta, prompt string) {
	go func() {
		if err := d.Runner.RunTurn(context.Background(), meta, prompt); err != nil {
			d.log().Printf("turn: %s: %v", meta.ID, err)
		}
	}()
}

// HandleStop answers POST /api/sessions/:id/stop.
func (d *Deps) HandleStop(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	d.Runner.Stop(id)
	w.WriteHeader(http.StatusNoContent)
}

type renameRequest struct {
	Title string `json:"title"`
}

// HandleRename answers POST /api/sessions/:id/rename.
func (d *Deps) HandleRename(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req renameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Title) == "" {
		writeErr(w, http.StatusBadRequest, "title must not be blank")
		return
	}

	meta, err := d.Store.ReadMeta(id)
	if err == nil {
		meta.Title = req.Title
		if werr := d.Store.WriteMeta(id, meta); werr != nil {
			d.log().Printf("sessions: rename: %v", werr)
			writeErr(w, http.StatusInternalServerError, "failed to rename session")
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err != session.ErrNotFound {
		d.log().Printf("sessions: rename: %v", err)
		writeErr(w, http.StatusInternalServerError, "failed to read session")
		return
	}

	if d.Archive == nil {
		writeErr(w, http.StatusNotFound, "session not found")
		return
	}
	_ = d.Archive.Scan()
	if _, ok := d.Archive.Derive(id); !ok {
		writeErr(w, http.StatusNotFound, "session not found")
		return
	}
	if err := archive.SetTitle(d.AgentHome, id, req.Title); err != nil {
		d.log().Printf("archive: set title: %v", err)
		writeErr(w, http.StatusInternalServerError, "failed to rename native session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleTouch answers POST /api/sessions/:id/touch.
func (d *Deps) HandleTouch(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	meta, err := d.Store.ReadMeta(id)
	if err == session.ErrNotFound {
		writeErr(w, http.StatusNotFound, "session not found")
		return
	} else if err != nil {
		d.log().Printf("sessions: touch: %v", err)
		writeErr(w, http.StatusInternalServerError, "failed to read session")
		return
	}

	meta.LastUsedAt = clock.NowMillis()
	if err := d.Store.WriteMeta(id, meta); err != nil {
		d.log().Printf("sessions: touch: %v", err)
		writeErr(w, http.StatusInternalServerError, "failed to touch session")
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

// HandleConclusion answers GET /api/sessions/:id/conclusion.
func (d *Deps) HandleConclusion(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	meta, err := d.Store.ReadMeta(id)
	if err == nil {
		text, rerr := d.Store.ReadConclusion(meta.ConclusionPath)
		if rerr != nil {
			d.log().Printf("sessions: conclusion: %v", rerr)
			writeErr(w, http.StatusInternalServerError, "failed to read conclusion")
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte(text))
		return
	}
	if err != session.ErrNotFound {
		d.log().Printf("sessions: conclusion: %v", err)
		writeErr(w, http.StatusInternalServerError, "failed to read session")
		return
	}

	if d.Archive != nil {
		_ = d.Archive.Scan()
		if _, ok := d.Archive.Derive(id); ok {
			w.Header().Set("Content-Type", "text/plain")
			_, _ = w.Write([]byte(""))
			return
		}
	}
	writeErr(w, http.StatusNotFound, "session not found")
}

// HandleDelete answers DELETE /api/sessions/:id.
func (d *Deps) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	d.Runner.Stop(id)

	localErr := d.Store.Delete(id)
	nativeDeleted := false
	if d.Archive != nil {
		_ = d.Archive.Scan()
		if ref, ok := d.Archive.Derive(id); ok {
			for _, f := range ref.Files {
				_ = removeFile(f)
			}
			nativeDeleted = true
		}
	}

	if localErr != nil && localErr != session.ErrNotFound {
		d.log().Printf("sessions: delete: %v", localErr)
		writeErr(w, http.StatusInternalServerError, "failed to delete session")
		return
	}
	if localErr == session.ErrNotFound && !nativeDeleted {
		writeErr(w, http.StatusNotFound, "session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func removeFile(path string) error {
	return os.Remove(path)
}
