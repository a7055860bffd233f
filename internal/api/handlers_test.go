// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arborly/codexd/internal/agent"
	"github.com/arborly/codexd/internal/bus"
	"github.com/arborly/codexd/internal/session"
)

func newTestDeps(t *testing.T) *Deps {
	t.Helper()
	store, err := session.NewStore(t.TempDir())
	require.NoError(t, err)
	b := bus.New()
	usage := agent.NewUsageMeter(store, b)
	runner := agent.NewRunner(store, b, usage, "/bin/false", nil)
	return &Deps{Store: store, Bus: b, Runner: runner}
}

func withVars(r *http.Request, vars map[string]string) *http.Request {
	return mux.SetURLVars(r, vars)
}

func TestHandleHealthz(t *testing.T) {
	d := newTestDeps(t)
	rec := httptest.NewRecorder()
	d.HandleHealthz(rec, httptest.NewRequest("GET", "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestHandleTouchUnknownSessionReturnsNotFound(t *testing.T) {
	d := newTestDeps(t)
	req := withVars(httptest.NewRequest("POST", "/api/sessions/nope/touch", nil), map[string]string{"id": "nope"})
	rec := httptest.NewRecorder()
	d.HandleTouch(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleTouchBumpsLastUsedAt(t *testing.T) {
	d := newTestDeps(t)
	meta, err := d.Store.Create("sess-1", "")
	require.NoError(t, err)
	original := meta.LastUsedAt

	req := withVars(httptest.NewRequest("POST", "/api/sessions/sess-1/touch", nil), map[string]string{"id": "sess-1"})
	rec := httptest.NewRecorder()
	d.HandleTouch(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	got, err := d.Store.ReadMeta("sess-1")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, got.LastUsedAt, original)
}

func TestHandleRenameLocalSession(t *testing.T) {
	d := newTestDeps(t)
	_, err := d.Store.Create("sess-1", "")
	require.NoError(t, err)

	body, _ := json.Marshal(renameRequest{Title: "new title"})
	req := withVars(httptest.NewRequest("POST", "/api/sessions/sess-1/rename", bytes.NewReader(body)), map[string]string{"id": "sess-1"})
	rec := httptest.NewRecorder()
	d.HandleRename(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)

	got, err := d.Store.ReadMeta("sess-1")
	require.NoError(t, err)
	assert.Equal(t, "new title", got.Title)
}

func TestHandleRenameRejectsBlankTitle(t *testing.T) {
	d := newTestDeps(t)
	_, err := d.Store.Create("sess-1", "")
	require.NoError(t, err)

	body, _ := json.Marshal(renameRequest{Title: "  "})
	req := withVars(httptest.NewRequest("POST", "/api/sessions/sess-1/rename", bytes.NewReader(body)), map[string]string{"id": "sess-1"})
	rec := httptest.NewRecorder()
	d.HandleRename(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleConclusionReturnsLocalText(t *testing.T) {
	d := newTestDeps(t)
	meta, err := d.Store.Create("sess-1", "")
	require.NoError(t, err)
	require.NoError(t, d.Store.WriteConclusion(meta.ConclusionPath, "all done"))

	req := withVars(httptest.NewRequest("GET", "/api/sessions/sess-1/conclusion", nil), map[string]string{"id": "sess-1"})
	rec := httptest.NewRecorder()
	d.HandleConclusion(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "all done", rec.Body.String())
}

func TestHandleDeleteRemovesLocalSession(t *testing.T) {
	d := newTestDeps(t)
	_, err := d.Store.Create("sess-1", "")
	require.NoError(t, err)

	req := withVars(httptest.NewRequest("DELETE", "/api/sessions/sess-1", nil), map[string]string{"id": "sess-1"})
	rec := httptest.NewRecorder()
	d.HandleDelete(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	_, err = d.Store.ReadMeta("sess-1")
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestHandleDeleteUnknownSessionReturnsNotFound(t *testing.T) {
	d := newTestDeps(t)
	req := withVars(httptest.NewRequest("DELETE", "/api/sessions/nope", nil), map[string]string{"id": "nope"})
	rec := httptest.NewRecorder()
	d.HandleDelete(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleCreateSessionRejectsBlankPrompt(t *testing.T) {
	d := newTestDeps(t)
	body, _ := json.Marshal(createSessionRequest{Prompt: "   "})
	req := httptest.NewRequest("POST", "/api/sessions", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	d.HandleCreateSession(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleListSessionsEmptyStoreReturnsEmptyList(t *testing.T) {
	d := newTestDeps(t)
	req := httptest.NewRequest("GET", "/api/sessions", nil)
	rec := httptest.NewRecorder()
	d.HandleListSessions(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var entries []ListEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	assert.Empty(t, entries)
}
