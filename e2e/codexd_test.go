// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package e2e

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arborly/codexd/internal/agent"
	"github.com/arborly/codexd/internal/api"
	"github.com/arborly/codexd/internal/bus"
	"github.com/arborly/codexd/internal/session"
)

func writeStubAgent(t *testing.T) string {
	t.Helper()
	body := `#!/bin/sh
i=0
while IFS= read -r line; do
  i=$((i+1))
  case $i in
    1) echo '{"id":1,"result":{}}' ;;
    2) echo '{"id":2,"result":{"thread":{"id":"t-1"}}}' ;;
    3)
       echo '{"id":3,"result":{"turn":{"id":"turn-1"}}}'
       echo '{"method":"item/agentMessage/delta","params":{"itemId":"m1","delta":"Hi "}}'
       echo '{"method":"item/agentMessage/delta","params":{"itemId":"m1","delta":"there"}}'
       echo '{"method":"turn/completed","params":{"turn":{"status":"completed"}}}'
       ;;
  esac
done
`
	path := filepath.Join(t.TempDir(), "stub-agent.sh")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o755))
	return path
}

func newTestDeps(t *testing.T) *api.Deps {
	t.Helper()
	store, err := session.NewStore(t.TempDir())
	require.NoError(t, err)

	b := bus.New()
	usage := agent.NewUsageMeter(store, b)
	runner := agent.NewRunner(store, b, usage, writeStubAgent(t), nil)

	return &api.Deps{
		Store:  store,
		Bus:    b,
		Runner: runner,
	}
}

// TestCreateSessionHappyPath exercises a full POST /api/sessions turn against
// a stub agent: conclusion text, status, and the app.prompt+notification
// event log all have to line up once the background turn finishes.
func TestCreateSessionHappyPath(t *testing.T) {
	deps := newTestDeps(t)
	server := httptest.NewServer(api.NewRouter(deps))
	defer server.Close()

	resp, err := http.Post(server.URL+"/api/sessions", "application/json",
		strings.NewReader(`{"prompt":"hello"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var meta session.Meta
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&meta))
	require.NotEmpty(t, meta.ID)

	require.Eventually(t, func() bool {
		got, err := deps.Store.ReadMeta(meta.ID)
		return err == nil && got.Status == session.StatusDone
	}, 2*time.Second, 10*time.Millisecond)

	got, err := deps.Store.ReadMeta(meta.ID)
	require.NoError(t, err)
	assert.Equal(t, "t-1", got.ThreadID)

	text, err := deps.Store.ReadConclusion(got.ConclusionPath)
	require.NoError(t, err)
	assert.Equal(t, "Hi there", text)

	f, err := os.Open(got.EventLogPath)
	require.NoError(t, err)
	defer f.Close()
	lines := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines++
	}
	assert.Equal(t, 4, lines) // app.prompt + 2 deltas + turn/completed
}

// TestHealthzAndStream covers the health endpoint and an SSE stream that
// observes the live turn finishing in-band.
func TestHealthzAndStream(t *testing.T) {
	deps := newTestDeps(t)
	server := httptest.NewServer(api.NewRouter(deps))
	defer server.Close()

	resp, err := http.Get(server.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	meta, err := deps.Store.Create("sess-stream", "")
	require.NoError(t, err)
	go func() {
		_ = deps.Runner.RunTurn(context.Background(), meta, "hi")
	}()

	req, err := http.NewRequest("GET", server.URL+"/api/sessions/sess-stream/stream?tail=0", nil)
	require.NoError(t, err)
	streamResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer streamResp.Body.Close()
	require.Equal(t, http.StatusOK, streamResp.StatusCode)

	sawFinished := false
	scanner := bufio.NewScanner(streamResp.Body)
	deadline := time.Now().Add(2 * time.Second)
	for scanner.Scan() && time.Now().Before(deadline) {
		if strings.Contains(scanner.Text(), "codex_run_finished") {
			sawFinished = true
			break
		}
	}
	assert.True(t, sawFinished)
}

// TestStopUnknownSessionSynthesizesFinished matches the scenario where a
// stop is issued for a session with no live handle: the runner still
// reports a terminal state rather than silently no-op'ing.
func TestStopUnknownSessionSynthesizesFinished(t *testing.T) {
	deps := newTestDeps(t)
	server := httptest.NewServer(api.NewRouter(deps))
	defer server.Close()

	ch, unsub := deps.Bus.Subscribe("ghost")
	defer unsub()

	resp, err := http.Post(server.URL+"/api/sessions/ghost/stop", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	select {
	case msg := <-ch:
		assert.Equal(t, "codex_run_finished", msg.Event)
	case <-time.After(time.Second):
		t.Fatal("expected synthesized codex_run_finished")
	}
}
