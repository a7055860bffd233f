// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/arborly/codexd/internal/clock"
)

const (
	defaultTail = 4000
	minTail     = 50
	maxTail     = 50000
	keepalive   = 15 * time.Second
)

type backlogItem struct {
	tsMs int64
	seq  int
	data string
}

// HandleStream answers GET /api/sessions/:id/stream.
func (d *Deps) HandleStream(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeErr(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	tail := defaultTail
	if raw := r.URL.Query().Get("tail"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			tail = n
		}
	}
	if tail != 0 {
		if tail < minTail {
			tail = minTail
		}
		if tail > maxTail {
			tail = maxTail
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	ch, unsub := d.Bus.Subscribe(id)
	defer unsub()

	if tail != 0 {
		for _, item := range d.buildBacklog(id, tail) {
			fmt.Fprintf(w, "event: codex_event\ndata: %s\n\n", item.data)
		}
		flusher.Flush()
	}

	ticker := time.NewTicker(keepalive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case msg, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Event, msg.Data)
			flusher.Flush()
		}
	}
}

// buildBacklog merges tail lines from native rollout files, the local event
// log, and the local stderr log, sorted by (timestamp, sequence) and
// truncated to the most recent n entries.
func (d *Deps) buildBacklog(id string, n int) []backlogItem {
	var items []backlogItem
	seq := 0

	threadID := id
	if meta, err := d.Store.ReadMeta(id); err == nil {
		if meta.ThreadID != "" {
			threadID = meta.ThreadID
		}
		for _, line := range tailLines(meta.EventLogPath, n) {
			var envelope struct {
				TSMillis int64 `json:"ts_ms"`
			}
			_ = json.Unmarshal([]byte(line), &envelope)
			items = append(items, backlogItem{tsMs: envelope.TSMillis, seq: seq, data: line})
			seq++
		}
		for _, line := range tailLines(meta.StderrLogPath, n) {
			items = append(items, backlogItem{tsMs: clock.NowMillis(), seq: seq, data: stderrEnvelope(id, line)})
			seq++
		}
	}

	if d.Archive != nil {
		_ = d.Archive.Scan()
		if ref, ok := d.Archive.Derive(threadID); ok && !ref.Hidden() {
			for _, path := range ref.Files {
				for _, line := range tailLines(path, n) {
					ts := parseRolloutTimestamp(line)
					items = append(items, backlogItem{tsMs: ts, seq: seq, data: line})
					seq++
				}
			}
		}
	}

	sort.SliceStable(items, func(i, j int) bool {
		if items[i].tsMs != items[j].tsMs {
			return items[i].tsMs < items[j].tsMs
		}
		return items[i].seq < items[j].seq
	})

	if len(items) > n {
		items = items[len(items)-n:]
	}
	return items
}

func stderrEnvelope(sessionID, line string) string {
	payload := map[string]interface{}{
		"session_id": sessionID,
		"ts_ms":      clock.NowMillis(),
		"stream":     "stderr",
		"json":       nil,
		"line":       line,
	}
	data, _ := json.Marshal(payload)
	return string(data)
}

func parseRolloutTimestamp(line string) int64 {
	var envelope struct {
		Timestamp string `json:"timestamp"`
	}
	if json.Unmarshal([]byte(line), &envelope) != nil || envelope.Timestamp == "" {
		return 0
	}
	t, err := time.Parse(time.RFC3339Nano, envelope.Timestamp)
	if err != nil {
		return 0
	}
	return t.UnixMilli()
}

// tailLines returns at most the last n lines of path, or nil if it cannot
// be read. It duplicates session.Store's tail-reading shape for files that
// live outside the session data root (native rollout files).
func tailLines(path string, n int) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	var ring []string
	for scanner.Scan() {
		ring = append(ring, scanner.Text())
		if len(ring) > n {
			ring = ring[1:]
		}
	}
	return ring
}
