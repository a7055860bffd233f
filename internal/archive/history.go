// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
)

const historyFile = "history.jsonl"

// HistoryEntry is one line of the agent's flat prompt/response log, used as
// a fallback when a rollout's own tail scan turns up nothing usable (for
// instance a rollout still mid-write with an incomplete final line).
type HistoryEntry struct {
	SessionID string `json:"session_id"`
	ThreadID  string `json:"thread_id"`
	Prompt    string `json:"prompt"`
	TSMillis  int64  `json:"ts_ms"`
}

// LoadHistory best-effort loads the agent home's history.jsonl. A missing
// or unreadable file yields (nil, nil) rather than an error: this feature
// is never required for listing sessions to function.
func LoadHistory(agentHome string) ([]HistoryEntry, error) {
	f, err := os.Open(filepath.Join(agentHome, historyFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, nil
	}
	defer f.Close()

	var entries []HistoryEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var e HistoryEntry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// LastPromptFor scans history entries in reverse for the most recent prompt
// belonging to sessionOrThreadID, matched loosely against either field.
func LastPromptFor(entries []HistoryEntry, sessionOrThreadID string) (string, bool) {
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if e.SessionID == sessionOrThreadID || e.ThreadID == sessionOrThreadID {
			if e.Prompt != "" {
				return e.Prompt, true
			}
		}
	}
	return "", false
}
