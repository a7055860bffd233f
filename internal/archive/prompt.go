// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"strings"
)

// extractLastPrompt reads the tail of a rollout file and returns the most
// recent user prompt that is fit to show, or "" if none qualifies.
func extractLastPrompt(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return ""
	}

	offset := info.Size() - tailBytes
	if offset < 0 {
		offset = 0
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return ""
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return ""
	}

	lines := bytes.Split(data, []byte("\n"))
	for i := len(lines) - 1; i >= 0; i-- {
		line := bytes.TrimSpace(lines[i])
		if len(line) == 0 {
			continue
		}
		candidate, ok := promptCandidate(line)
		if !ok {
			continue
		}
		if shouldShowPrompt(candidate) {
			return candidate
		}
	}
	return ""
}

type rolloutLine struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type eventMsgPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type responseItemPayload struct {
	Type    string `json:"type"`
	Role    string `json:"role"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// promptCandidate extracts a candidate prompt string from one rollout line,
// per the two recognized shapes (event_msg/user_message and a user-role
// response_item message).
func promptCandidate(line []byte) (string, bool) {
	var rl rolloutLine
	if err := json.Unmarshal(line, &rl); err != nil {
		return "", false
	}

	switch rl.Type {
	case "event_msg":
		var p eventMsgPayload
		if err := json.Unmarshal(rl.Payload, &p); err != nil || p.Type != "user_message" {
			return "", false
		}
		return p.Message, true

	case "response_item":
		var p responseItemPayload
		if err := json.Unmarshal(rl.Payload, &p); err != nil || p.Type != "message" || p.Role != "user" {
			return "", false
		}
		var b strings.Builder
		for _, c := range p.Content {
			if c.Type == "input_text" || c.Type == "output_text" {
				b.WriteString(c.Text)
			}
		}
		return b.String(), true
	}
	return "", false
}

// shouldShowPrompt applies the visibility rule: non-empty, and not an
// injected system scaffold (AGENTS.md preamble, environment context block,
// or an embedded instructions block).
func shouldShowPrompt(s string) bool {
	if s == "" {
		return false
	}
	if strings.HasPrefix(s, "# AGENTS.md") {
		return false
	}
	if strings.HasPrefix(s, "<environment_context") {
		return false
	}
	if strings.Contains(s, "<INSTRUCTIONS>") {
		return false
	}
	return true
}
