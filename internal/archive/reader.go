// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package archive implements the Native Archive Reader (component G): it
// scans the agent's own foreign rollout tree, parses metadata prefixes out
// of individual rollout files, and tracks a thread-title map and a flat
// prompt history log maintained by the agent itself.
package archive

import (
	"encoding/json"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// scanInterval is the minimum spacing between re-scans of the rollout tree.
const scanInterval = 3000 * time.Millisecond

// metaHeadBytes is how much of the latest rollout file is read to extract
// its session_meta line.
const metaHeadBytes = 16 * 1024

// tailBytes is how much of the latest rollout file is read when hunting for
// the most recent user prompt.
const tailBytes = 96 * 1024

var rolloutName = regexp.MustCompile(`^rollout-\d{4}-\d{2}-\d{2}T\d{2}-\d{2}-\d{2}-(.+)\.jsonl$`)
var rolloutTimestamp = regexp.MustCompile(`^rollout-(\d{4})-(\d{2})-(\d{2})T(\d{2})-(\d{2})-(\d{2})-`)

// ThreadRef is the derived, cached record for one foreign thread id.
type ThreadRef struct {
	ThreadID     string
	Files        []string // earliest -> latest, by lexical file name
	LatestMtime  time.Time
	CWD          string
	Originator   string
	Source       string
	LastPrompt   string
	CreatedAtMs  int64
	LastUsedAtMs int64
}

// Hidden reports whether this thread represents a one-shot agent-exec
// invocation rather than a conversational session.
func (t ThreadRef) Hidden() bool {
	return t.Source == "exec" || t.Originator == "codex_exec"
}

// Reader scans an agent home directory's session archive.
type Reader struct {
	home string

	mu        sync.Mutex
	lastScan  time.Time
	byThread  map[string][]string

	cacheMu sync.Mutex
	cache   map[string]*ThreadRef

	group singleflight.Group
}

// NewReader returns a Reader rooted at the given agent home directory.
func NewReader(agentHome string) *Reader {
	return &Reader{
		home:     agentHome,
		byThread: make(map[string][]string),
		cache:    make(map[string]*ThreadRef),
	}
}

// Scan walks the sessions and archived_sessions trees, indexing rollout
// files by thread id. Re-scans are coalesced and throttled to at most once
// per scanInterval.
func (r *Reader) Scan() error {
	r.mu.Lock()
	fresh := time.Since(r.lastScan) < scanInterval
	r.mu.Unlock()
	if fresh {
		return nil
	}

	_, err, _ := r.group.Do("scan", func() (interface{}, error) {
		r.mu.Lock()
		if time.Since(r.lastScan) < scanInterval {
			r.mu.Unlock()
			return nil, nil
		}
		r.mu.Unlock()

		byThread := make(map[string][]string)
		for _, sub := range []string{"sessions", "archived_sessions"} {
			root := filepath.Join(r.home, sub)
			_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
				if err != nil || d.IsDir() {
					return nil
				}
				m := rolloutName.FindStringSubmatch(d.Name())
				if m == nil {
					return nil
				}
				threadID := m[1]
				byThread[threadID] = append(byThread[threadID], path)
				return nil
			})
		}
		for id := range byThread {
			sort.Strings(byThread[id])
		}

		r.mu.Lock()
		r.byThread = byThread
		r.lastScan = time.Now()
		r.mu.Unlock()
		return nil, nil
	})
	return err
}

// ThreadIDs returns every known thread id after the most recent scan.
func (r *Reader) ThreadIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.byThread))
	for id := range r.byThread {
		ids = append(ids, id)
	}
	return ids
}

// Derive returns the cached ThreadRef for a thread id, refreshing it if the
// latest rollout file's path or mtime has changed since the cached value.
func (r *Reader) Derive(threadID string) (*ThreadRef, bool) {
	r.mu.Lock()
	files := append([]string(nil), r.byThread[threadID]...)
	r.mu.Unlock()
	if len(files) == 0 {
		return nil, false
	}
	latest := files[len(files)-1]

	info, err := os.Stat(latest)
	if err != nil {
		return nil, false
	}

	r.cacheMu.Lock()
	cached, ok := r.cache[threadID]
	r.cacheMu.Unlock()
	if ok && cached.Files[len(cached.Files)-1] == latest && cached.LatestMtime.Equal(info.ModTime()) {
		return cached, true
	}

	cwd, originator, source := extractMeta(latest)
	ref := &ThreadRef{
		ThreadID:     threadID,
		Files:        files,
		LatestMtime:  info.ModTime(),
		CWD:          cwd,
		Originator:   originator,
		Source:       source,
		LastPrompt:   extractLastPrompt(latest),
		CreatedAtMs:  parseRolloutCreatedAt(files[0]),
		LastUsedAtMs: info.ModTime().UnixMilli(),
	}

	r.cacheMu.Lock()
	r.cache[threadID] = ref
	r.cacheMu.Unlock()
	return ref, true
}

type sessionMetaEnvelope struct {
	Type    string `json:"type"`
	Payload struct {
		CWD        string `json:"cwd"`
		Originator string `json:"originator"`
		Source     string `json:"source"`
	} `json:"payload"`
}

// parseRolloutCreatedAt extracts the creation timestamp embedded in a
// rollout's own file name, falling back to its mtime if the name doesn't
// match the expected shape.
func parseRolloutCreatedAt(path string) int64 {
	m := rolloutTimestamp.FindStringSubmatch(filepath.Base(path))
	if m == nil {
		if info, err := os.Stat(path); err == nil {
			return info.ModTime().UnixMilli()
		}
		return 0
	}
	layout := "2006-01-02T15-04-05"
	ts := m[1] + "-" + m[2] + "-" + m[3] + "T" + m[4] + "-" + m[5] + "-" + m[6]
	t, err := time.Parse(layout, ts)
	if err != nil {
		return 0
	}
	return t.UnixMilli()
}

// extractMeta reads the head of path and pulls cwd/originator/source,
// truncating the scanned window at the first "base_instructions" key so a
// very large base-instructions string never has to be fully scanned.
func extractMeta(path string) (cwd, originator, source string) {
	f, err := os.Open(path)
	if err != nil {
		return "", "", ""
	}
	defer f.Close()

	buf := make([]byte, metaHeadBytes)
	n, _ := io.ReadFull(f, buf)
	head := buf[:n]

	if idx := strings.Index(string(head), `"base_instructions"`); idx >= 0 {
		head = head[:idx]
	}

	cwd = extractJSONStringField(head, "cwd")
	originator = extractJSONStringField(head, "originator")
	source = extractJSONStringField(head, "source")

	if originator != "" {
		return cwd, originator, source
	}

	// Fall back to a full-file deserialize of the first JSON object.
	f2, err := os.Open(path)
	if err != nil {
		return cwd, originator, source
	}
	defer f2.Close()
	dec := json.NewDecoder(f2)
	var env sessionMetaEnvelope
	if err := dec.Decode(&env); err == nil && env.Type == "session_meta" {
		return env.Payload.CWD, env.Payload.Originator, env.Payload.Source
	}
	return cwd, originator, source
}

// extractJSONStringField finds `"key":"value"` in raw and decodes value's
// JSON string escapes, including \uXXXX. Returns "" if not found.
func extractJSONStringField(raw []byte, key string) string {
	needle := `"` + key + `":"`
	idx := strings.Index(string(raw), needle)
	if idx < 0 {
		return ""
	}
	rest := raw[idx+len(needle):]

	var out strings.Builder
	out.WriteByte('"')
	for i := 0; i < len(rest); i++ {
		c := rest[i]
		out.WriteByte(c)
		if c == '"' && (i == 0 || rest[i-1] != '\\') {
			break
		}
	}

	var decoded string
	if err := json.Unmarshal([]byte(out.String()), &decoded); err != nil {
		return ""
	}
	return decoded
}
