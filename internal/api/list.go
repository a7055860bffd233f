// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"sort"

	"github.com/arborly/codexd/internal/archive"
	"github.com/arborly/codexd/internal/session"
)

// ListSessions merges local session directories with native rollout
// threads. A session known to both stores is keyed by its thread id (the
// agent's own identifier); entries present in both take the earliest
// created_at, the latest last_used_at, and prefer the local cwd.
func (d *Deps) ListSessions() ([]ListEntry, error) {
	entries := make(map[string]ListEntry) // keyed by canonical id: thread id if known, else local/native id

	localIDs, err := d.Store.ListIDs()
	if err != nil {
		return nil, err
	}
	for _, id := range localIDs {
		meta, err := d.Store.ReadMeta(id)
		if err != nil {
			continue
		}
		canon := meta.ThreadID
		if canon == "" {
			canon = meta.ID
		}
		entries[canon] = ListEntry{
			ID:         meta.ID,
			Title:      meta.Title,
			CreatedAt:  meta.CreatedAt,
			LastUsedAt: meta.LastUsedAt,
			CWD:        meta.CWD,
			Status:     meta.Status,
			ThreadID:   meta.ThreadID,
		}
	}

	if d.Archive != nil {
		_ = d.Archive.Scan()
		titles := archive.TitleMap(d.AgentHome)
		history, _ := archive.LoadHistory(d.AgentHome)

		for _, threadID := range d.Archive.ThreadIDs() {
			ref, ok := d.Archive.Derive(threadID)
			if !ok || ref.Hidden() {
				continue
			}

			title := titles[threadID]
			if title == "" {
				title = ref.LastPrompt
			}
			if title == "" {
				if prompt, found := archive.LastPromptFor(history, threadID); found {
					title = prompt
				}
			}

			existing, present := entries[threadID]
			if !present {
				if title == "" {
					continue
				}
				entries[threadID] = ListEntry{
					ID:         threadID,
					Title:      title,
					CreatedAt:  ref.CreatedAtMs,
					LastUsedAt: ref.LastUsedAtMs,
					CWD:        ref.CWD,
					Status:     session.StatusDone,
					ThreadID:   threadID,
				}
				continue
			}

			merged := existing
			merged.CreatedAt = minInt64(existing.CreatedAt, ref.CreatedAtMs)
			merged.LastUsedAt = maxInt64(existing.LastUsedAt, ref.LastUsedAtMs)
			if merged.CWD == "" {
				merged.CWD = ref.CWD
			}
			if merged.ThreadID == "" {
				merged.ThreadID = threadID
			}
			entries[threadID] = merged
		}
	}

	out := make([]ListEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		return maxInt64(out[i].LastUsedAt, out[i].CreatedAt) > maxInt64(out[j].LastUsedAt, out[j].CreatedAt)
	})
	return out, nil
}

func minInt64(a, b int64) int64 {
	if a == 0 {
		return b
	}
	if b == 0 {
		return a
	}
	if a < b {
		return a
	}
	return b
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
