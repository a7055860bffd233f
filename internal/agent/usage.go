// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/arborly/codexd/internal/bus"
	"github.com/arborly/codexd/internal/clock"
	"github.com/arborly/codexd/internal/session"
)

// minEmitInterval is the minimum spacing between codex_metrics emissions for
// the same session, once one has already been emitted.
const minEmitInterval = 5 * time.Second

type snapshot struct {
	window      int
	used        int
	pctLeft     float64
	lastEmitMs  int64
	haveEmitted bool
	totalTokens int
	input       int
	output      int
	reasoning   int
	cached      int
	threadID    string
}

// UsageMeter derives context-window metrics from thread/tokenUsage/updated
// notifications and maintains the last-observed snapshot per session for
// the usage ledger written at finalize.
type UsageMeter struct {
	store *session.Store
	bus   *bus.Bus

	mu    sync.Mutex
	snaps map[string]*snapshot
}

// NewUsageMeter constructs a UsageMeter writing through store and bus.
func NewUsageMeter(store *session.Store, b *bus.Bus) *UsageMeter {
	return &UsageMeter{store: store, bus: b, snaps: make(map[string]*snapshot)}
}

type tokenUsageParams struct {
	ModelContextWindow int `json:"modelContextWindow"`
	TokenUsage         *struct {
		ModelContextWindow int `json:"modelContextWindow"`
		Last               *tokenCounts `json:"last"`
		Total              *tokenCounts `json:"total"`
	} `json:"tokenUsage"`
}

type tokenCounts struct {
	TotalTokens     int `json:"totalTokens"`
	InputTokens     int `json:"inputTokens"`
	OutputTokens    int `json:"outputTokens"`
	ReasoningTokens int `json:"reasoningOutputTokens"`
	CachedTokens    int `json:"cachedInputTokens"`
}

// Observe applies one thread/tokenUsage/updated notification's params.
func (m *UsageMeter) Observe(sessionID string, rawParams json.RawMessage) {
	var params tokenUsageParams
	if err := json.Unmarshal(rawParams, &params); err != nil {
		return
	}

	window := params.ModelContextWindow
	var counts *tokenCounts
	if params.TokenUsage != nil {
		if window == 0 {
			window = params.TokenUsage.ModelContextWindow
		}
		if params.TokenUsage.Last != nil {
			counts = params.TokenUsage.Last
		} else {
			counts = params.TokenUsage.Total
		}
	}
	if window == 0 || counts == nil {
		return
	}

	total := counts.TotalTokens
	if total == 0 {
		sum := counts.InputTokens + counts.OutputTokens + counts.ReasoningTokens
		if sum > 0 {
			total = sum
		}
	}

	left := window - total
	if left < 0 {
		left = 0
	}
	pctLeft := float64((left*100 + window/2) / window)
	if pctLeft < 0 {
		pctLeft = 0
	}
	if pctLeft > 100 {
		pctLeft = 100
	}

	m.mu.Lock()
	snap, ok := m.snaps[sessionID]
	if !ok {
		snap = &snapshot{}
		m.snaps[sessionID] = snap
	}

	changed := !ok || snap.pctLeft != pctLeft
	now := clock.NowMillis()
	shouldEmit := changed && (!snap.haveEmitted || now-snap.lastEmitMs >= minEmitInterval.Milliseconds())

	snap.window = window
	snap.used = total
	snap.pctLeft = pctLeft
	snap.totalTokens = total
	snap.input = counts.InputTokens
	snap.output = counts.OutputTokens
	snap.reasoning = counts.ReasoningTokens
	snap.cached = counts.CachedTokens
	if shouldEmit {
		snap.lastEmitMs = now
		snap.haveEmitted = true
	}
	m.mu.Unlock()

	meta, err := m.store.ReadMeta(sessionID)
	if err == nil {
		meta.Context = &session.ContextUsage{Window: window, Used: total, PercentLeft: pctLeft}
		_ = m.store.WriteMeta(sessionID, meta)
	}

	if shouldEmit {
		payload, _ := json.Marshal(map[string]interface{}{
			"session_id":   sessionID,
			"ts_ms":        now,
			"percent_left": pctLeft,
			"used":         total,
			"window":       window,
		})
		m.bus.Publish(sessionID, "codex_metrics", string(payload))
	}
}

// Finalize appends a Usage Record to the ledger using the last observed
// snapshot for sessionID, then drops it from memory.
func (m *UsageMeter) Finalize(sessionID, threadID string) {
	m.mu.Lock()
	snap, ok := m.snaps[sessionID]
	if ok {
		delete(m.snaps, sessionID)
	}
	m.mu.Unlock()

	if !ok {
		return
	}

	_ = m.store.AppendUsage(session.UsageRecord{
		TSMillis:          clock.NowMillis(),
		SessionID:         sessionID,
		ThreadID:          threadID,
		TotalTokens:       snap.totalTokens,
		InputTokens:       snap.input,
		OutputTokens:      snap.output,
		ReasoningTokens:   snap.reasoning,
		CachedInputTokens: snap.cached,
		ContextWindow:     snap.window,
	})
}
