// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/arborly/codexd/internal/bus"
	"github.com/arborly/codexd/internal/clock"
	"github.com/arborly/codexd/internal/session"
)

// ErrTurnInProgress is returned by RunTurn when a session already has a live run handle.
var ErrTurnInProgress = errors.New("turn already in progress")

// notification methods the drain loop receives but never persists or broadcasts.
var suppressedMethods = map[string]bool{
	"thread/tokenUsage/updated":       true,
	"account/rateLimits/updated":      true,
	"item/reasoning/summaryPartAdded": true,
}

// Handle is the live run state for one in-flight turn, registered with the
// Runner for the duration of RunTurn.
type Handle struct {
	SessionID string
	ThreadID  string
	TurnID    string
	child     *Child
	cancel    context.CancelFunc
	cancelled bool
	mu        sync.Mutex
}

// Cancel requests cancellation of the turn this handle represents.
func (h *Handle) Cancel() {
	h.mu.Lock()
	h.cancelled = true
	h.mu.Unlock()
	h.cancel()
}

func (h *Handle) wasCancelled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cancelled
}

// Runner drives turns for sessions, owning the registry of live run handles.
type Runner struct {
	store *session.Store
	bus   *bus.Bus
	usage *UsageMeter

	codexPath string
	codexArgs []string

	mu       sync.Mutex
	handles  map[string]*Handle
}

// NewRunner constructs a Runner bound to the given store, bus, and usage meter.
func NewRunner(store *session.Store, b *bus.Bus, usage *UsageMeter, codexPath string, codexArgs []string) *Runner {
	return &Runner{
		store:     store,
		bus:       b,
		usage:     usage,
		codexPath: codexPath,
		codexArgs: codexArgs,
		handles:   make(map[string]*Handle),
	}
}

// Handle returns the live run handle for a session, if any.
func (r *Runner) Handle(sessionID string) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[sessionID]
	return h, ok
}

// Stop cancels the live turn for a session if present. If no handle is
// present it synthesizes a codex_run_finished event so callers (and SSE
// subscribers) observe a terminal state either way.
func (r *Runner) Stop(sessionID string) {
	h, ok := r.Handle(sessionID)
	if !ok {
		r.emitRunFinished(sessionID, false, nil)
		return
	}
	h.Cancel()
}

// StopAll cancels every live turn. Used during process shutdown so spawned
// agent children are interrupted rather than orphaned.
func (r *Runner) StopAll() {
	r.mu.Lock()
	handles := make([]*Handle, 0, len(r.handles))
	for _, h := range r.handles {
		handles = append(handles, h)
	}
	r.mu.Unlock()

	for _, h := range handles {
		h.Cancel()
	}
}

// RunTurn drives one full turn to completion: spawn, initialize,
// resume-or-start, turn, drain, finalize. It blocks until finalized.
func (r *Runner) RunTurn(ctx context.Context, meta session.Meta, prompt string) error {
	r.mu.Lock()
	if _, exists := r.handles[meta.ID]; exists {
		r.mu.Unlock()
		return ErrTurnInProgress
	}
	runCtx, cancel := context.WithCancel(ctx)
	handle := &Handle{SessionID: meta.ID, ThreadID: meta.ThreadID, cancel: cancel}
	r.handles[meta.ID] = handle
	r.mu.Unlock()

	defer func() {
		cancel()
		r.mu.Lock()
		delete(r.handles, meta.ID)
		r.mu.Unlock()
	}()

	child, err := Spawn(runCtx, r.codexPath, r.codexArgs, meta.CWD)
	if err != nil {
		r.finalizeError(meta, fmt.Sprintf("spawn: %v", err))
		return err
	}
	handle.child = child
	go r.drainStderr(meta.ID, meta.StderrLogPath, child)

	if err := r.initialize(runCtx, meta.ID, child); err != nil {
		r.finalizeError(meta, fmt.Sprintf("initialize: %v", err))
		return err
	}

	threadID, err := r.resumeOrStart(runCtx, meta, child, handle)
	if err != nil {
		r.finalizeError(meta, fmt.Sprintf("resume-or-start: %v", err))
		return err
	}
	handle.ThreadID = threadID
	if threadID != meta.ThreadID {
		meta.ThreadID = threadID
		_ = r.store.WriteMeta(meta.ID, meta)
	}

	turnID, err := r.startTurn(meta.ID, child, threadID, prompt)
	if err != nil {
		r.finalizeError(meta, fmt.Sprintf("turn/start: %v", err))
		return err
	}
	handle.TurnID = turnID

	capture := &TextCapture{}
	status, exitErr := r.drain(runCtx, meta, child, handle, capture)

	return r.finalize(meta, handle, child, status, exitErr, capture)
}

func (r *Runner) initialize(ctx context.Context, sessionID string, child *Child) error {
	id, err := child.SendRequest("initialize", map[string]interface{}{
		"clientInfo": map[string]string{"name": "codexd", "version": "1"},
	})
	if err != nil {
		return err
	}
	return r.awaitResponse(sessionID, child, id, nil)
}

func (r *Runner) resumeOrStart(ctx context.Context, meta session.Meta, child *Child, handle *Handle) (string, error) {
	if meta.ThreadID != "" {
		id, err := child.SendRequest("thread/resume", map[string]interface{}{
			"threadId": meta.ThreadID,
			"cwd":      meta.CWD,
			"config":   map[string]bool{"skip_git_repo_check": true},
		})
		if err == nil {
			var result struct {
				Thread struct {
					ID string `json:"id"`
				} `json:"thread"`
			}
			if rerr := r.awaitResponse(meta.ID, child, id, &result); rerr == nil && result.Thread.ID != "" {
				return result.Thread.ID, nil
			}
		}
	}

	id, err := child.SendRequest("thread/start", map[string]interface{}{
		"cwd":    meta.CWD,
		"config": map[string]bool{"skip_git_repo_check": true},
	})
	if err != nil {
		return "", err
	}
	var result struct {
		Thread struct {
			ID string `json:"id"`
		} `json:"thread"`
	}
	if err := r.awaitResponse(meta.ID, child, id, &result); err != nil {
		return "", err
	}
	if result.Thread.ID == "" {
		return "", errors.New("no thread id produced")
	}
	return result.Thread.ID, nil
}

func (r *Runner) startTurn(sessionID string, child *Child, threadID, prompt string) (string, error) {
	id, err := child.SendRequest("turn/start", map[string]interface{}{
		"threadId": threadID,
		"input":    []map[string]string{{"type": "text", "text": prompt}},
	})
	if err != nil {
		return "", err
	}
	var result struct {
		Turn struct {
			ID json.RawMessage `json:"id"`
		} `json:"turn"`
	}
	if err := r.awaitResponse(sessionID, child, id, &result); err != nil {
		return "", err
	}
	return strings.Trim(string(result.Turn.ID), `"`), nil
}

// awaitResponse reads lines until the response to wantID arrives, forwarding
// any notification lines it sees along the way through the normal
// persist+broadcast path.
func (r *Runner) awaitResponse(sessionID string, child *Child, wantID int64, out interface{}) error {
	for {
		line, err := child.ReadNext()
		if err != nil {
			return err
		}
		if line.IsNotification() {
			if sessionID != "" {
				r.handleNotification(sessionID, line)
			}
			continue
		}
		if MatchesID(line, wantID) {
			if line.Error != nil {
				return fmt.Errorf("%s", line.Error.Message)
			}
			if out != nil && line.Result != nil {
				return json.Unmarshal(line.Result, out)
			}
			return nil
		}
	}
}

type turnStatus string

const (
	turnCompleted   turnStatus = "completed"
	turnInterrupted turnStatus = "interrupted"
	turnFailed      turnStatus = "failed"
	turnCancelled   turnStatus = "cancelled"
)

// drain reads lines until a turn/completed notification, EOF, or cancellation.
func (r *Runner) drain(ctx context.Context, meta session.Meta, child *Child, handle *Handle, capture *TextCapture) (turnStatus, error) {
	done := make(chan struct{})
	var status turnStatus
	var drainErr error

	go func() {
		defer close(done)
		for {
			line, err := child.ReadNext()
			if err != nil {
				if !errors.Is(err, io.EOF) {
					drainErr = err
				}
				status = turnFailed
				return
			}
			if !line.IsNotification() {
				continue
			}

			r.handleNotification(meta.ID, line)
			r.applyCapture(line, capture)

			if line.Method == "turn/completed" {
				var params struct {
					Turn struct {
						Status string `json:"status"`
					} `json:"turn"`
				}
				_ = json.Unmarshal(line.Params, &params)
				switch params.Turn.Status {
				case "interrupted":
					status = turnInterrupted
				case "failed":
					status = turnFailed
				default:
					status = turnCompleted
				}
				return
			}
		}
	}()

	select {
	case <-done:
		return status, drainErr
	case <-ctx.Done():
		<-done
		if handle.wasCancelled() {
			return turnCancelled, nil
		}
		return status, drainErr
	}
}

func (r *Runner) applyCapture(line Line, capture *TextCapture) {
	switch line.Method {
	case "item/agentMessage/delta":
		var p struct {
			ItemID string `json:"itemId"`
			Delta  string `json:"delta"`
		}
		if json.Unmarshal(line.Params, &p) == nil {
			capture.Delta(p.ItemID, p.Delta)
		}
	case "item/completed":
		var p struct {
			Item struct {
				ID   string `json:"id"`
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"item"`
		}
		if json.Unmarshal(line.Params, &p) == nil && p.Item.Type == "agentMessage" {
			capture.Completed(p.Item.ID, p.Item.Text)
		}
	}
}

// handleNotification persists and broadcasts one inbound notification unless
// it falls in the suppressed set, and feeds token-usage notifications to the
// usage meter.
func (r *Runner) handleNotification(sessionID string, line Line) {
	if line.Method == "thread/tokenUsage/updated" {
		if r.usage != nil {
			r.usage.Observe(sessionID, line.Params)
		}
		return
	}
	if suppressedMethods[line.Method] {
		return
	}

	r.persistAndBroadcast(sessionID, "stdout", line.Raw)
}

func (r *Runner) persistAndBroadcast(sessionID, stream string, raw json.RawMessage) {
	meta, err := r.store.ReadMeta(sessionID)
	if err != nil {
		return
	}

	envelope := map[string]interface{}{
		"session_id": sessionID,
		"ts_ms":      clock.NowMillis(),
		"stream":     stream,
	}
	var parsed interface{}
	if raw != nil && json.Unmarshal(raw, &parsed) == nil {
		envelope["json"] = parsed
		envelope["line"] = string(raw)
	} else {
		envelope["json"] = nil
		envelope["line"] = string(raw)
	}

	data, err := json.Marshal(envelope)
	if err != nil {
		return
	}

	_ = r.store.AppendEvent(meta.EventLogPath, data)
	r.bus.Publish(sessionID, "codex_event", string(data))
}

func (r *Runner) drainStderr(sessionID, stderrLogPath string, child *Child) {
	for line := range child.Stderr() {
		_ = r.store.AppendStderr(stderrLogPath, line.Raw)
		data, err := json.Marshal(map[string]interface{}{
			"session_id": sessionID,
			"ts_ms":      clock.NowMillis(),
			"stream":     "stderr",
			"json":       nil,
			"line":       string(line.Raw),
		})
		if err == nil {
			r.bus.Publish(sessionID, "codex_event", string(data))
		}
	}
}

func (r *Runner) finalizeError(meta session.Meta, reason string) {
	if data, err := json.Marshal(map[string]interface{}{
		"type":       "app/error",
		"session_id": meta.ID,
		"ts_ms":      clock.NowMillis(),
		"error":      reason,
	}); err == nil {
		_ = r.store.AppendEvent(meta.EventLogPath, data)
	}
	_ = r.store.WriteConclusion(meta.ConclusionPath, "# Error\n\n"+reason+"\n")
	meta.Status = session.StatusError
	meta.LastUsedAt = clock.NowMillis()
	_ = r.store.WriteMeta(meta.ID, meta)
	one := 1
	r.emitRunFinished(meta.ID, false, &one)
}

func (r *Runner) finalize(meta session.Meta, handle *Handle, child *Child, status turnStatus, drainErr error, capture *TextCapture) error {
	cancelled := handle.wasCancelled()
	if cancelled {
		if handle.ThreadID != "" && handle.TurnID != "" {
			_, _ = child.SendRequest("turn/interrupt", map[string]interface{}{
				"threadId": handle.ThreadID,
				"turnId":   handle.TurnID,
			})
		}
		_ = child.CloseStdin()
		child.Interrupt()
	} else {
		_ = child.CloseStdin()
	}

	waitDone := make(chan error, 1)
	go func() { waitDone <- child.Wait() }()
	select {
	case <-waitDone:
	case <-time.After(2 * time.Second):
		_ = child.Signal(syscall.SIGKILL)
		<-waitDone
	}

	meta.LastUsedAt = clock.NowMillis()
	if cur, err := r.store.ReadMeta(meta.ID); err == nil {
		meta.Context = cur.Context
	}
	text := strings.TrimSpace(capture.Text())

	var exitCode *int
	success := false
	switch {
	case cancelled, status == turnInterrupted:
		meta.Status = session.StatusDone
	case status == turnCompleted && drainErr == nil:
		meta.Status = session.StatusDone
		success = true
	default:
		meta.Status = session.StatusError
		one := 1
		exitCode = &one
	}

	if text != "" {
		_ = r.store.WriteConclusion(meta.ConclusionPath, text)
	}
	_ = r.store.WriteMeta(meta.ID, meta)

	if r.usage != nil {
		r.usage.Finalize(meta.ID, handle.ThreadID)
	}

	r.emitRunFinished(meta.ID, success, exitCode)
	return drainErr
}

func (r *Runner) emitRunFinished(sessionID string, success bool, exitCode *int) {
	payload := map[string]interface{}{
		"session_id": sessionID,
		"ts_ms":      clock.NowMillis(),
		"success":    success,
	}
	if exitCode != nil {
		payload["exit_code"] = *exitCode
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	r.bus.Publish(sessionID, "codex_run_finished", string(data))
}
