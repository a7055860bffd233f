// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package bus implements the per-session Event Bus (component C): a bounded,
// in-memory multi-consumer broadcast of pre-serialized SSE messages.
package bus

import (
	"sync"

	"github.com/valyala/bytebufferpool"
)

// Capacity is the per-subscriber channel buffer size. While a subscriber's
// buffer is full, newly published messages are dropped for it; the SSE
// backlog on reconnect is the client's recovery path, not this bus.
const Capacity = 4096

// Message is one broadcast frame: an SSE event name paired with its
// already-serialized payload.
type Message struct {
	Event string
	Data  string
}

// Bus holds one bounded broadcast channel per session id.
type Bus struct {
	mu    sync.Mutex
	chans map[string]map[chan Message]struct{}
}

// New returns an empty Bus.
func New() *Bus {
	return &Bus{chans: make(map[string]map[chan Message]struct{})}
}

// Subscribe registers a new consumer for id and returns its channel. Callers
// must call the returned unsubscribe func when done.
func (b *Bus) Subscribe(id string) (ch chan Message, unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.chans[id]
	if !ok {
		subs = make(map[chan Message]struct{})
		b.chans[id] = subs
	}
	ch = make(chan Message, Capacity)
	subs[ch] = struct{}{}

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if subs, ok := b.chans[id]; ok {
			delete(subs, ch)
			if len(subs) == 0 {
				delete(b.chans, id)
			}
		}
		close(ch)
	}
}

// Publish does a non-blocking send of event/data to every current subscriber
// of id. Slow subscribers drop the message rather than stall the publisher.
func (b *Bus) Publish(id, event, data string) {
	b.mu.Lock()
	subs := b.chans[id]
	targets := make([]chan Message, 0, len(subs))
	for ch := range subs {
		targets = append(targets, ch)
	}
	b.mu.Unlock()

	msg := Message{Event: event, Data: data}
	for _, ch := range targets {
		select {
		case ch <- msg:
		default:
		}
	}
}

// bufPool is a shared byte-buffer pool exposed through Get and Put. Publish
// itself takes already-serialized strings and does not use it.
var bufPool bytebufferpool.Pool

// Get borrows a buffer from the shared pool.
func Get() *bytebufferpool.ByteBuffer {
	return bufPool.Get()
}

// Put returns a buffer to the shared pool.
func Put(b *bytebufferpool.ByteBuffer) {
	bufPool.Put(b)
}
