// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package clock provides the ingestion-timestamp and session-id primitives
// shared across every other component.
package clock

import (
	"time"

	"github.com/google/uuid"
)

// NowMillis returns the current wall-clock time as milliseconds since epoch.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}

// NewSessionID returns a fresh textual session identifier.
func NewSessionID() string {
	return uuid.New().String()
}
