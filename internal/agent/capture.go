// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package agent

import "strings"

// citation marker private-use-area code points bracketing citation text.
const (
	citationStart = '\uE200'
	citationEnd   = '\uE201'
)

// TextCapture accumulates the agent's streamed reply text across
// item/agentMessage/delta and item/completed notifications for one turn.
type TextCapture struct {
	itemID string
	buf    strings.Builder
}

// Delta applies an item/agentMessage/delta notification. A new itemId
// resets the buffer before appending.
func (c *TextCapture) Delta(itemID, delta string) {
	if itemID != c.itemID {
		c.buf.Reset()
		c.itemID = itemID
	}
	c.buf.WriteString(delta)
}

// Completed applies an item/completed agentMessage notification, which
// carries the authoritative full text and replaces any partial buffer.
func (c *TextCapture) Completed(itemID, text string) {
	c.itemID = itemID
	c.buf.Reset()
	c.buf.WriteString(text)
}

// Text returns the captured text with citation markers elided.
func (c *TextCapture) Text() string {
	return StripCitations(c.buf.String())
}

// StripCitations removes any text between a citationStart marker and the
// following citationEnd marker, along with the whitespace immediately
// preceding the start marker.
func StripCitations(s string) string {
	runes := []rune(s)
	out := make([]rune, 0, len(runes))
	i := 0
	for i < len(runes) {
		if runes[i] == citationStart {
			for len(out) > 0 {
				last := out[len(out)-1]
				if last == ' ' || last == '\t' || last == '\n' {
					out = out[:len(out)-1]
					continue
				}
				break
			}
			j := i + 1
			for j < len(runes) && runes[j] != citationEnd {
				j++
			}
			if j < len(runes) {
				i = j + 1
			} else {
				i = j
			}
			continue
		}
		out = append(out, runes[i])
		i++
	}
	return string(out)
}
