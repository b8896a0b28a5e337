// Package streamclient consumes the assistant event stream: an
// incremental frame parser tolerant of arbitrary chunk boundaries, and a
// turn state machine with soft-fallback and hard-timeout timers.
package streamclient

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/coverdesk/coverdesk/pkg/models"
)

// Item is one parsed unit of the event stream.
type Item struct {
	// Event is set for content frames.
	Event *models.StreamEvent

	// Done is true for the completion sentinel.
	Done bool
}

// Parser reassembles stream events from arbitrarily chunked bytes. Frames
// are newline-delimited; a frame whose JSON payload is cut off by the
// chunk boundary is pushed back onto the buffer front and completed by
// later bytes. Malformed payloads are discarded, never fatal.
type Parser struct {
	buf       []byte
	discarded int
}

// Feed appends data and returns every item decodable so far.
func (p *Parser) Feed(data []byte) []Item {
	p.buf = append(p.buf, data...)

	var items []Item
	for {
		idx := bytes.IndexByte(p.buf, '\n')
		if idx < 0 {
			return items
		}

		line := p.buf[:idx]
		p.buf = p.buf[idx+1:]

		line = bytes.TrimSuffix(line, []byte("\r"))
		if len(line) == 0 {
			continue
		}

		text := string(line)
		if strings.HasPrefix(text, models.CommentPrefix) {
			continue
		}
		if !strings.HasPrefix(text, models.EventMarker) {
			p.discarded++
			continue
		}

		payload := strings.TrimSpace(strings.TrimPrefix(text, models.EventMarker))
		if payload == "" {
			continue
		}
		if payload == models.DoneSentinel {
			items = append(items, Item{Done: true})
			continue
		}

		event, status := decodePayload([]byte(payload))
		switch status {
		case payloadOK:
			items = append(items, Item{Event: event})
		case payloadIncomplete:
			// The payload was split mid-JSON. Push the line back and
			// wait for the rest.
			rebuffered := make([]byte, 0, len(line)+len(p.buf))
			rebuffered = append(rebuffered, line...)
			rebuffered = append(rebuffered, p.buf...)
			p.buf = rebuffered
			return items
		case payloadMalformed:
			p.discarded++
		}
	}
}

// Discarded reports how many unparseable frames were dropped.
func (p *Parser) Discarded() int {
	return p.discarded
}

// Buffered reports how many bytes await completion.
func (p *Parser) Buffered() int {
	return len(p.buf)
}

type payloadStatus int

const (
	payloadOK payloadStatus = iota
	payloadIncomplete
	payloadMalformed
)

// decodePayload distinguishes a decodable payload from one that needs
// more bytes and one that can never decode.
func decodePayload(payload []byte) (*models.StreamEvent, payloadStatus) {
	if !json.Valid(payload) {
		if isTruncatedJSON(payload) {
			return nil, payloadIncomplete
		}
		return nil, payloadMalformed
	}

	var event models.StreamEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, payloadMalformed
	}
	if event.Type == "" {
		return nil, payloadMalformed
	}
	return &event, payloadOK
}

// isTruncatedJSON reports whether payload looks like the front of a JSON
// document: it ends inside an open object, array, or string. Balanced
// but invalid text is malformed, not truncated.
func isTruncatedJSON(payload []byte) bool {
	depth := 0
	inString := false
	escaped := false

	for _, b := range payload {
		if escaped {
			escaped = false
			continue
		}
		switch {
		case inString:
			if b == '\\' {
				escaped = true
			} else if b == '"' {
				inString = false
			}
		case b == '"':
			inString = true
		case b == '{' || b == '[':
			depth++
		case b == '}' || b == ']':
			depth--
			if depth < 0 {
				return false
			}
		}
	}
	return depth > 0 || inString || escaped
}
