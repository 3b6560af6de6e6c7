// Package sse implements a Server-Sent Events client: an incremental wire
// parser plus a reconnecting EventSource built on top of it.
package sse

import (
	"bytes"
	"strconv"
	"strings"
	"time"
)

// Event is one dispatched SSE message.
type Event struct {
	ID   string
	Type string
	Data string
}

// Parser incrementally decodes an SSE byte stream into Events. Feed may be
// called with arbitrarily sized chunks, including chunks that split a line
// or a line terminator across calls; End flushes any event accumulated but
// not yet terminated by a blank line.
//
// Per the SSE spec, a received id field is sticky: it persists across
// events until a later id field overrides it (an empty id resets it).
type Parser struct {
	onEvent func(Event)
	onID    func(string)        // invoked when a new last-event-id should be remembered
	onRetry func(time.Duration) // invoked when the stream sets a reconnection delay

	buf []byte

	sawBOM bool

	lastEventID  string
	pendingType  string
	pendingData  strings.Builder
	pendingID    string
	hasPendingID bool
	hasPending   bool
}

// NewParser returns a Parser that calls onEvent for each dispatched message,
// onID whenever the stream's last-event-id should be updated (used to
// resume a dropped connection with Last-Event-ID), and onRetry whenever the
// stream sets a reconnection delay via a retry field. Any callback may be
// nil.
func NewParser(onEvent func(Event), onID func(string), onRetry func(time.Duration)) *Parser {
	return &Parser{onEvent: onEvent, onID: onID, onRetry: onRetry}
}

// Feed appends chunk to the parser's internal buffer and processes every
// complete line it now contains, leaving any trailing partial line buffered
// for the next call.
func (p *Parser) Feed(chunk []byte) {
	p.buf = append(p.buf, chunk...)

	for {
		line, rest, ok := splitLine(p.buf)
		if !ok {
			break
		}
		p.buf = rest
		p.processLine(line)
	}
}

// End flushes any event accumulated since the last blank line. SSE streams
// that close mid-event (no trailing blank line) still dispatch.
func (p *Parser) End() {
	if len(p.buf) > 0 {
		p.processLine(p.buf)
		p.buf = nil
	}
	p.dispatch()
}

// splitLine finds the first CR, LF, or CRLF terminated line in buf and
// returns it (without the terminator), the remaining bytes, and whether a
// full line was found.
func splitLine(buf []byte) (line, rest []byte, ok bool) {
	for i, b := range buf {
		switch b {
		case '\n':
			return buf[:i], buf[i+1:], true
		case '\r':
			if i+1 < len(buf) {
				if buf[i+1] == '\n' {
					return buf[:i], buf[i+2:], true
				}
				return buf[:i], buf[i+1:], true
			}
			// CR at the very end of the buffer: it might be the first half
			// of a CRLF split across Feed calls, so wait for more input.
			return nil, buf, false
		}
	}
	return nil, buf, false
}

func (p *Parser) processLine(line []byte) {
	if !p.sawBOM {
		p.sawBOM = true
		line = bytes.TrimPrefix(line, []byte{0xEF, 0xBB, 0xBF})
	}

	if len(line) == 0 {
		p.dispatch()
		return
	}
	if line[0] == ':' {
		return // comment
	}

	field, value := splitField(line)
	p.hasPending = true
	switch field {
	case "event":
		p.pendingType = value
	case "data":
		p.pendingData.WriteString(value)
		p.pendingData.WriteByte('\n')
	case "id":
		if !strings.Contains(value, "\x00") {
			p.pendingID = value
			p.hasPendingID = true
		}
	case "retry":
		if ms, err := strconv.Atoi(value); err == nil && p.onRetry != nil {
			p.onRetry(time.Duration(ms) * time.Millisecond)
		}
	}
}

func splitField(line []byte) (field, value string) {
	s := string(line)
	i := strings.IndexByte(s, ':')
	if i < 0 {
		return s, ""
	}
	field = s[:i]
	value = s[i+1:]
	value = strings.TrimPrefix(value, " ")
	return field, value
}

func (p *Parser) dispatch() {
	if !p.hasPending {
		return
	}
	p.hasPending = false

	if p.hasPendingID {
		p.lastEventID = p.pendingID
		if p.onID != nil {
			p.onID(p.lastEventID)
		}
	}
	p.pendingID = ""
	p.hasPendingID = false

	data := strings.TrimSuffix(p.pendingData.String(), "\n")
	p.pendingData.Reset()

	eventType := p.pendingType
	if eventType == "" {
		eventType = "message"
	}
	p.pendingType = ""

	if data == "" {
		return
	}

	if p.onEvent != nil {
		p.onEvent(Event{ID: p.lastEventID, Type: eventType, Data: data})
	}
}
