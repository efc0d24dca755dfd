package sse

import (
	"bytes"
	"strconv"
	"strings"
)

// Parser is a stateful byte-to-event transform for SSE streams.
//
// Bytes are fed in arbitrary chunk boundaries via Feed; complete frames
// (terminated by a blank line) are returned as events. Partial frames stay
// buffered until the terminator arrives. The parser never blocks and keeps
// no goroutines; it is not safe for concurrent use.
type Parser struct {
	buf bytes.Buffer
}

// NewParser returns an empty parser.
func NewParser() *Parser {
	return &Parser{}
}

// Feed appends a chunk of bytes and returns every event completed by it.
func (p *Parser) Feed(chunk []byte) []Event {
	p.buf.Write(chunk)

	var events []Event
	for {
		frame, rest, ok := splitFrame(p.buf.Bytes())
		if !ok {
			break
		}
		remainder := make([]byte, len(rest))
		copy(remainder, rest)
		p.buf.Reset()
		p.buf.Write(remainder)

		if ev, ok := parseFrame(frame); ok {
			events = append(events, ev)
		}
	}
	return events
}

// Flush parses whatever is left in the buffer as a final unterminated
// frame. Call once when the byte stream ends.
func (p *Parser) Flush() []Event {
	remaining := strings.TrimRight(p.buf.String(), "\r\n")
	p.buf.Reset()
	if remaining == "" {
		return nil
	}
	if ev, ok := parseFrame(remaining); ok {
		return []Event{ev}
	}
	return nil
}

// Pending reports whether an incomplete frame is buffered.
func (p *Parser) Pending() bool {
	return p.buf.Len() > 0
}

// splitFrame finds the first frame terminator (\n\n or \r\n\r\n) and
// returns the frame text before it plus the remaining bytes after it.
func splitFrame(b []byte) (frame string, rest []byte, ok bool) {
	idxLF := bytes.Index(b, []byte("\n\n"))
	idxCRLF := bytes.Index(b, []byte("\r\n\r\n"))

	switch {
	case idxCRLF >= 0 && (idxLF < 0 || idxCRLF < idxLF):
		return string(b[:idxCRLF]), b[idxCRLF+4:], true
	case idxLF >= 0:
		return string(b[:idxLF]), b[idxLF+2:], true
	default:
		return "", nil, false
	}
}

// parseFrame interprets the lines of one frame. Returns false for frames
// consisting only of comments or unknown fields.
func parseFrame(frame string) (Event, bool) {
	var (
		ev        Event
		dataLines []string
		sawField  bool
	)

	for _, line := range strings.Split(frame, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, ":") {
			// Comment line, e.g. keep-alive pings.
			continue
		}

		field, value := splitField(line)
		switch field {
		case "event":
			ev.Name = value
			sawField = true
		case "data":
			dataLines = append(dataLines, value)
			sawField = true
		case "id":
			ev.ID = value
			sawField = true
		case "retry":
			if n, err := strconv.Atoi(value); err == nil {
				ev.Retry = n
			}
			sawField = true
		default:
			// Unknown fields are ignored per the SSE spec.
		}
	}

	if !sawField {
		return Event{}, false
	}
	if dataLines != nil {
		ev.Data = DecodeData(strings.Join(dataLines, "\n"))
	}
	return ev, true
}

// splitField splits an SSE line into field name and value. A single space
// after the colon is stripped; further whitespace is payload.
func splitField(line string) (string, string) {
	idx := strings.Index(line, ":")
	if idx < 0 {
		return line, ""
	}
	field := line[:idx]
	value := line[idx+1:]
	value = strings.TrimPrefix(value, " ")
	return field, value
}
