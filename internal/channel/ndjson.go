package channel

import (
	"bytes"
	"encoding/json"

	"github.com/haasonsaas/agentscript/pkg/protocol"
)

// SerializeEvent renders e as one JSON line (no trailing newline, no
// embedded newline).
func SerializeEvent(e protocol.Event) ([]byte, error) {
	return json.Marshal(e)
}

// LineResult is ParseLine's outcome: either a decoded value or an error.
type LineResult struct {
	OK    bool
	Value json.RawMessage
	Err   error
}

// ParseLine decodes one NDJSON line into a generic JSON value, without
// assuming it is an Event (inbound control messages use the same framing).
func ParseLine(line []byte) LineResult {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 {
		return LineResult{OK: false, Err: errEmptyLine}
	}
	var v json.RawMessage
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return LineResult{OK: false, Err: err}
	}
	return LineResult{OK: true, Value: v}
}

var errEmptyLine = jsonLineError("empty line")

type jsonLineError string

func (e jsonLineError) Error() string { return string(e) }

// LineError reports a malformed NDJSON line, tagged with its 1-based line
// number within the stream.
type LineError struct {
	Line    int
	Message string
}

// NdjsonStreamParser buffers an NDJSON byte stream across chunk
// boundaries, parsing a complete line the moment it sees '\n'. It imposes
// no size limit of its own — callers enforce maxStdoutBytes and similar
// budgets above this layer.
type NdjsonStreamParser struct {
	buf     []byte
	lineNum int
	onEvent func(json.RawMessage)
	onError func(LineError)
}

// NewNdjsonStreamParser creates a parser that calls onEvent for each
// complete, well-formed line and onError for each malformed one. Parsing
// continues after an error.
func NewNdjsonStreamParser(onEvent func(json.RawMessage), onError func(LineError)) *NdjsonStreamParser {
	return &NdjsonStreamParser{onEvent: onEvent, onError: onError}
}

// Feed appends chunk to the internal buffer and emits every complete line
// it now contains.
func (p *NdjsonStreamParser) Feed(chunk []byte) {
	p.buf = append(p.buf, chunk...)
	for {
		idx := bytes.IndexByte(p.buf, '\n')
		if idx < 0 {
			return
		}
		line := p.buf[:idx]
		p.buf = p.buf[idx+1:]
		p.consumeLine(line)
	}
}

// Flush processes any remaining unterminated line in the buffer. Call
// this once, when the underlying stream has closed.
func (p *NdjsonStreamParser) Flush() {
	if len(p.buf) == 0 {
		return
	}
	line := p.buf
	p.buf = nil
	p.consumeLine(line)
}

func (p *NdjsonStreamParser) consumeLine(line []byte) {
	p.lineNum++
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 {
		return
	}
	result := ParseLine(trimmed)
	if !result.OK {
		if p.onError != nil {
			p.onError(LineError{Line: p.lineNum, Message: result.Err.Error()})
		}
		return
	}
	if p.onEvent != nil {
		p.onEvent(result.Value)
	}
}
