package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
)

var (
	frameDelimiter = []byte("\n\n")
	dataPrefix     = []byte("data:")
	doneSentinel   = []byte("[DONE]")
)

// Reassembler groups server-sent event bytes into JSON events. It accepts
// arbitrary chunk boundaries; only complete frames are decoded.
type Reassembler struct {
	buf    []byte
	raw    []byte // everything written until the first frame is seen
	events []json.RawMessage
	framed bool
	logger *slog.Logger
}

func NewReassembler(logger *slog.Logger) *Reassembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reassembler{logger: logger}
}

// Write appends p to the buffer and decodes every complete frame.
func (r *Reassembler) Write(p []byte) (int, error) {
	r.buf = append(r.buf, p...)
	if !r.framed {
		r.raw = append(r.raw, p...)
	}
	for {
		i := bytes.Index(r.buf, frameDelimiter)
		if i < 0 {
			break
		}
		frame := r.buf[:i]
		r.buf = r.buf[i+len(frameDelimiter):]
		r.decodeFrame(frame)
	}
	return len(p), nil
}

func (r *Reassembler) decodeFrame(frame []byte) {
	for _, line := range bytes.Split(frame, []byte("\n")) {
		line = bytes.TrimRight(line, "\r")
		if !bytes.HasPrefix(line, dataPrefix) {
			continue
		}
		r.framed = true
		r.raw = nil
		data := bytes.TrimSpace(line[len(dataPrefix):])
		if bytes.Equal(data, doneSentinel) {
			continue
		}
		if !json.Valid(data) {
			r.logger.Warn("skipping malformed stream event", "event", truncate(string(data), 200))
			continue
		}
		r.events = append(r.events, json.RawMessage(bytes.Clone(data)))
	}
}

// Events flushes a trailing unterminated frame and returns the decoded events.
// When no frame was ever seen, the whole buffer is treated as one
// non-streamed JSON response; a top-level array is expanded into its elements.
func (r *Reassembler) Events() []json.RawMessage {
	rest := bytes.TrimSpace(r.buf)
	r.buf = nil
	if bytes.HasPrefix(rest, dataPrefix) || (r.framed && bytes.Contains(rest, dataPrefix)) {
		r.decodeFrame(rest)
	}
	if r.framed {
		return r.events
	}
	whole := bytes.TrimSpace(r.raw)
	r.raw = nil
	if len(whole) == 0 {
		return nil
	}
	return decodeWhole(whole, r.logger)
}

func decodeWhole(data []byte, logger *slog.Logger) []json.RawMessage {
	var arr []json.RawMessage
	if err := json.Unmarshal(data, &arr); err == nil {
		return arr
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err == nil {
		return []json.RawMessage{json.RawMessage(bytes.Clone(data))}
	}
	logger.Warn("response body is neither an event stream nor JSON", "body", truncate(string(data), 200))
	return nil
}

// ParseEvents reads r to EOF and returns its events. An empty result means the
// body could not be decoded and must be treated as a failure by the caller.
func ParseEvents(r io.Reader, logger *slog.Logger) ([]json.RawMessage, error) {
	re := NewReassembler(logger)
	if _, err := io.Copy(re, r); err != nil {
		return nil, fmt.Errorf("read stream: %w", err)
	}
	return re.Events(), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
