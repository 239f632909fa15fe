/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Kalynt contributors. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package dap

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/go-dap"
)

const (
	contentLengthHeader = "Content-Length:"
	headerTerminator    = "\r\n\r\n"

	// maxHeaderBytes bounds the header block; no sane peer comes close.
	maxHeaderBytes = 4 * 1024

	// maxBodyBytes bounds a single message body (16 MiB).
	maxBodyBytes = 16 * 1024 * 1024
)

// RawEvent is an event whose kind is not part of the typed DAP surface.
// The body is preserved verbatim so catch-all subscribers can inspect it.
type RawEvent struct {
	dap.Event
	Body json.RawMessage `json:"body,omitempty"`
}

// Framer incrementally decodes Content-Length framed DAP messages from a byte
// stream. Bytes arrive via Feed in arbitrary chunks; Next pops complete
// messages as they become available. Lengths are byte counts, never character
// counts, so multi-byte UTF-8 content frames correctly.
//
// A message body that fails to decode is consumed as a single message (the
// stream stays in sync) and reported as a *ProtocolError; the caller can keep
// calling Next afterwards. Framer is not safe for concurrent use.
type Framer struct {
	buf []byte
}

// NewFramer creates an empty framer.
func NewFramer() *Framer {
	return &Framer{}
}

// Feed appends raw bytes received from the peer to the framer's buffer.
func (f *Framer) Feed(p []byte) {
	f.buf = append(f.buf, p...)
}

// Buffered returns the number of unconsumed bytes held by the framer.
func (f *Framer) Buffered() int {
	return len(f.buf)
}

// Next returns the next complete message, or (nil, nil) if more bytes are
// needed. A *ProtocolError return means the offending bytes were consumed and
// decoding can continue with the following message.
func (f *Framer) Next() (dap.Message, error) {
	sep := bytes.Index(f.buf, []byte(headerTerminator))
	if sep < 0 {
		if len(f.buf) > maxHeaderBytes {
			dropped := len(f.buf)
			f.buf = nil
			return nil, &ProtocolError{Reason: fmt.Sprintf("no header terminator within %d bytes", dropped)}
		}
		return nil, nil
	}

	contentLength, lengthErr := parseContentLength(f.buf[:sep])
	if lengthErr != nil {
		// Discard the unusable header block and keep scanning from the
		// terminator so a well-formed successor message still parses.
		f.consume(sep + len(headerTerminator))
		return nil, lengthErr
	}

	bodyStart := sep + len(headerTerminator)
	if len(f.buf) < bodyStart+contentLength {
		return nil, nil
	}

	body := make([]byte, contentLength)
	copy(body, f.buf[bodyStart:bodyStart+contentLength])
	f.consume(bodyStart + contentLength)

	msg, decodeErr := dap.DecodeProtocolMessage(body)
	if decodeErr == nil {
		return msg, nil
	}

	// go-dap rejects event kinds it has no type for. Those are still valid
	// traffic; surface them with the opaque body intact.
	if raw, ok := decodeRawEvent(body); ok {
		return raw, nil
	}

	return nil, &ProtocolError{Reason: "undecodable message body", Err: decodeErr}
}

// consume drops n leading bytes from the buffer.
func (f *Framer) consume(n int) {
	remaining := len(f.buf) - n
	if remaining == 0 {
		f.buf = f.buf[:0]
		return
	}
	copy(f.buf, f.buf[n:])
	f.buf = f.buf[:remaining]
}

// parseContentLength extracts the Content-Length value from a header block.
func parseContentLength(header []byte) (int, error) {
	for _, line := range strings.Split(string(header), "\r\n") {
		if !strings.HasPrefix(line, contentLengthHeader) {
			continue
		}

		value := strings.TrimSpace(line[len(contentLengthHeader):])
		contentLength, convErr := strconv.Atoi(value)
		if convErr != nil {
			return 0, &ProtocolError{Reason: fmt.Sprintf("invalid Content-Length %q", value), Err: convErr}
		}
		if contentLength < 0 || contentLength > maxBodyBytes {
			return 0, &ProtocolError{Reason: fmt.Sprintf("Content-Length %d out of range", contentLength)}
		}

		return contentLength, nil
	}

	return 0, &ProtocolError{Reason: "missing Content-Length header"}
}

// decodeRawEvent attempts to interpret an undecodable body as an event of an
// unknown kind.
func decodeRawEvent(body []byte) (*RawEvent, bool) {
	var envelope struct {
		Seq   int             `json:"seq"`
		Type  string          `json:"type"`
		Event string          `json:"event"`
		Body  json.RawMessage `json:"body"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, false
	}
	if envelope.Type != "event" || envelope.Event == "" {
		return nil, false
	}

	return &RawEvent{
		Event: dap.Event{
			ProtocolMessage: dap.ProtocolMessage{Seq: envelope.Seq, Type: "event"},
			Event:           envelope.Event,
		},
		Body: envelope.Body,
	}, true
}
