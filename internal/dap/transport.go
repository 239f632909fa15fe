// Copyright (c) Kalynt contributors.
// Licensed under the MIT License.

package dap

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/google/go-dap"
)

// Transport provides an abstraction for DAP message I/O over different connection types.
// Implementations must be safe for concurrent use by multiple goroutines for reading
// and writing, but individual reads and writes may not be concurrent with each other.
type Transport interface {
	// ReadMessage reads the next DAP protocol message from the transport.
	// This method blocks until a complete message is available. A returned
	// *ProtocolError means one malformed message was discarded and the
	// stream is still usable; any other error means the transport is gone.
	ReadMessage() (dap.Message, error)

	// WriteMessage writes a DAP protocol message to the transport.
	WriteMessage(msg dap.Message) error

	// Close closes the transport, releasing any associated resources.
	// After Close is called, any blocked ReadMessage or WriteMessage calls
	// return with an error.
	Close() error
}

// frameReader pulls raw chunks from an io.Reader and runs them through a
// Framer. It is shared by the tcp and stdio transports so both handle partial
// reads and malformed-message resync identically.
type frameReader struct {
	reader *bufio.Reader
	framer *Framer
	chunk  []byte
}

func newFrameReader(r io.Reader) *frameReader {
	return &frameReader{
		reader: bufio.NewReader(r),
		framer: NewFramer(),
		chunk:  make([]byte, 4096),
	}
}

func (fr *frameReader) readMessage() (dap.Message, error) {
	for {
		msg, frameErr := fr.framer.Next()
		if msg != nil || frameErr != nil {
			return msg, frameErr
		}

		n, readErr := fr.reader.Read(fr.chunk)
		if n > 0 {
			fr.framer.Feed(fr.chunk[:n])
			continue
		}
		if readErr != nil {
			return nil, fmt.Errorf("%w: %w", ErrTransportClosed, readErr)
		}
	}
}

// tcpTransport implements Transport over a TCP connection.
type tcpTransport struct {
	conn   net.Conn
	frames *frameReader
	writer *bufio.Writer

	// writeMu protects concurrent writes to the connection
	writeMu sync.Mutex

	// closed indicates whether the transport has been closed
	closed bool
	mu     sync.Mutex
}

// NewTCPTransport creates a new Transport backed by a TCP connection.
func NewTCPTransport(conn net.Conn) Transport {
	return &tcpTransport{
		conn:   conn,
		frames: newFrameReader(conn),
		writer: bufio.NewWriter(conn),
	}
}

// DialTCP establishes a TCP connection to the specified address and returns a Transport.
func DialTCP(ctx context.Context, address string) (Transport, error) {
	var d net.Dialer
	conn, dialErr := d.DialContext(ctx, "tcp", address)
	if dialErr != nil {
		return nil, fmt.Errorf("failed to dial TCP %s: %w", address, dialErr)
	}

	return NewTCPTransport(conn), nil
}

func (t *tcpTransport) ReadMessage() (dap.Message, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrTransportClosed
	}
	t.mu.Unlock()

	return t.frames.readMessage()
}

func (t *tcpTransport) WriteMessage(msg dap.Message) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrTransportClosed
	}
	t.mu.Unlock()

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if writeErr := dap.WriteProtocolMessage(t.writer, msg); writeErr != nil {
		return fmt.Errorf("failed to write DAP message: %w", writeErr)
	}

	if flushErr := t.writer.Flush(); flushErr != nil {
		return fmt.Errorf("failed to flush DAP message: %w", flushErr)
	}

	return nil
}

func (t *tcpTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}

	t.closed = true
	return t.conn.Close()
}

// stdioTransport implements Transport over a subprocess's stdin/stdout streams.
type stdioTransport struct {
	frames *frameReader
	writer *bufio.Writer
	input  io.ReadCloser
	output io.WriteCloser

	// writeMu protects concurrent writes
	writeMu sync.Mutex

	// closed indicates whether the transport has been closed
	closed bool
	mu     sync.Mutex
}

// NewStdioTransport creates a new Transport that reads adapter output from
// input and writes requests to output. For a launched adapter these are the
// child's stdout and stdin pipes respectively.
func NewStdioTransport(input io.ReadCloser, output io.WriteCloser) Transport {
	return &stdioTransport{
		frames: newFrameReader(input),
		writer: bufio.NewWriter(output),
		input:  input,
		output: output,
	}
}

func (t *stdioTransport) ReadMessage() (dap.Message, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrTransportClosed
	}
	t.mu.Unlock()

	return t.frames.readMessage()
}

func (t *stdioTransport) WriteMessage(msg dap.Message) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrTransportClosed
	}
	t.mu.Unlock()

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if writeErr := dap.WriteProtocolMessage(t.writer, msg); writeErr != nil {
		return fmt.Errorf("failed to write DAP message: %w", writeErr)
	}

	if flushErr := t.writer.Flush(); flushErr != nil {
		return fmt.Errorf("failed to flush DAP message: %w", flushErr)
	}

	return nil
}

func (t *stdioTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}

	t.closed = true

	var errs []error
	if closeErr := t.input.Close(); closeErr != nil {
		errs = append(errs, fmt.Errorf("failed to close adapter output stream: %w", closeErr))
	}
	if closeErr := t.output.Close(); closeErr != nil {
		errs = append(errs, fmt.Errorf("failed to close adapter input stream: %w", closeErr))
	}

	if len(errs) > 0 {
		return errs[0]
	}

	return nil
}
