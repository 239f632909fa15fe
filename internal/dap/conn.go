/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Kalynt contributors. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package dap

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/go-dap"
)

// DefaultRequestTimeout is how long a request may wait for its response
// before failing with ErrRequestTimeout.
const DefaultRequestTimeout = 10 * time.Second

// ConnConfig controls per-connection behavior.
type ConnConfig struct {
	// RequestTimeout bounds how long RoundTrip waits for a response.
	// Zero means DefaultRequestTimeout.
	RequestTimeout time.Duration
}

func (c ConnConfig) effectiveTimeout() time.Duration {
	if c.RequestTimeout > 0 {
		return c.RequestTimeout
	}
	return DefaultRequestTimeout
}

// Conn manages a single DAP connection to a debug adapter: it assigns
// sequence numbers, correlates responses to requests by request_seq (arrival
// order is irrelevant), and routes events to its EventRouter.
//
// When the transport fails, every in-flight request is failed in a single
// pass before subscribers learn about the closure, so no caller is left
// waiting on a response that can never arrive.
type Conn struct {
	transport Transport
	router    *EventRouter
	seq       *sequenceCounter
	pending   *pendingRequestMap
	timeout   time.Duration
	log       logr.Logger

	closed    chan struct{}
	closeOnce sync.Once

	// closeReason is set exactly once, before closed is closed.
	closeReason error

	wg sync.WaitGroup
}

// NewConn creates a Conn over the given transport and starts its read pump.
// The parent context bounds the lifetime of router notifier goroutines.
func NewConn(parentCtx context.Context, transport Transport, config ConnConfig, log logr.Logger) *Conn {
	c := &Conn{
		transport: transport,
		router:    NewEventRouter(parentCtx, log),
		seq:       newSequenceCounter(),
		pending:   newPendingRequestMap(),
		timeout:   config.effectiveTimeout(),
		log:       log,
		closed:    make(chan struct{}),
	}

	c.wg.Add(1)
	go c.readLoop()

	return c
}

// Events returns the router carrying this connection's event traffic.
func (c *Conn) Events() *EventRouter {
	return c.router
}

// Done returns a channel that is closed when the connection shuts down.
func (c *Conn) Done() <-chan struct{} {
	return c.closed
}

// Err returns the reason the connection shut down. It is nil until Done() is
// closed.
func (c *Conn) Err() error {
	select {
	case <-c.closed:
		return c.closeReason
	default:
		return nil
	}
}

// RoundTrip sends a request and blocks until the matching response arrives,
// the timeout elapses, the context is cancelled, or the connection closes.
// A success=false response is returned as a *RequestError.
func (c *Conn) RoundTrip(ctx context.Context, req dap.RequestMessage) (dap.ResponseMessage, error) {
	select {
	case <-c.closed:
		return nil, c.closeReason
	default:
	}

	request := req.GetRequest()
	request.Seq = c.seq.Next()
	if request.Type == "" {
		request.Type = "request"
	}

	pending := &pendingRequest{
		command:     request.Command,
		outcomeChan: make(chan requestOutcome, 1),
	}
	c.pending.Add(request.Seq, pending)

	// Re-check after registering: a shutdown racing this call may have
	// already failed all pending requests, leaving this entry stranded
	// until the timeout. Fail fast instead.
	select {
	case <-c.closed:
		c.pending.Get(request.Seq)
		return nil, c.closeReason
	default:
	}

	if writeErr := c.transport.WriteMessage(req); writeErr != nil {
		c.pending.Get(request.Seq)
		return nil, fmt.Errorf("failed to send %q request: %w", request.Command, writeErr)
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case outcome := <-pending.outcomeChan:
		return outcome.response, outcome.err

	case <-timer.C:
		// Remove the entry so a late response is discarded by the pump.
		c.pending.Get(request.Seq)
		return nil, fmt.Errorf("%w: no response to %q within %v", ErrRequestTimeout, request.Command, c.timeout)

	case <-ctx.Done():
		c.pending.Get(request.Seq)
		return nil, ctx.Err()
	}
}

// Close shuts the connection down, failing all in-flight requests.
func (c *Conn) Close() error {
	c.shutdown(ErrTransportClosed)
	closeErr := c.transport.Close()
	c.wg.Wait()
	return closeErr
}

// readLoop is the single reader of the transport. Everything the adapter
// sends flows through here.
func (c *Conn) readLoop() {
	defer c.wg.Done()

	for {
		msg, readErr := c.transport.ReadMessage()
		if readErr != nil {
			var protoErr *ProtocolError
			if errors.As(readErr, &protoErr) {
				// One bad message; the stream is still usable.
				c.log.V(1).Info("Discarding malformed message from debug adapter", "reason", protoErr.Reason)
				continue
			}

			c.shutdown(readErr)
			return
		}

		switch m := msg.(type) {
		case dap.ResponseMessage:
			c.deliverResponse(m)

		case dap.EventMessage:
			c.router.Dispatch(m)

		case dap.RequestMessage:
			c.handleReverseRequest(m)

		default:
			c.log.V(1).Info("Ignoring message of unexpected type", "type", fmt.Sprintf("%T", msg))
		}
	}
}

// deliverResponse resolves the pending request matching the response's
// request_seq. Responses with no pending request (late arrivals after a
// timeout, or sequence numbers never issued) are logged and dropped.
func (c *Conn) deliverResponse(msg dap.ResponseMessage) {
	response := msg.GetResponse()

	pending := c.pending.Get(response.RequestSeq)
	if pending == nil {
		c.log.V(1).Info("Discarding response with no pending request",
			"command", response.Command,
			"requestSeq", response.RequestSeq)
		return
	}

	if !response.Success {
		pending.outcomeChan <- requestOutcome{
			err: &RequestError{Command: response.Command, Message: response.Message},
		}
		return
	}

	pending.outcomeChan <- requestOutcome{response: msg}
}

// handleReverseRequest answers adapter-to-client requests. runInTerminal gets
// a stub success with no process IDs; anything else is rejected.
func (c *Conn) handleReverseRequest(msg dap.RequestMessage) {
	request := msg.GetRequest()

	var reply dap.Message
	switch request.Command {
	case "runInTerminal":
		c.log.V(1).Info("Answering runInTerminal reverse request with stub response")
		reply = &dap.RunInTerminalResponse{
			Response: dap.Response{
				ProtocolMessage: dap.ProtocolMessage{Seq: c.seq.Next(), Type: "response"},
				Command:         request.Command,
				RequestSeq:      request.Seq,
				Success:         true,
			},
			Body: dap.RunInTerminalResponseBody{},
		}
	default:
		c.log.V(1).Info("Rejecting unsupported reverse request", "command", request.Command)
		reply = &dap.Response{
			ProtocolMessage: dap.ProtocolMessage{Seq: c.seq.Next(), Type: "response"},
			Command:         request.Command,
			RequestSeq:      request.Seq,
			Success:         false,
			Message:         fmt.Sprintf("unsupported request %q", request.Command),
		}
	}

	if writeErr := c.transport.WriteMessage(reply); writeErr != nil {
		c.log.V(1).Info("Failed to answer reverse request", "command", request.Command, "error", writeErr)
	}
}

// shutdown records the close reason, fails all in-flight requests, and only
// then closes subscriber sinks, so pending callers never observe the closure
// before their own failure.
//
// closed is closed before FailAll runs: a RoundTrip that registers its entry
// and still sees closed open is guaranteed to be covered by FailAll, and one
// that registers later catches the closure on its own re-check. Either way no
// request is left waiting out its timeout against a dead transport.
func (c *Conn) shutdown(reason error) {
	c.closeOnce.Do(func() {
		if reason == nil {
			reason = ErrTransportClosed
		} else if !errors.Is(reason, ErrTransportClosed) {
			reason = fmt.Errorf("%w: %w", ErrTransportClosed, reason)
		}
		c.closeReason = reason
		close(c.closed)

		failed := c.pending.Len()
		if failed > 0 {
			c.log.V(1).Info("Failing in-flight requests on transport closure", "count", failed)
		}
		c.pending.FailAll(reason)

		c.router.Close()
	})
}
