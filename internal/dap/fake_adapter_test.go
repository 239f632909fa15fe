/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Kalynt contributors. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package dap

import (
	"net"
	"sync"
	"testing"

	"github.com/google/go-dap"
)

// fakeAdapter plays the debug adapter side of a connection for tests. It
// auto-answers requests with canned successful responses unless a test
// scripts a failure or silence for a command, and lets tests inject events
// at any point.
type fakeAdapter struct {
	transport Transport

	seq   int
	seqMu sync.Mutex

	mu       sync.Mutex
	failures map[string]string   // command -> error message for success=false responses
	silent   map[string]bool     // command -> swallow the request, never respond
	received []string            // commands in arrival order
	requests []dap.RequestMessage

	stackFrames []dap.StackFrame
	variables   []dap.Variable
	threads     []dap.Thread
	scopes      []dap.Scope

	done chan struct{}
	wg   sync.WaitGroup
}

// newFakeAdapter starts a fake adapter serving the given transport.
func newFakeAdapter(transport Transport) *fakeAdapter {
	fa := &fakeAdapter{
		transport: transport,
		failures:  make(map[string]string),
		silent:    make(map[string]bool),
		stackFrames: []dap.StackFrame{
			{Id: 1, Name: "main", Line: 10},
		},
		variables: []dap.Variable{
			{Name: "answer", Value: "42", VariablesReference: 0},
		},
		threads: []dap.Thread{
			{Id: 1, Name: "main thread"},
		},
		scopes: []dap.Scope{
			{Name: "Locals", VariablesReference: 100},
		},
		done: make(chan struct{}),
	}

	fa.wg.Add(1)
	go fa.serve()

	return fa
}

// newFakeAdapterPair returns a running fake adapter and the client-side
// transport connected to it.
func newFakeAdapterPair(t *testing.T) (*fakeAdapter, Transport) {
	t.Helper()

	clientConn, adapterConn := net.Pipe()

	fa := newFakeAdapter(NewTCPTransport(adapterConn))
	t.Cleanup(fa.Close)

	return fa, NewTCPTransport(clientConn)
}

func (fa *fakeAdapter) Close() {
	select {
	case <-fa.done:
	default:
		close(fa.done)
		fa.transport.Close()
	}
	fa.wg.Wait()
}

// failCommand makes future requests for the command fail with the message.
func (fa *fakeAdapter) failCommand(command, message string) {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	fa.failures[command] = message
}

// silenceCommand makes future requests for the command go unanswered.
func (fa *fakeAdapter) silenceCommand(command string) {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	fa.silent[command] = true
}

// receivedCommands returns the commands seen so far, in arrival order.
func (fa *fakeAdapter) receivedCommands() []string {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	return append([]string(nil), fa.received...)
}

// requestsFor returns every received request for the given command.
func (fa *fakeAdapter) requestsFor(command string) []dap.RequestMessage {
	fa.mu.Lock()
	defer fa.mu.Unlock()

	var matches []dap.RequestMessage
	for _, req := range fa.requests {
		if req.GetRequest().Command == command {
			matches = append(matches, req)
		}
	}
	return matches
}

func (fa *fakeAdapter) nextSeq() int {
	fa.seqMu.Lock()
	defer fa.seqMu.Unlock()
	fa.seq++
	return fa.seq
}

func (fa *fakeAdapter) serve() {
	defer fa.wg.Done()

	for {
		msg, readErr := fa.transport.ReadMessage()
		if readErr != nil {
			return
		}

		req, isRequest := msg.(dap.RequestMessage)
		if !isRequest {
			continue
		}

		command := req.GetRequest().Command

		fa.mu.Lock()
		fa.received = append(fa.received, command)
		fa.requests = append(fa.requests, req)
		failMessage, shouldFail := fa.failures[command]
		shouldStaySilent := fa.silent[command]
		fa.mu.Unlock()

		if shouldStaySilent {
			continue
		}

		if shouldFail {
			fa.send(&dap.ErrorResponse{
				Response: fa.baseResponse(req, false, failMessage),
			})
			continue
		}

		fa.send(fa.successResponse(req))
	}
}

func (fa *fakeAdapter) baseResponse(req dap.RequestMessage, success bool, message string) dap.Response {
	return dap.Response{
		ProtocolMessage: dap.ProtocolMessage{Seq: fa.nextSeq(), Type: "response"},
		Command:         req.GetRequest().Command,
		RequestSeq:      req.GetRequest().Seq,
		Success:         success,
		Message:         message,
	}
}

func (fa *fakeAdapter) successResponse(req dap.RequestMessage) dap.Message {
	base := fa.baseResponse(req, true, "")

	switch typed := req.(type) {
	case *dap.InitializeRequest:
		return &dap.InitializeResponse{
			Response: base,
			Body: dap.Capabilities{
				SupportsConfigurationDoneRequest: true,
				SupportsTerminateRequest:         true,
			},
		}

	case *dap.LaunchRequest:
		return &dap.LaunchResponse{Response: base}

	case *dap.AttachRequest:
		return &dap.AttachResponse{Response: base}

	case *dap.ConfigurationDoneRequest:
		return &dap.ConfigurationDoneResponse{Response: base}

	case *dap.SetBreakpointsRequest:
		verified := make([]dap.Breakpoint, len(typed.Arguments.Breakpoints))
		for i, sb := range typed.Arguments.Breakpoints {
			verified[i] = dap.Breakpoint{
				Id:       i + 1,
				Verified: true,
				Line:     sb.Line,
			}
		}
		return &dap.SetBreakpointsResponse{
			Response: base,
			Body:     dap.SetBreakpointsResponseBody{Breakpoints: verified},
		}

	case *dap.ContinueRequest:
		return &dap.ContinueResponse{
			Response: base,
			Body:     dap.ContinueResponseBody{AllThreadsContinued: true},
		}

	case *dap.NextRequest:
		return &dap.NextResponse{Response: base}

	case *dap.StepInRequest:
		return &dap.StepInResponse{Response: base}

	case *dap.StepOutRequest:
		return &dap.StepOutResponse{Response: base}

	case *dap.PauseRequest:
		return &dap.PauseResponse{Response: base}

	case *dap.StackTraceRequest:
		fa.mu.Lock()
		frames := append([]dap.StackFrame(nil), fa.stackFrames...)
		fa.mu.Unlock()
		return &dap.StackTraceResponse{
			Response: base,
			Body: dap.StackTraceResponseBody{
				StackFrames: frames,
				TotalFrames: len(frames),
			},
		}

	case *dap.ThreadsRequest:
		fa.mu.Lock()
		threads := append([]dap.Thread(nil), fa.threads...)
		fa.mu.Unlock()
		return &dap.ThreadsResponse{
			Response: base,
			Body:     dap.ThreadsResponseBody{Threads: threads},
		}

	case *dap.ScopesRequest:
		fa.mu.Lock()
		scopes := append([]dap.Scope(nil), fa.scopes...)
		fa.mu.Unlock()
		return &dap.ScopesResponse{
			Response: base,
			Body:     dap.ScopesResponseBody{Scopes: scopes},
		}

	case *dap.VariablesRequest:
		fa.mu.Lock()
		variables := append([]dap.Variable(nil), fa.variables...)
		fa.mu.Unlock()
		return &dap.VariablesResponse{
			Response: base,
			Body:     dap.VariablesResponseBody{Variables: variables},
		}

	case *dap.EvaluateRequest:
		return &dap.EvaluateResponse{
			Response: base,
			Body:     dap.EvaluateResponseBody{Result: "42"},
		}

	case *dap.TerminateRequest:
		return &dap.TerminateResponse{Response: base}

	case *dap.DisconnectRequest:
		return &dap.DisconnectResponse{Response: base}

	default:
		base.Success = false
		base.Message = "unsupported command"
		return &dap.Response{
			ProtocolMessage: base.ProtocolMessage,
			Command:         base.Command,
			RequestSeq:      base.RequestSeq,
			Success:         base.Success,
			Message:         base.Message,
		}
	}
}

func (fa *fakeAdapter) send(msg dap.Message) {
	// Writing can legitimately fail when the client hangs up first.
	_ = fa.transport.WriteMessage(msg)
}

func (fa *fakeAdapter) sendStopped(threadID int, reason string) {
	fa.send(&dap.StoppedEvent{
		Event: newTestEvent(fa.nextSeq(), "stopped"),
		Body: dap.StoppedEventBody{
			Reason:            reason,
			ThreadId:          threadID,
			AllThreadsStopped: true,
		},
	})
}

func (fa *fakeAdapter) sendContinued(threadID int) {
	fa.send(&dap.ContinuedEvent{
		Event: newTestEvent(fa.nextSeq(), "continued"),
		Body: dap.ContinuedEventBody{
			ThreadId:            threadID,
			AllThreadsContinued: true,
		},
	})
}

func (fa *fakeAdapter) sendTerminated() {
	fa.send(&dap.TerminatedEvent{
		Event: newTestEvent(fa.nextSeq(), "terminated"),
	})
}

func (fa *fakeAdapter) sendOutput(category, output string) {
	fa.send(&dap.OutputEvent{
		Event: newTestEvent(fa.nextSeq(), "output"),
		Body: dap.OutputEventBody{
			Category: category,
			Output:   output,
		},
	})
}

func newTestEvent(seq int, event string) dap.Event {
	return dap.Event{
		ProtocolMessage: dap.ProtocolMessage{Seq: seq, Type: "event"},
		Event:           event,
	}
}
