/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Kalynt contributors. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package dap

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/go-dap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConn(t *testing.T, config ConnConfig) (*fakeAdapter, *Conn) {
	t.Helper()

	fa, transport := newFakeAdapterPair(t)
	conn := NewConn(context.Background(), transport, config, logr.Discard())
	t.Cleanup(func() { conn.Close() })
	return fa, conn
}

func Test_Conn_RoundTrip(t *testing.T) {
	t.Parallel()

	_, conn := newTestConn(t, ConnConfig{})

	resp, err := conn.RoundTrip(context.Background(), &dap.ThreadsRequest{
		Request: dap.Request{Command: "threads"},
	})
	require.NoError(t, err)

	threads, ok := resp.(*dap.ThreadsResponse)
	require.True(t, ok)
	require.Len(t, threads.Body.Threads, 1)
	assert.Equal(t, "main thread", threads.Body.Threads[0].Name)

	// Seq assignment starts at 1 and increments per request.
	assert.Equal(t, 1, threads.GetResponse().RequestSeq)

	resp, err = conn.RoundTrip(context.Background(), &dap.ThreadsRequest{
		Request: dap.Request{Command: "threads"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, resp.GetResponse().RequestSeq)
}

func Test_Conn_AdapterFailureBecomesRequestError(t *testing.T) {
	t.Parallel()

	fa, conn := newTestConn(t, ConnConfig{})
	fa.failCommand("evaluate", "cannot evaluate in this context")

	_, err := conn.RoundTrip(context.Background(), &dap.EvaluateRequest{
		Request:   dap.Request{Command: "evaluate"},
		Arguments: dap.EvaluateArguments{Expression: "x"},
	})

	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, "evaluate", reqErr.Command)
	assert.Equal(t, "cannot evaluate in this context", reqErr.Message)
	assert.True(t, IsRequestFailure(err))
}

func Test_Conn_RequestTimeout(t *testing.T) {
	t.Parallel()

	fa, conn := newTestConn(t, ConnConfig{RequestTimeout: 100 * time.Millisecond})
	fa.silenceCommand("pause")

	start := time.Now()
	_, err := conn.RoundTrip(context.Background(), &dap.PauseRequest{
		Request: dap.Request{Command: "pause"},
	})
	require.ErrorIs(t, err, ErrRequestTimeout)
	assert.Less(t, time.Since(start), 5*time.Second)

	// The connection survives a timed-out request.
	_, err = conn.RoundTrip(context.Background(), &dap.ThreadsRequest{
		Request: dap.Request{Command: "threads"},
	})
	assert.NoError(t, err)
}

func Test_Conn_ContextCancellation(t *testing.T) {
	t.Parallel()

	fa, conn := newTestConn(t, ConnConfig{})
	fa.silenceCommand("pause")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := conn.RoundTrip(ctx, &dap.PauseRequest{
		Request: dap.Request{Command: "pause"},
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func Test_Conn_OutOfOrderResponses(t *testing.T) {
	t.Parallel()

	clientConn, serverConn := net.Pipe()
	server := NewTCPTransport(serverConn)
	defer server.Close()

	conn := NewConn(context.Background(), NewTCPTransport(clientConn), ConnConfig{}, logr.Discard())
	defer conn.Close()

	type result struct {
		resp dap.ResponseMessage
		err  error
	}

	roundTrip := func(command string) <-chan result {
		out := make(chan result, 1)
		go func() {
			resp, err := conn.RoundTrip(context.Background(), &dap.Request{Command: command})
			out <- result{resp: resp, err: err}
		}()
		return out
	}

	firstResult := roundTrip("threads")
	firstReq, err := server.ReadMessage()
	require.NoError(t, err)

	secondResult := roundTrip("scopes")
	secondReq, err := server.ReadMessage()
	require.NoError(t, err)

	// Answer the second request first; correlation is by request_seq, not
	// arrival order.
	require.NoError(t, server.WriteMessage(&dap.Response{
		ProtocolMessage: dap.ProtocolMessage{Seq: 1, Type: "response"},
		Command:         "scopes",
		RequestSeq:      secondReq.GetSeq(),
		Success:         true,
	}))
	require.NoError(t, server.WriteMessage(&dap.Response{
		ProtocolMessage: dap.ProtocolMessage{Seq: 2, Type: "response"},
		Command:         "threads",
		RequestSeq:      firstReq.GetSeq(),
		Success:         true,
	}))

	second := <-secondResult
	require.NoError(t, second.err)
	assert.Equal(t, "scopes", second.resp.GetResponse().Command)

	first := <-firstResult
	require.NoError(t, first.err)
	assert.Equal(t, "threads", first.resp.GetResponse().Command)
}

func Test_Conn_LateResponseDiscarded(t *testing.T) {
	t.Parallel()

	clientConn, serverConn := net.Pipe()
	server := NewTCPTransport(serverConn)
	defer server.Close()

	conn := NewConn(context.Background(), NewTCPTransport(clientConn), ConnConfig{RequestTimeout: 50 * time.Millisecond}, logr.Discard())
	defer conn.Close()

	done := make(chan error, 1)
	go func() {
		_, err := conn.RoundTrip(context.Background(), &dap.Request{Command: "threads"})
		done <- err
	}()

	req, err := server.ReadMessage()
	require.NoError(t, err)
	require.ErrorIs(t, <-done, ErrRequestTimeout)

	// Responding after the timeout must not disturb the connection.
	require.NoError(t, server.WriteMessage(&dap.Response{
		ProtocolMessage: dap.ProtocolMessage{Seq: 1, Type: "response"},
		Command:         "threads",
		RequestSeq:      req.GetSeq(),
		Success:         true,
	}))

	go func() {
		secondReq, readErr := server.ReadMessage()
		if readErr != nil {
			return
		}
		_ = server.WriteMessage(&dap.Response{
			ProtocolMessage: dap.ProtocolMessage{Seq: 2, Type: "response"},
			Command:         "pause",
			RequestSeq:      secondReq.GetSeq(),
			Success:         true,
		})
	}()

	resp, err := conn.RoundTrip(context.Background(), &dap.Request{Command: "pause"})
	require.NoError(t, err)
	assert.Equal(t, "pause", resp.GetResponse().Command)
}

func Test_Conn_ClosureFailsPendingBeforeClosingSinks(t *testing.T) {
	t.Parallel()

	clientConn, serverConn := net.Pipe()
	server := NewTCPTransport(serverConn)

	conn := NewConn(context.Background(), NewTCPTransport(clientConn), ConnConfig{}, logr.Discard())
	defer conn.Close()

	allCh := make(chan dap.EventMessage, 4)
	conn.Events().SubscribeAll(allCh)

	pendingErr := make(chan error, 1)
	go func() {
		_, err := conn.RoundTrip(context.Background(), &dap.Request{Command: "threads"})
		pendingErr <- err
	}()

	_, err := server.ReadMessage()
	require.NoError(t, err)

	// Drop the connection out from under the client.
	require.NoError(t, server.Close())

	// The sink closes only after every pending request was failed, so once it
	// is closed the connection error is already observable.
	for range allCh {
	}
	require.Error(t, conn.Err())
	assert.ErrorIs(t, conn.Err(), ErrTransportClosed)

	select {
	case rtErr := <-pendingErr:
		assert.ErrorIs(t, rtErr, ErrTransportClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("pending request was not failed on closure")
	}

	select {
	case <-conn.Done():
	default:
		t.Fatal("Done() not closed after transport failure")
	}
}

func Test_Conn_RoundTripAfterCloseFails(t *testing.T) {
	t.Parallel()

	_, conn := newTestConn(t, ConnConfig{})
	require.NoError(t, conn.Close())

	_, err := conn.RoundTrip(context.Background(), &dap.Request{Command: "threads"})
	assert.ErrorIs(t, err, ErrTransportClosed)
}

func Test_Conn_CloseRacingRoundTripsFailsFast(t *testing.T) {
	t.Parallel()

	clientConn, serverConn := net.Pipe()
	server := NewTCPTransport(serverConn)
	go func() {
		// Drain writes so senders never block; answer nothing.
		for {
			if _, readErr := server.ReadMessage(); readErr != nil {
				return
			}
		}
	}()
	defer server.Close()

	// The timeout is deliberately enormous: a request stranded by the
	// shutdown must fail through the closed connection, not wait it out.
	conn := NewConn(context.Background(), NewTCPTransport(clientConn), ConnConfig{RequestTimeout: time.Hour}, logr.Discard())

	const callers = 8
	results := make(chan error, callers)
	for i := 0; i < callers; i++ {
		go func() {
			_, err := conn.RoundTrip(context.Background(), &dap.ThreadsRequest{
				Request: dap.Request{Command: "threads"},
			})
			results <- err
		}()
	}

	conn.Close()

	for i := 0; i < callers; i++ {
		select {
		case err := <-results:
			assert.Error(t, err)
		case <-time.After(10 * time.Second):
			t.Fatal("request stranded by connection shutdown")
		}
	}
	assert.Equal(t, 0, conn.pending.Len())
}

func Test_Conn_EventsReachSubscribers(t *testing.T) {
	t.Parallel()

	fa, conn := newTestConn(t, ConnConfig{})

	stoppedCh := make(chan *dap.StoppedEvent, 1)
	conn.Events().SubscribeStopped(stoppedCh)

	fa.sendStopped(4, "step")

	select {
	case ev := <-stoppedCh:
		assert.Equal(t, 4, ev.Body.ThreadId)
		assert.Equal(t, "step", ev.Body.Reason)
	case <-time.After(5 * time.Second):
		t.Fatal("stopped event never delivered")
	}
}

func Test_Conn_RunInTerminalReverseRequest(t *testing.T) {
	t.Parallel()

	clientConn, serverConn := net.Pipe()
	server := NewTCPTransport(serverConn)
	defer server.Close()

	conn := NewConn(context.Background(), NewTCPTransport(clientConn), ConnConfig{}, logr.Discard())
	defer conn.Close()

	require.NoError(t, server.WriteMessage(&dap.RunInTerminalRequest{
		Request: dap.Request{
			ProtocolMessage: dap.ProtocolMessage{Seq: 50, Type: "request"},
			Command:         "runInTerminal",
		},
		Arguments: dap.RunInTerminalRequestArguments{
			Kind: "integrated",
			Args: []string{"/bin/true"},
		},
	}))

	reply, err := server.ReadMessage()
	require.NoError(t, err)
	resp, ok := reply.(dap.ResponseMessage)
	require.True(t, ok)
	assert.True(t, resp.GetResponse().Success)
	assert.Equal(t, "runInTerminal", resp.GetResponse().Command)
	assert.Equal(t, 50, resp.GetResponse().RequestSeq)
}

func Test_Conn_UnsupportedReverseRequestRejected(t *testing.T) {
	t.Parallel()

	clientConn, serverConn := net.Pipe()
	server := NewTCPTransport(serverConn)
	defer server.Close()

	conn := NewConn(context.Background(), NewTCPTransport(clientConn), ConnConfig{}, logr.Discard())
	defer conn.Close()

	require.NoError(t, server.WriteMessage(&dap.StartDebuggingRequest{
		Request: dap.Request{
			ProtocolMessage: dap.ProtocolMessage{Seq: 51, Type: "request"},
			Command:         "startDebugging",
		},
	}))

	reply, err := server.ReadMessage()
	require.NoError(t, err)
	resp, ok := reply.(dap.ResponseMessage)
	require.True(t, ok)
	assert.False(t, resp.GetResponse().Success)
	assert.Equal(t, 51, resp.GetResponse().RequestSeq)
}
