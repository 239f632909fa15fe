/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Kalynt contributors. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package dap

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/go-logr/logr"
	"github.com/google/go-dap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_EventRouter_TypedRouting(t *testing.T) {
	t.Parallel()

	router := NewEventRouter(context.Background(), logr.Discard())
	defer router.Close()

	stoppedCh := make(chan *dap.StoppedEvent, 4)
	outputCh := make(chan *dap.OutputEvent, 4)
	router.SubscribeStopped(stoppedCh)
	router.SubscribeOutput(outputCh)

	router.Dispatch(&dap.StoppedEvent{
		Event: newTestEvent(1, "stopped"),
		Body:  dap.StoppedEventBody{Reason: "breakpoint", ThreadId: 3},
	})
	router.Dispatch(&dap.OutputEvent{
		Event: newTestEvent(2, "output"),
		Body:  dap.OutputEventBody{Output: "hi"},
	})

	stopped := <-stoppedCh
	assert.Equal(t, "breakpoint", stopped.Body.Reason)
	assert.Equal(t, 3, stopped.Body.ThreadId)

	output := <-outputCh
	assert.Equal(t, "hi", output.Body.Output)

	// The stopped subscriber never saw the output event.
	select {
	case extra := <-stoppedCh:
		t.Fatalf("unexpected extra stopped event: %+v", extra)
	default:
	}
}

func Test_EventRouter_CatchAllSeesEverythingInOrder(t *testing.T) {
	t.Parallel()

	router := NewEventRouter(context.Background(), logr.Discard())
	defer router.Close()

	allCh := make(chan dap.EventMessage, 8)
	router.SubscribeAll(allCh)

	router.Dispatch(&dap.StoppedEvent{Event: newTestEvent(1, "stopped")})
	router.Dispatch(&RawEvent{
		Event: newTestEvent(2, "customTelemetry"),
		Body:  json.RawMessage(`{"k":"v"}`),
	})
	router.Dispatch(&dap.TerminatedEvent{Event: newTestEvent(3, "terminated")})

	var kinds []string
	for i := 0; i < 3; i++ {
		kinds = append(kinds, (<-allCh).GetEvent().Event)
	}
	assert.Equal(t, []string{"stopped", "customTelemetry", "terminated"}, kinds)
}

func Test_EventRouter_CloseClosesSinks(t *testing.T) {
	t.Parallel()

	router := NewEventRouter(context.Background(), logr.Discard())

	terminatedCh := make(chan *dap.TerminatedEvent, 1)
	allCh := make(chan dap.EventMessage, 1)
	router.SubscribeTerminated(terminatedCh)
	router.SubscribeAll(allCh)

	router.Close()

	_, open := <-terminatedCh
	require.False(t, open)
	_, open = <-allCh
	require.False(t, open)
}

func Test_EventRouter_CancelledSubscriberSkipped(t *testing.T) {
	t.Parallel()

	router := NewEventRouter(context.Background(), logr.Discard())
	defer router.Close()

	firstCh := make(chan *dap.ContinuedEvent, 2)
	secondCh := make(chan *dap.ContinuedEvent, 2)
	first := router.SubscribeContinued(firstCh)
	router.SubscribeContinued(secondCh)

	first.Cancel()

	router.Dispatch(&dap.ContinuedEvent{Event: newTestEvent(1, "continued")})

	// The live subscriber still gets the event.
	ev := <-secondCh
	assert.Equal(t, 1, ev.Seq)

	// The cancelled one's sink was closed without delivery.
	_, open := <-firstCh
	assert.False(t, open)
}
