/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Kalynt contributors. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package dap

import (
	"context"

	"github.com/go-logr/logr"
	"github.com/google/go-dap"

	"github.com/Hermes-Lekkas/Kalynt-sub001/internal/pubsub"
)

// EventRouter fans events received from a debug adapter out to per-kind
// subscription sets, plus a catch-all set that sees every event (including
// kinds the router has no dedicated set for, such as RawEvent).
//
// Dispatch happens on the connection's read pump, so each subscriber observes
// events in exactly the order the adapter emitted them. Subscribers must keep
// their sinks drained; a stuck sink stalls the pump.
type EventRouter struct {
	log logr.Logger

	stopped     *pubsub.SubscriptionSet[*dap.StoppedEvent]
	continued   *pubsub.SubscriptionSet[*dap.ContinuedEvent]
	terminated  *pubsub.SubscriptionSet[*dap.TerminatedEvent]
	exited      *pubsub.SubscriptionSet[*dap.ExitedEvent]
	output      *pubsub.SubscriptionSet[*dap.OutputEvent]
	breakpoint  *pubsub.SubscriptionSet[*dap.BreakpointEvent]
	initialized *pubsub.SubscriptionSet[*dap.InitializedEvent]
	all         *pubsub.SubscriptionSet[dap.EventMessage]
}

// NewEventRouter creates an EventRouter. The parent context bounds the
// lifetime of any notifier goroutines started by subscription sets.
func NewEventRouter(parentCtx context.Context, log logr.Logger) *EventRouter {
	return &EventRouter{
		log:         log,
		stopped:     pubsub.NewSubscriptionSet[*dap.StoppedEvent](nil, parentCtx),
		continued:   pubsub.NewSubscriptionSet[*dap.ContinuedEvent](nil, parentCtx),
		terminated:  pubsub.NewSubscriptionSet[*dap.TerminatedEvent](nil, parentCtx),
		exited:      pubsub.NewSubscriptionSet[*dap.ExitedEvent](nil, parentCtx),
		output:      pubsub.NewSubscriptionSet[*dap.OutputEvent](nil, parentCtx),
		breakpoint:  pubsub.NewSubscriptionSet[*dap.BreakpointEvent](nil, parentCtx),
		initialized: pubsub.NewSubscriptionSet[*dap.InitializedEvent](nil, parentCtx),
		all:         pubsub.NewSubscriptionSet[dap.EventMessage](nil, parentCtx),
	}
}

func (r *EventRouter) SubscribeStopped(sink chan<- *dap.StoppedEvent) *pubsub.Subscription[*dap.StoppedEvent] {
	return r.stopped.Subscribe(sink)
}

func (r *EventRouter) SubscribeContinued(sink chan<- *dap.ContinuedEvent) *pubsub.Subscription[*dap.ContinuedEvent] {
	return r.continued.Subscribe(sink)
}

func (r *EventRouter) SubscribeTerminated(sink chan<- *dap.TerminatedEvent) *pubsub.Subscription[*dap.TerminatedEvent] {
	return r.terminated.Subscribe(sink)
}

func (r *EventRouter) SubscribeExited(sink chan<- *dap.ExitedEvent) *pubsub.Subscription[*dap.ExitedEvent] {
	return r.exited.Subscribe(sink)
}

func (r *EventRouter) SubscribeOutput(sink chan<- *dap.OutputEvent) *pubsub.Subscription[*dap.OutputEvent] {
	return r.output.Subscribe(sink)
}

func (r *EventRouter) SubscribeBreakpoint(sink chan<- *dap.BreakpointEvent) *pubsub.Subscription[*dap.BreakpointEvent] {
	return r.breakpoint.Subscribe(sink)
}

func (r *EventRouter) SubscribeInitialized(sink chan<- *dap.InitializedEvent) *pubsub.Subscription[*dap.InitializedEvent] {
	return r.initialized.Subscribe(sink)
}

// SubscribeAll delivers every event, in arrival order, regardless of kind.
func (r *EventRouter) SubscribeAll(sink chan<- dap.EventMessage) *pubsub.Subscription[dap.EventMessage] {
	return r.all.Subscribe(sink)
}

// Dispatch routes a single event to its kind-specific subscribers and then to
// the catch-all subscribers.
func (r *EventRouter) Dispatch(msg dap.EventMessage) {
	switch event := msg.(type) {
	case *dap.StoppedEvent:
		r.stopped.Notify(event)
	case *dap.ContinuedEvent:
		r.continued.Notify(event)
	case *dap.TerminatedEvent:
		r.terminated.Notify(event)
	case *dap.ExitedEvent:
		r.exited.Notify(event)
	case *dap.OutputEvent:
		r.output.Notify(event)
	case *dap.BreakpointEvent:
		r.breakpoint.Notify(event)
	case *dap.InitializedEvent:
		r.initialized.Notify(event)
	default:
		// Other typed events and RawEvents reach catch-all subscribers only.
		r.log.V(1).Info("Event has no dedicated subscription set", "event", msg.GetEvent().Event)
	}

	r.all.Notify(msg)
}

// Close cancels every subscription, closing all subscriber sinks.
func (r *EventRouter) Close() {
	r.stopped.CancelAll()
	r.continued.CancelAll()
	r.terminated.CancelAll()
	r.exited.CancelAll()
	r.output.CancelAll()
	r.breakpoint.CancelAll()
	r.initialized.CancelAll()
	r.all.CancelAll()
}
