/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Kalynt contributors. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package pubsub

import (
	"sync"
	"sync/atomic"
)

type HandleT uint32

const (
	InvalidHandle HandleT = 0
)

var (
	nextHandle = InvalidHandle
)

type Subscription[NotificationT any] struct {
	Handle HandleT
	sink   chan<- NotificationT
	owner  *SubscriptionSet[NotificationT]
	lock   *sync.Mutex
}

func NewSubscription[NotificationT any](owner *SubscriptionSet[NotificationT], sink chan<- NotificationT) *Subscription[NotificationT] {
	return &Subscription[NotificationT]{
		Handle: HandleT(atomic.AddUint32((*uint32)(&nextHandle), 1)),
		sink:   sink,
		owner:  owner,
		lock:   &sync.Mutex{},
	}
}

func (s *Subscription[NotificationT]) Cancel() {
	s.lock.Lock()

	handle := s.Handle
	if handle != InvalidHandle {
		// Make sure onSubscriptionCancelled is called after the subscription lock is released.
		defer s.owner.onSubscriptionCancelled(handle)
	}
	defer s.lock.Unlock()

	if handle != InvalidHandle {
		s.Handle = InvalidHandle
		close(s.sink)
		s.sink = nil
	}
}

func (s *Subscription[NotificationT]) Notify(n NotificationT) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.sink == nil {
		return
	}

	// The user of a subscription should make sure that the notification can always be delivered without excessive blocking.
	// The call to Notify() will no-op if the subscription has been canceled.
	s.sink <- n
}

func (s *Subscription[NotificationT]) Cancelled() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.Handle == InvalidHandle
}
