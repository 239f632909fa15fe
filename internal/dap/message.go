// Copyright (c) Kalynt contributors.
// Licensed under the MIT License.

package dap

import (
	"sync"

	"github.com/google/go-dap"
)

// requestOutcome is what a waiting caller eventually receives for a request:
// either the adapter's response message or a terminal error, never both.
type requestOutcome struct {
	response dap.ResponseMessage
	err      error
}

// pendingRequest tracks a request that is awaiting a response.
type pendingRequest struct {
	// command is the DAP command of the request (for logging and errors).
	command string

	// outcomeChan receives the response or a terminal error. It has capacity 1
	// so delivery never blocks the read pump.
	outcomeChan chan requestOutcome
}

// pendingRequestMap is a thread-safe map of pending requests keyed by sequence number.
type pendingRequestMap struct {
	mu       sync.Mutex
	requests map[int]*pendingRequest
}

// newPendingRequestMap creates a new empty pending request map.
func newPendingRequestMap() *pendingRequestMap {
	return &pendingRequestMap{
		requests: make(map[int]*pendingRequest),
	}
}

// Add adds a pending request to the map.
func (m *pendingRequestMap) Add(seq int, req *pendingRequest) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests[seq] = req
}

// Get retrieves and removes a pending request from the map.
// Returns nil if no request exists for the given sequence number.
func (m *pendingRequestMap) Get(seq int) *pendingRequest {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.requests[seq]
	if !ok {
		return nil
	}

	delete(m.requests, seq)
	return req
}

// Len returns the number of pending requests.
func (m *pendingRequestMap) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// FailAll delivers the given error to every pending request and clears the map.
// This is used when the transport goes away to unblock all waiting callers in
// a single pass.
func (m *pendingRequestMap) FailAll(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, req := range m.requests {
		req.outcomeChan <- requestOutcome{err: err}
	}

	m.requests = make(map[int]*pendingRequest)
}

// sequenceCounter provides thread-safe sequence number generation.
type sequenceCounter struct {
	mu  sync.Mutex
	seq int
}

// newSequenceCounter creates a new sequence counter. The first call to Next
// returns 1.
func newSequenceCounter() *sequenceCounter {
	return &sequenceCounter{seq: 0}
}

// Next returns the next sequence number.
func (c *sequenceCounter) Next() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return c.seq
}

// Current returns the current sequence number without incrementing.
func (c *sequenceCounter) Current() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}
