/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Kalynt contributors. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package dap

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/go-logr/logr"
)

var (
	// ErrTransportClosed is returned when attempting to use a closed transport,
	// and is the failure delivered to requests that were in flight when the
	// transport went away.
	ErrTransportClosed = errors.New("transport is closed")

	// ErrRequestTimeout is returned when a request times out waiting for a response.
	ErrRequestTimeout = errors.New("request timeout")

	// ErrSessionNotFound is returned when the registry has no session with the given ID.
	ErrSessionNotFound = errors.New("debug session not found")

	// ErrSessionTerminated is returned when an operation is attempted on a terminated session.
	ErrSessionTerminated = errors.New("debug session terminated")

	// ErrUnsupportedDebugType is returned when no adapter is registered for the
	// requested debug type.
	ErrUnsupportedDebugType = errors.New("unsupported debug type")

	// ErrInvalidAdapterConfig is returned when the debug adapter configuration is invalid.
	ErrInvalidAdapterConfig = errors.New("invalid debug adapter configuration: Args must have at least one element")

	// ErrAdapterConnectionTimeout is returned when the adapter fails to connect within the timeout.
	ErrAdapterConnectionTimeout = errors.New("debug adapter connection timeout")
)

// RequestError indicates that the debug adapter answered a request with
// success=false. It carries the command and the adapter's failure message.
type RequestError struct {
	Command string
	Message string
}

func (e *RequestError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("request %q was rejected by the debug adapter", e.Command)
	}
	return fmt.Sprintf("request %q was rejected by the debug adapter: %s", e.Command, e.Message)
}

// ProtocolError indicates malformed data received from the debug adapter
// (bad framing header or an undecodable message body).
type ProtocolError struct {
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol error: %s: %v", e.Reason, e.Err)
	}
	return "protocol error: " + e.Reason
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// IsRequestFailure returns true if the error indicates a per-request failure
// (rejection or timeout) rather than a transport or session level problem.
func IsRequestFailure(err error) bool {
	var reqErr *RequestError
	return errors.As(err, &reqErr) || errors.Is(err, ErrRequestTimeout)
}

// filterContextError filters out redundant context errors during shutdown.
// If the error is a context.Canceled or context.DeadlineExceeded and the
// context is already done, the error is logged at debug level and nil is returned.
// Additionally, if the error is from a process killed due to context cancellation
// (e.g., "signal: killed"), it is also filtered out.
// Otherwise, the original error is returned unchanged.
func filterContextError(err error, ctx context.Context, log logr.Logger) error {
	if err == nil {
		return nil
	}

	if ctx.Err() != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			log.V(1).Info("Filtering redundant context error", "error", err)
			return nil
		}

		// A process killed because its context expired is an expected side
		// effect of the shutdown, not a failure worth reporting.
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && strings.Contains(exitErr.Error(), "signal: killed") {
			log.V(1).Info("Filtering process killed error on context cancellation", "error", err)
			return nil
		}
	}

	return err
}
