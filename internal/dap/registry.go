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

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/Hermes-Lekkas/Kalynt-sub001/pkg/maps"
	"github.com/Hermes-Lekkas/Kalynt-sub001/pkg/process"
)

// SessionRegistry owns every live debug session. It is an explicit object
// handed to whoever needs it; there is no package-level instance.
//
// Start and stop are serialized per registry, and a session that fails to
// start is never observable through the registry: either StartSession
// returns a registered, handshaken session, or it returns an error and no
// session.
type SessionRegistry struct {
	executor   process.Executor
	connConfig ConnConfig
	log        logr.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewSessionRegistry creates an empty registry using the given executor for
// adapter processes.
func NewSessionRegistry(executor process.Executor, connConfig ConnConfig, log logr.Logger) *SessionRegistry {
	return &SessionRegistry{
		executor:   executor,
		connConfig: connConfig,
		log:        log,
		sessions:   make(map[string]*Session),
	}
}

// StartSession launches the adapter for the configuration's debug type,
// performs the session handshake, and registers the session. The resolver
// (may be nil) expands ${...} placeholders before anything is launched.
//
// An unsupported debug type fails fast, before any process is spawned.
func (r *SessionRegistry) StartSession(ctx context.Context, config *DebugConfig, resolver VariableResolver) (*Session, error) {
	if config == nil || config.Type == "" {
		return nil, fmt.Errorf("%w: missing debug type", ErrUnsupportedDebugType)
	}

	adapterConfig, catalogErr := AdapterConfigFor(config.Type)
	if catalogErr != nil {
		return nil, catalogErr
	}

	resolved := config.Resolved(resolver)
	adapterConfig.ApplySessionOverrides(resolved)

	id := uuid.NewString()
	log := r.log.WithValues("sessionId", id, "debugType", resolved.Type)

	// The session context outlives the StartSession call; cancelling it
	// kills the adapter process.
	sessionCtx, cancel := context.WithCancel(context.Background())

	var adapter *LaunchedAdapter
	var transport Transport

	if resolved.EffectiveRequest() == RequestAttach && resolved.Port != 0 {
		// The adapter (or debuggee) is already listening; connect directly
		// instead of spawning a new adapter process.
		host := resolved.Host
		if host == "" {
			host = "127.0.0.1"
		}
		address := fmt.Sprintf("%s:%d", host, resolved.Port)

		dialCtx, cancelDial := context.WithTimeout(ctx, adapterConfig.GetConnectionTimeout())
		directTransport, dialErr := DialTCP(dialCtx, address)
		cancelDial()
		if dialErr != nil {
			cancel()
			return nil, fmt.Errorf("failed to connect to debug adapter at %s: %w", address, dialErr)
		}

		log.Info("Connected to already-running debug adapter", "address", address)
		transport = directTransport
	} else {
		launched, launchErr := LaunchDebugAdapter(sessionCtx, r.executor, adapterConfig, log)
		if launchErr != nil {
			cancel()
			return nil, launchErr
		}
		adapter = launched
		transport = launched.Transport
	}

	conn := NewConn(sessionCtx, transport, r.connConfig, log)

	session := newSession(id, resolved, conn, adapter, cancel, log)
	session.onTerminated = r.remove

	if startErr := session.start(ctx); startErr != nil {
		// The session was never registered; tear everything down quietly.
		if stopErr := session.Stop(context.Background()); stopErr != nil {
			log.V(1).Info("Teardown after failed session start reported errors", "error", stopErr)
		}
		return nil, fmt.Errorf("debug session failed to start: %w", startErr)
	}

	r.mu.Lock()
	r.sessions[id] = session
	r.mu.Unlock()

	log.Info("Debug session started", "request", resolved.EffectiveRequest())
	return session, nil
}

// GetSession returns the session with the given ID.
func (r *SessionRegistry) GetSession(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, found := r.sessions[id]
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return session, nil
}

// Sessions returns a snapshot of all registered sessions.
func (r *SessionRegistry) Sessions() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return maps.Values(r.sessions)
}

// Len returns the number of registered sessions.
func (r *SessionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// StopSession stops the session with the given ID and removes it from the
// registry. Stopping an already-stopped session is not an error; an unknown
// ID is.
func (r *SessionRegistry) StopSession(ctx context.Context, id string) error {
	r.mu.Lock()
	session, found := r.sessions[id]
	r.mu.Unlock()

	if !found {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	// Stop triggers the session's terminal transition, which calls back into
	// remove(); no separate delete needed here.
	return session.Stop(ctx)
}

// Shutdown stops every session. Errors are aggregated.
func (r *SessionRegistry) Shutdown(ctx context.Context) error {
	var errs []error
	for _, session := range r.Sessions() {
		if err := session.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("session %s: %w", session.ID(), err))
		}
	}
	return errors.Join(errs...)
}

// remove drops a session from the registry. Called from the session's
// terminal transition.
func (r *SessionRegistry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}
