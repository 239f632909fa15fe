/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Kalynt contributors. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package dap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/go-dap"

	"github.com/Hermes-Lekkas/Kalynt-sub001/internal/pubsub"
)

// SessionState describes where a debug session is in its lifecycle.
type SessionState int

const (
	// StateInitializing covers the handshake: initialize, launch/attach, configurationDone.
	StateInitializing SessionState = iota
	// StateRunning means the debuggee is executing.
	StateRunning
	// StateStopped means the debuggee is paused (breakpoint, step, pause, exception).
	StateStopped
	// StateTerminated is terminal: the adapter is gone or the debuggee ended.
	StateTerminated
	// StateFailed is terminal: the session never got through its handshake.
	StateFailed
)

// String returns a human-readable representation of the state.
func (s SessionState) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StateTerminated:
		return "terminated"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// defaultThreadID is used when the adapter never told us which thread is
// interesting (no stopped event seen yet).
const defaultThreadID = 1

// teardownTimeout bounds each best-effort teardown request (terminate, disconnect).
const teardownTimeout = 5 * time.Second

// Session is one live debug session: an adapter process (or socket), a
// connection, and the state machine fed by the adapter's event stream.
//
// State never changes optimistically when a command is issued; only events
// from the adapter move it. A `continue` the adapter never acknowledges with
// a `continued` or `stopped` event leaves the state untouched.
type Session struct {
	id     string
	config *DebugConfig
	log    logr.Logger

	conn    *Conn
	adapter *LaunchedAdapter

	// cancel tears down the session context, killing the adapter process.
	cancel context.CancelFunc

	mu                 sync.Mutex
	state              SessionState
	activeThread       int
	capabilities       dap.Capabilities
	sawInitialized     bool
	breakpoints        map[string][]Breakpoint
	adapterBreakpoints map[string][]dap.Breakpoint
	lastStack          []dap.StackFrame
	lastVariables      map[int][]dap.Variable

	stateChanges *pubsub.SubscriptionSet[SessionState]

	// onTerminated is invoked exactly once when the session reaches a
	// terminal state; the registry uses it to drop its entry.
	onTerminated     func(id string)
	onTerminatedOnce sync.Once

	stopOnce sync.Once
	stopErr  error

	watcherDone chan struct{}
}

// newSession wires a session around an established connection. The watcher
// goroutine is started by start().
func newSession(id string, config *DebugConfig, conn *Conn, adapter *LaunchedAdapter, cancel context.CancelFunc, log logr.Logger) *Session {
	return &Session{
		id:                 id,
		config:             config,
		log:                log,
		conn:               conn,
		adapter:            adapter,
		cancel:             cancel,
		state:              StateInitializing,
		activeThread:       defaultThreadID,
		breakpoints:        make(map[string][]Breakpoint),
		adapterBreakpoints: make(map[string][]dap.Breakpoint),
		lastVariables:      make(map[int][]dap.Variable),
		stateChanges:       pubsub.NewSubscriptionSet[SessionState](nil, context.Background()),
		watcherDone:        make(chan struct{}),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Config returns the configuration the session was started with.
func (s *Session) Config() *DebugConfig {
	return s.config
}

// State returns the current session state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ActiveThread returns the thread the last stopped event pointed at, or the
// default thread if the adapter has not reported one.
func (s *Session) ActiveThread() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeThread
}

// Capabilities returns the capabilities the adapter reported during initialize.
func (s *Session) Capabilities() dap.Capabilities {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capabilities
}

// Initialized reports whether the adapter has emitted its initialized event.
func (s *Session) Initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sawInitialized
}

// Events returns the router carrying this session's adapter events.
func (s *Session) Events() *EventRouter {
	return s.conn.Events()
}

// SubscribeStateChanges delivers every state transition to sink.
func (s *Session) SubscribeStateChanges(sink chan<- SessionState) *pubsub.Subscription[SessionState] {
	return s.stateChanges.Subscribe(sink)
}

// start runs the handshake and then begins watching the event stream.
// On handshake failure the session ends up in StateFailed and is unusable.
func (s *Session) start(ctx context.Context) error {
	go s.watchEvents()

	if err := s.handshake(ctx); err != nil {
		s.setState(StateFailed)
		return err
	}

	// The debuggee is live; a stopOnEntry pause arrives as a stopped event.
	s.setState(StateRunning)
	return nil
}

// handshake performs the strict ordered exchange every session begins with:
// initialize, then launch or attach, then configurationDone. Each request is
// awaited before the next is sent.
func (s *Session) handshake(ctx context.Context) error {
	initResp, initErr := s.conn.RoundTrip(ctx, s.initializeRequest())
	if initErr != nil {
		return fmt.Errorf("initialize failed: %w", initErr)
	}
	if typed, ok := initResp.(*dap.InitializeResponse); ok {
		s.mu.Lock()
		s.capabilities = typed.Body
		s.mu.Unlock()
	}

	var startReq dap.RequestMessage
	var startErr error
	if s.config.EffectiveRequest() == RequestAttach {
		startReq, startErr = s.attachRequest()
	} else {
		startReq, startErr = s.launchRequest()
	}
	if startErr != nil {
		return startErr
	}

	if _, err := s.conn.RoundTrip(ctx, startReq); err != nil {
		return fmt.Errorf("%s failed: %w", s.config.EffectiveRequest(), err)
	}

	if _, err := s.conn.RoundTrip(ctx, configurationDoneRequest()); err != nil {
		return fmt.Errorf("configurationDone failed: %w", err)
	}

	return nil
}

func (s *Session) initializeRequest() *dap.InitializeRequest {
	return &dap.InitializeRequest{
		Request: dap.Request{
			ProtocolMessage: dap.ProtocolMessage{Type: "request"},
			Command:         "initialize",
		},
		Arguments: dap.InitializeRequestArguments{
			ClientID:                     "kalynt",
			ClientName:                   "Kalynt",
			AdapterID:                    s.config.Type,
			Locale:                       "en-US",
			LinesStartAt1:                true,
			ColumnsStartAt1:              true,
			PathFormat:                   "path",
			SupportsRunInTerminalRequest: true,
		},
	}
}

// launchRequest builds the launch request body from the session config.
// Adapter-specific extras ride along verbatim via the config's JSON shape.
func (s *Session) launchRequest() (*dap.LaunchRequest, error) {
	args := map[string]any{
		"name":    s.config.Name,
		"type":    s.config.Type,
		"request": RequestLaunch,
	}
	if s.config.Program != "" {
		args["program"] = s.config.Program
	}
	if len(s.config.Args) > 0 {
		args["args"] = s.config.Args
	}
	if s.config.Cwd != "" {
		args["cwd"] = s.config.Cwd
	}
	if len(s.config.Env) > 0 {
		args["env"] = s.config.Env
	}
	if s.config.StopOnEntry {
		args["stopOnEntry"] = true
	}

	argsJSON, marshalErr := json.Marshal(args)
	if marshalErr != nil {
		return nil, fmt.Errorf("failed to marshal launch arguments: %w", marshalErr)
	}

	return &dap.LaunchRequest{
		Request: dap.Request{
			ProtocolMessage: dap.ProtocolMessage{Type: "request"},
			Command:         "launch",
		},
		Arguments: argsJSON,
	}, nil
}

func (s *Session) attachRequest() (*dap.AttachRequest, error) {
	args := map[string]any{
		"name":    s.config.Name,
		"type":    s.config.Type,
		"request": RequestAttach,
	}
	if s.config.Program != "" {
		args["program"] = s.config.Program
	}
	if s.config.Host != "" {
		args["host"] = s.config.Host
	}
	if s.config.Port != 0 {
		args["port"] = s.config.Port
	}
	if s.config.ProcessID != 0 {
		args["processId"] = s.config.ProcessID
	}

	argsJSON, marshalErr := json.Marshal(args)
	if marshalErr != nil {
		return nil, fmt.Errorf("failed to marshal attach arguments: %w", marshalErr)
	}

	return &dap.AttachRequest{
		Request: dap.Request{
			ProtocolMessage: dap.ProtocolMessage{Type: "request"},
			Command:         "attach",
		},
		Arguments: argsJSON,
	}, nil
}

func configurationDoneRequest() *dap.ConfigurationDoneRequest {
	return &dap.ConfigurationDoneRequest{
		Request: dap.Request{
			ProtocolMessage: dap.ProtocolMessage{Type: "request"},
			Command:         "configurationDone",
		},
	}
}

// watchEvents is the session's state machine pump. It consumes lifecycle
// events until the connection goes away.
func (s *Session) watchEvents() {
	defer close(s.watcherDone)

	stoppedCh := make(chan *dap.StoppedEvent, 16)
	continuedCh := make(chan *dap.ContinuedEvent, 16)
	terminatedCh := make(chan *dap.TerminatedEvent, 4)
	initializedCh := make(chan *dap.InitializedEvent, 1)

	router := s.conn.Events()
	router.SubscribeStopped(stoppedCh)
	router.SubscribeContinued(continuedCh)
	router.SubscribeTerminated(terminatedCh)
	router.SubscribeInitialized(initializedCh)

	for {
		select {
		case event, open := <-stoppedCh:
			if !open {
				s.onDisconnected()
				return
			}
			s.onStopped(event)

		case _, open := <-continuedCh:
			if !open {
				s.onDisconnected()
				return
			}
			s.onContinued()

		case _, open := <-terminatedCh:
			if !open {
				s.onDisconnected()
				return
			}
			s.onTerminatedEvent()
			return

		case _, open := <-initializedCh:
			if !open {
				s.onDisconnected()
				return
			}
			s.mu.Lock()
			s.sawInitialized = true
			s.mu.Unlock()

		case <-s.conn.Done():
			s.onDisconnected()
			return
		}
	}
}

func (s *Session) onStopped(event *dap.StoppedEvent) {
	s.mu.Lock()
	if event.Body.ThreadId > 0 {
		s.activeThread = event.Body.ThreadId
	}
	s.mu.Unlock()

	s.log.V(1).Info("Debuggee stopped", "reason", event.Body.Reason, "threadId", event.Body.ThreadId)
	s.setState(StateStopped)
}

func (s *Session) onContinued() {
	s.log.V(1).Info("Debuggee continued")
	s.setState(StateRunning)
}

func (s *Session) onTerminatedEvent() {
	s.log.Info("Debug session terminated by adapter")
	s.markTerminated()
	s.releaseAsync()
}

// onDisconnected handles transport loss: the adapter process died or the
// connection dropped without a terminated event.
func (s *Session) onDisconnected() {
	s.mu.Lock()
	terminal := s.state == StateTerminated || s.state == StateFailed
	s.mu.Unlock()

	if !terminal {
		s.log.Info("Connection to debug adapter lost", "error", s.conn.Err())
	}
	s.markTerminated()
	s.releaseAsync()
}

// releaseAsync runs the full teardown off the watcher goroutine, so an
// adapter-initiated termination still closes the connection, kills the
// adapter process, and cancels the session context. Stop cannot run on the
// watcher itself: it waits for the watcher to finish.
func (s *Session) releaseAsync() {
	go func() {
		if err := s.Stop(context.Background()); err != nil {
			s.log.V(1).Info("Session teardown reported errors", "error", err)
		}
	}()
}

// markTerminated moves the session to a terminal state (keeping StateFailed
// if the handshake already failed) and notifies the registry once.
func (s *Session) markTerminated() {
	s.mu.Lock()
	if s.state != StateTerminated && s.state != StateFailed {
		s.state = StateTerminated
		s.mu.Unlock()
		s.stateChanges.Notify(StateTerminated)
	} else {
		s.mu.Unlock()
	}

	s.onTerminatedOnce.Do(func() {
		if s.onTerminated != nil {
			s.onTerminated(s.id)
		}
	})
}

func (s *Session) setState(state SessionState) {
	s.mu.Lock()
	if s.state == state || s.state == StateTerminated || s.state == StateFailed {
		s.mu.Unlock()
		return
	}
	s.state = state
	s.mu.Unlock()

	s.stateChanges.Notify(state)
}

// resolveThread substitutes the active thread for a non-positive thread ID.
func (s *Session) resolveThread(threadID int) int {
	if threadID > 0 {
		return threadID
	}
	return s.ActiveThread()
}

// Continue resumes execution of the given thread (or the active thread).
func (s *Session) Continue(ctx context.Context, threadID int) error {
	req := &dap.ContinueRequest{
		Request:   newRequest("continue"),
		Arguments: dap.ContinueArguments{ThreadId: s.resolveThread(threadID)},
	}
	_, err := s.conn.RoundTrip(ctx, req)
	return err
}

// Next steps over the current line on the given thread.
func (s *Session) Next(ctx context.Context, threadID int) error {
	req := &dap.NextRequest{
		Request:   newRequest("next"),
		Arguments: dap.NextArguments{ThreadId: s.resolveThread(threadID)},
	}
	_, err := s.conn.RoundTrip(ctx, req)
	return err
}

// StepIn steps into the call on the current line.
func (s *Session) StepIn(ctx context.Context, threadID int) error {
	req := &dap.StepInRequest{
		Request:   newRequest("stepIn"),
		Arguments: dap.StepInArguments{ThreadId: s.resolveThread(threadID)},
	}
	_, err := s.conn.RoundTrip(ctx, req)
	return err
}

// StepOut runs until the current function returns.
func (s *Session) StepOut(ctx context.Context, threadID int) error {
	req := &dap.StepOutRequest{
		Request:   newRequest("stepOut"),
		Arguments: dap.StepOutArguments{ThreadId: s.resolveThread(threadID)},
	}
	_, err := s.conn.RoundTrip(ctx, req)
	return err
}

// Pause asks the adapter to suspend the given thread.
func (s *Session) Pause(ctx context.Context, threadID int) error {
	req := &dap.PauseRequest{
		Request:   newRequest("pause"),
		Arguments: dap.PauseArguments{ThreadId: s.resolveThread(threadID)},
	}
	_, err := s.conn.RoundTrip(ctx, req)
	return err
}

// SetBreakpoints replaces the breakpoint set for one source file; entries for
// other files are untouched. Disabled entries are kept in the configured set
// but not sent to the adapter. The adapter's view of the file (with ids and
// verified flags) is returned and cached.
func (s *Session) SetBreakpoints(ctx context.Context, path string, breakpoints []Breakpoint) ([]dap.Breakpoint, error) {
	s.mu.Lock()
	s.breakpoints[path] = append([]Breakpoint(nil), breakpoints...)
	s.mu.Unlock()

	var sourceBreakpoints []dap.SourceBreakpoint
	for _, bp := range breakpoints {
		if bp.Disabled {
			continue
		}
		sourceBreakpoints = append(sourceBreakpoints, dap.SourceBreakpoint{
			Line:         bp.Line,
			Column:       bp.Column,
			Condition:    bp.Condition,
			HitCondition: bp.HitCondition,
			LogMessage:   bp.LogMessage,
		})
	}

	req := &dap.SetBreakpointsRequest{
		Request: newRequest("setBreakpoints"),
		Arguments: dap.SetBreakpointsArguments{
			Source:      dap.Source{Path: path},
			Breakpoints: sourceBreakpoints,
		},
	}

	resp, err := s.conn.RoundTrip(ctx, req)
	if err != nil {
		return nil, err
	}

	typed, ok := resp.(*dap.SetBreakpointsResponse)
	if !ok {
		return nil, fmt.Errorf("unexpected response type %T to setBreakpoints", resp)
	}

	s.mu.Lock()
	s.adapterBreakpoints[path] = append([]dap.Breakpoint(nil), typed.Body.Breakpoints...)
	s.mu.Unlock()

	return typed.Body.Breakpoints, nil
}

// ConfiguredBreakpoints returns the caller-configured breakpoints for a file.
func (s *Session) ConfiguredBreakpoints(path string) []Breakpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Breakpoint(nil), s.breakpoints[path]...)
}

// ReportedBreakpoints returns the adapter's last reported breakpoints for a file.
func (s *Session) ReportedBreakpoints(path string) []dap.Breakpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]dap.Breakpoint(nil), s.adapterBreakpoints[path]...)
}

// StackTrace fetches the call stack of the given thread and caches it.
func (s *Session) StackTrace(ctx context.Context, threadID int) ([]dap.StackFrame, error) {
	req := &dap.StackTraceRequest{
		Request:   newRequest("stackTrace"),
		Arguments: dap.StackTraceArguments{ThreadId: s.resolveThread(threadID)},
	}

	resp, err := s.conn.RoundTrip(ctx, req)
	if err != nil {
		return nil, err
	}

	typed, ok := resp.(*dap.StackTraceResponse)
	if !ok {
		return nil, fmt.Errorf("unexpected response type %T to stackTrace", resp)
	}

	frames := typed.Body.StackFrames
	if frames == nil {
		frames = []dap.StackFrame{}
	}

	s.mu.Lock()
	s.lastStack = frames
	s.mu.Unlock()

	return frames, nil
}

// LastStackTrace returns the most recently fetched call stack without
// querying the adapter.
func (s *Session) LastStackTrace() []dap.StackFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]dap.StackFrame(nil), s.lastStack...)
}

// Threads lists the debuggee's threads.
func (s *Session) Threads(ctx context.Context) ([]dap.Thread, error) {
	req := &dap.ThreadsRequest{Request: newRequest("threads")}

	resp, err := s.conn.RoundTrip(ctx, req)
	if err != nil {
		return nil, err
	}

	typed, ok := resp.(*dap.ThreadsResponse)
	if !ok {
		return nil, fmt.Errorf("unexpected response type %T to threads", resp)
	}

	return typed.Body.Threads, nil
}

// Scopes lists the variable scopes of a stack frame.
func (s *Session) Scopes(ctx context.Context, frameID int) ([]dap.Scope, error) {
	req := &dap.ScopesRequest{
		Request:   newRequest("scopes"),
		Arguments: dap.ScopesArguments{FrameId: frameID},
	}

	resp, err := s.conn.RoundTrip(ctx, req)
	if err != nil {
		return nil, err
	}

	typed, ok := resp.(*dap.ScopesResponse)
	if !ok {
		return nil, fmt.Errorf("unexpected response type %T to scopes", resp)
	}

	return typed.Body.Scopes, nil
}

// Variables fetches the children of a variables reference and caches them.
func (s *Session) Variables(ctx context.Context, variablesReference int) ([]dap.Variable, error) {
	req := &dap.VariablesRequest{
		Request:   newRequest("variables"),
		Arguments: dap.VariablesArguments{VariablesReference: variablesReference},
	}

	resp, err := s.conn.RoundTrip(ctx, req)
	if err != nil {
		return nil, err
	}

	typed, ok := resp.(*dap.VariablesResponse)
	if !ok {
		return nil, fmt.Errorf("unexpected response type %T to variables", resp)
	}

	variables := typed.Body.Variables
	if variables == nil {
		variables = []dap.Variable{}
	}

	s.mu.Lock()
	s.lastVariables[variablesReference] = variables
	s.mu.Unlock()

	return variables, nil
}

// LastVariables returns the most recently fetched variables for a reference.
func (s *Session) LastVariables(variablesReference int) []dap.Variable {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]dap.Variable(nil), s.lastVariables[variablesReference]...)
}

// Evaluate evaluates an expression, optionally in the context of a stack frame.
func (s *Session) Evaluate(ctx context.Context, expression string, frameID int, evalContext string) (dap.EvaluateResponseBody, error) {
	req := &dap.EvaluateRequest{
		Request: newRequest("evaluate"),
		Arguments: dap.EvaluateArguments{
			Expression: expression,
			FrameId:    frameID,
			Context:    evalContext,
		},
	}

	resp, err := s.conn.RoundTrip(ctx, req)
	if err != nil {
		return dap.EvaluateResponseBody{}, err
	}

	typed, ok := resp.(*dap.EvaluateResponse)
	if !ok {
		return dap.EvaluateResponseBody{}, fmt.Errorf("unexpected response type %T to evaluate", resp)
	}

	return typed.Body, nil
}

// Stop tears the session down: best-effort terminate and disconnect requests,
// then connection, transport, and adapter process cleanup. Safe to call any
// number of times; later calls return the first call's result.
func (s *Session) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() {
		s.stopErr = s.stop(ctx)
	})
	return s.stopErr
}

func (s *Session) stop(ctx context.Context) error {
	s.log.Info("Stopping debug session")

	var errs []error

	alreadyDown := false
	select {
	case <-s.conn.Done():
		alreadyDown = true
	default:
	}

	if !alreadyDown {
		// Skip the terminate request when the adapter already announced
		// termination; only the disconnect remains to be said.
		if s.State() != StateTerminated && s.Capabilities().SupportsTerminateRequest {
			termCtx, cancelTerm := context.WithTimeout(ctx, teardownTimeout)
			req := &dap.TerminateRequest{Request: newRequest("terminate")}
			if _, err := s.conn.RoundTrip(termCtx, req); err != nil && !errors.Is(err, ErrTransportClosed) {
				s.log.V(1).Info("Terminate request failed during teardown", "error", err)
			}
			cancelTerm()
		}

		discCtx, cancelDisc := context.WithTimeout(ctx, teardownTimeout)
		req := &dap.DisconnectRequest{
			Request:   newRequest("disconnect"),
			Arguments: &dap.DisconnectArguments{TerminateDebuggee: true},
		}
		if _, err := s.conn.RoundTrip(discCtx, req); err != nil && !errors.Is(err, ErrTransportClosed) {
			s.log.V(1).Info("Disconnect request failed during teardown", "error", err)
		}
		cancelDisc()
	}

	if err := s.conn.Close(); err != nil && !errors.Is(err, ErrTransportClosed) {
		errs = append(errs, filterContextError(err, ctx, s.log))
	}

	if s.adapter != nil {
		if err := s.adapter.Close(); err != nil {
			errs = append(errs, filterContextError(err, ctx, s.log))
		}
		if err := s.adapter.Stop(); err != nil {
			errs = append(errs, filterContextError(err, ctx, s.log))
		}
	}

	if s.cancel != nil {
		s.cancel()
	}

	s.markTerminated()

	<-s.watcherDone
	s.stateChanges.CancelAll()

	return errors.Join(errs...)
}

// newRequest builds the request envelope for a command. The sequence number
// is assigned by the connection on send.
func newRequest(command string) dap.Request {
	return dap.Request{
		ProtocolMessage: dap.ProtocolMessage{Type: "request"},
		Command:         command,
	}
}
