/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Kalynt contributors. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package dap

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/Hermes-Lekkas/Kalynt-sub001/pkg/process"
	"github.com/Hermes-Lekkas/Kalynt-sub001/pkg/resiliency"
)

// PortPlaceholder is the placeholder in adapter args that will be replaced with the allocated port.
const PortPlaceholder = "{{port}}"

// DefaultAdapterConnectionTimeout is the default timeout for connecting to the debug adapter.
const DefaultAdapterConnectionTimeout = 10 * time.Second

// DebugAdapterMode specifies how the debug adapter communicates.
type DebugAdapterMode string

const (
	// DebugAdapterModeStdio indicates the adapter uses stdin/stdout for DAP communication.
	DebugAdapterModeStdio DebugAdapterMode = "stdio"

	// DebugAdapterModeTCPCallback indicates we start a listener and the adapter connects to us.
	DebugAdapterModeTCPCallback DebugAdapterMode = "tcp-callback"

	// DebugAdapterModeTCPConnect indicates we allocate a port, the adapter listens on it, and we connect.
	// Use the {{port}} placeholder in args; it is replaced with the allocated port.
	DebugAdapterModeTCPConnect DebugAdapterMode = "tcp-connect"
)

// DebugAdapterConfig holds the configuration for launching a debug adapter process.
type DebugAdapterConfig struct {
	// Args contains the command and arguments to launch the debug adapter.
	// The first element is the executable path, subsequent elements are arguments.
	// May contain the "{{port}}" placeholder for TCP modes.
	Args []string `json:"args"`

	// Mode specifies how the adapter communicates.
	// Valid values: "stdio" (default), "tcp-callback", "tcp-connect".
	Mode DebugAdapterMode `json:"mode,omitempty"`

	// Cwd is the working directory for the adapter process.
	// Empty means the adapter inherits the current working directory.
	Cwd string `json:"cwd,omitempty"`

	// Env contains environment variables to set for the adapter process.
	Env map[string]string `json:"env,omitempty"`

	// ConnectionTimeoutSeconds is the timeout (in seconds) for connecting to the adapter in TCP modes.
	// If zero, DefaultAdapterConnectionTimeout is used.
	ConnectionTimeoutSeconds int `json:"connectionTimeoutSeconds,omitempty"`
}

// GetConnectionTimeout returns the connection timeout as a time.Duration.
func (c *DebugAdapterConfig) GetConnectionTimeout() time.Duration {
	if c.ConnectionTimeoutSeconds > 0 {
		return time.Duration(c.ConnectionTimeoutSeconds) * time.Second
	}
	return DefaultAdapterConnectionTimeout
}

// EffectiveMode returns the adapter mode, defaulting to DebugAdapterModeStdio
// if Mode is empty or unrecognized.
func (c *DebugAdapterConfig) EffectiveMode() DebugAdapterMode {
	switch c.Mode {
	case DebugAdapterModeStdio, DebugAdapterModeTCPCallback, DebugAdapterModeTCPConnect:
		return c.Mode
	default:
		return DebugAdapterModeStdio
	}
}

// adapterCatalog maps a debug type to the adapter command that serves it.
// The set is fixed; an unknown type fails fast before any process is spawned.
var adapterCatalog = map[string]DebugAdapterConfig{
	"node": {
		Args: []string{"js-debug-adapter", PortPlaceholder},
		Mode: DebugAdapterModeTCPConnect,
	},
	"python": {
		Args: []string{"python", "-m", "debugpy.adapter"},
		Mode: DebugAdapterModeStdio,
	},
	"go": {
		Args: []string{"dlv", "dap", "--listen=127.0.0.1:" + PortPlaceholder},
		Mode: DebugAdapterModeTCPConnect,
	},
	"lldb": {
		Args: []string{"lldb-dap"},
		Mode: DebugAdapterModeStdio,
	},
	"gdb": {
		Args: []string{"gdb", "--interpreter=dap"},
		Mode: DebugAdapterModeStdio,
	},
}

// AdapterConfigFor returns a copy of the catalog entry for the given debug type.
func AdapterConfigFor(debugType string) (*DebugAdapterConfig, error) {
	entry, found := adapterCatalog[debugType]
	if !found {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDebugType, debugType)
	}

	config := entry
	config.Args = append([]string(nil), entry.Args...)
	if entry.Env != nil {
		config.Env = make(map[string]string, len(entry.Env))
		for name, value := range entry.Env {
			config.Env[name] = value
		}
	}
	return &config, nil
}

// ApplySessionOverrides folds the debuggee configuration's working directory
// and environment overrides into the adapter launch configuration. The adapter
// process starts in the session's working directory and sees the session's
// environment overrides on top of the catalog entry's.
func (c *DebugAdapterConfig) ApplySessionOverrides(config *DebugConfig) {
	if config == nil {
		return
	}
	if config.Cwd != "" {
		c.Cwd = config.Cwd
	}
	if len(config.Env) > 0 {
		if c.Env == nil {
			c.Env = make(map[string]string, len(config.Env))
		}
		for name, value := range config.Env {
			c.Env[name] = value
		}
	}
}

// SupportedDebugTypes returns the debug types the catalog knows, sorted.
func SupportedDebugTypes() []string {
	types := make([]string, 0, len(adapterCatalog))
	for debugType := range adapterCatalog {
		types = append(types, debugType)
	}
	sort.Strings(types)
	return types
}

// LaunchedAdapter represents a running debug adapter process with its transport.
type LaunchedAdapter struct {
	// Transport provides DAP message I/O with the debug adapter.
	Transport Transport

	// pid is the process ID of the debug adapter.
	pid int32

	// executor is the process executor used for lifecycle management.
	executor process.Executor

	// listener is the TCP listener for callback mode (nil for other modes).
	listener net.Listener

	// done signals when the process has exited. The exit handler closes it
	// exactly once.
	done chan struct{}

	// exitCode contains the process exit code (if any).
	exitCode int32

	// exitErr contains the process exit error (if any).
	exitErr error

	// mu protects exitCode and exitErr.
	mu sync.Mutex
}

// Wait blocks until the debug adapter process exits.
// Returns the exit error if the process exited with an error.
func (la *LaunchedAdapter) Wait() error {
	<-la.done
	la.mu.Lock()
	defer la.mu.Unlock()
	return la.exitErr
}

// ExitCode returns the process exit code. Only valid after Wait() returns.
func (la *LaunchedAdapter) ExitCode() int32 {
	la.mu.Lock()
	defer la.mu.Unlock()
	return la.exitCode
}

// Pid returns the process ID of the debug adapter.
func (la *LaunchedAdapter) Pid() int32 {
	return la.pid
}

// Done returns a channel that is closed when the debug adapter process exits.
func (la *LaunchedAdapter) Done() <-chan struct{} {
	return la.done
}

// Close cleans up the adapter resources.
// This closes the transport and listener, but does NOT stop the process.
func (la *LaunchedAdapter) Close() error {
	var errs []error
	if la.listener != nil {
		if err := la.listener.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if la.Transport != nil {
		if err := la.Transport.Close(); err != nil && !errors.Is(err, ErrTransportClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Stop explicitly stops the debug adapter process.
func (la *LaunchedAdapter) Stop() error {
	if la.executor != nil && la.pid != process.UnknownPID {
		return la.executor.StopProcess(la.pid)
	}
	return nil
}

// LaunchDebugAdapter launches a debug adapter process using the provided configuration.
// The process lifetime is tied to the provided context; when the context is cancelled,
// the process is killed by the executor.
//
// The caller must close the Transport when done.
func LaunchDebugAdapter(ctx context.Context, executor process.Executor, config *DebugAdapterConfig, log logr.Logger) (*LaunchedAdapter, error) {
	if config == nil || len(config.Args) == 0 {
		return nil, ErrInvalidAdapterConfig
	}

	switch config.EffectiveMode() {
	case DebugAdapterModeTCPCallback:
		return launchTCPCallbackAdapter(ctx, executor, config, log)
	case DebugAdapterModeTCPConnect:
		return launchTCPConnectAdapter(ctx, executor, config, log)
	default:
		return launchStdioAdapter(ctx, executor, config, log)
	}
}

// launchStdioAdapter launches an adapter in stdio mode.
func launchStdioAdapter(ctx context.Context, executor process.Executor, config *DebugAdapterConfig, log logr.Logger) (*LaunchedAdapter, error) {
	cmd := exec.Command(config.Args[0], config.Args[1:]...)
	cmd.Dir = config.Cwd
	cmd.Env = buildEnv(config)

	stdin, stdinErr := cmd.StdinPipe()
	if stdinErr != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", stdinErr)
	}

	stdout, stdoutErr := cmd.StdoutPipe()
	if stdoutErr != nil {
		stdin.Close()
		return nil, fmt.Errorf("failed to create stdout pipe: %w", stdoutErr)
	}

	stderr, stderrErr := cmd.StderrPipe()
	if stderrErr != nil {
		stdin.Close()
		stdout.Close()
		return nil, fmt.Errorf("failed to create stderr pipe: %w", stderrErr)
	}

	adapter := &LaunchedAdapter{
		executor: executor,
		done:     make(chan struct{}),
		exitCode: process.UnknownExitCode,
	}

	pid, startWaitForExit, startErr := executor.StartProcess(ctx, cmd, adapter.exitHandler(log))
	if startErr != nil {
		stdin.Close()
		stdout.Close()
		stderr.Close()
		return nil, fmt.Errorf("failed to start debug adapter: %w", startErr)
	}

	startWaitForExit()

	go logStderr(stderr, log)

	log.Info("Launched debug adapter process (stdio mode)",
		"command", config.Args[0],
		"args", config.Args[1:],
		"pid", pid)

	adapter.Transport = NewStdioTransport(stdout, stdin)
	adapter.pid = pid

	return adapter, nil
}

// launchTCPCallbackAdapter launches an adapter in TCP callback mode.
// We start a listener and the adapter connects to us.
func launchTCPCallbackAdapter(ctx context.Context, executor process.Executor, config *DebugAdapterConfig, log logr.Logger) (*LaunchedAdapter, error) {
	listener, listenErr := net.Listen("tcp", "127.0.0.1:0")
	if listenErr != nil {
		return nil, fmt.Errorf("failed to create listener: %w", listenErr)
	}

	listenerAddr := listener.Addr().String()
	log.Info("Listening for debug adapter callback", "address", listenerAddr)

	_, portStr, _ := net.SplitHostPort(listenerAddr)
	args := substitutePort(config.Args, portStr)

	cmd := exec.Command(args[0], args[1:]...)
	cmd.Dir = config.Cwd
	cmd.Env = buildEnv(config)

	stderr, stderrErr := cmd.StderrPipe()
	if stderrErr != nil {
		listener.Close()
		return nil, fmt.Errorf("failed to create stderr pipe: %w", stderrErr)
	}

	adapter := &LaunchedAdapter{
		executor: executor,
		listener: listener,
		done:     make(chan struct{}),
		exitCode: process.UnknownExitCode,
	}

	pid, startWaitForExit, startErr := executor.StartProcess(ctx, cmd, adapter.exitHandler(log))
	if startErr != nil {
		listener.Close()
		stderr.Close()
		return nil, fmt.Errorf("failed to start debug adapter: %w", startErr)
	}

	startWaitForExit()

	go logStderr(stderr, log)

	log.Info("Launched debug adapter process (tcp-callback mode)",
		"command", args[0],
		"args", args[1:],
		"pid", pid,
		"listenAddress", listenerAddr)

	adapter.pid = pid

	connCh := make(chan net.Conn, 1)
	errCh := make(chan error, 1)
	go func() {
		conn, acceptErr := listener.Accept()
		if acceptErr != nil {
			errCh <- acceptErr
			return
		}
		connCh <- conn
	}()

	var conn net.Conn
	select {
	case conn = <-connCh:
		log.Info("Debug adapter connected", "remoteAddr", conn.RemoteAddr().String())
	case acceptErr := <-errCh:
		_ = executor.StopProcess(pid)
		listener.Close()
		return nil, fmt.Errorf("failed to accept adapter connection: %w", acceptErr)
	case <-time.After(config.GetConnectionTimeout()):
		_ = executor.StopProcess(pid)
		listener.Close()
		return nil, ErrAdapterConnectionTimeout
	case <-ctx.Done():
		// Executor will handle stopping the process when context is cancelled
		listener.Close()
		return nil, ctx.Err()
	}

	adapter.Transport = NewTCPTransport(conn)
	return adapter, nil
}

// launchTCPConnectAdapter launches an adapter in TCP connect mode.
// The adapter listens on an allocated port and we connect to it.
func launchTCPConnectAdapter(ctx context.Context, executor process.Executor, config *DebugAdapterConfig, log logr.Logger) (*LaunchedAdapter, error) {
	port, portErr := allocateFreePort()
	if portErr != nil {
		return nil, fmt.Errorf("failed to allocate port: %w", portErr)
	}

	args := substitutePort(config.Args, strconv.Itoa(port))

	cmd := exec.Command(args[0], args[1:]...)
	cmd.Dir = config.Cwd
	cmd.Env = buildEnv(config)

	stderr, stderrErr := cmd.StderrPipe()
	if stderrErr != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", stderrErr)
	}

	adapter := &LaunchedAdapter{
		executor: executor,
		done:     make(chan struct{}),
		exitCode: process.UnknownExitCode,
	}

	pid, startWaitForExit, startErr := executor.StartProcess(ctx, cmd, adapter.exitHandler(log))
	if startErr != nil {
		stderr.Close()
		return nil, fmt.Errorf("failed to start debug adapter: %w", startErr)
	}

	startWaitForExit()

	go logStderr(stderr, log)

	log.Info("Launched debug adapter process (tcp-connect mode)",
		"command", args[0],
		"args", args[1:],
		"pid", pid,
		"port", port)

	adapter.pid = pid

	addr := fmt.Sprintf("127.0.0.1:%d", port)
	conn, connectErr := resiliency.RetryGetWithTimeout(ctx, config.GetConnectionTimeout(), func() (net.Conn, error) {
		select {
		case <-adapter.done:
			// Process exited before we could connect; retrying is pointless.
			return nil, resiliency.Permanent(errors.New("debug adapter process exited before connection could be established"))
		default:
		}
		return net.DialTimeout("tcp", addr, time.Second)
	})
	if connectErr != nil {
		_ = executor.StopProcess(pid)
		if ctx.Err() == nil && !errors.Is(connectErr, context.Canceled) {
			connectErr = fmt.Errorf("%w: failed to connect to adapter at %s: %w", ErrAdapterConnectionTimeout, addr, connectErr)
		}
		return nil, connectErr
	}

	log.Info("Connected to debug adapter", "address", addr)

	adapter.Transport = NewTCPTransport(conn)
	return adapter, nil
}

// exitHandler records the exit result and closes done exactly once.
func (la *LaunchedAdapter) exitHandler(log logr.Logger) process.ProcessExitHandler {
	return process.ProcessExitHandlerFunc(func(pid int32, exitCode int32, err error) {
		la.mu.Lock()
		la.exitCode = exitCode
		la.exitErr = err
		la.mu.Unlock()
		close(la.done)

		if err != nil {
			log.V(1).Info("Debug adapter process exited with error",
				"pid", pid,
				"exitCode", exitCode,
				"error", err)
		} else {
			log.V(1).Info("Debug adapter process exited",
				"pid", pid,
				"exitCode", exitCode)
		}
	})
}

// allocateFreePort asks the OS for a free TCP port on the loopback interface.
func allocateFreePort() (int, error) {
	listener, listenErr := net.Listen("tcp", "127.0.0.1:0")
	if listenErr != nil {
		return 0, listenErr
	}
	defer listener.Close()

	return listener.Addr().(*net.TCPAddr).Port, nil
}

// substitutePort replaces the {{port}} placeholder in args with the actual port.
func substitutePort(args []string, port string) []string {
	result := make([]string, len(args))
	for i, arg := range args {
		result[i] = strings.ReplaceAll(arg, PortPlaceholder, port)
	}
	return result
}

// buildEnv builds the environment for the adapter process.
func buildEnv(config *DebugAdapterConfig) []string {
	env := os.Environ()
	// Clear GOFLAGS to avoid issues when launching Go tools (like dlv)
	env = append(env, "GOFLAGS=")
	for name, value := range config.Env {
		env = append(env, name+"="+value)
	}
	return env
}

// logStderr reads and logs stderr from the adapter without ever blocking the child.
func logStderr(stderr interface{ Read([]byte) (int, error) }, log logr.Logger) {
	buf := make([]byte, 1024)
	for {
		n, readErr := stderr.Read(buf)
		if n > 0 {
			log.Info("Debug adapter stderr", "output", string(buf[:n]))
		}
		if readErr != nil {
			return
		}
	}
}
