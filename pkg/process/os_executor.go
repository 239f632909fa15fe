package process

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"sync"

	"github.com/go-logr/logr"
)

// OSExecutor runs child processes via os/exec. It only manages processes it
// started itself, so the exec.Cmd handle is the sole source of truth about
// process identity and exit status.
type OSExecutor struct {
	running map[int32]*os.Process
	lock    sync.Mutex
	log     logr.Logger
}

func NewOSExecutor(log logr.Logger) Executor {
	return &OSExecutor{
		running: make(map[int32]*os.Process),
		log:     log.WithName("os-executor"),
	}
}

func (e *OSExecutor) StartProcess(ctx context.Context, cmd *exec.Cmd, handler ProcessExitHandler) (int32, func(), error) {
	if err := cmd.Start(); err != nil {
		return UnknownPID, nil, err
	}

	pid := int32(cmd.Process.Pid)

	e.lock.Lock()
	e.running[pid] = cmd.Process
	e.lock.Unlock()

	// Exactly one Wait per process; both the context watcher and the exit
	// reporter consume its result through waitDone.
	waitDone := make(chan error, 1)
	go func() {
		waitDone <- cmd.Wait()
	}()

	notificationsEnabled := make(chan struct{})
	var enableOnce sync.Once

	go func() {
		var waitErr error
		select {
		case waitErr = <-waitDone:

		case <-ctx.Done():
			if stopErr := e.StopProcess(pid); stopErr != nil {
				e.log.V(1).Info("could not stop process on context cancellation", "PID", pid, "error", stopErr)
			}
			waitErr = <-waitDone
		}

		e.lock.Lock()
		delete(e.running, pid)
		e.lock.Unlock()

		// The exit is reported only after the caller opted into notifications.
		<-notificationsEnabled

		if handler != nil {
			exitCode, execErr := getProcessExecResult(waitErr, cmd)
			handler.OnProcessExited(pid, exitCode, execErr)
		}
	}()

	startWaitingForProcessExit := func() {
		enableOnce.Do(func() {
			close(notificationsEnabled)
		})
	}

	return pid, startWaitingForProcessExit, nil
}

func (e *OSExecutor) StopProcess(pid int32) error {
	e.lock.Lock()
	proc, found := e.running[pid]
	e.lock.Unlock()

	if !found {
		// Already exited (or never managed by this executor); nothing to stop.
		return nil
	}

	if killErr := proc.Kill(); killErr != nil && !errors.Is(killErr, os.ErrProcessDone) {
		return killErr
	}
	return nil
}

// Returns the process exit code and execution error depending on the result of the command wait call.
func getProcessExecResult(waitErr error, cmd *exec.Cmd) (int32, error) {
	var ee *exec.ExitError
	if waitErr == nil {
		return int32(cmd.ProcessState.ExitCode()), nil
	} else if errors.As(waitErr, &ee) {
		return int32(ee.ExitCode()), nil
	} else {
		return UnknownExitCode, waitErr
	}
}

var _ Executor = (*OSExecutor)(nil)
