/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Kalynt contributors. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	dapmsg "github.com/google/go-dap"
	"github.com/spf13/cobra"

	"github.com/Hermes-Lekkas/Kalynt-sub001/internal/dap"
	"github.com/Hermes-Lekkas/Kalynt-sub001/pkg/concurrency"
	"github.com/Hermes-Lekkas/Kalynt-sub001/pkg/logger"
	"github.com/Hermes-Lekkas/Kalynt-sub001/pkg/process"
)

type runOptions struct {
	workspaceFolder string
	activeFile      string
	requestTimeout  time.Duration
}

func newRunCommand(log *logger.Logger) *cobra.Command {
	opts := &runOptions{}

	runCmd := &cobra.Command{
		Use:   "run <launch-config.json>",
		Short: "Starts a debug session from a launch configuration and streams its output",
		Long: `Starts a debug session described by a JSON launch configuration.

	The configuration's "type" field selects the debug adapter. Debuggee output
	is written to stdout/stderr until the session ends; Ctrl+C stops the
	session and shuts the adapter down.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(cmd, args[0], opts, log)
		},
	}

	runCmd.Flags().StringVar(&opts.workspaceFolder, "workspace", "", "Workspace folder substituted for ${workspaceFolder} in the configuration.")
	runCmd.Flags().StringVar(&opts.activeFile, "active-file", "", "File substituted for ${file} and related placeholders in the configuration.")
	runCmd.Flags().DurationVar(&opts.requestTimeout, "request-timeout", dap.DefaultRequestTimeout, "How long to wait for each debug adapter response.")

	return runCmd
}

func runSession(cmd *cobra.Command, configPath string, opts *runOptions, log *logger.Logger) error {
	log = log.WithName("run")

	config, configErr := readLaunchConfig(configPath)
	if configErr != nil {
		return configErr
	}

	var resolver dap.VariableResolver
	if opts.workspaceFolder != "" || opts.activeFile != "" {
		resolver = &dap.WorkspaceResolver{
			WorkspaceFolder: opts.workspaceFolder,
			ActiveFile:      opts.activeFile,
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The event buffer must outlive session shutdown: its reader goroutine
	// keeps draining subscriber sinks while sessions tear down.
	eventsCtx, cancelEvents := context.WithCancel(context.Background())
	defer cancelEvents()

	registry := dap.NewSessionRegistry(
		process.NewOSExecutor(log.Logger),
		dap.ConnConfig{RequestTimeout: opts.requestTimeout},
		log.Logger,
	)
	defer func() {
		if shutdownErr := registry.Shutdown(cmd.Context()); shutdownErr != nil {
			log.V(1).Info("Session shutdown reported errors", "error", shutdownErr)
		}
	}()

	session, startErr := registry.StartSession(ctx, config, resolver)
	if startErr != nil {
		return startErr
	}

	log.Info("Debug session running", "sessionId", session.ID(), "debugType", config.Type)

	// Events are buffered through an unbounded channel so a burst of debuggee
	// output never stalls the connection's read pump.
	events := concurrency.NewUnboundedChan[dapmsg.EventMessage](eventsCtx)
	session.Events().SubscribeAll(events.In)

	states := make(chan dap.SessionState, 16)
	session.SubscribeStateChanges(states)

	for {
		select {
		case msg, open := <-events.Out:
			if !open {
				return nil
			}
			printEvent(msg, log)

		case state, open := <-states:
			if !open {
				return nil
			}
			log.V(1).Info("Session state changed", "state", state.String())
			if state == dap.StateTerminated {
				return nil
			}

		case <-ctx.Done():
			log.Info("Interrupted, stopping debug session", "sessionId", session.ID())
			return registry.StopSession(cmd.Context(), session.ID())
		}
	}
}

func readLaunchConfig(path string) (*dap.DebugConfig, error) {
	data, readErr := os.ReadFile(path)
	if readErr != nil {
		return nil, fmt.Errorf("failed to read launch configuration: %w", readErr)
	}

	var config dap.DebugConfig
	if unmarshalErr := json.Unmarshal(data, &config); unmarshalErr != nil {
		return nil, fmt.Errorf("failed to parse launch configuration %s: %w", path, unmarshalErr)
	}

	return &config, nil
}

func printEvent(msg dapmsg.EventMessage, log *logger.Logger) {
	switch event := msg.(type) {
	case *dapmsg.OutputEvent:
		if event.Body.Category == "stderr" {
			fmt.Fprint(os.Stderr, event.Body.Output)
		} else {
			fmt.Fprint(os.Stdout, event.Body.Output)
		}

	case *dapmsg.StoppedEvent:
		log.Info("Debuggee stopped", "reason", event.Body.Reason, "threadId", event.Body.ThreadId)

	case *dapmsg.ExitedEvent:
		log.Info("Debuggee exited", "exitCode", event.Body.ExitCode)

	default:
		log.V(1).Info("Adapter event", "event", msg.GetEvent().Event)
	}
}
