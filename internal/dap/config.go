// Copyright (c) Kalynt contributors.
// Licensed under the MIT License.

package dap

import (
	"path/filepath"
	"strings"
)

const (
	// RequestLaunch starts a new debuggee process.
	RequestLaunch = "launch"
	// RequestAttach attaches to an already-running debuggee.
	RequestAttach = "attach"
)

// DebugConfig describes a debug session to start. It mirrors the common
// launch-configuration shape: the Type selects the adapter, the Request
// selects launch vs attach, and the remaining fields are passed through to
// the adapter as launch/attach arguments.
type DebugConfig struct {
	// Type selects the debug adapter (e.g. "node", "python", "go").
	Type string `json:"type"`

	// Request is "launch" or "attach". Empty means "launch".
	Request string `json:"request,omitempty"`

	// Name is a human-readable label for the session.
	Name string `json:"name,omitempty"`

	// Program is the entry point to debug (or the binary to attach symbols for).
	Program string `json:"program,omitempty"`

	// Args are command line arguments for the debuggee.
	Args []string `json:"args,omitempty"`

	// Cwd is the working directory for the debuggee.
	Cwd string `json:"cwd,omitempty"`

	// Env contains extra environment variables for the debuggee.
	Env map[string]string `json:"env,omitempty"`

	// StopOnEntry pauses the debuggee at its first instruction.
	StopOnEntry bool `json:"stopOnEntry,omitempty"`

	// Host and Port identify the target for attach requests over TCP.
	Host string `json:"host,omitempty"`
	Port int    `json:"port,omitempty"`

	// ProcessID identifies the target for attach-by-pid requests.
	ProcessID int `json:"processId,omitempty"`
}

// EffectiveRequest returns the request kind, defaulting to launch.
func (c *DebugConfig) EffectiveRequest() string {
	if c.Request == RequestAttach {
		return RequestAttach
	}
	return RequestLaunch
}

// Breakpoint is a source line breakpoint configured by the caller.
// The zero value of Disabled means the breakpoint is active; disabled
// entries stay in the configured set but are not sent to the adapter.
type Breakpoint struct {
	Line         int    `json:"line"`
	Column       int    `json:"column,omitempty"`
	Condition    string `json:"condition,omitempty"`
	HitCondition string `json:"hitCondition,omitempty"`
	LogMessage   string `json:"logMessage,omitempty"`
	Disabled     bool   `json:"disabled,omitempty"`
}

// VariableResolver expands ${...} placeholders in configuration values.
// Resolution happens once, when a session starts; the engine itself never
// interprets placeholders after that point.
type VariableResolver interface {
	Resolve(value string) string
}

// WorkspaceResolver resolves the standard placeholder set from a workspace
// folder and the currently active file.
type WorkspaceResolver struct {
	WorkspaceFolder string
	ActiveFile      string
}

func (r *WorkspaceResolver) Resolve(value string) string {
	if !strings.Contains(value, "${") {
		return value
	}

	basename := filepath.Base(r.ActiveFile)
	replacer := strings.NewReplacer(
		"${workspaceFolder}", r.WorkspaceFolder,
		"${file}", r.ActiveFile,
		"${fileBasename}", basename,
		"${fileBasenameNoExtension}", strings.TrimSuffix(basename, filepath.Ext(basename)),
		"${fileDirname}", filepath.Dir(r.ActiveFile),
		"${cwd}", r.WorkspaceFolder,
	)
	return replacer.Replace(value)
}

var _ VariableResolver = (*WorkspaceResolver)(nil)

// Resolved returns a copy of the configuration with every string field run
// through the resolver. A nil resolver returns the copy unchanged.
func (c *DebugConfig) Resolved(resolver VariableResolver) *DebugConfig {
	resolved := *c
	resolved.Args = append([]string(nil), c.Args...)
	if c.Env != nil {
		resolved.Env = make(map[string]string, len(c.Env))
		for k, v := range c.Env {
			resolved.Env[k] = v
		}
	}

	if resolver == nil {
		return &resolved
	}

	resolved.Program = resolver.Resolve(c.Program)
	resolved.Cwd = resolver.Resolve(c.Cwd)
	for i, arg := range resolved.Args {
		resolved.Args[i] = resolver.Resolve(arg)
	}
	for k, v := range resolved.Env {
		resolved.Env[k] = resolver.Resolve(v)
	}

	return &resolved
}
