// Copyright (c) Kalynt contributors.
// Licensed under the MIT License.

package dap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_DebugConfig_EffectiveRequest(t *testing.T) {
	t.Parallel()

	assert.Equal(t, RequestLaunch, (&DebugConfig{}).EffectiveRequest())
	assert.Equal(t, RequestLaunch, (&DebugConfig{Request: "launch"}).EffectiveRequest())
	assert.Equal(t, RequestAttach, (&DebugConfig{Request: "attach"}).EffectiveRequest())
	assert.Equal(t, RequestLaunch, (&DebugConfig{Request: "bogus"}).EffectiveRequest())
}

func Test_WorkspaceResolver_Substitutions(t *testing.T) {
	t.Parallel()

	resolver := &WorkspaceResolver{
		WorkspaceFolder: "/home/dev/project",
		ActiveFile:      "/home/dev/project/src/app.py",
	}

	cases := []struct {
		input string
		want  string
	}{
		{"${workspaceFolder}/main.go", "/home/dev/project/main.go"},
		{"${file}", "/home/dev/project/src/app.py"},
		{"${fileBasename}", "app.py"},
		{"${fileBasenameNoExtension}", "app"},
		{"${fileDirname}", "/home/dev/project/src"},
		{"${cwd}", "/home/dev/project"},
		{"no placeholders here", "no placeholders here"},
		{"${workspaceFolder}/${fileBasename}", "/home/dev/project/app.py"},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, resolver.Resolve(tc.input), "input %q", tc.input)
	}
}

func Test_DebugConfig_Resolved(t *testing.T) {
	t.Parallel()

	original := &DebugConfig{
		Type:    "python",
		Program: "${workspaceFolder}/app.py",
		Args:    []string{"--data", "${workspaceFolder}/data"},
		Cwd:     "${workspaceFolder}",
		Env:     map[string]string{"APP_ROOT": "${workspaceFolder}"},
	}

	resolver := &WorkspaceResolver{WorkspaceFolder: "/ws"}
	resolved := original.Resolved(resolver)

	assert.Equal(t, "/ws/app.py", resolved.Program)
	assert.Equal(t, []string{"--data", "/ws/data"}, resolved.Args)
	assert.Equal(t, "/ws", resolved.Cwd)
	assert.Equal(t, "/ws", resolved.Env["APP_ROOT"])

	// The input configuration is untouched.
	assert.Equal(t, "${workspaceFolder}/app.py", original.Program)
	assert.Equal(t, "${workspaceFolder}/data", original.Args[1])
	assert.Equal(t, "${workspaceFolder}", original.Env["APP_ROOT"])
}

func Test_DebugConfig_ResolvedIsADeepCopy(t *testing.T) {
	t.Parallel()

	original := &DebugConfig{
		Type: "go",
		Args: []string{"one"},
		Env:  map[string]string{"K": "v"},
	}

	copied := original.Resolved(nil)
	require.NotSame(t, original, copied)

	copied.Args[0] = "changed"
	copied.Env["K"] = "changed"

	assert.Equal(t, "one", original.Args[0])
	assert.Equal(t, "v", original.Env["K"])
}
