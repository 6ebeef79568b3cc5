package cli

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/forgectl/internal/testutil"
)

func runCommand(t *testing.T, root string, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut testutil.SafeBuffer
	cmd := NewRootCommand(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append(args, "--root", root))
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func sampleWorkspace(t *testing.T) string {
	t.Helper()
	return testutil.WriteWorkspace(t, map[string]string{
		"app/BUILD.hcl": `
target "go_binary" "app" {
  deps = ["//lib:util"]
  srcs = ["main.go", "//gen:protos"]
}
`,
		"lib/BUILD.hcl": `
target "go_library" "util" {}
`,
		"gen/BUILD.hcl": `
target "proto_library" "protos" {}
`,
	})
}

func TestResolveCommand(t *testing.T) {
	out, _, err := runCommand(t, sampleWorkspace(t), "resolve", "//app:app")
	require.NoError(t, err)
	assert.Contains(t, out, "//app:app go_binary")
	assert.Contains(t, out, "dep //lib:util")
	assert.Contains(t, out, "dep //gen:protos (inferred)")
}

func TestResolveCommand_BadAddress(t *testing.T) {
	_, _, err := runCommand(t, sampleWorkspace(t), "resolve", "not-an-address")
	require.Error(t, err)
}

func TestResolveCommand_MissingTarget(t *testing.T) {
	_, _, err := runCommand(t, sampleWorkspace(t), "resolve", "//app:ghost")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot resolve //app:ghost")
}

func TestClosureCommand(t *testing.T) {
	out, _, err := runCommand(t, sampleWorkspace(t), "closure", "//app:app")
	require.NoError(t, err)
	lines := strings.Fields(out)
	assert.Equal(t, []string{"//app:app", "//gen:protos", "//lib:util"}, lines)
}

func TestGraphCommand(t *testing.T) {
	out, _, err := runCommand(t, sampleWorkspace(t), "graph")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "digraph"))
	assert.Contains(t, out, "parse-spec-file")
}

func TestRootCommand_InvalidLogFormat(t *testing.T) {
	_, _, err := runCommand(t, sampleWorkspace(t), "graph", "--log-format", "xml")
	require.Error(t, err)
}
