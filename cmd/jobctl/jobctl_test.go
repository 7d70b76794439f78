package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localrivet/jobwire/client"
	"github.com/localrivet/jobwire/handlers"
	"github.com/localrivet/jobwire/logx"
	"github.com/localrivet/jobwire/protocol"
)

func executeCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	root := newRootCmd()
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

// normalized returns the output lines with runs of spaces collapsed.
func normalized(out string) []string {
	var lines []string
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		lines = append(lines, strings.Join(strings.Fields(line), " "))
	}
	return lines
}

func TestDemoScript(t *testing.T) {
	stdout, stderr, err := executeCLI(t, "--log-level", "error", "demo", "--step", "0")
	require.NoError(t, err, stderr)

	lines := normalized(stdout)
	assert.Contains(t, lines, "pipeline:")
	assert.Contains(t, lines, "state@1.0")
	assert.Contains(t, lines, "runnable@1.0")
	assert.Contains(t, lines, "logs@1.0")

	expected := []string{
		"pipeline state PENDING",
		"pipeline child+ build at 0",
		"pipeline child+ test at 1",
		"build state PENDING",
		"build log #1 INFO queued",
		"test state PENDING",
		"pipeline state RUNNING started",
		"build state RUNNING",
		"build log #2 INFO build started",
		"build log #3 INFO build passed",
		"build state SUCCEEDED",
		"test state RUNNING",
		"test state SUCCEEDED",
		"pipeline child+ deploy at 2",
		"pipeline state SUCCEEDED all stages passed",
	}
	last := -1
	for _, want := range expected {
		i := indexFrom(lines, want, last+1)
		require.GreaterOrEqual(t, i, 0, "missing or out of order: %q\n%s", want, stdout)
		last = i
	}
}

func indexFrom(lines []string, want string, from int) int {
	for i := from; i < len(lines); i++ {
		if lines[i] == want {
			return i
		}
	}
	return -1
}

func TestDemoJSON(t *testing.T) {
	stdout, stderr, err := executeCLI(t, "--log-level", "error", "demo", "--step", "0", "--json")
	require.NoError(t, err, stderr)

	var events []watchEvent
	for _, line := range strings.Split(strings.TrimSpace(stdout), "\n") {
		var ev watchEvent
		require.NoError(t, json.Unmarshal([]byte(line), &ev), line)
		events = append(events, ev)
	}
	require.NotEmpty(t, events)

	final := events[len(events)-1]
	assert.Equal(t, protocol.NodeID("pipeline"), final.Node)
	assert.Equal(t, "state", final.Kind)
	assert.Equal(t, "SUCCEEDED", final.Data.(map[string]any)["state"])
}

func TestRootRejectsInvalidLogLevel(t *testing.T) {
	_, _, err := executeCLI(t, "--log-level", "trace", "version")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid --log-level")
}

func TestVersion(t *testing.T) {
	stdout, _, err := executeCLI(t, "version", "--json")
	require.NoError(t, err)

	var view map[string]string
	require.NoError(t, json.Unmarshal([]byte(stdout), &view))
	assert.NotEmpty(t, view["version"])
	assert.Equal(t, buildCommit, view["commit"])
}

func TestLoadConfigFlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobctl.yaml")
	require.NoError(t, os.WriteFile(path, []byte("endpoint: ws://file.local:9000\nlogLevel: warn\n"), 0o600))

	cmd := newRootCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--config", path, "--endpoint", "ws://flag.local:9001", "--log-format", "json"}))

	cfg, err := loadConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, "ws://flag.local:9001", cfg.Endpoint)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "ws://flag.local:9001/jobs", cfg.URL())
}

func TestConnectNeedsEndpoint(t *testing.T) {
	t.Setenv(client.EnvEndpoint, "")
	_, _, err := executeCLI(t, "describe", "pipeline")
	assert.Error(t, err)
}

func TestParseArgsAndSignature(t *testing.T) {
	values, err := parseArgs([]string{`3`, `1.5`, `"x"`, `true`, `{"a":1}`, `null`})
	require.NoError(t, err)
	assert.Equal(t, []any{int64(3), 1.5, "x", true, map[string]any{"a": json.Number("1")}, nil}, values)
	assert.Equal(t, []string{"int", "double", "string", "bool", "object", "object"}, inferSignature(values))

	_, err = parseArgs([]string{`{`})
	assert.Error(t, err)
	_, err = parseArgs([]string{`1 2`})
	assert.Error(t, err)
}

func TestDescribeAndInvokeAgainstDemoJob(t *testing.T) {
	ctx := context.Background()
	job := newDemoJob(logx.Discard())
	conn := job.server.Connect()
	defer conn.Close()

	views, err := describeNodes(ctx, conn, []string{"test", "build"})
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, protocol.NodeID("test"), views[0].Node)
	assert.Len(t, views[1].Capabilities, 2)

	_, err = describeNodes(ctx, conn, []string{"build", "ghost"})
	assert.ErrorIs(t, err, protocol.ErrUnknownNode)

	reg, err := handlers.NewRegistry(handlers.Options{ResyncDelay: -1})
	require.NoError(t, err)
	session := client.NewSession(conn, reg)
	defer session.Close()

	result, err := invokeOperation(ctx, session, conn, logx.Discard(), "build", "consoleId", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "build-console", result)

	_, err = invokeOperation(ctx, session, conn, logx.Discard(), "build", "restart", nil, nil)
	var remote *protocol.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "UnsupportedOperation", remote.Type)
}
