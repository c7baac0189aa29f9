package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brunobiangulo/mindforge"
	"github.com/brunobiangulo/mindforge/mindmap"
)

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestParseStdin(t *testing.T) {
	out, err := execute(t, "- Topic A\n* Sub 1\n* Sub 2\n- Topic B", "parse", "--topic", "Demo")
	require.NoError(t, err)

	var g mindmap.Graph
	require.NoError(t, json.Unmarshal([]byte(out), &g))
	assert.Len(t, g.Nodes, 5)
	assert.Len(t, g.Edges, 4)
	root, ok := g.Central()
	require.True(t, ok)
	assert.Equal(t, "Demo", root.Label())
}

func TestParseFileChained(t *testing.T) {
	path := filepath.Join(t.TempDir(), "response.txt")
	require.NoError(t, os.WriteFile(path, []byte(`{"Concept Central": "X", "Y": ["y1", "y2"]}`), 0o600))

	out, err := execute(t, "", "parse", path, "--layout", "chained", "--ids", "sequential")
	require.NoError(t, err)

	var g mindmap.Graph
	require.NoError(t, json.Unmarshal([]byte(out), &g))
	assert.Len(t, g.Nodes, 4)
	assert.Len(t, g.Edges, 3)
}

func TestParseOutline(t *testing.T) {
	out, err := execute(t, "- Solar\n- Wind", "parse", "-", "--outline")
	require.NoError(t, err)

	var res mindmap.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, mindmap.OutlineBullets, res.Outline.Kind)
	assert.Len(t, res.Graph.Nodes, 3)
}

func TestParseNoDiagram(t *testing.T) {
	out, err := execute(t, "Nothing structured here.", "parse")
	assert.ErrorIs(t, err, mindforge.ErrNoDiagram)
	assert.JSONEq(t, `{"nodes":[],"edges":[]}`, out)
}

func TestParseBadFlags(t *testing.T) {
	_, err := execute(t, "- A", "parse", "--layout", "spiral")
	assert.Error(t, err)

	_, err = execute(t, "", "parse", filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}

func TestGenerateRequiresTopic(t *testing.T) {
	_, err := execute(t, "", "generate")
	assert.Error(t, err)
}
