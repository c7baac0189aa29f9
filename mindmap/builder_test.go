package mindmap

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleBullets = "- Topic A\n* Sub 1\n* Sub 2\n- Topic B"

func nodeByID(t *testing.T, g Graph, id string) Node {
	t.Helper()
	for _, n := range g.Nodes {
		if n.ID == id {
			return n
		}
	}
	t.Fatalf("node %q not found", id)
	return Node{}
}

func edgePairs(g Graph) [][2]string {
	out := make([][2]string, 0, len(g.Edges))
	for _, e := range g.Edges {
		out = append(out, [2]string{e.Source, e.Target})
	}
	return out
}

func TestBuildRadial(t *testing.T) {
	g := Build(ParseBullets(sampleBullets), "Sample", DefaultOptions())

	require.Len(t, g.Nodes, 5)
	require.Len(t, g.Edges, 4)
	require.NoError(t, g.Validate())

	root := nodeByID(t, g, "root")
	assert.Equal(t, "Sample", root.Label())
	assert.Equal(t, StyleCentral, root.StyleClass)
	assert.Equal(t, Position{X: 400, Y: 300}, root.Position)

	assert.Equal(t, [][2]string{
		{"root", "m1"}, {"m1", "m1-s1"}, {"m1", "m1-s2"}, {"root", "m2"},
	}, edgePairs(g))

	m1 := nodeByID(t, g, "m1")
	assert.Equal(t, "Topic A", m1.Label())
	assert.Equal(t, StyleMain, m1.StyleClass)
	assert.InDelta(t, 400, m1.Position.X, 0.01)
	assert.InDelta(t, 50, m1.Position.Y, 0.01)

	m2 := nodeByID(t, g, "m2")
	assert.InDelta(t, 400, m2.Position.X, 0.01)
	assert.InDelta(t, 550, m2.Position.Y, 0.01)

	s1 := nodeByID(t, g, "m1-s1")
	assert.Equal(t, StyleSub, s1.StyleClass)
	assert.Equal(t, "Sub 1", s1.Label())
	assert.InDelta(t, 315.15, s1.Position.X, 0.01)
	assert.InDelta(t, -34.85, s1.Position.Y, 0.01)

	s2 := nodeByID(t, g, "m1-s2")
	assert.InDelta(t, 484.85, s2.Position.X, 0.01)
	assert.InDelta(t, -34.85, s2.Position.Y, 0.01)
}

func TestBuildRadialEdgeAnimation(t *testing.T) {
	g := Build(ParseBullets(sampleBullets), "", DefaultOptions())
	for _, e := range g.Edges {
		assert.Equal(t, e.Source == "root", e.Animated, "edge %s", e.ID)
		assert.Equal(t, EdgeID(e.Source, e.Target), e.ID)
	}
}

func TestBuildChained(t *testing.T) {
	opts := DefaultOptions()
	opts.Layout = LayoutChained
	g := Build(ParseBullets(sampleBullets), "Sample", opts)

	require.Len(t, g.Nodes, 5)
	require.NoError(t, g.Validate())

	assert.Equal(t, [][2]string{
		{"root", "m1"}, {"m1", "m1-s1"}, {"m1", "m1-s2"}, {"m1", "m2"},
	}, edgePairs(g))

	assert.Equal(t, Position{X: 650, Y: 300}, nodeByID(t, g, "m1").Position)
	assert.Equal(t, Position{X: 900, Y: 300}, nodeByID(t, g, "m2").Position)
	assert.Equal(t, Position{X: 650, Y: 200}, nodeByID(t, g, "m1-s1").Position)
	assert.Equal(t, Position{X: 650, Y: 400}, nodeByID(t, g, "m1-s2").Position)
}

func TestBuildSequentialIDs(t *testing.T) {
	opts := DefaultOptions()
	opts.IDScheme = IDSequential
	g := Build(ParseBullets(sampleBullets), "Sample", opts)

	ids := make([]string, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		ids = append(ids, n.ID)
	}
	assert.Equal(t, []string{"n0", "n1", "n2", "n3", "n4"}, ids)
	require.NoError(t, g.Validate())

	again := Build(ParseBullets(sampleBullets), "Sample", opts)
	assert.Equal(t, g, again, "IDs restart on every build")
}

func TestBuildFromJSON(t *testing.T) {
	g := Build(ParseJSON(`{"Concept Central": "X", "Y": ["y1","y2"]}`), "ignored", DefaultOptions())

	require.Len(t, g.Nodes, 4)
	require.Len(t, g.Edges, 3)
	assert.Equal(t, "X", nodeByID(t, g, "root").Label())
	require.NoError(t, g.Validate())

	var labels []string
	for _, n := range g.Nodes {
		labels = append(labels, n.Label())
	}
	assert.Equal(t, []string{"X", "Y", "y1", "y2"}, labels)
}

func TestBuildCentralOnly(t *testing.T) {
	g := Build(ParseJSON(`{"Concept Central": "Lonely"}`), "", DefaultOptions())

	require.Len(t, g.Nodes, 1)
	assert.Empty(t, g.Edges)
	assert.Equal(t, "Lonely", g.Nodes[0].Label())
}

func TestBuildDefaultCentralLabel(t *testing.T) {
	g := Build(ParseBullets("- Only"), "   ", DefaultOptions())
	assert.Equal(t, DefaultCentralLabel, nodeByID(t, g, "root").Label())
}

func TestBuildEmpty(t *testing.T) {
	g := Build(ParseBullets("Just some prose without structure."), "Topic", DefaultOptions())
	assert.True(t, g.IsEmpty())

	data, err := json.Marshal(g)
	require.NoError(t, err)
	assert.JSONEq(t, `{"nodes":[],"edges":[]}`, string(data))
}

func TestBuildDeterministic(t *testing.T) {
	text := "- Alpha\n* a1\n* a2\n* a3\n- Beta\n* b1\n- Gamma\n- Delta\n* d1\n* d2"
	for _, layout := range []Layout{LayoutRadial, LayoutChained} {
		opts := DefaultOptions()
		opts.Layout = layout
		first := Build(ParseBullets(text), "Greek", opts)
		second := Build(ParseBullets(text), "Greek", opts)
		assert.Equal(t, first, second, "layout %s", layout)
		require.NoError(t, first.Validate())
		assert.Len(t, first.Nodes, 1+4+6)
		assert.Len(t, first.Edges, 4+6)
	}
}

func TestBuildZeroOptionsUseDefaults(t *testing.T) {
	a := Build(ParseBullets(sampleBullets), "S", Options{Anchor: Position{X: 400, Y: 300}})
	b := Build(ParseBullets(sampleBullets), "S", DefaultOptions())
	assert.Equal(t, b, a)
}

func TestNodeJSONShape(t *testing.T) {
	n := Node{ID: "m1", Type: NodeTypeDefault, Position: Position{X: 1, Y: 2}, Data: NodeData{Label: "L"}, StyleClass: StyleMain}
	data, err := json.Marshal(n)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"m1","type":"default","position":{"x":1,"y":2},"data":{"label":"L"},"className":"main"}`, string(data))
}
