package mindmap

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseResponseSelectsVariant(t *testing.T) {
	tests := []struct {
		name string
		resp Response
		kind OutlineKind
	}{
		{"decoded object", Response{Object: json.RawMessage(`{"Concept Central": "X", "Y": ["y"]}`)}, OutlineJSON},
		{"json in text", Response{Text: "Here:\n{\"Concept Central\": \"X\", \"Y\": [\"y\"]}"}, OutlineJSON},
		{"bullets", Response{Text: sampleBullets}, OutlineBullets},
		{"prose", Response{Text: "Nothing structured here."}, OutlineEmpty},
		{"empty", Response{}, OutlineEmpty},
		{"unusable object falls back to text", Response{Object: json.RawMessage(`[]`), Text: "- A\n* a"}, OutlineBullets},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind, ParseResponse(tt.resp).Kind)
		})
	}
}

func TestAdapt(t *testing.T) {
	res := Adapt(Response{Text: sampleBullets}, "Sample", DefaultOptions())

	assert.Equal(t, OutlineBullets, res.Outline.Kind)
	require.Len(t, res.Graph.Nodes, 5)
	assert.Equal(t, "Sample", res.Graph.Nodes[0].Label())
}

func TestAdaptNoDiagram(t *testing.T) {
	res := Adapt(Response{Text: "I am sorry, I cannot help with that."}, "Topic", DefaultOptions())

	assert.True(t, res.Graph.IsEmpty())
	assert.NotNil(t, res.Graph.Nodes)
	assert.NotNil(t, res.Graph.Edges)
	assert.True(t, res.Outline.IsEmpty())
}

func TestPrompt(t *testing.T) {
	assert.Contains(t, Prompt("  Photosynthesis ", ShapeJSON), "TOPIC:\nPhotosynthesis")
	assert.Contains(t, Prompt("Climate", ShapeBullets), "Concept central")
	assert.Contains(t, DocumentPrompt("body text"), "DOCUMENT:\nbody text")

	s, err := ParseShape("")
	require.NoError(t, err)
	assert.Equal(t, ShapeJSON, s)
	_, err = ParseShape("xml")
	assert.Error(t, err)
}

func TestParseLayoutAndIDScheme(t *testing.T) {
	l, err := ParseLayout("chained")
	require.NoError(t, err)
	assert.Equal(t, LayoutChained, l)
	_, err = ParseLayout("spiral")
	assert.Error(t, err)

	s, err := ParseIDScheme("")
	require.NoError(t, err)
	assert.Equal(t, IDComposite, s)
	_, err = ParseIDScheme("uuid")
	assert.Error(t, err)
}
