package mindmap

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBullets(t *testing.T) {
	o := ParseBullets("- Topic A\n* Sub 1\n* Sub 2\n- Topic B")

	require.Equal(t, OutlineBullets, o.Kind)
	require.Len(t, o.Entries, 2)
	assert.Equal(t, "Topic A", o.Entries[0].Concept)
	assert.Equal(t, []string{"Sub 1", "Sub 2"}, o.Entries[0].Subconcepts)
	assert.Equal(t, "Topic B", o.Entries[1].Concept)
	assert.Empty(t, o.Entries[1].Subconcepts)
	assert.Empty(t, o.Central)
}

func TestParseBulletsDropsOrphanSubconcepts(t *testing.T) {
	o := ParseBullets("* orphan\n* another\n- Main\n* child")

	require.Len(t, o.Entries, 1)
	assert.Equal(t, "Main", o.Entries[0].Concept)
	assert.Equal(t, []string{"child"}, o.Entries[0].Subconcepts)
}

func TestParseBulletsCentralLine(t *testing.T) {
	text := "Voici la carte mentale.\n\nConcept central : La démocratie\n- Vote\n* Suffrage universel\n- Institutions\n"
	o := ParseBullets(text)

	assert.Equal(t, "démocratie", o.Central)
	require.Len(t, o.Entries, 2)
	assert.Equal(t, "Vote", o.Entries[0].Concept)
	assert.Equal(t, []string{"Suffrage universel"}, o.Entries[0].Subconcepts)
}

func TestParseBulletsSkipsProseAndRules(t *testing.T) {
	text := "**Overview**\nSome intro prose.\n---\n- Alpha\n* a1\nClosing remarks.\n- Beta"
	o := ParseBullets(text)

	require.Len(t, o.Entries, 2)
	assert.Equal(t, "Alpha", o.Entries[0].Concept)
	assert.Equal(t, []string{"a1"}, o.Entries[0].Subconcepts)
	assert.Equal(t, "Beta", o.Entries[1].Concept)
}

func TestParseBulletsCentralWordsInsideBullets(t *testing.T) {
	o := ParseBullets("- Topic-modeling\n* a\n- Energie\n* b")
	require.Equal(t, OutlineBullets, o.Kind)
	assert.Empty(t, o.Central)
	assert.Equal(t, []Entry{
		{Concept: "Topic-modeling", Subconcepts: []string{"a"}},
		{Concept: "Energie", Subconcepts: []string{"b"}},
	}, o.Entries)

	o = ParseBullets("- Sujet: la pollution\n* air\n- Eau\n* rivières")
	assert.Empty(t, o.Central)
	require.Len(t, o.Entries, 2)
	assert.Equal(t, []string{"air"}, o.Entries[0].Subconcepts)
	assert.Equal(t, []string{"rivières"}, o.Entries[1].Subconcepts)
}

func TestParseBulletsCentralOnly(t *testing.T) {
	o := ParseBullets("Concept central: Démocratie\nSome prose only.")
	require.Equal(t, OutlineBullets, o.Kind)
	assert.Equal(t, "Démocratie", o.Central)
	assert.Empty(t, o.Entries)
	assert.False(t, o.IsEmpty())

	g := Build(o, "ignored", DefaultOptions())
	require.Len(t, g.Nodes, 1)
	assert.Equal(t, "Démocratie", g.Nodes[0].Label())
	assert.Empty(t, g.Edges)
}

func TestParseBulletsNoStructure(t *testing.T) {
	o := ParseBullets("This is plain prose.\nIt has no bullets at all.")
	assert.True(t, o.IsEmpty())
	assert.Equal(t, OutlineEmpty, o.Kind)
}

func TestParseJSON(t *testing.T) {
	o := ParseJSON(`{"Concept Central": "X", "Y": ["y1","y2"]}`)

	require.Equal(t, OutlineJSON, o.Kind)
	assert.Equal(t, "X", o.Central)
	require.Len(t, o.Entries, 1)
	assert.Equal(t, Entry{Concept: "Y", Subconcepts: []string{"y1", "y2"}}, o.Entries[0])
}

func TestParseJSONFencedWithProse(t *testing.T) {
	text := "Sure! Here is your mindmap:\n```json\n{\"Concept Central\": \"Climate\", \"Causes\": [\"Emissions\", \"Deforestation\"]}\n```\nLet me know if you need more."
	o := ParseJSON(text)

	assert.Equal(t, "Climate", o.Central)
	require.Len(t, o.Entries, 1)
	assert.Equal(t, "Causes", o.Entries[0].Concept)
}

func TestParseJSONPrefersObjectWithCentralKey(t *testing.T) {
	text := `Notes: {"note": ["ignored"]} and the map: {"Concept Central": "Z", "K": ["k1"]}`
	o := ParseJSON(text)

	assert.Equal(t, "Z", o.Central)
	require.Len(t, o.Entries, 1)
	assert.Equal(t, "K", o.Entries[0].Concept)
}

func TestParseJSONFallsBackToFirstUsableObject(t *testing.T) {
	o := ParseJSON(`{} {"A": ["a1"]} {"B": ["b1"]}`)

	require.Len(t, o.Entries, 1)
	assert.Equal(t, "A", o.Entries[0].Concept)
	assert.Empty(t, o.Central)
}

func TestParseJSONKeepsKeyOrder(t *testing.T) {
	o := ParseJSON(`{"Concept Central": "T", "Zeta": ["z"], "Alpha": ["a"], "Mu": []}`)

	require.Len(t, o.Entries, 3)
	assert.Equal(t, "Zeta", o.Entries[0].Concept)
	assert.Equal(t, "Alpha", o.Entries[1].Concept)
	assert.Equal(t, "Mu", o.Entries[2].Concept)
	assert.Empty(t, o.Entries[2].Subconcepts)
}

func TestParseJSONBracesInsideStrings(t *testing.T) {
	o := ParseJSON(`{"Concept Central": "Set {x}", "A": ["a"]}`)

	assert.Equal(t, "Set x", o.Central)
	require.Len(t, o.Entries, 1)
}

func TestParseJSONNestedConcepts(t *testing.T) {
	o := ParseJSON(`{"central_topic": "T", "concepts": {"A": ["a1"], "B": ["b1", "b2"]}}`)

	assert.Equal(t, "T", o.Central)
	require.Len(t, o.Entries, 2)
	assert.Equal(t, "A", o.Entries[0].Concept)
	assert.Equal(t, []string{"b1", "b2"}, o.Entries[1].Subconcepts)
}

func TestParseJSONStringValueWithoutCentralKey(t *testing.T) {
	o := ParseJSON(`{"Subject line": "Oceans", "Currents": ["Gulf Stream"]}`)

	assert.Equal(t, "Oceans", o.Central)
	require.Len(t, o.Entries, 1)
}

func TestParseJSONCentralOnly(t *testing.T) {
	o := ParseJSON(`{"Concept Central": "Lonely"}`)

	assert.False(t, o.IsEmpty())
	assert.Equal(t, "Lonely", o.Central)
	assert.Empty(t, o.Entries)
}

func TestParseJSONInvalid(t *testing.T) {
	for _, in := range []string{"", "no json here", "{not json}", `{"a": 1}`, "[1, 2, 3]"} {
		assert.True(t, ParseJSON(in).IsEmpty(), "input %q", in)
	}
}

func TestParseObject(t *testing.T) {
	o := ParseObject(json.RawMessage(`{"Concept Central": "X", "Y": ["y1", 3, "y2", ""]}`))

	assert.Equal(t, "X", o.Central)
	require.Len(t, o.Entries, 1)
	assert.Equal(t, []string{"y1", "y2"}, o.Entries[0].Subconcepts)

	assert.True(t, ParseObject(json.RawMessage(`["x"]`)).IsEmpty())
}
