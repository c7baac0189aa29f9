package mindmap

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// DefaultCentralLabel labels the root when neither the response nor the
// caller named a topic.
const DefaultCentralLabel = "Mindmap"

// Options configures graph construction.
type Options struct {
	Layout   Layout   `json:"layout" koanf:"layout"`
	IDScheme IDScheme `json:"id_scheme" koanf:"id_scheme"`

	// Anchor is where the central node is placed.
	Anchor Position `json:"anchor" koanf:"anchor"`

	// Radial layout.
	MainRadius float64 `json:"main_radius" koanf:"main_radius"`
	SubRadius  float64 `json:"sub_radius" koanf:"sub_radius"`
	SubSpread  float64 `json:"sub_spread" koanf:"sub_spread"` // radians

	// Chained layout.
	MainSpacing float64 `json:"main_spacing" koanf:"main_spacing"`
	SubOffset   float64 `json:"sub_offset" koanf:"sub_offset"`
}

// DefaultOptions returns the radial layout with composite IDs.
func DefaultOptions() Options {
	return Options{
		Layout:      LayoutRadial,
		IDScheme:    IDComposite,
		Anchor:      Position{X: 400, Y: 300},
		MainRadius:  250,
		SubRadius:   120,
		SubSpread:   math.Pi / 2,
		MainSpacing: 250,
		SubOffset:   100,
	}
}

// withDefaults fills zero fields from DefaultOptions.
func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Layout == "" {
		o.Layout = d.Layout
	}
	if o.IDScheme == "" {
		o.IDScheme = d.IDScheme
	}
	if o.MainRadius <= 0 {
		o.MainRadius = d.MainRadius
	}
	if o.SubRadius <= 0 {
		o.SubRadius = d.SubRadius
	}
	if o.SubSpread <= 0 {
		o.SubSpread = d.SubSpread
	}
	if o.MainSpacing <= 0 {
		o.MainSpacing = d.MainSpacing
	}
	if o.SubOffset <= 0 {
		o.SubOffset = d.SubOffset
	}
	return o
}

// EdgeID derives the ID of the edge between source and target. Node IDs never
// contain '_', so the mapping is injective.
func EdgeID(source, target string) string {
	return "e_" + source + "_" + target
}

// idGen hands out node IDs for a single Build call.
type idGen struct {
	scheme IDScheme
	next   int
}

func (g *idGen) seq() string {
	id := "n" + strconv.Itoa(g.next)
	g.next++
	return id
}

func (g *idGen) root() string {
	if g.scheme == IDSequential {
		return g.seq()
	}
	return "root"
}

func (g *idGen) main(i int) string {
	if g.scheme == IDSequential {
		return g.seq()
	}
	return fmt.Sprintf("m%d", i+1)
}

func (g *idGen) sub(i, j int) string {
	if g.scheme == IDSequential {
		return g.seq()
	}
	return fmt.Sprintf("m%d-s%d", i+1, j+1)
}

// Build converts an outline into a graph. topic labels the central node when
// the outline does not name one. An empty outline yields an empty graph.
// The result depends only on its inputs.
func Build(outline ParsedOutline, topic string, opts Options) Graph {
	if outline.IsEmpty() {
		return EmptyGraph()
	}
	opts = opts.withDefaults()

	central := outline.Central
	if central == "" {
		central = strings.TrimSpace(topic)
	}
	if central == "" {
		central = DefaultCentralLabel
	}

	ids := &idGen{scheme: opts.IDScheme}
	g := Graph{
		Nodes: make([]Node, 0, 1+len(outline.Entries)+outline.SubconceptCount()),
		Edges: make([]Edge, 0, len(outline.Entries)+outline.SubconceptCount()),
	}

	rootID := ids.root()
	g.Nodes = append(g.Nodes, Node{
		ID:         rootID,
		Type:       NodeTypeDefault,
		Position:   opts.Anchor,
		Data:       NodeData{Label: central},
		StyleClass: StyleCentral,
	})

	switch opts.Layout {
	case LayoutChained:
		buildChained(&g, outline.Entries, rootID, ids, opts)
	default:
		buildRadial(&g, outline.Entries, rootID, ids, opts)
	}
	return g
}

func buildRadial(g *Graph, entries []Entry, rootID string, ids *idGen, opts Options) {
	n := len(entries)
	for i, e := range entries {
		angle := -math.Pi/2 + 2*math.Pi*float64(i)/float64(n)
		mainPos := Position{
			X: round2(opts.Anchor.X + opts.MainRadius*math.Cos(angle)),
			Y: round2(opts.Anchor.Y + opts.MainRadius*math.Sin(angle)),
		}
		mainID := ids.main(i)
		g.Nodes = append(g.Nodes, Node{ID: mainID, Type: NodeTypeDefault, Position: mainPos, Data: NodeData{Label: e.Concept}, StyleClass: StyleMain})
		g.Edges = append(g.Edges, Edge{ID: EdgeID(rootID, mainID), Source: rootID, Target: mainID, Animated: true})

		m := len(e.Subconcepts)
		for j, sub := range e.Subconcepts {
			subAngle := angle
			if m > 1 {
				subAngle = angle - opts.SubSpread/2 + opts.SubSpread*float64(j)/float64(m-1)
			}
			pos := Position{
				X: round2(mainPos.X + opts.SubRadius*math.Cos(subAngle)),
				Y: round2(mainPos.Y + opts.SubRadius*math.Sin(subAngle)),
			}
			subID := ids.sub(i, j)
			g.Nodes = append(g.Nodes, Node{ID: subID, Type: NodeTypeDefault, Position: pos, Data: NodeData{Label: sub}, StyleClass: StyleSub})
			g.Edges = append(g.Edges, Edge{ID: EdgeID(mainID, subID), Source: mainID, Target: subID})
		}
	}
}

func buildChained(g *Graph, entries []Entry, rootID string, ids *idGen, opts Options) {
	prevID := rootID
	for i, e := range entries {
		mainPos := Position{
			X: round2(opts.Anchor.X + float64(i+1)*opts.MainSpacing),
			Y: round2(opts.Anchor.Y),
		}
		mainID := ids.main(i)
		g.Nodes = append(g.Nodes, Node{ID: mainID, Type: NodeTypeDefault, Position: mainPos, Data: NodeData{Label: e.Concept}, StyleClass: StyleMain})
		g.Edges = append(g.Edges, Edge{ID: EdgeID(prevID, mainID), Source: prevID, Target: mainID, Animated: true})

		for j, sub := range e.Subconcepts {
			// Even indices go above the parent, odd below, stepping outward.
			step := float64(j/2 + 1)
			sign := -1.0
			if j%2 == 1 {
				sign = 1.0
			}
			pos := Position{X: mainPos.X, Y: round2(mainPos.Y + sign*step*opts.SubOffset)}
			subID := ids.sub(i, j)
			g.Nodes = append(g.Nodes, Node{ID: subID, Type: NodeTypeDefault, Position: pos, Data: NodeData{Label: sub}, StyleClass: StyleSub})
			g.Edges = append(g.Edges, Edge{ID: EdgeID(mainID, subID), Source: mainID, Target: subID})
		}
		prevID = mainID
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
