package mindmap

import (
	"errors"
	"fmt"
)

// StyleClass tags a node with its role in the mindmap. The renderer maps it to
// a CSS class.
type StyleClass string

const (
	StyleCentral StyleClass = "central"
	StyleMain    StyleClass = "main"
	StyleSub     StyleClass = "sub"
)

// Position is a 2D coordinate in renderer space.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// NodeData carries the renderer payload of a node.
type NodeData struct {
	Label string `json:"label"`
}

// NodeTypeDefault is the renderer node type used for every concept.
const NodeTypeDefault = "default"

// Node is a single concept in the graph.
type Node struct {
	ID         string     `json:"id"`
	Type       string     `json:"type"`
	Position   Position   `json:"position"`
	Data       NodeData   `json:"data"`
	StyleClass StyleClass `json:"className"`
}

// Label returns the display label of the node.
func (n Node) Label() string { return n.Data.Label }

// Edge links a parent node (Source) to a child node (Target).
type Edge struct {
	ID       string `json:"id"`
	Source   string `json:"source"`
	Target   string `json:"target"`
	Animated bool   `json:"animated"`
}

// Graph is the {nodes, edges} pair consumed by the graph renderer.
type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// EmptyGraph returns a graph with zero nodes and edges that encodes as
// {"nodes":[],"edges":[]}.
func EmptyGraph() Graph {
	return Graph{Nodes: []Node{}, Edges: []Edge{}}
}

// IsEmpty reports whether the graph has no nodes.
func (g Graph) IsEmpty() bool { return len(g.Nodes) == 0 }

// Layout selects the coordinate assignment strategy.
type Layout string

const (
	// LayoutRadial places main concepts on a circle around the center and
	// sub-concepts on a smaller arc around their parent.
	LayoutRadial Layout = "radial"
	// LayoutChained places main concepts in a horizontal chain, each linked to
	// the previous one, with sub-concepts alternating above and below.
	LayoutChained Layout = "chained"
)

// ParseLayout converts a configuration string into a Layout. An empty string
// selects the radial layout.
func ParseLayout(s string) (Layout, error) {
	switch Layout(s) {
	case "", LayoutRadial:
		return LayoutRadial, nil
	case LayoutChained:
		return LayoutChained, nil
	default:
		return "", fmt.Errorf("unknown layout: %s", s)
	}
}

// IDScheme selects how node IDs are generated.
type IDScheme string

const (
	// IDComposite derives IDs from the node's position in the outline
	// ("root", "m1", "m1-s2").
	IDComposite IDScheme = "composite"
	// IDSequential numbers nodes in emission order ("n0", "n1", ...). The
	// counter is local to one Build call.
	IDSequential IDScheme = "sequential"
)

// ParseIDScheme converts a configuration string into an IDScheme. An empty
// string selects the composite scheme.
func ParseIDScheme(s string) (IDScheme, error) {
	switch IDScheme(s) {
	case "", IDComposite:
		return IDComposite, nil
	case IDSequential:
		return IDSequential, nil
	default:
		return "", fmt.Errorf("unknown id scheme: %s", s)
	}
}

var (
	// ErrNodeNotFound is returned by graph edits that reference a missing node.
	ErrNodeNotFound = errors.New("mindmap: node not found")

	// ErrCentralNode is returned when an edit would remove the central node.
	ErrCentralNode = errors.New("mindmap: central node cannot be removed")

	// ErrInvalidGraph is wrapped by Validate for every invariant violation.
	ErrInvalidGraph = errors.New("mindmap: invalid graph")
)
