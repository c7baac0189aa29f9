package mindmap

import "fmt"

func (g *Graph) indexOf(id string) int {
	for i := range g.Nodes {
		if g.Nodes[i].ID == id {
			return i
		}
	}
	return -1
}

// Central returns the central node, if the graph has one.
func (g Graph) Central() (Node, bool) {
	for _, n := range g.Nodes {
		if n.StyleClass == StyleCentral {
			return n, true
		}
	}
	return Node{}, false
}

// MoveNode repositions a node, as when the user drags it.
func (g *Graph) MoveNode(id string, pos Position) error {
	i := g.indexOf(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	g.Nodes[i].Position = pos
	return nil
}

// RemoveNode deletes a node together with its subtree and every edge touching
// a removed node, so the remaining graph is still a tree. When a main concept
// is removed from a chain, the next main concept is linked to the removed
// node's parent instead of being dropped with it. The central node cannot be
// removed. It returns the IDs of the removed nodes.
func (g *Graph) RemoveNode(id string) ([]string, error) {
	i := g.indexOf(id)
	if i < 0 {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	target := g.Nodes[i]
	if target.StyleClass == StyleCentral {
		return nil, ErrCentralNode
	}

	style := make(map[string]StyleClass, len(g.Nodes))
	for _, n := range g.Nodes {
		style[n.ID] = n.StyleClass
	}
	parent := ""
	children := make(map[string][]string)
	for _, e := range g.Edges {
		children[e.Source] = append(children[e.Source], e.Target)
		if e.Target == id {
			parent = e.Source
		}
	}

	var relinked []string
	removed := map[string]bool{id: true}
	order := []string{id}
	for k := 0; k < len(order); k++ {
		for _, c := range children[order[k]] {
			if removed[c] {
				continue
			}
			if k == 0 && target.StyleClass == StyleMain && style[c] == StyleMain && parent != "" {
				relinked = append(relinked, c)
				continue
			}
			removed[c] = true
			order = append(order, c)
		}
	}

	nodes := g.Nodes[:0]
	for _, n := range g.Nodes {
		if !removed[n.ID] {
			nodes = append(nodes, n)
		}
	}
	g.Nodes = nodes

	edges := g.Edges[:0]
	for _, e := range g.Edges {
		if !removed[e.Source] && !removed[e.Target] {
			edges = append(edges, e)
		}
	}
	for _, c := range relinked {
		edges = append(edges, Edge{ID: EdgeID(parent, c), Source: parent, Target: c, Animated: true})
	}
	g.Edges = edges

	return order, nil
}

// Validate checks the tree invariants: unique node IDs, exactly one central
// node, edges between existing nodes, one incoming edge per non-central node
// and every node reachable from the center. An empty graph is valid.
func (g Graph) Validate() error {
	if len(g.Nodes) == 0 {
		if len(g.Edges) != 0 {
			return fmt.Errorf("%w: edges without nodes", ErrInvalidGraph)
		}
		return nil
	}

	ids := make(map[string]bool, len(g.Nodes))
	rootID := ""
	for _, n := range g.Nodes {
		if ids[n.ID] {
			return fmt.Errorf("%w: duplicate node id %q", ErrInvalidGraph, n.ID)
		}
		ids[n.ID] = true
		if n.StyleClass == StyleCentral {
			if rootID != "" {
				return fmt.Errorf("%w: more than one central node", ErrInvalidGraph)
			}
			rootID = n.ID
		}
	}
	if rootID == "" {
		return fmt.Errorf("%w: no central node", ErrInvalidGraph)
	}

	incoming := make(map[string]int, len(g.Nodes))
	children := make(map[string][]string)
	for _, e := range g.Edges {
		if !ids[e.Source] || !ids[e.Target] {
			return fmt.Errorf("%w: edge %q references a missing node", ErrInvalidGraph, e.ID)
		}
		incoming[e.Target]++
		children[e.Source] = append(children[e.Source], e.Target)
	}
	for id := range ids {
		want := 1
		if id == rootID {
			want = 0
		}
		if incoming[id] != want {
			return fmt.Errorf("%w: node %q has %d incoming edges", ErrInvalidGraph, id, incoming[id])
		}
	}

	seen := map[string]bool{rootID: true}
	queue := []string{rootID}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, c := range children[cur] {
			if !seen[c] {
				seen[c] = true
				queue = append(queue, c)
			}
		}
	}
	if len(seen) != len(ids) {
		return fmt.Errorf("%w: %d nodes unreachable from center", ErrInvalidGraph, len(ids)-len(seen))
	}
	return nil
}
