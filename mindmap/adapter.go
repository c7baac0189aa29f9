package mindmap

import (
	"encoding/json"
	"log/slog"
)

// Response is an upstream model reply. Object is set when the upstream
// already returned a decoded JSON object; Text holds the raw completion.
type Response struct {
	Text   string          `json:"text,omitempty"`
	Object json.RawMessage `json:"object,omitempty"`
}

// Result is the adapter output: the graph plus the outline it was built from.
type Result struct {
	Graph   Graph         `json:"graph"`
	Outline ParsedOutline `json:"outline"`
}

// ParseResponse selects the parser variant from the shape of the response: a
// decoded object or a JSON object embedded in the text goes through the JSON
// variant, anything else through the bullet variant.
func ParseResponse(r Response) ParsedOutline {
	if len(r.Object) > 0 {
		if o := ParseObject(r.Object); !o.IsEmpty() {
			return o
		}
	}
	if r.Text == "" {
		return emptyOutline()
	}
	if o := ParseJSON(r.Text); !o.IsEmpty() {
		return o
	}
	return ParseBullets(r.Text)
}

// Adapt runs the whole transformation: response -> outline -> graph. It never
// fails; unusable input produces an empty graph.
func Adapt(r Response, topic string, opts Options) Result {
	outline := ParseResponse(r)
	if outline.IsEmpty() {
		slog.Warn("mindmap: no diagram produced", "topic", topic, "text_len", len(r.Text))
		return Result{Graph: EmptyGraph(), Outline: outline}
	}

	g := Build(outline, topic, opts)
	slog.Debug("mindmap: graph built",
		"kind", outline.Kind,
		"nodes", len(g.Nodes),
		"edges", len(g.Edges),
		"layout", opts.Layout)
	return Result{Graph: g, Outline: outline}
}
