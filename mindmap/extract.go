package mindmap

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// codeBlockRe captures the body of markdown code fences in model output.
var codeBlockRe = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*\\n?(.*?)\\n?```")

// centralKeys are the normalized object keys that name the central topic.
var centralKeys = map[string]bool{
	"concept central": true, "central concept": true, "central topic": true,
	"central": true, "topic": true, "main topic": true,
	"sujet": true, "sujet central": true,
	"theme": true, "thème": true, "theme central": true, "thème central": true,
	"title": true, "titre": true,
}

func isCentralKey(k string) bool {
	k = strings.ToLower(strings.NewReplacer("_", " ", "-", " ").Replace(k))
	return centralKeys[strings.Join(strings.Fields(k), " ")]
}

// jsonCandidates returns every balanced {...} substring of raw in order of
// appearance, fenced blocks first. Braces inside JSON strings are ignored.
func jsonCandidates(raw string) []string {
	var sources []string
	for _, m := range codeBlockRe.FindAllStringSubmatch(raw, -1) {
		sources = append(sources, m[1])
	}
	sources = append(sources, raw)

	seen := make(map[string]bool)
	var out []string
	for _, src := range sources {
		for _, c := range balancedObjects(src) {
			if !seen[c] {
				seen[c] = true
				out = append(out, c)
			}
		}
	}
	return out
}

// balancedObjects scans s for top-level balanced brace groups.
func balancedObjects(s string) []string {
	var out []string
	for i := 0; i < len(s); i++ {
		if s[i] != '{' {
			continue
		}
		end := matchBrace(s, i)
		if end < 0 {
			continue
		}
		out = append(out, s[i:end+1])
		i = end
	}
	return out
}

// matchBrace returns the index of the brace closing the one at start, or -1.
func matchBrace(s string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// ParseJSON extracts an outline from a response that carries a JSON object
// whose keys are concepts and whose values are either the central topic
// (string) or sub-concepts (array of strings). Prose around the object and
// code fences are tolerated. When several objects are present, the first one
// holding a central-topic key wins; otherwise the first one yielding concepts.
func ParseJSON(text string) ParsedOutline {
	var fallback *ParsedOutline
	for _, c := range jsonCandidates(text) {
		o, hasCentralKey, ok := decodeObject([]byte(c))
		if !ok {
			continue
		}
		if hasCentralKey {
			return o
		}
		if fallback == nil && !o.IsEmpty() {
			fallback = &o
		}
	}
	if fallback != nil {
		return *fallback
	}
	return emptyOutline()
}

// ParseObject builds an outline from an already-decoded JSON object.
func ParseObject(raw json.RawMessage) ParsedOutline {
	o, _, ok := decodeObject(raw)
	if !ok {
		return emptyOutline()
	}
	return o
}

// decodeObject decodes one JSON object into an outline, keeping key order.
// ok is false when data is not an object or yields nothing to draw.
func decodeObject(data []byte) (o ParsedOutline, hasCentralKey bool, ok bool) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return emptyOutline(), false, false
	}

	om := orderedmap.New[string, json.RawMessage]()
	if err := json.Unmarshal(data, om); err != nil {
		return emptyOutline(), false, false
	}

	o = ParsedOutline{Kind: OutlineJSON}
	var firstString string
	collect(om, &o, &firstString, &hasCentralKey, true)

	if o.Central == "" && firstString != "" {
		o.Central = firstString
	}
	if o.IsEmpty() {
		return emptyOutline(), hasCentralKey, false
	}
	return o, hasCentralKey, true
}

// collect walks the object's pairs in order. Nested objects are flattened one
// level so {"Concepts": {"A": [...]}} reads like {"A": [...]}.
func collect(om *orderedmap.OrderedMap[string, json.RawMessage], o *ParsedOutline, firstString *string, hasCentralKey *bool, top bool) {
	for pair := om.Oldest(); pair != nil; pair = pair.Next() {
		key, val := pair.Key, bytes.TrimSpace(pair.Value)
		if len(val) == 0 {
			continue
		}

		switch val[0] {
		case '"':
			var s string
			if err := json.Unmarshal(val, &s); err != nil {
				continue
			}
			label := SanitizeLabel(s)
			if label == "" {
				continue
			}
			if isCentralKey(key) {
				*hasCentralKey = true
				if o.Central == "" {
					o.Central = label
				}
			} else if *firstString == "" {
				*firstString = label
			}

		case '[':
			subs := decodeStrings(val)
			if isCentralKey(key) {
				*hasCentralKey = true
				if o.Central == "" && len(subs) > 0 {
					o.Central = subs[0]
				}
				continue
			}
			concept := SanitizeLabel(key)
			if concept == "" {
				continue
			}
			o.Entries = append(o.Entries, Entry{Concept: concept, Subconcepts: subs})

		case '{':
			if !top {
				continue
			}
			nested := orderedmap.New[string, json.RawMessage]()
			if err := json.Unmarshal(val, nested); err != nil {
				continue
			}
			collect(nested, o, firstString, hasCentralKey, false)
		}
	}
}

// decodeStrings decodes a JSON array keeping only its non-empty string
// elements, sanitized.
func decodeStrings(val json.RawMessage) []string {
	var items []json.RawMessage
	if err := json.Unmarshal(val, &items); err != nil {
		return []string{}
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		var s string
		if err := json.Unmarshal(it, &s); err != nil {
			continue
		}
		if label := SanitizeLabel(s); label != "" {
			out = append(out, label)
		}
	}
	return out
}
