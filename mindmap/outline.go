package mindmap

import (
	"regexp"
	"strings"
)

// OutlineKind discriminates how an outline was recovered from a response.
type OutlineKind string

const (
	OutlineEmpty   OutlineKind = "empty"
	OutlineJSON    OutlineKind = "json"
	OutlineBullets OutlineKind = "bullets"
)

// Entry is one top-level concept with its sub-concepts.
type Entry struct {
	Concept     string   `json:"concept"`
	Subconcepts []string `json:"subconcepts"`
}

// ParsedOutline is the two-level structure extracted from a model response.
// Central is empty when the response did not name the overall topic.
type ParsedOutline struct {
	Kind    OutlineKind `json:"kind"`
	Central string      `json:"central,omitempty"`
	Entries []Entry     `json:"entries"`
}

// IsEmpty reports whether the outline carries nothing to draw.
func (o ParsedOutline) IsEmpty() bool {
	return o.Kind == OutlineEmpty || (o.Central == "" && len(o.Entries) == 0)
}

// SubconceptCount returns the total number of sub-concepts in the outline.
func (o ParsedOutline) SubconceptCount() int {
	n := 0
	for _, e := range o.Entries {
		n += len(e.Subconcepts)
	}
	return n
}

func emptyOutline() ParsedOutline {
	return ParsedOutline{Kind: OutlineEmpty}
}

// centralLineRe matches prose lines that name the central topic, e.g.
// "Concept central : La démocratie" or "Central topic - Climate".
var centralLineRe = regexp.MustCompile(`(?i)^(?:concept\s+central|central\s+(?:concept|topic|idea)|main\s+topic|sujet(?:\s+central)?|th[èe]me(?:\s+central)?|topic|title|titre)\s*[:：\-–]\s*(.+)$`)

// centralFromLine returns the central label named by line, if any.
func centralFromLine(line string) (string, bool) {
	m := centralLineRe.FindStringSubmatch(stripMarkers(line))
	if m == nil {
		return "", false
	}
	label := SanitizeLabel(m[1])
	return label, label != ""
}

// ParseBullets extracts an outline from text where lines starting with "-"
// are top-level concepts and lines starting with "*" are sub-concepts of the
// latest top-level concept. Any other line is ignored unless it names the
// central topic. Sub-concept lines seen before the first concept are dropped.
// A response that only names the central topic yields a central-only outline.
func ParseBullets(text string) ParsedOutline {
	out := ParsedOutline{Kind: OutlineBullets}
	current := -1

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || isRule(line) {
			continue
		}

		if out.Central == "" && !isBullet(line) {
			if c, ok := centralFromLine(line); ok {
				out.Central = c
				continue
			}
		}

		switch {
		case strings.HasPrefix(line, "**"):
			// Bold prose, not a bullet.
			continue
		case strings.HasPrefix(line, "-"):
			label := SanitizeLabel(line)
			if label == "" {
				current = -1
				continue
			}
			out.Entries = append(out.Entries, Entry{Concept: label, Subconcepts: []string{}})
			current = len(out.Entries) - 1
		case strings.HasPrefix(line, "*"):
			if current < 0 {
				continue
			}
			if label := SanitizeLabel(line); label != "" {
				out.Entries[current].Subconcepts = append(out.Entries[current].Subconcepts, label)
			}
		}
	}

	if len(out.Entries) == 0 && out.Central == "" {
		return emptyOutline()
	}
	return out
}

// isBullet reports whether line is a concept or sub-concept bullet. Bold
// prose ("**Topic:** ...") is not a bullet.
func isBullet(line string) bool {
	return strings.HasPrefix(line, "-") ||
		(strings.HasPrefix(line, "*") && !strings.HasPrefix(line, "**"))
}

// isRule reports whether line is a markdown horizontal rule ("---", "***").
func isRule(line string) bool {
	if len(line) < 3 {
		return false
	}
	return strings.Trim(line, "-") == "" || strings.Trim(line, "*") == "" || strings.Trim(line, "_") == ""
}
