package mindmap

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxLabelWords caps the number of words kept in a node label.
const MaxLabelWords = 3

// boilerplateWords are scaffolding words models echo back from the prompt
// ("Concept central", "Sous-concept") rather than content.
var boilerplateWords = map[string]bool{
	"concept": true, "concepts": true,
	"central": true, "centrale": true,
	"principal": true, "principale": true, "principaux": true,
	"sous-concept": true, "sous-concepts": true,
	"subconcept": true, "subconcepts": true,
	"sub-concept": true, "sub-concepts": true,
	"idée": true, "idées": true,
}

// stopWords are articles and short prepositions (FR/EN) that carry no label
// meaning. Single letters are kept so "Topic A" survives.
var stopWords = map[string]bool{
	"le": true, "la": true, "les": true, "un": true, "une": true,
	"des": true, "du": true, "de": true, "et": true, "au": true, "aux": true,
	"the": true, "an": true, "of": true, "and": true,
}

// SanitizeLabel turns a raw model-output fragment into a node label: bullet
// markers and markdown are stripped, boilerplate and stopwords removed, and
// the result is truncated to MaxLabelWords words. It never returns a label
// made of stopwords only; an empty string means the fragment had no content.
func SanitizeLabel(raw string) string {
	s := stripMarkers(raw)
	if s == "" {
		return ""
	}

	// "Prefix: description" keeps the prefix unless the prefix is only
	// scaffolding ("Concept central: Démocratie").
	if i := strings.IndexAny(s, ":："); i >= 0 {
		_, size := utf8.DecodeRuneInString(s[i:])
		prefix, suffix := s[:i], s[i+size:]
		if len(significant(prefix)) > 0 {
			s = prefix
		} else {
			s = stripMarkers(suffix)
		}
	}

	words := significant(s)
	if len(words) == 0 {
		// Nothing but stopwords: fall back to the plain words rather than
		// drop a concept the model clearly meant.
		words = plainWords(s)
	}
	if len(words) > MaxLabelWords {
		words = words[:MaxLabelWords]
	}
	return strings.Join(words, " ")
}

// stripMarkers removes leading bullets, list numbering, heading hashes and
// markdown emphasis.
func stripMarkers(s string) string {
	s = strings.TrimSpace(s)
	s = strings.NewReplacer("**", "", "__", "", "`", "").Replace(s)
	for {
		before := s
		s = strings.TrimLeft(s, "-*:•#> \t")
		s = stripNumbering(s)
		if s == before {
			break
		}
	}
	return strings.Trim(strings.TrimSpace(s), `"'«»“”`)
}

// stripNumbering removes an ordered-list prefix such as "1." or "2)".
func stripNumbering(s string) string {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == 0 || i >= len(s) || (s[i] != '.' && s[i] != ')') {
		return s
	}
	if i+1 < len(s) && s[i+1] != ' ' && s[i+1] != '\t' {
		return s
	}
	return strings.TrimSpace(s[i+1:])
}

// significant returns the words of s that are neither boilerplate nor
// stopwords, with surrounding punctuation and French elisions removed.
func significant(s string) []string {
	var out []string
	for _, w := range plainWords(s) {
		lower := strings.ToLower(w)
		if boilerplateWords[lower] || stopWords[lower] {
			continue
		}
		out = append(out, w)
	}
	return out
}

// plainWords splits s on whitespace and trims punctuation and elisions.
func plainWords(s string) []string {
	var out []string
	for _, w := range strings.Fields(s) {
		w = trimElision(strings.TrimFunc(w, unicode.IsPunct))
		if w == "" {
			continue
		}
		out = append(out, w)
	}
	return out
}

// trimElision strips French elided articles: "l'économie" -> "économie".
func trimElision(w string) string {
	lower := strings.ToLower(w)
	for _, p := range []string{"l'", "d'", "l’", "d’"} {
		if strings.HasPrefix(lower, p) && len(w) > len(p) {
			return w[len(p):]
		}
	}
	return w
}
