// Package parser extracts text from uploaded documents and images so it can
// be analyzed or turned into a mindmap.
package parser

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
)

// ErrNoText is returned when a document yields no extractable text.
var ErrNoText = errors.New("parser: no text found")

// ParseResult is what a parser produces from a document file.
type ParseResult struct {
	Sections []Section         `json:"sections"`
	Method   string            `json:"method"` // "native" or "vision"
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Section represents a logical section of a parsed document.
type Section struct {
	Heading    string            `json:"heading,omitempty"`
	Content    string            `json:"content"`
	Level      int               `json:"level,omitempty"` // 1=top, 2=sub
	PageNumber int               `json:"page_number,omitempty"`
	Type       string            `json:"type"` // "section", "table", "paragraph", "image"
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Parser can parse a specific document format.
type Parser interface {
	Parse(ctx context.Context, path string) (*ParseResult, error)
	SupportedFormats() []string
}

// Text flattens the result to markdown-ish text: headings become "## "
// lines followed by their content.
func (r *ParseResult) Text() string {
	var b strings.Builder
	for _, s := range r.Sections {
		if s.Heading != "" {
			b.WriteString("## ")
			b.WriteString(s.Heading)
			b.WriteString("\n")
		}
		if s.Content != "" {
			b.WriteString(s.Content)
			b.WriteString("\n\n")
		}
	}
	return strings.TrimSpace(b.String())
}

// FormatOf returns the lower-case extension of path without the dot.
func FormatOf(path string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
}
