package parser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// TextParser handles plain text and markdown files. Markdown is split on
// "#" headings.
type TextParser struct{}

func (p *TextParser) SupportedFormats() []string { return []string{"txt", "md", "markdown"} }

func (p *TextParser) Parse(ctx context.Context, path string) (*ParseResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading text file: %w", err)
	}

	content := strings.TrimSpace(string(data))
	if content == "" {
		return nil, ErrNoText
	}

	if FormatOf(path) != "txt" {
		if sections := splitMarkdown(content); len(sections) > 0 {
			return &ParseResult{Sections: sections, Method: "native"}, nil
		}
	}

	return &ParseResult{
		Sections: []Section{{
			Heading: filepath.Base(path),
			Content: content,
			Level:   1,
			Type:    "paragraph",
		}},
		Method: "native",
	}, nil
}

// splitMarkdown cuts markdown text into one section per ATX heading. Text
// before the first heading becomes an untitled section.
func splitMarkdown(text string) []Section {
	var sections []Section
	var body strings.Builder
	heading, level := "", 0

	flush := func() {
		c := strings.TrimSpace(body.String())
		if c != "" || heading != "" {
			sections = append(sections, Section{Heading: heading, Content: c, Level: level, Type: "section"})
		}
		body.Reset()
	}

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if n := markdownLevel(trimmed); n > 0 {
			flush()
			heading = strings.TrimSpace(trimmed[n:])
			level = n
			continue
		}
		body.WriteString(line)
		body.WriteString("\n")
	}
	flush()
	return sections
}

// markdownLevel returns the heading level of an ATX heading line, or 0.
func markdownLevel(line string) int {
	n := 0
	for n < len(line) && line[n] == '#' {
		n++
	}
	if n == 0 || n > 6 || n >= len(line) || line[n] != ' ' {
		return 0
	}
	return n
}
