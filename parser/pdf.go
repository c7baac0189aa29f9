package parser

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/ledongthuc/pdf"
)

// PDFParser extracts the text layer of PDF files page by page. Scanned PDFs
// without a text layer yield ErrNoText.
type PDFParser struct{}

func (p *PDFParser) SupportedFormats() []string { return []string{"pdf"} }

func (p *PDFParser) Parse(ctx context.Context, path string) (*ParseResult, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer f.Close()

	totalPages := reader.NumPage()
	var sections []Section

	for i := 1; i <= totalPages; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			// Skip pages that fail to extract
			continue
		}

		sections = append(sections, splitPageIntoSections(text, i)...)
	}

	if len(sections) == 0 {
		return nil, ErrNoText
	}

	return &ParseResult{
		Sections: sections,
		Method:   "native",
		Metadata: map[string]string{"pages": strconv.Itoa(totalPages)},
	}, nil
}

// splitPageIntoSections breaks page text into sections at lines that look
// like headings.
func splitPageIntoSections(text string, pageNum int) []Section {
	var sections []Section
	var body strings.Builder
	heading, level := "", 0

	flush := func() {
		c := strings.TrimSpace(body.String())
		if c != "" {
			sections = append(sections, Section{
				Heading:    heading,
				Content:    c,
				Level:      level,
				PageNumber: pageNum,
				Type:       sectionType(c),
			})
		}
		body.Reset()
	}

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if isLikelyHeading(trimmed) {
			flush()
			heading, level = trimmed, headingLevel(trimmed)
			continue
		}
		body.WriteString(trimmed)
		body.WriteString("\n")
	}
	flush()
	return sections
}

// headingPrefixes start a heading line in English or French documents.
var headingPrefixes = []string{
	"chapter ", "part ", "section ", "article ", "annex ", "appendix ",
	"chapitre ", "partie ", "annexe ", "titre ",
}

func isLikelyHeading(line string) bool {
	if len(line) < 3 || len(line) >= 100 {
		return false
	}
	if isUpperLine(line) {
		return true
	}
	if numberedPrefix(line) > 0 {
		return true
	}
	lower := strings.ToLower(line)
	for _, p := range headingPrefixes {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	return false
}

// isUpperLine reports whether line has letters and all of them are upper
// case ("INTRODUCTION", "ÉTAT DE L'ART").
func isUpperLine(line string) bool {
	letters := 0
	for _, r := range line {
		if unicode.IsLetter(r) {
			if !unicode.IsUpper(r) {
				return false
			}
			letters++
		}
	}
	return letters >= 3
}

// numberedPrefix returns the depth of a "1.", "2.3" or "4.1.2" prefix
// followed by a space, or 0.
func numberedPrefix(line string) int {
	first, _, ok := strings.Cut(line, " ")
	if !ok || first == "" || first[0] < '0' || first[0] > '9' {
		return 0
	}
	parts := strings.Split(strings.TrimSuffix(first, "."), ".")
	for _, p := range parts {
		if _, err := strconv.Atoi(p); err != nil {
			return 0
		}
	}
	if len(parts) == 1 && !strings.HasSuffix(first, ".") {
		return 0
	}
	return len(parts)
}

func headingLevel(heading string) int {
	if n := numberedPrefix(heading); n > 0 {
		return n
	}
	if isUpperLine(heading) {
		return 1
	}
	return 2
}

// sectionType marks content laid out in columns as a table.
func sectionType(content string) string {
	if strings.Count(content, "\t") > 3 || strings.Count(content, "|") > 3 {
		return "table"
	}
	return "section"
}
