package parser

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// CSVParser renders a CSV file as a markdown table. The delimiter is
// guessed from the header line (comma, semicolon or tab).
type CSVParser struct{}

func (p *CSVParser) SupportedFormats() []string { return []string{"csv", "tsv"} }

func (p *CSVParser) Parse(ctx context.Context, path string) (*ParseResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading CSV: %w", err)
	}
	text := strings.TrimPrefix(string(data), "\ufeff")
	if strings.TrimSpace(text) == "" {
		return nil, ErrNoText
	}

	r := csv.NewReader(strings.NewReader(text))
	r.Comma = guessDelimiter(text)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var rows [][]string
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parsing CSV: %w", err)
		}
		rows = append(rows, rec)
	}

	return &ParseResult{
		Sections: []Section{{
			Heading: filepath.Base(path),
			Content: markdownTable(rows, maxTableRows),
			Type:    "table",
			Level:   1,
			Metadata: map[string]string{
				"row_count": strconv.Itoa(len(rows)),
			},
		}},
		Method: "native",
	}, nil
}

func guessDelimiter(text string) rune {
	header, _, _ := strings.Cut(text, "\n")
	best, bestCount := ',', strings.Count(header, ",")
	for _, d := range []rune{';', '\t'} {
		if n := strings.Count(header, string(d)); n > bestCount {
			best, bestCount = d, n
		}
	}
	return best
}

// markdownTable renders rows with the first row as header. Rows beyond
// limit are summarized in a trailing line.
func markdownTable(rows [][]string, limit int) string {
	if len(rows) == 0 {
		return ""
	}
	width := 0
	for _, row := range rows {
		width = max(width, len(row))
	}

	var b strings.Builder
	writeRow := func(row []string) {
		cells := make([]string, width)
		for i := range cells {
			if i < len(row) {
				cells[i] = strings.ReplaceAll(strings.TrimSpace(row[i]), "|", `\|`)
			}
		}
		b.WriteString("| " + strings.Join(cells, " | ") + " |\n")
	}

	writeRow(rows[0])
	b.WriteString("|" + strings.Repeat(" --- |", width) + "\n")
	shown := rows[1:]
	if len(shown) > limit {
		shown = shown[:limit]
	}
	for _, row := range shown {
		writeRow(row)
	}
	if rest := len(rows) - 1 - len(shown); rest > 0 {
		fmt.Fprintf(&b, "\n(%d more rows)\n", rest)
	}
	return strings.TrimRight(b.String(), "\n")
}
