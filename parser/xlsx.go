package parser

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// maxTableRows caps the rows rendered per sheet or CSV file; the model only
// needs a sample to describe the data.
const maxTableRows = 200

// XLSXParser renders every visible sheet of a workbook as a markdown table.
type XLSXParser struct{}

func (p *XLSXParser) SupportedFormats() []string { return []string{"xlsx", "xlsm"} }

func (p *XLSXParser) Parse(ctx context.Context, path string) (*ParseResult, error) {
	wb, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening workbook: %w", err)
	}
	defer wb.Close()

	var sections []Section
	for _, sheet := range wb.GetSheetList() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if visible, err := wb.GetSheetVisible(sheet); err == nil && !visible {
			slog.Debug("parser: skipping hidden sheet", "path", path, "sheet", sheet)
			continue
		}

		rows, err := wb.GetRows(sheet)
		if err != nil {
			slog.Warn("parser: unreadable sheet", "path", path, "sheet", sheet, "error", err)
			continue
		}
		rows = compactRows(rows)
		if len(rows) == 0 {
			continue
		}

		sections = append(sections, Section{
			Heading: sheet,
			Content: markdownTable(rows, maxTableRows),
			Type:    "table",
			Level:   1,
			Metadata: map[string]string{
				"sheet_name": sheet,
				"row_count":  strconv.Itoa(len(rows)),
			},
		})
	}

	if len(sections) == 0 {
		return nil, ErrNoText
	}
	return &ParseResult{Sections: sections, Method: "native"}, nil
}

// compactRows trims cells and drops rows with no content. Spreadsheets often
// carry blank spacer rows between blocks.
func compactRows(rows [][]string) [][]string {
	out := rows[:0]
	for _, row := range rows {
		blank := true
		for i, cell := range row {
			row[i] = strings.TrimSpace(cell)
			if row[i] != "" {
				blank = false
			}
		}
		if !blank {
			out = append(out, row)
		}
	}
	return out
}
