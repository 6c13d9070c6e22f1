package parse

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"groundline/internal/doc"
)

func (p *Parser) parseExcel(path string) (*Document, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open workbook: %v", doc.ErrParse, err)
	}
	defer f.Close()

	d := &Document{}
	for _, sheetName := range f.GetSheetList() {
		iter, err := f.Rows(sheetName)
		if err != nil {
			continue
		}
		var rows [][]string
		for iter.Next() && len(rows) < p.cfg.TableMaxRows {
			cols, err := iter.Columns()
			if err != nil {
				iter.Close()
				return nil, fmt.Errorf("%w: read sheet %s: %v", doc.ErrParse, sheetName, err)
			}
			rows = append(rows, cols)
		}
		iter.Close()
		if len(rows) == 0 {
			continue
		}

		sheet := p.buildSheet(sheetName, rows)
		if sheet.Dimensions.MaxRow == 0 {
			continue
		}
		d.Sheets = append(d.Sheets, sheet)
	}
	return d, nil
}

// buildSheet scans row content bounds, renders the pipe text, and
// collects non-empty cells keyed by spreadsheet coordinate.
func (p *Parser) buildSheet(name string, rows [][]string) SheetData {
	maxRow, maxCol := p.tableBounds(rows)

	var lines []string
	cells := make(map[string]doc.Cell)
	for rowIdx := 0; rowIdx < maxRow && rowIdx < len(rows); rowIdx++ {
		row := rows[rowIdx]
		values := make([]string, maxCol)
		for colIdx := 0; colIdx < maxCol; colIdx++ {
			var raw string
			if colIdx < len(row) {
				raw = row[colIdx]
			}
			clean := cleanCell(raw)
			values[colIdx] = clean
			if clean != "" {
				col := doc.ColLetter(colIdx + 1)
				cells[fmt.Sprintf("%s%d", col, rowIdx+1)] = doc.Cell{
					Value: clean,
					Row:   rowIdx + 1,
					Col:   col,
				}
			}
		}
		lines = append(lines, strings.Join(values, " | "))
	}

	return SheetData{
		Name:       name,
		Text:       strings.Join(lines, "\n"),
		Cells:      cells,
		Dimensions: doc.Dimensions{MaxRow: maxRow, MaxCol: maxCol},
	}
}

// tableBounds finds the last row and column holding content, stopping
// early after TableEmptyRowLimit consecutive empty rows.
func (p *Parser) tableBounds(rows [][]string) (maxRow, maxCol int) {
	emptyStreak := 0
	for rowIdx, row := range rows {
		hasContent := false
		for colIdx, value := range row {
			if strings.TrimSpace(value) != "" {
				hasContent = true
				if colIdx+1 > maxCol {
					maxCol = colIdx + 1
				}
			}
		}
		if hasContent {
			maxRow = rowIdx + 1
			emptyStreak = 0
		} else {
			emptyStreak++
			if emptyStreak >= p.cfg.TableEmptyRowLimit {
				break
			}
		}
	}
	return maxRow, maxCol
}

func cleanCell(v string) string {
	v = strings.ReplaceAll(v, "\n", " ")
	v = strings.ReplaceAll(v, "\r", " ")
	return strings.TrimSpace(v)
}
