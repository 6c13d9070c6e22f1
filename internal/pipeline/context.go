// Package pipeline implements the section-processing core: context
// assembly, response parsing, and citation scoring, orchestrated
// end-to-end by Pipeline.
package pipeline

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"groundline/internal/doc"
)

// Builder assembles the numbered prompt context from selected matches
// and issues the global citation ids the generator will cite.
type Builder struct {
	maxTokens int
	lineGap   int
}

// NewBuilder returns a context builder with the given token budget and
// line-gap threshold for continuation separators.
func NewBuilder(maxTokens, lineGap int) *Builder {
	return &Builder{maxTokens: maxTokens, lineGap: lineGap}
}

// SheetMap resolves fileID → sheetName → Sheet for truncated-table
// recovery.
type SheetMap map[string]map[string]doc.Sheet

// Build selects matches under the token budget, renders the numbered
// context, and returns it with the global-id → Source map. Rendering is
// deterministic given the matches and sheet map.
func (b *Builder) Build(matches []doc.Match, sheets SheetMap) (string, map[string]doc.Source) {
	if len(matches) == 0 {
		return "", map[string]doc.Source{}
	}

	selected, total := b.selectByBudget(matches, sheets)
	log.Info().Int("selected", len(selected)).Int("candidates", len(matches)).Int("tokens", total).Msg("context_selected")

	ordered := orderForPresentation(selected)
	return b.render(ordered, sheets)
}

// selectByBudget takes matches in descending score order while they fit
// the budget. A truncated table match is costed at its full sheet's
// token count since rendering will expand it. The first non-fitting
// match stops selection; later, smaller matches are not considered.
func (b *Builder) selectByBudget(matches []doc.Match, sheets SheetMap) ([]doc.Match, int) {
	sorted := make([]doc.Match, len(matches))
	copy(sorted, matches)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })

	var selected []doc.Match
	total := 0
	for _, m := range sorted {
		tokens := m.Tokens
		if m.Slice != nil && m.Slice.Truncated {
			if sheet, ok := sheets[m.File.ID][m.Slice.Sheet]; ok {
				tokens = sheet.Tokens
			}
		}
		if total+tokens > b.maxTokens {
			break
		}
		selected = append(selected, m)
		total += tokens
	}
	return selected, total
}

// orderForPresentation groups matches by file (files in descending
// max-score order) and orders matches within a file by their position
// in the source: text by first unit's page then id, tables by sheet
// then first row.
func orderForPresentation(matches []doc.Match) []doc.Match {
	type fileGroup struct {
		id       string
		maxScore float64
		matches  []doc.Match
	}
	groups := make(map[string]*fileGroup)
	var order []string
	for _, m := range matches {
		g, ok := groups[m.File.ID]
		if !ok {
			g = &fileGroup{id: m.File.ID}
			groups[m.File.ID] = g
			order = append(order, m.File.ID)
		}
		if m.Score > g.maxScore {
			g.maxScore = m.Score
		}
		g.matches = append(g.matches, m)
	}

	sort.SliceStable(order, func(i, j int) bool {
		return groups[order[i]].maxScore > groups[order[j]].maxScore
	})

	var out []doc.Match
	for _, fid := range order {
		g := groups[fid]
		sort.SliceStable(g.matches, func(i, j int) bool {
			return matchPosition(g.matches[i]).less(matchPosition(g.matches[j]))
		})
		out = append(out, g.matches...)
	}
	return out
}

type position struct {
	sheet string
	page  int
	row   int
	id    int
}

func (p position) less(q position) bool {
	if p.sheet != q.sheet {
		return p.sheet < q.sheet
	}
	if p.page != q.page {
		return p.page < q.page
	}
	if p.row != q.row {
		return p.row < q.row
	}
	return p.id < q.id
}

func matchPosition(m doc.Match) position {
	if len(m.Units) == 0 {
		return position{}
	}
	u := m.Units[0]
	pos := position{sheet: u.Location.Sheet, page: u.Location.Page, row: u.Location.Row}
	if n, err := strconv.Atoi(u.ID); err == nil {
		pos.id = n
	}
	return pos
}

// render walks the ordered matches and emits one bracketed line per
// unit (the cells of one table row share a global id), assigning global
// ids and recording the Source map.
func (b *Builder) render(matches []doc.Match, sheets SheetMap) (string, map[string]doc.Source) {
	var lines []string
	sources := make(map[string]doc.Source)

	globalID := 1
	currentFile := ""
	lastSheet := ""
	lastLine := -1
	seenText := make(map[string]bool) // file_id + unit id
	seenRow := make(map[string]bool)  // file_id + sheet + row

	for _, m := range matches {
		if m.File.ID != currentFile {
			lines = append(lines, b.fileHeader(m)...)
			currentFile = m.File.ID
			lastSheet = ""
			lastLine = -1
		}

		units := m.Units
		// A truncated table match is replaced by the full sheet's cells
		// in row-major order.
		if m.Slice != nil && m.Slice.Truncated {
			if sheet, ok := sheets[m.File.ID][m.Slice.Sheet]; ok {
				units = sheetUnits(m.Slice.Sheet, sheet)
			}
		}

		currentRow := -1
		rowSkipped := false
		for _, u := range units {
			if u.Text == "" {
				continue
			}
			switch u.Type {
			case doc.UnitTable:
				if u.Location.Sheet != lastSheet {
					lines = append(lines, "", fmt.Sprintf("--- Sheet: %s ---", u.Location.Sheet))
					lastSheet = u.Location.Sheet
					currentRow = -1
				}
				if u.Location.Row != currentRow {
					// Row boundary: decide once per row whether it was
					// already emitted by an earlier match.
					rowKey := m.File.ID + "\x00" + u.Location.Sheet + "\x00" + strconv.Itoa(u.Location.Row)
					if currentRow != -1 && !rowSkipped {
						globalID++
					}
					currentRow = u.Location.Row
					rowSkipped = seenRow[rowKey]
					seenRow[rowKey] = true
				}
				if rowSkipped {
					continue
				}
				key := fmt.Sprintf("%d%s", globalID, u.Location.Col)
				lines = append(lines, fmt.Sprintf("[%s]: %s", key, u.Text))
				sources[key] = doc.Source{Unit: u, File: m.File, Meta: m.Meta}

			default:
				unitKey := m.File.ID + "\x00" + u.ID
				if seenText[unitKey] {
					continue
				}
				seenText[unitKey] = true

				if n, err := strconv.Atoi(u.ID); err == nil {
					if lastLine >= 0 && n > lastLine+b.lineGap {
						lines = append(lines, "", fmt.Sprintf("--- Continuing from line %d ---", n))
					}
					lastLine = n
				}

				key := strconv.Itoa(globalID)
				lines = append(lines, fmt.Sprintf("[%s] %s", key, u.Text))
				sources[key] = doc.Source{Unit: u, File: m.File, Meta: m.Meta}
				globalID++
			}
		}
		if currentRow != -1 && !rowSkipped {
			globalID++
		}
	}

	return strings.Join(lines, "\n"), sources
}

// fileHeader renders the document header emitted before a file's first
// match: name, metadata line, URL for web files, and summary blurb.
func (b *Builder) fileHeader(m doc.Match) []string {
	lines := []string{"", "### " + m.File.Name}

	var parts []string
	if m.Meta.Company != "" || m.Meta.Ticker != "" {
		company := m.Meta.Company
		if m.Meta.Ticker != "" {
			company = fmt.Sprintf("%s (%s)", m.Meta.Company, m.Meta.Ticker)
		}
		parts = append(parts, "**"+company+"**")
	}
	if m.Meta.DocType != "" {
		parts = append(parts, m.Meta.DocType)
	}
	if m.Meta.PeriodLabel != "" {
		parts = append(parts, m.Meta.PeriodLabel)
	}
	if len(parts) > 0 {
		lines = append(lines, strings.Join(parts, " | "))
	}
	if strings.HasPrefix(m.File.Name, "http") {
		lines = append(lines, "URL: "+m.File.Name)
	}
	if m.Meta.Blurb != "" {
		lines = append(lines, "", "Summary: "+m.Meta.Blurb)
	}
	return append(lines, "")
}

// sheetUnits converts a stored sheet back to row-major table units.
func sheetUnits(sheetName string, sheet doc.Sheet) []doc.Unit {
	units := make([]doc.Unit, 0, len(sheet.Cells))
	for coord, cell := range sheet.Cells {
		units = append(units, doc.Unit{
			ID:   coord,
			Type: doc.UnitTable,
			Text: cell.Value,
			Location: doc.Location{
				Sheet: sheetName,
				Row:   cell.Row,
				Col:   cell.Col,
			},
		})
	}
	sort.Slice(units, func(i, j int) bool {
		a, b := units[i].Location, units[j].Location
		if a.Row != b.Row {
			return a.Row < b.Row
		}
		return doc.ColNumber(a.Col) < doc.ColNumber(b.Col)
	})
	return units
}

// FormatResponse pipe-renders a response for the analysis call: text
// items joined by newline, table and chart rows pipe-separated.
func FormatResponse(r doc.Response) string {
	switch r.Type {
	case doc.FormatTable, doc.FormatChart:
		lines := make([]string, 0, len(r.Rows))
		for _, row := range r.Rows {
			cells := make([]string, len(row.Cells))
			for i, c := range row.Cells {
				cells[i] = c.Text
			}
			lines = append(lines, strings.Join(cells, " | "))
		}
		return strings.Join(lines, "\n")
	default:
		lines := make([]string, 0, len(r.Items))
		for _, item := range r.Items {
			lines = append(lines, item.Text)
		}
		return strings.Join(lines, "\n")
	}
}

// DependentResult is a previously-computed section handed in as prompt
// context for a dependent section.
type DependentResult struct {
	SectionID   string `json:"section_id"`
	SectionName string `json:"section_name"`
	SectionType string `json:"section_type"`
	Response    string `json:"response"`
}

// FormatDependentSections renders prior section results for the
// generation prompt. Table and chart responses arrive as raw JSON and
// are converted to pipe text. Returns "" when nothing is usable.
func FormatDependentSections(deps []DependentResult) string {
	var blocks []string
	for _, dep := range deps {
		response := strings.TrimSpace(dep.Response)
		if response == "" {
			continue
		}
		if dep.SectionType == string(doc.FormatTable) || dep.SectionType == string(doc.FormatChart) {
			response = jsonTableToPipes(response)
		}
		blocks = append(blocks, fmt.Sprintf("    • %s:\n%s", dep.SectionName, response))
	}
	return strings.Join(blocks, "\n")
}

func jsonTableToPipes(raw string) string {
	parsed, err := decodeTableJSON(raw)
	if err != nil || len(parsed.Rows) == 0 {
		return raw
	}
	lines := make([]string, 0, len(parsed.Rows))
	for _, row := range parsed.Rows {
		cells := make([]string, len(row.Cells))
		for i, c := range row.Cells {
			cells[i] = c.Text
		}
		lines = append(lines, strings.Join(cells, " | "))
	}
	return strings.Join(lines, "\n")
}
