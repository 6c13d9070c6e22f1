package parse

import (
	"fmt"
	"sort"

	"groundline/internal/doc"
)

type countedUnit struct {
	unit   doc.Unit
	tokens int
}

// BuildChunks groups a parsed document into budget-bounded chunks and
// returns the complete parse output: the chunks, a unit lookup for
// citation resolution, and (for tables) the full sheets for truncated-
// chunk recovery.
func (p *Parser) BuildChunks(d *Document, file doc.File) doc.Parse {
	if d.IsTable() {
		return p.buildTableChunks(d, file)
	}
	return p.buildTextChunks(d, file)
}

// buildTextChunks packs text units sequentially. A chunk closes when
// the next unit would overflow the budget; packing then resumes behind
// the boundary so consecutive chunks share at least the overlap budget
// of trailing tokens (whole units only, never splitting a unit). The
// final chunk has no successor to overlap with.
func (p *Parser) buildTextChunks(d *Document, file doc.File) doc.Parse {
	content := make(map[string]doc.Unit)
	var all []countedUnit

	unitNum := 1
	for _, page := range d.Pages {
		for _, line := range page.Lines {
			// A single unit longer than the chunk budget is sliced into
			// synthetic units on token boundaries; slices keep the same
			// location and ids stay contiguous.
			for _, piece := range p.counter.Slice(line.Text, p.cfg.MaxTokens) {
				id := fmt.Sprintf("%d", unitNum)
				unit := doc.Unit{
					ID:   id,
					Type: doc.UnitText,
					Text: piece,
					Location: doc.Location{
						Page:   page.Number,
						Bounds: line.Bounds,
					},
				}
				all = append(all, countedUnit{unit: unit, tokens: p.counter.Count(piece)})
				content[id] = unit
				unitNum++
			}
		}
	}
	if len(all) == 0 {
		return doc.Parse{Content: map[string]doc.Unit{}, Sheets: map[string]doc.Sheet{}}
	}

	var chunks []doc.Chunk
	idx := 0
	for idx < len(all) {
		var units []doc.Unit
		tokens := 0
		startIdx := idx

		for idx < len(all) {
			cu := all[idx]
			if tokens+cu.tokens > p.cfg.MaxTokens && len(units) > 0 {
				break
			}
			units = append(units, cu.unit)
			tokens += cu.tokens
			idx++
		}
		if len(units) > 0 {
			chunks = append(chunks, doc.Chunk{File: file, Units: units, Tokens: tokens})
		}

		// Backtrack whole units until the overlap budget is covered.
		if idx < len(all) {
			overlap := 0
			back := idx
			for back > startIdx+1 {
				back--
				overlap += all[back].tokens
				if overlap >= p.cfg.OverlapTokens {
					break
				}
			}
			idx = back
		}
	}

	return doc.Parse{Chunks: chunks, Content: content, Sheets: map[string]doc.Sheet{}}
}

// buildTableChunks emits one chunk per sheet. A sheet over the table
// budget contributes a truncated prefix of its units; the full sheet is
// always retained for recovery at context-build time.
func (p *Parser) buildTableChunks(d *Document, file doc.File) doc.Parse {
	content := make(map[string]doc.Unit)
	sheets := make(map[string]doc.Sheet)
	var chunks []doc.Chunk

	for _, sd := range d.Sheets {
		units := make([]doc.Unit, 0, len(sd.Cells))
		for coord, cell := range sd.Cells {
			unit := doc.Unit{
				ID:   coord,
				Type: doc.UnitTable,
				Text: cell.Value,
				Location: doc.Location{
					Sheet: sd.Name,
					Row:   cell.Row,
					Col:   cell.Col,
				},
			}
			units = append(units, unit)
			content[coord] = unit
		}
		sort.Slice(units, func(i, j int) bool {
			a, b := units[i].Location, units[j].Location
			if a.Row != b.Row {
				return a.Row < b.Row
			}
			return doc.ColNumber(a.Col) < doc.ColNumber(b.Col)
		})

		sheetTokens := p.counter.Count(sd.Text)
		sheets[sd.Name] = doc.Sheet{
			Cells:      sd.Cells,
			Dimensions: sd.Dimensions,
			Tokens:     sheetTokens,
		}

		chunkUnits := units
		tokens := sheetTokens
		truncated := false
		if sheetTokens > p.cfg.TableMaxTokens {
			chunkUnits, tokens = p.truncateUnits(units, p.cfg.TableMaxTokens)
			truncated = true
		}

		chunks = append(chunks, doc.Chunk{
			File:   file,
			Units:  chunkUnits,
			Tokens: tokens,
			Slice:  &doc.Slice{Sheet: sd.Name, Truncated: truncated},
		})
	}

	return doc.Parse{Chunks: chunks, Content: content, Sheets: sheets}
}

// truncateUnits keeps a leading prefix of units whose cumulative tokens
// fit the budget.
func (p *Parser) truncateUnits(units []doc.Unit, maxTokens int) ([]doc.Unit, int) {
	var out []doc.Unit
	total := 0
	for _, u := range units {
		t := p.counter.Count(u.Text)
		if total+t > maxTokens && len(out) > 0 {
			break
		}
		out = append(out, u)
		total += t
	}
	return out, total
}
