package parse

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"groundline/internal/config"
	"groundline/internal/doc"
)

// wordCounter counts whitespace-separated words as tokens, keeping the
// tests independent of the BPE vocabulary.
type wordCounter struct{}

func (wordCounter) Count(text string) int {
	return len(strings.Fields(text))
}

func (wordCounter) Slice(text string, maxTokens int) []string {
	words := strings.Fields(text)
	if len(words) <= maxTokens {
		return []string{text}
	}
	var out []string
	for start := 0; start < len(words); start += maxTokens {
		end := start + maxTokens
		if end > len(words) {
			end = len(words)
		}
		out = append(out, strings.Join(words[start:end], " "))
	}
	return out
}

func testParser(t *testing.T, mutate func(*config.ParseConfig)) *Parser {
	t.Helper()
	cfg := config.Default().Parse
	if mutate != nil {
		mutate(&cfg)
	}
	return NewParser(cfg, wordCounter{}, nil)
}

func words(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("w%d", i)
	}
	return strings.Join(parts, " ")
}

func textDocument(lines ...string) *Document {
	page := Page{Number: 1}
	for _, l := range lines {
		page.Lines = append(page.Lines, Line{Text: l})
	}
	return &Document{Pages: []Page{page}}
}

func TestBuildTextChunksRespectsBudget(t *testing.T) {
	t.Parallel()
	p := testParser(t, func(c *config.ParseConfig) {
		c.MaxTokens = 10
		c.OverlapTokens = 3
	})

	d := textDocument(words(4), words(4), words(4), words(4))
	result := p.BuildChunks(d, doc.File{ID: "f1", Name: "a.md"})

	require.NotEmpty(t, result.Chunks)
	for _, c := range result.Chunks {
		assert.LessOrEqual(t, c.Tokens, 10)
		total := 0
		for _, u := range c.Units {
			total += len(strings.Fields(u.Text))
		}
		assert.Equal(t, total, c.Tokens)
	}
}

func TestBuildTextChunksOverlap(t *testing.T) {
	t.Parallel()
	p := testParser(t, func(c *config.ParseConfig) {
		c.MaxTokens = 10
		c.OverlapTokens = 4
	})

	d := textDocument(words(4), words(4), words(4), words(4), words(4))
	result := p.BuildChunks(d, doc.File{ID: "f1", Name: "a.md"})
	require.Greater(t, len(result.Chunks), 1)

	// Each non-final chunk shares its trailing units with the head of
	// the next chunk, covering at least the overlap budget.
	for i := 0; i < len(result.Chunks)-1; i++ {
		cur, next := result.Chunks[i], result.Chunks[i+1]
		nextIDs := make(map[string]bool)
		for _, u := range next.Units {
			nextIDs[u.ID] = true
		}
		shared := 0
		for _, u := range cur.Units {
			if nextIDs[u.ID] {
				shared += len(strings.Fields(u.Text))
			}
		}
		assert.GreaterOrEqual(t, shared, 4, "chunks %d/%d", i, i+1)
	}
}

func TestBuildTextChunksExactBudgetUnitNotSplit(t *testing.T) {
	t.Parallel()
	p := testParser(t, func(c *config.ParseConfig) {
		c.MaxTokens = 12
		c.OverlapTokens = 2
	})

	d := textDocument(words(12))
	result := p.BuildChunks(d, doc.File{ID: "f1", Name: "a.md"})

	require.Len(t, result.Chunks, 1)
	require.Len(t, result.Chunks[0].Units, 1)
	assert.Equal(t, 12, result.Chunks[0].Tokens)
	assert.Equal(t, "1", result.Chunks[0].Units[0].ID)
}

func TestBuildTextChunksOversizedUnitSplit(t *testing.T) {
	t.Parallel()
	p := testParser(t, func(c *config.ParseConfig) {
		c.MaxTokens = 5
		c.OverlapTokens = 1
	})

	d := textDocument(words(12))
	result := p.BuildChunks(d, doc.File{ID: "f1", Name: "a.md"})

	// 12 words sliced at 5 → units of 5, 5, 2 with contiguous ids.
	require.Len(t, result.Content, 3)
	assert.Contains(t, result.Content, "1")
	assert.Contains(t, result.Content, "2")
	assert.Contains(t, result.Content, "3")
	for _, u := range result.Content {
		assert.LessOrEqual(t, len(strings.Fields(u.Text)), 5)
		assert.Equal(t, 1, u.Location.Page)
	}
}

func TestBuildTextChunksNoEmptyParse(t *testing.T) {
	t.Parallel()
	p := testParser(t, nil)
	result := p.BuildChunks(&Document{}, doc.File{ID: "f1"})
	assert.Empty(t, result.Chunks)
	assert.Empty(t, result.Content)
}

func tableDocument(name string, rows [][]string) *Document {
	cells := make(map[string]doc.Cell)
	var lines []string
	maxCol := 0
	for _, row := range rows {
		if len(row) > maxCol {
			maxCol = len(row)
		}
	}
	for rowIdx, row := range rows {
		values := make([]string, maxCol)
		for colIdx := 0; colIdx < maxCol; colIdx++ {
			if colIdx < len(row) && row[colIdx] != "" {
				col := doc.ColLetter(colIdx + 1)
				cells[fmt.Sprintf("%s%d", col, rowIdx+1)] = doc.Cell{Value: row[colIdx], Row: rowIdx + 1, Col: col}
				values[colIdx] = row[colIdx]
			}
		}
		lines = append(lines, strings.Join(values, " | "))
	}
	return &Document{Sheets: []SheetData{{
		Name:       name,
		Text:       strings.Join(lines, "\n"),
		Cells:      cells,
		Dimensions: doc.Dimensions{MaxRow: len(rows), MaxCol: maxCol},
	}}}
}

func TestBuildTableChunksFitsUntruncated(t *testing.T) {
	t.Parallel()
	p := testParser(t, func(c *config.ParseConfig) {
		c.TableMaxTokens = 100
	})

	d := tableDocument("Revenue", [][]string{
		{"Metric", "Q1", "Q2"},
		{"Revenue", "10", "20"},
	})
	result := p.BuildChunks(d, doc.File{ID: "f1", Name: "a.xlsx"})

	require.Len(t, result.Chunks, 1)
	c := result.Chunks[0]
	require.NotNil(t, c.Slice)
	assert.False(t, c.Slice.Truncated)
	assert.Equal(t, "Revenue", c.Slice.Sheet)
	assert.Len(t, c.Units, 6)

	// Units arrive row-major.
	assert.Equal(t, "A1", c.Units[0].ID)
	assert.Equal(t, "B1", c.Units[1].ID)
	assert.Equal(t, "A2", c.Units[3].ID)

	sheet, ok := result.Sheets["Revenue"]
	require.True(t, ok)
	assert.Equal(t, 2, sheet.Dimensions.MaxRow)
	assert.Equal(t, 3, sheet.Dimensions.MaxCol)
}

func TestBuildTableChunksExactBudgetNotTruncated(t *testing.T) {
	t.Parallel()
	d := tableDocument("S", [][]string{{"a", "b"}, {"c", "d"}})
	sheetTokens := len(strings.Fields(d.Sheets[0].Text))

	// The pipe-rendered text tokenizes to exactly the budget.
	p := testParser(t, func(c *config.ParseConfig) {
		c.TableMaxTokens = sheetTokens
	})
	result := p.BuildChunks(d, doc.File{ID: "f1", Name: "a.csv"})
	require.Len(t, result.Chunks, 1)
	assert.False(t, result.Chunks[0].Slice.Truncated)
}

func TestBuildTableChunksTruncatesOverBudget(t *testing.T) {
	t.Parallel()
	p := testParser(t, func(c *config.ParseConfig) {
		c.TableMaxTokens = 4
	})

	rows := [][]string{
		{"alpha", "bravo"},
		{"charlie", "delta"},
		{"echo", "foxtrot"},
	}
	d := tableDocument("Big", rows)
	result := p.BuildChunks(d, doc.File{ID: "f1", Name: "a.xlsx"})

	require.Len(t, result.Chunks, 1)
	c := result.Chunks[0]
	assert.True(t, c.Slice.Truncated)
	assert.Less(t, len(c.Units), 6)
	assert.LessOrEqual(t, c.Tokens, 4)

	// The full sheet is retained regardless of truncation.
	sheet := result.Sheets["Big"]
	assert.Len(t, sheet.Cells, 6)
	assert.Greater(t, sheet.Tokens, 4)
}
