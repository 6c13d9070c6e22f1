package doc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestColLetter(t *testing.T) {
	t.Parallel()
	cases := map[int]string{
		1:   "A",
		2:   "B",
		26:  "Z",
		27:  "AA",
		28:  "AB",
		52:  "AZ",
		53:  "BA",
		702: "ZZ",
		703: "AAA",
	}
	for n, want := range cases {
		assert.Equal(t, want, ColLetter(n), "n=%d", n)
	}
}

func TestColNumberRoundTrip(t *testing.T) {
	t.Parallel()
	for n := 1; n <= 800; n++ {
		assert.Equal(t, n, ColNumber(ColLetter(n)))
	}
}

func TestColNumberInvalid(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 0, ColNumber("A1"))
	assert.Equal(t, 0, ColNumber(""))
}

func TestResponseConstructors(t *testing.T) {
	t.Parallel()

	text := NewText([]Item{{Text: "hello", Tags: []string{"1"}}})
	assert.Equal(t, FormatText, text.Type)
	assert.Len(t, text.Items, 1)
	assert.Empty(t, text.Rows)

	table := NewTable([]Row{{Cells: []Item{{Text: "a"}}}})
	assert.Equal(t, FormatTable, table.Type)
	assert.Len(t, table.Rows, 1)

	chart := NewChart(nil, ChartPie)
	assert.Equal(t, FormatChart, chart.Type)
	assert.Equal(t, ChartPie, chart.Chart)
}
