package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"groundline/internal/doc"
	"groundline/internal/index"
)

func TestExpandTagPlain(t *testing.T) {
	t.Parallel()
	assert.Equal(t, []string{"12"}, ExpandTag("12"))
	assert.Equal(t, []string{"45B"}, ExpandTag("45B"))
}

func TestExpandTagNumericRange(t *testing.T) {
	t.Parallel()
	assert.Equal(t, []string{"45", "46", "47"}, ExpandTag("45-47"))
	assert.Equal(t, []string{"3"}, ExpandTag("3-3"))
}

func TestExpandTagLetterRange(t *testing.T) {
	t.Parallel()
	// Equal trailing letters expand; mixed letters never do.
	assert.Equal(t, []string{"45A", "46A", "47A"}, ExpandTag("45A-47A"))
	assert.Nil(t, ExpandTag("45A-45C"))
}

func TestExpandTagRejectsReversedAndMalformed(t *testing.T) {
	t.Parallel()
	assert.Nil(t, ExpandTag("47-45"))
	assert.Nil(t, ExpandTag("1-2-3"))
	assert.Nil(t, ExpandTag("a-b"))
}

func TestGroupTagsSequentialRuns(t *testing.T) {
	t.Parallel()
	groups := groupTags([]string{"45", "46", "47", "12", "99B"})
	require.Len(t, groups, 3)
	assert.Equal(t, []string{"45", "46", "47"}, groups[0].tags)
	assert.Equal(t, []string{"12"}, groups[1].tags)
	assert.Equal(t, []string{"99B"}, groups[2].tags)
}

func TestGroupTagsAllSingletons(t *testing.T) {
	t.Parallel()
	groups := groupTags([]string{"45B", "45C"})
	require.Len(t, groups, 2)
	assert.Equal(t, []string{"45B"}, groups[0].tags)
	assert.Equal(t, []string{"45C"}, groups[1].tags)
}

func testSources() map[string]doc.Source {
	file := doc.File{ID: "f1", Name: "report.pdf"}
	src := func(id, text string) doc.Source {
		return doc.Source{
			Unit: doc.Unit{ID: id, Type: doc.UnitText, Text: text, Location: doc.Location{Page: 1}},
			File: file,
		}
	}
	return map[string]doc.Source{
		"12": src("12", "Revenue in Q4 2024 was $47.5B."),
		"45": src("45", "Costs grew modestly."),
		"46": src("46", "Margins expanded."),
		"47": src("47", "Cash flow was strong."),
	}
}

func newTestScorer() *Scorer {
	return NewScorer(index.NewDeterministic(64), 0.30)
}

func TestScoreResponseTextWithBoost(t *testing.T) {
	t.Parallel()
	scorer := newTestScorer()

	response := doc.NewText([]doc.Item{
		{Text: "Revenue rose to $47.5B.", Tags: []string{"12"}},
	})
	citations := scorer.ScoreResponse(t.Context(), &response, testSources())

	// Tags rewritten to the stable citation id.
	require.Equal(t, []string{"c0_0"}, response.Items[0].Tags)
	citation, ok := citations["c0_0"]
	require.True(t, ok)
	require.Len(t, citation.Units, 1)
	assert.Equal(t, "12", citation.Units[0].ID)
	assert.Equal(t, "f1", citation.File.ID)

	// The matching $47.5B figures earn the numeric boost on top of the
	// cosine base.
	assert.GreaterOrEqual(t, citation.Score, 0.30)
	assert.LessOrEqual(t, citation.Score, 1.0)
}

func TestScoreResponseRangeExpansion(t *testing.T) {
	t.Parallel()
	scorer := newTestScorer()

	response := doc.NewText([]doc.Item{
		{Text: "Costs grew while margins expanded and cash flow stayed strong.", Tags: []string{"45-47"}},
	})
	citations := scorer.ScoreResponse(t.Context(), &response, testSources())

	require.Equal(t, []string{"c0_0"}, response.Items[0].Tags)
	citation := citations["c0_0"]
	require.Len(t, citation.Units, 3)
	assert.Equal(t, "45", citation.Units[0].ID)
	assert.Equal(t, "46", citation.Units[1].ID)
	assert.Equal(t, "47", citation.Units[2].ID)
}

func TestScoreResponseMixedCoordSingletons(t *testing.T) {
	t.Parallel()
	scorer := newTestScorer()
	file := doc.File{ID: "f2", Name: "model.xlsx"}
	sources := map[string]doc.Source{
		"45B": {Unit: doc.Unit{ID: "B7", Type: doc.UnitTable, Text: "47.5"}, File: file},
		"45C": {Unit: doc.Unit{ID: "C7", Type: doc.UnitTable, Text: "39.1"}, File: file},
	}

	response := doc.NewText([]doc.Item{
		{Text: "Revenue was 47.5 against 39.1.", Tags: []string{"45B", "45C"}},
	})
	citations := scorer.ScoreResponse(t.Context(), &response, sources)

	// Letter coordinates never merge into one group.
	require.Equal(t, []string{"c0_0", "c0_1"}, response.Items[0].Tags)
	assert.Len(t, citations, 2)
}

func TestScoreResponseTableCells(t *testing.T) {
	t.Parallel()
	scorer := newTestScorer()

	response := doc.NewTable([]doc.Row{
		{Cells: []doc.Item{
			{Text: "Metric", Tags: []string{}},
			{Text: "Q4", Tags: []string{}},
		}},
		{Cells: []doc.Item{
			{Text: "Revenue", Tags: []string{}},
			{Text: "$47.5B", Tags: []string{"12"}},
		}},
	})
	citations := scorer.ScoreResponse(t.Context(), &response, testSources())

	assert.Empty(t, response.Rows[0].Cells[0].Tags)
	require.Equal(t, []string{"c1_1_0"}, response.Rows[1].Cells[1].Tags)
	_, ok := citations["c1_1_0"]
	assert.True(t, ok)
}

func TestScoreResponseUnresolvedTagsDropped(t *testing.T) {
	t.Parallel()
	scorer := newTestScorer()

	response := doc.NewText([]doc.Item{
		{Text: "Something ungrounded.", Tags: []string{"999"}},
	})
	citations := scorer.ScoreResponse(t.Context(), &response, testSources())

	assert.Empty(t, response.Items[0].Tags)
	assert.Empty(t, citations)
}

func TestScoreResponseEveryTagResolves(t *testing.T) {
	t.Parallel()
	scorer := newTestScorer()

	response := doc.NewText([]doc.Item{
		{Text: "Revenue was $47.5B.", Tags: []string{"12"}},
		{Text: "Costs grew while margins expanded.", Tags: []string{"45", "46"}},
	})
	citations := scorer.ScoreResponse(t.Context(), &response, testSources())

	// Invariant: every tag left on the response resolves in the
	// citation map.
	for _, item := range response.Items {
		for _, tag := range item.Tags {
			_, ok := citations[tag]
			assert.True(t, ok, "tag %s must resolve", tag)
		}
	}
	for _, c := range citations {
		assert.GreaterOrEqual(t, c.Score, 0.0)
		assert.LessOrEqual(t, c.Score, 1.0)
	}
}

func TestDedupeTagsPreservesOrder(t *testing.T) {
	t.Parallel()
	assert.Equal(t, []string{"3", "1", "2"}, dedupeTags([]string{"3", "1", "3", "2", "1"}))
}
