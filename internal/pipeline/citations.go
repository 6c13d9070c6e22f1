package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"groundline/internal/doc"
	"groundline/internal/index"
)

// Scorer rewrites raw citation tags into stable citation ids and scores
// each citation group against the generated text it supports.
type Scorer struct {
	embedder index.Embedder
	boost    float64
}

// NewScorer builds a citation scorer.
func NewScorer(embedder index.Embedder, boost float64) *Scorer {
	return &Scorer{embedder: embedder, boost: boost}
}

var rangePartRe = regexp.MustCompile(`^(\d*)([A-Z]*)$`)

// ExpandTag expands a range tag into individual tags. Numeric ranges
// ("45-47") and equal-letter ranges ("45A-47A") expand when start ≤
// end; mixed-letter ranges and malformed input expand to nothing. A
// plain tag returns itself.
func ExpandTag(tag string) []string {
	if !strings.Contains(tag, "-") {
		return []string{tag}
	}
	parts := strings.Split(tag, "-")
	if len(parts) != 2 {
		return nil
	}
	startM := rangePartRe.FindStringSubmatch(parts[0])
	endM := rangePartRe.FindStringSubmatch(parts[1])
	if startM == nil || endM == nil {
		return nil
	}
	startNum, startLetter := startM[1], startM[2]
	endNum, endLetter := endM[1], endM[2]
	if startLetter != endLetter || startNum == "" || endNum == "" {
		return nil
	}
	start, err1 := strconv.Atoi(startNum)
	end, err2 := strconv.Atoi(endNum)
	if err1 != nil || err2 != nil || start > end {
		return nil
	}
	out := make([]string, 0, end-start+1)
	for i := start; i <= end; i++ {
		out = append(out, strconv.Itoa(i)+startLetter)
	}
	return out
}

func dedupeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	var out []string
	for _, t := range tags {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

// tagGroup is one citation group: either a run of consecutive numeric
// tags or a singleton.
type tagGroup struct {
	tags []string
}

// groupTags partitions deduplicated tags into maximal runs of
// consecutive integers; every non-numeric tag (and every numeric tag
// outside a run) stays a singleton. Runs come first, then singletons in
// their original order, matching citation id assignment.
func groupTags(tags []string) []tagGroup {
	var nums []int
	for _, t := range tags {
		if n, err := strconv.Atoi(t); err == nil {
			nums = append(nums, n)
		}
	}

	var groups []tagGroup
	used := make(map[string]bool)
	if len(nums) > 0 {
		sort.Ints(nums)
		run := []int{nums[0]}
		flush := func() {
			if len(run) > 1 {
				g := tagGroup{}
				for _, n := range run {
					tag := strconv.Itoa(n)
					g.tags = append(g.tags, tag)
					used[tag] = true
				}
				groups = append(groups, g)
			}
		}
		for _, n := range nums[1:] {
			if n == run[len(run)-1]+1 {
				run = append(run, n)
				continue
			}
			flush()
			run = []int{n}
		}
		flush()
	}

	for _, t := range tags {
		if !used[t] {
			groups = append(groups, tagGroup{tags: []string{t}})
		}
	}
	return groups
}

// scoreItem processes one generated item: expand and group its raw
// tags, resolve them in the source map, score each group, and rewrite
// the item's tags to citation ids. itemKey distinguishes text items
// ("0") from table cells ("1_2").
func (s *Scorer) scoreItem(ctx context.Context, item *doc.Item, sources map[string]doc.Source, itemKey string) map[string]doc.Citation {
	if len(item.Tags) == 0 || item.Text == "" {
		item.Tags = []string{}
		return nil
	}

	var expanded []string
	for _, tag := range item.Tags {
		expanded = append(expanded, ExpandTag(tag)...)
	}
	deduped := dedupeTags(expanded)
	if len(deduped) == 0 {
		item.Tags = []string{}
		return nil
	}

	type scoredGroup struct {
		cid      string
		citation doc.Citation
		text     string
	}
	var resolved []scoredGroup
	for idx, g := range groupTags(deduped) {
		var units []doc.Unit
		var texts []string
		var file doc.File
		for _, tag := range g.tags {
			src, ok := sources[tag]
			if !ok {
				continue
			}
			units = append(units, src.Unit)
			texts = append(texts, src.Unit.Text)
			file = src.File
		}
		if len(units) == 0 {
			continue
		}
		resolved = append(resolved, scoredGroup{
			cid:      fmt.Sprintf("c%s_%d", itemKey, idx),
			citation: doc.Citation{Units: units, File: file},
			text:     strings.Join(texts, "\n"),
		})
	}
	if len(resolved) == 0 {
		item.Tags = []string{}
		return nil
	}

	// One batched embedding call covers the item text and every group.
	texts := make([]string, 0, len(resolved)+1)
	texts = append(texts, item.Text)
	for _, g := range resolved {
		texts = append(texts, g.text)
	}
	vecs, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		// Best effort: keep the citations with a zero score instead of
		// failing the run.
		log.Error().Err(err).Str("item", itemKey).Msg("citation_embedding_failed")
		vecs = nil
	}

	var scores []float64
	if len(vecs) == len(resolved)+1 {
		citedTexts := make([]string, len(resolved))
		for i, g := range resolved {
			citedTexts[i] = g.text
		}
		scores = SimilarityScores(vecs[0], vecs[1:], item.Text, citedTexts, s.boost)
	} else {
		scores = make([]float64, len(resolved))
	}

	citations := make(map[string]doc.Citation, len(resolved))
	ids := make([]string, len(resolved))
	for i, g := range resolved {
		g.citation.Score = scores[i]
		citations[g.cid] = g.citation
		ids[i] = g.cid
	}
	item.Tags = ids
	return citations
}

// ScoreResponse scores every item (or cell) in the response, rewriting
// tags in place, and returns the combined citation map.
func (s *Scorer) ScoreResponse(ctx context.Context, response *doc.Response, sources map[string]doc.Source) map[string]doc.Citation {
	citations := make(map[string]doc.Citation)

	switch response.Type {
	case doc.FormatTable, doc.FormatChart:
		for rowIdx := range response.Rows {
			for cellIdx := range response.Rows[rowIdx].Cells {
				cell := &response.Rows[rowIdx].Cells[cellIdx]
				key := fmt.Sprintf("%d_%d", rowIdx, cellIdx)
				for cid, c := range s.scoreItem(ctx, cell, sources, key) {
					citations[cid] = c
				}
			}
		}
	default:
		for i := range response.Items {
			key := strconv.Itoa(i)
			for cid, c := range s.scoreItem(ctx, &response.Items[i], sources, key) {
				citations[cid] = c
			}
		}
	}
	return citations
}
