package pipeline

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"

	"groundline/internal/doc"
)

// tagPattern matches citation brackets: a global line number, an
// optional numeric range, and an optional trailing column letter for
// table coordinates ("[12]", "[45-47]", "[12B]").
var tagPattern = regexp.MustCompile(`\[(\d+(?:-\d+)?[A-Z]?)\]`)

var whitespaceRun = regexp.MustCompile(`\s+`)

// ParseResponse turns the generator's raw output into a typed
// Response. Malformed JSON for table or chart sections degrades to a
// single text item carrying the raw output so nothing is silently
// discarded.
func ParseResponse(raw string, format doc.OutputFormat) doc.Response {
	switch format {
	case doc.FormatTable, doc.FormatChart:
		return parseStructured(raw, format)
	default:
		return parseText(raw)
	}
}

func parseText(raw string) doc.Response {
	var items []doc.Item
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var tags []string
		for _, m := range tagPattern.FindAllStringSubmatch(line, -1) {
			tags = append(tags, m[1])
		}
		clean := tagPattern.ReplaceAllString(line, "")
		clean = strings.TrimSpace(whitespaceRun.ReplaceAllString(clean, " "))
		if clean == "" {
			continue
		}
		if tags == nil {
			tags = []string{}
		}
		items = append(items, doc.Item{Text: clean, Tags: tags})
	}
	return doc.NewText(items)
}

type tableJSON struct {
	Rows []struct {
		Cells []struct {
			Text string   `json:"text"`
			Tags []string `json:"tags"`
		} `json:"cells"`
	} `json:"rows"`
	SuggestedChartType string `json:"suggested_chart_type"`
}

func decodeTableJSON(raw string) (tableJSON, error) {
	var parsed tableJSON
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return parsed, err
	}
	if parsed.Rows == nil {
		return parsed, fmt.Errorf("missing rows array")
	}
	return parsed, nil
}

func parseStructured(raw string, format doc.OutputFormat) doc.Response {
	parsed, err := decodeTableJSON(raw)
	if err != nil {
		// Preserve the raw output for inspection rather than dropping
		// the generation.
		log.Error().Err(err).Str("format", string(format)).Msg("structured_response_malformed")
		return doc.NewText([]doc.Item{{Text: raw, Tags: []string{}}})
	}

	rows := make([]doc.Row, 0, len(parsed.Rows))
	for _, r := range parsed.Rows {
		cells := make([]doc.Item, 0, len(r.Cells))
		for _, c := range r.Cells {
			tags := c.Tags
			if tags == nil {
				tags = []string{}
			}
			cells = append(cells, doc.Item{Text: c.Text, Tags: tags})
		}
		rows = append(rows, doc.Row{Cells: cells})
	}

	if format == doc.FormatChart {
		return doc.NewChart(rows, chartKind(parsed.SuggestedChartType))
	}
	return doc.NewTable(rows)
}

// chartKind validates the suggested chart type, defaulting to bar.
func chartKind(s string) doc.ChartKind {
	switch doc.ChartKind(strings.ToLower(strings.TrimSpace(s))) {
	case doc.ChartLine:
		return doc.ChartLine
	case doc.ChartPie:
		return doc.ChartPie
	case doc.ChartArea:
		return doc.ChartArea
	default:
		return doc.ChartBar
	}
}
