package parse

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"groundline/internal/doc"
)

// sniffLimit bounds how much of the file is inspected for encoding and
// delimiter detection.
const sniffLimit = 64 * 1024

func (p *Parser) parseCSV(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open csv: %v", doc.ErrParse, err)
	}
	defer f.Close()

	sample := make([]byte, sniffLimit)
	n, err := f.Read(sample)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("%w: read csv: %v", doc.ErrParse, err)
	}
	sample = sample[:n]
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("%w: seek csv: %v", doc.ErrParse, err)
	}

	enc := detectEncoding(sample)
	decoded, _ := enc.NewDecoder().Bytes(sample)
	delimiter := sniffDelimiter(string(decoded))

	reader := csv.NewReader(transform.NewReader(f, enc.NewDecoder()))
	reader.Comma = delimiter
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	var rows [][]string
	for len(rows) < p.cfg.TableMaxRows {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: read csv row %d: %v", doc.ErrParse, len(rows)+1, err)
		}
		rows = append(rows, record)
	}
	if len(rows) == 0 {
		return &Document{}, nil
	}

	sheet := p.buildSheet("Data", rows)
	if sheet.Dimensions.MaxRow == 0 {
		return &Document{}, nil
	}
	return &Document{Sheets: []SheetData{sheet}}, nil
}

// detectEncoding sniffs BOMs first, then falls back to UTF-8 when the
// sample validates and Latin-1 otherwise.
func detectEncoding(sample []byte) encoding.Encoding {
	switch {
	case bytes.HasPrefix(sample, []byte{0xEF, 0xBB, 0xBF}):
		return unicode.UTF8BOM
	case bytes.HasPrefix(sample, []byte{0xFF, 0xFE}):
		return unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM)
	case bytes.HasPrefix(sample, []byte{0xFE, 0xFF}):
		return unicode.UTF16(unicode.BigEndian, unicode.ExpectBOM)
	case utf8.Valid(sample):
		return unicode.UTF8
	default:
		return charmap.ISO8859_1
	}
}

// sniffDelimiter picks the candidate delimiter that appears most
// consistently across the sample's first lines.
func sniffDelimiter(sample string) rune {
	lines := strings.Split(sample, "\n")
	if len(lines) > 10 {
		lines = lines[:10]
	}

	best := ','
	bestScore := -1
	for _, cand := range []rune{',', ';', '\t', '|'} {
		counts := make(map[int]int)
		for _, line := range lines {
			if strings.TrimSpace(line) == "" {
				continue
			}
			counts[strings.Count(line, string(cand))]++
		}
		// Reward the count (per line) that repeats the most, ignoring
		// lines without the candidate at all.
		for perLine, freq := range counts {
			if perLine == 0 {
				continue
			}
			score := perLine * freq
			if score > bestScore {
				bestScore = score
				best = cand
			}
		}
	}
	return best
}
