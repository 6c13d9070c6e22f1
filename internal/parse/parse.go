// Package parse turns uploaded documents into ordered, citable units
// and groups them into token-budgeted chunks for indexing.
//
// Text documents (PDF, markdown, HTML, Word) become pages of lines;
// spreadsheets (Excel, CSV) become sheets of cells with a pipe-rendered
// text. Unit ids are stable per file: "1", "2", … for text lines and
// spreadsheet coordinates ("B7") for cells.
package parse

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"groundline/internal/config"
	"groundline/internal/convert"
	"groundline/internal/doc"
	"groundline/internal/tokenizer"
)

// Line is one recognized text line with optional normalized bounds.
type Line struct {
	Text   string
	Bounds *doc.Bounds
}

// Page is an ordered group of lines (a PDF page, a slide, or a whole
// markdown file).
type Page struct {
	Number int
	Lines  []Line
}

// SheetData is one parsed spreadsheet sheet.
type SheetData struct {
	Name       string
	Text       string
	Cells      map[string]doc.Cell
	Dimensions doc.Dimensions
}

// Document is the intermediate parse output: pages for text documents,
// sheets for tables. Exactly one of the two is populated.
type Document struct {
	Pages  []Page
	Sheets []SheetData
}

// IsTable reports whether the document parsed as a spreadsheet.
func (d *Document) IsTable() bool { return len(d.Sheets) > 0 }

// Empty reports whether parsing produced no content at all.
func (d *Document) Empty() bool {
	for _, p := range d.Pages {
		if len(p.Lines) > 0 {
			return false
		}
	}
	for _, s := range d.Sheets {
		if len(s.Cells) > 0 {
			return false
		}
	}
	return true
}

// Preview returns the first page's (or sheet's) text, used for intake
// metadata analysis.
func (d *Document) Preview() string {
	if d.IsTable() {
		return d.Sheets[0].Text
	}
	if len(d.Pages) == 0 {
		return ""
	}
	texts := make([]string, 0, len(d.Pages[0].Lines))
	for _, l := range d.Pages[0].Lines {
		texts = append(texts, l.Text)
	}
	return strings.Join(texts, "\n")
}

// Parser reads files into Documents and builds chunks from them. It is
// immutable after construction and safe for concurrent use.
type Parser struct {
	cfg     config.ParseConfig
	counter tokenizer.Counter
	ocr     convert.OCRClient
}

// NewParser builds a parser. The OCR client may be nil when PDF parsing
// is not needed (tests, spreadsheet-only workloads).
func NewParser(cfg config.ParseConfig, counter tokenizer.Counter, ocr convert.OCRClient) *Parser {
	return &Parser{cfg: cfg, counter: counter, ocr: ocr}
}

// Parse dispatches on the file extension. The returned document is
// never empty; an empty parse is reported as ErrEmptyDocument.
func (p *Parser) Parse(ctx context.Context, path, name string) (*Document, error) {
	ext := strings.ToLower(filepath.Ext(name))

	var (
		parsed *Document
		err    error
	)
	switch ext {
	case ".pdf":
		parsed, err = p.parsePDF(ctx, path)
	case ".xlsx", ".xls":
		parsed, err = p.parseExcel(path)
	case ".csv":
		parsed, err = p.parseCSV(path)
	case ".md", ".markdown":
		parsed, err = p.parseMarkdown(path)
	case ".html", ".htm":
		parsed, err = p.parseHTML(path, name)
	case ".docx":
		parsed, err = p.parseDocx(path)
	default:
		return nil, fmt.Errorf("%w: %s", doc.ErrUnsupported, ext)
	}
	if err != nil {
		return nil, err
	}
	if parsed.Empty() {
		return nil, doc.ErrEmptyDocument
	}
	return parsed, nil
}

func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", doc.ErrParse, filepath.Base(path), err)
	}
	return data, nil
}
