package parse

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	readability "github.com/go-shiori/go-readability"
	"github.com/nguyenthenguyen/docx"

	"groundline/internal/doc"
)

// slideMarker matches slide separators embedded in markdown input,
// e.g. "<!-- Slide number: 3 -->".
var slideMarker = regexp.MustCompile(`<!--\s*Slide number:\s*(\d+)\s*-->`)

func (p *Parser) parseMarkdown(path string) (*Document, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}
	return documentFromMarkdown(string(data)), nil
}

// documentFromMarkdown splits markdown into pages. Slide markers start
// a new page; without markers the whole file is one page. Blank lines
// are dropped, so units are never empty.
func documentFromMarkdown(text string) *Document {
	d := &Document{}
	page := Page{Number: 1}
	for _, raw := range strings.Split(text, "\n") {
		if m := slideMarker.FindStringSubmatch(raw); m != nil {
			if len(page.Lines) > 0 {
				d.Pages = append(d.Pages, page)
			}
			page = Page{Number: len(d.Pages) + 1}
			continue
		}
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		page.Lines = append(page.Lines, Line{Text: line})
	}
	if len(page.Lines) > 0 {
		d.Pages = append(d.Pages, page)
	}
	return d
}

func (p *Parser) parseHTML(path, name string) (*Document, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}

	// Strip boilerplate first; fall back to the raw document when
	// readability finds no article.
	html := string(data)
	pageURL, _ := url.Parse(name)
	if article, err := readability.FromReader(strings.NewReader(html), pageURL); err == nil && article.Content != "" {
		html = article.Content
	}

	markdown, err := htmltomarkdown.ConvertString(html)
	if err != nil {
		return nil, fmt.Errorf("%w: html to markdown: %v", doc.ErrParse, err)
	}
	return documentFromProse(markdown), nil
}

func (p *Parser) parseDocx(path string) (*Document, error) {
	r, err := docx.ReadDocxFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open docx: %v", doc.ErrParse, err)
	}
	defer r.Close()

	text := docxPlainText(r.Editable().GetContent())
	return documentFromProse(text), nil
}

var (
	docxParagraph = regexp.MustCompile(`</w:p>`)
	docxRun       = regexp.MustCompile(`<w:t[^>]*>([^<]*)</w:t>`)
	docxTag       = regexp.MustCompile(`<[^>]+>`)
)

// docxPlainText flattens document.xml into paragraph-separated text.
func docxPlainText(content string) string {
	var lines []string
	for _, para := range docxParagraph.Split(content, -1) {
		var b strings.Builder
		for _, m := range docxRun.FindAllStringSubmatch(para, -1) {
			b.WriteString(m[1])
		}
		text := strings.TrimSpace(docxTag.ReplaceAllString(b.String(), ""))
		if text != "" {
			lines = append(lines, text)
		}
	}
	return strings.Join(lines, "\n")
}

// documentFromProse sentence-splits free text into one page of lines.
func documentFromProse(text string) *Document {
	var lines []Line
	for _, block := range strings.Split(text, "\n") {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		for _, sentence := range SplitSentences(block) {
			lines = append(lines, Line{Text: sentence})
		}
	}
	if len(lines) == 0 {
		return &Document{}
	}
	return &Document{Pages: []Page{{Number: 1, Lines: lines}}}
}

var sentenceEnd = regexp.MustCompile(`([.!?])\s+`)

// SplitSentences splits prose on sentence-final punctuation followed by
// whitespace. Abbreviation handling is intentionally minimal; the
// chunker tolerates slightly uneven sentences.
func SplitSentences(text string) []string {
	marked := sentenceEnd.ReplaceAllString(text, "$1\x00")
	var out []string
	for _, s := range strings.Split(marked, "\x00") {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
