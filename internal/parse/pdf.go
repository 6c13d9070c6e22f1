package parse

import (
	"context"
	"fmt"

	"groundline/internal/convert"
	"groundline/internal/doc"
)

// PolygonToBounds converts an OCR polygon (eight floats, four x,y
// corners in page units) to a normalized page-percentage box. Negative
// coordinates clamp to zero.
func PolygonToBounds(polygon []float64, pageWidth, pageHeight float64) *doc.Bounds {
	if len(polygon) < 8 || pageWidth <= 0 || pageHeight <= 0 {
		return nil
	}
	left := polygon[0] / pageWidth * 100
	top := polygon[1] / pageHeight * 100
	width := (polygon[2] - polygon[0]) / pageWidth * 100
	height := (polygon[5] - polygon[1]) / pageHeight * 100
	return &doc.Bounds{
		Left:   clampZero(left),
		Top:    clampZero(top),
		Width:  clampZero(width),
		Height: clampZero(height),
	}
}

func clampZero(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}

func (p *Parser) parsePDF(ctx context.Context, path string) (*Document, error) {
	if p.ocr == nil {
		return nil, fmt.Errorf("%w: no OCR client configured", doc.ErrParse)
	}
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}
	result, err := p.ocr.Analyze(ctx, data)
	if err != nil {
		return nil, err
	}
	return documentFromOCR(result), nil
}

func documentFromOCR(result *convert.OCRResult) *Document {
	d := &Document{}
	pageNum := 0
	for _, page := range result.Pages {
		if len(page.Lines) == 0 {
			continue
		}
		pageNum++
		lines := make([]Line, 0, len(page.Lines))
		for _, l := range page.Lines {
			if l.Content == "" {
				continue
			}
			lines = append(lines, Line{
				Text:   l.Content,
				Bounds: PolygonToBounds(l.Polygon, page.Width, page.Height),
			})
		}
		d.Pages = append(d.Pages, Page{Number: pageNum, Lines: lines})
	}
	return d
}
