package convert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"groundline/internal/config"
	"groundline/internal/doc"
)

// OCRLine is one recognized line with its polygon. Polygons are eight
// floats (four x,y corners) in the page's units (inches for PDFs).
type OCRLine struct {
	Content string    `json:"content"`
	Polygon []float64 `json:"polygon"`
}

// OCRPage is one page of layout output with its physical dimensions.
type OCRPage struct {
	Number int       `json:"pageNumber"`
	Width  float64   `json:"width"`
	Height float64   `json:"height"`
	Lines  []OCRLine `json:"lines"`
}

// OCRResult is the layout analysis of one document.
type OCRResult struct {
	Pages []OCRPage `json:"pages"`
}

// OCRClient analyzes a PDF and returns pages with positioned lines.
type OCRClient interface {
	Analyze(ctx context.Context, pdf []byte) (*OCRResult, error)
}

// HTTPOCRClient calls a Document-Intelligence-style layout endpoint:
// submit the PDF, then poll the operation until it succeeds.
type HTTPOCRClient struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewHTTPOCRClient builds an OCR client from configuration.
func NewHTTPOCRClient(cfg config.OCRConfig) *HTTPOCRClient {
	return &HTTPOCRClient{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		client:   &http.Client{Timeout: cfg.Timeout},
	}
}

// Analyze implements OCRClient.
func (c *HTTPOCRClient) Analyze(ctx context.Context, pdf []byte) (*OCRResult, error) {
	submitURL := c.endpoint + "/documentintelligence/documentModels/prebuilt-layout:analyze?api-version=2024-11-30"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, submitURL, bytes.NewReader(pdf))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/pdf")
	req.Header.Set("Ocp-Apim-Subscription-Key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: ocr submit: %v", doc.ErrParse, err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		return nil, fmt.Errorf("%w: ocr submit: status %d", doc.ErrParse, resp.StatusCode)
	}
	opURL := resp.Header.Get("Operation-Location")
	if opURL == "" {
		return nil, fmt.Errorf("%w: ocr submit: missing operation location", doc.ErrParse)
	}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
		}

		status, result, err := c.poll(ctx, opURL)
		if err != nil {
			return nil, err
		}
		switch status {
		case "succeeded":
			return result, nil
		case "failed":
			return nil, fmt.Errorf("%w: ocr analysis rejected the document", doc.ErrParse)
		}
	}
}

func (c *HTTPOCRClient) poll(ctx context.Context, opURL string) (string, *OCRResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, opURL, nil)
	if err != nil {
		return "", nil, err
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("%w: ocr poll: %v", doc.ErrParse, err)
	}
	defer resp.Body.Close()

	var payload struct {
		Status        string    `json:"status"`
		AnalyzeResult OCRResult `json:"analyzeResult"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", nil, fmt.Errorf("%w: decode ocr result: %v", doc.ErrParse, err)
	}
	return payload.Status, &payload.AnalyzeResult, nil
}
