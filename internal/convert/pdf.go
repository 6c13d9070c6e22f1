// Package convert wraps the two document-preparation services the
// parser depends on: the office-to-PDF converter and the OCR/layout
// service.
package convert

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"

	"groundline/internal/config"
	"groundline/internal/doc"
)

// PDFConverter turns an office document into a PDF byte stream.
type PDFConverter interface {
	ToPDF(ctx context.Context, fileName string, data []byte) ([]byte, error)
}

// HTTPConverter posts documents to a Gotenberg-style conversion
// endpoint.
type HTTPConverter struct {
	baseURL string
	client  *http.Client
}

// NewHTTPConverter builds a converter client from configuration.
func NewHTTPConverter(cfg config.ConverterConfig) *HTTPConverter {
	return &HTTPConverter{
		baseURL: cfg.URL,
		client:  &http.Client{Timeout: cfg.Timeout},
	}
}

// ToPDF implements PDFConverter via a multipart upload to the
// LibreOffice conversion route.
func (c *HTTPConverter) ToPDF(ctx context.Context, fileName string, data []byte) ([]byte, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("files", filepath.Base(fileName))
	if err != nil {
		return nil, fmt.Errorf("build multipart: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("write multipart: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart: %w", err)
	}

	url := c.baseURL + "/forms/libreoffice/convert"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: pdf conversion: %v", doc.ErrParse, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: pdf conversion: status %d: %s", doc.ErrParse, resp.StatusCode, b)
	}
	pdf, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read converted pdf: %v", doc.ErrParse, err)
	}
	return pdf, nil
}
