// Package ingest runs the file pipeline: download the original, derive
// a PDF for office formats, parse, infer metadata, chunk, index, and
// persist the artifacts. Failures after indexing trigger compensating
// vector cleanup so the stores never diverge.
package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"groundline/internal/agent"
	"groundline/internal/config"
	"groundline/internal/convert"
	"groundline/internal/doc"
	"groundline/internal/index"
	"groundline/internal/parse"
	"groundline/internal/storage"
)

// officeExtensions are converted to PDF before OCR. The derived PDF is
// uploaded next to the original for later viewing.
var officeExtensions = map[string]bool{
	".doc":  true,
	".docx": true,
	".ppt":  true,
	".pptx": true,
}

// Service processes files under the file-concurrency gate.
type Service struct {
	parser    *parse.Parser
	agent     *agent.Agent
	vectors   index.Store
	files     *storage.FileStore
	blobs     storage.BlobStore
	converter convert.PDFConverter
	gate      *semaphore.Weighted
	timeout   time.Duration
}

// NewService wires the ingestion pipeline.
func NewService(parser *parse.Parser, a *agent.Agent, vectors index.Store, files *storage.FileStore, blobs storage.BlobStore, converter convert.PDFConverter, cfg config.JobsConfig) *Service {
	return &Service{
		parser:    parser,
		agent:     a,
		vectors:   vectors,
		files:     files,
		blobs:     blobs,
		converter: converter,
		gate:      semaphore.NewWeighted(int64(cfg.FileConcurrency)),
		timeout:   cfg.FileTimeout,
	}
}

// ProcessFile ingests one previously-registered file end to end and
// returns the inferred metadata. The file row's processing status
// moves to completed or failed.
func (s *Service) ProcessFile(ctx context.Context, fileID, namespace string) (doc.Meta, error) {
	if err := s.gate.Acquire(ctx, 1); err != nil {
		return doc.Meta{}, err
	}
	defer s.gate.Release(1)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	meta, err := s.process(ctx, fileID, namespace)
	if err != nil {
		if serr := s.files.SetStatus(context.WithoutCancel(ctx), fileID, storage.StatusFailed); serr != nil {
			log.Error().Err(serr).Str("file_id", fileID).Msg("status_update_failed")
		}
		return doc.Meta{}, err
	}
	return meta, nil
}

func (s *Service) process(ctx context.Context, fileID, namespace string) (doc.Meta, error) {
	rec, err := s.files.Get(ctx, fileID)
	if err != nil {
		return doc.Meta{}, err
	}

	data, err := s.blobs.Download(ctx, rec.Path)
	if err != nil {
		return doc.Meta{}, err
	}

	name := rec.Name
	if ext := strings.ToLower(filepath.Ext(rec.Name)); officeExtensions[ext] {
		data, name, err = s.derivePDF(ctx, rec, data)
		if err != nil {
			return doc.Meta{}, err
		}
	}

	path, cleanup, err := spool(name, data)
	if err != nil {
		return doc.Meta{}, err
	}
	defer cleanup()

	parsed, err := s.parser.Parse(ctx, path, name)
	if err != nil {
		return doc.Meta{}, err
	}

	meta := s.agent.IntakeMeta(ctx, parsed.Preview(), rec.Name)
	result := s.parser.BuildChunks(parsed, doc.File{ID: rec.ID, Name: rec.Name})

	if err := s.vectors.Upsert(ctx, result.Chunks, namespace, meta); err != nil {
		return doc.Meta{}, err
	}

	if err := s.files.SaveArtifacts(ctx, fileID, result.Content, meta, result.Sheets); err != nil {
		// Vectors are already indexed; remove them so a retried ingest
		// starts clean. Cleanup failure is logged, not raised.
		if derr := s.vectors.Delete(context.WithoutCancel(ctx), fileID, namespace); derr != nil {
			log.Error().Err(derr).Str("file_id", fileID).Msg("compensating_vector_delete_failed")
		}
		return doc.Meta{}, err
	}
	if err := s.files.SetStatus(ctx, fileID, storage.StatusCompleted); err != nil {
		return doc.Meta{}, err
	}

	log.Info().
		Str("file_id", fileID).
		Int("chunks", len(result.Chunks)).
		Int("units", len(result.Content)).
		Msg("file_ingested")
	return meta, nil
}

// derivePDF converts an office document and uploads the derived PDF
// alongside the original.
func (s *Service) derivePDF(ctx context.Context, rec storage.FileRecord, data []byte) ([]byte, string, error) {
	if s.converter == nil {
		return nil, "", fmt.Errorf("%w: no converter configured for %s", doc.ErrParse, rec.Name)
	}
	pdf, err := s.converter.ToPDF(ctx, rec.Name, data)
	if err != nil {
		return nil, "", err
	}
	derivedKey := rec.Path + ".pdf"
	if err := s.blobs.Upload(ctx, derivedKey, pdf, "application/pdf"); err != nil {
		return nil, "", err
	}
	return pdf, rec.Name + ".pdf", nil
}

// DeleteFile removes a file everywhere: vectors first, then the
// relational row. No partial state is acceptable for the vector side.
func (s *Service) DeleteFile(ctx context.Context, fileID, namespace string) error {
	if err := s.vectors.Delete(ctx, fileID, namespace); err != nil {
		return err
	}
	return s.files.Delete(ctx, fileID)
}

// spool writes data to a temp file, returning its path and a cleanup
// func.
func spool(name string, data []byte) (string, func(), error) {
	f, err := os.CreateTemp("", "ingest-*"+filepath.Ext(name))
	if err != nil {
		return "", nil, fmt.Errorf("%w: spool temp file: %v", doc.ErrStorage, err)
	}
	path := f.Name()
	cleanup := func() { os.Remove(path) }
	if _, err := f.Write(data); err != nil {
		f.Close()
		cleanup()
		return "", nil, fmt.Errorf("%w: write temp file: %v", doc.ErrStorage, err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("%w: close temp file: %v", doc.ErrStorage, err)
	}
	return path, cleanup, nil
}
