// Package index couples the embedding service to the vector store: it
// embeds chunk text, upserts chunk documents, and runs tenant-scoped
// similarity search and deletion.
package index

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"groundline/internal/config"
	"groundline/internal/llm"
)

// Embedder converts texts to vectors, batching transparently.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	EmbedOne(ctx context.Context, text string) ([]float32, error)
}

// BatchEmbedder wraps a raw embedding client with batch splitting, an
// inter-batch delay, and a single retry on rate-limit-shaped errors.
type BatchEmbedder struct {
	client     llm.Embedder
	batchSize  int
	batchDelay time.Duration
}

// NewBatchEmbedder builds the process-wide embedder.
func NewBatchEmbedder(client llm.Embedder, cfg config.VectorConfig) *BatchEmbedder {
	return &BatchEmbedder{
		client:     client,
		batchSize:  cfg.MaxEmbeddingBatchSize,
		batchDelay: cfg.EmbeddingBatchDelay,
	}
}

// EmbedBatch embeds all texts, at most batchSize per call. A call that
// fails with a rate-limit-shaped error (message contains "429" or
// "rate limit") is retried once after sleeping twice the batch delay;
// any other error propagates.
func (e *BatchEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	all := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := start + e.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[start:end]

		vecs, err := e.client.Embed(ctx, batch)
		if err != nil {
			if !isRateLimited(err) {
				return nil, err
			}
			log.Warn().Err(err).Int("batch", len(batch)).Msg("embedding_rate_limited_retry")
			select {
			case <-time.After(2 * e.batchDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			vecs, err = e.client.Embed(ctx, batch)
			if err != nil {
				return nil, err
			}
		}
		all = append(all, vecs...)

		if end < len(texts) && e.batchDelay > 0 {
			select {
			case <-time.After(e.batchDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return all, nil
}

// EmbedOne embeds a single text.
func (e *BatchEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func isRateLimited(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") || strings.Contains(msg, "rate limit")
}
