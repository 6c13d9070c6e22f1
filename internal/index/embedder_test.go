package index

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"groundline/internal/config"
)

// fakeEmbedClient records calls and can fail a given number of times
// with a configured error.
type fakeEmbedClient struct {
	calls     [][]string
	failTimes int
	failWith  error
}

func (f *fakeEmbedClient) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.calls = append(f.calls, texts)
	if f.failTimes > 0 {
		f.failTimes--
		return nil, f.failWith
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(len(texts[i]))}
	}
	return out, nil
}

func embedderConfig() config.VectorConfig {
	cfg := config.Default().Vector
	cfg.MaxEmbeddingBatchSize = 2
	cfg.EmbeddingBatchDelay = time.Millisecond
	return cfg
}

func TestEmbedBatchSplitsBatches(t *testing.T) {
	t.Parallel()
	client := &fakeEmbedClient{}
	e := NewBatchEmbedder(client, embedderConfig())

	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
	vecs, err := e.EmbedBatch(t.Context(), texts)
	require.NoError(t, err)
	require.Len(t, vecs, 5)

	// 5 texts at batch size 2 → 3 calls, order preserved.
	require.Len(t, client.calls, 3)
	assert.Equal(t, []string{"a", "bb"}, client.calls[0])
	assert.Equal(t, []string{"eeeee"}, client.calls[2])
	assert.Equal(t, float32(5), vecs[4][0])
}

func TestEmbedBatchRetriesOnRateLimit(t *testing.T) {
	t.Parallel()
	client := &fakeEmbedClient{
		failTimes: 1,
		failWith:  fmt.Errorf("upstream said 429 too many requests"),
	}
	e := NewBatchEmbedder(client, embedderConfig())

	vecs, err := e.EmbedBatch(t.Context(), []string{"a"})
	require.NoError(t, err)
	require.Len(t, vecs, 1)
	assert.Len(t, client.calls, 2, "one retry after the rate limit")
}

func TestEmbedBatchRetriesOnRateLimitPhrase(t *testing.T) {
	t.Parallel()
	client := &fakeEmbedClient{
		failTimes: 1,
		failWith:  errors.New("embedding Rate Limit exceeded"),
	}
	e := NewBatchEmbedder(client, embedderConfig())

	_, err := e.EmbedBatch(t.Context(), []string{"a"})
	require.NoError(t, err)
	assert.Len(t, client.calls, 2)
}

func TestEmbedBatchPropagatesOtherErrors(t *testing.T) {
	t.Parallel()
	client := &fakeEmbedClient{
		failTimes: 1,
		failWith:  errors.New("model not found"),
	}
	e := NewBatchEmbedder(client, embedderConfig())

	_, err := e.EmbedBatch(t.Context(), []string{"a"})
	require.Error(t, err)
	assert.Len(t, client.calls, 1, "no retry for non-rate-limit errors")
}

func TestEmbedBatchRetriesOnlyOnce(t *testing.T) {
	t.Parallel()
	client := &fakeEmbedClient{
		failTimes: 2,
		failWith:  errors.New("429"),
	}
	e := NewBatchEmbedder(client, embedderConfig())

	_, err := e.EmbedBatch(t.Context(), []string{"a"})
	require.Error(t, err)
	assert.Len(t, client.calls, 2)
}

func TestEmbedBatchEmptyInput(t *testing.T) {
	t.Parallel()
	client := &fakeEmbedClient{}
	e := NewBatchEmbedder(client, embedderConfig())

	vecs, err := e.EmbedBatch(t.Context(), nil)
	require.NoError(t, err)
	assert.Nil(t, vecs)
	assert.Empty(t, client.calls)
}
