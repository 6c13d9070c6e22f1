package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"groundline/internal/doc"
)

func testChunks() []doc.Chunk {
	return []doc.Chunk{
		{
			File:   doc.File{ID: "f1", Name: "a.pdf"},
			Units:  []doc.Unit{{ID: "1", Type: doc.UnitText, Text: "revenue grew twenty percent"}},
			Tokens: 4,
		},
		{
			File:   doc.File{ID: "f1", Name: "a.pdf"},
			Units:  []doc.Unit{{ID: "2", Type: doc.UnitText, Text: "costs were flat"}},
			Tokens: 3,
		},
	}
}

func TestMemoryStoreUpsertIdempotent(t *testing.T) {
	t.Parallel()
	store := NewMemoryStore(NewDeterministic(32))

	require.NoError(t, store.Upsert(t.Context(), testChunks(), "ns", doc.Meta{}))
	first := store.Count()
	// Re-ingesting the same file converges to the same document set.
	require.NoError(t, store.Upsert(t.Context(), testChunks(), "ns", doc.Meta{}))
	assert.Equal(t, first, store.Count())
}

func TestMemoryStoreSearchRanksBySimilarity(t *testing.T) {
	t.Parallel()
	store := NewMemoryStore(NewDeterministic(32))
	require.NoError(t, store.Upsert(t.Context(), testChunks(), "ns", doc.Meta{}))

	matches, err := store.Search(t.Context(), "revenue grew twenty percent", []string{"f1"}, 10, nil)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "f1_0", matches[0].ID, "exact text ranks first")
	assert.GreaterOrEqual(t, matches[0].Score, matches[1].Score)
	for _, m := range matches {
		assert.GreaterOrEqual(t, m.Score, 0.0)
		assert.LessOrEqual(t, m.Score, 1.0)
	}
}

func TestMemoryStoreSearchValidation(t *testing.T) {
	t.Parallel()
	store := NewMemoryStore(NewDeterministic(32))

	_, err := store.Search(t.Context(), "q", []string{"f1"}, 0, nil)
	assert.ErrorIs(t, err, doc.ErrValidation)
	_, err = store.Search(t.Context(), "q", []string{"f1"}, 101, nil)
	assert.ErrorIs(t, err, doc.ErrValidation)
	_, err = store.Search(t.Context(), "", []string{"f1"}, 10, nil)
	assert.ErrorIs(t, err, doc.ErrValidation)
	_, err = store.Search(t.Context(), "q", nil, 10, nil)
	assert.ErrorIs(t, err, doc.ErrValidation)
}

func TestMemoryStoreDeleteScopedToNamespace(t *testing.T) {
	t.Parallel()
	store := NewMemoryStore(NewDeterministic(32))
	require.NoError(t, store.Upsert(t.Context(), testChunks(), "ns-a", doc.Meta{}))

	// Wrong namespace removes nothing.
	require.NoError(t, store.Delete(t.Context(), "f1", "ns-b"))
	assert.Equal(t, 2, store.Count())

	require.NoError(t, store.Delete(t.Context(), "f1", "ns-a"))
	assert.Equal(t, 0, store.Count())
}

func TestChunkKey(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "f1_0", ChunkKey("f1", 0))
	assert.Equal(t, "abc_17", ChunkKey("abc", 17))
}

func TestChunkText(t *testing.T) {
	t.Parallel()
	c := doc.Chunk{Units: []doc.Unit{{Text: "one"}, {Text: "two"}}}
	assert.Equal(t, "one\ntwo", ChunkText(c))
}
