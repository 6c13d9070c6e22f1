package section

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"groundline/internal/doc"
)

func TestMemoryStateSetGet(t *testing.T) {
	t.Parallel()
	store := NewMemoryState()

	state := &JobState{
		SectionID:    "s1",
		ProcessingID: "p1",
		Tenant:       "tenant-1",
		FileIDs:      []string{"f1"},
		OutputFormat: doc.FormatText,
	}
	require.NoError(t, store.Set(t.Context(), JobKey("s1"), state, time.Hour))

	got, err := store.Get(t.Context(), JobKey("s1"))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "p1", got.ProcessingID)
	assert.Equal(t, []string{"f1"}, got.FileIDs)
}

func TestMemoryStateMissingKey(t *testing.T) {
	t.Parallel()
	store := NewMemoryState()
	got, err := store.Get(t.Context(), JobKey("nope"))
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryStateExpiry(t *testing.T) {
	t.Parallel()
	store := NewMemoryState()
	require.NoError(t, store.Set(t.Context(), "k", &JobState{SectionID: "s"}, time.Millisecond))
	time.Sleep(5 * time.Millisecond)

	got, err := store.Get(t.Context(), "k")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryStateDelete(t *testing.T) {
	t.Parallel()
	store := NewMemoryState()
	require.NoError(t, store.Set(t.Context(), "k", &JobState{SectionID: "s"}, time.Hour))
	require.NoError(t, store.Delete(t.Context(), "k"))

	got, err := store.Get(t.Context(), "k")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryStateStoresResult(t *testing.T) {
	t.Parallel()
	store := NewMemoryState()
	state := &JobState{
		SectionID: "s1",
		Status:    StatusCompleted,
		Result: &doc.Outcome{
			Response: doc.NewText([]doc.Item{{Text: "answer", Tags: []string{"c0_0"}}}),
			Citations: map[string]doc.Citation{
				"c0_0": {File: doc.File{ID: "f1"}, Score: 0.9},
			},
			Analysis: doc.Analysis{Score: 80, Summary: "ok", Queries: []string{}},
		},
	}
	require.NoError(t, store.Set(t.Context(), "k", state, time.Hour))

	got, err := store.Get(t.Context(), "k")
	require.NoError(t, err)
	require.NotNil(t, got.Result)
	assert.Equal(t, 80, got.Result.Analysis.Score)
	assert.Equal(t, 0.9, got.Result.Citations["c0_0"].Score)
}

func TestJobKey(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "job:section:abc", JobKey("abc"))
}
