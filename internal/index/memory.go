package index

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"groundline/internal/doc"
)

// MemoryStore is an in-memory Store for tests and local development.
// Similarity is cosine over vectors produced by the injected embedder.
type MemoryStore struct {
	embedder Embedder

	mu   sync.RWMutex
	docs map[string]memoryDoc
}

type memoryDoc struct {
	key       string
	vector    []float32
	chunk     doc.Chunk
	index     int
	namespace string
	meta      doc.Meta
}

// NewMemoryStore builds an empty in-memory store.
func NewMemoryStore(embedder Embedder) *MemoryStore {
	return &MemoryStore{
		embedder: embedder,
		docs:     make(map[string]memoryDoc),
	}
}

func (s *MemoryStore) Upsert(ctx context.Context, chunks []doc.Chunk, namespace string, meta doc.Meta) error {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = ChunkText(c)
	}
	vectors, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, c := range chunks {
		key := ChunkKey(c.File.ID, i)
		s.docs[key] = memoryDoc{
			key:       key,
			vector:    vectors[i],
			chunk:     c,
			index:     i,
			namespace: namespace,
			meta:      meta,
		}
	}
	return nil
}

func (s *MemoryStore) Search(ctx context.Context, query string, fileIDs []string, topK int, filters map[string]string) ([]doc.Match, error) {
	if err := ValidateTopK(topK); err != nil {
		return nil, err
	}
	if query == "" || len(fileIDs) == 0 {
		return nil, fmt.Errorf("%w: query and file ids are required", doc.ErrValidation)
	}
	qvec, err := s.embedder.EmbedOne(ctx, query)
	if err != nil {
		return nil, err
	}

	allowed := make(map[string]bool, len(fileIDs))
	for _, id := range fileIDs {
		allowed[id] = true
	}

	s.mu.RLock()
	var matches []doc.Match
	for _, d := range s.docs {
		if !allowed[d.chunk.File.ID] {
			continue
		}
		matches = append(matches, doc.Match{
			ID:    d.key,
			Score: clampScore(cosine(qvec, d.vector)),
			Chunk: d.chunk,
			Meta:  d.meta,
		})
	}
	s.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func (s *MemoryStore) Delete(_ context.Context, fileID, namespace string) error {
	if fileID == "" || namespace == "" {
		return fmt.Errorf("%w: file id and namespace are required", doc.ErrValidation)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, d := range s.docs {
		if d.chunk.File.ID == fileID && d.namespace == namespace {
			delete(s.docs, key)
		}
	}
	return nil
}

// Count reports the number of stored documents. Test helper.
func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
