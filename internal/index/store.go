package index

import (
	"context"
	"fmt"
	"strings"

	"groundline/internal/doc"
)

// Store is the vector store contract. Implementations must be safe for
// concurrent use; the production store is a process-wide singleton.
type Store interface {
	// Upsert embeds and writes one document per chunk. The primary key
	// is "<file_id>_<chunk_index>", so re-ingesting the same file
	// converges to the same document set.
	Upsert(ctx context.Context, chunks []doc.Chunk, namespace string, meta doc.Meta) error

	// Search embeds the query and returns up to topK matches restricted
	// to the given file ids, ordered by descending similarity. Extra
	// filters narrow by stored Meta fields.
	Search(ctx context.Context, query string, fileIDs []string, topK int, filters map[string]string) ([]doc.Match, error)

	// Delete removes every chunk with the given file id and namespace.
	Delete(ctx context.Context, fileID, namespace string) error
}

// ChunkKey is the primary key for a chunk document.
func ChunkKey(fileID string, chunkIndex int) string {
	return fmt.Sprintf("%s_%d", fileID, chunkIndex)
}

// ChunkText is the text embedded for a chunk: its unit texts joined by
// newline.
func ChunkText(c doc.Chunk) string {
	parts := make([]string, len(c.Units))
	for i, u := range c.Units {
		parts[i] = u.Text
	}
	return strings.Join(parts, "\n")
}

// ValidateTopK enforces the 1..100 search bound.
func ValidateTopK(topK int) error {
	if topK <= 0 || topK > 100 {
		return fmt.Errorf("%w: top_k must be between 1 and 100, got %d", doc.ErrValidation, topK)
	}
	return nil
}
