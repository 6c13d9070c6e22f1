// Package tokenizer wraps the byte-pair tokenizer used for every token
// budget in the system. All budget enforcement must go through the same
// encoding; mixing encodings breaks the chunking and context
// invariants.
package tokenizer

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Counter counts and slices tokens. Implementations must be safe for
// concurrent use; the production counter is an immutable singleton.
type Counter interface {
	// Count returns the number of tokens in text.
	Count(text string) int
	// Slice splits text into pieces of at most maxTokens tokens each,
	// cutting on token boundaries.
	Slice(text string, maxTokens int) []string
}

// BPE is a Counter backed by a tiktoken encoding.
type BPE struct {
	enc *tiktoken.Tiktoken
}

var (
	encCache   = make(map[string]*tiktoken.Tiktoken)
	encCacheMu sync.Mutex
)

// New returns a BPE counter for the named encoding (e.g. "cl100k_base").
// Encodings are cached; repeated calls are cheap.
func New(encoding string) (*BPE, error) {
	encCacheMu.Lock()
	defer encCacheMu.Unlock()

	if enc, ok := encCache[encoding]; ok {
		return &BPE{enc: enc}, nil
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("get encoding %q: %w", encoding, err)
	}
	encCache[encoding] = enc
	return &BPE{enc: enc}, nil
}

func (b *BPE) Count(text string) int {
	return len(b.enc.Encode(text, nil, nil))
}

func (b *BPE) Slice(text string, maxTokens int) []string {
	if maxTokens <= 0 {
		return []string{text}
	}
	tokens := b.enc.Encode(text, nil, nil)
	if len(tokens) <= maxTokens {
		return []string{text}
	}
	var out []string
	for start := 0; start < len(tokens); start += maxTokens {
		end := start + maxTokens
		if end > len(tokens) {
			end = len(tokens)
		}
		out = append(out, b.enc.Decode(tokens[start:end]))
	}
	return out
}
