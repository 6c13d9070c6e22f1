package index

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// Deterministic is a lightweight embedder for tests and local
// development. Each lowercased word hashes to two vector dimensions
// with a parity-derived sign, so texts sharing vocabulary land close
// under cosine similarity without any network dependency.
type Deterministic struct {
	dim int
}

// NewDeterministic builds a deterministic embedder of the given
// dimension.
func NewDeterministic(dim int) *Deterministic {
	if dim <= 0 {
		dim = 64
	}
	return &Deterministic{dim: dim}
}

func (d *Deterministic) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = d.embedOne(t)
	}
	return out, nil
}

func (d *Deterministic) EmbedOne(_ context.Context, text string) ([]float32, error) {
	return d.embedOne(text), nil
}

func (d *Deterministic) embedOne(s string) []float32 {
	v := make([]float32, d.dim)
	words := strings.Fields(strings.ToLower(s))
	if len(words) == 0 {
		return v
	}
	for _, word := range words {
		h := fnv.New32a()
		_, _ = h.Write([]byte(word))
		hv := h.Sum32()

		sign := float32(1)
		if hv&1 == 1 {
			sign = -1
		}
		// Primary and secondary buckets from disjoint hash bits; the
		// half-weight echo keeps distinct words from cancelling cleanly.
		v[int(hv%uint32(d.dim))] += sign
		v[int((hv>>11)%uint32(d.dim))] += sign * 0.5
	}
	return l2Normalize(v)
}

func l2Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	inv := float32(1.0 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
	return v
}
