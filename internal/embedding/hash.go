package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"unicode"
)

// HashEmbedder is a deterministic, offline Embedder. Each token and each
// adjacent token pair is hashed to a signed bucket, the buckets are
// mean-pooled, and the result is L2-normalised. Texts sharing vocabulary
// land close together, which is enough for nearest-neighbour lookups in
// development and tests.
type HashEmbedder struct {
	dims int
}

// NewHashEmbedder creates a hashing embedder of the given dimension.
func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = 768
	}
	return &HashEmbedder{dims: dims}
}

// Dimensions returns the vector length.
func (h *HashEmbedder) Dimensions() int { return h.dims }

// Embed implements Embedder.
func (h *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbedding, err)
	}

	tokens := tokenize(text)
	if len(tokens) == 0 {
		return nil, fmt.Errorf("%w: no tokens in input", ErrEmbedding)
	}

	acc := make([]float64, h.dims)
	features := 0
	add := func(feature string) {
		idx, sign := h.bucket(feature)
		acc[idx] += sign
		features++
	}
	for i, tok := range tokens {
		add(tok)
		if i > 0 {
			add(tokens[i-1] + " " + tok)
		}
	}

	vec := make([]float32, h.dims)
	for i, v := range acc {
		vec[i] = float32(v / float64(features))
	}
	return Normalize(vec)
}

func (h *HashEmbedder) bucket(feature string) (int, float64) {
	hasher := fnv.New64a()
	_, _ = hasher.Write([]byte(feature))
	sum := hasher.Sum64()
	sign := 1.0
	if sum>>63 == 1 {
		sign = -1.0
	}
	return int(sum % uint64(h.dims)), sign //nolint:gosec // modulo dims fits int
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '.' && r != '_'
	})
}
