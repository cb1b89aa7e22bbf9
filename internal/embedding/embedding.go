// Package embedding turns transaction descriptions into unit-length vectors
// for similarity search.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/pgvector/pgvector-go"
)

var (
	// ErrEmbedding tags every failure to produce an embedding.
	ErrEmbedding = errors.New("embedding failed")
	// ErrUnavailable is returned while the embedding backend is tripped.
	ErrUnavailable = fmt.Errorf("%w: service unavailable", ErrEmbedding)
)

// Embedder produces a fixed-dimension unit vector for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Format renders v as a pgvector literal, e.g. "[0.1,0.2,0.3]".
func Format(v []float32) string {
	return pgvector.NewVector(v).String()
}

// Normalize scales v to unit L2 length in place and returns it.
func Normalize(v []float32) ([]float32, error) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := math.Sqrt(sum)
	if norm == 0 || math.IsNaN(norm) || math.IsInf(norm, 0) {
		return nil, fmt.Errorf("%w: degenerate vector", ErrEmbedding)
	}
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v, nil
}

// Cosine returns the cosine similarity of two vectors of equal length.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
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
