// Package matching scores face embeddings against each other and turns the
// scores into ranked match candidates.
package matching

import (
	"errors"
	"fmt"
	"math"

	"github.com/kozaktomas/reunite/internal/constants"
)

// ErrInvalidVector is returned when a degenerate (zero-norm) vector reaches the distance engine.
var ErrInvalidVector = errors.New("invalid vector: norm is zero")

// ErrDimensionMismatch is returned for vectors of different or zero length.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// DistanceFunc scores two vectors; lower is more similar.
type DistanceFunc func(a, b []float32) (float64, error)

// CosineDistance computes the cosine distance between two vectors.
// Returns a value between 0 (identical) and 2 (opposite).
// Cosine distance = 1 - cosine similarity
func CosineDistance(a, b []float32) (float64, error) {
	if len(a) != len(b) || len(a) == 0 {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(a), len(b))
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	normA = math.Sqrt(normA)
	normB = math.Sqrt(normB)
	if normA <= constants.NormEpsilon || normB <= constants.NormEpsilon {
		return 0, ErrInvalidVector
	}

	similarity := dotProduct / (normA * normB)
	// Clamp to [-1, 1] to handle floating point errors
	similarity = max(-1, min(1, similarity))

	return 1 - similarity, nil
}

// Confidence maps a distance to a percentage in [0, 100], rounded to two decimals.
func Confidence(distance float64) float64 {
	c := max(0, min(100, (1-distance)*100))
	return math.Round(c*100) / 100
}

// Norm returns the L2 norm of v.
func Norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// IsDegenerate reports whether v is empty or effectively the all-zero vector
// an embedding provider emits when it finds no face.
func IsDegenerate(v []float32) bool {
	return len(v) == 0 || Norm(v) <= constants.NormEpsilon
}
