// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

// Embedding constants
const (
	// DefaultEmbeddingDim is the face embedding dimension (512 for ArcFace/buffalo_l)
	DefaultEmbeddingDim = 512

	// NormEpsilon is the smallest L2 norm a usable embedding may have.
	// Anything at or below it is treated as the all-zero "no face" vector.
	NormEpsilon = 1e-6
)

// Matching constants
const (
	// DefaultMaxDistance is the default maximum cosine distance for a candidate.
	// Lower values = stricter matching
	DefaultMaxDistance = 0.60

	// DefaultStrongConfidence is the minimum confidence (percent) for a strong candidate
	DefaultStrongConfidence = 80.0

	// DefaultPotentialConfidence is the minimum confidence (percent) for a potential candidate
	DefaultPotentialConfidence = 60.0
)

// Processing constants
const (
	// WorkerPoolSize is the default number of parallel workers for a full rescan
	WorkerPoolSize = 8

	// DefaultRetryAttempts is how many times candidate persistence is retried
	DefaultRetryAttempts = 3

	// MaxImageSize is the maximum dimension (width or height) sent to the embedding provider
	MaxImageSize = 1920
)
