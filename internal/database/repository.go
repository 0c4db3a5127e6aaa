package database

import (
	"context"
	"errors"
)

// Errors returned by the record and candidate stores.
var (
	ErrNotFound        = errors.New("record not found")
	ErrAlreadyResolved = errors.New("record already resolved")
	ErrNoSuchCandidate = errors.New("pair was never produced by the matcher")
)

// RecordReader provides read-only access to embedding records
type RecordReader interface {
	// GetRecord retrieves a record by ID from either pool, returns nil if not found
	GetRecord(ctx context.Context, id string) (*EmbeddingRecord, error)
	// ListMatchable returns every valid, active record of a pool
	ListMatchable(ctx context.Context, pool Pool) ([]EmbeddingRecord, error)
	// ListRecords returns records for display, newest first. Vectors are not loaded.
	ListRecords(ctx context.Context, filter RecordFilter) ([]EmbeddingRecord, error)
	// ListDegenerate returns records flagged valid whose vector is empty or all zero
	ListDegenerate(ctx context.Context, pool Pool) ([]EmbeddingRecord, error)
	// Stats returns registry counters
	Stats(ctx context.Context) (*Stats, error)
}

// RecordWriter provides write access to embedding records
type RecordWriter interface {
	RecordReader

	// SaveRecord inserts a new record. ID, lifecycle and timestamps must be set by the caller.
	SaveRecord(ctx context.Context, rec *EmbeddingRecord) error

	// InvalidateRecord clears the valid flag and removes every candidate referencing the record.
	// Returns ErrNotFound for unknown ids and ErrAlreadyResolved for resolved records.
	InvalidateRecord(ctx context.Context, id string) error
}

// CandidateWriter persists matcher output
type CandidateWriter interface {
	// UpsertCandidate inserts or refreshes the candidate for its (missing, sighting) pair.
	// The write is skipped when either side is no longer valid and active; the returned
	// bool reports whether the candidate was stored.
	UpsertCandidate(ctx context.Context, c MatchCandidate) (bool, error)
}

// CandidateStore provides access to stored match candidates
type CandidateStore interface {
	CandidateWriter

	// GetCandidate returns the candidate for a pair, nil if it was never produced
	GetCandidate(ctx context.Context, missingID, sightingID string) (*MatchCandidate, error)
	// ListCandidates returns candidates whose both records are still valid and active
	ListCandidates(ctx context.Context, filter CandidateFilter) ([]MatchCandidate, error)
}

// Resolver applies the confirm transition
type Resolver interface {
	// Confirm resolves both records against each other in a single transaction.
	Confirm(ctx context.Context, missingID, sightingID string) error
}

// Store is the full storage surface used by the registry
type Store interface {
	RecordWriter
	CandidateStore
	Resolver
}
