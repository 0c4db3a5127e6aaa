package database

import (
	"fmt"
	"strings"
	"time"
)

// Pool identifies which collection owns a record.
type Pool string

// Pool values.
const (
	PoolMissing  Pool = "missing"
	PoolSighting Pool = "sighting"
)

// Pools lists both pools in a stable order.
var Pools = []Pool{PoolMissing, PoolSighting}

// Opposite returns the pool a record of p is matched against.
func (p Pool) Opposite() Pool {
	if p == PoolMissing {
		return PoolSighting
	}
	return PoolMissing
}

// IsValid reports whether p is a known pool.
func (p Pool) IsValid() bool {
	return p == PoolMissing || p == PoolSighting
}

// ParsePool parses a pool name, accepting a few aliases used by older clients.
func ParsePool(s string) (Pool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "missing", "registered", "missing_person", "missing_persons":
		return PoolMissing, nil
	case "sighting", "sightings", "public":
		return PoolSighting, nil
	}
	return "", fmt.Errorf("unknown pool %q", s)
}

// Lifecycle is the match state of a record.
type Lifecycle string

// Lifecycle values. Resolved is terminal.
const (
	LifecycleActive   Lifecycle = "active"
	LifecycleResolved Lifecycle = "resolved"
)

// Tier buckets a candidate by confidence.
type Tier string

// Tier values. Rejected candidates are never persisted.
const (
	TierStrong    Tier = "strong"
	TierPotential Tier = "potential"
	TierRejected  Tier = "rejected"
)

// ParseTier parses a tier name.
func ParseTier(s string) (Tier, error) {
	switch Tier(strings.ToLower(strings.TrimSpace(s))) {
	case TierStrong:
		return TierStrong, nil
	case TierPotential:
		return TierPotential, nil
	case TierRejected:
		return TierRejected, nil
	}
	return "", fmt.Errorf("unknown tier %q", s)
}

// EmbeddingRecord is a face embedding owned by one of the pools.
type EmbeddingRecord struct {
	ID          string
	Pool        Pool
	Vector      []float32
	Valid       bool
	Lifecycle   Lifecycle
	LinkedID    string // Opposite-pool record this one was resolved against
	Label       string // Person name for missing records, free text for sightings
	Location    string
	SubmittedBy string
	CreatedAt   time.Time
	ResolvedAt  *time.Time
}

// IsMatchable reports whether the record may take part in matching.
func (r *EmbeddingRecord) IsMatchable() bool {
	return r.Valid && r.Lifecycle == LifecycleActive
}

// MatchCandidate is a scored pairing of a missing-person record and a sighting.
type MatchCandidate struct {
	MissingID  string
	SightingID string
	Distance   float64
	Confidence float64
	Tier       Tier
	Reviewed   bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// PairKey returns the dedup key of the candidate.
func (c *MatchCandidate) PairKey() string {
	return c.MissingID + "/" + c.SightingID
}

// PartnerID returns the id of the candidate's record in the given pool.
func (c *MatchCandidate) PartnerID(pool Pool) string {
	if pool == PoolMissing {
		return c.MissingID
	}
	return c.SightingID
}

// RecordFilter selects records for listing.
type RecordFilter struct {
	Pool            Pool
	Query           string // Matched against the normalized label
	IncludeResolved bool
	Limit           int
}

// CandidateFilter selects stored candidates.
type CandidateFilter struct {
	Pool     Pool   // Required together with RecordID, orders results by this pool's record otherwise
	RecordID string // Only candidates involving this record
	Tier     Tier   // Empty means strong and potential
	Limit    int
}

// PoolStats holds per-pool counters.
type PoolStats struct {
	Total    int `json:"total"`
	Active   int `json:"active"`
	Resolved int `json:"resolved"`
	Invalid  int `json:"invalid"`
}

// Stats summarizes the registry.
type Stats struct {
	Missing             PoolStats `json:"missing"`
	Sightings           PoolStats `json:"sightings"`
	StrongCandidates    int       `json:"strong_candidates"`
	PotentialCandidates int       `json:"potential_candidates"`
	ConfirmedPairs      int       `json:"confirmed_pairs"`
}
