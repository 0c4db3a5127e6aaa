// Package mock provides an in-memory implementation of database.Store for testing.
package mock

import (
	"cmp"
	"context"
	"math"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kozaktomas/reunite/internal/constants"
	"github.com/kozaktomas/reunite/internal/database"
)

// Store is an in-memory database.Store with the same semantics as the PostgreSQL backend.
type Store struct {
	mu         sync.RWMutex
	records    map[string]*database.EmbeddingRecord
	candidates map[string]*database.MatchCandidate

	// Error injection
	SaveError       error
	GetError        error
	ListError       error
	UpsertError     error
	UpsertFailures  atomic.Int32 // Number of upcoming upserts that fail with UpsertError
	InvalidateError error
	StatsError      error

	// ConfirmFailAfterFirstWrite makes Confirm fail after the missing-person side has been
	// updated inside the transaction, to exercise rollback.
	ConfirmFailAfterFirstWrite error

	upserts atomic.Int64
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		records:    make(map[string]*database.EmbeddingRecord),
		candidates: make(map[string]*database.MatchCandidate),
	}
}

func cloneRecord(r *database.EmbeddingRecord, withVector bool) database.EmbeddingRecord {
	out := *r
	if withVector {
		out.Vector = slices.Clone(r.Vector)
	} else {
		out.Vector = nil
	}
	if r.ResolvedAt != nil {
		t := *r.ResolvedAt
		out.ResolvedAt = &t
	}
	return out
}

func pairKey(missingID, sightingID string) string {
	return missingID + "/" + sightingID
}

// AddRecord stores a record directly, bypassing SaveRecord validation
func (s *Store) AddRecord(rec database.EmbeddingRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.Lifecycle == "" {
		rec.Lifecycle = database.LifecycleActive
	}
	c := cloneRecord(&rec, true)
	s.records[rec.ID] = &c
}

// UpsertCount returns the number of successful UpsertCandidate calls
func (s *Store) UpsertCount() int64 {
	return s.upserts.Load()
}

// CandidateCount returns the number of stored candidates, including those of resolved records
func (s *Store) CandidateCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.candidates)
}

// SaveRecord inserts a new record
func (s *Store) SaveRecord(ctx context.Context, rec *database.EmbeddingRecord) error {
	if s.SaveError != nil {
		return s.SaveError
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c := cloneRecord(rec, true)
	s.records[rec.ID] = &c
	return nil
}

// GetRecord retrieves a record by ID, returns nil if not found
func (s *Store) GetRecord(ctx context.Context, id string) (*database.EmbeddingRecord, error) {
	if s.GetError != nil {
		return nil, s.GetError
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, nil
	}
	out := cloneRecord(rec, true)
	return &out, nil
}

// ListMatchable returns every valid, active record of a pool
func (s *Store) ListMatchable(ctx context.Context, pool database.Pool) ([]database.EmbeddingRecord, error) {
	if s.ListError != nil {
		return nil, s.ListError
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []database.EmbeddingRecord
	for _, rec := range s.records {
		if rec.Pool == pool && rec.IsMatchable() {
			out = append(out, cloneRecord(rec, true))
		}
	}
	slices.SortFunc(out, func(a, b database.EmbeddingRecord) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

// ListRecords returns records for display, newest first
func (s *Store) ListRecords(ctx context.Context, filter database.RecordFilter) ([]database.EmbeddingRecord, error) {
	if s.ListError != nil {
		return nil, s.ListError
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []database.EmbeddingRecord
	for _, rec := range s.records {
		if filter.Pool != "" && rec.Pool != filter.Pool {
			continue
		}
		if !filter.IncludeResolved && rec.Lifecycle == database.LifecycleResolved {
			continue
		}
		if !database.LabelMatches(rec.Label, filter.Query) {
			continue
		}
		out = append(out, cloneRecord(rec, false))
	}
	slices.SortFunc(out, func(a, b database.EmbeddingRecord) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// ListDegenerate returns valid-flagged records whose vector is empty or has a near-zero norm
func (s *Store) ListDegenerate(ctx context.Context, pool database.Pool) ([]database.EmbeddingRecord, error) {
	if s.ListError != nil {
		return nil, s.ListError
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []database.EmbeddingRecord
	for _, rec := range s.records {
		if rec.Pool != pool || !rec.Valid {
			continue
		}
		if isDegenerate(rec.Vector) {
			out = append(out, cloneRecord(rec, false))
		}
	}
	slices.SortFunc(out, func(a, b database.EmbeddingRecord) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

// isDegenerate mirrors the vector_norm check of the PostgreSQL store.
func isDegenerate(v []float32) bool {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return len(v) == 0 || math.Sqrt(sum) <= constants.NormEpsilon
}

// InvalidateRecord clears the valid flag and drops the record's candidates
func (s *Store) InvalidateRecord(ctx context.Context, id string) error {
	if s.InvalidateError != nil {
		return s.InvalidateError
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return database.ErrNotFound
	}
	if rec.Lifecycle == database.LifecycleResolved {
		return database.ErrAlreadyResolved
	}
	rec.Valid = false
	for key, c := range s.candidates {
		if c.MissingID == id || c.SightingID == id {
			delete(s.candidates, key)
		}
	}
	return nil
}

// UpsertCandidate inserts or refreshes a candidate if both sides are still matchable
func (s *Store) UpsertCandidate(ctx context.Context, c database.MatchCandidate) (bool, error) {
	if s.UpsertError != nil && s.UpsertFailures.Load() > 0 {
		s.UpsertFailures.Add(-1)
		return false, s.UpsertError
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	m, okM := s.records[c.MissingID]
	si, okS := s.records[c.SightingID]
	if !okM || !okS || m.Pool != database.PoolMissing || si.Pool != database.PoolSighting ||
		!m.IsMatchable() || !si.IsMatchable() {
		return false, nil
	}

	key := pairKey(c.MissingID, c.SightingID)
	if existing, ok := s.candidates[key]; ok {
		existing.Distance = c.Distance
		existing.Confidence = c.Confidence
		existing.Tier = c.Tier
		existing.UpdatedAt = c.UpdatedAt
	} else {
		stored := c
		s.candidates[key] = &stored
	}
	s.upserts.Add(1)
	return true, nil
}

// GetCandidate returns the candidate for a pair, nil if it was never produced
func (s *Store) GetCandidate(ctx context.Context, missingID, sightingID string) (*database.MatchCandidate, error) {
	if s.GetError != nil {
		return nil, s.GetError
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.candidates[pairKey(missingID, sightingID)]
	if !ok {
		return nil, nil
	}
	out := *c
	return &out, nil
}

// ListCandidates returns candidates whose both records are valid and active
func (s *Store) ListCandidates(ctx context.Context, filter database.CandidateFilter) ([]database.MatchCandidate, error) {
	if s.ListError != nil {
		return nil, s.ListError
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []database.MatchCandidate
	for _, c := range s.candidates {
		m, si := s.records[c.MissingID], s.records[c.SightingID]
		if m == nil || si == nil || !m.IsMatchable() || !si.IsMatchable() {
			continue
		}
		if filter.Tier != "" && c.Tier != filter.Tier {
			continue
		}
		if filter.Tier == "" && c.Tier == database.TierRejected {
			continue
		}
		if filter.RecordID != "" && c.PartnerID(filter.Pool) != filter.RecordID {
			continue
		}
		out = append(out, *c)
	}
	slices.SortFunc(out, func(a, b database.MatchCandidate) int {
		if filter.Pool != "" && filter.RecordID == "" {
			if c := cmp.Compare(a.PartnerID(filter.Pool), b.PartnerID(filter.Pool)); c != 0 {
				return c
			}
		}
		if c := cmp.Compare(a.Distance, b.Distance); c != 0 {
			return c
		}
		return cmp.Compare(a.PairKey(), b.PairKey())
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Confirm resolves both records against each other, all or nothing
func (s *Store) Confirm(ctx context.Context, missingID, sightingID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, okM := s.records[missingID]
	si, okS := s.records[sightingID]
	if !okM || !okS || m.Pool != database.PoolMissing || si.Pool != database.PoolSighting {
		return database.ErrNotFound
	}
	if m.Lifecycle == database.LifecycleResolved || si.Lifecycle == database.LifecycleResolved {
		return database.ErrAlreadyResolved
	}
	c, ok := s.candidates[pairKey(missingID, sightingID)]
	if !ok {
		return database.ErrNoSuchCandidate
	}

	// Work on copies and swap them in only once every step succeeded.
	now := time.Now().UTC()
	newM, newS, newC := cloneRecord(m, true), cloneRecord(si, true), *c

	newM.Lifecycle = database.LifecycleResolved
	newM.LinkedID = sightingID
	newM.ResolvedAt = &now
	if s.ConfirmFailAfterFirstWrite != nil {
		return s.ConfirmFailAfterFirstWrite
	}
	newS.Lifecycle = database.LifecycleResolved
	newS.LinkedID = missingID
	newS.ResolvedAt = &now
	newC.Reviewed = true

	s.records[missingID] = &newM
	s.records[sightingID] = &newS
	s.candidates[pairKey(missingID, sightingID)] = &newC
	return nil
}

// Stats returns registry counters
func (s *Store) Stats(ctx context.Context) (*database.Stats, error) {
	if s.StatsError != nil {
		return nil, s.StatsError
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var st database.Stats
	for _, rec := range s.records {
		ps := &st.Missing
		if rec.Pool == database.PoolSighting {
			ps = &st.Sightings
		}
		ps.Total++
		if !rec.Valid {
			ps.Invalid++
		}
		if rec.Lifecycle == database.LifecycleResolved {
			ps.Resolved++
		} else {
			ps.Active++
		}
	}
	for _, c := range s.candidates {
		m, si := s.records[c.MissingID], s.records[c.SightingID]
		if m != nil && si != nil && m.IsMatchable() && si.IsMatchable() {
			switch c.Tier {
			case database.TierStrong:
				st.StrongCandidates++
			case database.TierPotential:
				st.PotentialCandidates++
			}
		}
		if m != nil && m.Lifecycle == database.LifecycleResolved && m.LinkedID == c.SightingID {
			st.ConfirmedPairs++
		}
	}
	return &st, nil
}
