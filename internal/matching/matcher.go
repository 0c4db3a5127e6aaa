package matching

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/kozaktomas/reunite/internal/database"
)

// Observer receives matcher events. Implementations must be safe for concurrent use.
type Observer interface {
	// CandidateStored is called for every candidate written to the store.
	CandidateStored(tier database.Tier)
	// InvalidPair is called when the distance engine rejects a pair.
	InvalidPair()
}

type nopObserver struct{}

func (nopObserver) CandidateStored(database.Tier) {}
func (nopObserver) InvalidPair()                  {}

// Matcher compares one record against the opposite pool and persists the candidates.
type Matcher struct {
	store    database.CandidateWriter
	distance DistanceFunc
	logger   *slog.Logger
	observer Observer
	now      func() time.Time
}

// Option configures a Matcher.
type Option func(*Matcher)

// WithDistance replaces the distance function (CosineDistance by default).
func WithDistance(fn DistanceFunc) Option {
	return func(m *Matcher) { m.distance = fn }
}

// WithLogger sets the logger used for data-integrity warnings.
func WithLogger(l *slog.Logger) Option {
	return func(m *Matcher) { m.logger = l }
}

// WithObserver sets the event observer (metrics).
func WithObserver(o Observer) Option {
	return func(m *Matcher) { m.observer = o }
}

// NewMatcher creates a matcher writing candidates to store.
func NewMatcher(store database.CandidateWriter, opts ...Option) *Matcher {
	m := &Matcher{
		store:    store,
		distance: CosineDistance,
		logger:   slog.Default(),
		observer: nopObserver{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Score returns the ranked candidates of record against opposite without persisting them.
// Invalid or resolved records yield no candidates and never reach the distance function.
func (m *Matcher) Score(record *database.EmbeddingRecord, opposite []database.EmbeddingRecord, th Thresholds) []database.MatchCandidate {
	if record == nil || !record.IsMatchable() {
		return nil
	}

	now := m.now().UTC()
	var candidates []database.MatchCandidate
	for i := range opposite {
		other := &opposite[i]
		if other.Pool == record.Pool || !other.IsMatchable() || other.ID == record.ID {
			continue
		}

		distance, err := m.distance(record.Vector, other.Vector)
		if err != nil {
			m.observer.InvalidPair()
			m.logger.Warn("skipping pair with unusable embedding",
				"record_id", record.ID, "partner_id", other.ID, "error", err)
			continue
		}
		if distance > th.MaxDistance {
			continue
		}

		confidence := Confidence(distance)
		tier := th.TierFor(confidence)
		if tier == database.TierRejected {
			continue
		}

		c := database.MatchCandidate{
			Distance:   distance,
			Confidence: confidence,
			Tier:       tier,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if record.Pool == database.PoolMissing {
			c.MissingID, c.SightingID = record.ID, other.ID
		} else {
			c.MissingID, c.SightingID = other.ID, record.ID
		}
		candidates = append(candidates, c)
	}

	slices.SortStableFunc(candidates, func(a, b database.MatchCandidate) int {
		if c := cmp.Compare(a.Distance, b.Distance); c != 0 {
			return c
		}
		return cmp.Compare(a.PairKey(), b.PairKey())
	})
	return candidates
}

// MatchOneAgainstAll scores record against the opposite pool and upserts every
// surviving candidate, closest first. Candidates skipped by the store because a
// side stopped being matchable are left out of the result.
func (m *Matcher) MatchOneAgainstAll(
	ctx context.Context, record *database.EmbeddingRecord, opposite []database.EmbeddingRecord, th Thresholds,
) ([]database.MatchCandidate, error) {
	candidates := m.Score(record, opposite, th)
	if len(candidates) == 0 {
		return nil, nil
	}

	stored := make([]database.MatchCandidate, 0, len(candidates))
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return stored, err
		}
		ok, err := m.store.UpsertCandidate(ctx, c)
		if err != nil {
			return stored, fmt.Errorf("upsert candidate %s: %w", c.PairKey(), err)
		}
		if !ok {
			continue
		}
		m.observer.CandidateStored(c.Tier)
		m.logger.Info("match candidate",
			"missing_id", c.MissingID, "sighting_id", c.SightingID,
			"distance", c.Distance, "confidence", c.Confidence, "tier", c.Tier)
		stored = append(stored, c)
	}
	return stored, nil
}
