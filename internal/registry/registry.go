// Package registry is the entry point of the matching engine: it stores submitted
// records, schedules matching and applies operator decisions.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kozaktomas/reunite/internal/constants"
	"github.com/kozaktomas/reunite/internal/database"
	"github.com/kozaktomas/reunite/internal/matching"
)

// ErrInvalidInput marks caller mistakes such as an unknown pool.
var ErrInvalidInput = errors.New("invalid input")

// Config holds the registry settings.
type Config struct {
	Thresholds    matching.Thresholds
	Dim           int
	Workers       int
	RetryAttempts int
	RetryInterval time.Duration
}

// SubmitRequest is a new record as produced by the embedding provider.
type SubmitRequest struct {
	Pool        database.Pool
	Vector      []float32
	Valid       bool // Provider verdict; false when no face was found
	Label       string
	Location    string
	SubmittedBy string
}

// AuditResult lists records flagged valid whose vectors are degenerate.
type AuditResult struct {
	Found       []database.EmbeddingRecord `json:"found"`
	Invalidated int                        `json:"invalidated"`
	Skipped     int                        `json:"skipped"`
	Applied     bool                       `json:"applied"`
}

// Registry wires storage, matcher and coordinator together.
type Registry struct {
	store       database.Store
	coordinator *Coordinator
	thresholds  matching.Thresholds
	dim         int
	logger      *slog.Logger
	metrics     *Metrics
	now         func() time.Time
}

// New creates a registry. metrics may be nil.
func New(store database.Store, cfg Config, logger *slog.Logger, metrics *Metrics) (*Registry, error) {
	if err := cfg.Thresholds.Validate(); err != nil {
		return nil, fmt.Errorf("thresholds: %w", err)
	}
	if cfg.Dim <= 0 {
		cfg.Dim = constants.DefaultEmbeddingDim
	}
	if logger == nil {
		logger = slog.Default()
	}

	matcherOpts := []matching.Option{matching.WithLogger(logger)}
	if metrics != nil {
		matcherOpts = append(matcherOpts, matching.WithObserver(metrics))
	}
	matcher := matching.NewMatcher(store, matcherOpts...)

	coordinator := NewCoordinator(store, matcher,
		WithWorkers(cfg.Workers),
		WithRetry(cfg.RetryAttempts, cfg.RetryInterval),
		WithCoordinatorLogger(logger),
		WithMetrics(metrics),
	)

	return &Registry{
		store:       store,
		coordinator: coordinator,
		thresholds:  cfg.Thresholds,
		dim:         cfg.Dim,
		logger:      logger,
		metrics:     metrics,
		now:         time.Now,
	}, nil
}

// Thresholds returns the configured matching thresholds.
func (r *Registry) Thresholds() matching.Thresholds {
	return r.thresholds
}

// Dim returns the embedding dimensionality a valid record must have.
func (r *Registry) Dim() int {
	return r.dim
}

// Coordinator exposes the scan coordinator.
func (r *Registry) Coordinator() *Coordinator {
	return r.coordinator
}

// Close stops background matching.
func (r *Registry) Close() {
	r.coordinator.Close()
}

// invalidReason explains why a submission cannot take part in matching, empty if it can.
func (r *Registry) invalidReason(req SubmitRequest) string {
	switch {
	case !req.Valid:
		return "provider flagged invalid"
	case len(req.Vector) == 0:
		return "empty vector"
	case len(req.Vector) != r.dim:
		return fmt.Sprintf("dimension %d, expected %d", len(req.Vector), r.dim)
	case matching.IsDegenerate(req.Vector):
		return "degenerate vector"
	}
	return ""
}

// SubmitRecord is the single write path for new records. The record is always
// stored; matching is scheduled in the background only when it is valid.
func (r *Registry) SubmitRecord(ctx context.Context, req SubmitRequest) (*database.EmbeddingRecord, error) {
	if !req.Pool.IsValid() {
		return nil, fmt.Errorf("%w: unknown pool %q", ErrInvalidInput, req.Pool)
	}

	reason := r.invalidReason(req)
	rec := &database.EmbeddingRecord{
		ID:          uuid.NewString(),
		Pool:        req.Pool,
		Vector:      req.Vector,
		Valid:       reason == "",
		Lifecycle:   database.LifecycleActive,
		Label:       req.Label,
		Location:    req.Location,
		SubmittedBy: req.SubmittedBy,
		CreatedAt:   r.now().UTC().Truncate(time.Microsecond),
	}

	if err := r.store.SaveRecord(ctx, rec); err != nil {
		return nil, fmt.Errorf("save record: %w", err)
	}
	r.metrics.recordSubmitted(rec.Pool, rec.Valid)

	if !rec.Valid {
		r.logger.Info("stored record excluded from matching", "record_id", rec.ID, "pool", rec.Pool, "reason", reason)
		return rec, nil
	}

	r.logger.Debug("stored record, scheduling match", "record_id", rec.ID, "pool", rec.Pool)
	r.coordinator.TriggerIncremental(rec, r.thresholds)
	return rec, nil
}

// RunFullRescan rematches every active, valid record of pool. A positive
// maxDistance overrides the configured threshold for this run.
func (r *Registry) RunFullRescan(
	ctx context.Context, pool database.Pool, maxDistance float64, progress ProgressFunc,
) (*RescanResult, error) {
	if !pool.IsValid() {
		return nil, fmt.Errorf("%w: unknown pool %q", ErrInvalidInput, pool)
	}
	th := r.thresholds.WithMaxDistance(maxDistance)
	if err := th.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return r.coordinator.RunFullRescan(ctx, pool, th, progress)
}

// ListMatches returns stored candidates between active, valid records. It never computes.
func (r *Registry) ListMatches(ctx context.Context, filter database.CandidateFilter) ([]database.MatchCandidate, error) {
	if filter.Pool != "" && !filter.Pool.IsValid() {
		return nil, fmt.Errorf("%w: unknown pool %q", ErrInvalidInput, filter.Pool)
	}
	if filter.Tier == database.TierRejected {
		return nil, fmt.Errorf("%w: rejected candidates are never stored", ErrInvalidInput)
	}
	if filter.RecordID != "" && filter.Pool == "" {
		rec, err := r.GetRecord(ctx, filter.RecordID)
		if err != nil {
			return nil, err
		}
		filter.Pool = rec.Pool
	}
	filter.Limit = clampLimit(filter.Limit)

	candidates, err := r.store.ListCandidates(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}
	return candidates, nil
}

// ConfirmMatch resolves a missing person and a sighting against each other.
// Storage failures are returned as-is; the caller decides whether to retry.
func (r *Registry) ConfirmMatch(ctx context.Context, missingID, sightingID string) error {
	if missingID == "" || sightingID == "" {
		return fmt.Errorf("%w: missing_id and sighting_id are required", ErrInvalidInput)
	}
	if err := r.store.Confirm(ctx, missingID, sightingID); err != nil {
		return fmt.Errorf("confirm %s/%s: %w", missingID, sightingID, err)
	}
	r.metrics.matchConfirmed()
	r.logger.Info("match confirmed", "missing_id", missingID, "sighting_id", sightingID)
	return nil
}

// InvalidateRecord removes a record from all future matching while keeping it for audit.
func (r *Registry) InvalidateRecord(ctx context.Context, id string) error {
	if err := r.store.InvalidateRecord(ctx, id); err != nil {
		return fmt.Errorf("invalidate %s: %w", id, err)
	}
	r.metrics.recordInvalidated()
	r.logger.Info("record invalidated", "record_id", id)
	return nil
}

// GetRecord returns a record or ErrNotFound.
func (r *Registry) GetRecord(ctx context.Context, id string) (*database.EmbeddingRecord, error) {
	rec, err := r.store.GetRecord(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	if rec == nil {
		return nil, database.ErrNotFound
	}
	return rec, nil
}

// ListRecords returns records for display. Resolved records are hidden unless requested.
func (r *Registry) ListRecords(ctx context.Context, filter database.RecordFilter) ([]database.EmbeddingRecord, error) {
	if filter.Pool != "" && !filter.Pool.IsValid() {
		return nil, fmt.Errorf("%w: unknown pool %q", ErrInvalidInput, filter.Pool)
	}
	filter.Limit = clampLimit(filter.Limit)

	recs, err := r.store.ListRecords(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	return recs, nil
}

// Statistics returns registry counters.
func (r *Registry) Statistics(ctx context.Context) (*database.Stats, error) {
	st, err := r.store.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}
	return st, nil
}

// AuditDegenerate finds records flagged valid whose vectors are empty or all zero.
// With apply set, each one is invalidated; resolved records are left alone.
func (r *Registry) AuditDegenerate(ctx context.Context, apply bool) (*AuditResult, error) {
	result := &AuditResult{Applied: apply}
	for _, pool := range database.Pools {
		recs, err := r.store.ListDegenerate(ctx, pool)
		if err != nil {
			return nil, fmt.Errorf("list degenerate %s records: %w", pool, err)
		}
		result.Found = append(result.Found, recs...)
	}

	if !apply {
		return result, nil
	}

	for _, rec := range result.Found {
		err := r.InvalidateRecord(ctx, rec.ID)
		switch {
		case errors.Is(err, database.ErrAlreadyResolved):
			result.Skipped++
			r.logger.Warn("degenerate record already resolved", "record_id", rec.ID, "pool", rec.Pool)
		case err != nil:
			return result, err
		default:
			result.Invalidated++
		}
	}
	return result, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return constants.DefaultHandlerPageSize
	}
	return min(limit, constants.MaxHandlerPageSize)
}
