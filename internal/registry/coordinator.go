package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/kozaktomas/reunite/internal/constants"
	"github.com/kozaktomas/reunite/internal/database"
	"github.com/kozaktomas/reunite/internal/matching"
)

// ErrMatchInProgress is returned when a record is already being matched.
// Callers treat it as a completed no-op.
var ErrMatchInProgress = errors.New("match already in progress for record")

// Rescan outcomes used for metrics.
const (
	outcomeProcessed = "processed"
	outcomeSkipped   = "skipped"
	outcomeFailed    = "failed"
)

// CoordinatorStore is what the coordinator needs from storage.
type CoordinatorStore interface {
	database.RecordReader
	database.CandidateWriter
}

// RescanProgress is reported after every record unit of a full rescan.
type RescanProgress struct {
	Done       int `json:"done"`
	Total      int `json:"total"`
	Candidates int `json:"candidates"`
}

// ProgressFunc receives rescan progress. Calls are serialized.
type ProgressFunc func(RescanProgress)

// RescanResult summarizes a full rescan.
type RescanResult struct {
	Pool       database.Pool `json:"pool"`
	Total      int           `json:"total"`
	Processed  int           `json:"processed"`
	Skipped    int           `json:"skipped"` // Already being matched by another trigger
	Failed     int           `json:"failed"`
	Candidates int           `json:"candidates"`
	Cancelled  bool          `json:"cancelled"`
	Duration   time.Duration `json:"duration_ns"`
}

// Coordinator decides when matching runs and keeps at most one matching
// unit per record id in flight.
type Coordinator struct {
	store         CoordinatorStore
	matcher       *matching.Matcher
	logger        *slog.Logger
	metrics       *Metrics
	workers       int
	retryAttempts int
	retryInterval time.Duration

	mu       sync.Mutex
	inflight map[string]struct{}
	closed   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithWorkers sets the full-rescan parallelism.
func WithWorkers(n int) CoordinatorOption {
	return func(c *Coordinator) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithRetry sets how often and how soon candidate persistence is retried.
func WithRetry(attempts int, initialInterval time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		if attempts > 0 {
			c.retryAttempts = attempts
		}
		if initialInterval > 0 {
			c.retryInterval = initialInterval
		}
	}
}

// WithCoordinatorLogger sets the logger.
func WithCoordinatorLogger(l *slog.Logger) CoordinatorOption {
	return func(c *Coordinator) { c.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *Metrics) CoordinatorOption {
	return func(c *Coordinator) { c.metrics = m }
}

// NewCoordinator creates a coordinator. Close must be called to stop pending triggers.
func NewCoordinator(store CoordinatorStore, matcher *matching.Matcher, opts ...CoordinatorOption) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		store:         store,
		matcher:       matcher,
		logger:        slog.Default(),
		workers:       constants.WorkerPoolSize,
		retryAttempts: constants.DefaultRetryAttempts,
		retryInterval: 100 * time.Millisecond,
		inflight:      make(map[string]struct{}),
		ctx:           ctx,
		cancel:        cancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Coordinator) acquire(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.inflight[id]; busy {
		return false
	}
	c.inflight[id] = struct{}{}
	return true
}

func (c *Coordinator) release(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inflight, id)
}

// InFlight reports whether a record is currently being matched.
func (c *Coordinator) InFlight(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, busy := c.inflight[id]
	return busy
}

// TriggerIncremental matches a freshly stored record in the background and returns
// immediately. The work is bound to the coordinator's lifetime, not to the caller.
func (c *Coordinator) TriggerIncremental(rec *database.EmbeddingRecord, th matching.Thresholds) {
	if rec == nil || !rec.IsMatchable() {
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.logger.Debug("coordinator closed, dropping trigger", "record_id", rec.ID)
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()

	id := rec.ID
	go func() {
		defer c.wg.Done()

		candidates, err := c.MatchRecord(c.ctx, id, th)
		switch {
		case errors.Is(err, ErrMatchInProgress):
			c.metrics.matchCoalesced()
			c.logger.Debug("match already in progress, trigger coalesced", "record_id", id)
		case errors.Is(err, context.Canceled):
			c.logger.Debug("incremental match cancelled", "record_id", id)
		case err != nil:
			c.logger.Error("incremental match failed", "record_id", id, "error", err)
		default:
			c.logger.Debug("incremental match done", "record_id", id, "candidates", len(candidates))
		}
	}()
}

// MatchRecord synchronously matches one stored record against the current opposite pool.
func (c *Coordinator) MatchRecord(ctx context.Context, id string, th matching.Thresholds) ([]database.MatchCandidate, error) {
	if !c.acquire(id) {
		return nil, ErrMatchInProgress
	}
	defer c.release(id)

	rec, err := c.store.GetRecord(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load record: %w", err)
	}
	if rec == nil {
		return nil, database.ErrNotFound
	}
	if !rec.IsMatchable() {
		return nil, nil
	}

	opposite, err := c.store.ListMatchable(ctx, rec.Pool.Opposite())
	if err != nil {
		return nil, fmt.Errorf("load %s pool: %w", rec.Pool.Opposite(), err)
	}
	return c.match(ctx, rec, opposite, th)
}

// runUnit is the rescan flavour of MatchRecord: the opposite pool is loaded once by the caller.
func (c *Coordinator) runUnit(
	ctx context.Context, rec *database.EmbeddingRecord, opposite []database.EmbeddingRecord, th matching.Thresholds,
) ([]database.MatchCandidate, error) {
	if !c.acquire(rec.ID) {
		return nil, ErrMatchInProgress
	}
	defer c.release(rec.ID)
	return c.match(ctx, rec, opposite, th)
}

// match runs the matcher, retrying transient storage failures. Re-running is safe
// because candidate writes are upserts.
func (c *Coordinator) match(
	ctx context.Context, rec *database.EmbeddingRecord, opposite []database.EmbeddingRecord, th matching.Thresholds,
) ([]database.MatchCandidate, error) {
	done := c.metrics.matchStarted()
	defer done()

	var stored []database.MatchCandidate
	operation := func() error {
		var err error
		stored, err = c.matcher.MatchOneAgainstAll(ctx, rec, opposite, th)
		if err != nil && ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.retryInterval
	eb.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(c.retryAttempts-1)), ctx)

	notify := func(err error, wait time.Duration) {
		c.logger.Warn("persisting candidates failed, retrying", "record_id", rec.ID, "wait", wait, "error", err)
	}
	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		return stored, err
	}
	return stored, nil
}

// RunFullRescan matches every active, valid record of pool against the opposite
// pool with bounded parallelism. Cancelling ctx stops scheduling new records;
// units already running finish or abort cleanly and the partial result is returned.
func (c *Coordinator) RunFullRescan(
	ctx context.Context, pool database.Pool, th matching.Thresholds, progress ProgressFunc,
) (*RescanResult, error) {
	if !pool.IsValid() {
		return nil, fmt.Errorf("unknown pool %q", pool)
	}
	start := time.Now()

	records, err := c.store.ListMatchable(ctx, pool)
	if err != nil {
		return nil, fmt.Errorf("load %s pool: %w", pool, err)
	}
	opposite, err := c.store.ListMatchable(ctx, pool.Opposite())
	if err != nil {
		return nil, fmt.Errorf("load %s pool: %w", pool.Opposite(), err)
	}

	result := &RescanResult{Pool: pool, Total: len(records)}
	var mu sync.Mutex
	done := 0

	var g errgroup.Group
	g.SetLimit(c.workers)

	for i := range records {
		if ctx.Err() != nil {
			break
		}
		rec := &records[i]
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			stored, err := c.runUnit(ctx, rec, opposite, th)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case errors.Is(err, ErrMatchInProgress):
				result.Skipped++
				c.metrics.rescanRecord(pool, outcomeSkipped)
			case err != nil && ctx.Err() != nil:
				return nil
			case err != nil:
				result.Failed++
				c.metrics.rescanRecord(pool, outcomeFailed)
				c.logger.Error("rescan unit failed", "record_id", rec.ID, "error", err)
			default:
				result.Processed++
				c.metrics.rescanRecord(pool, outcomeProcessed)
			}
			result.Candidates += len(stored)
			done++
			if progress != nil {
				progress(RescanProgress{Done: done, Total: result.Total, Candidates: result.Candidates})
			}
			return nil
		})
	}
	_ = g.Wait()

	result.Cancelled = ctx.Err() != nil
	result.Duration = time.Since(start)
	c.logger.Info("rescan finished",
		"pool", pool, "total", result.Total, "processed", result.Processed,
		"skipped", result.Skipped, "failed", result.Failed,
		"candidates", result.Candidates, "cancelled", result.Cancelled)
	return result, nil
}

// Close cancels pending automatic triggers and waits for them to return.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
}

// Wait blocks until every automatic trigger started so far has finished.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}
