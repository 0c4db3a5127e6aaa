package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kozaktomas/reunite/internal/database"
)

// lockLifecycle locks a record row for the rest of the transaction.
func lockLifecycle(ctx context.Context, tx *sql.Tx, table, id string) (database.Lifecycle, error) {
	var lifecycle string
	err := tx.QueryRowContext(ctx,
		fmt.Sprintf("SELECT lifecycle FROM %s WHERE id = $1 FOR UPDATE", table), id,
	).Scan(&lifecycle)
	if errors.Is(err, sql.ErrNoRows) {
		return "", database.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("lock %s: %w", table, err)
	}
	return database.Lifecycle(lifecycle), nil
}

// Confirm resolves both records against each other in a single transaction.
// Rows are always locked missing first, then sighting.
func (r *Repository) Confirm(ctx context.Context, missingID, sightingID string) error {
	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	missingState, err := lockLifecycle(ctx, tx, "missing_persons", missingID)
	if err != nil {
		return err
	}
	sightingState, err := lockLifecycle(ctx, tx, "sightings", sightingID)
	if err != nil {
		return err
	}
	if missingState == database.LifecycleResolved || sightingState == database.LifecycleResolved {
		return database.ErrAlreadyResolved
	}

	var exists bool
	err = tx.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM match_candidates WHERE missing_id = $1 AND sighting_id = $2)",
		missingID, sightingID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check candidate: %w", err)
	}
	if !exists {
		return database.ErrNoSuchCandidate
	}

	now := nowUTC()
	if _, err := tx.ExecContext(ctx,
		"UPDATE missing_persons SET lifecycle = 'resolved', linked_id = $2, resolved_at = $3 WHERE id = $1",
		missingID, sightingID, now,
	); err != nil {
		return fmt.Errorf("resolve missing person: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE sightings SET lifecycle = 'resolved', linked_id = $2, resolved_at = $3 WHERE id = $1",
		sightingID, missingID, now,
	); err != nil {
		return fmt.Errorf("resolve sighting: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE match_candidates SET reviewed = TRUE, updated_at = $3 WHERE missing_id = $1 AND sighting_id = $2",
		missingID, sightingID, now,
	); err != nil {
		return fmt.Errorf("mark candidate reviewed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit confirm: %w", err)
	}
	return nil
}
