package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/kozaktomas/reunite/internal/database"
)

// upsertCandidateQuery inserts or refreshes a candidate only while both records are
// valid and active. FOR SHARE makes the check wait for a concurrent confirm or
// invalidate to commit, so a candidate never lands on a record that just left matching.
const upsertCandidateQuery = `
	INSERT INTO match_candidates (missing_id, sighting_id, distance, confidence, tier, reviewed, created_at, updated_at)
	SELECT $1::text, $2::text, $3::double precision, $4::double precision, $5::varchar, FALSE, $6::timestamptz, $6::timestamptz
	WHERE EXISTS (
		SELECT 1 FROM missing_persons WHERE id = $1 AND valid AND lifecycle = 'active' FOR SHARE
	) AND EXISTS (
		SELECT 1 FROM sightings WHERE id = $2 AND valid AND lifecycle = 'active' FOR SHARE
	)
	ON CONFLICT (missing_id, sighting_id) DO UPDATE SET
		distance = EXCLUDED.distance,
		confidence = EXCLUDED.confidence,
		tier = EXCLUDED.tier,
		updated_at = EXCLUDED.updated_at
`

// UpsertCandidate inserts or refreshes the candidate for its (missing, sighting) pair
func (r *Repository) UpsertCandidate(ctx context.Context, c database.MatchCandidate) (bool, error) {
	updatedAt := c.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = nowUTC()
	}

	result, err := r.pool.Exec(ctx, upsertCandidateQuery,
		c.MissingID,
		c.SightingID,
		c.Distance,
		c.Confidence,
		string(c.Tier),
		updatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("upsert candidate: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("upsert candidate rows affected: %w", err)
	}
	return n > 0, nil
}

const candidateColumns = `c.missing_id, c.sighting_id, c.distance, c.confidence, c.tier, c.reviewed, c.created_at, c.updated_at`

func scanCandidate(row rowScanner) (*database.MatchCandidate, error) {
	var c database.MatchCandidate
	var tier string
	if err := row.Scan(
		&c.MissingID,
		&c.SightingID,
		&c.Distance,
		&c.Confidence,
		&tier,
		&c.Reviewed,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		return nil, err //nolint:wrapcheck // callers wrap with query context
	}
	c.Tier = database.Tier(tier)
	return &c, nil
}

// GetCandidate returns the candidate for a pair, nil if it was never produced
func (r *Repository) GetCandidate(ctx context.Context, missingID, sightingID string) (*database.MatchCandidate, error) {
	query := `SELECT ` + candidateColumns + `
		FROM match_candidates c
		WHERE c.missing_id = $1 AND c.sighting_id = $2
	`
	c, err := scanCandidate(r.pool.QueryRow(ctx, query, missingID, sightingID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query candidate: %w", err)
	}
	return c, nil
}

// ListCandidates returns candidates whose both records are still valid and active.
// Results are ordered by distance, grouped by the filter pool's record when no
// single record is requested.
func (r *Repository) ListCandidates(ctx context.Context, filter database.CandidateFilter) ([]database.MatchCandidate, error) {
	tiers := []string{string(database.TierStrong), string(database.TierPotential)}
	if filter.Tier != "" {
		tiers = []string{string(filter.Tier)}
	}

	args := []any{pq.Array(tiers)}
	conditions := []string{
		"m.valid", "m.lifecycle = 'active'",
		"s.valid", "s.lifecycle = 'active'",
		"c.tier = ANY($1)",
	}

	groupBy := ""
	switch {
	case filter.RecordID != "":
		column := "c.sighting_id"
		if filter.Pool == database.PoolMissing {
			column = "c.missing_id"
		}
		args = append(args, filter.RecordID)
		conditions = append(conditions, fmt.Sprintf("%s = $%d", column, len(args)))
	case filter.Pool == database.PoolMissing:
		groupBy = "c.missing_id, "
	case filter.Pool == database.PoolSighting:
		groupBy = "c.sighting_id, "
	}

	query := `SELECT ` + candidateColumns + `
		FROM match_candidates c
		JOIN missing_persons m ON m.id = c.missing_id
		JOIN sightings s ON s.id = c.sighting_id
		WHERE ` + strings.Join(conditions, " AND ") + `
		ORDER BY ` + groupBy + `c.distance, c.missing_id, c.sighting_id`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query candidates: %w", err)
	}
	defer rows.Close()

	var out []database.MatchCandidate
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candidates: %w", err)
	}
	return out, nil
}
