package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"

	"github.com/kozaktomas/reunite/internal/constants"
	"github.com/kozaktomas/reunite/internal/database"
)

// Repository is the PostgreSQL-backed record and candidate store.
type Repository struct {
	pool *Pool
}

// NewRepository creates a new PostgreSQL repository
func NewRepository(pool *Pool) *Repository {
	return &Repository{pool: pool}
}

var _ database.Store = (*Repository)(nil)

// tableFor maps a pool to its record table.
func tableFor(pool database.Pool) (string, error) {
	switch pool {
	case database.PoolMissing:
		return "missing_persons", nil
	case database.PoolSighting:
		return "sightings", nil
	}
	return "", fmt.Errorf("unknown pool %q", pool)
}

// recordSelect builds the column list of a record query. Listing queries skip the vector.
func recordSelect(table string, pool database.Pool, withVector bool) string {
	embedding := "embedding"
	if !withVector {
		embedding = "NULL::vector"
	}
	return fmt.Sprintf(`
		SELECT id, '%s', %s, valid, lifecycle, linked_id, label, location, submitted_by, created_at, resolved_at
		FROM %s`, pool, embedding, table)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*database.EmbeddingRecord, error) {
	var rec database.EmbeddingRecord
	var pool, lifecycle string
	var vec *pgvector.Vector
	var linkedID sql.NullString
	var resolvedAt sql.NullTime

	if err := row.Scan(
		&rec.ID,
		&pool,
		&vec,
		&rec.Valid,
		&lifecycle,
		&linkedID,
		&rec.Label,
		&rec.Location,
		&rec.SubmittedBy,
		&rec.CreatedAt,
		&resolvedAt,
	); err != nil {
		return nil, err //nolint:wrapcheck // callers wrap with query context
	}

	rec.Pool = database.Pool(pool)
	rec.Lifecycle = database.Lifecycle(lifecycle)
	rec.LinkedID = linkedID.String
	if vec != nil {
		rec.Vector = vec.Slice()
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time
		rec.ResolvedAt = &t
	}
	return &rec, nil
}

func scanRecords(rows *sql.Rows) ([]database.EmbeddingRecord, error) {
	defer rows.Close()

	var out []database.EmbeddingRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}

// SaveRecord inserts a new record into its pool's table
func (r *Repository) SaveRecord(ctx context.Context, rec *database.EmbeddingRecord) error {
	table, err := tableFor(rec.Pool)
	if err != nil {
		return err
	}

	// Empty vectors (no face detected) are stored as NULL, never as zeros.
	var embedding any
	if len(rec.Vector) > 0 {
		embedding = pgvector.NewVector(rec.Vector)
	}

	lifecycle := rec.Lifecycle
	if lifecycle == "" {
		lifecycle = database.LifecycleActive
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, embedding, dim, valid, lifecycle, label, label_norm, location, submitted_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, table)

	_, err = r.pool.Exec(ctx, query,
		rec.ID,
		embedding,
		len(rec.Vector),
		rec.Valid,
		string(lifecycle),
		rec.Label,
		database.NormalizeLabel(rec.Label),
		rec.Location,
		rec.SubmittedBy,
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

// GetRecord retrieves a record by ID from either pool, returns nil if not found
func (r *Repository) GetRecord(ctx context.Context, id string) (*database.EmbeddingRecord, error) {
	query := recordSelect("missing_persons", database.PoolMissing, true) + " WHERE id = $1" +
		" UNION ALL " +
		recordSelect("sightings", database.PoolSighting, true) + " WHERE id = $1"

	rec, err := scanRecord(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query record: %w", err)
	}
	return rec, nil
}

// ListMatchable returns every valid, active record of a pool
func (r *Repository) ListMatchable(ctx context.Context, pool database.Pool) ([]database.EmbeddingRecord, error) {
	table, err := tableFor(pool)
	if err != nil {
		return nil, err
	}

	query := recordSelect(table, pool, true) + `
		WHERE valid AND lifecycle = 'active' AND embedding IS NOT NULL
		ORDER BY id
	`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query matchable records: %w", err)
	}
	return scanRecords(rows)
}

// ListRecords returns records for display, newest first. Vectors are not loaded.
func (r *Repository) ListRecords(ctx context.Context, filter database.RecordFilter) ([]database.EmbeddingRecord, error) {
	pools := database.Pools
	if filter.Pool != "" {
		pools = []database.Pool{filter.Pool}
	}

	var conditions []string
	var args []any
	if !filter.IncludeResolved {
		conditions = append(conditions, "lifecycle = 'active'")
	}
	if q := database.NormalizeLabel(filter.Query); q != "" {
		args = append(args, q)
		conditions = append(conditions, fmt.Sprintf("strpos(label_norm, $%d) > 0", len(args)))
	}
	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	parts := make([]string, 0, len(pools))
	for _, pool := range pools {
		table, err := tableFor(pool)
		if err != nil {
			return nil, err
		}
		parts = append(parts, recordSelect(table, pool, false)+where)
	}

	query := strings.Join(parts, " UNION ALL ") + " ORDER BY created_at DESC, id"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	return scanRecords(rows)
}

// ListDegenerate returns records flagged valid whose vector is empty or all zero
func (r *Repository) ListDegenerate(ctx context.Context, pool database.Pool) ([]database.EmbeddingRecord, error) {
	table, err := tableFor(pool)
	if err != nil {
		return nil, err
	}

	query := recordSelect(table, pool, false) + `
		WHERE valid AND (embedding IS NULL OR dim = 0 OR vector_norm(embedding) <= $1)
		ORDER BY id
	`
	rows, err := r.pool.Query(ctx, query, constants.NormEpsilon)
	if err != nil {
		return nil, fmt.Errorf("query degenerate records: %w", err)
	}
	return scanRecords(rows)
}

// InvalidateRecord clears the valid flag and removes every candidate referencing the record
func (r *Repository) InvalidateRecord(ctx context.Context, id string) error {
	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, pool := range database.Pools {
		table, _ := tableFor(pool)

		var lifecycle string
		err := tx.QueryRowContext(ctx,
			fmt.Sprintf("SELECT lifecycle FROM %s WHERE id = $1 FOR UPDATE", table), id,
		).Scan(&lifecycle)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return fmt.Errorf("lock record: %w", err)
		}
		if database.Lifecycle(lifecycle) == database.LifecycleResolved {
			return database.ErrAlreadyResolved
		}

		if _, err := tx.ExecContext(ctx, fmt.Sprintf("UPDATE %s SET valid = FALSE WHERE id = $1", table), id); err != nil {
			return fmt.Errorf("invalidate record: %w", err)
		}

		column := "missing_id"
		if pool == database.PoolSighting {
			column = "sighting_id"
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM match_candidates WHERE %s = $1", column), id); err != nil {
			return fmt.Errorf("delete candidates: %w", err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit invalidate: %w", err)
		}
		return nil
	}
	return database.ErrNotFound
}

// Stats returns registry counters
func (r *Repository) Stats(ctx context.Context) (*database.Stats, error) {
	var st database.Stats

	for _, pool := range database.Pools {
		table, _ := tableFor(pool)
		ps := &st.Missing
		if pool == database.PoolSighting {
			ps = &st.Sightings
		}
		err := r.pool.QueryRow(ctx, fmt.Sprintf(`
			SELECT COUNT(*),
			       COUNT(*) FILTER (WHERE lifecycle = 'active'),
			       COUNT(*) FILTER (WHERE lifecycle = 'resolved'),
			       COUNT(*) FILTER (WHERE NOT valid)
			FROM %s
		`, table)).Scan(&ps.Total, &ps.Active, &ps.Resolved, &ps.Invalid)
		if err != nil {
			return nil, fmt.Errorf("count %s: %w", table, err)
		}
	}

	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FILTER (WHERE c.tier = 'strong'),
		       COUNT(*) FILTER (WHERE c.tier = 'potential')
		FROM match_candidates c
		JOIN missing_persons m ON m.id = c.missing_id
		JOIN sightings s ON s.id = c.sighting_id
		WHERE m.valid AND m.lifecycle = 'active' AND s.valid AND s.lifecycle = 'active'
	`).Scan(&st.StrongCandidates, &st.PotentialCandidates)
	if err != nil {
		return nil, fmt.Errorf("count candidates: %w", err)
	}

	err = r.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM match_candidates c
		JOIN missing_persons m ON m.id = c.missing_id
		WHERE m.lifecycle = 'resolved' AND m.linked_id = c.sighting_id
	`).Scan(&st.ConfirmedPairs)
	if err != nil {
		return nil, fmt.Errorf("count confirmed pairs: %w", err)
	}
	return &st, nil
}

// nowUTC truncates to microseconds to match timestamptz precision.
func nowUTC() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
