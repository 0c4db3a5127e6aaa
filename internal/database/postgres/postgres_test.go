//go:build integration

package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/kozaktomas/reunite/internal/config"
	"github.com/kozaktomas/reunite/internal/database"
)

func setupTestContainer(t *testing.T) (*Pool, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "pgvector/pgvector:pg16",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("Docker not available or container failed to start, skipping integration test: %v", err)
		return nil, func() {}
	}
	if container == nil {
		t.Skip("Docker not available, skipping integration test")
		return nil, func() {}
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	dbURL := fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port())

	cfg := &config.DatabaseConfig{
		URL:          dbURL,
		MaxOpenConns: 5,
		MaxIdleConns: 2,
	}

	pool, err := Open(ctx, cfg)
	if err != nil {
		container.Terminate(ctx)
		t.Fatalf("Failed to open database: %v", err)
	}

	cleanup := func() {
		pool.Close()
		container.Terminate(ctx)
	}

	return pool, cleanup
}

func newRecord(pool database.Pool, vec []float32, label string) *database.EmbeddingRecord {
	return &database.EmbeddingRecord{
		ID:        uuid.NewString(),
		Pool:      pool,
		Vector:    vec,
		Valid:     len(vec) > 0,
		Lifecycle: database.LifecycleActive,
		Label:     label,
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
}

func candidateFor(m, s *database.EmbeddingRecord, distance float64, tier database.Tier) database.MatchCandidate {
	now := time.Now().UTC()
	return database.MatchCandidate{
		MissingID:  m.ID,
		SightingID: s.ID,
		Distance:   distance,
		Confidence: (1 - distance) * 100,
		Tier:       tier,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func mustSave(t *testing.T, repo *Repository, recs ...*database.EmbeddingRecord) {
	t.Helper()
	for _, rec := range recs {
		if err := repo.SaveRecord(context.Background(), rec); err != nil {
			t.Fatalf("SaveRecord(%s): %v", rec.ID, err)
		}
	}
}

func TestRecords(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()
	repo := NewRepository(pool)

	t.Run("SaveAndGet", func(t *testing.T) {
		vec := make([]float32, 512)
		for i := range vec {
			vec[i] = float32(i) / 512.0
		}
		rec := newRecord(database.PoolMissing, vec, "Jiří Novák")
		rec.Location = "Brno"
		mustSave(t, repo, rec)

		got, err := repo.GetRecord(ctx, rec.ID)
		if err != nil {
			t.Fatalf("GetRecord: %v", err)
		}
		if got == nil {
			t.Fatal("Expected record, got nil")
		}
		if got.Pool != database.PoolMissing || got.Label != "Jiří Novák" || got.Location != "Brno" {
			t.Errorf("unexpected record %+v", got)
		}
		if len(got.Vector) != 512 || got.Vector[511] != vec[511] {
			t.Errorf("vector not round-tripped")
		}
		if !got.Valid || got.Lifecycle != database.LifecycleActive || got.LinkedID != "" || got.ResolvedAt != nil {
			t.Errorf("unexpected state %+v", got)
		}
	})

	t.Run("InvalidWithoutVector", func(t *testing.T) {
		rec := newRecord(database.PoolSighting, nil, "blurry")
		mustSave(t, repo, rec)

		got, err := repo.GetRecord(ctx, rec.ID)
		if err != nil {
			t.Fatalf("GetRecord: %v", err)
		}
		if got.Valid || got.Vector != nil || got.Pool != database.PoolSighting {
			t.Errorf("unexpected record %+v", got)
		}
	})

	t.Run("GetUnknown", func(t *testing.T) {
		got, err := repo.GetRecord(ctx, uuid.NewString())
		if err != nil {
			t.Fatalf("GetRecord: %v", err)
		}
		if got != nil {
			t.Errorf("expected nil, got %+v", got)
		}
	})

	t.Run("ListRecordsSearch", func(t *testing.T) {
		recs, err := repo.ListRecords(ctx, database.RecordFilter{Pool: database.PoolMissing, Query: "jiri-novak"})
		if err != nil {
			t.Fatalf("ListRecords: %v", err)
		}
		if len(recs) != 1 || recs[0].Label != "Jiří Novák" {
			t.Fatalf("expected one match, got %+v", recs)
		}
		if recs[0].Vector != nil {
			t.Error("listing must not load vectors")
		}
	})

	t.Run("Degenerate", func(t *testing.T) {
		zero := newRecord(database.PoolSighting, make([]float32, 4), "zero")
		zero.Valid = true
		tiny := newRecord(database.PoolSighting, []float32{1e-7, 0, 0, 0}, "tiny")
		mustSave(t, repo, zero, tiny)

		recs, err := repo.ListDegenerate(ctx, database.PoolSighting)
		if err != nil {
			t.Fatalf("ListDegenerate: %v", err)
		}
		found := map[string]bool{}
		for _, rec := range recs {
			found[rec.ID] = true
		}
		if len(recs) != 2 || !found[zero.ID] || !found[tiny.ID] {
			t.Errorf("expected the zero and near-zero records, got %+v", recs)
		}
	})
}

func TestCandidatesAndConfirm(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()
	repo := NewRepository(pool)

	m1 := newRecord(database.PoolMissing, []float32{1, 0, 0}, "M1")
	m2 := newRecord(database.PoolMissing, []float32{0, 1, 0}, "M2")
	s1 := newRecord(database.PoolSighting, []float32{1, 0, 0}, "S1")
	s2 := newRecord(database.PoolSighting, []float32{0.9, 0.1, 0}, "S2")
	mustSave(t, repo, m1, m2, s1, s2)

	t.Run("UpsertIsIdempotent", func(t *testing.T) {
		c := candidateFor(m1, s1, 0.01, database.TierStrong)
		for range 2 {
			ok, err := repo.UpsertCandidate(ctx, c)
			if err != nil || !ok {
				t.Fatalf("UpsertCandidate: ok=%v err=%v", ok, err)
			}
		}
		c.Distance = 0.02
		if _, err := repo.UpsertCandidate(ctx, c); err != nil {
			t.Fatalf("UpsertCandidate: %v", err)
		}

		list, err := repo.ListCandidates(ctx, database.CandidateFilter{})
		if err != nil {
			t.Fatalf("ListCandidates: %v", err)
		}
		if len(list) != 1 || list[0].Distance != 0.02 {
			t.Errorf("expected one refreshed candidate, got %+v", list)
		}
	})

	t.Run("ListFilters", func(t *testing.T) {
		for _, c := range []database.MatchCandidate{
			candidateFor(m1, s2, 0.3, database.TierPotential),
			candidateFor(m2, s2, 0.1, database.TierStrong),
		} {
			if _, err := repo.UpsertCandidate(ctx, c); err != nil {
				t.Fatalf("UpsertCandidate: %v", err)
			}
		}

		strong, err := repo.ListCandidates(ctx, database.CandidateFilter{Tier: database.TierStrong})
		if err != nil {
			t.Fatalf("ListCandidates: %v", err)
		}
		if len(strong) != 2 {
			t.Errorf("expected 2 strong, got %d", len(strong))
		}

		forS2, err := repo.ListCandidates(ctx, database.CandidateFilter{Pool: database.PoolSighting, RecordID: s2.ID})
		if err != nil {
			t.Fatalf("ListCandidates: %v", err)
		}
		if len(forS2) != 2 || forS2[0].MissingID != m2.ID {
			t.Errorf("expected m2 first for s2, got %+v", forS2)
		}
	})

	t.Run("ConfirmPreconditions", func(t *testing.T) {
		if err := repo.Confirm(ctx, uuid.NewString(), s1.ID); !errors.Is(err, database.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
		if err := repo.Confirm(ctx, m2.ID, s1.ID); !errors.Is(err, database.ErrNoSuchCandidate) {
			t.Errorf("expected ErrNoSuchCandidate, got %v", err)
		}
	})

	t.Run("Confirm", func(t *testing.T) {
		if err := repo.Confirm(ctx, m1.ID, s1.ID); err != nil {
			t.Fatalf("Confirm: %v", err)
		}

		gotM, _ := repo.GetRecord(ctx, m1.ID)
		gotS, _ := repo.GetRecord(ctx, s1.ID)
		if gotM.Lifecycle != database.LifecycleResolved || gotM.LinkedID != s1.ID || gotM.ResolvedAt == nil {
			t.Errorf("missing side not resolved: %+v", gotM)
		}
		if gotS.Lifecycle != database.LifecycleResolved || gotS.LinkedID != m1.ID {
			t.Errorf("sighting side not resolved: %+v", gotS)
		}

		c, _ := repo.GetCandidate(ctx, m1.ID, s1.ID)
		if c == nil || !c.Reviewed {
			t.Errorf("candidate not marked reviewed: %+v", c)
		}

		if err := repo.Confirm(ctx, m1.ID, s1.ID); !errors.Is(err, database.ErrAlreadyResolved) {
			t.Errorf("expected ErrAlreadyResolved, got %v", err)
		}

		// Resolved records drop out of listings and reject new candidates.
		list, _ := repo.ListCandidates(ctx, database.CandidateFilter{})
		for _, c := range list {
			if c.MissingID == m1.ID {
				t.Errorf("resolved record still listed: %+v", c)
			}
		}
		ok, err := repo.UpsertCandidate(ctx, candidateFor(m1, s2, 0.2, database.TierStrong))
		if err != nil || ok {
			t.Errorf("expected skipped upsert, ok=%v err=%v", ok, err)
		}
	})

	t.Run("Invalidate", func(t *testing.T) {
		if err := repo.InvalidateRecord(ctx, s2.ID); err != nil {
			t.Fatalf("InvalidateRecord: %v", err)
		}
		got, _ := repo.GetRecord(ctx, s2.ID)
		if got == nil || got.Valid {
			t.Errorf("expected record kept and invalid, got %+v", got)
		}
		if c, _ := repo.GetCandidate(ctx, m2.ID, s2.ID); c != nil {
			t.Errorf("candidate should be deleted, got %+v", c)
		}
		if err := repo.InvalidateRecord(ctx, m1.ID); !errors.Is(err, database.ErrAlreadyResolved) {
			t.Errorf("expected ErrAlreadyResolved, got %v", err)
		}
		if err := repo.InvalidateRecord(ctx, uuid.NewString()); !errors.Is(err, database.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("Stats", func(t *testing.T) {
		st, err := repo.Stats(ctx)
		if err != nil {
			t.Fatalf("Stats: %v", err)
		}
		if st.Missing.Total != 2 || st.Missing.Resolved != 1 || st.Sightings.Invalid != 1 {
			t.Errorf("unexpected stats %+v", st)
		}
		if st.ConfirmedPairs != 1 {
			t.Errorf("expected 1 confirmed pair, got %d", st.ConfirmedPairs)
		}
	})
}

func TestConfirmRace(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()
	repo := NewRepository(pool)

	m := newRecord(database.PoolMissing, []float32{1, 0}, "M")
	s1 := newRecord(database.PoolSighting, []float32{1, 0}, "S1")
	s2 := newRecord(database.PoolSighting, []float32{1, 0.01}, "S2")
	mustSave(t, repo, m, s1, s2)
	for _, s := range []*database.EmbeddingRecord{s1, s2} {
		if _, err := repo.UpsertCandidate(ctx, candidateFor(m, s, 0.01, database.TierStrong)); err != nil {
			t.Fatalf("UpsertCandidate: %v", err)
		}
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, s := range []*database.EmbeddingRecord{s1, s2} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = repo.Confirm(ctx, m.ID, s.ID)
		}()
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case !errors.Is(err, database.ErrAlreadyResolved):
			t.Errorf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Errorf("expected exactly one confirm to win, got %d", succeeded)
	}
}

func TestConfirmRollsBackOnFailure(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()
	repo := NewRepository(pool)

	m := newRecord(database.PoolMissing, []float32{1, 0}, "M")
	s := newRecord(database.PoolSighting, []float32{1, 0}, "S")
	mustSave(t, repo, m, s)
	if _, err := repo.UpsertCandidate(ctx, candidateFor(m, s, 0.01, database.TierStrong)); err != nil {
		t.Fatalf("UpsertCandidate: %v", err)
	}

	// Fail the sighting update, after the missing person row was already written.
	_, err := pool.Exec(ctx, `
		CREATE FUNCTION reject_sighting_resolve() RETURNS trigger AS $$
		BEGIN
			RAISE EXCEPTION 'sighting resolve rejected';
		END;
		$$ LANGUAGE plpgsql;
		CREATE TRIGGER reject_sighting_resolve BEFORE UPDATE ON sightings
			FOR EACH ROW WHEN (NEW.lifecycle = 'resolved') EXECUTE FUNCTION reject_sighting_resolve();
	`)
	if err != nil {
		t.Fatalf("create trigger: %v", err)
	}

	if err := repo.Confirm(ctx, m.ID, s.ID); err == nil {
		t.Fatal("expected confirm to fail")
	}

	for _, id := range []string{m.ID, s.ID} {
		got, err := repo.GetRecord(ctx, id)
		if err != nil || got == nil {
			t.Fatalf("GetRecord(%s): %v", id, err)
		}
		if got.Lifecycle != database.LifecycleActive || got.LinkedID != "" || got.ResolvedAt != nil {
			t.Errorf("%s partially resolved: %+v", got.Pool, got)
		}
	}
	c, _ := repo.GetCandidate(ctx, m.ID, s.ID)
	if c == nil || c.Reviewed {
		t.Errorf("candidate changed by failed confirm: %+v", c)
	}

	if _, err := pool.Exec(ctx, "DROP TRIGGER reject_sighting_resolve ON sightings"); err != nil {
		t.Fatalf("drop trigger: %v", err)
	}
	if err := repo.Confirm(ctx, m.ID, s.ID); err != nil {
		t.Errorf("Confirm after failure: %v", err)
	}
}

func TestMigrations(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()

	applied, err := pool.MigrationsApplied(ctx)
	if err != nil {
		t.Fatalf("MigrationsApplied: %v", err)
	}
	if len(applied) == 0 {
		t.Fatal("expected applied migrations")
	}

	again, err := pool.Migrate(ctx)
	if err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("expected no pending migrations, got %v", again)
	}
}
