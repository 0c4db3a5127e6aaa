package database

import "testing"

func TestParsePool(t *testing.T) {
	tests := []struct {
		input   string
		want    Pool
		wantErr bool
	}{
		{"missing", PoolMissing, false},
		{"Registered", PoolMissing, false},
		{"sighting", PoolSighting, false},
		{"public", PoolSighting, false},
		{" sightings ", PoolSighting, false},
		{"", "", true},
		{"cctv", "", true},
	}

	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			got, err := ParsePool(tc.input)
			if (err != nil) != tc.wantErr {
				t.Fatalf("ParsePool(%q) error = %v, wantErr %v", tc.input, err, tc.wantErr)
			}
			if got != tc.want {
				t.Errorf("ParsePool(%q) = %q, want %q", tc.input, got, tc.want)
			}
		})
	}
}

func TestPoolOpposite(t *testing.T) {
	if PoolMissing.Opposite() != PoolSighting {
		t.Errorf("expected sighting, got %q", PoolMissing.Opposite())
	}
	if PoolSighting.Opposite() != PoolMissing {
		t.Errorf("expected missing, got %q", PoolSighting.Opposite())
	}
}

func TestParseTier(t *testing.T) {
	if tier, err := ParseTier("STRONG"); err != nil || tier != TierStrong {
		t.Errorf("ParseTier(STRONG) = %q, %v", tier, err)
	}
	if tier, err := ParseTier("potential"); err != nil || tier != TierPotential {
		t.Errorf("ParseTier(potential) = %q, %v", tier, err)
	}
	if _, err := ParseTier("maybe"); err == nil {
		t.Error("expected error for unknown tier")
	}
}

func TestEmbeddingRecordIsMatchable(t *testing.T) {
	tests := []struct {
		name string
		rec  EmbeddingRecord
		want bool
	}{
		{"valid active", EmbeddingRecord{Valid: true, Lifecycle: LifecycleActive}, true},
		{"invalid active", EmbeddingRecord{Valid: false, Lifecycle: LifecycleActive}, false},
		{"valid resolved", EmbeddingRecord{Valid: true, Lifecycle: LifecycleResolved}, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.rec.IsMatchable(); got != tc.want {
				t.Errorf("IsMatchable() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestMatchCandidatePartnerID(t *testing.T) {
	c := MatchCandidate{MissingID: "m1", SightingID: "s1"}
	if c.PartnerID(PoolMissing) != "m1" || c.PartnerID(PoolSighting) != "s1" {
		t.Errorf("unexpected partner ids: %q %q", c.PartnerID(PoolMissing), c.PartnerID(PoolSighting))
	}
	if c.PairKey() != "m1/s1" {
		t.Errorf("unexpected pair key %q", c.PairKey())
	}
}
