package matching

import (
	"errors"
	"fmt"

	"github.com/kozaktomas/reunite/internal/constants"
	"github.com/kozaktomas/reunite/internal/database"
)

// Thresholds control which distances become candidates and how they are tiered.
type Thresholds struct {
	MaxDistance         float64 `json:"max_distance" yaml:"max_distance"`
	StrongConfidence    float64 `json:"strong_confidence" yaml:"strong_confidence"`
	PotentialConfidence float64 `json:"potential_confidence" yaml:"potential_confidence"`
}

// DefaultThresholds returns the stock 0.60 / 80% / 60% configuration.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MaxDistance:         constants.DefaultMaxDistance,
		StrongConfidence:    constants.DefaultStrongConfidence,
		PotentialConfidence: constants.DefaultPotentialConfidence,
	}
}

// WithMaxDistance returns a copy with MaxDistance replaced when d is positive.
func (t Thresholds) WithMaxDistance(d float64) Thresholds {
	if d > 0 {
		t.MaxDistance = d
	}
	return t
}

// Validate rejects thresholds that cannot produce a sensible tiering.
func (t Thresholds) Validate() error {
	if t.MaxDistance <= 0 || t.MaxDistance > 2 {
		return fmt.Errorf("max distance must be in (0, 2], got %v", t.MaxDistance)
	}
	if t.StrongConfidence < 0 || t.StrongConfidence > 100 {
		return fmt.Errorf("strong confidence must be in [0, 100], got %v", t.StrongConfidence)
	}
	if t.PotentialConfidence < 0 || t.PotentialConfidence > 100 {
		return fmt.Errorf("potential confidence must be in [0, 100], got %v", t.PotentialConfidence)
	}
	if t.PotentialConfidence > t.StrongConfidence {
		return errors.New("potential confidence must not exceed strong confidence")
	}
	return nil
}

// TierFor buckets a confidence percentage.
func (t Thresholds) TierFor(confidence float64) database.Tier {
	switch {
	case confidence >= t.StrongConfidence:
		return database.TierStrong
	case confidence >= t.PotentialConfidence:
		return database.TierPotential
	default:
		return database.TierRejected
	}
}
