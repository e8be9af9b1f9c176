// Package matcher provides the reconciliation engine that compares parsed
// statement transactions against the existing ledger for an account.
//
// Classification is exact: a candidate is a potential duplicate of an
// existing entry when both fall on the same calendar day and carry the same
// amount. Each candidate is matched against the first qualifying existing
// entry in reference order, so repeated analysis of the same inputs is
// deterministic. The similarity score is informational only.
//
// Example usage:
//
//	engine := matcher.NewMatchingEngine(nil, nil)
//	snapshot := engine.Analyze(candidates, existing, time.Now())
package matcher

import (
	"fmt"
	"time"
)

// SimilarityWeights defines the contribution of each equal field to the
// similarity score
type SimilarityWeights struct {
	DateWeight        float64 `json:"date_weight" mapstructure:"date_weight"`
	AmountWeight      float64 `json:"amount_weight" mapstructure:"amount_weight"`
	DescriptionWeight float64 `json:"description_weight" mapstructure:"description_weight"`
}

// MatchingConfig holds configuration parameters for duplicate detection
type MatchingConfig struct {
	// DateTolerance bounds the timestamp difference between duplicates.
	// Dates are normalized to calendar days, so with equal dates required
	// this only matters once sub-day precision is introduced.
	DateTolerance time.Duration `json:"date_tolerance" mapstructure:"date_tolerance"`

	// SampleSize caps each sample list in the analysis snapshot
	SampleSize int `json:"sample_size" mapstructure:"sample_size"`

	Weights SimilarityWeights `json:"weights" mapstructure:"weights"`
}

// DefaultMatchingConfig returns the standard configuration
func DefaultMatchingConfig() *MatchingConfig {
	return &MatchingConfig{
		DateTolerance: 24 * time.Hour,
		SampleSize:    5,
		Weights: SimilarityWeights{
			DateWeight:        0.4,
			AmountWeight:      0.4,
			DescriptionWeight: 0.2,
		},
	}
}

// Validate checks if the matching configuration is valid
func (mc *MatchingConfig) Validate() error {
	if mc.DateTolerance <= 0 {
		return fmt.Errorf("date tolerance must be positive: %s", mc.DateTolerance)
	}

	if mc.SampleSize < 0 {
		return fmt.Errorf("sample size cannot be negative: %d", mc.SampleSize)
	}

	if err := mc.Weights.Validate(); err != nil {
		return fmt.Errorf("invalid weights: %w", err)
	}

	return nil
}

// Validate checks that the weights are non-negative and sum to 1
func (w *SimilarityWeights) Validate() error {
	if w.DateWeight < 0 || w.AmountWeight < 0 || w.DescriptionWeight < 0 {
		return fmt.Errorf("weights cannot be negative: %+v", *w)
	}

	total := w.DateWeight + w.AmountWeight + w.DescriptionWeight
	if total < 0.999 || total > 1.001 {
		return fmt.Errorf("weights must sum to 1.0, got %f", total)
	}

	return nil
}

// Clone creates a copy of the matching configuration
func (mc *MatchingConfig) Clone() *MatchingConfig {
	if mc == nil {
		return nil
	}
	c := *mc
	return &c
}

// String returns a human-readable description of the configuration
func (mc *MatchingConfig) String() string {
	return fmt.Sprintf("MatchingConfig{DateTolerance: %s, SampleSize: %d, Weights: %.1f/%.1f/%.1f}",
		mc.DateTolerance, mc.SampleSize, mc.Weights.DateWeight, mc.Weights.AmountWeight, mc.Weights.DescriptionWeight)
}
