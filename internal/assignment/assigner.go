// Package assignment maps subjects to experiment variants deterministically.
package assignment

import (
	"fmt"
	"math"

	"github.com/model-bridge/backend/internal/storage/models"
	apperrors "github.com/model-bridge/backend/pkg/errors"
	"github.com/model-bridge/backend/pkg/utils"
)

const DefaultTolerance = 0.01

// Fraction returns the subject's stable position in [0, 1) for an experiment.
func Fraction(experimentID, subjectID string) float64 {
	return utils.BucketFraction(utils.CompositeKey(experimentID, subjectID))
}

// Assign picks the variant for subjectID. The split is walked in order and the
// first variant whose cumulative share reaches the subject's fraction wins. If
// float drift leaves the fraction uncovered, the last variant is used.
func Assign(experimentID string, split models.TrafficSplit, subjectID string) (string, error) {
	if len(split) == 0 {
		return "", apperrors.InvalidConfiguration("traffic split is empty", map[string]interface{}{
			"experiment_id": experimentID,
		})
	}

	fraction := Fraction(experimentID, subjectID)

	var cumulative float64
	for _, entry := range split {
		cumulative += entry.Weight
		if cumulative >= fraction {
			return entry.Variant, nil
		}
	}

	return split[len(split)-1].Variant, nil
}

// ValidateSplit checks the creation-time invariants: a non-empty split with
// non-negative weights summing to 1.0 within tolerance, whose keys match the
// variant keys exactly.
func ValidateSplit(variants models.Variants, split models.TrafficSplit, tolerance float64) error {
	if len(variants) == 0 {
		return apperrors.InvalidConfiguration("experiment has no variants", nil)
	}
	if len(split) == 0 {
		return apperrors.InvalidConfiguration("traffic split is empty", nil)
	}
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}

	variantKeys := make(map[string]bool, len(variants))
	for _, v := range variants {
		if v.Key == "" {
			return apperrors.InvalidConfiguration("variant key must not be empty", nil)
		}
		if variantKeys[v.Key] {
			return apperrors.InvalidConfiguration(fmt.Sprintf("duplicate variant %q", v.Key), nil)
		}
		variantKeys[v.Key] = true
	}

	splitKeys := make(map[string]bool, len(split))
	for _, entry := range split {
		if splitKeys[entry.Variant] {
			return apperrors.InvalidConfiguration(fmt.Sprintf("duplicate traffic split entry %q", entry.Variant), nil)
		}
		splitKeys[entry.Variant] = true

		if math.IsNaN(entry.Weight) || math.IsInf(entry.Weight, 0) || entry.Weight < 0 {
			return apperrors.InvalidConfiguration("traffic split weights must be non-negative numbers", map[string]interface{}{
				"variant": entry.Variant,
				"weight":  entry.Weight,
			})
		}
		if !variantKeys[entry.Variant] {
			return apperrors.InvalidConfiguration("traffic split references unknown variant", map[string]interface{}{
				"variant": entry.Variant,
			})
		}
	}

	var missing []string
	for _, v := range variants {
		if !splitKeys[v.Key] {
			missing = append(missing, v.Key)
		}
	}
	if len(missing) > 0 {
		return apperrors.InvalidConfiguration("traffic split keys must match variant keys", map[string]interface{}{
			"missing": missing,
		})
	}

	total := split.Total()
	if math.Abs(total-1.0) > tolerance {
		return apperrors.InvalidConfiguration("traffic split must sum to 1.0", map[string]interface{}{
			"total":     total,
			"tolerance": tolerance,
		})
	}

	return nil
}
