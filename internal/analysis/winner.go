package analysis

import (
	"math"

	"github.com/model-bridge/backend/internal/storage/models"
)

// SelectWinner picks the best variant for the test type's objective. Ties go
// to the variant that appears first.
func SelectWinner(summaries Summaries, testType models.TestType) (string, bool) {
	if len(summaries) == 0 {
		return "", false
	}

	switch testType {
	case models.TestTypeModelComparison:
		return best(summaries, func(s VariantSummary) float64 {
			mean, ok := s.MetricMean(models.MetricQualityScore)
			if !ok {
				return 0
			}
			return mean
		})

	case models.TestTypeCostOptimization:
		winner, cost := lowest(summaries, func(s VariantSummary) float64 {
			mean, ok := s.MetricMean(models.MetricCost)
			if !ok {
				return math.Inf(1)
			}
			return mean
		})
		if math.IsInf(cost, 1) {
			return "", false
		}
		return winner, true

	case models.TestTypeProviderComparison:
		return best(summaries, func(s VariantSummary) float64 {
			rt, ok := s.MetricMean(models.MetricResponseTime)
			if !ok {
				rt = math.Inf(1)
			}
			return s.SuccessRate / math.Max(rt, 1)
		})

	case models.TestTypeQualityAssessment, models.TestTypeGeneric:
		return best(summaries, successRate)

	default:
		return best(summaries, successRate)
	}
}

func successRate(s VariantSummary) float64 {
	return s.SuccessRate
}

func best(summaries Summaries, score func(VariantSummary) float64) (string, bool) {
	winner := summaries[0].Variant
	top := score(summaries[0])
	for _, s := range summaries[1:] {
		if v := score(s); v > top {
			winner, top = s.Variant, v
		}
	}
	return winner, true
}

func lowest(summaries Summaries, score func(VariantSummary) float64) (string, float64) {
	winner := summaries[0].Variant
	low := score(summaries[0])
	for _, s := range summaries[1:] {
		if v := score(s); v < low {
			winner, low = s.Variant, v
		}
	}
	return winner, low
}
