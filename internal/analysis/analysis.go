package analysis

import (
	"fmt"

	"github.com/model-bridge/backend/internal/storage/models"
)

type Result struct {
	ExperimentID       string                    `json:"test_id"`
	TestType           models.TestType           `json:"test_type"`
	Status             models.ExperimentStatus   `json:"status"`
	TotalObservations  int                       `json:"total_observations"`
	Threshold          float64                   `json:"statistical_significance"`
	SignificanceMethod models.SignificanceMethod `json:"significance_method"`
	Summaries          Summaries                 `json:"variants"`
	Comparisons        Comparisons               `json:"comparisons"`
	Winner             *string                   `json:"winner"`
	Recommendation     string                    `json:"recommendation"`
}

func (r *Result) HasWinner() bool {
	return r.Winner != nil
}

func (r *Result) SignificantFor(variant string) bool {
	for _, cmp := range r.Comparisons {
		if cmp.Significant && cmp.Involves(variant) {
			return true
		}
	}
	return false
}

// Analyze runs aggregation, comparison and winner selection over a snapshot
// of an experiment's observations. The output carries no timestamps, so the
// same snapshot always produces the same result.
func Analyze(exp *models.Experiment, observations []models.Observation) *Result {
	threshold := exp.SignificanceThreshold
	if threshold <= 0 {
		threshold = DefaultSignificance
	}
	method := exp.SignificanceMethod
	if method == "" {
		method = models.MethodThreshold
	}

	summaries := Summarize(observations, exp.SuccessMetrics)

	result := &Result{
		ExperimentID:       exp.ID,
		TestType:           exp.TestType,
		Status:             exp.Status,
		TotalObservations:  len(observations),
		Threshold:          threshold,
		SignificanceMethod: method,
		Summaries:          summaries,
		Comparisons:        CompareWith(summaries, threshold, method),
	}

	if winner, ok := SelectWinner(summaries, exp.TestType); ok {
		result.Winner = &winner
	}
	result.Recommendation = recommend(result)

	return result
}

func recommend(r *Result) string {
	if r.TotalObservations == 0 {
		return "Insufficient data: no observations recorded yet"
	}
	if !r.HasWinner() {
		return fmt.Sprintf("Continue collecting data: no variant qualifies as winner for %s", r.TestType)
	}
	if r.SignificantFor(*r.Winner) {
		return fmt.Sprintf("Adopt variant %q: it leads on %s and differs significantly from at least one other variant", *r.Winner, r.TestType)
	}
	return fmt.Sprintf("Continue collecting data: variant %q leads but no difference is significant yet", *r.Winner)
}
