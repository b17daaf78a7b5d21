package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/model-bridge/backend/internal/storage/models"
)

func TestRenderReport(t *testing.T) {
	exp := &models.Experiment{
		ID:                    "exp-9",
		TestType:              models.TestTypeModelComparison,
		Status:                models.StatusStopped,
		SignificanceThreshold: 0.05,
		SignificanceMethod:    models.MethodTwoProportionZ,
		SuccessMetrics:        []string{"quality_score"},
	}
	result := Analyze(exp, []models.Observation{
		obs("gpt", true, map[string]float64{"quality_score": 0.9}),
		obs("claude", false, map[string]float64{"quality_score": 0.4}),
	})

	report := RenderReport(result)

	assert.Contains(t, report, "Test: exp-9 (model_comparison, stopped)")
	assert.Contains(t, report, "Total Observations: 2")
	assert.Contains(t, report, "Winner: gpt")
	assert.Contains(t, report, "- gpt: 1 observations, success rate 100.0%")
	assert.Contains(t, report, "quality_score: mean 0.9000")
	assert.Contains(t, report, "- gpt_vs_claude: 100.0% vs 0.0%")
	assert.Contains(t, report, "(p=")
	assert.Contains(t, report, "Recommendation: ")
}

func TestRenderReportWithoutData(t *testing.T) {
	report := RenderReport(Analyze(&models.Experiment{ID: "e", TestType: models.TestTypeGeneric}, nil))

	assert.Contains(t, report, "Winner: none")
	assert.Contains(t, report, "- no observations")
	assert.NotContains(t, report, "Comparisons:")
}
