package analysis

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/model-bridge/backend/internal/storage/models"
)

func costExperiment() *models.Experiment {
	return &models.Experiment{
		ID:                    "exp-1",
		TestType:              models.TestTypeCostOptimization,
		Status:                models.StatusActive,
		SuccessMetrics:        []string{"cost", "latency"},
		SignificanceThreshold: 0.05,
	}
}

func TestAnalyze(t *testing.T) {
	observations := []models.Observation{
		obs("A", true, map[string]float64{"cost": 0.02, "latency": 100}),
		obs("A", true, map[string]float64{"cost": 0.02, "latency": 120}),
		obs("B", false, map[string]float64{"cost": 0.01, "latency": 90}),
		obs("B", false, map[string]float64{"cost": 0.01}),
	}

	result := Analyze(costExperiment(), observations)

	assert.Equal(t, "exp-1", result.ExperimentID)
	assert.Equal(t, 4, result.TotalObservations)
	assert.Equal(t, models.MethodThreshold, result.SignificanceMethod)
	require.True(t, result.HasWinner())
	assert.Equal(t, "B", *result.Winner)

	b, _ := result.Summaries.Get("B")
	assert.Contains(t, b.Metrics, "cost")
	assert.Equal(t, 1, b.Metrics["latency"].Count)

	assert.True(t, result.SignificantFor("B"))
	assert.Contains(t, result.Recommendation, `Adopt variant "B"`)
}

func TestAnalyzeIsRepeatable(t *testing.T) {
	exp := costExperiment()
	observations := []models.Observation{
		obs("A", true, map[string]float64{"cost": 1.0, "latency": 3}),
		obs("A", false, map[string]float64{"cost": 3.0}),
		obs("B", true, map[string]float64{"cost": 2.0, "latency": 1}),
	}

	first, err := json.Marshal(Analyze(exp, observations))
	require.NoError(t, err)
	second, err := json.Marshal(Analyze(exp, observations))
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, RenderReport(Analyze(exp, observations)), RenderReport(Analyze(exp, observations)))
}

func TestAnalyzeRecommendations(t *testing.T) {
	exp := &models.Experiment{ID: "e", TestType: models.TestTypeGeneric}

	empty := Analyze(exp, nil)
	assert.False(t, empty.HasWinner())
	assert.Equal(t, DefaultSignificance, empty.Threshold)
	assert.Contains(t, empty.Recommendation, "Insufficient data")

	tied := Analyze(exp, []models.Observation{obs("A", true, nil), obs("B", true, nil)})
	require.True(t, tied.HasWinner())
	assert.Equal(t, "A", *tied.Winner)
	assert.Contains(t, tied.Recommendation, "Continue collecting data")

	noCost := Analyze(&models.Experiment{ID: "c", TestType: models.TestTypeCostOptimization},
		[]models.Observation{obs("A", true, nil)})
	assert.False(t, noCost.HasWinner())
	assert.Contains(t, noCost.Recommendation, "no variant qualifies")
}

func TestAnalyzeUsesSelectedMethod(t *testing.T) {
	exp := &models.Experiment{
		ID:                    "z",
		TestType:              models.TestTypeGeneric,
		SignificanceThreshold: 0.05,
		SignificanceMethod:    models.MethodTwoProportionZ,
	}
	result := Analyze(exp, []models.Observation{obs("A", true, nil), obs("B", false, nil)})

	cmp, ok := result.Comparisons.Get("A_vs_B")
	require.True(t, ok)
	require.NotNil(t, cmp.PValue)
	assert.False(t, cmp.Significant, "one observation per arm is never significant under the z-test")
}

func TestResultJSONShape(t *testing.T) {
	data, err := json.Marshal(Analyze(&models.Experiment{ID: "e", TestType: models.TestTypeGeneric}, nil))
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Nil(t, decoded["winner"])
	assert.Equal(t, map[string]interface{}{}, decoded["variants"])
	assert.Equal(t, map[string]interface{}{}, decoded["comparisons"])
}

func TestAnalyzeSummarizesOnlyDeclaredMetrics(t *testing.T) {
	exp := &models.Experiment{
		ID:             "m",
		TestType:       models.TestTypeModelComparison,
		SuccessMetrics: []string{"cost"},
	}
	result := Analyze(exp, []models.Observation{
		obs("A", true, map[string]float64{"quality_score": 0.2}),
		obs("B", true, map[string]float64{"quality_score": 0.9}),
	})

	a, ok := result.Summaries.Get("A")
	require.True(t, ok)
	assert.NotContains(t, a.Metrics, "quality_score")
	assert.Empty(t, a.Metrics)

	// undeclared quality_score scores every variant 0, so the first one wins the tie
	require.True(t, result.HasWinner())
	assert.Equal(t, "A", *result.Winner)
}
