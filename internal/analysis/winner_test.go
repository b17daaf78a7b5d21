package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/model-bridge/backend/internal/storage/models"
)

func withMetric(variant string, rate float64, metric string, mean float64) VariantSummary {
	return VariantSummary{
		Variant:     variant,
		SuccessRate: rate,
		Metrics:     map[string]MetricStats{metric: {Mean: mean, Count: 1}},
	}
}

func bare(variant string, rate float64) VariantSummary {
	return VariantSummary{Variant: variant, SuccessRate: rate, Metrics: map[string]MetricStats{}}
}

func TestSelectWinner(t *testing.T) {
	tests := []struct {
		name      string
		summaries Summaries
		testType  models.TestType
		want      string
		wantOK    bool
	}{
		{
			name:      "empty",
			summaries: Summaries{},
			testType:  models.TestTypeModelComparison,
		},
		{
			name: "cost optimization picks cheapest",
			summaries: Summaries{
				withMetric("A", 1, "cost", 0.02),
				withMetric("B", 0, "cost", 0.01),
			},
			testType: models.TestTypeCostOptimization,
			want:     "B",
			wantOK:   true,
		},
		{
			name: "cost optimization never picks a variant without cost",
			summaries: Summaries{
				bare("free", 1),
				withMetric("paid", 0.5, "cost", 5),
			},
			testType: models.TestTypeCostOptimization,
			want:     "paid",
			wantOK:   true,
		},
		{
			name:      "cost optimization without any cost data",
			summaries: Summaries{bare("A", 1), bare("B", 0.5)},
			testType:  models.TestTypeCostOptimization,
		},
		{
			name: "model comparison maximizes quality",
			summaries: Summaries{
				withMetric("A", 1, "quality_score", 0.7),
				withMetric("B", 0.2, "quality_score", 0.9),
			},
			testType: models.TestTypeModelComparison,
			want:     "B",
			wantOK:   true,
		},
		{
			name: "model comparison treats missing quality as zero",
			summaries: Summaries{
				bare("A", 1),
				withMetric("B", 0, "quality_score", -1),
			},
			testType: models.TestTypeModelComparison,
			want:     "A",
			wantOK:   true,
		},
		{
			name: "provider comparison balances rate and latency",
			summaries: Summaries{
				withMetric("slow", 1.0, "response_time", 400),
				withMetric("fast", 0.8, "response_time", 100),
			},
			testType: models.TestTypeProviderComparison,
			want:     "fast",
			wantOK:   true,
		},
		{
			name: "provider comparison clamps latency at one",
			summaries: Summaries{
				withMetric("A", 0.5, "response_time", 0.1),
				withMetric("B", 0.6, "response_time", 0.5),
			},
			testType: models.TestTypeProviderComparison,
			want:     "B",
			wantOK:   true,
		},
		{
			name: "provider comparison scores missing latency as zero",
			summaries: Summaries{
				bare("A", 1),
				withMetric("B", 0.01, "response_time", 1000),
			},
			testType: models.TestTypeProviderComparison,
			want:     "B",
			wantOK:   true,
		},
		{
			name:      "quality assessment uses success rate",
			summaries: Summaries{bare("A", 0.3), bare("B", 0.6)},
			testType:  models.TestTypeQualityAssessment,
			want:      "B",
			wantOK:    true,
		},
		{
			name:      "unknown type uses success rate",
			summaries: Summaries{bare("A", 0.3), bare("B", 0.6)},
			testType:  models.TestType("latency_shootout"),
			want:      "B",
			wantOK:    true,
		},
		{
			name:      "ties go to the first variant",
			summaries: Summaries{bare("first", 0.5), bare("second", 0.5)},
			testType:  models.TestTypeGeneric,
			want:      "first",
			wantOK:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := SelectWinner(tt.summaries, tt.testType)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
