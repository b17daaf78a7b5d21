package analysis

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/model-bridge/backend/internal/storage/models"
	"github.com/model-bridge/backend/pkg/utils"
)

const DefaultSignificance = 0.05

type Comparison struct {
	VariantA    string                    `json:"-"`
	VariantB    string                    `json:"-"`
	Method      models.SignificanceMethod `json:"-"`
	Significant bool                      `json:"significant"`
	Difference  float64                   `json:"difference"`
	RateA       float64                   `json:"rate_a"`
	RateB       float64                   `json:"rate_b"`
	PValue      *float64                  `json:"p_value,omitempty"`
	ZScore      *float64                  `json:"z_score,omitempty"`
}

func (c Comparison) Key() string {
	return c.VariantA + "_vs_" + c.VariantB
}

func (c Comparison) Involves(variant string) bool {
	return c.VariantA == variant || c.VariantB == variant
}

// Comparisons keeps pair order and encodes as a JSON object keyed by pair.
type Comparisons []Comparison

func (c Comparisons) Get(key string) (Comparison, bool) {
	for _, cmp := range c {
		if cmp.Key() == key {
			return cmp, true
		}
	}
	return Comparison{}, false
}

func (c Comparisons) MarshalJSON() ([]byte, error) {
	var b utils.ObjectBuilder
	for _, cmp := range c {
		b.Add(cmp.Key(), cmp)
	}
	return b.Bytes()
}

// Compare flags every unordered pair of variants whose success rates differ
// by more than threshold. This is a heuristic on the absolute difference in
// proportions, not a hypothesis test; CompareWith offers the z-test.
func Compare(summaries Summaries, threshold float64) Comparisons {
	return CompareWith(summaries, threshold, models.MethodThreshold)
}

// CompareWith runs the pairwise comparison with an explicit method. For
// MethodTwoProportionZ a pair is significant when the two-sided p-value of a
// pooled two-proportion z-test is below threshold. Unknown methods use the
// threshold heuristic.
func CompareWith(summaries Summaries, threshold float64, method models.SignificanceMethod) Comparisons {
	if len(summaries) < 2 {
		return Comparisons{}
	}

	out := make(Comparisons, 0, len(summaries)*(len(summaries)-1)/2)
	for i := 0; i < len(summaries); i++ {
		for j := i + 1; j < len(summaries); j++ {
			a, b := summaries[i], summaries[j]
			cmp := Comparison{
				VariantA:   a.Variant,
				VariantB:   b.Variant,
				Method:     models.MethodThreshold,
				Difference: math.Abs(a.SuccessRate - b.SuccessRate),
				RateA:      a.SuccessRate,
				RateB:      b.SuccessRate,
			}

			switch method {
			case models.MethodTwoProportionZ:
				z, p := twoProportionZ(a, b)
				cmp.Method = models.MethodTwoProportionZ
				cmp.ZScore = &z
				cmp.PValue = &p
				cmp.Significant = p < threshold
			default:
				cmp.Significant = cmp.Difference > threshold
			}

			out = append(out, cmp)
		}
	}

	return out
}

func twoProportionZ(a, b VariantSummary) (z, p float64) {
	if a.Count == 0 || b.Count == 0 {
		return 0, 1
	}

	pooled := float64(a.Successes+b.Successes) / float64(a.Count+b.Count)
	se := math.Sqrt(pooled * (1 - pooled) * (1/float64(a.Count) + 1/float64(b.Count)))
	if se == 0 {
		return 0, 1
	}

	z = (a.SuccessRate - b.SuccessRate) / se
	p = 2 * distuv.UnitNormal.Survival(math.Abs(z))
	return z, p
}
