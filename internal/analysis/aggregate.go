package analysis

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/model-bridge/backend/internal/storage/models"
	"github.com/model-bridge/backend/pkg/utils"
)

type MetricStats struct {
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	StdDev float64 `json:"std_dev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Count  int     `json:"count"`
}

type VariantSummary struct {
	Variant     string                 `json:"-"`
	Count       int                    `json:"count"`
	Successes   int                    `json:"successes"`
	SuccessRate float64                `json:"success_rate"`
	Metrics     map[string]MetricStats `json:"metrics"`
}

func (s VariantSummary) MetricMean(name string) (float64, bool) {
	m, ok := s.Metrics[name]
	if !ok {
		return 0, false
	}
	return m.Mean, true
}

type Summaries []VariantSummary

func (s Summaries) Get(variant string) (VariantSummary, bool) {
	for _, summary := range s {
		if summary.Variant == variant {
			return summary, true
		}
	}
	return VariantSummary{}, false
}

func (s Summaries) Variants() []string {
	keys := make([]string, len(s))
	for i, summary := range s {
		keys[i] = summary.Variant
	}
	return keys
}

func (s Summaries) MarshalJSON() ([]byte, error) {
	var b utils.ObjectBuilder
	for _, summary := range s {
		b.Add(summary.Variant, summary)
	}
	return b.Bytes()
}

// Summarize groups observations by variant and computes the success rate and
// descriptive statistics for each named metric. Variants without observations
// and metrics without values are left out rather than zero-filled.
func Summarize(observations []models.Observation, metricNames []string) Summaries {
	var order []string
	groups := make(map[string][]int)
	for i, obs := range observations {
		if _, seen := groups[obs.Variant]; !seen {
			order = append(order, obs.Variant)
		}
		groups[obs.Variant] = append(groups[obs.Variant], i)
	}

	summaries := make(Summaries, 0, len(order))
	for _, variant := range order {
		idx := groups[variant]

		summary := VariantSummary{
			Variant: variant,
			Count:   len(idx),
			Metrics: make(map[string]MetricStats),
		}
		for _, i := range idx {
			if observations[i].Success {
				summary.Successes++
			}
		}
		summary.SuccessRate = float64(summary.Successes) / float64(summary.Count)

		for _, name := range metricNames {
			if _, done := summary.Metrics[name]; done {
				continue
			}
			values := make([]float64, 0, len(idx))
			for _, i := range idx {
				v, ok := observations[i].Metrics[name]
				if !ok || math.IsNaN(v) {
					continue
				}
				values = append(values, v)
			}
			if len(values) > 0 {
				summary.Metrics[name] = describe(values)
			}
		}

		summaries = append(summaries, summary)
	}

	return summaries
}

func describe(values []float64) MetricStats {
	n := len(values)

	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	median := sorted[n/2]
	if n%2 == 0 {
		median = (sorted[n/2-1] + sorted[n/2]) / 2
	}

	// sample standard deviation; a single value has no spread
	var stdDev float64
	if n > 1 {
		stdDev = stat.StdDev(values, nil)
	}

	return MetricStats{
		Mean:   stat.Mean(values, nil),
		Median: median,
		StdDev: stdDev,
		Min:    floats.Min(values),
		Max:    floats.Max(values),
		Count:  n,
	}
}
